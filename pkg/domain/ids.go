package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "certbridge/pkg/domain-errors"
)

// BatchID identifies a submitted batch. Format: BATCH_<unix-ms>_<suffix>.
// Historical payloads may carry ids in other formats; those are accepted
// verbatim as long as they are non-empty.
type BatchID string

// MessageID is the bus-assigned identifier of a private message.
type MessageID string

// StudentID identifies a student within a batch.
type StudentID string

const (
	batchIDPrefix    = "BATCH_"
	batchSuffixChars = 9
)

// batchIDNamespace scopes deterministic batch ids derived from message ids.
var batchIDNamespace = uuid.MustParse("6f1c8e3a-2b4d-5e6f-8a9b-0c1d2e3f4a5b")

// NewBatchID allocates a fresh batch id at submission time.
func NewBatchID(now time.Time) BatchID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:batchSuffixChars]
	return BatchID(fmt.Sprintf("%s%d_%s", batchIDPrefix, now.UnixMilli(), suffix))
}

// DeriveBatchID builds a stable id for a submission payload that arrived
// without one. The same message always yields the same id, so replays of the
// bus reconcile onto the same projection.
func DeriveBatchID(msgID MessageID, createdAt time.Time) BatchID {
	suffix := strings.ReplaceAll(uuid.NewSHA1(batchIDNamespace, []byte(msgID)).String(), "-", "")[:batchSuffixChars]
	return BatchID(fmt.Sprintf("%s%d_%s", batchIDPrefix, createdAt.UnixMilli(), suffix))
}

// ParseBatchID validates a batch id taken from external input.
func ParseBatchID(s string) (BatchID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "batch id required")
	}
	return BatchID(s), nil
}

func (id BatchID) String() string { return string(id) }

func (id BatchID) IsNil() bool { return id == "" }

func (id MessageID) String() string { return string(id) }

func (id StudentID) String() string { return string(id) }
