// Package decoder turns raw bus messages into typed batch events.
//
// Classification is content based. The transport's "local" flag is carried
// on the envelope but never consulted: historical traffic shows it is
// unreliable in both directions. Every recognised wire shape is resolved here
// into one canonical event so downstream code never branches on raw shape.
package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"certbridge/internal/batch/models"
	"certbridge/internal/batch/wire"
	"certbridge/internal/bus"
	id "certbridge/pkg/domain"
	"certbridge/pkg/platform/sentinel"
)

// Kind tags a decoded event.
type Kind string

const (
	KindSubmission Kind = "batch_submitted"
	KindIssuance   Kind = "certificates_issued"
	KindUnknown    Kind = "unknown"
)

// Shape names the wire shape a submission was recovered from.
type Shape string

const (
	ShapeNested       Shape = "nested_batch"
	ShapeFlatMetadata Shape = "flat_metadata"
	ShapeFlatBatchID  Shape = "flat_batch_id"
)

// Event is the tagged union produced by Decode. Exactly one of Submission
// and Issuance is set unless Kind is KindUnknown.
type Event struct {
	Kind       Kind
	MessageID  id.MessageID
	OccurredAt time.Time
	Shape      Shape
	Submission *models.SubmissionEvent
	Issuance   *models.IssuanceEvent
}

// BatchID returns the batch the event refers to.
func (e Event) BatchID() id.BatchID {
	switch {
	case e.Submission != nil:
		return e.Submission.BatchID
	case e.Issuance != nil:
		return e.Issuance.BatchID
	default:
		return ""
	}
}

// Failure reasons recorded on DecodeError.
const (
	ReasonInvalidJSON   = "invalid_json"
	ReasonMissingField  = "missing_field"
	ReasonFetchFailed   = "fetch_failed"
	ReasonFetchTimedOut = "fetch_timed_out"
	ReasonNoPayload     = "no_payload"
)

// DecodeError describes why one message could not be decoded. It is
// recorded and the message skipped; it never aborts a reconciliation pass.
type DecodeError struct {
	MessageID id.MessageID `json:"message_id"`
	Reason    string       `json:"reason"`
	Detail    string       `json:"detail"`
	Err       error        `json:"-"`
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message %s: %s: %s", e.MessageID, e.Reason, e.Detail)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder classifies payloads. Issuer and Receiver, when set, are the
// expected "from" and "to" of issuance payloads; others are ignored.
type Decoder struct {
	issuer   string
	receiver string
	logger   *slog.Logger
}

// Option configures the Decoder.
type Option func(*Decoder)

// WithRouting sets the expected issuer/receiver pair.
func WithRouting(issuer, receiver string) Option {
	return func(d *Decoder) {
		d.issuer = strings.TrimSpace(issuer)
		d.receiver = strings.TrimSpace(receiver)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// New creates a Decoder.
func New(opts ...Option) *Decoder {
	d := &Decoder{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode classifies one message. The first payload that yields a submission
// or issuance wins. When nothing is recognised, the event is KindUnknown and
// the error is the first DecodeError encountered, or nil for messages that
// simply carry other traffic.
func (d *Decoder) Decode(env bus.Envelope, payloads [][]byte) (Event, error) {
	unknown := Event{Kind: KindUnknown, MessageID: env.ID, OccurredAt: env.CreatedAt}
	if len(payloads) == 0 {
		return unknown, &DecodeError{MessageID: env.ID, Reason: ReasonNoPayload, Detail: "message carries no payload"}
	}

	var firstErr error
	for i, payload := range payloads {
		ev, err := d.decodePayload(env, payload)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			d.logger.Debug("payload not decodable",
				"message_id", env.ID,
				"payload_index", i,
				"error", err,
			)
			continue
		}
		if ev.Kind != KindUnknown {
			return ev, nil
		}
	}
	return unknown, firstErr
}

func (d *Decoder) decodePayload(env bus.Envelope, payload []byte) (Event, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return Event{}, &DecodeError{MessageID: env.ID, Reason: ReasonInvalidJSON, Detail: err.Error(), Err: err}
	}

	typeTag := stringField(obj, "type")
	if wire.IssuanceTypes[typeTag] {
		return d.decodeIssuance(env, payload)
	}
	if shape, inner, ok := submissionShape(obj, typeTag, payload); ok {
		return d.decodeSubmission(env, shape, inner)
	}
	return Event{Kind: KindUnknown, MessageID: env.ID, OccurredAt: env.CreatedAt}, nil
}

// submissionShape detects the three historical submission shapes and returns
// the object that holds metadata and students.
func submissionShape(obj map[string]json.RawMessage, typeTag string, payload []byte) (Shape, json.RawMessage, bool) {
	tagged := wire.SubmissionTypes[typeTag]

	if batch, ok := obj["batch"]; ok && isJSONObject(batch) {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(batch, &inner); err == nil {
			if tagged || isJSONArray(inner["students"]) {
				return ShapeNested, batch, true
			}
		}
	}

	raw := json.RawMessage(payload)
	hasStudents := isJSONArray(obj["students"])
	switch {
	case hasStudents && isJSONObject(obj["metadata"]):
		return ShapeFlatMetadata, raw, true
	case hasStudents && (hasKey(obj, "batchId") || hasKey(obj, "batch_id")):
		return ShapeFlatBatchID, raw, true
	case tagged:
		// Tagged but malformed; let decodeSubmission report what is missing.
		return ShapeFlatMetadata, raw, true
	}
	return "", nil, false
}

func (d *Decoder) decodeSubmission(env bus.Envelope, shape Shape, raw json.RawMessage) (Event, error) {
	var lb looseBatch
	if err := json.Unmarshal(raw, &lb); err != nil {
		return Event{}, &DecodeError{MessageID: env.ID, Reason: ReasonInvalidJSON, Detail: err.Error(), Err: err}
	}
	if !isJSONArray(lb.Students) {
		return Event{}, &DecodeError{MessageID: env.ID, Reason: ReasonMissingField, Detail: "students"}
	}

	var ls []looseStudent
	if err := json.Unmarshal(lb.Students, &ls); err != nil {
		return Event{}, &DecodeError{MessageID: env.ID, Reason: ReasonInvalidJSON, Detail: "students: " + err.Error(), Err: err}
	}
	students := make([]models.StudentRecord, 0, len(ls))
	seen := make(map[id.StudentID]struct{}, len(ls))
	for _, s := range ls {
		rec := s.toRecord()
		if rec.StudentID == "" {
			continue
		}
		if _, dup := seen[rec.StudentID]; dup {
			continue
		}
		seen[rec.StudentID] = struct{}{}
		students = append(students, rec)
	}
	if len(students) == 0 {
		return Event{}, &DecodeError{MessageID: env.ID, Reason: ReasonMissingField, Detail: "students[].studentId"}
	}

	var meta models.BatchMetadata
	if isJSONObject(lb.Metadata) {
		var lm looseMetadata
		if err := json.Unmarshal(lb.Metadata, &lm); err != nil {
			return Event{}, &DecodeError{MessageID: env.ID, Reason: ReasonInvalidJSON, Detail: "metadata: " + err.Error(), Err: err}
		}
		meta = lm.toMetadata()
	}
	if meta.BatchName == "" {
		meta.BatchName = first(lb.BatchName, lb.BatchNameCamel)
	}

	batchID := id.BatchID(first(lb.BatchID, lb.BatchIDCamel))
	if batchID.IsNil() {
		batchID = id.DeriveBatchID(env.ID, env.CreatedAt)
	}

	submittedAt, ok := parseTime(first(lb.SubmittedAt, lb.SubmittedAtCamel, lb.Timestamp))
	if !ok {
		submittedAt = env.CreatedAt
	}
	submittedBy := first(lb.SubmittedBy, lb.SubmittedByCamel, lb.Sender)
	if submittedBy == "" {
		submittedBy = env.AuthorIdentity
	}

	sub := &models.SubmissionEvent{
		BatchID:     batchID,
		MessageID:   env.ID,
		SubmittedAt: submittedAt,
		ReceivedAt:  env.CreatedAt,
		SubmittedBy: submittedBy,
		Metadata:    meta,
		Students:    students,
	}
	return Event{
		Kind:       KindSubmission,
		MessageID:  env.ID,
		OccurredAt: submittedAt,
		Shape:      shape,
		Submission: sub,
	}, nil
}

func (d *Decoder) decodeIssuance(env bus.Envelope, payload []byte) (Event, error) {
	var li looseIssuance
	if err := json.Unmarshal(payload, &li); err != nil {
		return Event{}, &DecodeError{MessageID: env.ID, Reason: ReasonInvalidJSON, Detail: err.Error(), Err: err}
	}

	from, to := first(li.From), first(li.To)
	if !d.routed(from, to) {
		d.logger.Debug("issuance payload for another route ignored",
			"message_id", env.ID,
			"from", from,
			"to", to,
		)
		return Event{Kind: KindUnknown, MessageID: env.ID, OccurredAt: env.CreatedAt}, nil
	}

	batchID := id.BatchID(first(li.BatchID, li.BatchIDCamel))
	if batchID.IsNil() {
		return Event{}, &DecodeError{MessageID: env.ID, Reason: ReasonMissingField, Detail: "batch_id"}
	}

	issuedAt, ok := parseTime(first(li.IssuedAt, li.IssuedAtCamel))
	if !ok {
		issuedAt = env.CreatedAt
	}

	raw := li.CertificatePDFRefs
	if len(raw) == 0 {
		raw = li.Certificates
	}
	refs := make([]models.CertificateRef, 0, len(raw))
	for _, c := range raw {
		ref := c.toRef()
		if ref.StudentID == "" && ref.StudentName == "" {
			continue
		}
		refs = append(refs, ref)
	}

	iss := &models.IssuanceEvent{
		BatchID:         batchID,
		BatchName:       first(li.BatchName, li.BatchNameCamel),
		MessageID:       env.ID,
		IssuedAt:        issuedAt,
		ReceivedAt:      env.CreatedAt,
		TransactionID:   first(li.CardanoTxID, li.TransactionID, li.TransactionIDCamel),
		From:            from,
		To:              to,
		CertificateRefs: refs,
	}
	return Event{
		Kind:       KindIssuance,
		MessageID:  env.ID,
		OccurredAt: issuedAt,
		Issuance:   iss,
	}, nil
}

func (d *Decoder) routed(from, to string) bool {
	if d.issuer != "" && !strings.EqualFold(from, d.issuer) {
		return false
	}
	if d.receiver != "" && !strings.EqualFold(to, d.receiver) {
		return false
	}
	return true
}

// FetchFailure builds the DecodeError recorded when a payload could not be
// fetched from the bus.
func FetchFailure(msgID id.MessageID, err error) *DecodeError {
	reason := ReasonFetchFailed
	if errors.Is(err, sentinel.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonFetchTimedOut
	}
	return &DecodeError{MessageID: msgID, Reason: reason, Detail: err.Error(), Err: err}
}

func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func hasKey(obj map[string]json.RawMessage, key string) bool {
	raw, ok := obj[key]
	return ok && len(raw) > 0 && string(raw) != "null"
}
