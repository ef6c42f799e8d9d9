package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certbridge/pkg/domain-errors"
)

var batchIDPattern = regexp.MustCompile(`^BATCH_\d+_[0-9a-f]{9}$`)

func TestNewBatchID(t *testing.T) {
	now := time.UnixMilli(1718000000123)

	t.Run("carries timestamp and random suffix", func(t *testing.T) {
		id := NewBatchID(now)
		assert.Regexp(t, batchIDPattern, id.String())
		assert.Contains(t, id.String(), "1718000000123")
	})

	t.Run("does not collide within the same millisecond", func(t *testing.T) {
		seen := make(map[BatchID]struct{})
		for i := 0; i < 500; i++ {
			id := NewBatchID(now)
			_, dup := seen[id]
			require.False(t, dup, "duplicate id %s", id)
			seen[id] = struct{}{}
		}
	})
}

// TestDeriveBatchID_Stable verifies that the same historical message always
// yields the same id, which replay idempotence depends on.
func TestDeriveBatchID_Stable(t *testing.T) {
	created := time.UnixMilli(1700000000000)

	first := DeriveBatchID("msg-1", created)
	second := DeriveBatchID("msg-1", created)
	other := DeriveBatchID("msg-2", created)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Regexp(t, batchIDPattern, first.String())
}

func TestParseBatchID(t *testing.T) {
	_, err := ParseBatchID("   ")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	id, err := ParseBatchID(" legacy-42 ")
	require.NoError(t, err)
	assert.Equal(t, BatchID("legacy-42"), id)
}
