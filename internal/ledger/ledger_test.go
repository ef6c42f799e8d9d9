package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certbridge/internal/batch/models"
	"certbridge/internal/decoder"
	id "certbridge/pkg/domain"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func submission(batchID string, at time.Time, studentIDs ...string) decoder.Event {
	students := make([]models.StudentRecord, 0, len(studentIDs))
	for _, sid := range studentIDs {
		students = append(students, models.StudentRecord{
			StudentID: id.StudentID(sid),
			FirstName: "First" + sid,
			LastName:  "Last" + sid,
		})
	}
	return decoder.Event{
		Kind:       decoder.KindSubmission,
		MessageID:  id.MessageID("sub-" + batchID + at.String()),
		OccurredAt: at,
		Submission: &models.SubmissionEvent{
			BatchID:     id.BatchID(batchID),
			SubmittedAt: at,
			Metadata:    models.BatchMetadata{BatchName: "Batch " + batchID},
			Students:    students,
		},
	}
}

func issuance(batchID string, at time.Time, studentIDs ...string) decoder.Event {
	refs := make([]models.CertificateRef, 0, len(studentIDs))
	for _, sid := range studentIDs {
		refs = append(refs, models.CertificateRef{
			StudentID:     id.StudentID(sid),
			StudentName:   "First" + sid + " Last" + sid,
			CertificateID: "CERT-" + sid,
		})
	}
	return decoder.Event{
		Kind:       decoder.KindIssuance,
		MessageID:  id.MessageID(fmt.Sprintf("iss-%s-%d", batchID, at.Unix())),
		OccurredAt: at,
		Issuance: &models.IssuanceEvent{
			BatchID:         id.BatchID(batchID),
			IssuedAt:        at,
			TransactionID:   "tx-" + batchID,
			CertificateRefs: refs,
		},
	}
}

func TestFold_Scenarios(t *testing.T) {
	t.Run("clean completion", func(t *testing.T) {
		l := Fold([]decoder.Event{
			submission("B1", t0, "S1", "S2", "S3"),
			issuance("B1", t0.Add(time.Hour), "S1", "S2", "S3"),
		})
		p := l["B1"]
		require.NotNil(t, p)
		assert.Equal(t, 3, p.StudentsTotal())
		assert.Equal(t, 3, p.StudentsCertified())
		assert.False(t, p.Orphan)
		assert.Equal(t, "tx-B1", p.TransactionID)
		assert.Equal(t, "Batch B1", p.Name())
	})

	t.Run("partial issuance", func(t *testing.T) {
		l := Fold([]decoder.Event{
			submission("B2", t0, "S1", "S2", "S3", "S4"),
			issuance("B2", t0.Add(time.Hour), "S1", "S2"),
		})
		assert.Equal(t, 4, l["B2"].StudentsTotal())
		assert.Equal(t, 2, l["B2"].StudentsCertified())
	})

	t.Run("orphan certificates", func(t *testing.T) {
		l := Fold([]decoder.Event{issuance("B3", t0, "S1", "S2")})
		p := l["B3"]
		require.NotNil(t, p)
		assert.True(t, p.Orphan)
		assert.Nil(t, p.Submission)
		assert.Equal(t, 2, p.StudentsTotal())
		assert.Equal(t, 2, p.StudentsCertified())
	})

	t.Run("certificates for unknown students stay unmatched", func(t *testing.T) {
		l := Fold([]decoder.Event{
			submission("B4", t0, "S1", "S2"),
			issuance("B4", t0.Add(time.Hour), "X9"),
		})
		p := l["B4"]
		assert.True(t, p.IssuanceSeen)
		assert.Equal(t, 0, p.StudentsCertified())
		require.Len(t, p.Unmatched, 1)
		assert.Equal(t, id.StudentID("X9"), p.Unmatched[0].StudentID)
	})

	t.Run("refs without student id match by name", func(t *testing.T) {
		iss := issuance("B5", t0.Add(time.Hour))
		iss.Issuance.CertificateRefs = []models.CertificateRef{{StudentName: "  firstS2   LASTS2 ", CertificateID: "C"}}
		l := Fold([]decoder.Event{submission("B5", t0, "S1", "S2"), iss})
		_, ok := l["B5"].Certified["S2"]
		assert.True(t, ok)
	})

	t.Run("a name shared by two students matches neither", func(t *testing.T) {
		sub := submission("B6", t0, "S1", "S2", "S3")
		sub.Submission.Students[1].FirstName = "Jo"
		sub.Submission.Students[1].LastName = "Kim"
		sub.Submission.Students[2].FirstName = "JO"
		sub.Submission.Students[2].LastName = "kim"
		iss := issuance("B6", t0.Add(time.Hour), "S1")
		iss.Issuance.CertificateRefs = append(iss.Issuance.CertificateRefs,
			models.CertificateRef{StudentName: "Jo Kim", CertificateID: "C-JO"})

		p := Fold([]decoder.Event{sub, iss})["B6"]
		assert.Equal(t, 1, p.StudentsCertified())
		_, s1 := p.Certified["S1"]
		assert.True(t, s1)
		require.Len(t, p.Unmatched, 1)
		assert.Equal(t, "C-JO", p.Unmatched[0].CertificateID)
	})
}

func TestFold_EarliestSubmissionWins(t *testing.T) {
	early := submission("B1", t0, "S1")
	late := submission("B1", t0.Add(time.Hour), "S1", "S2")

	l := Fold([]decoder.Event{late, early})
	assert.Same(t, early.Submission, l["B1"].Submission)
	assert.Equal(t, 1, l["B1"].StudentsTotal())
}

// TestFold_Idempotent verifies that replaying the whole stream (duplicate
// deliveries included) yields the same projection.
func TestFold_Idempotent(t *testing.T) {
	events := []decoder.Event{
		submission("B1", t0, "S1", "S2", "S3"),
		issuance("B1", t0.Add(time.Hour), "S1"),
		issuance("B1", t0.Add(2*time.Hour), "S2"),
		issuance("B9", t0.Add(3*time.Hour), "Z1"),
	}
	once := Fold(events)
	twice := Fold(append(append([]decoder.Event{}, events...), events...))

	assert.Equal(t, once, twice)
	assert.Equal(t, 2, twice["B1"].StudentsCertified())
}

// TestFold_IssuanceOrderIndependent verifies that reordering issuance events
// does not change the outcome.
func TestFold_IssuanceOrderIndependent(t *testing.T) {
	sub := submission("B1", t0, "S1", "S2", "S3")
	i1 := issuance("B1", t0.Add(time.Hour), "S1", "S2")
	i2 := issuance("B1", t0.Add(2*time.Hour), "S2", "S3")
	i2.Issuance.TransactionID = "tx-second"

	forward := Fold([]decoder.Event{sub, i1, i2})
	backward := Fold([]decoder.Event{i2, sub, i1})

	assert.Equal(t, forward, backward)
	assert.Equal(t, 3, forward["B1"].StudentsCertified())
	assert.Equal(t, "tx-second", forward["B1"].TransactionID)
	assert.Equal(t, t0.Add(2*time.Hour), forward["B1"].IssuedAt)
}

// TestFold_ProgressMonotonic verifies certified counts never decrease as the
// event list grows.
func TestFold_ProgressMonotonic(t *testing.T) {
	stream := []decoder.Event{
		submission("B1", t0, "S1", "S2", "S3", "S4"),
		issuance("B1", t0.Add(1*time.Hour), "S1"),
		issuance("B1", t0.Add(2*time.Hour), "S1", "S2"),
		issuance("B1", t0.Add(3*time.Hour), "S3"),
		issuance("B1", t0.Add(4*time.Hour), "S2"),
		issuance("B1", t0.Add(5*time.Hour), "S4"),
	}
	last := -1
	for n := 1; n <= len(stream); n++ {
		got := Fold(stream[:n])["B1"].StudentsCertified()
		assert.GreaterOrEqual(t, got, last)
		last = got
	}
	assert.Equal(t, 4, last)
}

func TestFold_DoesNotMutateInput(t *testing.T) {
	events := []decoder.Event{
		issuance("B1", t0.Add(time.Hour), "S1"),
		submission("B1", t0, "S1"),
	}
	_ = Fold(events)
	assert.Equal(t, decoder.KindIssuance, events[0].Kind)
}

func TestLedger_BatchIDs(t *testing.T) {
	l := Fold([]decoder.Event{
		submission("B2", t0, "S1"),
		submission("B1", t0, "S1"),
		{Kind: decoder.KindUnknown},
	})
	assert.Equal(t, []id.BatchID{"B1", "B2"}, l.BatchIDs())
}
