package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certbridge/internal/batch/models"
	"certbridge/internal/decoder"
	"certbridge/internal/ledger"
	id "certbridge/pkg/domain"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func submitted(batchID, faculty, year string, at time.Time, studentIDs ...string) decoder.Event {
	students := make([]models.StudentRecord, 0, len(studentIDs))
	for _, sid := range studentIDs {
		students = append(students, models.StudentRecord{StudentID: id.StudentID(sid), FirstName: sid, LastName: "X"})
	}
	return decoder.Event{
		Kind:       decoder.KindSubmission,
		OccurredAt: at,
		Submission: &models.SubmissionEvent{
			BatchID:     id.BatchID(batchID),
			SubmittedAt: at,
			ReceivedAt:  at.Add(time.Minute),
			Metadata:    models.BatchMetadata{BatchName: batchID, Faculty: faculty, AcademicYear: year},
			Students:    students,
		},
	}
}

func issued(batchID string, at time.Time, studentIDs ...string) decoder.Event {
	refs := make([]models.CertificateRef, 0, len(studentIDs))
	for _, sid := range studentIDs {
		refs = append(refs, models.CertificateRef{StudentID: id.StudentID(sid), CertificateID: "C-" + sid})
	}
	return decoder.Event{
		Kind:       decoder.KindIssuance,
		OccurredAt: at,
		Issuance: &models.IssuanceEvent{
			BatchID:         id.BatchID(batchID),
			IssuedAt:        at,
			TransactionID:   "tx-" + batchID,
			CertificateRefs: refs,
		},
	}
}

func rowsByID(rows []ReportRow) map[id.BatchID]ReportRow {
	out := make(map[id.BatchID]ReportRow, len(rows))
	for _, r := range rows {
		out[r.BatchID] = r
	}
	return out
}

func TestReconcile_Scenarios(t *testing.T) {
	rows := Reconcile(ledger.Fold([]decoder.Event{
		submitted("B1", "Engineering", "2023/2024", base, "S1", "S2", "S3"),
		issued("B1", base.Add(26*time.Hour), "S1", "S2", "S3"),
		submitted("B2", "Arts", "2023/2024", base, "S1", "S2", "S3", "S4"),
		issued("B2", base.Add(5*time.Hour), "S1", "S2"),
		issued("B3", base.Add(2*time.Hour), "S7", "S8"),
		submitted("B4", "", "", base),
	}))
	byID := rowsByID(rows)

	t.Run("clean completion", func(t *testing.T) {
		r := byID["B1"]
		assert.Equal(t, models.StatusCompleted, r.Status)
		assert.Equal(t, 100, r.ProgressPercentage)
		assert.Equal(t, "1 day(s) 2h", r.ProcessingTime)
		assert.Equal(t, "tx-B1", r.TransactionID)
		assert.Len(t, r.Certificates, 3)
	})

	t.Run("partial", func(t *testing.T) {
		r := byID["B2"]
		assert.Equal(t, models.StatusPartiallyCompleted, r.Status)
		assert.Equal(t, 50, r.ProgressPercentage)
		assert.Equal(t, "5h", r.ProcessingTime)
	})

	t.Run("orphan certificate", func(t *testing.T) {
		r := byID["B3"]
		assert.Equal(t, models.StatusCertificatesIssued, r.Status)
		assert.Equal(t, 100, r.ProgressPercentage)
		assert.Nil(t, r.SubmittedAt)
		assert.Nil(t, r.ReceivedAt)
		require.NotNil(t, r.IssuedAt)
		assert.Nil(t, r.Metadata)
		assert.Empty(t, r.ProcessingTime)
	})

	t.Run("orphan without certificate refs is still complete", func(t *testing.T) {
		rows := Reconcile(ledger.Fold([]decoder.Event{issued("B9", base)}))
		require.Len(t, rows, 1)
		assert.Equal(t, models.StatusCertificatesIssued, rows[0].Status)
		assert.Equal(t, 0, rows[0].StudentsTotal)
		assert.Equal(t, 100, rows[0].ProgressPercentage)
	})

	t.Run("submitted batch without students is unknown", func(t *testing.T) {
		r := byID["B4"]
		assert.Equal(t, models.StatusUnknown, r.Status)
		assert.Equal(t, 0, r.ProgressPercentage)
		assert.Nil(t, r.IssuedAt)
	})
}

func TestReconcile_ProcessingStatus(t *testing.T) {
	rows := Reconcile(ledger.Fold([]decoder.Event{
		submitted("B1", "F", "Y", base, "S1"),
		issued("B1", base.Add(time.Hour), "NOT-SUBMITTED"),
	}))
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusProcessing, rows[0].Status)
	assert.Len(t, rows[0].Unmatched, 1)
}

func TestReconcile_SortsByLatestActivity(t *testing.T) {
	rows := Reconcile(ledger.Fold([]decoder.Event{
		submitted("OLD", "F", "Y", base, "S1"),
		submitted("MID", "F", "Y", base.Add(2*time.Hour), "S1"),
		submitted("NEW", "F", "Y", base.Add(-time.Hour), "S1"),
		issued("NEW", base.Add(10*time.Hour), "S1"),
	}))
	ids := make([]id.BatchID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.BatchID)
	}
	assert.Equal(t, []id.BatchID{"NEW", "MID", "OLD"}, ids)
}

func TestProgress(t *testing.T) {
	tests := []struct {
		total, certified, want int
	}{
		{4, 2, 50},
		{3, 1, 33},
		{3, 2, 67},
		{3, 3, 100},
		{0, 0, 0},
		{2, 5, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Progress(tt.total, tt.certified), "%d/%d", tt.certified, tt.total)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"under half an hour rounds down", 29 * time.Minute, "0h"},
		{"half an hour rounds up", 30 * time.Minute, "1h"},
		{"hours only", 23 * time.Hour, "23h"},
		{"rounding into a full day", 23*time.Hour + 40*time.Minute, "1 day(s) 0h"},
		{"days and hours", 50 * time.Hour, "2 day(s) 2h"},
		{"negative skew", -3 * time.Hour, "0h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.in))
		})
	}
}

func TestSummarize(t *testing.T) {
	rows := Reconcile(ledger.Fold([]decoder.Event{
		submitted("B1", "Engineering", "2023/2024", base, "S1", "S2"),
		issued("B1", base.Add(10*time.Hour), "S1", "S2"),
		submitted("B2", "Engineering", "", base, "S1", "S2"),
		issued("B2", base.Add(20*time.Hour), "S1"),
		submitted("B3", "Arts", "2024/2025", base, "S1"),
		issued("B4", base, "Z1"),
	}))

	stats := Summarize(rows)
	assert.Equal(t, 4, stats.TotalBatches)
	assert.Equal(t, 6, stats.TotalStudents)
	assert.Equal(t, 4, stats.TotalCertificates)
	assert.Equal(t, 1, stats.ByStatus[models.StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[models.StatusPartiallyCompleted])
	assert.Equal(t, 1, stats.ByStatus[models.StatusSubmitted])
	assert.Equal(t, 1, stats.ByStatus[models.StatusCertificatesIssued])
	assert.Equal(t, 0, stats.ByStatus[models.StatusProcessing])

	// Only B1 and B2 have both timestamps.
	assert.Equal(t, 15*time.Hour, stats.AverageProcessing)
	assert.Equal(t, "15h", stats.AverageProcessingTime)

	assert.Equal(t, map[string]int{"Engineering": 2, "Arts": 1, UnknownBucket: 1}, stats.ByFaculty)
	assert.Equal(t, map[string]int{"2023/2024": 1, "2024/2025": 1, UnknownBucket: 2}, stats.ByAcademicYear)
}

func TestSummarize_ClockSkew(t *testing.T) {
	rows := Reconcile(ledger.Fold([]decoder.Event{
		submitted("B1", "Engineering", "2023/2024", base, "S1"),
		issued("B1", base.Add(10*time.Hour), "S1"),
		submitted("SKEW", "Engineering", "2023/2024", base, "S1"),
		issued("SKEW", base.Add(-6*time.Hour), "S1"),
	}))
	skewed := rowsByID(rows)["SKEW"]
	assert.Zero(t, skewed.ProcessingDuration)
	assert.Equal(t, "0h", skewed.ProcessingTime)

	// The skewed row counts as zero, not as minus six hours.
	stats := Summarize(rows)
	assert.Equal(t, 5*time.Hour, stats.AverageProcessing)
	assert.Equal(t, "5h", stats.AverageProcessingTime)
}

func TestSummarize_Empty(t *testing.T) {
	stats := Summarize(nil)
	assert.Equal(t, 0, stats.TotalBatches)
	assert.Zero(t, stats.AverageProcessing)
	assert.Empty(t, stats.AverageProcessingTime)
	assert.Len(t, stats.ByStatus, len(models.AllStatuses))
}

func TestRowFromStatistics(t *testing.T) {
	issuedAt := base.Add(49 * time.Hour)
	row := RowFromStatistics(models.BatchStatistics{
		BatchID:           "B1",
		SubmittedAt:       base,
		Metadata:          models.BatchMetadata{BatchName: "Cohort"},
		StudentsTotal:     4,
		StudentsCertified: 3,
		IssuedAt:          &issuedAt,
		TransactionID:     "tx",
	})
	assert.Equal(t, models.StatusPartiallyCompleted, row.Status)
	assert.Equal(t, 75, row.ProgressPercentage)
	assert.Equal(t, "2 day(s) 1h", row.ProcessingTime)
	assert.Equal(t, "Cohort", row.BatchName)
}
