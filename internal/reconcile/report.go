package reconcile

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"certbridge/internal/batch/models"
	"certbridge/internal/decoder"
	"certbridge/internal/ledger"
	id "certbridge/pkg/domain"
)

// UnknownBucket collects rows whose metadata lacks the grouped field.
const UnknownBucket = "Unknown"

// ReportRow is the presentation-ready view of one reconciled batch.
type ReportRow struct {
	BatchID            id.BatchID              `json:"batchId"`
	BatchName          string                  `json:"batchName"`
	Status             models.Status           `json:"status"`
	StudentsTotal      int                     `json:"studentsTotal"`
	StudentsCertified  int                     `json:"studentsCertified"`
	ProgressPercentage int                     `json:"progressPercentage"`
	SubmittedBy        string                  `json:"submittedBy,omitempty"`
	SubmittedAt        *time.Time              `json:"submittedAt"`
	ReceivedAt         *time.Time              `json:"receivedAt"`
	IssuedAt           *time.Time              `json:"issuedAt"`
	ProcessingDuration time.Duration           `json:"-"`
	ProcessingTime     string                  `json:"processingTime,omitempty"`
	TransactionID      string                  `json:"transactionId,omitempty"`
	Metadata           *models.BatchMetadata   `json:"metadata,omitempty"`
	Certificates       []models.CertificateRef `json:"certificates,omitempty"`
	Unmatched          []models.CertificateRef `json:"unmatchedCertificates,omitempty"`
}

// HasProcessingTime reports whether both ends of the processing window are known.
func (r ReportRow) HasProcessingTime() bool {
	return r.SubmittedAt != nil && r.IssuedAt != nil
}

// latest is the most recent of the row's three timestamps.
func (r ReportRow) latest() time.Time {
	var t time.Time
	for _, ts := range []*time.Time{r.SubmittedAt, r.ReceivedAt, r.IssuedAt} {
		if ts != nil && ts.After(t) {
			t = *ts
		}
	}
	return t
}

// Stats aggregates a set of rows.
type Stats struct {
	TotalBatches          int                   `json:"totalBatches"`
	ByStatus              map[models.Status]int `json:"byStatus"`
	TotalStudents         int                   `json:"totalStudents"`
	TotalCertificates     int                   `json:"totalCertificates"`
	AverageProcessing     time.Duration         `json:"-"`
	AverageProcessingTime string                `json:"averageProcessingTime,omitempty"`
	ByFaculty             map[string]int        `json:"byFaculty"`
	ByAcademicYear        map[string]int        `json:"byAcademicYear"`
}

// Report is the outcome of one reconciliation pass. Degraded is set when the
// bus could not be fully read; rows then reflect what was reachable.
type Report struct {
	Rows         []ReportRow            `json:"batches"`
	Stats        Stats                  `json:"stats"`
	Failures     []*decoder.DecodeError `json:"failures"`
	Degraded     bool                   `json:"degraded"`
	Truncated    bool                   `json:"truncated"`
	MessagesSeen int                    `json:"messagesSeen"`
	GeneratedAt  time.Time              `json:"generatedAt"`
}

// Find returns the row for batchID.
func (r *Report) Find(batchID id.BatchID) (ReportRow, bool) {
	for _, row := range r.Rows {
		if row.BatchID == batchID {
			return row, true
		}
	}
	return ReportRow{}, false
}

// Reconcile derives one row per projection, newest activity first.
func Reconcile(l ledger.Ledger) []ReportRow {
	rows := make([]ReportRow, 0, len(l))
	for _, batchID := range l.BatchIDs() {
		rows = append(rows, projectRow(l[batchID]))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].latest().After(rows[j].latest())
	})
	return rows
}

func projectRow(p *ledger.Projection) ReportRow {
	total, certified := p.StudentsTotal(), p.StudentsCertified()
	row := ReportRow{
		BatchID:            p.BatchID,
		BatchName:          p.Name(),
		StudentsTotal:      total,
		StudentsCertified:  certified,
		ProgressPercentage: Progress(total, certified),
		TransactionID:      p.TransactionID,
		Certificates:       p.Certificates(),
		Unmatched:          p.Unmatched,
	}
	if p.Orphan {
		row.Status = models.StatusCertificatesIssued
		row.ProgressPercentage = 100
	} else {
		row.Status = models.DeriveStatus(total, certified, p.IssuanceSeen)
	}
	if sub := p.Submission; sub != nil {
		row.SubmittedBy = sub.SubmittedBy
		row.SubmittedAt = timePtr(sub.SubmittedAt)
		row.ReceivedAt = timePtr(sub.ReceivedAt)
		meta := sub.Metadata
		row.Metadata = &meta
	}
	if p.IssuanceSeen {
		row.IssuedAt = timePtr(p.IssuedAt)
	}
	row.setProcessingTime()
	return row
}

// setProcessingTime fills the span between submission and issuance. An
// issuer clock behind the sender's yields a negative span, stored as zero.
func (r *ReportRow) setProcessingTime() {
	if !r.HasProcessingTime() {
		return
	}
	r.ProcessingDuration = max(r.IssuedAt.Sub(*r.SubmittedAt), 0)
	r.ProcessingTime = FormatDuration(r.ProcessingDuration)
}

// RowFromStatistics builds a row from a persisted store summary.
func RowFromStatistics(s models.BatchStatistics) ReportRow {
	meta := s.Metadata
	row := ReportRow{
		BatchID:            s.BatchID,
		BatchName:          s.Metadata.BatchName,
		Status:             s.Status(),
		StudentsTotal:      s.StudentsTotal,
		StudentsCertified:  s.StudentsCertified,
		ProgressPercentage: Progress(s.StudentsTotal, s.StudentsCertified),
		SubmittedBy:        s.SubmittedBy,
		SubmittedAt:        timePtr(s.SubmittedAt),
		TransactionID:      s.TransactionID,
		Metadata:           &meta,
	}
	if s.IssuedAt != nil {
		row.IssuedAt = timePtr(*s.IssuedAt)
	}
	row.setProcessingTime()
	return row
}

// Progress is round(100*certified/total), clamped to 0..100.
func Progress(total, certified int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(certified) / float64(total)))
	return min(max(pct, 0), 100)
}

// FormatDuration renders d as "{days} day(s) {hours}h" when it spans at least
// a day and "{hours}h" otherwise. Hours are rounded; negative spans (clock
// skew between sender and issuer) render as zero.
func FormatDuration(d time.Duration) string {
	diffHours := int64(math.Round(float64(d.Milliseconds()) / 3_600_000))
	if diffHours < 0 {
		diffHours = 0
	}
	diffDays := diffHours / 24
	if diffDays > 0 {
		return fmt.Sprintf("%d day(s) %dh", diffDays, diffHours%24)
	}
	return fmt.Sprintf("%dh", diffHours)
}

// Summarize aggregates rows. Rows without both a submission and an issuance
// timestamp are left out of the average rather than counted as zero.
func Summarize(rows []ReportRow) Stats {
	stats := Stats{
		TotalBatches:   len(rows),
		ByStatus:       make(map[models.Status]int, len(models.AllStatuses)),
		ByFaculty:      make(map[string]int),
		ByAcademicYear: make(map[string]int),
	}
	for _, st := range models.AllStatuses {
		stats.ByStatus[st] = 0
	}

	var sum time.Duration
	var timed int
	for _, row := range rows {
		stats.ByStatus[row.Status]++
		stats.TotalStudents += row.StudentsTotal
		stats.TotalCertificates += row.StudentsCertified
		if row.HasProcessingTime() {
			sum += max(row.ProcessingDuration, 0)
			timed++
		}
		var faculty, year string
		if row.Metadata != nil {
			faculty, year = row.Metadata.Faculty, row.Metadata.AcademicYear
		}
		stats.ByFaculty[bucket(faculty)]++
		stats.ByAcademicYear[bucket(year)]++
	}
	if timed > 0 {
		stats.AverageProcessing = sum / time.Duration(timed)
		stats.AverageProcessingTime = FormatDuration(stats.AverageProcessing)
	}
	return stats
}

func bucket(value string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return UnknownBucket
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
