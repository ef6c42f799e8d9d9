package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for outbound batch submissions.
type Metrics struct {
	// Submissions by outcome ("published", "invalid", "unknown_recipient", "error")
	Submissions       *prometheus.CounterVec
	StudentsSubmitted prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certbridge_submission_batches_total",
			Help: "Batch submissions by outcome",
		}, []string{"outcome"}),
		StudentsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certbridge_submission_students_total",
			Help: "Students contained in published batches",
		}),
	}
}

func (m *Metrics) IncrementSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddStudents(n int) {
	if m != nil {
		m.StudentsSubmitted.Add(float64(n))
	}
}
