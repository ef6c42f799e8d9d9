package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for certificate verification.
type Metrics struct {
	// Verifications by entry point ("record", "hash") and outcome
	// ("authentic", "tampered", "invalid", "not_found", "error")
	Verifications *prometheus.CounterVec
}

// New creates a new Metrics instance with all verify metrics registered.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certbridge_verify_verifications_total",
			Help: "Certificate verifications by entry point and outcome",
		}, []string{"entry", "outcome"}),
	}
}

// IncrementVerification records one verification outcome.
func (m *Metrics) IncrementVerification(entry, outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(entry, outcome).Inc()
	}
}
