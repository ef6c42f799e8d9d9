package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for certificate issuance.
type Metrics struct {
	// Issuances by outcome ("published", "invalid", "error")
	Issuances          *prometheus.CounterVec
	CertificatesIssued prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Issuances: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certbridge_issuance_messages_total",
			Help: "Certificate issuance messages by outcome",
		}, []string{"outcome"}),
		CertificatesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certbridge_issuance_certificates_total",
			Help: "Certificates contained in published issuance messages",
		}),
	}
}

func (m *Metrics) IncrementIssuance(outcome string) {
	if m != nil {
		m.Issuances.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddCertificates(n int) {
	if m != nil {
		m.CertificatesIssued.Add(float64(n))
	}
}
