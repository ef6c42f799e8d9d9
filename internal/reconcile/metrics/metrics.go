package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for reconciliation passes.
type Metrics struct {
	// Full pass latency by outcome ("ok", "degraded", "cancelled")
	PassDuration *prometheus.HistogramVec

	// Per-message decode failures by reason
	DecodeFailures *prometheus.CounterVec

	// Passes that could not read the whole bus, by stage
	DegradedPasses *prometheus.CounterVec

	// Messages seen in the latest pass
	MessagesSeen prometheus.Gauge

	// Batches in the latest pass by status
	BatchesByStatus *prometheus.GaugeVec

	// Store fast-path lookups by result ("hit", "miss", "error")
	StoreLookups *prometheus.CounterVec
}

// New creates a new Metrics instance with all reconcile metrics registered.
func New() *Metrics {
	return &Metrics{
		PassDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certbridge_reconcile_pass_duration_seconds",
			Help:    "Duration of a full reconciliation pass",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),

		DecodeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certbridge_reconcile_decode_failures_total",
			Help: "Messages skipped during reconciliation by failure reason",
		}, []string{"reason"}),

		DegradedPasses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certbridge_reconcile_degraded_passes_total",
			Help: "Reconciliation passes that returned partial results",
		}, []string{"stage"}), // stage: "list", "fetch"

		MessagesSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "certbridge_reconcile_messages_seen",
			Help: "Number of bus messages read by the latest pass",
		}),

		BatchesByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certbridge_reconcile_batches",
			Help: "Batches in the latest pass by status",
		}, []string{"status"}),

		StoreLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certbridge_reconcile_store_lookups_total",
			Help: "Batch statistics lookups against the student store",
		}, []string{"result"}),
	}
}

// ObservePass records the duration of a pass.
func (m *Metrics) ObservePass(outcome string, d time.Duration) {
	if m != nil {
		m.PassDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// IncrementDecodeFailure records one skipped message.
func (m *Metrics) IncrementDecodeFailure(reason string) {
	if m != nil {
		m.DecodeFailures.WithLabelValues(reason).Inc()
	}
}

// IncrementDegraded records a partial pass.
func (m *Metrics) IncrementDegraded(stage string) {
	if m != nil {
		m.DegradedPasses.WithLabelValues(stage).Inc()
	}
}

// SetMessagesSeen records the size of the latest listing.
func (m *Metrics) SetMessagesSeen(n int) {
	if m != nil {
		m.MessagesSeen.Set(float64(n))
	}
}

// SetBatchesByStatus publishes the latest per-status counts.
func (m *Metrics) SetBatchesByStatus(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.BatchesByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// IncrementStoreLookup records a fast-path lookup result.
func (m *Metrics) IncrementStoreLookup(result string) {
	if m != nil {
		m.StoreLookups.WithLabelValues(result).Inc()
	}
}
