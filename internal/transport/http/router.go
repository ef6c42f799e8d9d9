// Package httptransport is the thin HTTP layer over the batch, issuance and
// verification services. Handlers decode, delegate and encode; every error
// leaves through httputil.WriteError.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certbridge/internal/batch/models"
	"certbridge/internal/issuance"
	"certbridge/internal/platform/metrics"
	"certbridge/internal/platform/middleware"
	"certbridge/internal/reconcile"
	"certbridge/internal/submission"
	"certbridge/internal/verify"
	id "certbridge/pkg/domain"
	"certbridge/pkg/platform/middleware/metadata"
	"certbridge/pkg/platform/middleware/requesttime"
)

const defaultRequestTimeout = 30 * time.Second

// Reconciler builds the dashboard report.
type Reconciler interface {
	Run(ctx context.Context) (*reconcile.Report, error)
	BatchStatistics(ctx context.Context, batchID id.BatchID) (*reconcile.ReportRow, error)
}

// Submitter publishes batches.
type Submitter interface {
	Submit(ctx context.Context, req submission.SubmitRequest) (*models.SubmissionEvent, id.MessageID, error)
}

// Issuer publishes certificate issuance.
type Issuer interface {
	Issue(ctx context.Context, req issuance.IssueRequest) (*models.IssuanceEvent, id.MessageID, error)
}

// Verifier authenticates certificates.
type Verifier interface {
	VerifyCertificate(record models.StudentRecord, claimedHash string) (verify.Result, error)
	VerifyByHash(ctx context.Context, hash string) (verify.Result, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the public API.
type Handler struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	reconciler Reconciler
	submitter  Submitter
	issuer     Issuer
	verifier   Verifier
	checks     map[string]HealthCheck
	gatherer   prometheus.Gatherer
	timeout    time.Duration
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithIssuer mounts the issuance route. Sender-only nodes leave it out.
func WithIssuer(issuer Issuer) Option {
	return func(h *Handler) {
		h.issuer = issuer
	}
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

// WithRequestTimeout bounds every request.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func New(reconciler Reconciler, submitter Submitter, verifier Verifier, opts ...Option) *Handler {
	h := &Handler{
		logger:     slog.Default(),
		reconciler: reconciler,
		submitter:  submitter,
		verifier:   verifier,
		checks:     make(map[string]HealthCheck),
		gatherer:   prometheus.DefaultGatherer,
		timeout:    defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(h.timeout))
		api.Use(middleware.ContentTypeJSON)
		api.Use(middleware.LatencyMiddleware(h.metrics))

		api.Get("/batches", h.handleListBatches)
		api.Post("/batches", h.handleSubmitBatch)
		api.Get("/batches/{batchID}", h.handleGetBatch)
		if h.issuer != nil {
			api.Post("/batches/{batchID}/certificates", h.handleIssueCertificates)
		}
		api.Post("/certificates/verify", h.handleVerifyCertificate)
		api.Get("/certificates/{hash}", h.handleVerifyByHash)
	})
}

// NewRouter wraps the handler in the shared middleware chain.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(h.logger))
	h.Register(r)
	return r
}
