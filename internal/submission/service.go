// Package submission publishes student batches from the sending
// organization to the issuer.
package submission

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks BatchRecorder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certbridge/internal/batch/models"
	"certbridge/internal/batch/wire"
	"certbridge/internal/bus"
	"certbridge/internal/submission/metrics"
	id "certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
	"certbridge/pkg/requestcontext"
)

// BatchRecorder persists submitted students for the hash lookup fast path.
type BatchRecorder interface {
	SaveBatch(ctx context.Context, sub *models.SubmissionEvent) error
}

// SubmitRequest is a batch ready to send. Recipient defaults to the
// configured issuer.
type SubmitRequest struct {
	Metadata  models.BatchMetadata   `json:"metadata"`
	Students  []models.StudentRecord `json:"students"`
	Recipient string                 `json:"recipient,omitempty"`
}

type Service struct {
	bus       bus.Bus
	sender    string
	recipient string
	store     BatchRecorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStore records every published batch.
func WithStore(store BatchRecorder) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithClock fixes the clock instead of using the request time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service publishing as sender to recipient by default.
func New(b bus.Bus, sender, recipient string, opts ...Option) (*Service, error) {
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if strings.TrimSpace(sender) == "" {
		return nil, errors.New("sender organization is required")
	}
	s := &Service{
		bus:       b,
		sender:    strings.TrimSpace(sender),
		recipient: strings.TrimSpace(recipient),
		logger:    slog.Default(),
		tracer:    otel.Tracer("certbridge/internal/submission"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Submit validates the batch, assigns its id and publishes it. The returned
// event carries the bus message id. A store failure after publishing is
// logged and does not fail the call; the bus is the source of truth.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.SubmissionEvent, id.MessageID, error) {
	ctx, span := s.tracer.Start(ctx, "submission.Submit")
	defer span.End()

	ev, err := models.NewSubmissionEvent(req.Metadata, req.Students, s.sender, s.timestamp(ctx))
	if err != nil {
		s.metrics.IncrementSubmission("invalid")
		span.SetStatus(codes.Error, "invalid batch")
		return nil, "", err
	}
	span.SetAttributes(
		attribute.String("batch.id", ev.BatchID.String()),
		attribute.Int("batch.students", len(ev.Students)),
	)

	recipientName := strings.TrimSpace(req.Recipient)
	if recipientName == "" {
		recipientName = s.recipient
	}
	if recipientName == "" {
		s.metrics.IncrementSubmission("invalid")
		return nil, "", dErrors.Missing("recipient organization is required", "recipient")
	}
	recipient, err := s.bus.ResolveIdentity(ctx, recipientName)
	if err != nil {
		s.metrics.IncrementSubmission("unknown_recipient")
		span.RecordError(err)
		span.SetStatus(codes.Error, "recipient not resolved")
		return nil, "", bus.DomainError(err, "recipient organization not found")
	}

	payload, err := wire.EncodeSubmission(ev)
	if err != nil {
		s.metrics.IncrementSubmission("error")
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode batch")
	}

	msgID, err := s.bus.Publish(ctx, payload, recipient)
	if err != nil {
		s.metrics.IncrementSubmission("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		s.logger.ErrorContext(ctx, "failed to publish batch",
			"batch_id", ev.BatchID,
			"recipient", recipient.Name,
			"error", err,
		)
		return nil, "", bus.DomainError(err, "failed to publish batch")
	}
	ev.MessageID = msgID

	s.metrics.IncrementSubmission("published")
	s.metrics.AddStudents(len(ev.Students))
	s.logger.InfoContext(ctx, "batch published",
		"batch_id", ev.BatchID,
		"message_id", msgID,
		"recipient", recipient.Name,
		"students", len(ev.Students),
	)

	if s.store != nil {
		if err := s.store.SaveBatch(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "failed to record published batch",
				"batch_id", ev.BatchID,
				"error", err,
			)
		}
	}
	return ev, msgID, nil
}

// timestamp is the injected clock when one is set, otherwise the time the
// current request started, so every timestamp of one request agrees.
func (s *Service) timestamp(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}
