// Package reconcile rebuilds the batch dashboard from the message bus.
//
// Every pass is stateless: it lists the bus, fetches payloads with bounded
// concurrency, decodes, folds the events into a fresh ledger and derives
// report rows. Unreadable messages are recorded as failures and skipped;
// transport trouble marks the report degraded instead of failing it.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"certbridge/internal/batch/models"
	"certbridge/internal/bus"
	"certbridge/internal/decoder"
	"certbridge/internal/ledger"
	"certbridge/internal/reconcile/metrics"
	id "certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
	"certbridge/pkg/platform/sentinel"
)

const (
	defaultMessageLimit = 1000
	defaultConcurrency  = 8
	defaultCallTimeout  = 10 * time.Second
)

// StatisticsStore is the optional relational fast path for single batches.
type StatisticsStore interface {
	FindBatchStatistics(ctx context.Context, batchID id.BatchID) (*models.BatchStatistics, error)
}

// Service runs reconciliation passes against a bus.
type Service struct {
	bus         bus.Bus
	decoder     *decoder.Decoder
	store       StatisticsStore
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	limit       int
	concurrency int
	callTimeout time.Duration
	now         func() time.Time
}

// Option configures the Service.
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

// WithStore enables the relational fast path for BatchStatistics.
func WithStore(store StatisticsStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithMessageLimit caps how many messages one pass lists. Older messages
// beyond the cap are left out and the report is marked truncated.
func WithMessageLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithConcurrency bounds in-flight payload fetches.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithCallTimeout bounds every individual bus call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithClock overrides time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service reading from b and classifying with dec.
func New(b bus.Bus, dec *decoder.Decoder, opts ...Option) (*Service, error) {
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if dec == nil {
		dec = decoder.New()
	}
	s := &Service{
		bus:         b,
		decoder:     dec,
		logger:      slog.Default(),
		tracer:      otel.Tracer("certbridge/internal/reconcile"),
		limit:       defaultMessageLimit,
		concurrency: defaultConcurrency,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// fetched is the outcome of reading one message's payloads.
type fetched struct {
	env      bus.Envelope
	payloads [][]byte
	fetchErr error
}

// Run performs one full reconciliation pass. It returns ctx.Err() and no
// report when the caller cancels; every other failure is folded into the
// report as a recorded failure or the degraded flag.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	report, _, err := s.pass(ctx)
	return report, err
}

func (s *Service) pass(ctx context.Context) (*Report, ledger.Ledger, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "reconcile.Run")
	defer span.End()

	report, l, err := s.run(ctx)
	switch {
	case err != nil:
		s.metrics.ObservePass("cancelled", time.Since(start))
		s.logger.DebugContext(ctx, "reconciliation pass cancelled", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, nil, err
	case report.Degraded:
		s.metrics.ObservePass("degraded", time.Since(start))
	default:
		s.metrics.ObservePass("ok", time.Since(start))
	}

	report.GeneratedAt = s.now().UTC()
	s.metrics.SetMessagesSeen(report.MessagesSeen)
	byStatus := make(map[string]int, len(report.Stats.ByStatus))
	for st, n := range report.Stats.ByStatus {
		byStatus[string(st)] = n
	}
	s.metrics.SetBatchesByStatus(byStatus)

	span.SetAttributes(
		attribute.Int("reconcile.messages", report.MessagesSeen),
		attribute.Int("reconcile.batches", len(report.Rows)),
		attribute.Int("reconcile.failures", len(report.Failures)),
		attribute.Bool("reconcile.degraded", report.Degraded),
	)
	return report, l, nil
}

func (s *Service) run(ctx context.Context) (*Report, ledger.Ledger, error) {
	envs, truncated, err := s.list(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		s.metrics.IncrementDegraded("list")
		s.logger.WarnContext(ctx, "bus listing failed, returning degraded report", "error", err)
		empty := &Report{Rows: []ReportRow{}, Stats: Summarize(nil), Failures: []*decoder.DecodeError{}, Degraded: true}
		return empty, ledger.Ledger{}, nil
	}

	results, err := s.fetchAll(ctx, envs)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{MessagesSeen: len(envs), Failures: []*decoder.DecodeError{}}
	if truncated {
		report.Truncated = true
		report.Degraded = true
		s.metrics.IncrementDegraded("truncated")
		s.logger.WarnContext(ctx, "message history exceeds the listing limit, oldest messages left out",
			"limit", s.limit,
		)
	}
	events := make([]decoder.Event, 0, len(results))
	for _, res := range results {
		ev, failure := s.decode(res)
		if failure != nil {
			report.Failures = append(report.Failures, failure)
			if bus.IsTransport(failure.Err) {
				report.Degraded = true
			}
			s.metrics.IncrementDecodeFailure(failure.Reason)
			s.logger.WarnContext(ctx, "message skipped",
				"message_id", failure.MessageID,
				"reason", failure.Reason,
				"detail", failure.Detail,
			)
			continue
		}
		if ev.Kind != decoder.KindUnknown {
			events = append(events, ev)
		}
	}
	if report.Degraded && !report.Truncated {
		s.metrics.IncrementDegraded("fetch")
		s.logger.WarnContext(ctx, "some payloads were unreachable, returning degraded report",
			"failures", len(report.Failures),
		)
	}

	_, foldSpan := s.tracer.Start(ctx, "reconcile.fold")
	l := ledger.Fold(events)
	report.Rows = Reconcile(l)
	report.Stats = Summarize(report.Rows)
	foldSpan.SetAttributes(attribute.Int("reconcile.events", len(events)))
	foldSpan.End()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return report, l, nil
}

// list asks for one message more than the limit so it can tell a full
// history from a cut one. The extra, oldest envelope is dropped.
func (s *Service) list(ctx context.Context) ([]bus.Envelope, bool, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.list")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	envs, err := s.bus.ListMessages(callCtx, bus.Filter{Type: bus.MessageTypePrivate}, s.limit+1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, false, err
	}
	truncated := len(envs) > s.limit
	if truncated {
		envs = envs[len(envs)-s.limit:]
	}
	span.SetAttributes(attribute.Bool("reconcile.truncated", truncated))
	return envs, truncated, nil
}

// fetchAll reads every message's payloads with at most s.concurrency
// messages in flight. Per-message failures are kept on the result; only
// caller cancellation stops the group.
func (s *Service) fetchAll(ctx context.Context, envs []bus.Envelope) ([]fetched, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.fetch")
	defer span.End()

	results := make([]fetched, len(envs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, env := range envs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.fetchOne(gctx, env)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) fetchOne(ctx context.Context, env bus.Envelope) fetched {
	res := fetched{env: env}
	for _, ref := range env.PayloadRefs {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		data, err := s.bus.FetchPayload(callCtx, ref)
		cancel()
		if err != nil {
			if res.fetchErr == nil {
				res.fetchErr = err
				if !errors.Is(err, sentinel.ErrNotFound) {
					res.fetchErr = bus.NewTransportError("fetch_payload", err)
				}
			}
			continue
		}
		res.payloads = append(res.payloads, data)
	}
	return res
}

// decode classifies one fetched message. A fetch error only becomes the
// recorded failure when the remaining payloads did not yield an event.
func (s *Service) decode(res fetched) (decoder.Event, *decoder.DecodeError) {
	if len(res.payloads) == 0 && res.fetchErr != nil {
		return decoder.Event{}, decoder.FetchFailure(res.env.ID, res.fetchErr)
	}
	ev, err := s.decoder.Decode(res.env, res.payloads)
	if ev.Kind != decoder.KindUnknown {
		return ev, nil
	}
	if res.fetchErr != nil {
		return decoder.Event{}, decoder.FetchFailure(res.env.ID, res.fetchErr)
	}
	if err != nil {
		var de *decoder.DecodeError
		if errors.As(err, &de) {
			return decoder.Event{}, de
		}
		return decoder.Event{}, &decoder.DecodeError{MessageID: res.env.ID, Reason: decoder.ReasonInvalidJSON, Detail: err.Error(), Err: err}
	}
	return ev, nil
}

// BatchStatistics returns one batch's row. The relational store answers
// first when configured; otherwise, or on a miss, a full pass is run.
func (s *Service) BatchStatistics(ctx context.Context, batchID id.BatchID) (*ReportRow, error) {
	if batchID.IsNil() {
		return nil, dErrors.Missing("batch id is required", "batchId")
	}

	if s.store != nil {
		stats, err := s.store.FindBatchStatistics(ctx, batchID)
		switch {
		case err == nil && stats != nil:
			s.metrics.IncrementStoreLookup("hit")
			row := RowFromStatistics(*stats)
			return &row, nil
		case err == nil, errors.Is(err, sentinel.ErrNotFound):
			s.metrics.IncrementStoreLookup("miss")
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.metrics.IncrementStoreLookup("error")
			s.logger.WarnContext(ctx, "batch statistics store lookup failed, falling back to bus",
				"batch_id", batchID,
				"error", err,
			)
		}
	}

	report, err := s.Run(ctx)
	if err != nil {
		return nil, err
	}
	if row, ok := report.Find(batchID); ok {
		return &row, nil
	}
	if report.Degraded {
		return nil, dErrors.New(dErrors.CodeUnavailable, "batch not found and the bus was only partially readable")
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "batch not found")
}

// Submission returns the earliest submission recorded for batchID. Issuers
// use it to check certificate requests against what was actually sent.
func (s *Service) Submission(ctx context.Context, batchID id.BatchID) (*models.SubmissionEvent, error) {
	if batchID.IsNil() {
		return nil, dErrors.Missing("batch id is required", "batchId")
	}
	report, l, err := s.pass(ctx)
	if err != nil {
		return nil, err
	}
	if p, ok := l[batchID]; ok && p.Submission != nil {
		return p.Submission, nil
	}
	if report.Degraded {
		return nil, dErrors.New(dErrors.CodeUnavailable, "batch not found and the bus was only partially readable")
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "batch not found")
}
