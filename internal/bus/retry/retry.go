// Package retry decorates a bus with bounded exponential backoff for
// transport failures. Non-transport errors such as not found are returned
// immediately. An optional circuit breaker drops to a single attempt while
// the bus keeps failing.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"certbridge/internal/bus"
	id "certbridge/pkg/domain"
	"certbridge/pkg/platform/circuit"
)

const (
	defaultAttempts        = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// Bus retries transport failures of the wrapped bus.
type Bus struct {
	next            bus.Bus
	attempts        int
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *slog.Logger
	breaker         *circuit.Breaker
}

// Option configures the retrying bus.
type Option func(*Bus)

// WithAttempts sets the total number of attempts, including the first.
func WithAttempts(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.attempts = n
		}
	}
}

// WithIntervals sets the initial and maximum backoff interval.
func WithIntervals(initial, max time.Duration) Option {
	return func(b *Bus) {
		if initial > 0 {
			b.initialInterval = initial
		}
		if max > 0 {
			b.maxInterval = max
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithBreaker skips backoff while breaker is open.
func WithBreaker(breaker *circuit.Breaker) Option {
	return func(b *Bus) {
		b.breaker = breaker
	}
}

// Wrap decorates next.
func Wrap(next bus.Bus, opts ...Option) *Bus {
	b := &Bus{
		next:            next,
		attempts:        defaultAttempts,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) ListMessages(ctx context.Context, filter bus.Filter, limit int) ([]bus.Envelope, error) {
	var out []bus.Envelope
	err := b.do(ctx, "list_messages", func() error {
		var err error
		out, err = b.next.ListMessages(ctx, filter, limit)
		return err
	})
	return out, err
}

func (b *Bus) FetchPayload(ctx context.Context, ref bus.PayloadRef) ([]byte, error) {
	var out []byte
	err := b.do(ctx, "fetch_payload", func() error {
		var err error
		out, err = b.next.FetchPayload(ctx, ref)
		return err
	})
	return out, err
}

// Publish is retried like reads. A retried publish may duplicate a message;
// the ledger fold deduplicates submissions and certificates, so duplicates
// are harmless to reconciliation.
func (b *Bus) Publish(ctx context.Context, payload []byte, recipient bus.Identity) (id.MessageID, error) {
	var out id.MessageID
	err := b.do(ctx, "publish", func() error {
		var err error
		out, err = b.next.Publish(ctx, payload, recipient)
		return err
	})
	return out, err
}

func (b *Bus) ResolveIdentity(ctx context.Context, orgName string) (bus.Identity, error) {
	var out bus.Identity
	err := b.do(ctx, "resolve_identity", func() error {
		var err error
		out, err = b.next.ResolveIdentity(ctx, orgName)
		return err
	})
	return out, err
}

func (b *Bus) do(ctx context.Context, op string, call func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.initialInterval
	policy.MaxInterval = b.maxInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := call()
		if err == nil {
			return nil
		}
		if !bus.IsTransport(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		b.logger.WarnContext(ctx, "bus call failed, retrying",
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	attempts := b.attempts
	if b.breaker != nil && b.breaker.IsOpen() {
		attempts = 1
	}
	policyWithLimit := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(operation, policyWithLimit, notify)
	b.record(ctx, op, err)
	if err != nil && ctx.Err() != nil {
		// Callers tell cancellation apart by checking their own context.
		return bus.NewTransportError(op, ctx.Err())
	}
	return err
}

// record feeds the outcome to the breaker. Only transport failures count
// against the bus; a not-found answer proves it is reachable.
func (b *Bus) record(ctx context.Context, op string, err error) {
	if b.breaker == nil || ctx.Err() != nil {
		return
	}
	if err != nil && bus.IsTransport(err) {
		if _, change := b.breaker.RecordFailure(); change.Opened {
			b.logger.WarnContext(ctx, "bus circuit opened, retries suspended",
				"breaker", b.breaker.Name(),
				"op", op,
				"error", err,
			)
		}
		return
	}
	if _, change := b.breaker.RecordSuccess(); change.Closed {
		b.logger.InfoContext(ctx, "bus circuit closed, retries resumed",
			"breaker", b.breaker.Name(),
			"op", op,
		)
	}
}
