// Package memory is an in-process implementation of the bus contract used in
// dev mode and tests. Messages are appended in publish order and listed
// oldest first by creation time, like a replayed topic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"certbridge/internal/bus"
	id "certbridge/pkg/domain"
	"certbridge/pkg/platform/sentinel"
)

// Bus stores envelopes and payload blobs in memory.
type Bus struct {
	mu        sync.RWMutex
	self      bus.Identity
	directory *bus.Directory
	messages  []bus.Envelope
	payloads  map[bus.PayloadRef][]byte
	clock     func() time.Time
}

// Option configures the Bus.
type Option func(*Bus)

// WithClock overrides time.Now for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// New creates an empty bus acting as self.
func New(self bus.Identity, directory *bus.Directory, opts ...Option) *Bus {
	if directory == nil {
		directory = bus.NewDirectory(self)
	}
	b := &Bus{
		self:      self,
		directory: directory,
		payloads:  make(map[bus.PayloadRef][]byte),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) ListMessages(ctx context.Context, filter bus.Filter, limit int) ([]bus.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]bus.Envelope, 0, len(b.messages))
	for _, env := range b.messages {
		if filter.Type != "" && env.Type != filter.Type {
			continue
		}
		env.PayloadRefs = append([]bus.PayloadRef(nil), env.PayloadRefs...)
		out = append(out, env)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (b *Bus) FetchPayload(ctx context.Context, ref bus.PayloadRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	data, ok := b.payloads[ref]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("payload %s: %w", ref, sentinel.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (b *Bus) Publish(ctx context.Context, payload []byte, recipient bus.Identity) (id.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := bus.PayloadRef(uuid.NewString())
	env := bus.Envelope{
		ID:             id.MessageID(uuid.NewString()),
		Type:           bus.MessageTypePrivate,
		CreatedAt:      b.clock().UTC(),
		AuthorIdentity: b.self.Name,
		Recipient:      recipient.Name,
		IsLocal:        true,
		PayloadRefs:    []bus.PayloadRef{ref},
	}

	b.mu.Lock()
	b.payloads[ref] = append([]byte(nil), payload...)
	b.messages = append(b.messages, env)
	b.mu.Unlock()
	return env.ID, nil
}

func (b *Bus) ResolveIdentity(_ context.Context, orgName string) (bus.Identity, error) {
	return b.directory.Resolve(orgName)
}

// Inject appends a pre-built envelope and its payloads. Tests use it to
// replay historical traffic with arbitrary shapes, flags and timestamps.
func (b *Bus) Inject(env bus.Envelope, payloads ...[]byte) bus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if env.ID == "" {
		env.ID = id.MessageID(uuid.NewString())
	}
	if env.Type == "" {
		env.Type = bus.MessageTypePrivate
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = b.clock().UTC()
	}
	env.PayloadRefs = nil
	for _, p := range payloads {
		ref := bus.PayloadRef(uuid.NewString())
		b.payloads[ref] = append([]byte(nil), p...)
		env.PayloadRefs = append(env.PayloadRefs, ref)
	}
	b.messages = append(b.messages, env)
	return env
}

// Len returns the number of stored messages.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}
