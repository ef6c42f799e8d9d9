package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certbridge/internal/bus"
	"certbridge/pkg/platform/sentinel"
)

const defaultPayloadPrefix = "certbridge:payload:"

// PayloadStore holds payload blobs out of band. Records on the topic carry
// only references, which keeps them small and lets blobs expire on their own.
type PayloadStore interface {
	Put(ctx context.Context, ref bus.PayloadRef, data []byte) error
	Get(ctx context.Context, ref bus.PayloadRef) ([]byte, error)
}

// RedisPayloads stores blobs as plain string keys.
type RedisPayloads struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// PayloadOption configures RedisPayloads.
type PayloadOption func(*RedisPayloads)

// WithPayloadTTL expires blobs after ttl. Zero keeps them forever.
func WithPayloadTTL(ttl time.Duration) PayloadOption {
	return func(p *RedisPayloads) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces blob keys.
func WithKeyPrefix(prefix string) PayloadOption {
	return func(p *RedisPayloads) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

func NewRedisPayloads(client redis.Cmdable, opts ...PayloadOption) *RedisPayloads {
	p := &RedisPayloads{client: client, prefix: defaultPayloadPrefix}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisPayloads) key(ref bus.PayloadRef) string {
	return p.prefix + string(ref)
}

func (p *RedisPayloads) Put(ctx context.Context, ref bus.PayloadRef, data []byte) error {
	if err := p.client.Set(ctx, p.key(ref), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("store payload %s: %w", ref, err)
	}
	return nil
}

// Get returns sentinel.ErrNotFound for unknown or expired refs.
func (p *RedisPayloads) Get(ctx context.Context, ref bus.PayloadRef) ([]byte, error) {
	data, err := p.client.Get(ctx, p.key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("payload %s: %w", ref, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load payload %s: %w", ref, err)
	}
	return data, nil
}
