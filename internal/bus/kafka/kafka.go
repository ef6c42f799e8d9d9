// Package kafka implements the bus over a single Kafka topic. Each message
// is one record holding the envelope; payload blobs live in a PayloadStore.
// Listing replays the topic from the start up to the current end offsets,
// so every pass sees the full history.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"certbridge/internal/bus"
	id "certbridge/pkg/domain"
	"certbridge/pkg/platform/sentinel"
)

const defaultTopic = "certbridge.private"

// Bus is a Kafka-backed bus.Bus.
type Bus struct {
	brokers   []string
	topic     string
	client    *kgo.Client
	admin     *kadm.Client
	payloads  PayloadStore
	self      bus.Identity
	directory *bus.Directory
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures the Bus.
type Option func(*Bus)

func WithTopic(topic string) Option {
	return func(b *Bus) {
		if topic != "" {
			b.topic = topic
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithClock overrides time.Now for envelope timestamps.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// New connects a producer client. The topic is not created here; call
// EnsureTopic during startup.
func New(brokers []string, self bus.Identity, directory *bus.Directory, payloads PayloadStore, opts ...Option) (*Bus, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if payloads == nil {
		return nil, fmt.Errorf("payload store is required")
	}
	if directory == nil {
		directory = bus.NewDirectory(self)
	}
	b := &Bus{
		brokers:   brokers,
		topic:     defaultTopic,
		payloads:  payloads,
		self:      self,
		directory: directory,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(b.topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	b.client = client
	b.admin = kadm.NewClient(client)
	return b, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (b *Bus) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	resp, err := b.admin.CreateTopics(ctx, partitions, replicationFactor, nil, b.topic)
	if err != nil {
		return bus.NewTransportError("ensure_topic", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Ping checks that at least one broker answers.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b *Bus) Close() {
	b.client.Close()
}

func (b *Bus) Publish(ctx context.Context, payload []byte, recipient bus.Identity) (id.MessageID, error) {
	ref := bus.PayloadRef(uuid.NewString())
	if err := b.payloads.Put(ctx, ref, payload); err != nil {
		return "", bus.NewTransportError("publish", err)
	}

	env := bus.Envelope{
		ID:             id.MessageID(uuid.NewString()),
		Type:           bus.MessageTypePrivate,
		CreatedAt:      b.clock().UTC(),
		AuthorIdentity: b.self.Name,
		Recipient:      recipient.Name,
		PayloadRefs:    []bus.PayloadRef{ref},
	}
	rec, err := encodeRecord(b.topic, env, recipient.ID)
	if err != nil {
		return "", err
	}
	if err := b.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return "", bus.NewTransportError("publish", err)
	}

	b.logger.DebugContext(ctx, "message published",
		"message_id", env.ID,
		"recipient", recipient.Name,
		"partition", rec.Partition,
		"offset", rec.Offset,
	)
	return env.ID, nil
}

// ListMessages replays the topic and returns the envelopes self took part
// in, oldest first. A positive limit keeps the newest limit envelopes.
func (b *Bus) ListMessages(ctx context.Context, filter bus.Filter, limit int) ([]bus.Envelope, error) {
	ends, err := b.endOffsets(ctx)
	if err != nil {
		return nil, err
	}
	if len(ends) == 0 {
		return []bus.Envelope{}, nil
	}

	starts := make(map[int32]kgo.Offset, len(ends))
	for p := range ends {
		starts[p] = kgo.NewOffset().AtStart()
	}
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{b.topic: starts}),
	)
	if err != nil {
		return nil, bus.NewTransportError("list_messages", err)
	}
	defer consumer.Close()

	var out []bus.Envelope
	for len(ends) > 0 {
		fetches := consumer.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return nil, bus.NewTransportError("list_messages", err)
		}
		var fetchErr error
		fetches.EachError(func(_ string, _ int32, err error) {
			if fetchErr == nil {
				fetchErr = err
			}
		})
		if fetchErr != nil {
			return nil, bus.NewTransportError("list_messages", fetchErr)
		}

		fetches.EachRecord(func(r *kgo.Record) {
			end, ok := ends[r.Partition]
			if !ok || r.Offset >= end {
				return
			}
			if r.Offset >= end-1 {
				delete(ends, r.Partition)
			}
			env, err := decodeRecord(r, b.self)
			if err != nil {
				b.logger.WarnContext(ctx, "skipping unreadable record", "error", err)
				return
			}
			if filter.Type != "" && env.Type != filter.Type {
				return
			}
			if !visible(env, b.self) {
				return
			}
			out = append(out, env)
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []bus.Envelope{}
	}
	return out, nil
}

// endOffsets returns the partitions that still hold records, keyed to their
// end offset. A missing topic reads as empty.
func (b *Bus) endOffsets(ctx context.Context) (map[int32]int64, error) {
	startListed, err := b.admin.ListStartOffsets(ctx, b.topic)
	if err != nil {
		return nil, bus.NewTransportError("list_messages", err)
	}
	endListed, err := b.admin.ListEndOffsets(ctx, b.topic)
	if err != nil {
		return nil, bus.NewTransportError("list_messages", err)
	}

	starts, err := offsetsByPartition(startListed)
	if err != nil {
		return nil, bus.NewTransportError("list_messages", err)
	}
	ends, err := offsetsByPartition(endListed)
	if err != nil {
		return nil, bus.NewTransportError("list_messages", err)
	}
	for p, end := range ends {
		if end <= starts[p] {
			delete(ends, p)
		}
	}
	return ends, nil
}

func offsetsByPartition(listed kadm.ListedOffsets) (map[int32]int64, error) {
	out := make(map[int32]int64)
	var listErr error
	listed.Each(func(o kadm.ListedOffset) {
		if o.Err != nil {
			if !errors.Is(o.Err, kerr.UnknownTopicOrPartition) && listErr == nil {
				listErr = o.Err
			}
			return
		}
		out[o.Partition] = o.Offset
	})
	return out, listErr
}

func (b *Bus) FetchPayload(ctx context.Context, ref bus.PayloadRef) ([]byte, error) {
	data, err := b.payloads.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		return nil, bus.NewTransportError("fetch_payload", err)
	}
	return data, nil
}

func (b *Bus) ResolveIdentity(_ context.Context, orgName string) (bus.Identity, error) {
	return b.directory.Resolve(orgName)
}
