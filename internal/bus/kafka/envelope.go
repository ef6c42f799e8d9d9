package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"certbridge/internal/bus"
	id "certbridge/pkg/domain"
)

// record is the value written to the topic. IsLocal is not stored; each
// reader derives it from the author.
type record struct {
	ID          id.MessageID     `json:"id"`
	Type        bus.MessageType  `json:"type"`
	CreatedAt   time.Time        `json:"created_at"`
	Author      string           `json:"author"`
	Recipient   string           `json:"recipient,omitempty"`
	PayloadRefs []bus.PayloadRef `json:"payload_refs"`
}

func encodeRecord(topic string, env bus.Envelope, recipientID string) (*kgo.Record, error) {
	value, err := json.Marshal(record{
		ID:          env.ID,
		Type:        env.Type,
		CreatedAt:   env.CreatedAt,
		Author:      env.AuthorIdentity,
		Recipient:   env.Recipient,
		PayloadRefs: env.PayloadRefs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return &kgo.Record{
		Topic:     topic,
		Key:       []byte(recipientID),
		Value:     value,
		Timestamp: env.CreatedAt,
	}, nil
}

// decodeRecord reads an envelope as seen by self.
func decodeRecord(r *kgo.Record, self bus.Identity) (bus.Envelope, error) {
	var rec record
	if err := json.Unmarshal(r.Value, &rec); err != nil {
		return bus.Envelope{}, fmt.Errorf("decode envelope at %s/%d@%d: %w", r.Topic, r.Partition, r.Offset, err)
	}
	if rec.ID == "" {
		return bus.Envelope{}, fmt.Errorf("decode envelope at %s/%d@%d: missing id", r.Topic, r.Partition, r.Offset)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.Timestamp
	}
	if rec.Type == "" {
		rec.Type = bus.MessageTypePrivate
	}
	return bus.Envelope{
		ID:             rec.ID,
		Type:           rec.Type,
		CreatedAt:      createdAt.UTC(),
		AuthorIdentity: rec.Author,
		Recipient:      rec.Recipient,
		IsLocal:        sameOrg(rec.Author, self.Name),
		PayloadRefs:    rec.PayloadRefs,
	}, nil
}

// visible reports whether self took part in the message. Broadcasts are
// visible to everyone.
func visible(env bus.Envelope, self bus.Identity) bool {
	if env.Type == bus.MessageTypeBroadcast {
		return true
	}
	return sameOrg(env.AuthorIdentity, self.Name) || sameOrg(env.Recipient, self.Name)
}

func sameOrg(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
