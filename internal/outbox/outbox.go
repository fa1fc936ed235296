// Package outbox delivers events that were written in the same database transaction as
// the state change they describe. A Relay publishes pending messages until the publisher
// accepts them, so a broker outage delays events instead of losing them.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/events"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
)

const (
	DefaultBatchSize = 100
	DefaultInterval  = 500 * time.Millisecond
	DefaultLease     = 5 * time.Second
)

type Message struct {
	ID       int64
	Topic    string
	Key      string
	Payload  []byte
	Attempts int
}

// New encodes event for topic. Key is the partition key, usually the payment or ad ID.
func New(topic, key string, event any) (Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s event: %w", topic, err)
	}
	return Message{Topic: topic, Key: key, Payload: payload}, nil
}

// Store persists messages. LockBatch leases up to limit undelivered messages to relayID;
// a message whose lease expires without MarkSent is handed out again.
type Store interface {
	LockBatch(ctx context.Context, relayID string, limit int, lease time.Duration) ([]Message, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

type Relay struct {
	store     Store
	publisher events.Publisher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
	log       *zap.Logger
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.log = l }
}

func NewRelay(store Store, publisher events.Publisher, relayID string, opts ...Option) *Relay {
	if publisher == nil {
		publisher = events.Nop{}
	}
	r := &Relay{
		store:     store,
		publisher: publisher,
		relayID:   relayID,
		batchSize: DefaultBatchSize,
		interval:  DefaultInterval,
		lease:     DefaultLease,
		log:       telemetry.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// RunOnce publishes one batch and returns how many messages were delivered. Messages the
// publisher rejects stay pending for the next batch.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	batch, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, fmt.Errorf("lock outbox batch: %w", err)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

	sent := make([]int64, 0, len(batch))
	failedKeys := map[string]bool{}
	for _, msg := range batch {
		// Keep per-key order: once a message for a key fails, later ones wait.
		if failedKeys[msg.Key] {
			continue
		}
		if err := r.publisher.Publish(ctx, msg.Topic, msg.Key, json.RawMessage(msg.Payload)); err != nil {
			failedKeys[msg.Key] = true
			telemetry.OutboxDeliveries.WithLabelValues("failed").Inc()
			r.log.Warn("Outbox publish failed",
				zap.Int64("outbox_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Int("attempts", msg.Attempts),
				zap.Error(err),
			)
			if err := r.store.MarkFailed(ctx, msg.ID, err.Error()); err != nil {
				r.log.Error("Failed to record outbox failure", zap.Int64("outbox_id", msg.ID), zap.Error(err))
			}
			continue
		}
		telemetry.OutboxDeliveries.WithLabelValues("sent").Inc()
		sent = append(sent, msg.ID)
	}

	if len(sent) == 0 {
		return 0, nil
	}
	if err := r.store.MarkSent(ctx, sent); err != nil {
		return 0, fmt.Errorf("mark outbox sent: %w", err)
	}
	return len(sent), nil
}

// Run calls RunOnce every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("Outbox relay failed", zap.Error(err))
			}
		}
	}
}
