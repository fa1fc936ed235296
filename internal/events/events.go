// Package events carries payment lifecycle events between the gateway and the ledger service.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	TopicStateChanged    = "payment.state.changed"
	TopicPaymentComplete = "payment.completed"
	TopicAdRewardGranted = "ad.reward.granted"
)

type StateChanged struct {
	EventID       string    `json:"event_id"`
	PaymentID     string    `json:"payment_id"`
	State         string    `json:"state"`
	PreviousState string    `json:"previous_state"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentCompleted is published once a payment has a verified transaction.
type PaymentCompleted struct {
	EventID   string          `json:"event_id"`
	PaymentID string          `json:"payment_id"`
	TxID      string          `json:"txid"`
	ProfileID string          `json:"profile_id"`
	PiUID     string          `json:"pi_uid"`
	ItemID    string          `json:"item_id"`
	ItemType  string          `json:"item_type"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type AdRewardGranted struct {
	EventID   string          `json:"event_id"`
	AdID      string          `json:"ad_id"`
	ProfileID string          `json:"profile_id"`
	PiUID     string          `json:"pi_uid"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// NewWriter returns a writer that routes each message by its Topic field.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

// NewID returns a fresh event identifier.
func NewID() string {
	return uuid.New().String()
}

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
