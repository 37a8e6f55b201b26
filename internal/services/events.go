package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/example/bondsnbeyond/internal/config"
)

// Event types published to the event topic.
const (
	EventOrderCreated   = "order.created"
	EventOrderConfirmed = "order.confirmed"
	EventOrderCancelled = "order.cancelled"
	EventUserRegistered = "user.registered"
)

// EventPublisher emits domain events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, data any) error
}

// Event is the envelope written to Kafka.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// KafkaPublisher writes events to one topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns nil when no brokers are configured.
func NewKafkaPublisher(cfg config.Kafka) *KafkaPublisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}

	transport := kafka.DefaultTransport
	if cfg.Username != "" {
		transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: cfg.Username, Password: cfg.Password},
			TLS:  &tls.Config{},
		}
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Transport:    transport,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish writes one event keyed by key. A nil publisher skips silently.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, data any) error {
	if p == nil || p.writer == nil {
		return nil
	}

	value, err := json.Marshal(Event{Type: eventType, OccurredAt: time.Now().UTC(), Data: data})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func publish(ctx context.Context, pub EventPublisher, eventType, key string, data any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, eventType, key, data); err != nil {
		log.Printf("[Kafka] publish %s for %s failed: %v", eventType, key, err)
	}
}
