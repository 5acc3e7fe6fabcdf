// Package events publishes shock alerts to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"narrativeos/internal/config"
	"narrativeos/internal/core"
	"narrativeos/internal/logger"
)

// EventShockAlert is the event type header of alert messages.
const EventShockAlert = "shock_alert"

// Publisher sends alerts somewhere outside the process.
type Publisher interface {
	Publish(ctx context.Context, alerts []core.Alert) error
	Close() error
}

// NopPublisher discards alerts.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []core.Alert) error { return nil }
func (NopPublisher) Close() error                                { return nil }

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per alert, keyed by cluster ID so
// a cluster's alerts stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

// NewKafkaPublisher creates a publisher for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher needs at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher needs a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, topic), nil
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, log: logger.Get()}
}

// Publish writes alerts as a single batch.
func (p *KafkaPublisher) Publish(ctx context.Context, alerts []core.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		value, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode alert for %s: %w", a.ClusterID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.ClusterID),
			Value: value,
			Time:  a.Timestamp,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(EventShockAlert)},
				{Key: "severity", Value: []byte(a.Severity)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d alerts to %s: %w", len(msgs), p.topic, err)
	}
	p.log.Info("Alerts published", "topic", p.topic, "count", len(msgs))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewFromConfig returns a Kafka publisher when enabled, otherwise a no-op.
func NewFromConfig(cfg config.KafkaConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}
