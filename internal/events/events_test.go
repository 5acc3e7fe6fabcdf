package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"narrativeos/internal/config"
	"narrativeos/internal/core"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "narrative-alerts")
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), []core.Alert{
		{ClusterID: "c1", ClusterName: "AI Chips", Delta: 20, Severity: core.SeverityHigh, Message: "m1", Timestamp: at},
		{ClusterID: "c2", ClusterName: "Oil", Delta: -7, Severity: core.SeverityMedium, Message: "m2", Timestamp: at},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "c1" || !msg.Time.Equal(at) {
		t.Errorf("key/time = %q/%v", msg.Key, msg.Time)
	}
	var decoded core.Alert
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("message value is not an alert: %v", err)
	}
	if decoded.ClusterName != "AI Chips" || decoded.Severity != core.SeverityHigh {
		t.Errorf("decoded = %+v", decoded)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] != EventShockAlert || headers["severity"] != "High" {
		t.Errorf("headers = %v", headers)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}

func TestKafkaPublisherEmptyAndErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, "t")

	if err := p.Publish(context.Background(), nil); err != nil {
		t.Errorf("Publish(nil) error = %v", err)
	}
	if err := p.Publish(context.Background(), []core.Alert{{ClusterID: "c1"}}); err == nil {
		t.Error("Publish() should surface writer errors")
	}
}

func TestNewFromConfig(t *testing.T) {
	p, err := NewFromConfig(config.KafkaConfig{})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if _, ok := p.(NopPublisher); !ok {
		t.Errorf("disabled config gave %T, want NopPublisher", p)
	}

	if _, err := NewFromConfig(config.KafkaConfig{Enabled: true, Topic: "t"}); err == nil {
		t.Error("enabled config without brokers should fail")
	}

	p, err = NewFromConfig(config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t"})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if _, ok := p.(*KafkaPublisher); !ok {
		t.Errorf("enabled config gave %T", p)
	}
	_ = p.Close()
}
