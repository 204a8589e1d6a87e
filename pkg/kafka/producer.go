// Package kafka wraps franz-go with the small Producer/Consumer surface
// the saga engine and outbox drainer depend on.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a topic-addressed record ready to publish.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ProducerConfig configures the underlying franz-go client and the retry
// loop Produce wraps around each send.
type ProducerConfig struct {
	Brokers       []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
}

// Producer publishes messages with synchronous acknowledgement.
type Producer struct {
	client *kgo.Client
	config *ProducerConfig
}

// NewProducer dials the given brokers and verifies connectivity with a
// ping before returning.
func NewProducer(ctx context.Context, cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka: ping brokers: %w", err)
	}

	return &Producer{client: client, config: cfg}, nil
}

func toRecord(msg *Message) *kgo.Record {
	rec := &kgo.Record{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	if !msg.Timestamp.IsZero() {
		rec.Timestamp = msg.Timestamp
	}
	for k, v := range msg.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return rec
}

// Produce sends msg synchronously, retrying broker-level errors up to
// config.MaxRetries times with config.RetryInterval between attempts.
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	interval := p.config.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		result := p.client.ProduceSync(ctx, toRecord(msg))
		if err := result.FirstErr(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == p.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("kafka: produce to %s: %w", msg.Topic, lastErr)
}

// ProduceJSON marshals value and produces it with headers attached verbatim.
func (p *Producer) ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: marshal payload: %w", err)
	}

	return p.Produce(ctx, &Message{
		Topic:     topic,
		Key:       []byte(key),
		Value:     payload,
		Headers:   headers,
		Timestamp: time.Now(),
	})
}

// Close flushes in-flight records and releases the underlying connections.
func (p *Producer) Close() {
	p.client.Close()
}

// Ping verifies broker connectivity, for use by a readiness probe.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}
