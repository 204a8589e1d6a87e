package events

import (
	"context"
	"sync"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/store"
	"github.com/prohmpiriya/booking-orchestrator/pkg/kafka"
	"github.com/prohmpiriya/booking-orchestrator/pkg/logger"
)

// DrainerConfig tunes an OutboxDrainer's poll cadence and batch size.
type DrainerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultDrainerConfig mirrors the teacher's outbox worker defaults.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		PollInterval: time.Second,
		BatchSize:    100,
	}
}

// OutboxDrainer polls store.OutboxSource for undelivered events and
// publishes each to Kafka, marking it published only after a successful
// send. A crash between publish and mark redelivers the event; consumers
// must treat delivery as at-least-once.
type OutboxDrainer struct {
	source   store.OutboxSource
	producer *kafka.Producer
	config   DrainerConfig

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewOutboxDrainer wires a source and producer with cfg's cadence. A zero
// cfg falls back to DefaultDrainerConfig.
func NewOutboxDrainer(source store.OutboxSource, producer *kafka.Producer, cfg DrainerConfig) *OutboxDrainer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &OutboxDrainer{source: source, producer: producer, config: cfg, stopCh: make(chan struct{})}
}

// Start runs the poll loop in a background goroutine until Stop is called.
func (d *OutboxDrainer) Start(ctx context.Context) {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return
	}
	d.active = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)
}

// Stop signals the poll loop to exit and waits for it to finish.
func (d *OutboxDrainer) Stop() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
}

func (d *OutboxDrainer) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *OutboxDrainer) drainOnce(ctx context.Context) {
	pending, err := d.source.FetchPendingOutbox(ctx, d.config.BatchSize)
	if err != nil {
		logger.Get().Error("outbox_fetch_failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	var published []int64
	for _, rec := range pending {
		topic := "booking-orchestrator." + rec.EventType
		headers := map[string]string{
			"event_type": rec.EventType,
			"booking_id": rec.BookingID,
			"source":     "saga-worker",
		}
		if err := d.producer.Produce(ctx, &kafka.Message{
			Topic:   topic,
			Key:     []byte(rec.BookingID),
			Value:   rec.Payload,
			Headers: headers,
		}); err != nil {
			logger.Get().Warn("outbox_publish_failed", "booking_id", rec.BookingID, "event_type", rec.EventType, "error", err)
			continue
		}
		published = append(published, rec.ID)
	}

	if len(published) == 0 {
		return
	}
	if err := d.source.MarkOutboxPublished(ctx, published); err != nil {
		logger.Get().Error("outbox_mark_published_failed", "error", err)
	}
}
