package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prohmpiriya/booking-orchestrator/pkg/kafka"
	"github.com/prohmpiriya/booking-orchestrator/pkg/logger"
)

// driveRequest is the body of a message the WorkerPool consumes: a
// booking_id to drive. Nothing in this module publishes these messages;
// the Facade calls its drive function directly.
type driveRequest struct {
	BookingID string `json:"booking_id"`
}

// WorkerPool pulls queued booking_ids off a Kafka topic and drives each
// through the Engine, bounded to concurrency in-flight at a time so one
// process never opens more downstream connections than its deadline
// budget can sustain. It commits a record only after Drive returns, so a
// crash mid-drive leaves the record uncommitted for a future poll to
// pick up again — the same at-least-once handoff SagaConsumer makes to
// its handler.
type WorkerPool struct {
	consumer    *kafka.Consumer
	engine      *Engine
	concurrency int
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// WorkerPoolConfig configures a WorkerPool's Kafka subscription and
// in-flight bound.
type WorkerPoolConfig struct {
	Brokers     []string
	GroupID     string
	Topic       string
	ClientID    string
	Concurrency int
}

// NewWorkerPool joins cfg.GroupID on cfg.Topic and wires it to drive
// bookings through engine.
func NewWorkerPool(ctx context.Context, engine *Engine, cfg WorkerPoolConfig) (*WorkerPool, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topics:   []string{cfg.Topic},
		ClientID: cfg.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("worker pool: new consumer: %w", err)
	}
	return &WorkerPool{
		consumer:    consumer,
		engine:      engine,
		concurrency: cfg.Concurrency,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins polling in a background goroutine.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pollLoop(ctx)
}

// Stop ends the poll loop and waits for in-flight Drive calls to return.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	p.consumer.Close()
}

func (p *WorkerPool) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	sem := make(chan struct{}, p.concurrency)
	log := logger.Get()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		records, err := p.consumer.Poll(ctx)
		if err != nil {
			log.Error("worker_pool_poll_failed", "error", err.Error())
			continue
		}

		var batch sync.WaitGroup
		for _, record := range records {
			var req driveRequest
			if err := json.Unmarshal(record.Value, &req); err != nil || req.BookingID == "" {
				log.Warn("worker_pool_malformed_record", "topic", record.Topic)
				continue
			}

			sem <- struct{}{}
			batch.Add(1)
			go func(bookingID string) {
				defer batch.Done()
				defer func() { <-sem }()
				if err := p.engine.Drive(ctx, bookingID); err != nil {
					log.Warn("worker_pool_drive_failed", "booking_id", bookingID, "error", err.Error())
				}
			}(req.BookingID)
		}
		batch.Wait()

		if len(records) > 0 {
			if err := p.consumer.CommitRecords(ctx, records); err != nil {
				log.Error("worker_pool_commit_failed", "error", err.Error())
			}
		}
	}
}
