package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
)

type memoryOutboxEntry struct {
	id        int64
	eventType string
	payload   []byte
	published bool
}

type memoryRecord struct {
	booking *booking.Booking
	version int64
	outbox  []*memoryOutboxEntry
}

// MemoryStore is an in-memory Store, used by tests and by single-process
// development runs. Every read and write deep-copies through JSON so
// callers can never mutate another goroutine's view of the aggregate.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	nextID  int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func deepCopy(b *booking.Booking) (*booking.Booking, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal booking: %w", err)
	}
	var copied booking.Booking
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("unmarshal booking: %w", err)
	}
	return &copied, nil
}

func (s *MemoryStore) Load(ctx context.Context, bookingID string) (*booking.Booking, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[bookingID]
	if !ok {
		return nil, 0, bookingerr.ErrBookingNotFound
	}
	copied, err := deepCopy(rec.booking)
	if err != nil {
		return nil, 0, err
	}
	return copied, rec.version, nil
}

func (s *MemoryStore) Persist(ctx context.Context, b *booking.Booking, expectedVersion int64, events ...OutboxEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[b.ID]
	if exists && rec.version != expectedVersion {
		return 0, bookingerr.Conflict(bookingerr.ErrVersionConflict)
	}
	if !exists && expectedVersion != 0 {
		return 0, bookingerr.Conflict(bookingerr.ErrVersionConflict)
	}

	copied, err := deepCopy(b)
	if err != nil {
		return 0, err
	}

	var outbox []*memoryOutboxEntry
	if exists {
		outbox = rec.outbox
	}
	for _, e := range events {
		s.nextID++
		outbox = append(outbox, &memoryOutboxEntry{id: s.nextID, eventType: e.EventType, payload: e.Payload})
	}

	nextVersion := expectedVersion + 1
	s.records[b.ID] = &memoryRecord{booking: copied, version: nextVersion, outbox: outbox}
	return nextVersion, nil
}

// PendingOutbox returns (a copy of) the events accumulated for bookingID,
// for tests that assert on what would have been persisted regardless of
// publish state.
func (s *MemoryStore) PendingOutbox(bookingID string) []OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[bookingID]
	if !ok {
		return nil
	}
	out := make([]OutboxEvent, len(rec.outbox))
	for i, e := range rec.outbox {
		out[i] = OutboxEvent{EventType: e.eventType, Payload: e.payload}
	}
	return out
}

// FetchPendingOutbox implements store.OutboxSource, scanning every
// booking's accumulated events for ones not yet marked published. Events
// of one booking come back in append order; the order across bookings is
// not defined.
func (s *MemoryStore) FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []OutboxRecord
	for bookingID, rec := range s.records {
		for _, e := range rec.outbox {
			if e.published {
				continue
			}
			out = append(out, OutboxRecord{ID: e.id, BookingID: bookingID, EventType: e.eventType, Payload: e.payload})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// MarkOutboxPublished implements store.OutboxSource.
func (s *MemoryStore) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, rec := range s.records {
		for _, e := range rec.outbox {
			if want[e.id] {
				e.published = true
			}
		}
	}
	return nil
}

func (s *MemoryStore) ScanStranded(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stranded []string
	for id, rec := range s.records {
		if rec.booking.Stranded(now) {
			stranded = append(stranded, id)
		}
	}
	return stranded, nil
}

func (s *MemoryStore) AcquireLease(ctx context.Context, bookingID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[bookingID]
	if !ok {
		return bookingerr.ErrBookingNotFound
	}
	if err := rec.booking.AcquireLease(owner, ttl); err != nil {
		return err
	}
	return nil
}
