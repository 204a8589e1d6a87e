// Package store implements the durable home of the Booking aggregate:
// optimistic-concurrency persistence, stranded-saga discovery, and
// lease-based single-writer ownership (§C2).
package store

import (
	"context"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
)

// Store is the durable state store every saga worker reads and writes
// through. All authority lives here; in-memory copies a worker holds
// are caches only.
type Store interface {
	// Load returns the current aggregate and its version. Returns
	// bookingerr.ErrBookingNotFound if no such booking exists.
	Load(ctx context.Context, bookingID string) (*booking.Booking, int64, error)

	// Persist writes b if expectedVersion still matches the stored
	// version, incrementing it atomically, and appends any outbox
	// events in the same write. Returns bookingerr.ErrVersionConflict
	// if expectedVersion is stale.
	Persist(ctx context.Context, b *booking.Booking, expectedVersion int64, events ...OutboxEvent) (int64, error)

	// ScanStranded returns the IDs of bookings whose lease has expired
	// as of now while their saga is still mid-flight.
	ScanStranded(ctx context.Context, now time.Time) ([]string, error)

	// AcquireLease claims single-writer ownership of bookingID for
	// owner until ttl from now. Returns bookingerr.ErrLeaseHeldByOther
	// if another non-expired owner holds it.
	AcquireLease(ctx context.Context, bookingID, owner string, ttl time.Duration) error
}

// OutboxRecord is one row of the transactional outbox awaiting delivery.
type OutboxRecord struct {
	ID        int64
	BookingID string
	EventType string
	Payload   []byte
}

// OutboxSource is implemented by stores that can feed an OutboxDrainer.
// It is kept separate from Store because the drainer is the only caller:
// a saga worker driving a single booking never needs it.
type OutboxSource interface {
	// FetchPendingOutbox returns up to limit undelivered events, oldest
	// first.
	FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)

	// MarkOutboxPublished records ids as delivered so a later fetch
	// never returns them again.
	MarkOutboxPublished(ctx context.Context, ids []int64) error
}
