package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
	"github.com/prohmpiriya/booking-orchestrator/pkg/telemetry"
)

// PostgresStore persists the Booking aggregate in the `bookings` table
// and co-writes pending events to `saga_outbox` within the same
// version-advancing transaction, so event emission never outruns
// durable state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OutboxEvent is one pending event row to co-write with a Persist call.
type OutboxEvent struct {
	EventType string
	Payload   []byte
}

func (s *PostgresStore) Load(ctx context.Context, bookingID string) (*booking.Booking, int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.load")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	const query = `
		SELECT aggregate, version
		FROM bookings
		WHERE booking_id = $1
	`

	var raw []byte
	var version int64
	err := s.pool.QueryRow(ctx, query, bookingID).Scan(&raw, &version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, 0, bookingerr.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("load booking %s: %w", bookingID, err)
	}

	var b booking.Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("unmarshal booking %s: %w", bookingID, err)
	}
	span.SetAttributes(attribute.Int64("version", version))
	return &b, version, nil
}

// Persist writes the aggregate and, in the same transaction, appends any
// outbox events passed in — the outbox pattern backing the Event Bus
// Adapter (§C3). It is the only write path into `bookings`.
func (s *PostgresStore) Persist(ctx context.Context, b *booking.Booking, expectedVersion int64, events ...OutboxEvent) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.persist")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking_id", b.ID),
		attribute.Int64("expected_version", expectedVersion),
		attribute.Int("outbox_events", len(events)),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	raw, err := json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("marshal booking: %w", err)
	}

	var currentVersion int64
	err = tx.QueryRow(ctx, `SELECT version FROM bookings WHERE booking_id = $1 FOR UPDATE`, b.ID).Scan(&currentVersion)

	switch {
	case err == pgx.ErrNoRows:
		if expectedVersion != 0 {
			return 0, bookingerr.Conflict(bookingerr.ErrVersionConflict)
		}
		nextVersion := int64(1)
		_, err = tx.Exec(ctx, `
			INSERT INTO bookings (booking_id, booking_number, status, phase, aggregate, version, lease_owner, lease_expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, b.ID, b.Number, string(b.Status), string(b.Ledger.Phase), raw, nextVersion,
			nullable(b.Ledger.Lease.OwnerID), b.Ledger.Lease.ExpiresAt, b.CreatedAt, b.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("insert booking: %w", err)
		}
		if err := s.appendOutbox(ctx, tx, b.ID, events); err != nil {
			return 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("commit: %w", err)
		}
		return nextVersion, nil

	case err != nil:
		return 0, fmt.Errorf("lock booking row: %w", err)
	}

	if currentVersion != expectedVersion {
		return 0, bookingerr.Conflict(bookingerr.ErrVersionConflict)
	}

	nextVersion := currentVersion + 1
	_, err = tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2, phase = $3, aggregate = $4, version = $5,
		    lease_owner = $6, lease_expires_at = $7, updated_at = $8
		WHERE booking_id = $1
	`, b.ID, string(b.Status), string(b.Ledger.Phase), raw, nextVersion,
		nullable(b.Ledger.Lease.OwnerID), b.Ledger.Lease.ExpiresAt, b.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("update booking: %w", err)
	}

	if err := s.appendOutbox(ctx, tx, b.ID, events); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return nextVersion, nil
}

func (s *PostgresStore) appendOutbox(ctx context.Context, tx pgx.Tx, bookingID string, events []OutboxEvent) error {
	for _, e := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO saga_outbox (booking_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, NOW())
		`, bookingID, e.EventType, e.Payload)
		if err != nil {
			return fmt.Errorf("insert outbox event %s: %w", e.EventType, err)
		}
	}
	return nil
}

// ScanStranded uses the secondary index on (phase, lease_expires_at) to
// find bookings whose lease expired while mid-flight, in sub-linear
// time relative to the total bookings table.
func (s *PostgresStore) ScanStranded(ctx context.Context, now time.Time) ([]string, error) {
	const query = `
		SELECT booking_id
		FROM bookings
		WHERE phase IN ('FORWARD', 'COMPENSATING')
		  AND lease_expires_at < $1
	`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("scan stranded: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stranded row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AcquireLease is a convenience path for claiming ownership without a
// full load/mutate/persist cycle, used by the recovery scanner before it
// reloads the full aggregate.
func (s *PostgresStore) AcquireLease(ctx context.Context, bookingID, owner string, ttl time.Duration) error {
	const query = `
		UPDATE bookings
		SET lease_owner = $2, lease_expires_at = $3
		WHERE booking_id = $1
		  AND (lease_owner IS NULL OR lease_owner = $2 OR lease_expires_at < NOW())
	`
	tag, err := s.pool.Exec(ctx, query, bookingID, owner, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookingerr.LeaseLost(bookingerr.ErrLeaseHeldByOther)
	}
	return nil
}

// FetchPendingOutbox implements OutboxSource.
func (s *PostgresStore) FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	const query = `
		SELECT id, booking_id, event_type, payload
		FROM saga_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRecord
	for rows.Next() {
		var r OutboxRecord
		if err := rows.Scan(&r.ID, &r.BookingID, &r.EventType, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkOutboxPublished implements OutboxSource.
func (s *PostgresStore) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE saga_outbox SET published_at = NOW() WHERE id = ANY($1)`
	_, err := s.pool.Exec(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
