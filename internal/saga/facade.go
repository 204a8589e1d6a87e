package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
	"github.com/prohmpiriya/booking-orchestrator/internal/store"
	"github.com/prohmpiriya/booking-orchestrator/pkg/logger"
)

// SubmitRequest is the customer-facing request to start a new booking.
type SubmitRequest struct {
	CustomerID string
	Contact    booking.Contact
	Flight     *booking.ComponentRequest
	Hotel      *booking.ComponentRequest
	Car        *booking.ComponentRequest
	Travel     booking.Travel
	Pricing    booking.Pricing
}

// Facade is the synchronous entry point the API layer (or a message
// handler) calls into. Submitting, cancelling, or modifying a booking
// persists the intent and then calls the drive function it was built
// with, synchronously; with engine.Drive (as cmd/saga-worker and the
// tests wire it) the saga's steps run inline on the caller's goroutine.
type Facade struct {
	store  store.Store
	drive  func(ctx context.Context, bookingID string) error
	logger *logger.Logger
}

// NewFacade wires a Facade against a store and the function that drives a
// booking's saga forward. Passing engine.Drive (rather than *Engine
// directly) keeps the facade agnostic to how driving is scheduled: inline,
// via a worker pool, or via a queued dispatch.
func NewFacade(st store.Store, drive func(ctx context.Context, bookingID string) error) *Facade {
	return &Facade{store: st, drive: drive, logger: logger.Get()}
}

// SubmitBooking validates and persists a new PENDING booking, derives its
// saga plan from the requested components, starts the saga, and triggers
// the first Drive pass. Returns the booking_id once that pass returns; a
// drive error is logged, not returned.
func (f *Facade) SubmitBooking(ctx context.Context, req SubmitRequest) (string, error) {
	b, err := booking.New(req.CustomerID, req.Contact, req.Flight, req.Hotel, req.Car, req.Travel, req.Pricing)
	if err != nil {
		return "", err
	}

	plan := booking.BuildPlan(b.Components())
	if err := b.StartSaga(plan); err != nil {
		return "", err
	}

	if _, err := f.store.Persist(ctx, b, 0, store.OutboxEvent{
		EventType: "booking_created",
		Payload:   []byte(fmt.Sprintf(`{"booking_id":%q,"customer_id":%q}`, b.ID, b.CustomerID)),
	}); err != nil {
		return "", err
	}

	if err := f.drive(ctx, b.ID); err != nil {
		f.logger.Warn("submit_booking_drive_failed", "booking_id", b.ID, "error", err.Error())
	}

	return b.ID, nil
}

// GetBooking returns the current aggregate for a booking_id, read-only.
func (f *Facade) GetBooking(ctx context.Context, bookingID string) (*booking.Booking, error) {
	b, _, err := f.store.Load(ctx, bookingID)
	return b, err
}

// CancelBooking requests a customer-initiated cancellation. It is refused
// outright once the booking has left a cancellable status (§ invariant);
// otherwise it moves the in-flight saga into compensation and triggers a
// Drive pass to run the rollback. Two concurrent cancel calls on the same
// booking race on the lease, not on this method: whichever Drive call
// acquires the lease runs the one compensation walk; the loser's Drive
// returns bookingerr.KindLeaseLost harmlessly.
func (f *Facade) CancelBooking(ctx context.Context, bookingID, reason string) error {
	b, version, err := f.store.Load(ctx, bookingID)
	if err != nil {
		return err
	}
	if !b.CanCancel() {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("booking %s in status %s cannot be cancelled", bookingID, b.Status))
	}

	switch b.Ledger.Phase {
	case booking.PhaseForward:
		if err := b.BeginCompensation(); err != nil {
			return err
		}
	case booking.PhaseCompensating:
		// already compensating; nothing to do but let Drive continue it
	default:
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("booking %s saga already terminal", bookingID))
	}

	if _, err := f.store.Persist(ctx, b, version, store.OutboxEvent{
		EventType: "saga_compensating",
		Payload:   []byte(fmt.Sprintf(`{"booking_id":%q,"reason":%q}`, bookingID, reason)),
	}); err != nil {
		return err
	}

	return f.drive(ctx, bookingID)
}

// ModifyBooking records a change request against a PENDING or CONFIRMED
// booking. A modification against a CONFIRMED booking only records the
// request here: scheduling the narrower delta-saga a price or component
// change requires is this method's caller's job (it knows the domain-
// specific shape of that follow-up plan), not something the generic
// Facade can derive from a free-text description.
func (f *Facade) ModifyBooking(ctx context.Context, bookingID, description string) error {
	b, version, err := f.store.Load(ctx, bookingID)
	if err != nil {
		return err
	}
	if !b.CanModify() {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("booking %s in status %s cannot be modified", bookingID, b.Status))
	}
	if err := b.AddModification(description); err != nil {
		return err
	}
	_, err = f.store.Persist(ctx, b, version, store.OutboxEvent{
		EventType: "modification_requested",
		Payload:   []byte(fmt.Sprintf(`{"booking_id":%q,"description":%q}`, bookingID, description)),
	})
	return err
}

// RecoveryLoop periodically scans for stranded bookings (lease expired
// mid-flight, e.g. after a worker crash) and re-drives each, per the
// crash-recovery contract: driving an already-advanced booking is safe
// because every step is idempotent under its stored idempotency key.
type RecoveryLoop struct {
	store    store.Store
	drive    func(ctx context.Context, bookingID string) error
	interval time.Duration
	stopCh   chan struct{}
}

// NewRecoveryLoop builds a RecoveryLoop polling every interval.
func NewRecoveryLoop(st store.Store, drive func(ctx context.Context, bookingID string) error, interval time.Duration) *RecoveryLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RecoveryLoop{store: st, drive: drive, interval: interval, stopCh: make(chan struct{})}
}

// Run blocks until ctx is cancelled or Stop is called, scanning and
// re-driving stranded bookings once per interval.
func (r *RecoveryLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log := logger.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			ids, err := r.store.ScanStranded(ctx, time.Now())
			if err != nil {
				log.Error("scan_stranded_failed", "error", err.Error())
				continue
			}
			for _, id := range ids {
				if err := r.drive(ctx, id); err != nil {
					log.Warn("recovery_drive_failed", "booking_id", id, "error", err.Error())
				}
			}
		}
	}
}

// Stop ends a running Run loop.
func (r *RecoveryLoop) Stop() {
	close(r.stopCh)
}
