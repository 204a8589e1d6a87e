package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
	"github.com/prohmpiriya/booking-orchestrator/internal/client"
	"github.com/prohmpiriya/booking-orchestrator/internal/store"
	"github.com/prohmpiriya/booking-orchestrator/pkg/retry"
)

// scriptedTransport answers each Invoke call in order against a
// per-(service,action) script, recording every call it saw so tests can
// assert both outcome and call order/idempotency-key stability.
type scriptedTransport struct {
	script map[string][]error // key: "service.action"
	calls  []client.Request
}

func key(service, action string) string { return service + "." + action }

func (s *scriptedTransport) Do(ctx context.Context, req client.Request) (*client.Result, error) {
	s.calls = append(s.calls, req)
	k := key(req.Service, req.Action)
	q := s.script[k]
	if len(q) == 0 {
		return &client.Result{Data: map[string]interface{}{
			"hold_token":           "tok-" + req.Action,
			"confirmation_number":  "conf-" + req.Action,
			"authorization_id":     "auth-1",
		}}, nil
	}
	err := q[0]
	s.script[k] = q[1:]
	if err != nil {
		return nil, err
	}
	return &client.Result{Data: map[string]interface{}{
		"hold_token":          "tok-" + req.Action,
		"confirmation_number": "conf-" + req.Action,
		"authorization_id":    "auth-1",
	}}, nil
}

func fastConfig() *retry.Config {
	return &retry.Config{MaxRetries: 3, InitialInterval: 1, MaxInterval: 2, Multiplier: 1, JitterFactor: 0}
}

func newTestEngine(t *testing.T, st store.Store, transport client.Transport) *Engine {
	t.Helper()
	c := client.New(map[string]client.Transport{
		"flight": transport, "hotel": transport, "car": transport,
		"payment": transport, "notification": transport,
	}, client.Config{RetryConfig: fastConfig()})

	cfg := DefaultEngineConfig("worker-1")
	cfg.StepRetry = fastConfig()
	cfg.CompensationRetry = fastConfig()
	return NewEngine(st, c, cfg)
}

func newFlightHotelBooking(t *testing.T) *booking.Booking {
	t.Helper()
	b, err := booking.New(
		"cust-1",
		booking.Contact{Email: "a@example.com"},
		&booking.ComponentRequest{SelectionID: "flight-sel"},
		&booking.ComponentRequest{SelectionID: "hotel-sel"},
		nil,
		booking.Travel{Adults: 1, Rooms: 1},
		booking.Pricing{Subtotal: 100, Currency: "USD"},
	)
	if err != nil {
		t.Fatalf("booking.New: %v", err)
	}
	if err := b.StartSaga(booking.BuildPlan(b.Components())); err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	return b
}

// TestDrive_HappyPath_FlightAndHotel covers the seven-step plan (two
// holds, authorize, two confirms, capture, notify) all succeeding.
func TestDrive_HappyPath_FlightAndHotel(t *testing.T) {
	st := store.NewMemoryStore()
	b := newFlightHotelBooking(t)
	if _, err := st.Persist(context.Background(), b, 0); err != nil {
		t.Fatalf("persist: %v", err)
	}

	transport := &scriptedTransport{script: map[string][]error{}}
	e := newTestEngine(t, st, transport)

	if err := e.Drive(context.Background(), b.ID); err != nil {
		t.Fatalf("Drive: %v", err)
	}

	got, _, err := st.Load(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != booking.StatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got.Status)
	}
	if got.Ledger.Phase != booking.PhaseDone {
		t.Fatalf("phase = %s, want DONE", got.Ledger.Phase)
	}
	if len(got.Ledger.Completed) != 7 {
		t.Fatalf("completed steps = %d, want 7: %+v", len(got.Ledger.Completed), got.Ledger.Completed)
	}
}

// TestDrive_InventoryRejectionAfterAuthorize_CompensatesInReverse covers
// confirm_hotel failing permanently after both holds and the authorize
// succeeded: compensation must walk completed steps in reverse
// (void authorization, then release both holds), skipping the
// not-yet-completed confirm_flight/confirm_hotel/capture/notify.
func TestDrive_InventoryRejectionAfterAuthorize_CompensatesInReverse(t *testing.T) {
	st := store.NewMemoryStore()
	b := newFlightHotelBooking(t)
	if _, err := st.Persist(context.Background(), b, 0); err != nil {
		t.Fatalf("persist: %v", err)
	}

	transport := &scriptedTransport{script: map[string][]error{
		key("hotel", "confirm"): {bookingerr.Permanent(errors.New("inventory no longer available"))},
	}}
	e := newTestEngine(t, st, transport)

	if err := e.Drive(context.Background(), b.ID); err != nil {
		t.Fatalf("Drive: %v", err)
	}

	got, _, err := st.Load(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != booking.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}

	// completed steps at the point of failure: hold_flight, hold_hotel,
	// authorize, confirm_flight (confirm_hotel is the one that failed).
	wantCompensated := map[booking.StepKind]bool{
		booking.ReleaseHoldFlight:  true,
		booking.ReleaseHoldHotel:   true,
		booking.VoidAuthorization: true,
		booking.CancelBookingFlight: true,
	}
	if len(got.Ledger.Compensations) != len(wantCompensated) {
		t.Fatalf("compensations = %d, want %d: %+v", len(got.Ledger.Compensations), len(wantCompensated), got.Ledger.Compensations)
	}
	for _, c := range got.Ledger.Compensations {
		if !wantCompensated[c.Step] {
			t.Errorf("unexpected compensation step %s", c.Step)
		}
		if !c.Succeeded {
			t.Errorf("compensation %s should have succeeded", c.Step)
		}
	}
	// reverse order: the last-completed step compensates first.
	if got.Ledger.Compensations[0].Step != booking.CancelBookingFlight {
		t.Errorf("first compensation = %s, want cancel_booking_flight (reverse order)", got.Ledger.Compensations[0].Step)
	}
}

// TestDrive_CaptureRefused_CompensatesWithoutNotify covers payment
// capture being refused: notify must never run, and the authorization is
// voided (not refunded, since capture itself never completed).
func TestDrive_CaptureRefused_CompensatesWithoutNotify(t *testing.T) {
	st := store.NewMemoryStore()
	b := newFlightHotelBooking(t)
	if _, err := st.Persist(context.Background(), b, 0); err != nil {
		t.Fatalf("persist: %v", err)
	}

	transport := &scriptedTransport{script: map[string][]error{
		key("payment", "capture"): {bookingerr.Permanent(errors.New("capture refused"))},
	}}
	e := newTestEngine(t, st, transport)

	if err := e.Drive(context.Background(), b.ID); err != nil {
		t.Fatalf("Drive: %v", err)
	}

	got, _, err := st.Load(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != booking.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	for _, call := range transport.calls {
		if call.Service == "notification" {
			t.Fatalf("notify must not run when capture failed")
		}
	}
	for _, c := range got.Ledger.Compensations {
		if c.Step == booking.Refund {
			t.Fatalf("refund should not run: capture never completed")
		}
	}
}

// TestDrive_TransientThenSuccess_ThreeInvocationsSameIdempotencyKey
// covers a step that fails TRANSIENT twice before succeeding: the
// Client's own bounded retry must absorb all three attempts under one
// idempotency key without the engine ever seeing an error.
func TestDrive_TransientThenSuccess_ThreeInvocationsSameIdempotencyKey(t *testing.T) {
	st := store.NewMemoryStore()
	b := newFlightHotelBooking(t)
	if _, err := st.Persist(context.Background(), b, 0); err != nil {
		t.Fatalf("persist: %v", err)
	}

	transport := &scriptedTransport{script: map[string][]error{
		key("flight", "hold"): {
			bookingerr.Transient(errors.New("timeout")),
			bookingerr.Transient(errors.New("timeout")),
			nil,
		},
	}}
	e := newTestEngine(t, st, transport)

	if err := e.Drive(context.Background(), b.ID); err != nil {
		t.Fatalf("Drive: %v", err)
	}

	var holdCalls []client.Request
	for _, c := range transport.calls {
		if c.Service == "flight" && c.Action == "hold" {
			holdCalls = append(holdCalls, c)
		}
	}
	if len(holdCalls) != 3 {
		t.Fatalf("hold calls = %d, want 3", len(holdCalls))
	}
	for _, c := range holdCalls {
		if c.IdempotencyKey != holdCalls[0].IdempotencyKey {
			t.Errorf("idempotency key changed across retries: %s vs %s", c.IdempotencyKey, holdCalls[0].IdempotencyKey)
		}
	}

	got, _, err := st.Load(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != booking.StatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got.Status)
	}
}

// TestDrive_ResumesAfterCrash_ReDrivesFromCursor covers recovery: a
// Drive call that only gets partway (simulated by driving a booking
// whose ledger already has two completed steps and a stale lease) must
// resume from the cursor, not restart the plan, and must not re-invoke
// already-completed steps.
func TestDrive_ResumesAfterCrash_ReDrivesFromCursor(t *testing.T) {
	st := store.NewMemoryStore()
	b := newFlightHotelBooking(t)

	transport := &scriptedTransport{script: map[string][]error{}}
	e := newTestEngine(t, st, transport)

	// First Drive advances two steps, then we simulate a crash by
	// dropping the lease (as if the owning worker died) and re-driving.
	if _, err := st.Persist(context.Background(), b, 0); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := b.CompleteStep(booking.HoldFlight, map[string]interface{}{"hold_token": "tok-1"}); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	if _, err := st.Persist(context.Background(), b, 1); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if err := e.Drive(context.Background(), b.ID); err != nil {
		t.Fatalf("Drive (resume): %v", err)
	}

	for _, c := range transport.calls {
		if c.Service == "flight" && c.Action == "hold" {
			t.Fatalf("hold_flight should not be re-invoked: already completed before crash")
		}
	}

	got, _, err := st.Load(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != booking.StatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got.Status)
	}
}

// TestDrive_LeaseHeldByOtherWorker_SecondDriveRefused covers the
// concurrent-cancel race: two Drive calls against the same booking must
// not both run a compensation walk. The loser observes KindLeaseLost.
func TestDrive_LeaseHeldByOtherWorker_SecondDriveRefused(t *testing.T) {
	st := store.NewMemoryStore()
	b := newFlightHotelBooking(t)
	if err := b.AcquireLease("worker-other", time.Hour); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if _, err := st.Persist(context.Background(), b, 0); err != nil {
		t.Fatalf("persist: %v", err)
	}

	transport := &scriptedTransport{script: map[string][]error{}}
	e := newTestEngine(t, st, transport)

	err := e.Drive(context.Background(), b.ID)
	if err == nil {
		t.Fatal("expected lease conflict, got nil")
	}
	if !bookingerr.Is(err, bookingerr.KindLeaseLost) {
		t.Errorf("err kind = %v, want KindLeaseLost", bookingerr.ClassifyOf(err))
	}
}
