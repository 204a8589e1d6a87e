package saga

import (
	"context"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
	"github.com/prohmpiriya/booking-orchestrator/internal/store"
)

func newFacadeUnderTest(t *testing.T) (*Facade, store.Store, *scriptedTransport) {
	t.Helper()
	st := store.NewMemoryStore()
	transport := &scriptedTransport{script: map[string][]error{}}
	e := newTestEngine(t, st, transport)
	return NewFacade(st, e.Drive), st, transport
}

func validSubmitRequest() SubmitRequest {
	return SubmitRequest{
		CustomerID: "cust-1",
		Contact:    booking.Contact{Email: "a@example.com"},
		Hotel:      &booking.ComponentRequest{SelectionID: "hotel-sel"},
		Travel:     booking.Travel{Adults: 1, Rooms: 1},
		Pricing:    booking.Pricing{Subtotal: 200, Currency: "USD"},
	}
}

func TestSubmitBooking_DrivesToConfirmed(t *testing.T) {
	f, st, _ := newFacadeUnderTest(t)

	id, err := f.SubmitBooking(context.Background(), validSubmitRequest())
	if err != nil {
		t.Fatalf("SubmitBooking: %v", err)
	}
	if id == "" {
		t.Fatal("expected a booking id")
	}

	got, _, err := st.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != booking.StatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got.Status)
	}
}

func TestSubmitBooking_RejectsInvalidRequest(t *testing.T) {
	f, _, _ := newFacadeUnderTest(t)

	req := validSubmitRequest()
	req.CustomerID = ""
	if _, err := f.SubmitBooking(context.Background(), req); !bookingerr.Is(err, bookingerr.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestCancelBooking_ConfirmedBooking_CompensatesAndCancels(t *testing.T) {
	f, st, _ := newFacadeUnderTest(t)

	id, err := f.SubmitBooking(context.Background(), validSubmitRequest())
	if err != nil {
		t.Fatalf("SubmitBooking: %v", err)
	}

	if err := f.CancelBooking(context.Background(), id, "customer requested"); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}

	got, _, err := st.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != booking.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if len(got.Ledger.Compensations) == 0 {
		t.Fatal("expected a full compensation walk")
	}
}

func TestCancelBooking_AlreadyCancelled_Refused(t *testing.T) {
	f, _, _ := newFacadeUnderTest(t)

	id, err := f.SubmitBooking(context.Background(), validSubmitRequest())
	if err != nil {
		t.Fatalf("SubmitBooking: %v", err)
	}
	if err := f.CancelBooking(context.Background(), id, "first cancel"); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}

	err = f.CancelBooking(context.Background(), id, "second cancel")
	if !bookingerr.Is(err, bookingerr.KindValidation) {
		t.Fatalf("expected KindValidation on double cancel, got %v", err)
	}
}

func TestModifyBooking_RecordsRequest(t *testing.T) {
	f, st, _ := newFacadeUnderTest(t)

	id, err := f.SubmitBooking(context.Background(), validSubmitRequest())
	if err != nil {
		t.Fatalf("SubmitBooking: %v", err)
	}

	if err := f.ModifyBooking(context.Background(), id, "change room count to 2"); err != nil {
		t.Fatalf("ModifyBooking: %v", err)
	}

	got, _, err := st.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Modifications) != 1 {
		t.Fatalf("modifications = %d, want 1", len(got.Modifications))
	}
}

// TestRecoveryLoop_ScanStranded_FindsCrashedBooking covers the crash
// recovery path: a booking with a lapsed lease mid-forward-execution is
// found by ScanStranded and can be re-driven to completion from wherever
// its cursor stopped.
func TestRecoveryLoop_ScanStranded_FindsCrashedBooking(t *testing.T) {
	st := store.NewMemoryStore()
	b := newFlightHotelBooking(t)
	if err := b.AcquireLease("dead-worker", -time.Minute); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if err := b.CompleteStep(booking.HoldFlight, map[string]interface{}{"hold_token": "tok-1"}); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	if _, err := st.Persist(context.Background(), b, 0); err != nil {
		t.Fatalf("persist: %v", err)
	}

	transport := &scriptedTransport{script: map[string][]error{}}
	e := newTestEngine(t, st, transport)

	ids, err := st.ScanStranded(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ScanStranded: %v", err)
	}
	if len(ids) != 1 || ids[0] != b.ID {
		t.Fatalf("ScanStranded = %v, want [%s]", ids, b.ID)
	}

	rl := NewRecoveryLoop(st, e.Drive, time.Millisecond)
	defer rl.Stop()

	if err := e.Drive(context.Background(), b.ID); err != nil {
		t.Fatalf("Drive stranded booking: %v", err)
	}

	for _, c := range transport.calls {
		if c.Service == "flight" && c.Action == "hold" {
			t.Fatalf("hold_flight should not be re-invoked: already completed before the crash")
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
