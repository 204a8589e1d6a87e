package booking

import (
	"errors"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
)

func newTestBooking(t *testing.T) *Booking {
	t.Helper()
	b, err := New(
		"cust-1",
		Contact{Email: "a@b.com"},
		&ComponentRequest{SelectionID: "F1"},
		&ComponentRequest{SelectionID: "H1"},
		nil,
		Travel{Adults: 1, Rooms: 1},
		Pricing{Subtotal: 900, Taxes: 80, Fees: 20, Currency: "USD"},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew_RequiresAtLeastOneComponent(t *testing.T) {
	_, err := New("cust-1", Contact{}, nil, nil, nil, Travel{Adults: 1, Rooms: 1}, Pricing{})
	if !bookingerr.Is(err, bookingerr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNew_ComputesTotal(t *testing.T) {
	b := newTestBooking(t)
	if b.Pricing.Total != 1000 {
		t.Errorf("total = %f, want 1000", b.Pricing.Total)
	}
	if len(b.AuditTrail) != 1 {
		t.Errorf("expected 1 audit entry after New, got %d", len(b.AuditTrail))
	}
}

func TestStartSaga_SetsPlanAndAudits(t *testing.T) {
	b := newTestBooking(t)
	plan := BuildPlan(b.Components())
	if err := b.StartSaga(plan); err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	if len(b.Ledger.Plan) != 7 {
		t.Errorf("plan length = %d, want 7", len(b.Ledger.Plan))
	}
	if b.Ledger.Cursor != 0 {
		t.Errorf("cursor = %d, want 0", b.Ledger.Cursor)
	}
	if len(b.AuditTrail) != 2 {
		t.Errorf("expected 2 audit entries after New+StartSaga, got %d", len(b.AuditTrail))
	}
}

func TestCompleteStep_AdvancesCursorAndUpdatesState(t *testing.T) {
	b := newTestBooking(t)
	plan := BuildPlan(b.Components())
	_ = b.StartSaga(plan)

	step, ok := b.CurrentStep()
	if !ok || step != HoldFlight {
		t.Fatalf("expected first step HoldFlight, got %v ok=%v", step, ok)
	}

	if err := b.CompleteStep(HoldFlight, map[string]interface{}{"hold_token": "tok-1"}); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	if b.Ledger.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", b.Ledger.Cursor)
	}
	if b.FlightState.SubStatus != SubHeld || b.FlightState.DownstreamID != "tok-1" {
		t.Errorf("flight state not updated: %+v", b.FlightState)
	}
}

func TestCompleteStep_RejectsOutOfOrder(t *testing.T) {
	b := newTestBooking(t)
	_ = b.StartSaga(BuildPlan(b.Components()))

	err := b.CompleteStep(Authorize, nil)
	if !bookingerr.Is(err, bookingerr.KindValidation) {
		t.Fatalf("expected validation error for out-of-order complete, got %v", err)
	}
}

func TestFailStep_BumpsRetryCount(t *testing.T) {
	b := newTestBooking(t)
	_ = b.StartSaga(BuildPlan(b.Components()))

	if err := b.FailStep(HoldFlight, errors.New("network timeout")); err != nil {
		t.Fatalf("FailStep: %v", err)
	}
	if b.Ledger.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", b.Ledger.RetryCount)
	}
	if b.FlightState.LastError == "" {
		t.Error("expected last_error to be recorded on flight state")
	}
}

func TestCompensationWalk_ContinuesPastFailure(t *testing.T) {
	b := newTestBooking(t)
	_ = b.StartSaga(BuildPlan(b.Components()))
	_ = b.CompleteStep(HoldFlight, map[string]interface{}{"hold_token": "t1"})
	_ = b.CompleteStep(HoldHotel, map[string]interface{}{"hold_token": "t2"})

	if err := b.BeginCompensation(); err != nil {
		t.Fatalf("BeginCompensation: %v", err)
	}

	b.RecordCompensation(ReleaseHoldHotel, false, errors.New("downstream unreachable"))
	b.RecordCompensation(ReleaseHoldFlight, true, nil)

	if len(b.Ledger.Compensations) != 2 {
		t.Fatalf("expected 2 compensation entries, got %d", len(b.Ledger.Compensations))
	}
	if b.FlightState.SubStatus != SubCompensated {
		t.Errorf("flight state = %s, want compensated", b.FlightState.SubStatus)
	}
	if b.HotelState.SubStatus == SubCompensated {
		t.Error("hotel compensation failed, should not be marked compensated")
	}
}

func TestFinalize_IsSticky(t *testing.T) {
	b := newTestBooking(t)
	_ = b.StartSaga(BuildPlan(b.Components()))
	if err := b.Finalize(StatusConfirmed); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := b.Finalize(StatusCancelled); err == nil {
		t.Error("expected error finalizing an already-terminal booking")
	}
}

func TestUpdatePricing_RefusedAfterConfirmed(t *testing.T) {
	b := newTestBooking(t)
	_ = b.StartSaga(BuildPlan(b.Components()))
	_ = b.Finalize(StatusConfirmed)

	if err := b.UpdatePricing(Pricing{Subtotal: 50}); err == nil {
		t.Error("expected update_pricing to be refused after CONFIRMED")
	}
}

func TestAddRefund_CannotExceedTotal(t *testing.T) {
	b := newTestBooking(t)
	if err := b.AddRefund(b.Pricing.Total+1, "overshoot"); err == nil {
		t.Error("expected refund exceeding total to be rejected")
	}
	if err := b.AddRefund(100, "partial"); err != nil {
		t.Fatalf("AddRefund: %v", err)
	}
	if b.RefundedTotal() != 100 {
		t.Errorf("refunded total = %f, want 100", b.RefundedTotal())
	}
}

func TestAcquireLease_RejectsWhileHeldByOther(t *testing.T) {
	b := newTestBooking(t)
	if err := b.AcquireLease("worker-1", time.Minute); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if err := b.AcquireLease("worker-2", time.Minute); !bookingerr.Is(err, bookingerr.KindLeaseLost) {
		t.Fatalf("expected lease_lost, got %v", err)
	}
}

func TestStranded_OnlyWhileMidFlight(t *testing.T) {
	b := newTestBooking(t)
	_ = b.StartSaga(BuildPlan(b.Components()))
	_ = b.AcquireLease("worker-1", time.Millisecond)

	time.Sleep(2 * time.Millisecond)
	if !b.Stranded(time.Now()) {
		t.Error("expected booking to be stranded after lease expiry mid-FORWARD")
	}

	_ = b.Finalize(StatusConfirmed)
	if b.Stranded(time.Now()) {
		t.Error("a terminal booking should never be reported stranded")
	}
}

func TestAuditTrail_MonotonicallyGrows(t *testing.T) {
	b := newTestBooking(t)
	before := len(b.AuditTrail)
	_ = b.StartSaga(BuildPlan(b.Components()))
	_ = b.CompleteStep(HoldFlight, nil)
	if len(b.AuditTrail) <= before+1 {
		t.Errorf("expected audit trail to grow by at least 2, went from %d to %d", before, len(b.AuditTrail))
	}
}
