package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
	"github.com/prohmpiriya/booking-orchestrator/internal/store"
)

func TestNewEnvelope_RoundTripsPayload(t *testing.T) {
	env, err := NewEnvelope(TypeBookingCreated, "bk-1", "saga-1", "", 1, BookingCreatedPayload{
		CustomerID: "cust-1", Total: 199.99, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.BookingID != "bk-1" || env.EventType != TypeBookingCreated {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	var payload BookingCreatedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.CustomerID != "cust-1" || payload.Total != 199.99 {
		t.Fatalf("payload mismatch: %+v", payload)
	}
}

func TestTopic_PerEventFamily(t *testing.T) {
	if Topic(TypeBookingConfirmed) != "booking-orchestrator.booking_confirmed" {
		t.Fatalf("unexpected topic: %s", Topic(TypeBookingConfirmed))
	}
}

func newEventsTestBooking(t *testing.T) *booking.Booking {
	t.Helper()
	b, err := booking.New(
		"cust-1", booking.Contact{Email: "a@b.com"},
		&booking.ComponentRequest{SelectionID: "F1"}, nil, nil,
		booking.Travel{Adults: 1, Rooms: 1},
		booking.Pricing{Subtotal: 100, Currency: "USD"},
	)
	if err != nil {
		t.Fatalf("booking.New: %v", err)
	}
	return b
}

func TestMemoryStore_OutboxSource_FetchAndMark(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	b := newEventsTestBooking(t)

	if _, err := s.Persist(ctx, b, 0, store.OutboxEvent{EventType: "booking_created", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	pending, err := s.FetchPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("FetchPendingOutbox: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(pending))
	}

	if err := s.MarkOutboxPublished(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("MarkOutboxPublished: %v", err)
	}

	remaining, err := s.FetchPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("FetchPendingOutbox after mark: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected 0 pending after mark, got %d", len(remaining))
	}
}
