// Package events defines the domain events the saga engine emits for
// observers (notification, analytics, audit) and the outbox drainer
// that delivers them to Kafka at least once, in per-booking order.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
)

// Type names one of the typed events the core publishes.
type Type string

const (
	TypeBookingCreated   Type = "booking_created"
	TypeStepCompleted    Type = "step_completed"
	TypeStepFailed       Type = "step_failed"
	TypeSagaCompensating Type = "saga_compensating"
	TypeBookingConfirmed Type = "booking_confirmed"
	TypeBookingCancelled Type = "booking_cancelled"
	TypeBookingFailed    Type = "booking_failed"
	TypeRefundIssued     Type = "refund_issued"
)

// Envelope is the message shape every event is wrapped in before
// publication: metadata first, typed payload second, matching the saga
// message convention the rest of this codebase uses for Kafka traffic.
type Envelope struct {
	MessageID     string          `json:"message_id"`
	CorrelationID string          `json:"correlation_id"`
	EventType     Type            `json:"event_type"`
	BookingID     string          `json:"booking_id"`
	SagaID        string          `json:"saga_id"`
	StepName      string          `json:"step_name,omitempty"`
	Sequence      int64           `json:"sequence"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// BookingCreatedPayload is the body of a TypeBookingCreated event.
type BookingCreatedPayload struct {
	CustomerID string  `json:"customer_id"`
	Total      float64 `json:"total"`
	Currency   string  `json:"currency"`
}

// StepCompletedPayload is the body of a TypeStepCompleted event.
type StepCompletedPayload struct {
	Step booking.StepKind `json:"step"`
}

// StepFailedPayload is the body of a TypeStepFailed event.
type StepFailedPayload struct {
	Step  booking.StepKind `json:"step"`
	Error string           `json:"error"`
}

// SagaCompensatingPayload is the body of a TypeSagaCompensating event.
type SagaCompensatingPayload struct {
	Reason string `json:"reason"`
}

// BookingConfirmedPayload is the body of a TypeBookingConfirmed event.
type BookingConfirmedPayload struct {
	ConfirmationNumbers map[string]string `json:"confirmation_numbers"`
	Captured            float64           `json:"captured"`
}

// BookingCancelledPayload is the body of a TypeBookingCancelled event.
type BookingCancelledPayload struct {
	Reason        string  `json:"reason"`
	RefundedTotal float64 `json:"refunded_total"`
}

// BookingFailedPayload is the body of a TypeBookingFailed event.
type BookingFailedPayload struct {
	Reason              string   `json:"reason"`
	UnresolvedStepNames []string `json:"unresolved_step_names"`
}

// RefundIssuedPayload is the body of a TypeRefundIssued event.
type RefundIssuedPayload struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// NewEnvelope marshals payload and wraps it with the metadata every
// consumer needs to dedupe and order events per booking.
func NewEnvelope(eventType Type, bookingID, sagaID, stepName string, sequence int64, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		MessageID:     uuid.New().String(),
		CorrelationID: sagaID,
		EventType:     eventType,
		BookingID:     bookingID,
		SagaID:        sagaID,
		StepName:      stepName,
		Sequence:      sequence,
		Timestamp:     time.Now(),
		Payload:       raw,
	}, nil
}

// Topic returns the Kafka topic an event type is published to. One
// topic per event family, partitioned by booking_id so per-booking
// ordering is preserved without a cross-booking ordering guarantee.
func Topic(eventType Type) string {
	return "booking-orchestrator." + string(eventType)
}
