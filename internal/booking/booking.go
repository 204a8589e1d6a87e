// Package booking implements the Booking aggregate: the typed state
// machine the saga engine drives, with its invariants and audit trail
// enforced entirely inside the exposed transition methods.
package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
)

// Status is the terminal-or-not lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Phase is the saga ledger's forward/compensating/terminal state.
type Phase string

const (
	PhaseForward      Phase = "FORWARD"
	PhaseCompensating Phase = "COMPENSATING"
	PhaseDone         Phase = "DONE"
	PhaseAborted      Phase = "ABORTED"
)

// SubStatus tracks one component's (flight/hotel/car/payment/notification)
// progress through its own slice of the plan.
type SubStatus string

const (
	SubNotStarted SubStatus = "not_started"
	SubHeld       SubStatus = "held"
	SubConfirmed  SubStatus = "confirmed"
	SubFailed     SubStatus = "failed"
	SubCompensated SubStatus = "compensated"
)

// Contact holds the customer's reachable channels.
type Contact struct {
	Email  string
	Phone  string
	Locale string
}

// ComponentRequest is the downstream-bound search/selection payload for
// one inventory component.
type ComponentRequest struct {
	SelectionID string
	Payload     map[string]interface{}
}

// ComponentState is the per-service sub-state the saga advances as it
// drives hold/confirm/compensate steps for one component.
type ComponentState struct {
	Required           bool
	SubStatus          SubStatus
	DownstreamID       string
	ConfirmationNumber string
	HoldExpiresAt      time.Time
	RetryCount         int
	LastError          string
}

// Travel carries trip shape independent of which components are booked.
type Travel struct {
	DepartureDate time.Time
	ReturnDate    time.Time
	FromLocation  string
	ToLocation    string
	Adults        int
	Children      int
	Infants       int
	Rooms         int
}

// Pricing carries the monetary breakdown. Total is recomputed, never
// stored independently, by every mutation that touches it.
type Pricing struct {
	Subtotal   float64
	Taxes      float64
	Fees       float64
	Discounts  float64
	Total      float64
	Currency   string
}

func (p Pricing) recompute() Pricing {
	p.Total = p.Subtotal + p.Taxes + p.Fees - p.Discounts
	return p
}

// StepOutcome is one completed or failed ledger entry.
type StepOutcome struct {
	Step      StepKind
	Payload   map[string]interface{}
	Error     string
	Timestamp time.Time
}

// CompensationOutcome is one entry in the compensation ledger.
type CompensationOutcome struct {
	Step      StepKind
	Succeeded bool
	Error     string
	Timestamp time.Time
}

// Lease is single-writer ownership over this booking, held by whichever
// worker is currently driving its saga.
type Lease struct {
	OwnerID   string
	ExpiresAt time.Time
}

// SagaLedger is the append-only record of one saga's progress, embedded
// in the Booking it drives.
type SagaLedger struct {
	TransactionID string
	Plan          []StepKind
	Cursor        int
	Completed     []StepOutcome
	Failed        []StepOutcome
	Compensations []CompensationOutcome
	Phase         Phase
	RetryCount    int
	Lease         Lease
}

// AuditEntry is one append-only row in the booking's audit trail.
type AuditEntry struct {
	ID        string
	Action    string
	Details   string
	Actor     string
	Timestamp time.Time
}

// Modification is a recorded change request against a CONFIRMED booking.
type Modification struct {
	ID          string
	Description string
	RequestedAt time.Time
}

// RefundRecord is a recorded refund against a captured payment.
type RefundRecord struct {
	ID        string
	Amount    float64
	Reason    string
	IssuedAt  time.Time
}

// Booking is the aggregate root the saga engine drives. Only the
// exported transition methods below may mutate it; every field write
// that matters for correctness happens inside one of them, paired with
// exactly one audit entry.
type Booking struct {
	ID         string
	Number     string
	CustomerID string
	Contact    Contact

	Flight *ComponentRequest
	Hotel  *ComponentRequest
	Car    *ComponentRequest

	Travel  Travel
	Pricing Pricing
	Status  Status

	FlightState       ComponentState
	HotelState        ComponentState
	CarState          ComponentState
	PaymentState      ComponentState
	NotificationState ComponentState

	Ledger SagaLedger

	Modifications []Modification
	Refunds       []RefundRecord
	AuditTrail    []AuditEntry

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New validates a submission and constructs a PENDING booking, but does
// not start its saga: StartSaga does that once the engine has derived a
// plan from the included components.
func New(customerID string, contact Contact, flight, hotel, car *ComponentRequest, travel Travel, pricing Pricing) (*Booking, error) {
	if customerID == "" {
		return nil, bookingerr.Validation(fmt.Errorf("customer_id is required"))
	}
	if flight == nil && hotel == nil && car == nil {
		return nil, bookingerr.Validation(fmt.Errorf("at least one of flight, hotel, car is required"))
	}
	if travel.Adults < 1 {
		return nil, bookingerr.Validation(fmt.Errorf("adults must be >= 1"))
	}
	if travel.Children < 0 || travel.Infants < 0 {
		return nil, bookingerr.Validation(fmt.Errorf("children and infants must be >= 0"))
	}
	if travel.Rooms < 1 {
		return nil, bookingerr.Validation(fmt.Errorf("rooms must be >= 1"))
	}
	if !travel.DepartureDate.IsZero() && !travel.ReturnDate.IsZero() && !travel.ReturnDate.After(travel.DepartureDate) {
		return nil, bookingerr.Validation(fmt.Errorf("return date must be strictly after departure date"))
	}
	pricing = pricing.recompute()
	if pricing.Total < 0 {
		return nil, bookingerr.Validation(fmt.Errorf("total must be >= 0, got %f", pricing.Total))
	}

	now := time.Now()
	b := &Booking{
		ID:         uuid.New().String(),
		Number:     generateBookingNumber(),
		CustomerID: customerID,
		Contact:    contact,
		Flight:     flight,
		Hotel:      hotel,
		Car:        car,
		Travel:     travel,
		Pricing:    pricing,
		Status:     StatusPending,
		Ledger: SagaLedger{
			TransactionID: uuid.New().String(),
			Phase:         PhaseForward,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	b.FlightState.Required = flight != nil
	b.HotelState.Required = hotel != nil
	b.CarState.Required = car != nil
	b.PaymentState.Required = true
	b.NotificationState.Required = true

	b.appendAudit("booking_created", fmt.Sprintf("customer=%s total=%.2f %s", customerID, pricing.Total, pricing.Currency), "system")
	return b, nil
}

func generateBookingNumber() string {
	return "BK-" + uuid.New().String()[:8]
}

func (b *Booking) appendAudit(action, details, actor string) {
	b.AuditTrail = append(b.AuditTrail, AuditEntry{
		ID:        uuid.New().String(),
		Action:    action,
		Details:   details,
		Actor:     actor,
		Timestamp: time.Now(),
	})
	b.UpdatedAt = time.Now()
}

// Components reports which of flight/hotel/car this booking includes, in
// the shape BuildPlan expects.
func (b *Booking) Components() Components {
	return Components{
		Flight: b.Flight != nil,
		Hotel:  b.Hotel != nil,
		Car:    b.Car != nil,
	}
}

// StartSaga records the derived plan and moves the ledger into FORWARD
// execution. Requires status=PENDING and phase=FORWARD with no plan yet.
func (b *Booking) StartSaga(plan []StepKind) error {
	if b.Status != StatusPending {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("start_saga requires PENDING, got %s", b.Status))
	}
	if b.Ledger.Phase != PhaseForward || len(b.Ledger.Plan) != 0 {
		return bookingerr.New(bookingerr.KindValidation, bookingerr.ErrInvalidTransition)
	}
	b.Ledger.Plan = plan
	b.Ledger.Cursor = 0
	b.appendAudit("saga_started", fmt.Sprintf("plan_len=%d", len(plan)), "engine")
	return nil
}

// CurrentStep returns the step the cursor points at, or false if the
// plan is exhausted.
func (b *Booking) CurrentStep() (StepKind, bool) {
	if b.Ledger.Cursor >= len(b.Ledger.Plan) {
		return "", false
	}
	return b.Ledger.Plan[b.Ledger.Cursor], true
}

// CompleteStep records a successful downstream effect, advances the
// cursor, and resets the per-step retry counter. It also updates the
// relevant component's sub-state so the engine doesn't need a second
// source of truth for hold tokens and confirmation numbers.
func (b *Booking) CompleteStep(step StepKind, result map[string]interface{}) error {
	if b.Ledger.Phase != PhaseForward {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("complete_step requires phase=FORWARD, got %s", b.Ledger.Phase))
	}
	current, ok := b.CurrentStep()
	if !ok || current != step {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("complete_step(%s) does not match current step", step))
	}

	b.Ledger.Completed = append(b.Ledger.Completed, StepOutcome{
		Step:      step,
		Payload:   result,
		Timestamp: time.Now(),
	})
	b.Ledger.Cursor++
	b.Ledger.RetryCount = 0

	b.applyForwardEffect(step, result)

	b.appendAudit("step_completed", string(step), "engine")
	return nil
}

func (b *Booking) applyForwardEffect(step StepKind, result map[string]interface{}) {
	state := b.stateFor(step.ComponentOf())
	switch step.Action() {
	case "hold":
		if state != nil {
			state.SubStatus = SubHeld
			state.DownstreamID = stringField(result, "hold_token")
			if exp, ok := result["expires_at"].(time.Time); ok {
				state.HoldExpiresAt = exp
			}
		}
	case "confirm":
		if state != nil {
			state.SubStatus = SubConfirmed
			state.ConfirmationNumber = stringField(result, "confirmation_number")
		}
	case "authorize":
		b.PaymentState.SubStatus = SubHeld
		b.PaymentState.DownstreamID = stringField(result, "authorization_id")
	case "capture":
		b.PaymentState.SubStatus = SubConfirmed
	case "send_confirmation":
		b.NotificationState.SubStatus = SubConfirmed
	}
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func (b *Booking) stateFor(c Component) *ComponentState {
	switch c {
	case ComponentFlight:
		return &b.FlightState
	case ComponentHotel:
		return &b.HotelState
	case ComponentCar:
		return &b.CarState
	default:
		return nil
	}
}

// FailStep records a failed attempt and bumps the retry counter. Callers
// decide separately (via the error Kind) whether to retry or move to
// BeginCompensation.
func (b *Booking) FailStep(step StepKind, cause error) error {
	if b.Ledger.Phase != PhaseForward {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("fail_step requires phase=FORWARD, got %s", b.Ledger.Phase))
	}
	current, ok := b.CurrentStep()
	if !ok || current != step {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("fail_step(%s) does not match current step", step))
	}

	b.Ledger.Failed = append(b.Ledger.Failed, StepOutcome{
		Step:      step,
		Error:     cause.Error(),
		Timestamp: time.Now(),
	})
	b.Ledger.RetryCount++

	if state := b.stateFor(step.ComponentOf()); state != nil {
		state.RetryCount = b.Ledger.RetryCount
		state.LastError = cause.Error()
	} else if step.Service() == "payment" {
		b.PaymentState.RetryCount = b.Ledger.RetryCount
		b.PaymentState.LastError = cause.Error()
	}

	b.appendAudit("step_failed", fmt.Sprintf("%s: %s", step, cause.Error()), "engine")
	return nil
}

// BeginCompensation moves the ledger from FORWARD into COMPENSATING.
// Requires phase=FORWARD.
func (b *Booking) BeginCompensation() error {
	if b.Ledger.Phase != PhaseForward {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("begin_compensation requires phase=FORWARD, got %s", b.Ledger.Phase))
	}
	b.Ledger.Phase = PhaseCompensating
	b.Ledger.RetryCount = 0
	b.appendAudit("compensation_started", "", "engine")
	return nil
}

// RecordCompensation appends one compensation outcome. It is append-only
// and never rejected: compensation must continue rolling back other
// steps even when one rollback fails.
func (b *Booking) RecordCompensation(step StepKind, succeeded bool, cause error) {
	outcome := CompensationOutcome{Step: step, Succeeded: succeeded, Timestamp: time.Now()}
	if cause != nil {
		outcome.Error = cause.Error()
	}
	b.Ledger.Compensations = append(b.Ledger.Compensations, outcome)

	if state := b.stateFor(step.ComponentOf()); state != nil && succeeded {
		state.SubStatus = SubCompensated
	}
	if step == VoidAuthorization || step == Refund {
		if succeeded {
			b.PaymentState.SubStatus = SubCompensated
		}
	}

	action := "compensation_succeeded"
	if !succeeded {
		action = "compensation_failed"
	}
	b.appendAudit(action, string(step), "engine")
}

// Finalize sets the terminal status and phase. outcome must be
// CONFIRMED, CANCELLED, or FAILED; no transitions leave a terminal
// status once set.
func (b *Booking) Finalize(outcome Status) error {
	if b.Status == StatusConfirmed || b.Status == StatusCancelled || b.Status == StatusFailed {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("booking already terminal: %s", b.Status))
	}

	switch outcome {
	case StatusConfirmed:
		if b.Ledger.Phase != PhaseForward && b.Ledger.Phase != PhaseDone {
			return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("finalize(CONFIRMED) requires a completed forward pass"))
		}
		b.Ledger.Phase = PhaseDone
	case StatusCancelled:
		b.Ledger.Phase = PhaseDone
	case StatusFailed:
		b.Ledger.Phase = PhaseAborted
	default:
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("finalize: unsupported outcome %s", outcome))
	}

	b.Status = outcome
	b.appendAudit("booking_finalized", string(outcome), "engine")
	return nil
}

// UpdatePricing applies a delta to the pricing breakdown, recomputing
// total under the same invariant enforced at submission. Refused once
// the booking is CONFIRMED (a modification must instead go through
// AddModification and a delta-saga).
func (b *Booking) UpdatePricing(delta Pricing) error {
	if b.Status == StatusConfirmed {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("cannot update pricing after CONFIRMED"))
	}
	next := Pricing{
		Subtotal:  b.Pricing.Subtotal + delta.Subtotal,
		Taxes:     b.Pricing.Taxes + delta.Taxes,
		Fees:      b.Pricing.Fees + delta.Fees,
		Discounts: b.Pricing.Discounts + delta.Discounts,
		Currency:  b.Pricing.Currency,
	}.recompute()
	if next.Total < 0 {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("pricing update would make total negative"))
	}
	b.Pricing = next
	b.appendAudit("pricing_updated", fmt.Sprintf("total=%.2f", next.Total), "engine")
	return nil
}

// AddModification records a change request. Permitted only while the
// booking is PENDING or CONFIRMED.
func (b *Booking) AddModification(description string) error {
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("modifications only permitted on PENDING or CONFIRMED, got %s", b.Status))
	}
	b.Modifications = append(b.Modifications, Modification{
		ID:          uuid.New().String(),
		Description: description,
		RequestedAt: time.Now(),
	})
	b.appendAudit("modification_requested", description, "customer")
	return nil
}

// AddRefund records a refund against captured payment. The refunded
// amount may never exceed what was captured.
func (b *Booking) AddRefund(amount float64, reason string) error {
	if amount <= 0 {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("refund amount must be positive"))
	}
	var refunded float64
	for _, r := range b.Refunds {
		refunded += r.Amount
	}
	if refunded+amount > b.Pricing.Total {
		return bookingerr.New(bookingerr.KindValidation, fmt.Errorf("refund amount %.2f exceeds captured total %.2f", refunded+amount, b.Pricing.Total))
	}
	b.Refunds = append(b.Refunds, RefundRecord{
		ID:       uuid.New().String(),
		Amount:   amount,
		Reason:   reason,
		IssuedAt: time.Now(),
	})
	b.appendAudit("refund_issued", fmt.Sprintf("%.2f: %s", amount, reason), "engine")
	return nil
}

// AcquireLease claims single-writer ownership for owner until ttl from
// now, unless another non-expired owner already holds it.
func (b *Booking) AcquireLease(owner string, ttl time.Duration) error {
	now := time.Now()
	if b.Ledger.Lease.OwnerID != "" && b.Ledger.Lease.OwnerID != owner && b.Ledger.Lease.ExpiresAt.After(now) {
		return bookingerr.LeaseLost(bookingerr.ErrLeaseHeldByOther)
	}
	b.Ledger.Lease = Lease{OwnerID: owner, ExpiresAt: now.Add(ttl)}
	return nil
}

// RenewLease extends the current owner's lease. Fails if owner no longer
// holds it.
func (b *Booking) RenewLease(owner string, ttl time.Duration) error {
	if b.Ledger.Lease.OwnerID != owner {
		return bookingerr.LeaseLost(bookingerr.ErrLeaseHeldByOther)
	}
	b.Ledger.Lease.ExpiresAt = time.Now().Add(ttl)
	return nil
}

// Stranded reports whether this booking's lease has expired while its
// saga is still mid-flight, making it eligible for recovery.
func (b *Booking) Stranded(now time.Time) bool {
	if b.Ledger.Phase != PhaseForward && b.Ledger.Phase != PhaseCompensating {
		return false
	}
	return b.Ledger.Lease.ExpiresAt.Before(now)
}

// RefundedTotal sums every recorded refund.
func (b *Booking) RefundedTotal() float64 {
	var total float64
	for _, r := range b.Refunds {
		total += r.Amount
	}
	return total
}

// CanCancel reports whether a customer-initiated cancellation is
// currently permitted.
func (b *Booking) CanCancel() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// CanModify reports whether a modification request is currently
// permitted.
func (b *Booking) CanModify() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}
