// Package saga implements the forward-execution and compensation engine
// that drives a Booking through its downstream calls (§C4). The step
// taxonomy and compensation table it walks live on the Booking aggregate
// itself in package booking; this package owns only the drive loop.
package saga

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/booking-orchestrator/internal/booking"
	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
	"github.com/prohmpiriya/booking-orchestrator/internal/client"
	"github.com/prohmpiriya/booking-orchestrator/internal/store"
	"github.com/prohmpiriya/booking-orchestrator/pkg/logger"
	"github.com/prohmpiriya/booking-orchestrator/pkg/retry"
	"github.com/prohmpiriya/booking-orchestrator/pkg/telemetry"
)

// EngineConfig tunes the per-compensation retry policy and the lease a
// worker holds while driving a booking. StepRetry is not consulted by
// Engine: forward-step retries happen inside client.Client.Invoke under
// the Client's own RetryConfig.
type EngineConfig struct {
	StepRetry         *retry.Config
	CompensationRetry *retry.Config
	LeaseTTL          time.Duration
	WorkerID          string
}

// DefaultEngineConfig fills StepRetry with retry.ServiceClientConfig and
// CompensationRetry with the wider, longer-lived retry.CompensationConfig.
func DefaultEngineConfig(workerID string) EngineConfig {
	return EngineConfig{
		StepRetry:         retry.ServiceClientConfig(),
		CompensationRetry: retry.CompensationConfig(),
		LeaseTTL:          2 * time.Minute,
		WorkerID:          workerID,
	}
}

// Engine drives a Booking's saga forward, compensates it on failure, and
// recovers stranded bookings after a crash. It owns no state of its own
// beyond policy: the Booking aggregate and the Store are authoritative.
type Engine struct {
	store  store.Store
	client *client.Client
	config EngineConfig
	compR  *retry.Retrier
}

// NewEngine wires a store and service client under cfg.
func NewEngine(st store.Store, c *client.Client, cfg EngineConfig) *Engine {
	if cfg.StepRetry == nil {
		cfg.StepRetry = retry.ServiceClientConfig()
	}
	if cfg.CompensationRetry == nil {
		cfg.CompensationRetry = retry.CompensationConfig()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	return &Engine{
		store:  st,
		client: c,
		config: cfg,
		compR:  retry.New(cfg.CompensationRetry),
	}
}

// idempotencyKey is stable per {booking_id, step_name, attempt_group} so a
// retried call and a post-crash re-invocation both dedupe at the
// downstream, per the outbound contract in §6.
func idempotencyKey(bookingID string, step booking.StepKind, attemptGroup string) string {
	sum := sha256.Sum256([]byte(bookingID + "|" + string(step) + "|" + attemptGroup))
	return hex.EncodeToString(sum[:16])
}

func payloadFor(b *booking.Booking, step booking.StepKind) map[string]interface{} {
	payload := map[string]interface{}{"booking_id": b.ID}
	switch step.ComponentOf() {
	case booking.ComponentFlight:
		if b.Flight != nil {
			payload["selection_id"] = b.Flight.SelectionID
			payload["hold_token"] = b.FlightState.DownstreamID
		}
	case booking.ComponentHotel:
		if b.Hotel != nil {
			payload["selection_id"] = b.Hotel.SelectionID
			payload["hold_token"] = b.HotelState.DownstreamID
		}
	case booking.ComponentCar:
		if b.Car != nil {
			payload["selection_id"] = b.Car.SelectionID
			payload["hold_token"] = b.CarState.DownstreamID
		}
	}
	if step.Service() == "payment" {
		payload["amount"] = b.Pricing.Total
		payload["currency"] = b.Pricing.Currency
		payload["authorization_id"] = b.PaymentState.DownstreamID
	}
	if step == booking.Notify {
		payload["email"] = b.Contact.Email
		payload["phone"] = b.Contact.Phone
		payload["locale"] = b.Contact.Locale
	}
	return payload
}

// holdExpired reports whether the component step's hold lapsed before the
// saga reached this step — synthesized as a PERMANENT failure per §5.
func holdExpired(b *booking.Booking, step booking.StepKind, now time.Time) bool {
	if step.Action() != "confirm" {
		return false
	}
	var state booking.ComponentState
	switch step.ComponentOf() {
	case booking.ComponentFlight:
		state = b.FlightState
	case booking.ComponentHotel:
		state = b.HotelState
	case booking.ComponentCar:
		state = b.CarState
	default:
		return false
	}
	return !state.HoldExpiresAt.IsZero() && state.HoldExpiresAt.Before(now)
}

// Drive advances bookingID's saga: it loads the aggregate, claims or
// renews the lease, and runs the forward loop until the plan completes,
// a failed step moves it into compensation, or the context ends. Every
// step result and compensation outcome is persisted as it happens, so a
// crash mid-Drive leaves resumable state behind.
func (e *Engine) Drive(ctx context.Context, bookingID string) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.drive")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID), attribute.String("worker_id", e.config.WorkerID))

	b, version, err := e.store.Load(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := b.AcquireLease(e.config.WorkerID, e.config.LeaseTTL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.String("phase", string(b.Ledger.Phase)))

	var driveErr error
	switch b.Ledger.Phase {
	case booking.PhaseForward:
		driveErr = e.runForward(ctx, b, version)
	case booking.PhaseCompensating:
		driveErr = e.runCompensation(ctx, b, version)
	default:
		return nil // already DONE/ABORTED; nothing to drive
	}
	if driveErr != nil {
		span.RecordError(driveErr)
		span.SetStatus(codes.Error, driveErr.Error())
	}
	return driveErr
}

func (e *Engine) runForward(ctx context.Context, b *booking.Booking, version int64) error {
	for {
		step, ok := b.CurrentStep()
		if !ok {
			return e.finishForward(ctx, b, version)
		}

		if holdExpired(b, step, time.Now()) {
			_ = b.FailStep(step, bookingerr.HoldExpired(fmt.Errorf("%s hold expired before confirm", step)))
			if err := b.BeginCompensation(); err != nil {
				return err
			}
			next, err := e.persist(ctx, b, version, "saga_compensating")
			if err != nil {
				return err
			}
			return e.runCompensation(ctx, b, next)
		}

		// attempt_group is the per-step retry generation: the Client
		// already retries TRANSIENT failures internally (bounded,
		// backed off) under one idempotency key, so one Drive pass
		// through a step is exactly one attempt group.
		key := idempotencyKey(b.ID, step, fmt.Sprintf("attempt-%d", b.Ledger.RetryCount))

		if err := b.RenewLease(e.config.WorkerID, e.config.LeaseTTL); err != nil {
			return err
		}

		stepCtx, stepSpan := telemetry.StartSpan(ctx, "saga.step")
		stepSpan.SetAttributes(
			attribute.String("booking_id", b.ID),
			attribute.String("step", string(step)),
			attribute.String("service", step.Service()),
			attribute.String("action", step.Action()),
		)

		result, callErr := e.client.Invoke(stepCtx, client.Request{
			Service:        step.Service(),
			Action:         step.Action(),
			Payload:        payloadFor(b, step),
			IdempotencyKey: key,
		})

		if callErr == nil {
			stepSpan.End()
			if err := b.CompleteStep(step, result.Data); err != nil {
				return err
			}
			next, err := e.persist(ctx, b, version, "step_completed")
			if err != nil {
				return err
			}
			version = next
			continue
		}
		stepSpan.RecordError(callErr)
		stepSpan.SetStatus(codes.Error, callErr.Error())
		stepSpan.End()

		// The Client already exhausted its own bounded TRANSIENT
		// retries before returning; anything reaching here —
		// TRANSIENT-exhausted, PERMANENT, HOLD_EXPIRED, or FRAUD —
		// moves the saga into compensation.
		_ = b.FailStep(step, callErr)
		if err := b.BeginCompensation(); err != nil {
			return err
		}
		next, err := e.persist(ctx, b, version, "saga_compensating")
		if err != nil {
			return err
		}
		return e.runCompensation(ctx, b, next)
	}
}

func (e *Engine) finishForward(ctx context.Context, b *booking.Booking, version int64) error {
	if err := b.Finalize(booking.StatusConfirmed); err != nil {
		return err
	}
	_, err := e.persist(ctx, b, version, "booking_confirmed")
	return err
}

func (e *Engine) runCompensation(ctx context.Context, b *booking.Booking, version int64) error {
	anyUnresolved := false

	for i := len(b.Ledger.Completed) - 1; i >= 0; i-- {
		entry := b.Ledger.Completed[i]
		comp, ok := booking.CompensationFor(entry.Step)
		if !ok {
			continue // non-compensable (e.g. Notify): logged, skipped
		}
		if alreadyCompensated(b, comp) {
			continue
		}

		if err := b.RenewLease(e.config.WorkerID, e.config.LeaseTTL); err != nil {
			return err
		}

		key := idempotencyKey(b.ID, comp, "COMP")
		compCtx, compSpan := telemetry.StartSpan(ctx, "saga.compensate")
		compSpan.SetAttributes(
			attribute.String("booking_id", b.ID),
			attribute.String("step", string(comp)),
			attribute.String("service", comp.Service()),
			attribute.String("action", comp.Action()),
		)

		outcome := e.compR.Do(compCtx, func(ctx context.Context) error {
			_, err := e.client.Invoke(ctx, client.Request{
				Service:        comp.Service(),
				Action:         comp.Action(),
				Payload:        payloadFor(b, comp),
				IdempotencyKey: key,
			})
			if err == nil {
				return nil
			}
			if bookingerr.ClassifyOf(err) == bookingerr.KindTransient {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})

		if outcome.Err != nil {
			anyUnresolved = true
			b.RecordCompensation(comp, false, bookingerr.CompensationFailed(outcome.Err))
			compSpan.RecordError(outcome.Err)
			compSpan.SetStatus(codes.Error, outcome.Err.Error())
			logger.Get().Error("compensation_step_failed",
				"booking_id", b.ID, "step", string(comp), "error", outcome.Err.Error())
		} else {
			b.RecordCompensation(comp, true, nil)
		}
		compSpan.End()

		next, err := e.persist(ctx, b, version, "compensation_recorded")
		if err != nil {
			return err
		}
		version = next
	}

	outcome := booking.StatusCancelled
	eventType := "booking_cancelled"
	if anyUnresolved {
		outcome = booking.StatusFailed
		eventType = "booking_failed"
	}
	if err := b.Finalize(outcome); err != nil {
		return err
	}
	_, err := e.persist(ctx, b, version, eventType)
	return err
}

func alreadyCompensated(b *booking.Booking, comp booking.StepKind) bool {
	for _, c := range b.Ledger.Compensations {
		if c.Step == comp && c.Succeeded {
			return true
		}
	}
	return false
}

// persist writes b at expectedVersion and appends one outbox event of
// eventType, returning the new version. The outbox event payload carries
// enough of the ledger for a consumer to project current state; the
// OutboxDrainer publishes it as-is, without the events.Envelope wrapper.
func (e *Engine) persist(ctx context.Context, b *booking.Booking, expectedVersion int64, eventType string) (int64, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"booking_id": b.ID,
		"phase":      b.Ledger.Phase,
		"status":     b.Status,
		"cursor":     b.Ledger.Cursor,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal outbox payload: %w", err)
	}
	return e.store.Persist(ctx, b, expectedVersion, store.OutboxEvent{EventType: eventType, Payload: payload})
}
