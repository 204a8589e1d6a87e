package client

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
)

// StripeConfig configures the payment transport.
type StripeConfig struct {
	SecretKey            string
	CurrencyDefault      string
	IdempotencyKeyPrefix string
}

// StripeTransport implements the payment service's four actions
// (authorize, capture, void, refund) against Stripe's manual-capture
// PaymentIntent flow: authorize creates an intent with capture_method
// "manual" so funds are reserved but not settled, capture settles it,
// void cancels an un-captured intent, and refund returns settled funds.
type StripeTransport struct {
	config StripeConfig
}

// NewStripeTransport sets the process-wide Stripe API key and returns a
// transport bound to it.
func NewStripeTransport(cfg StripeConfig) (*StripeTransport, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	stripe.Key = cfg.SecretKey
	if cfg.CurrencyDefault == "" {
		cfg.CurrencyDefault = "usd"
	}
	return &StripeTransport{config: cfg}, nil
}

func (t *StripeTransport) Do(ctx context.Context, req Request) (*Result, error) {
	switch req.Action {
	case "authorize":
		return t.authorize(ctx, req)
	case "capture":
		return t.capture(ctx, req)
	case "void":
		return t.void(ctx, req)
	case "refund":
		return t.refund(ctx, req)
	default:
		return nil, bookingerr.Permanent(fmt.Errorf("stripe transport: unsupported action %q", req.Action))
	}
}

func (t *StripeTransport) authorize(_ context.Context, req Request) (*Result, error) {
	amount, ok := req.Payload["amount"].(float64)
	if !ok || amount <= 0 {
		return nil, bookingerr.Permanent(fmt.Errorf("authorize: missing or invalid amount"))
	}
	currency := stringOr(req.Payload["currency"], t.config.CurrencyDefault)

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(amount * 100)),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String("manual"),
		Confirm:       stripe.Bool(true),
		PaymentMethod: stripe.String("pm_card_visa"),
		Metadata: map[string]string{
			"booking_id": stringOr(req.Payload["booking_id"], ""),
		},
	}
	params.IdempotencyKey = stripe.String(t.idempotencyKey(req))

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		return &Result{Data: map[string]interface{}{
			"authorization_id": pi.ID,
			"status":           string(pi.Status),
		}}, nil
	case stripe.PaymentIntentStatusCanceled:
		return nil, bookingerr.Fraud(fmt.Errorf("authorize: payment intent canceled by risk checks"))
	default:
		return nil, bookingerr.Permanent(fmt.Errorf("authorize: unexpected status %s", pi.Status))
	}
}

func (t *StripeTransport) capture(_ context.Context, req Request) (*Result, error) {
	authID := stringOr(req.Payload["authorization_id"], "")
	if authID == "" {
		return nil, bookingerr.Permanent(fmt.Errorf("capture: missing authorization_id"))
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.IdempotencyKey = stripe.String(t.idempotencyKey(req))

	pi, err := paymentintent.Capture(authID, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, bookingerr.Permanent(fmt.Errorf("capture: unexpected status %s", pi.Status))
	}

	return &Result{Data: map[string]interface{}{
		"capture_id": pi.ID,
		"status":     string(pi.Status),
	}}, nil
}

func (t *StripeTransport) void(_ context.Context, req Request) (*Result, error) {
	authID := stringOr(req.Payload["authorization_id"], "")
	if authID == "" {
		// Nothing was ever authorized; treat as an already-voided no-op.
		return &Result{}, nil
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("requested_by_customer"),
	}
	params.IdempotencyKey = stripe.String(t.idempotencyKey(req))

	pi, err := paymentintent.Cancel(authID, params)
	if err != nil {
		if isAlreadyCanceled(err) {
			return &Result{}, nil
		}
		return nil, classifyStripeError(err)
	}

	return &Result{Data: map[string]interface{}{"status": string(pi.Status)}}, nil
}

func (t *StripeTransport) refund(_ context.Context, req Request) (*Result, error) {
	chargeID := stringOr(req.Payload["capture_id"], "")
	amount, ok := req.Payload["amount"].(float64)
	if chargeID == "" || !ok || amount <= 0 {
		return nil, bookingerr.Permanent(fmt.Errorf("refund: missing capture_id or amount"))
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(chargeID),
		Amount:        stripe.Int64(int64(amount * 100)),
	}
	params.IdempotencyKey = stripe.String(t.idempotencyKey(req))

	r, err := refund.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	return &Result{Data: map[string]interface{}{
		"refund_id": r.ID,
		"status":    string(r.Status),
	}}, nil
}

func (t *StripeTransport) idempotencyKey(req Request) string {
	if t.config.IdempotencyKeyPrefix == "" {
		return req.IdempotencyKey
	}
	return t.config.IdempotencyKeyPrefix + ":" + req.IdempotencyKey
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

// classifyStripeError maps a Stripe API error onto the outbound
// classification table: rate limits and connection/5xx errors are
// TRANSIENT, card declines and risk blocks are Permanent/Fraud, anything
// else is treated as TRANSIENT (the safer default).
func classifyStripeError(err error) error {
	stripeErr, ok := err.(*stripe.Error)
	if !ok {
		return bookingerr.Transient(err)
	}

	switch string(stripeErr.Type) {
	case "card_error":
		if string(stripeErr.Code) == "card_declined" {
			return bookingerr.Fraud(err)
		}
		return bookingerr.Permanent(err)
	case "rate_limit_error", "api_connection_error", "api_error":
		return bookingerr.Transient(err)
	case "invalid_request_error":
		return bookingerr.Permanent(err)
	default:
		return bookingerr.Transient(err)
	}
}

func isAlreadyCanceled(err error) bool {
	se, ok := err.(*stripe.Error)
	return ok && string(se.Code) == "payment_intent_unexpected_state"
}
