// Package client implements the uniform outbound call primitive every
// saga step uses to reach a downstream service: one Invoke with
// consistent timeout, retry, idempotency, and failure classification,
// regardless of which downstream or transport backs it.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
	"github.com/prohmpiriya/booking-orchestrator/pkg/logger"
	"github.com/prohmpiriya/booking-orchestrator/pkg/retry"
	"github.com/prohmpiriya/booking-orchestrator/pkg/telemetry"
)

// Request is one outbound call: a logical service/action pair, a
// serializable payload, and the idempotency key the downstream should
// deduplicate on.
type Request struct {
	Service        string
	Action         string
	Payload        map[string]interface{}
	IdempotencyKey string
}

// Result is a downstream's successful response body.
type Result struct {
	Data map[string]interface{}
}

// Transport performs one attempt at a request against a specific
// downstream. It classifies its own failures; Client layers retry and
// deadline policy on top.
type Transport interface {
	Do(ctx context.Context, req Request) (*Result, error)
}

// Client is the uniform outbound call primitive (§C1). It owns no
// downstream-specific logic; Transports do.
type Client struct {
	transports map[string]Transport
	retrier    *retry.Retrier
	deadline   time.Duration
}

// Config configures a Client's per-call deadline and retry policy.
type Config struct {
	Deadline    time.Duration
	RetryConfig *retry.Config
}

// New builds a Client dispatching to transports by logical service name.
func New(transports map[string]Transport, cfg Config) *Client {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = retry.ServiceClientConfig()
	}
	return &Client{
		transports: transports,
		retrier:    retry.New(cfg.RetryConfig),
		deadline:   cfg.Deadline,
	}
}

// Invoke calls service/action with payload under idempotencyKey,
// retrying TRANSIENT failures with backoff up to the configured policy
// and preserving the same idempotency key on every attempt. It never
// returns a raw transport error: every failure is classified via
// bookingerr so the saga engine can decide retry vs. compensate.
func (c *Client) Invoke(ctx context.Context, req Request) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "client.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("service", req.Service),
		attribute.String("action", req.Action),
		attribute.String("idempotency_key", req.IdempotencyKey),
	)

	transport, ok := c.transports[req.Service]
	if !ok {
		err := bookingerr.Permanent(fmt.Errorf("no transport registered for service %q", req.Service))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var result *Result
	var classified error

	outcome := c.retrier.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.deadline)
		defer cancel()

		res, err := transport.Do(callCtx, req)
		if err == nil {
			result = res
			return nil
		}

		kind := classify(err)
		classified = bookingerr.New(kind, err)

		if kind == bookingerr.KindTransient {
			return retry.Retryable(err)
		}
		return retry.Permanent(err)
	})

	span.SetAttributes(attribute.Int("attempts", outcome.Attempts))

	if outcome.Err != nil {
		logger.Get().Warn("service_client_invoke_exhausted",
			"service", req.Service, "action", req.Action, "attempts", outcome.Attempts, "error", outcome.Err.Error())
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
		if classified != nil {
			return nil, classified
		}
		return nil, bookingerr.Transient(outcome.Err)
	}

	return result, nil
}

// classify maps a transport error onto the taxonomy the engine reasons
// about. Transports that already return a *bookingerr.Error short-circuit
// straight through; anything else defaults to TRANSIENT, the safer
// assumption for an error this layer doesn't recognize.
func classify(err error) bookingerr.Kind {
	var be *bookingerr.Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return bookingerr.KindTransient
}
