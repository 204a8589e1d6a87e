package client

import (
	"context"
	"errors"
	"testing"

	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
	"github.com/prohmpiriya/booking-orchestrator/pkg/retry"
)

type fakeTransport struct {
	calls   int
	results []error // nil entries mean success
}

func (f *fakeTransport) Do(ctx context.Context, req Request) (*Result, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	if err := f.results[idx]; err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"downstream_id": "dst-1"}}, nil
}

func fastRetryConfig() *retry.Config {
	return &retry.Config{MaxRetries: 3, InitialInterval: 1, MaxInterval: 2, Multiplier: 1, JitterFactor: 0}
}

func TestInvoke_SucceedsFirstTry(t *testing.T) {
	ft := &fakeTransport{results: []error{nil}}
	c := New(map[string]Transport{"hotel": ft}, Config{RetryConfig: fastRetryConfig()})

	res, err := c.Invoke(context.Background(), Request{Service: "hotel", Action: "hold", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Data["downstream_id"] != "dst-1" {
		t.Errorf("unexpected result: %+v", res.Data)
	}
	if ft.calls != 1 {
		t.Errorf("calls = %d, want 1", ft.calls)
	}
}

func TestInvoke_RetriesTransientThenSucceeds(t *testing.T) {
	ft := &fakeTransport{results: []error{
		bookingerr.Transient(errors.New("timeout")),
		bookingerr.Transient(errors.New("timeout")),
		nil,
	}}
	c := New(map[string]Transport{"hotel": ft}, Config{RetryConfig: fastRetryConfig()})

	_, err := c.Invoke(context.Background(), Request{Service: "hotel", Action: "hold", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if ft.calls != 3 {
		t.Errorf("calls = %d, want 3", ft.calls)
	}
}

func TestInvoke_PermanentDoesNotRetry(t *testing.T) {
	ft := &fakeTransport{results: []error{bookingerr.Permanent(errors.New("bad request"))}}
	c := New(map[string]Transport{"hotel": ft}, Config{RetryConfig: fastRetryConfig()})

	_, err := c.Invoke(context.Background(), Request{Service: "hotel", Action: "confirm", IdempotencyKey: "k1"})
	if !bookingerr.Is(err, bookingerr.KindPermanent) {
		t.Fatalf("expected KindPermanent, got %v", err)
	}
	if ft.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent)", ft.calls)
	}
}

func TestInvoke_UnknownServiceIsPermanent(t *testing.T) {
	c := New(map[string]Transport{}, Config{RetryConfig: fastRetryConfig()})
	_, err := c.Invoke(context.Background(), Request{Service: "missing", Action: "hold"})
	if !bookingerr.Is(err, bookingerr.KindPermanent) {
		t.Fatalf("expected KindPermanent for unregistered service, got %v", err)
	}
}

func TestInvoke_PreservesIdempotencyKeyAcrossRetries(t *testing.T) {
	var seen []string
	ft := &recordingTransport{
		fakeTransport: fakeTransport{results: []error{
			bookingerr.Transient(errors.New("timeout")),
			nil,
		}},
		onCall: func(req Request) { seen = append(seen, req.IdempotencyKey) },
	}
	c := New(map[string]Transport{"hotel": ft}, Config{RetryConfig: fastRetryConfig()})

	_, err := c.Invoke(context.Background(), Request{Service: "hotel", Action: "hold", IdempotencyKey: "stable-key"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for _, k := range seen {
		if k != "stable-key" {
			t.Errorf("idempotency key changed across retries: %v", seen)
		}
	}
}

type recordingTransport struct {
	fakeTransport
	onCall func(Request)
}

func (r *recordingTransport) Do(ctx context.Context, req Request) (*Result, error) {
	r.onCall(req)
	return r.fakeTransport.Do(ctx, req)
}
