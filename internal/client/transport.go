package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
)

// HTTPTransport calls a downstream over plain HTTP/JSON. It is the
// transport for the inventory services and notification dispatch, none
// of which need an SDK the way payment does: the outbound contract
// (§6) only requires an Idempotency-Key header and a JSON body, which
// net/http already expresses without a third-party client.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport builds a transport against baseURL with the given
// per-attempt timeout (the Client layer also enforces its own deadline;
// this one guards against a hung connection inside a single attempt).
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Do(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, bookingerr.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/%s", t.baseURL, req.Action)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, bookingerr.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, bookingerr.Transient(fmt.Errorf("%s %s: %w", req.Service, req.Action, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bookingerr.Transient(fmt.Errorf("read response: %w", err))
	}

	if kind, failed := classifyStatus(resp.StatusCode); failed {
		return nil, bookingerr.New(kind, fmt.Errorf("%s %s: status %d: %s", req.Service, req.Action, resp.StatusCode, string(respBody)))
	}

	var data map[string]interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &data); err != nil {
			return nil, bookingerr.New(bookingerr.KindTransient, fmt.Errorf("decode response: %w", err))
		}
	}

	return &Result{Data: data}, nil
}

// classifyStatus maps an HTTP status onto the outbound classification
// table (§4.1): network errors/timeouts/5xx/429 are TRANSIENT, other
// 4xx are PERMANENT.
func classifyStatus(status int) (kind bookingerr.Kind, failed bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return bookingerr.KindTransient, true
	case status >= 400:
		return bookingerr.KindPermanent, true
	default:
		return bookingerr.KindTransient, true
	}
}
