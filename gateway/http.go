package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/errors"
)

// HTTPConfig tunes the HTTP transport.
type HTTPConfig struct {
	// Timeout bounds one invocation end to end. Default 30s.
	Timeout time.Duration

	// Client overrides the default HTTP client, mainly for tests.
	Client *http.Client
}

// HTTPTransport POSTs the request to the agent's endpoint as JSON.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates the transport.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPTransport{client: client}
}

// Invoke performs one POST round trip. Any 2xx or 3xx status counts as
// success; the body is decoded as JSON when it parses and ignored when
// it does not.
func (t *HTTPTransport) Invoke(ctx context.Context, rec directory.AgentRecord, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "encode request", errors.WithAgentID(rec.ID))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, errors.Invocation(rec.ID, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.CallerID != "" {
		httpReq.Header.Set("X-Caller-ID", req.CallerID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errors.Wrap(ctx.Err(), "invoke "+rec.ID, errors.WithAgentID(rec.ID))
		}
		return Result{}, errors.Invocation(rec.ID, err.Error())
	}
	defer resp.Body.Close()

	res := Result{
		OK:         resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		res.Response = payload
	}
	if !res.OK {
		res.Error = fmt.Sprintf("agent returned status %d", resp.StatusCode)
	}
	return res, nil
}
