package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/errors"
)

// WSConfig tunes the WebSocket transport.
type WSConfig struct {
	// HandshakeTimeout bounds the dial. Default 10s.
	HandshakeTimeout time.Duration

	// ResponseTimeout bounds the wait for the reply frame. Default 30s.
	ResponseTimeout time.Duration
}

// WSTransport dials the agent's endpoint, sends the request as one JSON
// frame, and waits for a single JSON reply frame.
type WSTransport struct {
	dialer          *websocket.Dialer
	responseTimeout time.Duration
}

// NewWSTransport creates the transport.
func NewWSTransport(cfg WSConfig) *WSTransport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	return &WSTransport{
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		responseTimeout: cfg.ResponseTimeout,
	}
}

// Invoke performs one request/reply exchange over a fresh connection.
func (t *WSTransport) Invoke(ctx context.Context, rec directory.AgentRecord, req Request) (Result, error) {
	conn, _, err := t.dialer.DialContext(ctx, rec.Endpoint, nil)
	if err != nil {
		return Result{}, errors.Invocation(rec.ID, "dial: "+err.Error())
	}
	defer conn.Close()

	if err := conn.WriteJSON(req); err != nil {
		return Result{}, errors.Invocation(rec.ID, "send: "+err.Error())
	}

	deadline := time.Now().Add(t.responseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		return Result{}, errors.Invocation(rec.ID, "receive: "+err.Error())
	}

	return Result{OK: true, Response: payload}, nil
}
