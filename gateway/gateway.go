package gateway

import (
	"context"
	"time"

	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/errors"
	"github.com/vinayprograms/agentdir/logging"
)

// Request is one invocation of an agent's skill.
type Request struct {
	AgentID  string         `json:"agent_id"`
	CallerID string         `json:"caller_id,omitempty"`
	Skill    string         `json:"skill"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Result is what came back, successful or not.
type Result struct {
	OK         bool           `json:"ok"`
	StatusCode int            `json:"status_code,omitempty"`
	LatencyMs  int64          `json:"latency_ms"`
	Response   map[string]any `json:"response,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Transport carries an invocation over one wire protocol.
type Transport interface {
	Invoke(ctx context.Context, rec directory.AgentRecord, req Request) (Result, error)
}

// Gateway routes invocations to the transport for the agent's protocol.
// The protocol table is fixed at construction; there is no way to slip a
// new protocol in at runtime.
type Gateway struct {
	transports map[directory.Protocol]Transport
	log        *logging.Logger
}

// New builds a gateway over a fixed transport table.
func New(transports map[directory.Protocol]Transport, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.New()
	}
	table := make(map[directory.Protocol]Transport, len(transports))
	for p, t := range transports {
		table[p] = t
	}
	return &Gateway{transports: table, log: log.WithComponent("gateway")}
}

// NewDefault wires the built-in HTTP and WebSocket transports.
func NewDefault(log *logging.Logger) *Gateway {
	return New(map[directory.Protocol]Transport{
		directory.ProtocolHTTP:      NewHTTPTransport(HTTPConfig{}),
		directory.ProtocolA2A:       NewHTTPTransport(HTTPConfig{}),
		directory.ProtocolMCP:       NewHTTPTransport(HTTPConfig{}),
		directory.ProtocolWebSocket: NewWSTransport(WSConfig{}),
	}, log)
}

// Invoke calls the agent and reports the outcome with wall-clock latency.
// Offline agents are refused before any network traffic.
func (g *Gateway) Invoke(ctx context.Context, rec directory.AgentRecord, req Request) (Result, error) {
	if rec.HealthStatus == directory.HealthOffline {
		return Result{}, errors.AgentOffline(rec.ID)
	}

	t, ok := g.transports[rec.Protocol]
	if !ok {
		return Result{}, errors.Unsupported(
			"no transport for protocol "+string(rec.Protocol), errors.WithAgentID(rec.ID))
	}

	start := time.Now()
	res, err := t.Invoke(ctx, rec, req)
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		g.log.Debug("invocation failed", map[string]interface{}{
			"agent_id": rec.ID, "protocol": rec.Protocol, "error": err,
		})
		return res, err
	}
	return res, nil
}

// Supports reports whether the gateway can reach a protocol.
func (g *Gateway) Supports(p directory.Protocol) bool {
	_, ok := g.transports[p]
	return ok
}
