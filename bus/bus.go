package bus

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed       = errors.New("event bus closed")
	ErrInvalidEvent = errors.New("invalid event")
)

// EventType names a category of directory events.
type EventType string

const (
	EventAgentRegistered    EventType = "agent_registered"
	EventAgentUpdated       EventType = "agent_updated"
	EventAgentDeregistered  EventType = "agent_deregistered"
	EventAgentClaimed       EventType = "agent_claimed"
	EventAgentHealthChanged EventType = "agent_health_changed"
	EventTrustScoreChanged  EventType = "trust_score_changed"
	EventPeerSynced         EventType = "peer_synced"
	EventSessionAgreed      EventType = "session_agreed"
)

// Event is one directory occurrence delivered to subscribers. Delivery is
// best effort, a slow subscriber loses events rather than stalling the
// publisher.
type Event struct {
	Type      EventType      `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventBus fans directory events out to subscribers.
type EventBus interface {
	// Publish delivers an event to all matching subscribers.
	Publish(ev Event) error

	// Subscribe creates a subscription for the given event types.
	// With no types, the subscription receives every event.
	Subscribe(types ...EventType) (Subscription, error)

	// Close shuts the bus down and closes all subscription channels.
	Close() error
}

// Subscription is an active event stream.
type Subscription interface {
	// Events returns the channel for incoming events.
	// The channel is closed when the subscription ends.
	Events() <-chan Event

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

func validateEvent(ev Event) error {
	if ev.Type == "" {
		return ErrInvalidEvent
	}
	return nil
}
