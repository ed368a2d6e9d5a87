// Package bus fans directory lifecycle events out to subscribers.
//
// # Overview
//
// The EventBus interface carries typed events (registrations, updates,
// health transitions, trust-score changes) from the directory core to any
// interested component. All implementations use channel-based APIs for
// Go-idiomatic concurrent use, and delivery is best effort: a subscriber
// that falls behind loses events instead of stalling the publisher.
//
// # Available Implementations
//
//   - NATSBus: shares one event stream across directory nodes using NATS
//   - MemoryBus: in-memory implementation for testing and single-node use
//
// # Usage
//
//	sub, _ := bus.Subscribe(bus.EventAgentRegistered, bus.EventTrustScoreChanged)
//	for ev := range sub.Events() {
//	    // Handle event
//	}
//
// Subscribing with no types yields every event.
package bus
