package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBus implements EventBus in process. Useful for testing and
// single-node deployments.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	closed atomic.Bool
}

type memorySub struct {
	types map[EventType]bool // nil matches everything
	ch    chan Event
	bus   *MemoryBus

	// sendMu serializes sends against close so an unsubscribe racing a
	// publish can never panic the publisher.
	sendMu sync.Mutex
	closed atomic.Bool
}

// deliver sends without blocking, dropping when the buffer is full.
func (s *memorySub) deliver(ev Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Buffer full, drop event
	}
}

func (s *memorySub) shut() {
	if s.closed.Swap(true) {
		return
	}
	s.sendMu.Lock()
	close(s.ch)
	s.sendMu.Unlock()
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{config: cfg}
}

// Publish delivers an event to all matching subscribers.
func (b *MemoryBus) Publish(ev Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.matches(ev.Type) {
			continue
		}
		sub.deliver(ev)
	}
	return nil
}

// Subscribe creates a subscription for the given event types.
func (b *MemoryBus) Subscribe(types ...EventType) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		ch:  make(chan Event, b.config.BufferSize),
		bus: b,
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// Close shuts the bus down.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.shut()
	}
	b.subs = nil
	return nil
}

func (s *memorySub) matches(t EventType) bool {
	return s.types == nil || s.types[t]
}

// Events returns the event channel.
func (s *memorySub) Events() <-chan Event {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	if s.closed.Load() {
		return nil
	}

	s.bus.mu.Lock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()

	s.shut()
	return nil
}
