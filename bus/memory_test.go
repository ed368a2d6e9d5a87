package bus

import (
	"testing"
	"time"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, err := b.Subscribe(EventAgentRegistered)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish(Event{Type: EventAgentRegistered, AgentID: "agent-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.AgentID != "agent-1" {
			t.Errorf("AgentID = %q, want agent-1", ev.AgentID)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Timestamp not stamped at publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBus_TypeFiltering(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe(EventTrustScoreChanged)

	b.Publish(Event{Type: EventAgentRegistered, AgentID: "ignored"})
	b.Publish(Event{Type: EventTrustScoreChanged, AgentID: "agent-2"})

	select {
	case ev := <-sub.Events():
		if ev.Type != EventTrustScoreChanged {
			t.Errorf("received filtered-out event %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBus_WildcardSubscription(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe() // no types: receive everything

	b.Publish(Event{Type: EventAgentRegistered, AgentID: "a"})
	b.Publish(Event{Type: EventAgentHealthChanged, AgentID: "b"})

	var got []EventType
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events():
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", i)
		}
	}
	if got[0] != EventAgentRegistered || got[1] != EventAgentHealthChanged {
		t.Errorf("got %v in wrong order", got)
	}
}

func TestMemoryBus_FullBufferDrops(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1})
	defer b.Close()

	sub, _ := b.Subscribe()

	b.Publish(Event{Type: EventAgentRegistered, AgentID: "first"})
	b.Publish(Event{Type: EventAgentRegistered, AgentID: "dropped"})

	ev := <-sub.Events()
	if ev.AgentID != "first" {
		t.Errorf("AgentID = %q, want first", ev.AgentID)
	}
	select {
	case extra := <-sub.Events():
		t.Errorf("expected drop, got %q", extra.AgentID)
	default:
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe()
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	// Second unsubscribe is a no-op.
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}

	if err := b.Publish(Event{Type: EventAgentRegistered}); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("channel not closed after unsubscribe")
	}
}

func TestMemoryBus_Close(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	sub, _ := b.Subscribe()

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Publish(Event{Type: EventAgentRegistered}); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(); err != ErrClosed {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("channel not closed after bus close")
	}
}

func TestMemoryBus_ConcurrentPublishUnsubscribe(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1})
	defer b.Close()

	// A publish in flight while the subscriber tears down must never
	// panic on a closed channel.
	for i := 0; i < 200; i++ {
		sub, err := b.Subscribe(EventAgentRegistered)
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		done := make(chan struct{})
		go func() {
			for j := 0; j < 10; j++ {
				b.Publish(Event{Type: EventAgentRegistered})
			}
			close(done)
		}()
		sub.Unsubscribe()
		<-done
	}
}

func TestMemoryBus_RejectsEmptyType(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	if err := b.Publish(Event{}); err != ErrInvalidEvent {
		t.Errorf("Publish empty type = %v, want ErrInvalidEvent", err)
	}
}
