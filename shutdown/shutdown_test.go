package shutdown

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStopRunsPhasesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) Step {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	c := NewCoordinator(Config{})
	c.Register("backend", 1, record("backend"))
	c.Register("listener", 0, record("listener"))

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(order) != 2 || order[0] != "listener" || order[1] != "backend" {
		t.Fatalf("order = %v", order)
	}
}

func TestSamePhaseRunsConcurrently(t *testing.T) {
	gate := make(chan struct{})
	c := NewCoordinator(Config{Timeout: time.Second})
	// Two steps that each wait for the other; sequential execution
	// would deadlock until the timeout.
	c.Register("a", 0, func(ctx context.Context) error {
		gate <- struct{}{}
		return nil
	})
	c.Register("b", 0, func(ctx context.Context) error {
		<-gate
		return nil
	})

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopOnce(t *testing.T) {
	calls := 0
	c := NewCoordinator(Config{})
	c.Register("counter", 0, func(ctx context.Context) error {
		calls++
		return nil
	})

	if err := c.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if calls != 1 {
		t.Fatalf("step ran %d times", calls)
	}
}

func TestStepFailureReported(t *testing.T) {
	c := NewCoordinator(Config{})
	c.Register("ok", 0, func(ctx context.Context) error { return nil })
	c.Register("bad", 1, func(ctx context.Context) error { return fmt.Errorf("boom") })
	c.Register("after", 2, func(ctx context.Context) error { return nil })

	if err := c.Stop(); err != ErrStepFailed {
		t.Fatalf("Stop = %v, want ErrStepFailed", err)
	}
	if c.Err() != ErrStepFailed {
		t.Fatalf("Err = %v", c.Err())
	}
}

func TestTimeoutSkipsLaterPhases(t *testing.T) {
	ran := false
	c := NewCoordinator(Config{Timeout: 20 * time.Millisecond})
	c.Register("slow", 0, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.Register("late", 1, func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := c.Stop()
	if err == nil {
		t.Fatal("expected error after timeout")
	}
	if ran {
		t.Fatal("later phase ran after deadline")
	}
}

func TestTriggerClosesDone(t *testing.T) {
	c := NewCoordinator(Config{})
	c.Register("noop", 0, func(ctx context.Context) error { return nil })
	c.HandleSignals()
	c.Trigger()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done never closed after Trigger")
	}
	if c.Err() != nil {
		t.Fatalf("Err = %v", c.Err())
	}
}
