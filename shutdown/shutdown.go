package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/agentdir/logging"
)

var (
	// ErrAlreadyStopping indicates teardown was already initiated.
	ErrAlreadyStopping = errors.New("teardown already initiated")

	// ErrTimeout indicates teardown did not finish within the deadline.
	ErrTimeout = errors.New("teardown deadline exceeded")

	// ErrStepFailed indicates at least one step returned an error.
	ErrStepFailed = errors.New("one or more teardown steps failed")
)

// Step is one unit of teardown work. The context is cancelled when the
// overall deadline passes.
type Step func(ctx context.Context) error

type registration struct {
	name  string
	phase int
	step  Step
}

// Config tunes the coordinator.
type Config struct {
	// Timeout bounds the whole teardown. Default 30s.
	Timeout time.Duration

	Logger *logging.Logger
}

// Coordinator runs registered teardown steps when the process stops.
// Steps run phase by phase, lowest phase first; steps sharing a phase
// run concurrently. A node registers its outward-facing surfaces in
// early phases (stop answering peers) and its backends in later ones.
type Coordinator struct {
	mu    sync.Mutex
	steps []registration

	timeout time.Duration
	log     *logging.Logger

	once    sync.Once
	done    chan struct{}
	doneErr error

	sigCh chan os.Signal
}

// NewCoordinator builds a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	return &Coordinator{
		timeout: cfg.Timeout,
		log:     cfg.Logger.WithComponent("shutdown"),
		done:    make(chan struct{}),
		sigCh:   make(chan os.Signal, 1),
	}
}

// Register adds a named step at the given phase.
func (c *Coordinator) Register(name string, phase int, step Step) {
	c.mu.Lock()
	c.steps = append(c.steps, registration{name: name, phase: phase, step: step})
	c.mu.Unlock()
}

// HandleSignals triggers teardown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.sigCh
		c.log.Info("signal received, stopping")
		c.Stop()
	}()
}

// Trigger initiates teardown as if a signal arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.sigCh <- syscall.SIGTERM:
	default:
	}
}

// Stop runs every registered step once. Later calls return the first
// run's outcome.
func (c *Coordinator) Stop() error {
	first := false
	c.once.Do(func() {
		first = true
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		c.doneErr = c.run(ctx)
		cancel()
		close(c.done)
	})
	if first {
		return c.doneErr
	}
	select {
	case <-c.done:
		return c.doneErr
	default:
		return ErrAlreadyStopping
	}
}

// Done is closed once teardown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err reports the teardown outcome. Nil before Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.doneErr
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	steps := make([]registration, len(c.steps))
	copy(steps, c.steps)
	c.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].phase < steps[j].phase })

	var overall error
	for start := 0; start < len(steps); {
		end := start
		for end < len(steps) && steps[end].phase == steps[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			return ErrTimeout
		default:
		}

		if err := c.runPhase(ctx, steps[start:end]); err != nil && overall == nil {
			overall = err
		}
		start = end
	}
	return overall
}

func (c *Coordinator) runPhase(ctx context.Context, steps []registration) error {
	errCh := make(chan error, len(steps))
	var wg sync.WaitGroup

	for _, reg := range steps {
		wg.Add(1)
		go func(r registration) {
			defer wg.Done()
			started := time.Now()
			err := r.step(ctx)
			fields := map[string]interface{}{
				"step":    r.name,
				"phase":   r.phase,
				"elapsed": time.Since(started).String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Warn("teardown step failed", fields)
				errCh <- err
				return
			}
			c.log.Debug("teardown step done", fields)
		}(reg)
	}
	wg.Wait()
	close(errCh)

	if len(errCh) > 0 {
		return ErrStepFailed
	}
	return nil
}
