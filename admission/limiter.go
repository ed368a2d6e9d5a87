package admission

import (
	"sync"
	"time"

	"github.com/vinayprograms/agentdir/errors"
	"github.com/vinayprograms/agentdir/logging"
)

// TrustRecorder receives the rate_limit trust events rejections generate.
type TrustRecorder interface {
	RecordEvent(agentID, eventType, sourceID string)
}

// bucket tracks one agent's admission budget: a fractional-token QPS
// bucket plus an in-flight concurrency count.
type bucket struct {
	qps        float64 // tokens per second, also the bucket capacity floor
	tokens     float64
	lastRefill time.Time

	concurrency int // ceiling, 0 means unlimited
	inFlight    int
}

// refill adds tokens for the elapsed time, capped at max(qps, 1).
func (b *bucket) refill(now time.Time) {
	if b.qps <= 0 {
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	cap := b.qps
	if cap < 1 {
		cap = 1
	}
	b.tokens += b.qps * elapsed
	if b.tokens > cap {
		b.tokens = cap
	}
	b.lastRefill = now
}

// Limiter enforces per-agent QPS and concurrency budgets. Acquire and
// Release bracket every invocation of an agent.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	defaultQPS         float64
	defaultConcurrency int

	trust TrustRecorder
	log   *logging.Logger

	nowFunc func() time.Time
}

// LimiterConfig holds limiter defaults applied to agents without an
// advertised budget.
type LimiterConfig struct {
	DefaultQPS         float64 // default 5
	DefaultConcurrency int     // default 10
	Trust              TrustRecorder
	Logger             *logging.Logger
}

// NewLimiter creates a limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.DefaultQPS <= 0 {
		cfg.DefaultQPS = 5
	}
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	return &Limiter{
		buckets:            make(map[string]*bucket),
		defaultQPS:         cfg.DefaultQPS,
		defaultConcurrency: cfg.DefaultConcurrency,
		trust:              cfg.Trust,
		log:                cfg.Logger.WithComponent("admission"),
		nowFunc:            func() time.Time { return time.Now().UTC() },
	}
}

// SetBudget installs an agent's advertised budget. Zero values fall back
// to the limiter defaults.
func (l *Limiter) SetBudget(agentID string, qps float64, concurrency int) {
	if qps <= 0 {
		qps = l.defaultQPS
	}
	if concurrency <= 0 {
		concurrency = l.defaultConcurrency
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if b, ok := l.buckets[agentID]; ok {
		b.refill(now)
		b.qps = qps
		b.concurrency = concurrency
		cap := qps
		if cap < 1 {
			cap = 1
		}
		if b.tokens > cap {
			b.tokens = cap
		}
		return
	}

	cap := qps
	if cap < 1 {
		cap = 1
	}
	l.buckets[agentID] = &bucket{
		qps:         qps,
		tokens:      cap, // start full
		lastRefill:  now,
		concurrency: concurrency,
	}
}

// Forget drops an agent's budget state, for deregistration.
func (l *Limiter) Forget(agentID string) {
	l.mu.Lock()
	delete(l.buckets, agentID)
	l.mu.Unlock()
}

// Acquire admits one invocation of an agent or rejects it.
//
// Concurrency is checked and taken first, then the QPS bucket; a QPS
// rejection rolls the concurrency slot back so the two counters never
// drift. Both checks happen under one lock, so the pair is atomic.
// Every rejection also records a rate_limit trust event against the
// agent, since a persistently saturated agent is a worse bet.
func (l *Limiter) Acquire(agentID, callerID string) error {
	l.mu.Lock()
	b, ok := l.buckets[agentID]
	if !ok {
		l.SetBudgetLocked(agentID)
		b = l.buckets[agentID]
	}

	if b.concurrency > 0 && b.inFlight >= b.concurrency {
		l.mu.Unlock()
		l.reject(agentID, callerID, "concurrency")
		return errors.RateLimited("concurrency ceiling reached", errors.WithAgentID(agentID))
	}
	b.inFlight++

	b.refill(l.nowFunc())
	if b.tokens < 1 {
		b.inFlight-- // roll the slot back, this invocation never ran
		l.mu.Unlock()
		l.reject(agentID, callerID, "qps")
		return errors.RateLimited("qps budget exhausted", errors.WithAgentID(agentID))
	}
	b.tokens--
	l.mu.Unlock()
	return nil
}

// SetBudgetLocked installs the default budget. Must be called with mu
// held.
func (l *Limiter) SetBudgetLocked(agentID string) {
	cap := l.defaultQPS
	if cap < 1 {
		cap = 1
	}
	l.buckets[agentID] = &bucket{
		qps:         l.defaultQPS,
		tokens:      cap,
		lastRefill:  l.nowFunc(),
		concurrency: l.defaultConcurrency,
	}
}

// Release frees the concurrency slot taken by a successful Acquire.
func (l *Limiter) Release(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[agentID]; ok && b.inFlight > 0 {
		b.inFlight--
	}
}

// InFlight reports the current concurrent invocations of an agent.
func (l *Limiter) InFlight(agentID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[agentID]; ok {
		return b.inFlight
	}
	return 0
}

func (l *Limiter) reject(agentID, callerID, limitType string) {
	l.log.AdmissionRejected(agentID, limitType)
	if l.trust != nil {
		l.trust.RecordEvent(agentID, "rate_limit", callerID)
	}
}
