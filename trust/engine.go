package trust

import (
	"math"
	"sync"
	"time"

	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/logging"
)

// Event types the engine understands. Unknown types carry zero weight.
const (
	EventSuccess       = "success"
	EventFailure       = "failure"
	EventTimeout       = "timeout"
	EventBadSignature  = "bad_sig"
	EventRateLimited   = "rate_limit"
	EventHeartbeat     = "heartbeat"
	EventInvocation    = "invocation"
	EventProfileUpdate = "profile_update"
)

// eventWeights are the per-event score deltas before dampening.
var eventWeights = map[string]float64{
	EventSuccess:       0.05,
	EventFailure:       -0.10,
	EventTimeout:       -0.05,
	EventBadSignature:  -0.20,
	EventRateLimited:   -0.02,
	EventHeartbeat:     0.00001,
	EventInvocation:    0.01,
	EventProfileUpdate: 0.05,
}

// weightTable returns a copy of the weight map safe to hand to callers.
func weightTable() map[string]float64 {
	out := make(map[string]float64, len(eventWeights))
	for k, v := range eventWeights {
		out[k] = v
	}
	return out
}

const (
	// NeutralScore is where every agent starts and where decay pulls.
	NeutralScore = 0.5

	// referralSource marks the synthetic bonus event paid to a referrer.
	referralSource = "system_referral_bonus"

	// referralThreshold is the success count that triggers the one-time
	// referrer bonus.
	referralThreshold = 5

	// historySize bounds the per-agent event ring.
	historySize = 50

	// diversityWindow bounds how long repeat interactions from one peer
	// keep halving the weight of the next one.
	diversityWindow = time.Hour

	// flushEpsilon is the smallest score change worth writing back.
	flushEpsilon = 0.0001

	// lazyFlushThreshold is the smallest analytically decayed change
	// worth scheduling a flush for.
	lazyFlushThreshold = 0.01
)

// Config holds engine tuning. Zero values take the defaults above.
type Config struct {
	DecayInterval time.Duration // default 60s
	DecayFactor   float64       // default 0.01, fraction moved toward neutral per interval
	FlushInterval time.Duration // default 10s
	Logger        *logging.Logger
}

// DirectoryPort is the slice of the directory the engine needs.
type DirectoryPort interface {
	Get(id string) (directory.AgentRecord, bool)
	SetTrustScore(id string, score float64) error
	Update(id string, patch directory.Patch) (directory.AgentRecord, error)
}

// HistoryEntry is one scored event as it was applied.
type HistoryEntry struct {
	Type       string    `json:"type"`
	SourceID   string    `json:"source_id,omitempty"`
	Weight     float64   `json:"weight"`
	ScoreAfter float64   `json:"score_after"`
	Timestamp  time.Time `json:"timestamp"`
}

// Breakdown decomposes a score into its observable components, along
// with the recent event history and the weight table that produced it.
type Breakdown struct {
	Score        float64            `json:"score"`
	Reliability  float64            `json:"reliability"`
	Performance  float64            `json:"performance"`
	Availability float64            `json:"availability"`
	History      []HistoryEntry     `json:"history,omitempty"`
	Weights      map[string]float64 `json:"weights"`
}

type counts struct {
	success     int
	failure     int
	timeout     int
	badSig      int
	rateLimited int
	heartbeats  int
	total       int
}

type agentState struct {
	score       float64
	lastFlushed float64
	counts      counts
	history     []HistoryEntry

	// interactions holds recent positive-event timestamps per source,
	// pruned to the diversity window.
	interactions map[string][]time.Time

	referralPaid bool
}

// Engine turns interaction events into trust scores. It keeps its own
// lock and never calls the directory while holding it, so the two can
// never deadlock against each other.
type Engine struct {
	mu     sync.Mutex
	states map[string]*agentState

	dir DirectoryPort
	log *logging.Logger

	decayInterval time.Duration
	decayFactor   float64
	flushInterval time.Duration

	nowFunc func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewEngine creates a trust engine over a directory.
func NewEngine(dir DirectoryPort, cfg Config) *Engine {
	if cfg.DecayInterval <= 0 {
		cfg.DecayInterval = time.Minute
	}
	if cfg.DecayFactor <= 0 {
		cfg.DecayFactor = 0.01
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Engine{
		states:        make(map[string]*agentState),
		dir:           dir,
		log:           cfg.Logger.WithComponent("trust"),
		decayInterval: cfg.DecayInterval,
		decayFactor:   cfg.DecayFactor,
		flushInterval: cfg.FlushInterval,
		nowFunc:       func() time.Time { return time.Now().UTC() },
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// RecordEvent applies one interaction event to an agent's score. An
// agent not yet in the working set is seeded from its persisted score
// first, decayed for the elapsed time, so a restart never resets a
// reputation to neutral.
//
// Positive events from a repeat source within the diversity window are
// halved once per earlier interaction, so a single enthusiastic peer
// cannot farm trust. The fifth success also pays the one-time referral
// bonus to the agent's referrer, attributed to a synthetic source that
// is dampened on repeat like any other peer.
func (e *Engine) RecordEvent(agentID, eventType, sourceID string) {
	weight, known := eventWeights[eventType]
	if !known {
		e.log.Debug("ignoring unknown trust event", map[string]interface{}{
			"agent_id": agentID, "event": eventType,
		})
		return
	}

	e.mu.Lock()
	_, live := e.states[agentID]
	e.mu.Unlock()
	if !live {
		e.lazySeed(agentID, true)
	}

	now := e.now()
	var followUps []func()

	e.mu.Lock()
	st := e.state(agentID)

	if weight > 0 && sourceID != "" && sourceID != agentID {
		weight /= math.Pow(2, float64(st.recentFrom(sourceID, now)))
		st.recordInteraction(sourceID, now)
	}

	old := st.score
	st.score = clamp(st.score + weight)
	st.bump(eventType)
	st.appendHistory(HistoryEntry{
		Type:       eventType,
		SourceID:   sourceID,
		Weight:     weight,
		ScoreAfter: st.score,
		Timestamp:  now,
	})

	if eventType == EventSuccess && st.counts.success == referralThreshold && !st.referralPaid {
		st.referralPaid = true
		followUps = append(followUps, func() { e.payReferral(agentID) })
	}

	newScore := st.score
	e.mu.Unlock()

	if math.Abs(newScore-old) > flushEpsilon {
		e.log.TrustChange(agentID, old, newScore, eventType)
	}
	for _, fn := range followUps {
		fn()
	}
}

// payReferral marks the referral settled on the record and grants the
// referrer a success-equivalent bonus. Runs outside the engine lock.
func (e *Engine) payReferral(agentID string) {
	rec, ok := e.dir.Get(agentID)
	if !ok || rec.ReferrerID == "" || rec.ReferralPaid {
		return
	}

	paid := true
	if _, err := e.dir.Update(agentID, directory.Patch{ReferralPaid: &paid}); err != nil {
		e.log.Warn("referral settlement failed", map[string]interface{}{
			"agent_id": agentID, "error": err,
		})
		return
	}
	e.RecordEvent(rec.ReferrerID, EventSuccess, referralSource)
}

// Score returns the current trust score for an agent.
//
// Agents with live in-engine state are served directly; the decay loop
// keeps those current. For everything else the persisted score is decayed
// analytically over the elapsed full intervals, and a write-back is
// scheduled when the drift is worth persisting.
func (e *Engine) Score(agentID string) float64 {
	e.mu.Lock()
	if st, ok := e.states[agentID]; ok {
		score := st.score
		e.mu.Unlock()
		return score
	}
	e.mu.Unlock()

	return e.lazySeed(agentID, false)
}

// lazySeed pulls an agent's persisted score through analytic decay over
// the elapsed full intervals and returns the result. The decayed value
// is installed as live state unconditionally when force is set, otherwise
// only when the drift from the persisted value is worth flushing back.
// An existing live state is never overwritten.
func (e *Engine) lazySeed(agentID string, force bool) float64 {
	rec, ok := e.dir.Get(agentID)
	if !ok {
		return NeutralScore
	}
	persisted := NeutralScore
	if rec.TrustScore != nil {
		persisted = *rec.TrustScore
	}

	decayed := persisted
	intervals := math.Floor(e.now().Sub(rec.UpdatedAt).Seconds() / e.decayInterval.Seconds())
	if intervals > 0 {
		decayed = NeutralScore + (persisted-NeutralScore)*math.Pow(1-e.decayFactor, intervals)
	}

	if force || math.Abs(decayed-persisted) > lazyFlushThreshold {
		e.mu.Lock()
		if _, exists := e.states[agentID]; !exists {
			st := e.state(agentID)
			st.score = decayed
			st.lastFlushed = persisted
		}
		e.mu.Unlock()
	}
	return decayed
}

// Breakdown decomposes an agent's score into component ratios.
func (e *Engine) Breakdown(agentID string) Breakdown {
	score := e.Score(agentID)

	e.mu.Lock()
	defer e.mu.Unlock()

	b := Breakdown{Score: score, Reliability: 1, Performance: 1, Weights: weightTable()}
	st, ok := e.states[agentID]
	if !ok {
		b.Availability = (NeutralScore + score) / 2
		return b
	}

	if len(st.history) > 0 {
		b.History = make([]HistoryEntry, len(st.history))
		copy(b.History, st.history)
	}
	if outcomes := st.counts.success + st.counts.failure + st.counts.badSig + st.counts.rateLimited; outcomes > 0 {
		b.Reliability = float64(st.counts.success) / float64(outcomes)
	}
	if st.counts.total > 0 {
		b.Performance = float64(st.counts.total-st.counts.timeout) / float64(st.counts.total)
	}
	avail := NeutralScore
	if st.counts.heartbeats > 0 {
		avail = 1
	}
	b.Availability = (avail + score) / 2
	return b
}

// History returns the retained event ring, oldest first.
func (e *Engine) History(agentID string) []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[agentID]
	if !ok {
		return nil
	}
	out := make([]HistoryEntry, len(st.history))
	copy(out, st.history)
	return out
}

// Decay moves every live score one step toward neutral. Movement is
// proportional, so scores converge on 0.5 without ever crossing it.
func (e *Engine) Decay() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range e.states {
		st.score += (NeutralScore - st.score) * e.decayFactor
	}
}

// Flush writes every materially changed score back to the directory.
func (e *Engine) Flush() {
	type pending struct {
		id    string
		score float64
	}
	var dirty []pending

	e.mu.Lock()
	for id, st := range e.states {
		if math.Abs(st.score-st.lastFlushed) > flushEpsilon {
			dirty = append(dirty, pending{id: id, score: st.score})
			st.lastFlushed = st.score
		}
	}
	e.mu.Unlock()

	for _, p := range dirty {
		if err := e.dir.SetTrustScore(p.id, p.score); err != nil {
			e.log.Debug("score flush failed", map[string]interface{}{
				"agent_id": p.id, "error": err,
			})
		}
	}
}

// Start launches the decay and flush loops.
func (e *Engine) Start() {
	if e.stopCh != nil {
		return
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.run()
}

// Stop halts the loops, runs one final flush, and waits for exit.
func (e *Engine) Stop() {
	if e.stopCh == nil {
		return
	}
	close(e.stopCh)
	<-e.doneCh
	e.stopCh = nil
	e.doneCh = nil
	e.Flush()
}

func (e *Engine) run() {
	defer close(e.doneCh)

	decay := time.NewTicker(e.decayInterval)
	defer decay.Stop()
	flush := time.NewTicker(e.flushInterval)
	defer flush.Stop()

	for {
		select {
		case <-decay.C:
			e.Decay()
		case <-flush.C:
			e.Flush()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) now() time.Time { return e.nowFunc() }

// state returns (and lazily creates) in-engine state. Must be called with
// mu held.
func (e *Engine) state(agentID string) *agentState {
	st, ok := e.states[agentID]
	if !ok {
		st = &agentState{
			score:        NeutralScore,
			lastFlushed:  NeutralScore,
			interactions: make(map[string][]time.Time),
		}
		e.states[agentID] = st
	}
	return st
}

func (st *agentState) bump(eventType string) {
	st.counts.total++
	switch eventType {
	case EventSuccess:
		st.counts.success++
	case EventFailure:
		st.counts.failure++
	case EventTimeout:
		st.counts.timeout++
	case EventBadSignature:
		st.counts.badSig++
	case EventRateLimited:
		st.counts.rateLimited++
	case EventHeartbeat:
		st.counts.heartbeats++
	}
}

func (st *agentState) appendHistory(entry HistoryEntry) {
	st.history = append(st.history, entry)
	if len(st.history) > historySize {
		st.history = st.history[len(st.history)-historySize:]
	}
}

// recentFrom counts interactions from one source inside the window,
// pruning expired entries as a side effect.
func (st *agentState) recentFrom(sourceID string, now time.Time) int {
	cutoff := now.Add(-diversityWindow)
	kept := st.interactions[sourceID][:0]
	for _, t := range st.interactions[sourceID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(st.interactions, sourceID)
		return 0
	}
	st.interactions[sourceID] = kept
	return len(kept)
}

func (st *agentState) recordInteraction(sourceID string, now time.Time) {
	st.interactions[sourceID] = append(st.interactions[sourceID], now)
}
