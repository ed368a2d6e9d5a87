package trust

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agentdir/directory"
)

// fakeDir implements DirectoryPort with a record map.
type fakeDir struct {
	mu      sync.Mutex
	records map[string]directory.AgentRecord
	flushes map[string]float64
}

func newFakeDir() *fakeDir {
	return &fakeDir{
		records: make(map[string]directory.AgentRecord),
		flushes: make(map[string]float64),
	}
}

func (d *fakeDir) Get(id string) (directory.AgentRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	return rec, ok
}

func (d *fakeDir) SetTrustScore(id string, score float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes[id] = score
	rec := d.records[id]
	rec.TrustScore = &score
	d.records[id] = rec
	return nil
}

func (d *fakeDir) Update(id string, patch directory.Patch) (directory.AgentRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := d.records[id]
	if patch.ReferralPaid != nil {
		rec.ReferralPaid = *patch.ReferralPaid
	}
	d.records[id] = rec
	return rec, nil
}

func newTestEngine() (*Engine, *fakeDir) {
	dir := newFakeDir()
	return NewEngine(dir, Config{}), dir
}

func TestRecordEvent_Weights(t *testing.T) {
	tests := []struct {
		event string
		want  float64
	}{
		{EventSuccess, 0.55},
		{EventFailure, 0.40},
		{EventTimeout, 0.45},
		{EventBadSignature, 0.30},
		{EventRateLimited, 0.48},
		{EventProfileUpdate, 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			e, _ := newTestEngine()
			e.RecordEvent("a1", tt.event, "a1")
			if got := e.Score("a1"); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("score after %s = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestRecordEvent_Clamps(t *testing.T) {
	e, _ := newTestEngine()

	for i := 0; i < 10; i++ {
		e.RecordEvent("bad", EventBadSignature, "bad")
	}
	if got := e.Score("bad"); got != 0 {
		t.Errorf("score = %v, want clamp at 0", got)
	}

	// Distinct sources so dampening does not mask the upper clamp.
	for i := 0; i < 30; i++ {
		e.RecordEvent("good", EventProfileUpdate, "good")
	}
	if got := e.Score("good"); got != 1 {
		t.Errorf("score = %v, want clamp at 1", got)
	}
}

func TestRecordEvent_UnknownTypeIgnored(t *testing.T) {
	e, _ := newTestEngine()
	e.RecordEvent("a1", "mystery", "peer")
	if got := e.Score("a1"); got != NeutralScore {
		t.Errorf("score = %v, want untouched neutral", got)
	}
	if e.History("a1") != nil {
		t.Error("unknown event entered history")
	}
}

func TestDiversityDampening(t *testing.T) {
	e, _ := newTestEngine()

	// Same peer three times: +0.05, +0.025, +0.0125.
	for i := 0; i < 3; i++ {
		e.RecordEvent("a1", EventSuccess, "peer-1")
	}
	want := NeutralScore + 0.05 + 0.025 + 0.0125
	if got := e.Score("a1"); math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want %v", got, want)
	}

	// A fresh peer gets full weight again.
	e.RecordEvent("a1", EventSuccess, "peer-2")
	want += 0.05
	if got := e.Score("a1"); math.Abs(got-want) > 1e-9 {
		t.Errorf("score after new peer = %v, want %v", got, want)
	}
}

func TestDiversityDampening_SelfEventsFullWeight(t *testing.T) {
	e, _ := newTestEngine()

	// Self-sourced events (heartbeats, profile updates) are not dampened.
	e.RecordEvent("a1", EventProfileUpdate, "a1")
	e.RecordEvent("a1", EventProfileUpdate, "a1")
	want := NeutralScore + 0.05 + 0.05
	if got := e.Score("a1"); math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want %v", got, want)
	}
}

func TestDiversityDampening_WindowExpires(t *testing.T) {
	e, _ := newTestEngine()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e.nowFunc = func() time.Time { return base }
	e.RecordEvent("a1", EventSuccess, "peer-1")

	// Outside the window the same peer counts as fresh.
	e.nowFunc = func() time.Time { return base.Add(diversityWindow + time.Minute) }
	e.RecordEvent("a1", EventSuccess, "peer-1")

	want := NeutralScore + 0.05 + 0.05
	if got := e.Score("a1"); math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want %v", got, want)
	}
}

func TestDiversityDampening_NegativeEventsFullWeight(t *testing.T) {
	e, _ := newTestEngine()

	e.RecordEvent("a1", EventFailure, "peer-1")
	e.RecordEvent("a1", EventFailure, "peer-1")
	want := NeutralScore - 0.10 - 0.10
	if got := e.Score("a1"); math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want %v (failures must never be dampened)", got, want)
	}
}

func TestDecay_MonotonicTowardNeutral(t *testing.T) {
	e, _ := newTestEngine()

	e.RecordEvent("high", EventProfileUpdate, "high") // 0.55
	for i := 0; i < 3; i++ {
		e.RecordEvent("low", EventFailure, "low") // 0.20
	}

	prevHigh, prevLow := e.Score("high"), e.Score("low")
	for i := 0; i < 500; i++ {
		e.Decay()
		h, l := e.Score("high"), e.Score("low")
		if h > prevHigh || h < NeutralScore {
			t.Fatalf("high score moved from %v to %v, must fall toward 0.5 without crossing", prevHigh, h)
		}
		if l < prevLow || l > NeutralScore {
			t.Fatalf("low score moved from %v to %v, must rise toward 0.5 without crossing", prevLow, l)
		}
		prevHigh, prevLow = h, l
	}
	if math.Abs(prevHigh-NeutralScore) > 0.001 {
		t.Errorf("high score %v did not converge near neutral", prevHigh)
	}
}

func TestScore_LazyAnalyticDecay(t *testing.T) {
	e, dir := newTestEngine()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	persisted := 0.9
	dir.records["a1"] = directory.AgentRecord{
		ID:         "a1",
		TrustScore: &persisted,
		UpdatedAt:  base,
	}

	// 10 full decay intervals elapsed.
	e.nowFunc = func() time.Time { return base.Add(10 * time.Minute) }

	want := NeutralScore + (persisted-NeutralScore)*math.Pow(0.99, 10)
	if got := e.Score("a1"); math.Abs(got-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", got, want)
	}

	// Drift exceeded the flush threshold, so a write-back is pending.
	e.Flush()
	if _, ok := dir.flushes["a1"]; !ok {
		t.Error("decayed score not scheduled for flush")
	}
}

func TestScore_FreshPersistedScoreUntouched(t *testing.T) {
	e, dir := newTestEngine()
	now := time.Now().UTC()

	persisted := 0.9
	dir.records["a1"] = directory.AgentRecord{ID: "a1", TrustScore: &persisted, UpdatedAt: now}

	if got := e.Score("a1"); got != 0.9 {
		t.Errorf("Score = %v, want persisted 0.9 inside first interval", got)
	}
}

func TestRecordEvent_SeedsFromPersistedScore(t *testing.T) {
	e, dir := newTestEngine()
	persisted := 0.9
	dir.records["a1"] = directory.AgentRecord{ID: "a1", TrustScore: &persisted, UpdatedAt: time.Now().UTC()}

	e.RecordEvent("a1", EventSuccess, "peer-1")

	want := 0.95
	if got := e.Score("a1"); math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want persisted score plus delta = %v", got, want)
	}

	// The flush must carry the seeded score forward, never a neutral reset.
	e.Flush()
	if got := dir.flushes["a1"]; math.Abs(got-want) > 1e-9 {
		t.Errorf("flushed %v over the stored score, want %v", got, want)
	}
}

func TestRecordEvent_SeedDecaysElapsedIntervals(t *testing.T) {
	e, dir := newTestEngine()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	persisted := 0.9
	dir.records["a1"] = directory.AgentRecord{ID: "a1", TrustScore: &persisted, UpdatedAt: base}
	e.nowFunc = func() time.Time { return base.Add(10 * time.Minute) }

	e.RecordEvent("a1", EventSuccess, "peer-1")

	want := NeutralScore + (persisted-NeutralScore)*math.Pow(0.99, 10) + 0.05
	if got := e.Score("a1"); math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want decayed seed plus delta = %v", got, want)
	}
}

func TestScore_UnknownAgentNeutral(t *testing.T) {
	e, _ := newTestEngine()
	if got := e.Score("ghost"); got != NeutralScore {
		t.Errorf("Score = %v, want neutral", got)
	}
}

func TestFlush(t *testing.T) {
	e, dir := newTestEngine()

	e.RecordEvent("a1", EventSuccess, "peer-1")
	e.Flush()

	if got := dir.flushes["a1"]; math.Abs(got-0.55) > 1e-9 {
		t.Errorf("flushed %v, want 0.55", got)
	}

	// Unchanged scores are not rewritten.
	delete(dir.flushes, "a1")
	e.Flush()
	if _, ok := dir.flushes["a1"]; ok {
		t.Error("unchanged score flushed again")
	}
}

func TestReferralBonus(t *testing.T) {
	e, dir := newTestEngine()
	dir.records["referred"] = directory.AgentRecord{ID: "referred", ReferrerID: "referrer"}

	for i := 0; i < 4; i++ {
		e.RecordEvent("referred", EventSuccess, "referred")
	}
	if got := e.Score("referrer"); got != NeutralScore {
		t.Fatalf("referrer score moved to %v before threshold", got)
	}

	// Fifth success pays out exactly once.
	e.RecordEvent("referred", EventSuccess, "referred")
	want := NeutralScore + 0.05
	if got := e.Score("referrer"); math.Abs(got-want) > 1e-9 {
		t.Errorf("referrer score = %v, want %v", got, want)
	}
	if rec, _ := dir.Get("referred"); !rec.ReferralPaid {
		t.Error("referral not marked paid on record")
	}

	e.RecordEvent("referred", EventSuccess, "referred")
	if got := e.Score("referrer"); math.Abs(got-want) > 1e-9 {
		t.Errorf("referrer score = %v after sixth success, bonus paid twice", got)
	}
}

func TestReferralBonus_NoReferrer(t *testing.T) {
	e, dir := newTestEngine()
	dir.records["solo"] = directory.AgentRecord{ID: "solo"}

	for i := 0; i < 6; i++ {
		e.RecordEvent("solo", EventSuccess, "solo")
	}
	// Nothing to pay; just must not panic or mark anything.
	if rec, _ := dir.Get("solo"); rec.ReferralPaid {
		t.Error("referral marked paid with no referrer")
	}
}

func TestReferralBonus_RepeatDampened(t *testing.T) {
	e, dir := newTestEngine()
	dir.records["r1"] = directory.AgentRecord{ID: "r1", ReferrerID: "referrer"}
	dir.records["r2"] = directory.AgentRecord{ID: "r2", ReferrerID: "referrer"}

	for i := 0; i < referralThreshold; i++ {
		e.RecordEvent("r1", EventSuccess, "r1")
	}
	for i := 0; i < referralThreshold; i++ {
		e.RecordEvent("r2", EventSuccess, "r2")
	}

	// The bonus source counts as a repeat peer inside the window, so the
	// second payout is halved like any other.
	want := NeutralScore + 0.05 + 0.025
	if got := e.Score("referrer"); math.Abs(got-want) > 1e-9 {
		t.Errorf("referrer score = %v, want %v", got, want)
	}
}

func TestHistory_RingBounded(t *testing.T) {
	e, _ := newTestEngine()

	for i := 0; i < historySize+20; i++ {
		e.RecordEvent("a1", EventHeartbeat, "a1")
	}
	hist := e.History("a1")
	if len(hist) != historySize {
		t.Fatalf("history length = %d, want %d", len(hist), historySize)
	}
	for _, entry := range hist {
		if entry.Type != EventHeartbeat {
			t.Fatalf("unexpected entry type %q", entry.Type)
		}
	}
}

func TestBreakdown(t *testing.T) {
	e, _ := newTestEngine()

	e.RecordEvent("a1", EventSuccess, "p1")
	e.RecordEvent("a1", EventSuccess, "p2")
	e.RecordEvent("a1", EventFailure, "p3")
	e.RecordEvent("a1", EventTimeout, "p4")
	e.RecordEvent("a1", EventHeartbeat, "a1")

	b := e.Breakdown("a1")
	if math.Abs(b.Reliability-2.0/3.0) > 1e-9 {
		t.Errorf("Reliability = %v, want 2/3", b.Reliability)
	}
	if math.Abs(b.Performance-4.0/5.0) > 1e-9 {
		t.Errorf("Performance = %v, want 4/5", b.Performance)
	}
	wantAvail := (1.0 + b.Score) / 2
	if math.Abs(b.Availability-wantAvail) > 1e-9 {
		t.Errorf("Availability = %v, want %v", b.Availability, wantAvail)
	}
	if len(b.History) != 5 {
		t.Errorf("History carries %d entries, want 5", len(b.History))
	}
	if b.Weights[EventSuccess] != 0.05 || b.Weights[EventBadSignature] != -0.20 {
		t.Errorf("Weights = %v, want the event weight table", b.Weights)
	}
}

func TestBreakdown_NoEvents(t *testing.T) {
	e, _ := newTestEngine()

	b := e.Breakdown("ghost")
	if b.Reliability != 1 || b.Performance != 1 {
		t.Errorf("empty breakdown = %+v, want perfect ratios", b)
	}
	if math.Abs(b.Availability-(NeutralScore+NeutralScore)/2) > 1e-9 {
		t.Errorf("Availability = %v", b.Availability)
	}
	if b.Weights == nil {
		t.Error("weight table missing from empty breakdown")
	}
}

func TestStartStop(t *testing.T) {
	e, dir := newTestEngine()
	e.flushInterval = 10 * time.Millisecond
	e.decayInterval = 10 * time.Millisecond

	e.Start()
	e.RecordEvent("a1", EventSuccess, "peer-1")
	time.Sleep(50 * time.Millisecond)
	e.Stop()

	dir.mu.Lock()
	_, flushed := dir.flushes["a1"]
	dir.mu.Unlock()
	if !flushed {
		t.Error("background flush never ran")
	}

	// Stop is idempotent and Start can run again.
	e.Stop()
	e.Start()
	e.Stop()
}
