package service

import (
	"context"
	"sort"

	"github.com/vinayprograms/agentdir/admission"
	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/discovery"
	"github.com/vinayprograms/agentdir/errors"
	"github.com/vinayprograms/agentdir/gateway"
	"github.com/vinayprograms/agentdir/negotiation"
	"github.com/vinayprograms/agentdir/trust"
)

// autoAgreeFeasibility is the skill-coverage fraction above which a
// negotiation is agreed without a human round.
const autoAgreeFeasibility = 0.8

// NewChallenge issues a proof-of-work puzzle for a prospective
// registration.
func (s *Service) NewChallenge() admission.Challenge {
	return s.PoW.NewChallenge()
}

// RegisterAgent admits a new agent. When proof-of-work is required the
// nonce and solution must come from a previously issued challenge; the
// nonce is consumed so the same work cannot admit two agents.
func (s *Service) RegisterAgent(rec directory.AgentRecord, nonce, solution string) (directory.AgentRecord, error) {
	if s.cfg.Admission.RequirePoW {
		if err := s.PoW.Verify(nonce, solution); err != nil {
			return directory.AgentRecord{}, err
		}
	}

	registered, err := s.Directory.Register(rec)
	if err != nil {
		return directory.AgentRecord{}, err
	}
	if registered.QPSBudget > 0 || registered.ConcurrencyLimit > 0 {
		s.Limiter.SetBudget(registered.ID, registered.QPSBudget, registered.ConcurrencyLimit)
	}
	return registered, nil
}

// UpdateAgent applies a partial update. Budget changes take effect on
// the limiter immediately.
func (s *Service) UpdateAgent(id string, patch directory.Patch) (directory.AgentRecord, error) {
	rec, err := s.Directory.Update(id, patch)
	if err != nil {
		return directory.AgentRecord{}, err
	}
	if patch.QPSBudget != nil || patch.ConcurrencyLimit != nil {
		s.Limiter.SetBudget(rec.ID, rec.QPSBudget, rec.ConcurrencyLimit)
	}
	return rec, nil
}

// DeregisterAgent removes an agent entirely. Absence is not an error.
func (s *Service) DeregisterAgent(id string) bool {
	removed := s.Directory.Deregister(id)
	if removed {
		s.Limiter.Forget(id)
		s.dropMetrics(id)
	}
	return removed
}

// ClaimAgent binds ownership with a claim code.
func (s *Service) ClaimAgent(id, code, ownerID string) error {
	return s.Directory.Claim(id, code, ownerID)
}

// Heartbeat refreshes an agent's liveness.
func (s *Service) Heartbeat(id string) (directory.HeartbeatAck, error) {
	ack, err := s.Directory.Heartbeat(id)
	if err != nil {
		return directory.HeartbeatAck{}, err
	}
	s.bumpMetrics(id, func(m *AgentMetrics) { m.Heartbeats++ })
	return ack, nil
}

// Discover returns filtered, paginated agents.
func (s *Service) Discover(f discovery.Filter, skip, limit int) []directory.AgentRecord {
	results := s.Discovery.Discover(f, skip, limit)
	for _, rec := range results {
		s.bumpMetrics(rec.ID, func(m *AgentMetrics) { m.Discoveries++ })
	}
	return results
}

// Search ranks agents against a free-text query.
func (s *Service) Search(query string, f discovery.Filter, limit int) []discovery.SearchResult {
	results := s.Discovery.Search(query, f, limit)
	for _, r := range results {
		s.bumpMetrics(r.Record.ID, func(m *AgentMetrics) { m.Discoveries++ })
	}
	return results
}

// Match returns the single best agent for a capability query.
func (s *Service) Match(query string, f discovery.Filter) (discovery.MatchResult, error) {
	match, err := s.Discovery.Match(query, f)
	if err != nil {
		return discovery.MatchResult{}, err
	}
	s.bumpMetrics(match.Record.ID, func(m *AgentMetrics) { m.Discoveries++ })
	return match, nil
}

// Invoke calls an agent through the gateway with admission control and
// trust feedback. The limiter is charged against the target agent; a
// rejection costs the target a rate_limit trust event, which is how a
// flooded agent's budget pressure becomes visible in its score.
func (s *Service) Invoke(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	rec, ok := s.Directory.Get(req.AgentID)
	if !ok {
		return gateway.Result{}, errors.NotFound("unknown agent", errors.WithAgentID(req.AgentID))
	}

	if err := s.Limiter.Acquire(req.AgentID, req.CallerID); err != nil {
		return gateway.Result{}, err
	}
	defer s.Limiter.Release(req.AgentID)

	res, err := s.Gateway.Invoke(ctx, rec, req)

	s.bumpMetrics(req.AgentID, func(m *AgentMetrics) {
		m.Invocations++
		if err != nil || !res.OK {
			m.FailedInvocations++
		}
		if res.LatencyMs > 0 {
			m.LatencyMsSum += res.LatencyMs
			m.LatencyCount++
		}
	})

	switch {
	case err != nil && errors.Is(err, errors.ErrCodeTimeout):
		s.Trust.RecordEvent(req.AgentID, trust.EventTimeout, req.CallerID)
		return res, err
	case err != nil:
		s.Trust.RecordEvent(req.AgentID, trust.EventFailure, req.CallerID)
		return res, err
	case !res.OK:
		s.Trust.RecordEvent(req.AgentID, trust.EventFailure, req.CallerID)
	default:
		s.Trust.RecordEvent(req.AgentID, trust.EventSuccess, req.CallerID)
		if req.CallerID != "" {
			s.Trust.RecordEvent(req.CallerID, trust.EventInvocation, req.AgentID)
		}
	}
	return res, nil
}

// ReportResult lets an external caller feed an invocation outcome it
// observed out of band. Event types follow the trust engine's names.
func (s *Service) ReportResult(agentID, eventType, sourceID string) {
	s.Trust.RecordEvent(agentID, eventType, sourceID)
}

// Negotiate opens a session between two registered agents. When the
// proposal names required_skills and the responder covers at least 80%
// of them, the session is agreed on the spot with the proposal as the
// commitment.
func (s *Service) Negotiate(initiatorID, responderID string, proposal map[string]any) (negotiation.Session, error) {
	responder, ok := s.Directory.Get(responderID)
	if !ok {
		return negotiation.Session{}, errors.NotFound("unknown responder", errors.WithAgentID(responderID))
	}

	session, err := s.Negotiation.CreateSession(initiatorID, responderID, proposal)
	if err != nil {
		return negotiation.Session{}, err
	}

	required := requiredSkills(proposal)
	if len(required) == 0 {
		return session, nil
	}

	offered := make([]string, 0, len(responder.Skills))
	for _, sk := range responder.Skills {
		offered = append(offered, sk.Name)
	}
	feasibility := negotiation.Feasibility(required, offered)
	if feasibility < autoAgreeFeasibility {
		return session, nil
	}

	terms := make(map[string]any, len(proposal)+1)
	for k, v := range proposal {
		terms[k] = v
	}
	terms["feasibility"] = feasibility
	return s.Negotiation.ProcessRound(session.ID, responderID, negotiation.ActionAccept, terms)
}

// requiredSkills pulls the skill list out of a proposal. JSON decoding
// hands us []any, direct callers hand us []string; both are accepted.
func requiredSkills(proposal map[string]any) []string {
	raw, ok := proposal["required_skills"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Stats reports directory population counts.
func (s *Service) Stats() directory.Stats {
	return s.Directory.Stats()
}

// leaderboard tier cutoffs over the composite score.
const (
	tierGoldFloor   = 0.9
	tierSilverFloor = 0.7
)

// activityTarget is the interaction count treated as full activity.
const activityTarget = 100

// LeaderboardEntry ranks one agent by composite score.
type LeaderboardEntry struct {
	AgentID   string  `json:"agent_id"`
	Name      string  `json:"name"`
	Trust     float64 `json:"trust"`
	Activity  float64 `json:"activity"`
	Composite float64 `json:"composite"`
	Tier      string  `json:"tier"`
}

// Leaderboard ranks agents by 0.7*trust + 0.3*activity, where activity
// is total recorded interactions normalized against activityTarget.
func (s *Service) Leaderboard(limit int) []LeaderboardEntry {
	agents := s.Directory.Snapshot()
	entries := make([]LeaderboardEntry, 0, len(agents))
	for _, rec := range agents {
		m := s.Metrics(rec.ID)
		interactions := m.Invocations + m.Heartbeats + m.Discoveries
		activity := float64(interactions) / activityTarget
		if activity > 1 {
			activity = 1
		}
		score := s.Trust.Score(rec.ID)
		composite := score*0.7 + activity*0.3

		tier := "bronze"
		switch {
		case composite >= tierGoldFloor:
			tier = "gold"
		case composite >= tierSilverFloor:
			tier = "silver"
		}

		entries = append(entries, LeaderboardEntry{
			AgentID:   rec.ID,
			Name:      rec.Name,
			Trust:     score,
			Activity:  activity,
			Composite: composite,
			Tier:      tier,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Composite != entries[j].Composite {
			return entries[i].Composite > entries[j].Composite
		}
		return entries[i].AgentID < entries[j].AgentID
	})
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// AgentMetrics counts one agent's observed activity.
type AgentMetrics struct {
	Discoveries       int64 `json:"discoveries"`
	Heartbeats        int64 `json:"heartbeats"`
	Invocations       int64 `json:"invocations"`
	FailedInvocations int64 `json:"failed_invocations"`
	LatencyMsSum      int64 `json:"latency_ms_sum"`
	LatencyCount      int64 `json:"latency_count"`
}

// Metrics returns a copy of one agent's counters.
func (s *Service) Metrics(agentID string) AgentMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	if m, ok := s.metrics[agentID]; ok {
		return *m
	}
	return AgentMetrics{}
}

func (s *Service) bumpMetrics(agentID string, fn func(*AgentMetrics)) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	m, ok := s.metrics[agentID]
	if !ok {
		m = &AgentMetrics{}
		s.metrics[agentID] = m
	}
	fn(m)
}

func (s *Service) dropMetrics(agentID string) {
	s.metricsMu.Lock()
	delete(s.metrics, agentID)
	s.metricsMu.Unlock()
}
