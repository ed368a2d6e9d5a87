package negotiation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agentdir/bus"
	"github.com/vinayprograms/agentdir/errors"
	"github.com/vinayprograms/agentdir/logging"
)

// Status is a session's lifecycle position. proposed and countered are
// live; agreed, rejected, and expired are terminal.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusCountered Status = "countered"
	StatusAgreed    Status = "agreed"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// Action is what a round does to the session.
type Action string

const (
	ActionPropose Action = "propose"
	ActionCounter Action = "counter"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
)

// Message is one negotiation round as recorded in session history.
type Message struct {
	From      string         `json:"from"`
	Action    Action         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is one negotiation between two agents.
type Session struct {
	ID          string         `json:"id"`
	InitiatorID string         `json:"initiator_id"`
	ResponderID string         `json:"responder_id"`
	Status      Status         `json:"status"`
	History     []Message      `json:"history"`
	Commitment  map[string]any `json:"commitment,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

func (s Session) terminal() bool {
	return s.Status == StatusAgreed || s.Status == StatusRejected || s.Status == StatusExpired
}

func (s Session) clone() Session {
	out := s
	out.History = append([]Message(nil), s.History...)
	if s.Commitment != nil {
		out.Commitment = make(map[string]any, len(s.Commitment))
		for k, v := range s.Commitment {
			out.Commitment[k] = v
		}
	}
	return out
}

// Config tunes the coordinator.
type Config struct {
	// TTL is the sliding idle deadline; every successful round extends
	// it. Default 5 minutes.
	TTL time.Duration

	Events bus.EventBus
	Logger *logging.Logger
}

// Coordinator tracks negotiation sessions. Expired sessions are only
// reaped by an explicit CleanupExpired call; a round against a stale
// session marks it expired in passing and fails.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]Session

	ttl    time.Duration
	events bus.EventBus
	log    *logging.Logger

	nowFunc func() time.Time
}

// NewCoordinator creates a session coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	return &Coordinator{
		sessions: make(map[string]Session),
		ttl:      cfg.TTL,
		events:   cfg.Events,
		log:      cfg.Logger.WithComponent("negotiation"),
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession opens a session with the initiator's first proposal.
func (c *Coordinator) CreateSession(initiatorID, responderID string, proposal map[string]any) (Session, error) {
	if initiatorID == "" || responderID == "" {
		return Session{}, errors.Validation("both parties required for a session")
	}
	if initiatorID == responderID {
		return Session{}, errors.Validation("an agent cannot negotiate with itself")
	}

	now := c.nowFunc()
	s := Session{
		ID:          uuid.NewString(),
		InitiatorID: initiatorID,
		ResponderID: responderID,
		Status:      StatusProposed,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
		History: []Message{{
			From:      initiatorID,
			Action:    ActionPropose,
			Params:    proposal,
			Timestamp: now,
		}},
	}

	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()

	return s.clone(), nil
}

// ProcessRound applies one message to a session. Terminal sessions always
// fail with a state error; a successful round slides the expiry forward.
func (c *Coordinator) ProcessRound(sessionID, from string, action Action, params map[string]any) (Session, error) {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return Session{}, errors.NotFound("unknown session", errors.WithSessionID(sessionID))
	}
	if s.terminal() {
		return Session{}, errors.State("session already "+string(s.Status), errors.WithSessionID(sessionID))
	}
	if now.After(s.ExpiresAt) {
		s.Status = StatusExpired
		s.UpdatedAt = now
		c.sessions[sessionID] = s
		return Session{}, errors.State("session expired", errors.WithSessionID(sessionID))
	}
	if from != s.InitiatorID && from != s.ResponderID {
		return Session{}, errors.Validation("sender is not a session party", errors.WithSessionID(sessionID))
	}

	switch action {
	case ActionAccept:
		s.Status = StatusAgreed
		s.Commitment = lastProposal(s, params)
	case ActionReject:
		s.Status = StatusRejected
	case ActionCounter, ActionPropose:
		s.Status = StatusCountered
		if action == ActionPropose {
			s.Status = StatusProposed
		}
	default:
		return Session{}, errors.Validation("unknown action "+string(action), errors.WithSessionID(sessionID))
	}

	s.History = append(s.History, Message{From: from, Action: action, Params: params, Timestamp: now})
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(c.ttl)
	c.sessions[sessionID] = s

	if s.Status == StatusAgreed && c.events != nil {
		c.events.Publish(bus.Event{
			Type:    bus.EventSessionAgreed,
			AgentID: s.ResponderID,
			Data:    map[string]any{"session_id": s.ID, "initiator_id": s.InitiatorID},
		})
	}
	return s.clone(), nil
}

// lastProposal returns the params the acceptance binds to: the explicit
// accept params when given, otherwise the most recent proposal or counter.
func lastProposal(s Session, acceptParams map[string]any) map[string]any {
	if len(acceptParams) > 0 {
		return acceptParams
	}
	for i := len(s.History) - 1; i >= 0; i-- {
		m := s.History[i]
		if m.Action == ActionPropose || m.Action == ActionCounter {
			return m.Params
		}
	}
	return nil
}

// GetSession returns a copy of one session.
func (c *Coordinator) GetSession(sessionID string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return Session{}, errors.NotFound("unknown session", errors.WithSessionID(sessionID))
	}
	return s.clone(), nil
}

// CleanupExpired marks overdue live sessions expired and drops expired
// sessions from memory. Agreed and rejected sessions stay queryable.
// Returns how many sessions were reaped.
func (c *Coordinator) CleanupExpired() int {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	reaped := 0
	for id, s := range c.sessions {
		if !s.terminal() && now.After(s.ExpiresAt) {
			s.Status = StatusExpired
			s.UpdatedAt = now
			c.sessions[id] = s
		}
		if s.Status == StatusExpired {
			delete(c.sessions, id)
			reaped++
		}
	}
	return reaped
}

// Feasibility scores how much of a required skill set an agent covers,
// as a fraction in [0, 1]. Matching is case-insensitive on skill names.
func Feasibility(required, offered []string) float64 {
	if len(required) == 0 {
		return 1
	}
	have := make(map[string]bool, len(offered))
	for _, s := range offered {
		have[strings.ToLower(s)] = true
	}
	hits := 0
	for _, r := range required {
		if have[strings.ToLower(r)] {
			hits++
		}
	}
	return float64(hits) / float64(len(required))
}
