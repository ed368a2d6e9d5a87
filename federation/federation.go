package federation

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/agentdir/bus"
	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/logging"
)

// SyncPayload is the wire shape exchanged between peers. Timestamp is
// unix seconds with fraction, stamped by the responder.
type SyncPayload struct {
	Agents    []directory.AgentRecord `json:"agents"`
	Peers     []string                `json:"peers"`
	Timestamp float64                 `json:"timestamp"`
}

// DirectoryPort is the slice of the directory federation needs.
type DirectoryPort interface {
	MergeRemote(rec directory.AgentRecord) (directory.MergeOutcome, error)
	ListUpdatedSince(t time.Time) []directory.AgentRecord
}

// PeerClient pulls one peer's delta.
type PeerClient interface {
	Pull(ctx context.Context, peerURL string, since time.Time) (SyncPayload, error)
}

// Config tunes the synchronizer.
type Config struct {
	// SelfURL is this node's own address, filtered out of learned peers.
	SelfURL string

	// Peers seeds the peer set.
	Peers []string

	// Interval between sync rounds. Default 60s.
	Interval time.Duration

	Client PeerClient
	Events bus.EventBus
	Logger *logging.Logger
}

// Synchronizer keeps this node's directory loosely consistent with its
// peers by periodically pulling their deltas. One failing peer never
// blocks the rest of the round, and the peer set grows transitively from
// the peer lists carried in responses.
type Synchronizer struct {
	mu      sync.Mutex
	cursors map[string]time.Time // peer -> high-water mark of last pull

	selfURL  string
	dir      DirectoryPort
	client   PeerClient
	events   bus.EventBus
	log      *logging.Logger
	interval time.Duration

	nowFunc func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSynchronizer builds a synchronizer over a directory.
func NewSynchronizer(dir DirectoryPort, cfg Config) *Synchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPPeerClient(HTTPPeerConfig{})
	}

	s := &Synchronizer{
		cursors:  make(map[string]time.Time),
		selfURL:  cfg.SelfURL,
		dir:      dir,
		client:   cfg.Client,
		events:   cfg.Events,
		log:      cfg.Logger.WithComponent("federation"),
		interval: cfg.Interval,
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
	for _, p := range cfg.Peers {
		s.AddPeer(p)
	}
	return s
}

// AddPeer registers a peer URL. Self and duplicates are ignored.
func (s *Synchronizer) AddPeer(peerURL string) {
	if peerURL == "" || peerURL == s.selfURL {
		return
	}
	s.mu.Lock()
	if _, ok := s.cursors[peerURL]; !ok {
		s.cursors[peerURL] = time.Time{}
	}
	s.mu.Unlock()
}

// Peers returns the current peer set.
func (s *Synchronizer) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.cursors))
	for p := range s.cursors {
		out = append(out, p)
	}
	return out
}

// SyncAll pulls every known peer once. Returns how many records merged.
func (s *Synchronizer) SyncAll(ctx context.Context) int {
	merged := 0
	for _, peer := range s.Peers() {
		n, err := s.syncPeer(ctx, peer)
		if err != nil {
			s.log.PeerSyncFailed(peer, err)
			continue
		}
		merged += n
	}
	return merged
}

func (s *Synchronizer) syncPeer(ctx context.Context, peer string) (int, error) {
	s.mu.Lock()
	since := s.cursors[peer]
	s.mu.Unlock()

	payload, err := s.client.Pull(ctx, peer, since)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, rec := range payload.Agents {
		outcome, err := s.dir.MergeRemote(rec)
		if err != nil {
			s.log.Debug("merge rejected", map[string]interface{}{
				"peer": peer, "agent_id": rec.ID, "error": err.Error(),
			})
			continue
		}
		if outcome != directory.MergeSkipped {
			merged++
		}
	}

	for _, p := range payload.Peers {
		s.AddPeer(p)
	}

	cursor := s.nowFunc()
	if payload.Timestamp > 0 {
		sec := int64(payload.Timestamp)
		nsec := int64((payload.Timestamp - float64(sec)) * 1e9)
		cursor = time.Unix(sec, nsec).UTC()
	}
	s.mu.Lock()
	s.cursors[peer] = cursor
	s.mu.Unlock()

	if s.events != nil && merged > 0 {
		s.events.Publish(bus.Event{
			Type: bus.EventPeerSynced,
			Data: map[string]any{"peer": peer, "merged": merged},
		})
	}
	return merged, nil
}

// BuildPayload renders this node's delta for a requesting peer.
func (s *Synchronizer) BuildPayload(since time.Time) SyncPayload {
	now := s.nowFunc()
	return SyncPayload{
		Agents:    s.dir.ListUpdatedSince(since),
		Peers:     s.Peers(),
		Timestamp: float64(now.UnixNano()) / 1e9,
	}
}

// Start launches the periodic sync loop.
func (s *Synchronizer) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
}

// Stop halts the loop and waits for it to exit.
func (s *Synchronizer) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.doneCh = nil
}

func (s *Synchronizer) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			s.SyncAll(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}
