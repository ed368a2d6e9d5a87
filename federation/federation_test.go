package federation

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/vinayprograms/agentdir/bus"
	"github.com/vinayprograms/agentdir/directory"
)

type fakeDir struct {
	merged   []directory.AgentRecord
	outcomes map[string]directory.MergeOutcome
	mergeErr map[string]error
	updates  []directory.AgentRecord
}

func (f *fakeDir) MergeRemote(rec directory.AgentRecord) (directory.MergeOutcome, error) {
	if err := f.mergeErr[rec.ID]; err != nil {
		return directory.MergeSkipped, err
	}
	f.merged = append(f.merged, rec)
	if out, ok := f.outcomes[rec.ID]; ok {
		return out, nil
	}
	return directory.MergeCreated, nil
}

func (f *fakeDir) ListUpdatedSince(t time.Time) []directory.AgentRecord {
	var out []directory.AgentRecord
	for _, rec := range f.updates {
		if rec.UpdatedAt.After(t) {
			out = append(out, rec)
		}
	}
	return out
}

type fakeClient struct {
	payloads map[string]SyncPayload
	errs     map[string]error
	pulls    []string
	since    map[string]time.Time
}

func (f *fakeClient) Pull(ctx context.Context, peerURL string, since time.Time) (SyncPayload, error) {
	f.pulls = append(f.pulls, peerURL)
	if f.since == nil {
		f.since = make(map[string]time.Time)
	}
	f.since[peerURL] = since
	if err := f.errs[peerURL]; err != nil {
		return SyncPayload{}, err
	}
	return f.payloads[peerURL], nil
}

func remoteRecord(id string, updated time.Time) directory.AgentRecord {
	return directory.AgentRecord{
		ID:        id,
		Name:      "remote " + id,
		Endpoint:  "http://remote.example/" + id,
		Protocol:  directory.ProtocolHTTP,
		Skills:    []directory.Skill{{Name: "echo"}},
		UpdatedAt: updated,
	}
}

func TestSyncAllMergesPeerRecords(t *testing.T) {
	dir := &fakeDir{}
	client := &fakeClient{payloads: map[string]SyncPayload{
		"http://peer-a": {Agents: []directory.AgentRecord{
			remoteRecord("agent-1", time.Now()),
			remoteRecord("agent-2", time.Now()),
		}},
	}}

	s := NewSynchronizer(dir, Config{
		Peers:  []string{"http://peer-a"},
		Client: client,
	})

	merged := s.SyncAll(context.Background())
	if merged != 2 {
		t.Fatalf("merged = %d, want 2", merged)
	}
	if len(dir.merged) != 2 {
		t.Fatalf("directory saw %d records, want 2", len(dir.merged))
	}
}

func TestSyncAllSkippedRecordsNotCounted(t *testing.T) {
	dir := &fakeDir{outcomes: map[string]directory.MergeOutcome{
		"agent-old": directory.MergeSkipped,
	}}
	client := &fakeClient{payloads: map[string]SyncPayload{
		"http://peer-a": {Agents: []directory.AgentRecord{
			remoteRecord("agent-old", time.Now()),
			remoteRecord("agent-new", time.Now()),
		}},
	}}

	s := NewSynchronizer(dir, Config{Peers: []string{"http://peer-a"}, Client: client})
	if merged := s.SyncAll(context.Background()); merged != 1 {
		t.Fatalf("merged = %d, want 1", merged)
	}
}

func TestSyncAllPeerFailureIsolated(t *testing.T) {
	dir := &fakeDir{}
	client := &fakeClient{
		payloads: map[string]SyncPayload{
			"http://peer-good": {Agents: []directory.AgentRecord{remoteRecord("agent-1", time.Now())}},
		},
		errs: map[string]error{
			"http://peer-bad": fmt.Errorf("connection refused"),
		},
	}

	s := NewSynchronizer(dir, Config{
		Peers:  []string{"http://peer-bad", "http://peer-good"},
		Client: client,
	})

	if merged := s.SyncAll(context.Background()); merged != 1 {
		t.Fatalf("merged = %d, want 1", merged)
	}
	if len(client.pulls) != 2 {
		t.Fatalf("pulled %d peers, want 2", len(client.pulls))
	}
}

func TestSyncAllMergeErrorSkipsRecord(t *testing.T) {
	dir := &fakeDir{mergeErr: map[string]error{
		"agent-bad": fmt.Errorf("invalid record"),
	}}
	client := &fakeClient{payloads: map[string]SyncPayload{
		"http://peer-a": {Agents: []directory.AgentRecord{
			remoteRecord("agent-bad", time.Now()),
			remoteRecord("agent-ok", time.Now()),
		}},
	}}

	s := NewSynchronizer(dir, Config{Peers: []string{"http://peer-a"}, Client: client})
	if merged := s.SyncAll(context.Background()); merged != 1 {
		t.Fatalf("merged = %d, want 1", merged)
	}
	if len(dir.merged) != 1 || dir.merged[0].ID != "agent-ok" {
		t.Fatalf("unexpected merged set %v", dir.merged)
	}
}

func TestPeersGrowTransitively(t *testing.T) {
	dir := &fakeDir{}
	client := &fakeClient{payloads: map[string]SyncPayload{
		"http://peer-a": {Peers: []string{"http://peer-b", "http://self", "http://peer-a"}},
	}}

	s := NewSynchronizer(dir, Config{
		SelfURL: "http://self",
		Peers:   []string{"http://peer-a"},
		Client:  client,
	})
	s.SyncAll(context.Background())

	peers := s.Peers()
	sort.Strings(peers)
	want := []string{"http://peer-a", "http://peer-b"}
	if len(peers) != len(want) {
		t.Fatalf("peers = %v, want %v", peers, want)
	}
	for i := range want {
		if peers[i] != want[i] {
			t.Fatalf("peers = %v, want %v", peers, want)
		}
	}
}

func TestCursorAdvancesFromPayloadTimestamp(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := &fakeDir{}
	client := &fakeClient{payloads: map[string]SyncPayload{
		"http://peer-a": {Timestamp: float64(stamp.UnixNano()) / 1e9},
	}}

	s := NewSynchronizer(dir, Config{Peers: []string{"http://peer-a"}, Client: client})

	s.SyncAll(context.Background())
	if got := client.since["http://peer-a"]; !got.IsZero() {
		t.Fatalf("first pull since = %v, want zero", got)
	}

	s.SyncAll(context.Background())
	got := client.since["http://peer-a"]
	if got.Unix() != stamp.Unix() {
		t.Fatalf("second pull since = %v, want %v", got, stamp)
	}
}

func TestSyncPublishesPeerSyncedEvent(t *testing.T) {
	dir := &fakeDir{}
	client := &fakeClient{payloads: map[string]SyncPayload{
		"http://peer-a": {Agents: []directory.AgentRecord{remoteRecord("agent-1", time.Now())}},
	}}

	events := bus.NewMemoryBus(bus.Config{})
	defer events.Close()
	sub, err := events.Subscribe(bus.EventPeerSynced)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s := NewSynchronizer(dir, Config{
		Peers:  []string{"http://peer-a"},
		Client: client,
		Events: events,
	})
	s.SyncAll(context.Background())

	select {
	case ev := <-sub.Events():
		if ev.Data["peer"] != "http://peer-a" {
			t.Fatalf("event peer = %v", ev.Data["peer"])
		}
	case <-time.After(time.Second):
		t.Fatal("no peer_synced event")
	}
}

func TestBuildPayloadFiltersBySince(t *testing.T) {
	now := time.Now().UTC()
	dir := &fakeDir{updates: []directory.AgentRecord{
		remoteRecord("agent-old", now.Add(-time.Hour)),
		remoteRecord("agent-new", now),
	}}

	s := NewSynchronizer(dir, Config{Client: &fakeClient{}})

	payload := s.BuildPayload(now.Add(-time.Minute))
	if len(payload.Agents) != 1 || payload.Agents[0].ID != "agent-new" {
		t.Fatalf("unexpected delta %v", payload.Agents)
	}
	if payload.Timestamp <= 0 {
		t.Fatalf("timestamp = %v, want positive", payload.Timestamp)
	}
}

func TestHTTPClientAndHandlerRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	serverDir := &fakeDir{updates: []directory.AgentRecord{
		remoteRecord("agent-old", now.Add(-time.Hour)),
		remoteRecord("agent-new", now),
	}}
	server := NewSynchronizer(serverDir, Config{
		Peers:  []string{"http://peer-c"},
		Client: &fakeClient{},
	})

	srv := httptest.NewServer(SyncHandler(server))
	defer srv.Close()

	client := NewHTTPPeerClient(HTTPPeerConfig{})

	full, err := client.Pull(context.Background(), srv.URL, time.Time{})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(full.Agents) != 2 {
		t.Fatalf("full pull returned %d agents, want 2", len(full.Agents))
	}
	if len(full.Peers) != 1 || full.Peers[0] != "http://peer-c" {
		t.Fatalf("peers = %v", full.Peers)
	}

	delta, err := client.Pull(context.Background(), srv.URL, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Pull with since: %v", err)
	}
	if len(delta.Agents) != 1 || delta.Agents[0].ID != "agent-new" {
		t.Fatalf("delta = %v", delta.Agents)
	}
}

func TestHTTPClientPeerDown(t *testing.T) {
	client := NewHTTPPeerClient(HTTPPeerConfig{Timeout: 200 * time.Millisecond})
	if _, err := client.Pull(context.Background(), "http://127.0.0.1:1", time.Time{}); err == nil {
		t.Fatal("expected error pulling unreachable peer")
	}
}

func TestStartStopLoop(t *testing.T) {
	dir := &fakeDir{}
	client := &fakeClient{payloads: map[string]SyncPayload{}}

	s := NewSynchronizer(dir, Config{
		Peers:    []string{"http://peer-a"},
		Client:   client,
		Interval: 10 * time.Millisecond,
	})
	s.Start()
	time.Sleep(35 * time.Millisecond)
	s.Stop()

	if len(client.pulls) == 0 {
		t.Fatal("loop never pulled")
	}
}
