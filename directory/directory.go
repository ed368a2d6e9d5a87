package directory

import (
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/agentdir/bus"
	"github.com/vinayprograms/agentdir/errors"
	"github.com/vinayprograms/agentdir/logging"
	"github.com/vinayprograms/agentdir/security"
)

// Config holds directory construction options. Store is required; every
// other collaborator may be nil and is then skipped.
type Config struct {
	Store    Store
	Verifier IdentityVerifier
	Events   bus.EventBus
	Logger   *logging.Logger

	// RequireSigned rejects registrations without a public key and
	// signature. Default off: signatures are checked when present.
	RequireSigned bool

	// StaleAfter is how long an agent may stay silent before the sweeper
	// marks it offline. Default 5 minutes.
	StaleAfter time.Duration

	// SweepInterval is how often the health sweeper runs. Default 30s.
	SweepInterval time.Duration
}

// Directory is the authoritative agent registry for one node. One mutex
// covers the record map, the secondary indexes, and the write-through to
// the store so they can never diverge. Collaborator calls (events, trust,
// cache invalidation) happen after the lock is released.
type Directory struct {
	mu     sync.Mutex
	agents map[string]AgentRecord

	// Secondary indexes: value id-sets per skill name, protocol, tag.
	bySkill    map[string]map[string]struct{}
	byProtocol map[Protocol]map[string]struct{}
	byTag      map[string]map[string]struct{}

	store    Store
	verifier IdentityVerifier
	events   bus.EventBus
	trust    TrustSink
	log      *logging.Logger

	requireSigned bool
	staleAfter    time.Duration
	sweepInterval time.Duration

	hooksMu sync.Mutex
	hooks   []func()

	nowFunc func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a directory and restores any records the store holds.
func New(cfg Config) (*Directory, error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	d := &Directory{
		agents:        make(map[string]AgentRecord),
		bySkill:       make(map[string]map[string]struct{}),
		byProtocol:    make(map[Protocol]map[string]struct{}),
		byTag:         make(map[string]map[string]struct{}),
		store:         cfg.Store,
		verifier:      cfg.Verifier,
		events:        cfg.Events,
		log:           cfg.Logger.WithComponent("directory"),
		requireSigned: cfg.RequireSigned,
		staleAfter:    cfg.StaleAfter,
		sweepInterval: cfg.SweepInterval,
		nowFunc:       func() time.Time { return time.Now().UTC() },
	}

	if d.store != nil {
		recs, err := d.store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "restore directory")
		}
		for _, rec := range recs {
			d.agents[rec.ID] = rec.Clone()
			d.index(rec)
		}
	}
	return d, nil
}

// SetTrust wires the trust sink in after construction. The directory and
// the trust engine reference each other, so one side attaches late.
func (d *Directory) SetTrust(sink TrustSink) {
	d.trust = sink
}

// OnMutation registers a hook invoked after every successful mutation.
// The discovery layer uses it to drop cached results.
func (d *Directory) OnMutation(fn func()) {
	d.hooksMu.Lock()
	d.hooks = append(d.hooks, fn)
	d.hooksMu.Unlock()
}

func (d *Directory) now() time.Time { return d.nowFunc() }

func (d *Directory) notifyMutation() {
	d.hooksMu.Lock()
	hooks := d.hooks
	d.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (d *Directory) publish(ev bus.Event) {
	if d.events == nil {
		return
	}
	ev.Timestamp = d.now()
	if err := d.events.Publish(ev); err != nil {
		d.log.Debug("event publish failed", map[string]interface{}{"type": ev.Type, "error": err})
	}
}

// verifyClaims checks identity binding and manifest signature on a record.
func (d *Directory) verifyClaims(rec AgentRecord) error {
	if d.requireSigned && (rec.PublicKey == "" || rec.Signature == "") {
		return errors.Security("signed registration required", errors.WithAgentID(rec.ID))
	}
	if rec.PublicKey == "" {
		return nil
	}
	if d.verifier == nil {
		return nil
	}
	if !d.verifier.MatchesIdentity(rec.ID, rec.PublicKey) {
		return errors.Security("agent id does not match public key", errors.WithAgentID(rec.ID))
	}
	if rec.Signature != "" {
		payload, err := security.CanonicalManifest(rec)
		if err != nil {
			return errors.Wrap(err, "canonicalize manifest", errors.WithAgentID(rec.ID))
		}
		if err := d.verifier.VerifySignature(payload, rec.Signature, rec.PublicKey); err != nil {
			return errors.Wrap(err, "verify manifest signature", errors.WithAgentID(rec.ID))
		}
	}
	return nil
}

// Register admits a new agent. The returned record carries the minted
// claim code and server-assigned fields.
func (d *Directory) Register(rec AgentRecord) (AgentRecord, error) {
	if err := rec.Validate(); err != nil {
		return AgentRecord{}, err
	}
	if err := d.verifyClaims(rec); err != nil {
		return AgentRecord{}, err
	}

	now := d.now()
	rec = rec.Clone()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.SpeciesID = SpeciesID(rec.Skills)
	rec.TrustScore = nil
	if rec.HealthStatus == "" {
		rec.HealthStatus = HealthUnknown
	}
	if rec.OwnerID == "" {
		rec.ClaimCode = NewClaimCode()
	} else {
		rec.ClaimCode = ""
	}

	d.mu.Lock()
	if _, exists := d.agents[rec.ID]; exists {
		d.mu.Unlock()
		return AgentRecord{}, errors.Conflict("agent already registered", errors.WithAgentID(rec.ID))
	}
	if err := d.persist(rec); err != nil {
		d.mu.Unlock()
		return AgentRecord{}, err
	}
	d.agents[rec.ID] = rec
	d.index(rec)
	d.mu.Unlock()

	d.log.AgentRegistered(rec.ID, len(rec.Skills))
	d.publish(bus.Event{Type: bus.EventAgentRegistered, AgentID: rec.ID})
	d.notifyMutation()

	return rec.Clone(), nil
}

// Update merges a patch into an existing record. Nil patch fields leave
// the record untouched; ID and CreatedAt never change.
func (d *Directory) Update(id string, patch Patch) (AgentRecord, error) {
	d.mu.Lock()
	cur, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		return AgentRecord{}, errors.NotFound("unknown agent", errors.WithAgentID(id))
	}

	next := cur.Clone()
	applyPatch(&next, patch)
	next.UpdatedAt = d.now()
	if patch.Skills != nil {
		next.SpeciesID = SpeciesID(next.Skills)
	}

	if err := next.Validate(); err != nil {
		d.mu.Unlock()
		return AgentRecord{}, err
	}
	if patch.PublicKey != nil || patch.Signature != nil {
		if err := d.verifyClaims(next); err != nil {
			d.mu.Unlock()
			return AgentRecord{}, err
		}
	}

	if err := d.persist(next); err != nil {
		d.mu.Unlock()
		return AgentRecord{}, err
	}
	d.unindex(cur)
	d.agents[id] = next
	d.index(next)
	d.mu.Unlock()

	if d.trust != nil {
		d.trust.RecordEvent(id, "profile_update", id)
	}
	d.publish(bus.Event{Type: bus.EventAgentUpdated, AgentID: id})
	d.notifyMutation()

	return next.Clone(), nil
}

// HeartbeatAck tells the agent when the sweeper expects to hear from it
// again.
type HeartbeatAck struct {
	AgentID      string       `json:"agent_id"`
	Status       HealthStatus `json:"status"`
	NextCheckDue time.Time    `json:"next_check_due"`
}

// Heartbeat marks an agent alive and healthy.
func (d *Directory) Heartbeat(id string) (HeartbeatAck, error) {
	d.mu.Lock()
	rec, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		return HeartbeatAck{}, errors.NotFound("unknown agent", errors.WithAgentID(id))
	}

	now := d.now()
	prev := rec.HealthStatus
	rec.HealthStatus = HealthHealthy
	rec.LastHeartbeat = now
	rec.LastHealthCheck = now
	rec.UpdatedAt = now

	if err := d.persist(rec); err != nil {
		d.mu.Unlock()
		return HeartbeatAck{}, err
	}
	d.agents[id] = rec
	d.mu.Unlock()

	if d.trust != nil {
		d.trust.RecordEvent(id, "heartbeat", id)
	}
	if prev != HealthHealthy {
		d.publish(bus.Event{
			Type:    bus.EventAgentHealthChanged,
			AgentID: id,
			Data:    map[string]any{"from": string(prev), "to": string(HealthHealthy)},
		})
	}
	d.notifyMutation()

	return HeartbeatAck{
		AgentID:      id,
		Status:       HealthHealthy,
		NextCheckDue: now.Add(d.staleAfter),
	}, nil
}

// Deregister removes an agent. Returns false if the id was unknown.
func (d *Directory) Deregister(id string) bool {
	d.mu.Lock()
	rec, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	delete(d.agents, id)
	d.unindex(rec)
	if d.store != nil {
		if err := d.store.Delete(id); err != nil {
			d.log.Error("store delete failed", map[string]interface{}{"agent_id": id, "error": err})
		}
	}
	d.mu.Unlock()

	d.publish(bus.Event{Type: bus.EventAgentDeregistered, AgentID: id})
	d.notifyMutation()
	return true
}

// Claim binds an unowned agent to an owner using its single-use claim
// code. The code is consumed whether or not the agent stays unowned.
func (d *Directory) Claim(id, code, ownerID string) error {
	if ownerID == "" {
		return errors.Validation("owner id required", errors.WithAgentID(id))
	}

	d.mu.Lock()
	rec, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		return errors.NotFound("unknown agent", errors.WithAgentID(id))
	}
	if rec.OwnerID != "" {
		d.mu.Unlock()
		return errors.Conflict("agent already claimed", errors.WithAgentID(id))
	}
	if rec.ClaimCode == "" || code != rec.ClaimCode {
		d.mu.Unlock()
		return errors.Validation("claim code mismatch", errors.WithAgentID(id))
	}

	rec.OwnerID = ownerID
	rec.ClaimCode = ""
	rec.UpdatedAt = d.now()
	if err := d.persist(rec); err != nil {
		d.mu.Unlock()
		return err
	}
	d.agents[id] = rec
	d.mu.Unlock()

	d.publish(bus.Event{
		Type:    bus.EventAgentClaimed,
		AgentID: id,
		Data:    map[string]any{"owner_id": ownerID},
	})
	d.notifyMutation()
	return nil
}

// Get returns a copy of one record.
func (d *Directory) Get(id string) (AgentRecord, bool) {
	d.mu.Lock()
	rec, ok := d.agents[id]
	d.mu.Unlock()
	if !ok {
		return AgentRecord{}, false
	}
	return rec.Clone(), true
}

// SortBy names a List ordering.
type SortBy string

const (
	SortByTrust     SortBy = "trust"
	SortByUpdatedAt SortBy = "updated_at"
	SortByCreatedAt SortBy = "created_at"
)

// ListOptions controls pagination and ordering of List.
type ListOptions struct {
	Skip   int
	Limit  int // 0 means no limit
	SortBy SortBy
}

// List returns records ordered and paginated. Sorting by trust refreshes
// each score from the trust engine first, so the ordering reflects decay.
func (d *Directory) List(opts ListOptions) []AgentRecord {
	recs := d.Snapshot()

	if opts.SortBy == SortByTrust && d.trust != nil {
		for i := range recs {
			score := d.trust.Score(recs[i].ID)
			recs[i].TrustScore = &score
		}
	}

	sortRecords(recs, opts.SortBy)

	if opts.Skip >= len(recs) {
		return nil
	}
	recs = recs[opts.Skip:]
	if opts.Limit > 0 && opts.Limit < len(recs) {
		recs = recs[:opts.Limit]
	}
	return recs
}

// Snapshot returns copies of every record.
func (d *Directory) Snapshot() []AgentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]AgentRecord, 0, len(d.agents))
	for _, rec := range d.agents {
		out = append(out, rec.Clone())
	}
	return out
}

// ListUpdatedSince returns records whose UpdatedAt is strictly after t.
// Federation peers call this to pull deltas.
func (d *Directory) ListUpdatedSince(t time.Time) []AgentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []AgentRecord
	for _, rec := range d.agents {
		if rec.UpdatedAt.After(t) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// IDsBySkill returns the ids advertising a skill name.
func (d *Directory) IDsBySkill(skill string) map[string]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyIDSet(d.bySkill[skill])
}

// IDsByProtocol returns the ids reachable over a protocol.
func (d *Directory) IDsByProtocol(p Protocol) map[string]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyIDSet(d.byProtocol[p])
}

// IDsByTag returns the ids carrying a tag.
func (d *Directory) IDsByTag(tag string) map[string]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyIDSet(d.byTag[tag])
}

// SetTrustScore writes a refreshed trust score through to the record and
// the store. The trust engine calls this from its flush loop; no profile
// event fires, otherwise every flush would feed itself a new trust event.
func (d *Directory) SetTrustScore(id string, score float64) error {
	d.mu.Lock()
	rec, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		return errors.NotFound("unknown agent", errors.WithAgentID(id))
	}
	rec.TrustScore = &score
	rec.UpdatedAt = d.now()
	if err := d.persist(rec); err != nil {
		d.mu.Unlock()
		return err
	}
	d.agents[id] = rec
	d.mu.Unlock()

	d.publish(bus.Event{
		Type:    bus.EventTrustScoreChanged,
		AgentID: id,
		Data:    map[string]any{"score": score},
	})
	return nil
}

// Stats summarizes the directory population.
type Stats struct {
	TotalAgents    int            `json:"total_agents"`
	ByHealth       map[string]int `json:"by_health"`
	DistinctSkills int            `json:"distinct_skills"`
	Species        int            `json:"species"`
	ClaimedAgents  int            `json:"claimed_agents"`
}

// Stats returns population counts.
func (d *Directory) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Stats{
		TotalAgents:    len(d.agents),
		ByHealth:       make(map[string]int),
		DistinctSkills: len(d.bySkill),
	}
	species := make(map[string]struct{})
	for _, rec := range d.agents {
		st.ByHealth[string(rec.HealthStatus)]++
		if rec.SpeciesID != "" {
			species[rec.SpeciesID] = struct{}{}
		}
		if rec.OwnerID != "" {
			st.ClaimedAgents++
		}
	}
	st.Species = len(species)
	return st
}

// persist writes through to the store. Must be called with mu held.
func (d *Directory) persist(rec AgentRecord) error {
	if d.store == nil {
		return nil
	}
	if err := d.store.Upsert(rec); err != nil {
		return errors.Wrap(err, "persist record", errors.WithAgentID(rec.ID))
	}
	return nil
}

func (d *Directory) index(rec AgentRecord) {
	for _, s := range rec.Skills {
		addToIndex(d.bySkill, s.Name, rec.ID)
	}
	if rec.Protocol != "" {
		if d.byProtocol[rec.Protocol] == nil {
			d.byProtocol[rec.Protocol] = make(map[string]struct{})
		}
		d.byProtocol[rec.Protocol][rec.ID] = struct{}{}
	}
	for _, t := range rec.Tags {
		addToIndex(d.byTag, t, rec.ID)
	}
	for _, s := range rec.Skills {
		for _, t := range s.Tags {
			addToIndex(d.byTag, t, rec.ID)
		}
	}
}

func (d *Directory) unindex(rec AgentRecord) {
	for _, s := range rec.Skills {
		dropFromIndex(d.bySkill, s.Name, rec.ID)
	}
	if set := d.byProtocol[rec.Protocol]; set != nil {
		delete(set, rec.ID)
		if len(set) == 0 {
			delete(d.byProtocol, rec.Protocol)
		}
	}
	for _, t := range rec.Tags {
		dropFromIndex(d.byTag, t, rec.ID)
	}
	for _, s := range rec.Skills {
		for _, t := range s.Tags {
			dropFromIndex(d.byTag, t, rec.ID)
		}
	}
}

func addToIndex(idx map[string]map[string]struct{}, key, id string) {
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][id] = struct{}{}
}

// dropFromIndex removes an id and deletes the key once its set empties,
// so stale keys never accumulate.
func dropFromIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// sortRecords orders newest-or-highest first.
func sortRecords(recs []AgentRecord, by SortBy) {
	sort.SliceStable(recs, func(i, j int) bool {
		switch by {
		case SortByTrust:
			return scoreOf(recs[i]) > scoreOf(recs[j])
		case SortByCreatedAt:
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		default:
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
	})
}

func scoreOf(rec AgentRecord) float64 {
	if rec.TrustScore == nil {
		return 0.5
	}
	return *rec.TrustScore
}

func copyIDSet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

func applyPatch(rec *AgentRecord, p Patch) {
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Version != nil {
		rec.Version = *p.Version
	}
	if p.Description != nil {
		rec.Description = *p.Description
	}
	if p.Skills != nil {
		rec.Skills = *p.Skills
	}
	if p.Tags != nil {
		rec.Tags = *p.Tags
	}
	if p.Endpoint != nil {
		rec.Endpoint = *p.Endpoint
	}
	if p.Protocol != nil {
		rec.Protocol = *p.Protocol
	}
	if p.Provider != nil {
		rec.Provider = *p.Provider
	}
	if p.NetworkProfile != nil {
		rec.NetworkProfile = *p.NetworkProfile
	}
	if p.PublicKey != nil {
		rec.PublicKey = *p.PublicKey
	}
	if p.Signature != nil {
		rec.Signature = *p.Signature
	}
	if p.ManifestSignature != nil {
		rec.ManifestSignature = *p.ManifestSignature
	}
	if p.QPSBudget != nil {
		rec.QPSBudget = *p.QPSBudget
	}
	if p.ConcurrencyLimit != nil {
		rec.ConcurrencyLimit = *p.ConcurrencyLimit
	}
	if p.VectorDesc != nil {
		rec.VectorDesc = *p.VectorDesc
	}
	if p.HealthStatus != nil {
		rec.HealthStatus = *p.HealthStatus
	}
	if p.ReferralPaid != nil {
		rec.ReferralPaid = *p.ReferralPaid
	}
}
