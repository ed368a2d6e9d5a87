package directory

import (
	"github.com/vinayprograms/agentdir/bus"
	"github.com/vinayprograms/agentdir/errors"
)

// MergeOutcome reports what MergeRemote did with one peer record.
type MergeOutcome string

const (
	MergeCreated MergeOutcome = "created"
	MergeUpdated MergeOutcome = "updated"
	MergeSkipped MergeOutcome = "skipped"
)

// MergeRemote folds a record learned from a federation peer into the
// local directory.
//
// Unknown agents go through full registration, including signature
// verification. Known agents are updated only when the incoming UpdatedAt
// is strictly newer, and even then the local trust score, timestamps, id,
// claim code, and species id are preserved: trust is always a local
// judgment, and ownership secrets never travel the mesh.
func (d *Directory) MergeRemote(remote AgentRecord) (MergeOutcome, error) {
	remote = remote.Clone()
	remote.ClaimCode = ""
	remote.TrustScore = nil

	d.mu.Lock()
	local, known := d.agents[remote.ID]
	d.mu.Unlock()

	if !known {
		if _, err := d.Register(remote); err != nil {
			return MergeSkipped, err
		}
		return MergeCreated, nil
	}

	if !remote.UpdatedAt.After(local.UpdatedAt) {
		return MergeSkipped, nil
	}
	if err := remote.Validate(); err != nil {
		return MergeSkipped, err
	}
	if err := d.verifyClaims(remote); err != nil {
		return MergeSkipped, err
	}

	d.mu.Lock()
	cur, ok := d.agents[remote.ID]
	if !ok {
		d.mu.Unlock()
		return MergeSkipped, errors.NotFound("agent vanished during merge", errors.WithAgentID(remote.ID))
	}

	next := remote
	next.TrustScore = cur.TrustScore
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = d.now()
	next.ClaimCode = cur.ClaimCode
	next.SpeciesID = SpeciesID(next.Skills)

	if err := d.persist(next); err != nil {
		d.mu.Unlock()
		return MergeSkipped, err
	}
	d.unindex(cur)
	d.agents[next.ID] = next
	d.index(next)
	d.mu.Unlock()

	d.publish(bus.Event{Type: bus.EventAgentUpdated, AgentID: next.ID, Data: map[string]any{"source": "federation"}})
	d.notifyMutation()
	return MergeUpdated, nil
}
