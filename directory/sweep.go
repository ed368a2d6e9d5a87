package directory

import (
	"time"

	"github.com/vinayprograms/agentdir/bus"
)

// StartSweeper launches the background health sweep. Stop joins the loop
// before returning, so no sweep runs after it.
func (d *Directory) StartSweeper() {
	if d.stopCh != nil {
		return
	}
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.sweepLoop()
}

// StopSweeper halts the health sweep and waits for it to exit.
func (d *Directory) StopSweeper() {
	if d.stopCh == nil {
		return
	}
	close(d.stopCh)
	<-d.doneCh
	d.stopCh = nil
	d.doneCh = nil
}

func (d *Directory) sweepLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Sweep()
		case <-d.stopCh:
			return
		}
	}
}

// Sweep runs one health pass: any agent silent longer than the stale
// threshold is marked offline. Records are never deleted here; an offline
// agent revives on its next heartbeat.
func (d *Directory) Sweep() int {
	now := d.now()

	type transition struct {
		id        string
		from      HealthStatus
		silentFor time.Duration
	}
	var flipped []transition

	d.mu.Lock()
	for id, rec := range d.agents {
		if rec.HealthStatus == HealthOffline {
			continue
		}
		lastSeen := rec.LastHeartbeat
		if lastSeen.IsZero() {
			lastSeen = rec.CreatedAt
		}
		silent := now.Sub(lastSeen)
		if silent <= d.staleAfter {
			continue
		}

		from := rec.HealthStatus
		rec.HealthStatus = HealthOffline
		rec.LastHealthCheck = now
		rec.UpdatedAt = now
		if err := d.persist(rec); err != nil {
			d.log.Error("persist offline mark failed", map[string]interface{}{"agent_id": id, "error": err})
			continue
		}
		d.agents[id] = rec
		flipped = append(flipped, transition{id: id, from: from, silentFor: silent})
	}
	d.mu.Unlock()

	for _, tr := range flipped {
		d.log.AgentOffline(tr.id, tr.silentFor)
		d.publish(bus.Event{
			Type:    bus.EventAgentHealthChanged,
			AgentID: tr.id,
			Data:    map[string]any{"from": string(tr.from), "to": string(HealthOffline)},
		})
	}
	if len(flipped) > 0 {
		d.notifyMutation()
	}
	return len(flipped)
}
