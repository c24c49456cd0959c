package failover

import (
	"time"

	"github.com/lifo4ems/crl/internal/event"
)

// maybeFailback implements the opt-in automatic failback: once
// a higher-priority (lower Priority value) endpoint than the currently
// active one has been continuously healthy for at least
// FailbackStabilityMs, the group switches back to it and emits a
// failback event. Disabled groups (the default) are a no-op.
func (m *Manager) maybeFailback(groupID string) {
	g, ok := m.group(groupID)
	if !ok {
		return
	}

	g.mu.RLock()
	if !g.policy.FailbackEnabled {
		g.mu.RUnlock()
		return
	}
	activeID := g.activeEndpointID
	active, hasActive := g.endpoints[activeID]
	stabilityMs := g.policy.FailbackStabilityMs
	candidates := make([]*endpointState, 0, len(g.order))
	for _, id := range g.order {
		if id == activeID {
			continue
		}
		candidates = append(candidates, g.endpoints[id])
	}
	g.mu.RUnlock()

	if !hasActive {
		return
	}
	activePriority := active.snapshot().Priority

	var best *endpointState
	var bestPriority int
	for _, es := range candidates {
		if es == nil || !es.healthy() {
			continue
		}
		ep := es.snapshot()
		if ep.Priority >= activePriority {
			continue
		}

		es.mu.RLock()
		since := es.healthySince
		es.mu.RUnlock()
		if since == 0 {
			continue
		}
		if time.Since(time.Unix(0, since)) < time.Duration(stabilityMs)*time.Millisecond {
			continue
		}

		if best == nil || ep.Priority < bestPriority {
			best, bestPriority = es, ep.Priority
		}
	}

	if best == nil {
		return
	}

	bestID := best.snapshot().ID
	m.setActive(g, bestID)
	m.emit(event.Event{Kind: event.Failback, GroupID: groupID, EndpointID: bestID})
}
