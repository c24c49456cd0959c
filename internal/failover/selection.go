package failover

import (
	"sort"

	"github.com/lifo4ems/crl/internal/model"
)

// healthy reports whether es currently qualifies for selection: its
// observed HealthStatus permits it, and its circuit breaker allows
// traffic (CLOSED, or HALF_OPEN past nextProbeAt).
func (es *endpointState) healthy() bool {
	es.mu.RLock()
	status := es.endpoint.Healthy()
	es.mu.RUnlock()
	return status && es.breaker.Allowed()
}

// selectEndpoint picks the next candidate for g per its policy's mode.
// excluded holds endpoint IDs already tried in the current
// executeWithFailover attempt loop, so repeated calls advance instead of
// re-selecting the same failed endpoint.
func (g *group) selectEndpoint(excluded map[string]bool) (*endpointState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	candidates := make([]*endpointState, 0, len(g.order))
	for _, id := range g.order {
		if excluded[id] {
			continue
		}
		es := g.endpoints[id]
		if es != nil && es.healthy() {
			candidates = append(candidates, es)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	switch g.policy.Mode {
	case model.ModeActivePassive:
		return selectLowestPriority(candidates), true

	case model.ModeRoundRobin:
		es := candidates[g.rrCursor%len(candidates)]
		g.rrCursor++
		return es, true

	case model.ModeLeastLatency:
		return selectLeastLatency(candidates), true

	case model.ModeLoadWeighted:
		return selectLoadWeighted(candidates), true

	case model.ModeActiveActive:
		return candidates[0], true

	default:
		return selectLowestPriority(candidates), true
	}
}

// anyCircuitOpen reports whether at least one non-excluded endpoint in g
// is unselectable specifically because its circuit breaker is open,
// rather than because it's unhealthy — used to distinguish
// ErrCircuitOpen from ErrNoHealthyEndpoint when a retry loop runs dry.
func (g *group) anyCircuitOpen(excluded map[string]bool) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, es := range g.endpoints {
		if excluded[id] {
			continue
		}
		if !es.breaker.Allowed() {
			return true
		}
	}
	return false
}

func selectLowestPriority(cs []*endpointState) *endpointState {
	best := cs[0]
	bestPrio := best.snapshot().Priority
	for _, c := range cs[1:] {
		if p := c.snapshot().Priority; p < bestPrio {
			best, bestPrio = c, p
		}
	}
	return best
}

func selectLeastLatency(cs []*endpointState) *endpointState {
	sort.Slice(cs, func(i, j int) bool {
			li, lj := cs[i].latency.Mean(), cs[j].latency.Mean()
			if li != lj {
				return li < lj
			}
			return cs[i].snapshot().Priority < cs[j].snapshot().Priority
	})
	return cs[0]
}

func selectLoadWeighted(cs []*endpointState) *endpointState {
	best := cs[0]
	bestScore := loadScore(best)
	for _, c := range cs[1:] {
		if s := loadScore(c); s < bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// loadScore is (inflight+1)/weight, weight derived from priority (lower
// priority value => preferred => higher weight); the +1 lets priority
// decide between endpoints that are all idle.
func loadScore(es *endpointState) float64 {
	es.mu.RLock()
	inflight := es.inflight
	prio := es.endpoint.Priority
	es.mu.RUnlock()

	weight := 1 / float64(prio+1)
	return float64(inflight+1) / weight
}
