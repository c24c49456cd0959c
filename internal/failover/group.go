package failover

import (
	"sync"

	"github.com/lifo4ems/crl/internal/model"
)

// group is the manager's internal bookkeeping for one FailoverGroup: its
// member endpoints, selection policy, and the state ACTIVE_PASSIVE /
// ROUND_ROBIN / failback need across calls.
type group struct {
	mu sync.RWMutex

	id string
	policy model.FailoverPolicy
	order []string // endpoint IDs in registration order
	rrCursor int // ROUND_ROBIN's cyclic index

	activeEndpointID string

	endpoints map[string]*endpointState
}

func newGroup(id string) *group {
	return &group{
		id: id,
		policy: model.DefaultFailoverPolicy(),
		endpoints: make(map[string]*endpointState),
	}
}

// endpointState bundles an Endpoint with its circuit breaker and latency
// history — everything the manager needs to select and probe it.
type endpointState struct {
	mu sync.RWMutex
	endpoint model.Endpoint
	breaker *CircuitBreaker
	latency *latencyTracker

	// inflight tracks in-flight sends for LOAD_WEIGHTED selection.
	inflight int

	// consecutive probe counters, independent of the circuit breaker's
	// own consecutiveFailures: health status and circuit state are
	// related but distinct state machines.
	consecutiveProbeSuccesses int
	consecutiveProbeFailures int

	stopProbe chan struct{}

	// healthySince marks when the endpoint most recently became healthy,
	// used to gate failback on failbackStabilityMs.
	healthySince int64 // unix nanos, 0 if not currently healthy
}

func (es *endpointState) snapshot() model.Endpoint {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.endpoint.Clone()
}
