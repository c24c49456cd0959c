// Package failover implements the FailoverManager: endpoint registry,
// health probing, per-endpoint circuit breakers, policy-driven
// selection, and retrying sends with backoff.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifo4ems/crl/internal/crlerrors"
	"github.com/lifo4ems/crl/internal/event"
	"github.com/lifo4ems/crl/internal/model"
)

const defaultOpenCooldown = 30 * time.Second

// Manager is the FailoverManager.
type Manager struct {
	logger *slog.Logger
	bus event.Bus
	probeFn ProbeFunc

	mu sync.RWMutex
	groups map[string]*group

	stopCh chan struct{}
	wg sync.WaitGroup
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }
func WithBus(b event.Bus) Option { return func(m *Manager) { m.bus = b } }
func WithProbeFunc(p ProbeFunc) Option { return func(m *Manager) { m.probeFn = p } }

// New constructs a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger: slog.Default(),
		bus: event.NewBus(nil),
		groups: make(map[string]*group),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) emit(ev event.Event) {
	if m.bus != nil {
		ev.At = time.Now()
		m.bus.Publish(ev)
	}
}

func (m *Manager) group(groupID string) (*group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	return g, ok
}

func (m *Manager) groupOrCreate(groupID string) *group {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		g = newGroup(groupID)
		m.groups[groupID] = g
	}
	return g
}

// RegisterEndpoint adds ep to groupID, initialising its circuit breaker
// to CLOSED and starting health probes if enabled.
func (m *Manager) RegisterEndpoint(ep model.Endpoint, groupID string) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Priority == 0 && ep.Type != model.EndpointPrimary {
		ep.Priority = ep.Type.DefaultPriority()
	}

	openCooldown := defaultOpenCooldown
	failureThreshold := ep.HealthCheck.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 3
	}

	es := &endpointState{
		endpoint: ep,
		latency: newLatencyTracker(),
	}
	es.breaker = NewCircuitBreaker(ep.ID, failureThreshold, openCooldown, func(from, to CircuitState) {
		m.onCircuitTransition(groupID, ep.ID, from, to)
	})

	g := m.groupOrCreate(groupID)
	g.mu.Lock()
	g.endpoints[ep.ID] = es
	g.order = append(g.order, ep.ID)
	if g.activeEndpointID == "" {
		g.activeEndpointID = ep.ID
	}
	g.mu.Unlock()

	m.startProbeLoop(groupID, es)
}

// SetPolicy replaces groupID's FailoverPolicy.
func (m *Manager) SetPolicy(groupID string, policy model.FailoverPolicy) {
	g := m.groupOrCreate(groupID)
	g.mu.Lock()
	g.policy = policy
	g.mu.Unlock()
}

func (m *Manager) onCircuitTransition(groupID, endpointID string, from, to CircuitState) {
	switch to {
	case CircuitOpen:
		m.emit(event.Event{Kind: event.CircuitOpened, GroupID: groupID, EndpointID: endpointID})
	case CircuitClosed:
		if from != CircuitClosed {
			m.emit(event.Event{Kind: event.CircuitClosed, GroupID: groupID, EndpointID: endpointID})
		}
	}
}

func (m *Manager) emitHealthChanged(groupID, endpointID string, from, to model.HealthStatus) {
	m.emit(event.Event{
		Kind: event.HealthChanged, GroupID: groupID, EndpointID: endpointID,
		Extra: map[string]any{"from": from.String(), "to": to.String()},
	})
}

// ExecuteWithFailover selects an endpoint per groupID's policy and
// invokes op against it. On failure it records the failure (advancing
// the endpoint's circuit breaker if its threshold is reached), waits out
// the policy's backoff, and retries against the next endpoint — up to
// maxRetries attempts — before returning ErrRetriesExceeded.
func (m *Manager) ExecuteWithFailover(ctx context.Context, groupID string, op func(ep model.Endpoint) error) error {
	g, ok := m.group(groupID)
	if !ok {
		return fmt.Errorf("failover: group %q: %w", groupID, crlerrors.ErrUnknownGroup)
	}

	g.mu.RLock()
	policy := g.policy
	g.mu.RUnlock()

	maxRetries := policy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	excluded := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		es, ok := g.selectEndpoint(excluded)
		if !ok {
			if lastErr == nil {
				lastErr = crlerrors.ErrNoHealthyEndpoint
				if g.anyCircuitOpen(excluded) {
					lastErr = crlerrors.ErrCircuitOpen
				}
			}
			break
		}

		es.mu.Lock()
		es.inflight++
		es.mu.Unlock()

		start := time.Now()
		err := op(es.snapshot())
		latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

		es.mu.Lock()
		es.inflight--
		es.mu.Unlock()

		if err == nil {
			es.latency.Observe(latencyMs)
			es.breaker.Signal(true, nil)
			m.setActive(g, es.endpoint.ID)
			return nil
		}

		lastErr = err
		excluded[es.endpoint.ID] = true
		es.breaker.Signal(false, err)
		m.maybeTriggerFailover(groupID, g, es.endpoint.ID, "send_failure")

		if attempt < maxRetries-1 {
			delay := policy.BackoffDelay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if lastErr == nil {
		lastErr = crlerrors.ErrRetriesExceeded
	}
	return fmt.Errorf("failover: group %q exhausted retries: %w: %w", groupID, crlerrors.ErrRetriesExceeded, lastErr)
}

// ReportSuccess/ReportFailure are caller-driven hooks for out-of-band
// signals (e.g. a transport layer noticing a send succeeded/failed
// outside of ExecuteWithFailover); they have the same state-machine
// effects as an internal probe result.
func (m *Manager) ReportSuccess(groupID, endpointID string) error {
	es, err := m.findEndpoint(groupID, endpointID)
	if err != nil {
		return err
	}
	es.mu.RLock()
	cfg := es.endpoint.HealthCheck
	es.mu.RUnlock()
	m.recordOutcome(groupID, es, cfg, true, nil, 0)
	return nil
}

func (m *Manager) ReportFailure(groupID, endpointID string, cause error) error {
	es, err := m.findEndpoint(groupID, endpointID)
	if err != nil {
		return err
	}
	es.mu.RLock()
	cfg := es.endpoint.HealthCheck
	es.mu.RUnlock()
	m.recordOutcome(groupID, es, cfg, false, cause, 0)
	return nil
}

func (m *Manager) findEndpoint(groupID, endpointID string) (*endpointState, error) {
	g, ok := m.group(groupID)
	if !ok {
		return nil, fmt.Errorf("failover: group %q: %w", groupID, crlerrors.ErrUnknownGroup)
	}
	g.mu.RLock()
	es, ok := g.endpoints[endpointID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("failover: endpoint %q: %w", endpointID, crlerrors.ErrUnknownEndpoint)
	}
	return es, nil
}

// TriggerFailover manually selects targetID (or, if empty, the next
// candidate per the group's policy) as active and emits a failover
// event.
func (m *Manager) TriggerFailover(groupID, reason, targetID string) bool {
	g, ok := m.group(groupID)
	if !ok {
		return false
	}

	var es *endpointState
	if targetID != "" {
		g.mu.RLock()
		es = g.endpoints[targetID]
		g.mu.RUnlock()
		if es == nil {
			return false
		}
	} else {
		var found bool
		es, found = g.selectEndpoint(nil)
		if !found {
			return false
		}
	}

	m.setActive(g, es.endpoint.ID)
	m.emit(event.Event{Kind: event.Failover, GroupID: groupID, EndpointID: es.endpoint.ID, Reason: event.DropReason(reason)})
	return true
}

func (m *Manager) maybeTriggerFailover(groupID string, g *group, failedEndpointID, reason string) {
	g.mu.RLock()
	isActive := g.activeEndpointID == failedEndpointID
	g.mu.RUnlock()
	if !isActive {
		return
	}
	excluded := map[string]bool{failedEndpointID: true}
	es, ok := g.selectEndpoint(excluded)
	if !ok {
		return
	}
	m.setActive(g, es.endpoint.ID)
	m.emit(event.Event{Kind: event.Failover, GroupID: groupID, EndpointID: es.endpoint.ID, Reason: event.DropReason(reason)})
}

func (m *Manager) setActive(g *group, endpointID string) {
	g.mu.Lock()
	g.activeEndpointID = endpointID
	g.mu.Unlock()
}

// GetActiveEndpoint returns the group's currently active endpoint.
func (m *Manager) GetActiveEndpoint(groupID string) (model.Endpoint, bool) {
	g, ok := m.group(groupID)
	if !ok {
		return model.Endpoint{}, false
	}
	g.mu.RLock()
	id := g.activeEndpointID
	es := g.endpoints[id]
	g.mu.RUnlock()
	if es == nil {
		return model.Endpoint{}, false
	}
	return es.snapshot(), true
}

// GetEndpointStatus returns ep's current observed state.
func (m *Manager) GetEndpointStatus(groupID, endpointID string) (model.Endpoint, CircuitState, error) {
	es, err := m.findEndpoint(groupID, endpointID)
	if err != nil {
		return model.Endpoint{}, CircuitClosed, err
	}
	return es.snapshot(), es.breaker.State(), nil
}

// GetGroupEndpoints returns every endpoint registered in groupID.
func (m *Manager) GetGroupEndpoints(groupID string) []model.Endpoint {
	g, ok := m.group(groupID)
	if !ok {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]model.Endpoint, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.endpoints[id].snapshot())
	}
	return out
}

// Shutdown stops every background probe loop deterministically.
func (m *Manager) Shutdown() {
	close(m.stopCh)

	m.mu.RLock()
	for _, g := range m.groups {
		g.mu.RLock()
		for _, es := range g.endpoints {
			es.mu.RLock()
			stop := es.stopProbe
			es.mu.RUnlock()
			if stop != nil {
				close(stop)
			}
		}
		g.mu.RUnlock()
	}
	m.mu.RUnlock()

	m.wg.Wait()
}
