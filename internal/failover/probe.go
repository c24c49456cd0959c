package failover

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifo4ems/crl/internal/model"
)

// ProbeFunc performs one health check against ep and returns the
// observed latency on success. It must respect ctx's deadline
// (healthCheck.timeoutMs).
type ProbeFunc func(ctx context.Context, ep model.Endpoint) (latencyMs float64, err error)

// startProbeLoop launches the per-endpoint ticker that drives the
// endpoint's health probe. It is a no-op if the endpoint's HealthCheck is
// disabled or the manager has no ProbeFunc configured.
func (m *Manager) startProbeLoop(groupID string, es *endpointState) {
	es.mu.RLock()
	cfg := es.endpoint.HealthCheck
	es.mu.RUnlock()

	if !cfg.Enabled || m.probeFn == nil {
		return
	}

	stop := make(chan struct{})
	es.mu.Lock()
	es.stopProbe = stop
	es.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		interval := cfg.Interval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-stop:
				return
			case <-ticker.C:
				m.runProbe(groupID, es, cfg)
			}
		}
	}()
}

func (m *Manager) runProbe(groupID string, es *endpointState, cfg model.HealthCheckConfig) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ep := es.snapshot()
	latencyMs, err := m.probeFn(ctx, ep)

	m.recordOutcome(groupID, es, cfg, err == nil, err, latencyMs)
}

// recordOutcome applies a health observation — whether it came from an
// internal probe or a caller-driven ReportSuccess/ReportFailure — to
// es's counters, status, circuit breaker, and failback check, so both
// paths have identical state-machine effects.
func (m *Manager) recordOutcome(groupID string, es *endpointState, cfg model.HealthCheckConfig, success bool, err error, latencyMs float64) {
	now := time.Now()
	es.mu.Lock()
	epID := es.endpoint.ID
	es.endpoint.LastCheckAt = now
	if success {
		if latencyMs > 0 {
			es.endpoint.LatencyMs = latencyMs
		}
		es.endpoint.LastSuccessAt = now
		es.endpoint.SuccessCount++
		es.consecutiveProbeSuccesses++
		es.consecutiveProbeFailures = 0
	} else {
		es.endpoint.LastFailureAt = now
		es.endpoint.FailureCount++
		es.consecutiveProbeFailures++
		es.consecutiveProbeSuccesses = 0
	}
	prevStatus := es.endpoint.Status
	newStatus := nextHealthStatus(prevStatus, es, cfg, latencyMs, es.latency.Mean())
	es.endpoint.Status = newStatus
	if newStatus == model.StatusHealthy && prevStatus != model.StatusHealthy {
		es.healthySince = now.UnixNano()
	} else if newStatus != model.StatusHealthy {
		es.healthySince = 0
	}
	es.mu.Unlock()

	if success && latencyMs > 0 {
		es.latency.Observe(latencyMs)
	}

	if newStatus != prevStatus {
		m.emitHealthChanged(groupID, epID, prevStatus, newStatus)
	}

	es.breaker.Signal(success, err)
	m.maybeFailback(groupID)
}

// nextHealthStatus implements the probe-driven status
// transitions: k1 consecutive successes -> HEALTHY, k2 consecutive
// failures -> UNHEALTHY, a single failure followed by a markedly slow
// success (>2x the running mean) lands on DEGRADED instead of snapping
// straight back to HEALTHY.
func nextHealthStatus(prev model.HealthStatus, es *endpointState, cfg model.HealthCheckConfig, latestLatencyMs, meanLatencyMs float64) model.HealthStatus {
	k1 := cfg.SuccessThreshold
	if k1 <= 0 {
		k1 = 1
	}
	k2 := cfg.FailureThreshold
	if k2 <= 0 {
		k2 = 1
	}

	if es.consecutiveProbeFailures >= k2 {
		return model.StatusUnhealthy
	}
	if es.consecutiveProbeSuccesses >= k1 {
		if (prev == model.StatusDegraded || prev == model.StatusUnhealthy) && meanLatencyMs > 0 && latestLatencyMs > 2*meanLatencyMs {
			return model.StatusDegraded
		}
		return model.StatusHealthy
	}
	if es.consecutiveProbeFailures > 0 {
		return model.StatusDegraded
	}
	return prev
}

// ProbeGroupOnce fans a single probe round out across every endpoint in
// groupID concurrently via an errgroup, refreshing every endpoint's
// health state immediately rather than waiting for its own ticker.
// This is the orchestrator's reconnect loop's way of "pinging the
// FailoverManager to trigger a failover attempt": a probe round
// followed by TriggerFailover picks up a newly-healthy endpoint without
// waiting out the full per-endpoint probe interval.
func (m *Manager) ProbeGroupOnce(ctx context.Context, groupID string) error {
	g, ok := m.group(groupID)
	if !ok {
		return nil
	}

	g.mu.RLock()
	states := make([]*endpointState, 0, len(g.endpoints))
	for _, es := range g.endpoints {
		states = append(states, es)
	}
	g.mu.RUnlock()

	eg, _ := errgroup.WithContext(ctx)
	for _, es := range states {
		es := es
		eg.Go(func() error {
				es.mu.RLock()
				cfg := es.endpoint.HealthCheck
				es.mu.RUnlock()
				if cfg.Enabled && m.probeFn != nil {
					m.runProbe(groupID, es, cfg)
				}
				return nil
		})
	}
	return eg.Wait()
}
