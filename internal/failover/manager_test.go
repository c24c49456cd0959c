package failover_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifo4ems/crl/internal/failover"
	"github.com/lifo4ems/crl/internal/model"
)

const fastProbe = 10 * time.Millisecond

func healthCheck() model.HealthCheckConfig {
	return model.HealthCheckConfig{
		Enabled: true,
		Interval: fastProbe,
		Timeout: 50 * time.Millisecond,
		SuccessThreshold: 1,
		FailureThreshold: 2,
	}
}

func waitHealthy(t *testing.T, m *failover.Manager, groupID, endpointID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ep, _, err := m.GetEndpointStatus(groupID, endpointID)
		return err == nil && ep.Status == model.StatusHealthy
	}, time.Second, fastProbe)
}

func TestRegisterEndpoint_BecomesHealthyViaProbe(t *testing.T) {
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) {
		return 1.5, nil
	}
	m := failover.New(failover.WithProbeFunc(probe))
	t.Cleanup(m.Shutdown)

	m.RegisterEndpoint(model.Endpoint{ID: "ep1", Type: model.EndpointPrimary, HealthCheck: healthCheck()}, "g1")
	waitHealthy(t, m, "g1", "ep1")
}

func TestExecuteWithFailover_FallsBackToSecondEndpoint(t *testing.T) {
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) {
		return 1, nil
	}
	m := failover.New(failover.WithProbeFunc(probe))
	t.Cleanup(m.Shutdown)

	m.RegisterEndpoint(model.Endpoint{ID: "primary", Type: model.EndpointPrimary, HealthCheck: healthCheck()}, "g1")
	m.RegisterEndpoint(model.Endpoint{ID: "secondary", Type: model.EndpointSecondary, HealthCheck: healthCheck()}, "g1")
	waitHealthy(t, m, "g1", "primary")
	waitHealthy(t, m, "g1", "secondary")

	m.SetPolicy("g1", model.FailoverPolicy{Mode: model.ModeActivePassive, MaxRetries: 3, RetryBackoffMs: 1, RetryBackoffMultiplier: 1})

	var calls int32
	err := m.ExecuteWithFailover(context.Background(), "g1", func(ep model.Endpoint) error {
		atomic.AddInt32(&calls, 1)
		if ep.ID == "primary" {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
	require.GreaterOrEqual(t, int(atomic.LoadInt32(&calls)), 2)

	active, ok := m.GetActiveEndpoint("g1")
	require.True(t, ok)
	require.Equal(t, "secondary", active.ID)
}

func TestExecuteWithFailover_ExhaustsRetries(t *testing.T) {
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) { return 1, nil }
	m := failover.New(failover.WithProbeFunc(probe))
	t.Cleanup(m.Shutdown)

	m.RegisterEndpoint(model.Endpoint{ID: "only", Type: model.EndpointPrimary, HealthCheck: healthCheck()}, "g1")
	waitHealthy(t, m, "g1", "only")
	m.SetPolicy("g1", model.FailoverPolicy{Mode: model.ModeActivePassive, MaxRetries: 2, RetryBackoffMs: 1, RetryBackoffMultiplier: 1})

	err := m.ExecuteWithFailover(context.Background(), "g1", func(ep model.Endpoint) error {
		return errors.New("always fails")
	})
	require.Error(t, err)
}

func TestExecuteWithFailover_UnknownGroup(t *testing.T) {
	m := failover.New()
	t.Cleanup(m.Shutdown)

	err := m.ExecuteWithFailover(context.Background(), "nope", func(ep model.Endpoint) error { return nil })
	require.Error(t, err)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) {
		if healthy.Load() {
			return 1, nil
		}
		return 0, errors.New("probe failed")
	}

	m := failover.New(failover.WithProbeFunc(probe))
	t.Cleanup(m.Shutdown)

	cfg := healthCheck()
	cfg.FailureThreshold = 1
	m.RegisterEndpoint(model.Endpoint{ID: "ep1", Type: model.EndpointPrimary, HealthCheck: cfg}, "g1")
	waitHealthy(t, m, "g1", "ep1")

	healthy.Store(false)
	require.Eventually(t, func() bool {
		_, state, err := m.GetEndpointStatus("g1", "ep1")
		return err == nil && state == failover.CircuitOpen
	}, time.Second, fastProbe)

	// The breaker's open cooldown is fixed at 30s, so a full
	// open->half-open->closed cycle takes at least that long.
	healthy.Store(true)
	require.Eventually(t, func() bool {
		_, state, err := m.GetEndpointStatus("g1", "ep1")
		return err == nil && state == failover.CircuitClosed
	}, 35*time.Second, 200*time.Millisecond)
}

func TestTriggerFailover_ManualTarget(t *testing.T) {
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) { return 1, nil }
	m := failover.New(failover.WithProbeFunc(probe))
	t.Cleanup(m.Shutdown)

	m.RegisterEndpoint(model.Endpoint{ID: "primary", Type: model.EndpointPrimary, HealthCheck: healthCheck()}, "g1")
	m.RegisterEndpoint(model.Endpoint{ID: "backup", Type: model.EndpointBackup, HealthCheck: healthCheck()}, "g1")
	waitHealthy(t, m, "g1", "primary")
	waitHealthy(t, m, "g1", "backup")

	ok := m.TriggerFailover("g1", "manual", "backup")
	require.True(t, ok)

	active, ok := m.GetActiveEndpoint("g1")
	require.True(t, ok)
	require.Equal(t, "backup", active.ID)
}

func TestLoadWeighted_PrefersLowerPriorityEndpointAtEqualLoad(t *testing.T) {
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) { return 1, nil }
	m := failover.New(failover.WithProbeFunc(probe))
	t.Cleanup(m.Shutdown)

	m.RegisterEndpoint(model.Endpoint{ID: "primary", Type: model.EndpointPrimary, HealthCheck: healthCheck()}, "g1")
	m.RegisterEndpoint(model.Endpoint{ID: "backup", Type: model.EndpointBackup, HealthCheck: healthCheck()}, "g1")
	waitHealthy(t, m, "g1", "primary")
	waitHealthy(t, m, "g1", "backup")

	m.SetPolicy("g1", model.FailoverPolicy{Mode: model.ModeLoadWeighted, MaxRetries: 1})

	visits := make(map[string]int)
	for i := 0; i < 5; i++ {
		err := m.ExecuteWithFailover(context.Background(), "g1", func(ep model.Endpoint) error {
			visits[ep.ID]++
			return nil
		})
		require.NoError(t, err)
	}

	require.Equal(t, 5, visits["primary"])
	require.Zero(t, visits["backup"])
}

func TestGetGroupEndpoints_ReturnsRegistrationOrder(t *testing.T) {
	m := failover.New()
	t.Cleanup(m.Shutdown)

	m.RegisterEndpoint(model.Endpoint{ID: "a", Type: model.EndpointPrimary}, "g1")
	m.RegisterEndpoint(model.Endpoint{ID: "b", Type: model.EndpointSecondary}, "g1")

	eps := m.GetGroupEndpoints("g1")
	require.Len(t, eps, 2)
	require.Equal(t, "a", eps[0].ID)
	require.Equal(t, "b", eps[1].ID)
}
