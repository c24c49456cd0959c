package orchestrator_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifo4ems/crl/internal/buffer"
	"github.com/lifo4ems/crl/internal/failover"
	"github.com/lifo4ems/crl/internal/model"
	"github.com/lifo4ems/crl/internal/orchestrator"
)

func healthCheck() model.HealthCheckConfig {
	return model.HealthCheckConfig{
		Enabled: true,
		Interval: 10 * time.Millisecond,
		Timeout: 50 * time.Millisecond,
		SuccessThreshold: 1,
		FailureThreshold: 2,
	}
}

func newConnectedOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) { return 1, nil }
	fm := failover.New(failover.WithProbeFunc(probe))

	o := orchestrator.New(orchestrator.WithFailover(fm))
	t.Cleanup(o.Shutdown)

	// Registered on the failover manager directly so the endpoint is probed
	// at healthCheck()'s fast interval rather than RegisterEndpoint's 10s.
	fm.RegisterEndpoint(model.Endpoint{ID: "ep1", Name: "primary", URL: "tcp://host", Type: model.EndpointPrimary, HealthCheck: healthCheck()}, "default")
	require.Eventually(t, func() bool {
		eps := o.GetEndpointsStatus("default")
		return len(eps) == 1 && eps[0].Status == model.StatusHealthy
	}, time.Second, 10*time.Millisecond)

	o.OnConnected("ep1")
	return o
}

func TestSend_BeforeInitializeFails(t *testing.T) {
	o := orchestrator.New()
	t.Cleanup(o.Shutdown)

	result := o.Send("topic", []byte("x"), model.SendOptions{})
	require.False(t, result.Success)
	require.Error(t, result.Error)
}

func TestSend_WhileDisconnectedBuffers(t *testing.T) {
	o := orchestrator.New()
	t.Cleanup(o.Shutdown)
	require.NoError(t, o.Initialize(func(ep model.Endpoint, payload []byte) error { return nil }))

	result := o.Send("topic", []byte("payload"), model.SendOptions{Priority: model.PriorityNormal})
	require.True(t, result.Success)
	require.True(t, result.Buffered)

	stats := o.GetBufferStats()
	require.Equal(t, 1, stats.Count)
}

func TestSend_WhileConnectedDeliversDirectly(t *testing.T) {
	o := newConnectedOrchestrator(t)

	var delivered atomic.Bool
	require.NoError(t, o.Initialize(func(ep model.Endpoint, payload []byte) error {
		delivered.Store(true)
		return nil
	}))

	result := o.Send("topic", []byte("payload"), model.SendOptions{Priority: model.PriorityNormal, GroupID: "default"})
	require.True(t, result.Success)
	require.False(t, result.Buffered)
	require.True(t, delivered.Load())
}

func TestSend_RetriesExhaustedFallsBackToBuffer(t *testing.T) {
	o := newConnectedOrchestrator(t)
	require.NoError(t, o.Initialize(func(ep model.Endpoint, payload []byte) error {
		return errors.New("unreachable")
	}))
	o.SetFailoverPolicy("default", model.FailoverPolicy{
		Mode: model.ModeActivePassive, MaxRetries: 2, RetryBackoffMs: 1, RetryBackoffMultiplier: 1,
	})

	// Retries exhausted falls back to buffering rather than dropping the
	// message outright: Success reflects that the caller has nothing
	// further to do, Error still carries why the live send failed.
	result := o.Send("topic", []byte("payload"), model.SendOptions{Priority: model.PriorityNormal, GroupID: "default"})
	require.True(t, result.Success)
	require.True(t, result.Buffered)
	require.Error(t, result.Error)
}

func TestSendCommand_UsesCriticalPriorityAndFiveRetries(t *testing.T) {
	buf := buffer.New()
	o := orchestrator.New(orchestrator.WithBuffer(buf))
	t.Cleanup(o.Shutdown)
	require.NoError(t, o.Initialize(func(ep model.Endpoint, payload []byte) error { return nil }))

	result := o.SendCommand("cmd", []byte("x"), "")
	require.True(t, result.Success)
	require.True(t, result.Buffered)

	msgs := o.GetBufferStats()
	require.Equal(t, 1, msgs.CountByPriority["CRITICAL"])

	queued := buf.GetByPriority(model.PriorityCritical, 0)
	require.Len(t, queued, 1)
	require.Equal(t, 5, queued[0].MaxRetries)
}

func TestSendTelemetry_SetsExpiry(t *testing.T) {
	buf := buffer.New()
	o := orchestrator.New(orchestrator.WithBuffer(buf))
	t.Cleanup(o.Shutdown)
	require.NoError(t, o.Initialize(func(ep model.Endpoint, payload []byte) error { return nil }))

	result := o.SendTelemetry("telemetry", []byte("x"), "")
	require.True(t, result.Success)
	require.True(t, result.Buffered)

	queued := buf.GetByTopic("telemetry", 0)
	require.Len(t, queued, 1)
	require.NotNil(t, queued[0].ExpiresAt)
	require.WithinDuration(t, time.Now().Add(60*time.Second), *queued[0].ExpiresAt, 5*time.Second)
}

func TestOnConnected_FlushesBufferedMessages(t *testing.T) {
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) { return 1, nil }
	fm := failover.New(failover.WithProbeFunc(probe))
	o := orchestrator.New(orchestrator.WithFailover(fm))
	t.Cleanup(o.Shutdown)

	// Registered on the failover manager directly so the endpoint is probed
	// at healthCheck()'s fast interval rather than RegisterEndpoint's 10s.
	fm.RegisterEndpoint(model.Endpoint{ID: "ep1", Name: "primary", URL: "tcp://host", Type: model.EndpointPrimary, HealthCheck: healthCheck()}, "default")
	require.Eventually(t, func() bool {
		eps := o.GetEndpointsStatus("default")
		return len(eps) == 1 && eps[0].Status == model.StatusHealthy
	}, time.Second, 10*time.Millisecond)

	var delivered atomic.Int32
	require.NoError(t, o.Initialize(func(ep model.Endpoint, payload []byte) error {
		delivered.Add(1)
		return nil
	}))

	result := o.Send("topic", []byte("buffered"), model.SendOptions{Priority: model.PriorityNormal})
	require.True(t, result.Buffered)

	o.OnConnected("ep1")

	require.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOnDisconnected_ThenOnConnected_Reconnects(t *testing.T) {
	o := orchestrator.New()
	t.Cleanup(o.Shutdown)

	o.OnConnected("ep1")
	require.Equal(t, model.StateConnected, o.GetHealth("").State)

	o.OnDisconnected("ep1", errors.New("link down"))
	require.Equal(t, model.StateDisconnected, o.GetHealth("").State)

	o.OnConnected("ep1")
	require.Equal(t, model.StateConnected, o.GetHealth("").State)
}

func TestUpdateNetworkConditions_DegradesBelowBandwidthFloor(t *testing.T) {
	o := orchestrator.New()
	t.Cleanup(o.Shutdown)

	o.OnConnected("ep1")
	o.UpdateNetworkConditions(10, 200)

	require.Equal(t, model.StateDegraded, o.GetHealth("").State)
}

func TestFlushBuffer_StopsOnFirstFailure(t *testing.T) {
	probe := func(ctx context.Context, ep model.Endpoint) (float64, error) { return 1, nil }
	fm := failover.New(failover.WithProbeFunc(probe))
	cfg := orchestrator.DefaultConfig()
	cfg.FlushOnReconnect = false
	o := orchestrator.New(orchestrator.WithFailover(fm), orchestrator.WithConfig(cfg))
	t.Cleanup(o.Shutdown)

	// Registered on the failover manager directly so the endpoint is probed
	// at healthCheck()'s fast interval rather than RegisterEndpoint's 10s.
	fm.RegisterEndpoint(model.Endpoint{ID: "ep1", Name: "primary", URL: "tcp://host", Type: model.EndpointPrimary, HealthCheck: healthCheck()}, "default")
	require.Eventually(t, func() bool {
		eps := o.GetEndpointsStatus("default")
		return len(eps) == 1 && eps[0].Status == model.StatusHealthy
	}, time.Second, 10*time.Millisecond)

	var calls atomic.Int32
	require.NoError(t, o.Initialize(func(ep model.Endpoint, payload []byte) error {
		n := calls.Add(1)
		if n == 2 {
			return errors.New("transient")
		}
		return nil
	}))
	o.SetFailoverPolicy("default", model.FailoverPolicy{Mode: model.ModeActivePassive, MaxRetries: 1})

	// Buffer three messages while still disconnected, then flip to
	// CONNECTED (with auto-flush disabled) so FlushBuffer has a known,
	// ordered queue to drain deterministically.
	for i := 0; i < 3; i++ {
		r := o.Send("topic", []byte("x"), model.SendOptions{Priority: model.PriorityNormal})
		require.True(t, r.Success)
		require.True(t, r.Buffered)
	}
	o.OnConnected("ep1")

	flushed, err := o.FlushBuffer()
	require.Error(t, err)
	require.Equal(t, 1, flushed)

	stats := o.GetBufferStats()
	require.Equal(t, 2, stats.Count)
}
