// Package orchestrator implements the ResilienceOrchestrator: the
// façade that ties MessageBuffer, CompressionService, and FailoverManager
// together behind a single connection-state machine and a send path.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lifo4ems/crl/internal/buffer"
	"github.com/lifo4ems/crl/internal/compression"
	"github.com/lifo4ems/crl/internal/crlerrors"
	"github.com/lifo4ems/crl/internal/event"
	"github.com/lifo4ems/crl/internal/failover"
	"github.com/lifo4ems/crl/internal/model"
)

// Orchestrator is the ResilienceOrchestrator.
type Orchestrator struct {
	cfg Config
	logger *slog.Logger
	bus event.Bus

	buf *buffer.MessageBuffer
	compress *compression.Service
	failover *failover.Manager

	mu sync.RWMutex
	state model.ConnectionState
	sendFn SendFunc
	reconnectAttempts int
	reconnectGen uint64
	disconnectedAt time.Time

	stopCh chan struct{}
	wg sync.WaitGroup
}

// New constructs an Orchestrator. Components not supplied via WithBuffer/
// WithCompression/WithFailover are built with their own defaults.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg: DefaultConfig(),
		logger: slog.Default(),
		bus: event.NewBus(nil),
		state: model.StateDisconnected,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.buf == nil {
		o.buf = buffer.New(buffer.WithLogger(o.logger), buffer.WithBus(o.bus))
	}
	if o.compress == nil {
		o.compress = compression.New(o.logger)
	}
	if o.failover == nil {
		o.failover = failover.New(failover.WithLogger(o.logger), failover.WithBus(o.bus))
	}
	return o
}

func (o *Orchestrator) emit(ev event.Event) {
	if o.bus != nil {
		ev.At = time.Now()
		o.bus.Publish(ev)
	}
}

// Initialize binds the transport callback used by Send/SendCommand/
// SendTelemetry. Calling Send before Initialize fails immediately with
// ErrNotInitialized.
func (o *Orchestrator) Initialize(sendFn SendFunc) error {
	if sendFn == nil {
		return crlerrors.ErrNotInitialized
	}
	o.mu.Lock()
	o.sendFn = sendFn
	o.mu.Unlock()
	return nil
}

// RegisterEndpoint is a convenience wrapper around the failover
// manager's RegisterEndpoint: it fills in the health-check defaults and
// the type's default priority.
func (o *Orchestrator) RegisterEndpoint(id, name, url string, typ model.EndpointType, groupID string) model.Endpoint {
	ep := model.Endpoint{
		ID: id,
		Name: name,
		URL: url,
		Type: typ,
		Priority: typ.DefaultPriority(),
		HealthCheck: model.HealthCheckConfig{
			Enabled: true,
			Interval: 10 * time.Second,
			Timeout: 3 * time.Second,
			SuccessThreshold: 2,
			FailureThreshold: 3,
			Method: model.ProbeTCP,
		},
	}
	o.failover.RegisterEndpoint(ep, groupID)
	return ep
}

// SetFailoverPolicy replaces a group's selection/retry policy.
func (o *Orchestrator) SetFailoverPolicy(groupID string, policy model.FailoverPolicy) {
	o.failover.SetPolicy(groupID, policy)
}

func (o *Orchestrator) currentState() model.ConnectionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// UpdateNetworkConditions forwards the observation to the compression
// service for adaptive algorithm selection, and drives the one-way
// CONNECTED -> DEGRADED transition: once a link drops below the
// configured bandwidth floor it is considered DEGRADED until the next
// explicit OnConnected/OnDisconnected call — degradation never
// auto-clears on a later good sample.
func (o *Orchestrator) UpdateNetworkConditions(bandwidthKbps, latencyMs float64) {
	o.compress.UpdateNetworkConditions(bandwidthKbps, latencyMs)

	if bandwidthKbps >= o.cfg.DegradedBandwidthKbps {
		return
	}

	o.mu.Lock()
	shouldEmit := o.state == model.StateConnected
	if o.state == model.StateConnected {
		o.state = model.StateDegraded
	}
	o.mu.Unlock()

	if shouldEmit {
		o.emit(event.Event{Kind: event.Degraded, Extra: map[string]any{"bandwidthKbps": bandwidthKbps}})
	}
}

// Health is a point-in-time snapshot returned by GetHealth.
type Health struct {
	State model.ConnectionState
	ActiveEndpoint *model.Endpoint
}

// GetHealth reports the connection state machine's current value plus,
// when groupID is non-empty, that group's active endpoint.
func (o *Orchestrator) GetHealth(groupID string) Health {
	h := Health{State: o.currentState()}
	if groupID == "" {
		return h
	}
	if ep, ok := o.failover.GetActiveEndpoint(groupID); ok {
		h.ActiveEndpoint = &ep
	}
	return h
}

// GetBufferStats returns the MessageBuffer's current counters.
func (o *Orchestrator) GetBufferStats() buffer.Stats {
	return o.buf.GetStats()
}

// GetCompressionStats returns the CompressionService's per-algorithm
// counters.
func (o *Orchestrator) GetCompressionStats() map[compression.Algorithm]compression.AlgorithmStats {
	return o.compress.GetStats()
}

// GetEndpointsStatus returns every endpoint registered in groupID.
func (o *Orchestrator) GetEndpointsStatus(groupID string) []model.Endpoint {
	return o.failover.GetGroupEndpoints(groupID)
}

// TriggerFailover manually forces groupID onto targetID (or the next
// healthy candidate if targetID is empty).
func (o *Orchestrator) TriggerFailover(groupID, targetID string) bool {
	return o.failover.TriggerFailover(groupID, "manual", targetID)
}

// PersistBuffer spills the buffer's current residents to disk.
func (o *Orchestrator) PersistBuffer() (string, error) {
	return o.buf.PersistToDisk()
}

// LoadBuffer restores a file written by PersistBuffer.
func (o *Orchestrator) LoadBuffer(path string) (int, error) {
	return o.buf.LoadFromDisk(path)
}

// Shutdown stops every background loop (buffer sweep, failover probes,
// the orchestrator's own reconnect loop) deterministically.
func (o *Orchestrator) Shutdown() {
	close(o.stopCh)
	o.wg.Wait()
	o.failover.Shutdown()
	o.buf.Shutdown()
}

// sendTimeout bounds a single Send's failover attempt window; generous
// enough to cover MaxRetries backoff at the policy's default cap.
const sendTimeout = 30 * time.Second

func (o *Orchestrator) sendContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sendTimeout)
}
