package orchestrator

import (
	"context"
	"time"

	"github.com/lifo4ems/crl/internal/event"
	"github.com/lifo4ems/crl/internal/model"
)

// OnConnected transitions the orchestrator to CONNECTED, cancels any
// in-flight reconnect loop, resets the attempt counter, and — when
// flushOnReconnect is set and this wasn't already a no-op call — kicks
// off a background FlushBuffer so queued messages drain as soon as the
// link is back.
func (o *Orchestrator) OnConnected(endpointID string) {
	o.mu.Lock()
	prev := o.state
	o.state = model.StateConnected
	o.reconnectAttempts = 0
	o.reconnectGen++
	o.mu.Unlock()

	if prev == model.StateConnected {
		return
	}

	o.emit(event.Event{Kind: event.Connected, EndpointID: endpointID})

	if o.cfg.FlushOnReconnect {
		go func() {
			if _, err := o.FlushBuffer(); err != nil {
				o.logger.Error("ORCHESTRATOR_FLUSH_ON_RECONNECT_FAILED", "err", err)
			}
		}()
	}
}

// OnDisconnected transitions out of CONNECTED/DEGRADED into
// DISCONNECTED, emits a disconnected event, and starts the reconnect
// loop: on each elapsed reconnectInterval it pings the FailoverManager
// (a probe round followed by TriggerFailover) to attempt recovery onto
// a newly-healthy endpoint, emits RECONNECTING up to
// maxReconnectAttempts, and transitions to OFFLINE (ending the loop)
// either when that ceiling is hit (firing MaxReconnectReached first) or
// once offlineGracePeriod has elapsed since the disconnect with no
// successful recovery. A call while
// already OFFLINE is a no-op — the grace period has already run its
// course.
func (o *Orchestrator) OnDisconnected(endpointID string, cause error) {
	o.mu.Lock()
	if o.state == model.StateOffline {
		o.mu.Unlock()
		return
	}
	o.state = model.StateDisconnected
	o.disconnectedAt = time.Now()
	o.reconnectAttempts = 0
	o.reconnectGen++
	gen := o.reconnectGen
	o.mu.Unlock()

	o.emit(event.Event{Kind: event.Disconnected, EndpointID: endpointID, Err: cause})

	o.wg.Add(1)
	go o.reconnectLoop(gen, endpointID)
}

func (o *Orchestrator) reconnectLoop(gen uint64, endpointID string) {
	defer o.wg.Done()

	interval := o.cfg.ReconnectInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(o.cfg.OfflineGracePeriod)
	maxAttempts := o.cfg.MaxReconnectAttempts
	groupID := o.cfg.DefaultGroupID

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.mu.Lock()
			if o.reconnectGen != gen || o.state == model.StateConnected {
				o.mu.Unlock()
				return
			}
			o.reconnectAttempts++
			attempts := o.reconnectAttempts
			o.state = model.StateReconnecting
			o.mu.Unlock()

			o.emit(event.Event{Kind: event.Reconnecting, EndpointID: endpointID, Count: attempts})

			if o.failover != nil {
				probeCtx, cancel := context.WithTimeout(context.Background(), interval)
				_ = o.failover.ProbeGroupOnce(probeCtx, groupID)
				cancel()

				if o.failover.TriggerFailover(groupID, "reconnect_probe", "") {
					if ep, ok := o.failover.GetActiveEndpoint(groupID); ok {
						o.OnConnected(ep.ID)
						return
					}
				}
			}

			ceiling := maxAttempts > 0 && attempts >= maxAttempts
			if ceiling {
				o.emit(event.Event{Kind: event.MaxReconnectReached, EndpointID: endpointID, Count: attempts})
			}

			if ceiling || time.Now().After(deadline) {
				o.mu.Lock()
				wentOffline := o.reconnectGen == gen && o.state != model.StateConnected
				if wentOffline {
					o.state = model.StateOffline
				}
				o.mu.Unlock()
				if wentOffline {
					o.emit(event.Event{Kind: event.Offline, EndpointID: endpointID})
				}
				return
			}
		}
	}
}
