package orchestrator

import (
	"context"

	"go.uber.org/fx"

	"github.com/lifo4ems/crl/internal/config"
)

// Module provides an Orchestrator built from the loaded Config, and
// ties its Shutdown into the fx lifecycle.
var Module = fx.Module("orchestrator",
	fx.Provide(NewFromConfig),

	fx.Invoke(func(lc fx.Lifecycle, o *Orchestrator) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				o.Shutdown()
				return nil
			},
		})
	}),
)

// NewFromConfig adapts the loaded *config.Config into orchestrator
// Options — the fx-provided constructor used by Module.
func NewFromConfig(cfg *config.Config) *Orchestrator {
	oc := DefaultConfig()
	oc.BufferWhenOffline = cfg.Orchestrator.BufferWhenOffline
	oc.FlushOnReconnect = cfg.Orchestrator.FlushOnReconnect
	oc.ReconnectInterval = cfg.Orchestrator.ReconnectInterval
	oc.MaxReconnectAttempts = cfg.Orchestrator.MaxReconnectAttempts
	oc.OfflineGracePeriod = cfg.Orchestrator.OfflineGracePeriod
	oc.DegradedBandwidthKbps = cfg.Orchestrator.DegradedBandwidthKbps

	return New(WithConfig(oc))
}
