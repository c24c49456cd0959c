package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/lifo4ems/crl/internal/config"
	"github.com/lifo4ems/crl/internal/orchestrator"

	"github.com/lifo4ems/crl/infra/server/httpapi"
)

func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// NewApp assembles the resilience layer as an fx.App: config load (with
// a change watcher that logs), the Orchestrator, and the telemetry HTTP
// surface.
func NewApp() *fx.App {
	return fx.New(
		fx.Provide(ProvideLogger),
		config.Module,
		orchestrator.Module,
		httpapi.Module,
		fx.Invoke(wireTransports),
	)
}
