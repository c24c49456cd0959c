package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/fx"
)

// Module provides the telemetry Server and starts/stops its listener
// alongside the rest of the fx app.
var Module = fx.Module("httpapi",
	fx.Provide(New),

	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		srv := &http.Server{Addr: ":9090", Handler: s.Router()}

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go srv.ListenAndServe()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
