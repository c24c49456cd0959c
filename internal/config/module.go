package config

import (
	"log/slog"

	"go.uber.org/fx"
)

// Module provides the loaded *Config and watches its file: a config
// file change is logged as CONFIG_RELOADED. The provided *Config is not
// updated on change, so new values take effect only after a restart.
var Module = fx.Module("config",
	fx.Provide(func(logger *slog.Logger) (*Config, error) {
		return Load(func() {
			logger.Info("CONFIG_RELOADED")
		})
	}),
)
