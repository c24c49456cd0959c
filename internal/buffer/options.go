package buffer

import (
	"log/slog"
	"time"

	"github.com/lifo4ems/crl/internal/event"
)

// Config holds the MessageBuffer's tunables.
type Config struct {
	MaxMemorySize int
	MaxDiskSize int
	PersistPath string
	CompressOnPersist bool
	MaxMessageAge time.Duration
	FlushInterval time.Duration

	// SweepInterval is the cadence of the expiry sweep / disk pruning
	// tick; fixes it at 60s but exposes it here for tests.
	SweepInterval time.Duration
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemorySize: 50 * 1024 * 1024,
		MaxDiskSize: 100 * 1024 * 1024,
		PersistPath: "./crl-buffer",
		CompressOnPersist: true,
		MaxMessageAge: 24 * time.Hour,
		FlushInterval: 30 * time.Second,
		SweepInterval: 60 * time.Second,
	}
}

// Option mutates a MessageBuffer at construction time.
type Option func(*MessageBuffer)

func WithConfig(cfg Config) Option {
	return func(b *MessageBuffer) { b.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *MessageBuffer) { b.logger = l }
}

func WithBus(bus event.Bus) Option {
	return func(b *MessageBuffer) { b.bus = bus }
}
