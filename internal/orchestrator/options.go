package orchestrator

import (
	"log/slog"
	"time"

	"github.com/lifo4ems/crl/internal/buffer"
	"github.com/lifo4ems/crl/internal/compression"
	"github.com/lifo4ems/crl/internal/event"
	"github.com/lifo4ems/crl/internal/failover"
	"github.com/lifo4ems/crl/internal/model"
)

// Config holds the orchestrator's own tunables — the buffer,
// compression, and failover components carry their own Config/Option
// sets and are supplied pre-built.
type Config struct {
	BufferWhenOffline bool
	FlushOnReconnect  bool

	ReconnectInterval   time.Duration
	MaxReconnectAttempts int
	OfflineGracePeriod  time.Duration

	DegradedBandwidthKbps float64

	DefaultGroupID string
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		BufferWhenOffline:     true,
		FlushOnReconnect:      true,
		ReconnectInterval:     5 * time.Second,
		MaxReconnectAttempts:  10,
		OfflineGracePeriod:    60 * time.Second,
		DegradedBandwidthKbps: 50,
		DefaultGroupID:        "default",
	}
}

// SendFunc is the transport callback an Orchestrator was initialized
// with: the bytes handed in are already compressed, if applicable.
type SendFunc func(ep model.Endpoint, payload []byte) error

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithBus(b event.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

func WithBuffer(b *buffer.MessageBuffer) Option {
	return func(o *Orchestrator) { o.buf = b }
}

func WithCompression(c *compression.Service) Option {
	return func(o *Orchestrator) { o.compress = c }
}

func WithFailover(f *failover.Manager) Option {
	return func(o *Orchestrator) { o.failover = f }
}
