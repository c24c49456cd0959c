// Package config loads and live-reloads the tunables behind
// MessageBuffer, CompressionService, FailoverManager, and the
// ResilienceOrchestrator's connection-state machine.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const DefaultFileWriteDelay = 150 * time.Millisecond

var (
	lastReload time.Time
	reloadMu sync.Mutex
)

// BufferConfig mirrors buffer.Config's keys so they can be set from a
// file/env without internal/config importing internal/buffer.
type BufferConfig struct {
	MaxMemorySize int `mapstructure:"maxMemorySize"`
	MaxDiskSize int `mapstructure:"maxDiskSize"`
	PersistPath string `mapstructure:"persistPath"`
	CompressOnPersist bool `mapstructure:"compressOnPersist"`
	MaxMessageAge time.Duration `mapstructure:"maxMessageAge"`
	FlushInterval time.Duration `mapstructure:"flushInterval"`
}

// CompressionConfig mirrors compression.AdaptiveThresholds plus the two
// orchestrator-level gates (compressMessages/compressionThreshold).
type CompressionConfig struct {
	Enabled bool `mapstructure:"compressMessages"`
	Threshold int `mapstructure:"compressionThreshold"`
	SmallPayloadBytes int `mapstructure:"smallPayloadBytes"`
	FastBandwidthKbps float64 `mapstructure:"fastBandwidthKbps"`
	FastBandwidthMaxBytes int `mapstructure:"fastBandwidthMaxBytes"`
	SlowBandwidthKbps float64 `mapstructure:"slowBandwidthKbps"`
	MediumBandwidthKbps float64 `mapstructure:"mediumBandwidthKbps"`
	MinUsefulRatio float64 `mapstructure:"minUsefulRatio"`
}

// HealthCheckConfig mirrors model.HealthCheckConfig in wire-friendly form.
type HealthCheckConfig struct {
	IntervalMs int `mapstructure:"intervalMs"`
	TimeoutMs int `mapstructure:"timeoutMs"`
	SuccessThreshold int `mapstructure:"successThreshold"`
	FailureThreshold int `mapstructure:"failureThreshold"`
	Method string `mapstructure:"method"`
}

// FailoverPolicyConfig mirrors model.FailoverPolicy in wire-friendly form.
type FailoverPolicyConfig struct {
	Mode string `mapstructure:"mode"`
	MaxRetries int `mapstructure:"maxRetries"`
	RetryBackoffMs int `mapstructure:"retryBackoffMs"`
	RetryBackoffMultiplier float64 `mapstructure:"retryBackoffMultiplier"`
	RetryBackoffCapMs int `mapstructure:"retryBackoffCapMs"`
	FailbackEnabled bool `mapstructure:"failbackEnabled"`
	FailbackStabilityMs int `mapstructure:"failbackStabilityMs"`
}

// OrchestratorConfig covers the connection-state machine's tunables.
type OrchestratorConfig struct {
	AutoReconnect bool `mapstructure:"autoReconnect"`
	ReconnectInterval time.Duration `mapstructure:"reconnectInterval"`
	MaxReconnectAttempts int `mapstructure:"maxReconnectAttempts"`
	OfflineGracePeriod time.Duration `mapstructure:"offlineGracePeriod"`
	BufferWhenOffline bool `mapstructure:"bufferWhenOffline"`
	PrioritizeCommands bool `mapstructure:"prioritizeCommands"`
	FlushOnReconnect bool `mapstructure:"flushOnReconnect"`
	DegradedBandwidthKbps float64 `mapstructure:"degradedBandwidthKbps"`
}

// EndpointConfig declares one sample-transport target for the demo
// daemon to register with the failover manager at startup.
type EndpointConfig struct {
	ID string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	URL string `mapstructure:"url"`
	Type string `mapstructure:"type"` // primary | secondary | tertiary | backup
	GroupID string `mapstructure:"groupId"`
	Transport string `mapstructure:"transport"` // ws | amqp | grpc
}

// Config is the top-level, file/env-loadable configuration tree.
type Config struct {
	Buffer BufferConfig `mapstructure:"buffer"`
	Compression CompressionConfig `mapstructure:"compression"`
	HealthCheck HealthCheckConfig `mapstructure:"healthCheck"`
	FailoverPolicy FailoverPolicyConfig `mapstructure:"failoverPolicy"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
	AMQPURI string `mapstructure:"amqpUri"`
}

// DefaultConfig returns every documented default value.
func DefaultConfig() *Config {
	return &Config{
		Buffer: BufferConfig{
			MaxMemorySize: 50 * 1024 * 1024,
			MaxDiskSize: 100 * 1024 * 1024,
			PersistPath: "./crl-buffer",
			CompressOnPersist: true,
			MaxMessageAge: 24 * time.Hour,
			FlushInterval: 30 * time.Second,
		},
		Compression: CompressionConfig{
			Enabled: true,
			Threshold: 100,
			SmallPayloadBytes: 100,
			FastBandwidthKbps: 1000,
			FastBandwidthMaxBytes: 10 * 1024,
			SlowBandwidthKbps: 100,
			MediumBandwidthKbps: 500,
			MinUsefulRatio: 0.95,
		},
		HealthCheck: HealthCheckConfig{
			IntervalMs: 10_000,
			TimeoutMs: 3_000,
			SuccessThreshold: 2,
			FailureThreshold: 3,
			Method: "tcp",
		},
		FailoverPolicy: FailoverPolicyConfig{
			Mode: "ACTIVE_PASSIVE",
			MaxRetries: 3,
			RetryBackoffMs: 200,
			RetryBackoffMultiplier: 2.0,
			RetryBackoffCapMs: 10_000,
			FailbackEnabled: false,
			FailbackStabilityMs: 30_000,
		},
		Orchestrator: OrchestratorConfig{
			AutoReconnect: true,
			ReconnectInterval: 5 * time.Second,
			MaxReconnectAttempts: 10,
			OfflineGracePeriod: 60 * time.Second,
			BufferWhenOffline: true,
			PrioritizeCommands: true,
			FlushOnReconnect: true,
			DegradedBandwidthKbps: 50,
		},
	}
}

// Load reads crl.yaml from the working directory or ./config, overlays
// CRL_-prefixed environment variables, and — if onConfigChange is
// non-nil — watches the file for changes and fires the callback on
// every save (debounced 500ms, same as the watched-config idiom this
// loader generalizes). persistPath is not live-tunable: change it and
// restart.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("crl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("CRL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Register every key as a default so AutomaticEnv overrides are seen
	// by Unmarshal even when no config file is present.
	var registerDefaults func(prefix string, v reflect.Value)
	registerDefaults = func(prefix string, v reflect.Value) {
		for i := 0; i < v.NumField(); i++ {
			key := prefix + v.Type().Field(i).Tag.Get("mapstructure")
			if f := v.Field(i); f.Kind() == reflect.Struct {
				registerDefaults(key+".", f)
			} else {
				viper.SetDefault(key, f.Interface())
			}
		}
	}
	registerDefaults("", reflect.ValueOf(cfg).Elem())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if configFile := os.Getenv("CRL_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if onConfigChange != nil {
		viper.WatchConfig()
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMu.Lock()
			defer reloadMu.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}
