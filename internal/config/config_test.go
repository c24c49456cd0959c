package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifo4ems/crl/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	require.Equal(t, 50*1024*1024, cfg.Buffer.MaxMemorySize)
	require.Equal(t, "./crl-buffer", cfg.Buffer.PersistPath)
	require.True(t, cfg.Buffer.CompressOnPersist)

	require.True(t, cfg.Compression.Enabled)
	require.Equal(t, 100, cfg.Compression.Threshold)

	require.Equal(t, 2, cfg.HealthCheck.SuccessThreshold)
	require.Equal(t, "tcp", cfg.HealthCheck.Method)

	require.Equal(t, "ACTIVE_PASSIVE", cfg.FailoverPolicy.Mode)
	require.Equal(t, 3, cfg.FailoverPolicy.MaxRetries)
	require.False(t, cfg.FailoverPolicy.FailbackEnabled)

	require.True(t, cfg.Orchestrator.AutoReconnect)
	require.Equal(t, 5*time.Second, cfg.Orchestrator.ReconnectInterval)
}

func TestLoad_WithoutFile(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig().Buffer.MaxMemorySize, cfg.Buffer.MaxMemorySize)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("CRL_ORCHESTRATOR_MAXRECONNECTATTEMPTS", "42")

	cfg, err := config.Load(nil)
	require.NoError(t, err)
	require.Equal(t, 42, cfg.Orchestrator.MaxReconnectAttempts)
}
