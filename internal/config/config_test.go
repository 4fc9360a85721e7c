package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultApplied(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.Engine.MaxConcurrentExecutions)
	assert.Equal(t, 256, cfg.Engine.QueueSize)
	assert.Equal(t, 5, cfg.Executor.CircuitBreakerThreshold)
	assert.Equal(t, "configs/backends.yaml", cfg.Backends.RegistryPath)
	assert.Equal(t, "info", cfg.App.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
app:
  log_level: debug
engine:
  max_concurrent_executions: 7
  max_retries: 2
executor:
  circuit_breaker_threshold: 3
  circuit_breaker_reset_seconds: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 7, cfg.Engine.MaxConcurrentExecutions)
	assert.Equal(t, 2, cfg.Engine.MaxRetries)
	assert.Equal(t, 3, cfg.Executor.CircuitBreakerThreshold)
	assert.Equal(t, 256, cfg.Engine.QueueSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
engine:
  retry_base_delay_ms: 60000
  retry_max_delay_ms: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
