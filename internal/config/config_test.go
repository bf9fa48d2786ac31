package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears global viper state between tests, since Load relies on
// package-level defaults that would otherwise leak across test cases.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pool.MaxWorkerCount)
	assert.Equal(t, 4, cfg.Pool.MaxTempWorkers)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.DeadlockThresholdTimeout)
	assert.Equal(t, "admin", cfg.Auth.PrivilegedGroup)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Events.RedisEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvOverride(t *testing.T) {
	resetViper(t)

	require.NoError(t, os.Setenv("CLUSTERD_POOL_MAXWORKERCOUNT", "16"))
	require.NoError(t, os.Setenv("CLUSTERD_AUTH_ENABLED", "true"))
	t.Cleanup(func() {
		os.Unsetenv("CLUSTERD_POOL_MAXWORKERCOUNT")
		os.Unsetenv("CLUSTERD_AUTH_ENABLED")
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Pool.MaxWorkerCount)
	assert.True(t, cfg.Auth.Enabled)
}
