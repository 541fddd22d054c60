package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, int64(10), cfg.Server.MaxConcurrent)
	assert.Equal(t, 300*time.Second, cfg.Server.WSIdleTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 3600, cfg.Store.TTLSeconds)
	assert.Equal(t, 60*time.Second, cfg.Orchestrate.Timeout)
	assert.Equal(t, 50, cfg.Orchestrate.MaxIterations)
	assert.Equal(t, "nova-2", cfg.Voice.ListenModel)
	assert.Equal(t, 5*time.Minute, cfg.OTP.TTL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONCIERGE_SERVER_PORT", "9090")
	t.Setenv("CONCIERGE_STORE_BACKEND", "redis")
	t.Setenv("CONCIERGE_LOGGING_LEVEL", "debug")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CONCIERGE_SERVER_PORT", "-1")
	_, err := Load(viper.New())
	assert.Error(t, err)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("CONCIERGE_LOGGING_LEVEL", "verbose")
	_, err := Load(viper.New())
	assert.Error(t, err)
}
