package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8700", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "127.0.0.1:8700", cfg.Server.Address())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 50.0, cfg.Server.RateLimit)

	assert.Equal(t, "http://localhost:8888", cfg.Gateway.URL)
	assert.False(t, cfg.Gateway.Enabled)

	assert.Equal(t, 2*time.Second, cfg.Inspector.Interval)
	assert.Equal(t, 100, cfg.Inspector.MatrixMaxRows)
	assert.Zero(t, cfg.Inspector.ExecuteTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Inspector.MatrixMaxRows)
	assert.Equal(t, 4.0, cfg.Inspector.Rate)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":             "9000",
		"HOST":             "0.0.0.0",
		"GATEWAY_URL":      "http://gateway:8888",
		"GATEWAY_TOKEN":    "secret",
		"GATEWAY_ENABLED":  "true",
		"INSPECT_INTERVAL": "500ms",
		"INSPECT_RATE":     "10",
		"INSPECT_BURST":    "3",
		"MATRIX_MAX_ROWS":  "25",
		"EXECUTE_TIMEOUT":  "30s",
		"SANDBOX_TIMEOUT":  "1s",
		"LOG_LEVEL":        "debug",
		"LOG_DEV":          "true",
		"CORS_ORIGINS":     "http://a.test,http://b.test",
		"RATE_LIMIT":       "0",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "http://gateway:8888", cfg.Gateway.URL)
	assert.Equal(t, "secret", cfg.Gateway.Token)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Inspector.Interval)
	assert.Equal(t, 10.0, cfg.Inspector.Rate)
	assert.Equal(t, 3, cfg.Inspector.Burst)
	assert.Equal(t, 25, cfg.Inspector.MatrixMaxRows)
	assert.Equal(t, 30*time.Second, cfg.Inspector.ExecuteTimeout)
	assert.Equal(t, time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Zero(t, cfg.Server.RateLimit)
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("INSPECT_INTERVAL", "soon")

	_, err := Load()
	assert.Error(t, err)

	// LoadOrDefault never fails
	cfg := LoadOrDefault()
	assert.Equal(t, 2*time.Second, cfg.Inspector.Interval)
}
