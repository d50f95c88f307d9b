package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpcdispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "/rpc", cfg.Server.Path)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "/health", cfg.Server.HealthPath)
	assert.Empty(t, cfg.Server.CORS.AllowedOrigins)
	assert.Equal(t, 86400, cfg.Server.CORS.MaxAge)
	assert.Equal(t, "__args", cfg.Dispatcher.SentinelKey)
	assert.Equal(t, "json", cfg.Dispatcher.Codec)
	assert.Equal(t, 1, cfg.Dispatcher.BatchConcurrency)
	assert.True(t, cfg.WebSocket.Enabled)
	assert.Equal(t, 16, cfg.WebSocket.MaxInFlight)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 9000
  path: /jsonrpc
  cors:
    allowed_origins: ["https://app.test", "http://localhost:*"]
    allow_credentials: true
dispatcher:
  codec: cbor
  batch_concurrency: 4
  sentinel_key: $args
rate_limit:
  enabled: true
  backend: redis
  requests: 10
  window: 30s
auth:
  jwt_secret: 0123456789abcdef0123
`)
	t.Setenv("RPCDISPATCH_SERVER_PORT", "9100")
	t.Setenv("RPCDISPATCH_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/jsonrpc", cfg.Server.Path)
	assert.Equal(t, []string{"https://app.test", "http://localhost:*"}, cfg.Server.CORS.AllowedOrigins)
	assert.True(t, cfg.Server.CORS.AllowCredentials)
	assert.Equal(t, "cbor", cfg.Dispatcher.Codec)
	assert.Equal(t, 4, cfg.Dispatcher.BatchConcurrency)
	assert.Equal(t, "$args", cfg.Dispatcher.SentinelKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.True(t, cfg.AuthEnabled())

	summary := GetConfigString(cfg)
	assert.Contains(t, summary, "Codec: cbor")
	assert.Contains(t, summary, "Auth Enabled: true")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 0
  health_path: health
dispatcher:
  codec: xml
auth:
  jwt_secret: short
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Config.Server.Port failed min=1")
	assert.Contains(t, err.Error(), "Config.Server.HealthPath failed startswith")
	assert.Contains(t, err.Error(), "Config.Dispatcher.Codec failed oneof")
	assert.Contains(t, err.Error(), "Config.Auth.JWTSecret failed min=16")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, "server:\n  port: 7070\n"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}
