package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGatewayDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir())

	cfg, err := LoadGateway()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 25*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.True(t, cfg.Gateway.CloseSuperseded)
	assert.True(t, cfg.Auth.RequireToken)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, int64(64*1024), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, "http://localhost:8091", cfg.Archive.APIURL)
	assert.Equal(t, 1024, cfg.Archive.Queue)
	assert.Equal(t, 5*time.Second, cfg.Archive.Timeout)
}

func TestLoadGatewayFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  port: 9999
websocket:
  ping_interval: 5s
  allowed_origins: ["https://portal.example.edu, http://localhost:3000"]
gateway:
  close_superseded: false
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateway.yaml"), yaml, 0o600))
	t.Setenv("CONFIG_PATH", dir)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("AUTH_REQUIRE_TOKEN", "false")

	cfg, err := LoadGateway()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, []string{"https://portal.example.edu", "http://localhost:3000"}, cfg.WebSocket.AllowedOrigins)
	assert.False(t, cfg.Gateway.CloseSuperseded)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.False(t, cfg.Auth.RequireToken)
}

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir())
	t.Setenv("CASSANDRA_HOSTS", "c1:9042, c2:9042")

	cfg, err := LoadAPI()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "gorm", cfg.History.Store)
	assert.Equal(t, 7*24*time.Hour, cfg.History.Retention)
	assert.Equal(t, 50, cfg.History.GlobalLimit)
	assert.Equal(t, 100, cfg.History.PrivateLimit)
	assert.Equal(t, []string{"c1:9042", "c2:9042"}, cfg.Cassandra.Hosts)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
}

func TestLoadCLIFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir())
	t.Setenv("CHAT_API", "http://api.internal:8091")
	t.Setenv("CHAT_USN", "1BEC900")

	fs := pflag.NewFlagSet("chat-cli", pflag.ContinueOnError)
	CLIFlags(fs)
	require.NoError(t, fs.Parse([]string{"--usn", "1bec001", "--typing-ttl", "5s"}))

	cfg, err := LoadCLI(fs)
	require.NoError(t, err)

	assert.Equal(t, "1bec001", cfg.USN)
	assert.Equal(t, "http://api.internal:8091", cfg.APIURL)
	assert.Equal(t, "ws://localhost:8090/chat/ws", cfg.GatewayURL)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL)
	assert.Equal(t, 500, cfg.HistoryCap)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
}
