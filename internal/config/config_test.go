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
	path := filepath.Join(t.TempDir(), "lounge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "0.0.0.0:2222", c.SSH.Addr())
	assert.Equal(t, "./authfile", c.Auth.Path)
	assert.Equal(t, 100, c.Chat.History)
	assert.Equal(t, 5, c.Chat.RateLimit.Burst)
	assert.Equal(t, time.Second, c.Chat.RateLimit.RefillInterval)
	assert.False(t, c.HTTP.Enable)
	assert.Equal(t, []string{"http://localhost:8080"}, c.HTTP.AllowedOrigins)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  json: true
ssh:
  port: 2022
  idle_timeout: 10m
auth:
  path: /etc/lounge/authfile
  watch: true
chat:
  history: 20
  send_timeout: 750ms
  rate_limit:
    burst: 10
    refill_interval: 500ms
http:
  enable: true
  port: 9000
  allowed_origins: ["https://chat.example.com"]
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.Log.JSON)
	assert.Equal(t, 2022, c.SSH.Port)
	assert.Equal(t, 10*time.Minute, c.SSH.IdleTimeout)
	assert.Equal(t, "/etc/lounge/authfile", c.Auth.Path)
	assert.True(t, c.Auth.Watch)
	assert.Equal(t, 20, c.Chat.History)
	assert.Equal(t, 750*time.Millisecond, c.Chat.SendTimeout)
	assert.Equal(t, 10, c.Chat.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, c.Chat.RateLimit.RefillInterval)
	assert.Equal(t, "127.0.0.1:9000", c.HTTP.Addr())
	assert.Equal(t, []string{"https://chat.example.com"}, c.HTTP.AllowedOrigins)
	// Untouched keys still get defaults.
	assert.Equal(t, 256, c.Chat.OutboundBuffer)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad level":   "log:\n  level: shouty\n",
		"bad port":    "ssh:\n  port: 70000\n",
		"bad yaml":    "ssh: [",
		"shared addr": "ssh:\n  bind: 127.0.0.1\n  port: 8080\nhttp:\n  enable: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"LOUNGE_SSH_PORT":                   "2200",
		"LOUNGE_AUTHFILE":                   " /srv/authfile ",
		"LOUNGE_AUTH_WATCH":                 "true",
		"LOUNGE_RATE_LIMIT_BURST":           "not-a-number",
		"LOUNGE_RATE_LIMIT_REFILL_INTERVAL": "3",
		"LOUNGE_CHAT_SEND_TIMEOUT":          "250ms",
		"LOUNGE_ALLOWED_ORIGINS":            "https://a.example, ,https://b.example",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := Default()
	applyEnv(&c, lookup)
	assert.Equal(t, 2200, c.SSH.Port)
	assert.Equal(t, "/srv/authfile", c.Auth.Path)
	assert.True(t, c.Auth.Watch)
	assert.Equal(t, 5, c.Chat.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, c.Chat.RateLimit.RefillInterval)
	assert.Equal(t, 250*time.Millisecond, c.Chat.SendTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.HTTP.AllowedOrigins)
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("LOUNGE_LOG_LEVEL", "warn")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", c.Log.Level)
}
