package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearSettingsEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		envConfigPath, envGatewayURL, "CHATSYNC_CACHE_BACKEND", "CHATSYNC_CACHE_DIR",
		"CHATSYNC_REDIS_URL", "CHATSYNC_BOT_ENABLED", "CHATSYNC_POLL_INTERVAL",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const yamlSettings = `
gateway:
  url: wss://gw.example.com/socket
  min_version: 1.4.0
  max_reconnect_attempts: 8
  reconnect_base_delay: 500ms
cache:
  backend: sqlite
  sqlite_path: /var/lib/chatsync/cache.db
  messages_ttl: 15m
sync:
  page_size: 30
  poll_interval: 20s
bot:
  enabled: true
  opt_in: ["5511999990000@c.us"]
  min_delay: 1s
  max_delay: 3s
  hours:
    start: "11:00"
    end: "23:30"
    days: [tue, wed, thu, fri, sat, sun]
    timezone: America/Sao_Paulo
  rules:
    default: Gracias, ya te respondemos.
    rules:
      - name: menu
        keywords: [menu, carta]
        reply: Nuestra carta esta en el enlace.
`

func TestLoadSettings_YAML(t *testing.T) {
	clearSettingsEnv(t)
	path := writeFile(t, "chatsync.yaml", yamlSettings)

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, path, s.Path)
	assert.Equal(t, "wss://gw.example.com/socket", s.Gateway.URL)
	assert.Equal(t, 8, s.Gateway.MaxReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, s.Gateway.ReconnectBaseDelay.Std())
	assert.Equal(t, CacheBackendSQLite, s.Cache.Backend)
	assert.Equal(t, 15*time.Minute, s.Cache.MessagesTTL.Std())
	assert.Equal(t, 30, s.Sync.PageSize)
	assert.Equal(t, 20*time.Second, s.Sync.PollInterval.Std())
	assert.True(t, s.Bot.Enabled)
	require.NotNil(t, s.Bot.Hours)
	assert.Equal(t, "23:30", s.Bot.Hours.End)
	require.NotNil(t, s.Bot.Rules)
	require.Len(t, s.Bot.Rules.Rules, 1)
	assert.Equal(t, []string{"menu", "carta"}, s.Bot.Rules.Rules[0].Keywords)
}

func TestLoadSettings_TOML(t *testing.T) {
	clearSettingsEnv(t)
	path := writeFile(t, "chatsync.toml", `
[gateway]
url = "ws://localhost:3001"

[cache]
backend = "redis"
redis_url = "redis://localhost:6379/2"

[sync]
request_timeout = "8s"

[bot]
enabled = false
rules_file = "/etc/chatsync/rules.yaml"
`)

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, CacheBackendRedis, s.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/2", s.Cache.RedisURL)
	assert.Equal(t, 8*time.Second, s.Sync.RequestTimeout.Std())
	assert.Equal(t, "/etc/chatsync/rules.yaml", s.Bot.RulesFile)
}

func TestLoadSettings_UnknownFieldsRejected(t *testing.T) {
	clearSettingsEnv(t)

	_, err := LoadSettings(writeFile(t, "chatsync.yaml", "gateway:\n  adress: ws://x\n"))
	assert.Error(t, err)

	_, err = LoadSettings(writeFile(t, "chatsync.toml", "[gateway]\nadress = \"ws://x\"\n"))
	assert.Error(t, err)
}

func TestLoadSettings_BadDuration(t *testing.T) {
	clearSettingsEnv(t)

	_, err := LoadSettings(writeFile(t, "chatsync.yaml", "sync:\n  poll_interval: often\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "often")
}

func TestLoadSettings_MissingFile(t *testing.T) {
	clearSettingsEnv(t)
	original := userConfigDir
	dir := t.TempDir()
	userConfigDir = func() (string, error) { return dir, nil }
	t.Cleanup(func() { userConfigDir = original })

	s, err := LoadSettings("")
	require.NoError(t, err, "missing default file means defaults")
	assert.Empty(t, s.Path)
	assert.Equal(t, CacheBackendFile, s.Cache.Backend)

	_, err = LoadSettings(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}

func TestLoadSettings_EmptyFile(t *testing.T) {
	clearSettingsEnv(t)
	s, err := LoadSettings(writeFile(t, "chatsync.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, CacheBackendFile, s.Cache.Backend)
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	clearSettingsEnv(t)
	path := writeFile(t, "chatsync.yaml", yamlSettings)
	t.Setenv(envGatewayURL, "ws://127.0.0.1:3001")
	t.Setenv("CHATSYNC_CACHE_BACKEND", "File")
	t.Setenv("CHATSYNC_BOT_ENABLED", "false")
	t.Setenv("CHATSYNC_POLL_INTERVAL", "-1s")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3001", s.Gateway.URL)
	assert.Equal(t, CacheBackendFile, s.Cache.Backend)
	assert.False(t, s.Bot.Enabled)
	assert.Equal(t, -time.Second, s.Sync.PollInterval.Std())

	t.Setenv("CHATSYNC_BOT_ENABLED", "maybe")
	_, err = LoadSettings(path)
	assert.Error(t, err)
}

func TestLoadSettings_ConfigPathFromEnv(t *testing.T) {
	clearSettingsEnv(t)
	path := writeFile(t, "custom.toml", "[sync]\npage_size = 10\n")
	t.Setenv(envConfigPath, path)

	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, 10, s.Sync.PageSize)
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{name: "unknown backend", mutate: func(s *Settings) { s.Cache.Backend = "memcached" }, wantErr: "unknown cache backend"},
		{name: "redis without url", mutate: func(s *Settings) { s.Cache.Backend = CacheBackendRedis }, wantErr: "redis_url"},
		{name: "inverted delays", mutate: func(s *Settings) {
			s.Bot.MinDelay = Duration(5 * time.Second)
			s.Bot.MaxDelay = Duration(time.Second)
		}, wantErr: "max_delay"},
		{name: "negative page size", mutate: func(s *Settings) { s.Sync.PageSize = -1 }, wantErr: "page_size"},
		{name: "http url", mutate: func(s *Settings) { s.Gateway.URL = "https://gw.example.com" }, wantErr: "ws://"},
		{name: "plain ws to public host", mutate: func(s *Settings) { s.Gateway.URL = "ws://gw.example.com" }, wantErr: "wss://"},
		{name: "plain ws on lan", mutate: func(s *Settings) { s.Gateway.URL = "ws://192.168.1.10:3001" }},
		{name: "metadata endpoint", mutate: func(s *Settings) { s.Gateway.URL = "wss://169.254.169.254" }, wantErr: "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}

func TestSaveSettings_RoundTrip(t *testing.T) {
	clearSettingsEnv(t)
	for _, name := range []string{"chatsync.yaml", "chatsync.toml"} {
		t.Run(name, func(t *testing.T) {
			s := DefaultSettings()
			s.Gateway.URL = "wss://gw.example.com/socket"
			s.Sync.PollInterval = Duration(45 * time.Second)
			s.Bot.OptIn = []string{"a", "b"}

			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, SaveSettings(path, s))

			got, err := LoadSettings(path)
			require.NoError(t, err)
			assert.Equal(t, s.Gateway.URL, got.Gateway.URL)
			assert.Equal(t, 45*time.Second, got.Sync.PollInterval.Std())
			assert.Equal(t, []string{"a", "b"}, got.Bot.OptIn)
		})
	}
}
