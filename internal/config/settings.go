package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/comanda/chatsync/internal/bot"
	"github.com/comanda/chatsync/internal/validation"
)

const envConfigPath = "CHATSYNC_CONFIG"

// Cache backend names accepted in cache.backend.
const (
	CacheBackendFile   = "file"
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// Duration is a time.Duration written as "2s" or "10m" in settings files.
type Duration time.Duration

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// Settings is the non-secret configuration, read from chatsync.yaml or
// chatsync.toml. Zero values mean the component default.
type Settings struct {
	Gateway GatewaySettings `yaml:"gateway" toml:"gateway" json:"gateway"`
	Cache   CacheSettings   `yaml:"cache" toml:"cache" json:"cache"`
	Sync    SyncSettings    `yaml:"sync" toml:"sync" json:"sync"`
	Bot     BotSettings     `yaml:"bot" toml:"bot" json:"bot"`

	// Path is where the settings were read from; empty for defaults.
	Path string `yaml:"-" toml:"-" json:"path,omitempty"`
}

type GatewaySettings struct {
	URL                  string   `yaml:"url" toml:"url" json:"url"`
	ClientName           string   `yaml:"client_name" toml:"client_name" json:"client_name"`
	MinVersion           string   `yaml:"min_version" toml:"min_version" json:"min_version"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	ReconnectBaseDelay   Duration `yaml:"reconnect_base_delay" toml:"reconnect_base_delay" json:"reconnect_base_delay"`
	ReconnectMaxDelay    Duration `yaml:"reconnect_max_delay" toml:"reconnect_max_delay" json:"reconnect_max_delay"`
	DisconnectDebounce   Duration `yaml:"disconnect_debounce" toml:"disconnect_debounce" json:"disconnect_debounce"`
	PingTimeout          Duration `yaml:"ping_timeout" toml:"ping_timeout" json:"ping_timeout"`
}

type CacheSettings struct {
	Backend string `yaml:"backend" toml:"backend" json:"backend"`
	// Dir holds the file backend; SQLitePath the sqlite database.
	Dir              string   `yaml:"dir" toml:"dir" json:"dir"`
	SQLitePath       string   `yaml:"sqlite_path" toml:"sqlite_path" json:"sqlite_path"`
	RedisURL         string   `yaml:"redis_url" toml:"redis_url" json:"redis_url"`
	MaxItems         int      `yaml:"max_items" toml:"max_items" json:"max_items"`
	ConversationsTTL Duration `yaml:"conversations_ttl" toml:"conversations_ttl" json:"conversations_ttl"`
	MessagesTTL      Duration `yaml:"messages_ttl" toml:"messages_ttl" json:"messages_ttl"`
}

type SyncSettings struct {
	PageSize       int      `yaml:"page_size" toml:"page_size" json:"page_size"`
	MaxWindow      int      `yaml:"max_window" toml:"max_window" json:"max_window"`
	PollInterval   Duration `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`
	SendTimeout    Duration `yaml:"send_timeout" toml:"send_timeout" json:"send_timeout"`
}

type BotSettings struct {
	Enabled  bool               `yaml:"enabled" toml:"enabled" json:"enabled"`
	OptIn    []string           `yaml:"opt_in" toml:"opt_in" json:"opt_in"`
	Hours    *bot.BusinessHours `yaml:"hours" toml:"hours" json:"hours"`
	MinDelay Duration           `yaml:"min_delay" toml:"min_delay" json:"min_delay"`
	MaxDelay Duration           `yaml:"max_delay" toml:"max_delay" json:"max_delay"`
	// RulesFile, when set, is watched and reloaded on change. Rules inline
	// in this file are used otherwise; with neither the built-in set applies.
	RulesFile string       `yaml:"rules_file" toml:"rules_file" json:"rules_file"`
	Rules     *bot.RuleSet `yaml:"rules" toml:"rules" json:"rules"`
}

// DefaultSettings returns settings with only the cache backend chosen.
func DefaultSettings() Settings {
	return Settings{Cache: CacheSettings{Backend: CacheBackendFile}}
}

// DefaultSettingsPath returns the first existing chatsync.yaml, chatsync.yml
// or chatsync.toml in the user config dir, or the yaml path if none exists.
func DefaultSettingsPath() string {
	if p := firstNonBlankEnv(envConfigPath); p != "" {
		return p
	}
	dir, err := userConfigDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return ""
	}
	base := filepath.Join(dir, serviceName)
	for _, name := range []string{"chatsync.yaml", "chatsync.yml", "chatsync.toml"} {
		p := filepath.Join(base, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(base, "chatsync.yaml")
}

// LoadSettings reads path (DefaultSettingsPath when empty), then applies
// CHATSYNC_* environment overrides. A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultSettingsPath()
	}

	s := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decodeSettings(path, data, &s); err != nil {
				return Settings{}, err
			}
			s.Path = path
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return Settings{}, fmt.Errorf("read settings: %w", err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func decodeSettings(path string, data []byte, s *Settings) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(s); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// applyEnv overlays the CHATSYNC_* variables a deployment usually sets.
func (s *Settings) applyEnv() error {
	if v := firstNonBlankEnv(envGatewayURL); v != "" {
		s.Gateway.URL = v
	}
	if v := firstNonBlankEnv("CHATSYNC_CACHE_BACKEND"); v != "" {
		s.Cache.Backend = strings.ToLower(v)
	}
	if v := firstNonBlankEnv("CHATSYNC_CACHE_DIR"); v != "" {
		s.Cache.Dir = v
	}
	if v := firstNonBlankEnv("CHATSYNC_REDIS_URL"); v != "" {
		s.Cache.RedisURL = v
	}
	if v := firstNonBlankEnv("CHATSYNC_BOT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHATSYNC_BOT_ENABLED must be true or false")
		}
		s.Bot.Enabled = enabled
	}
	if v := firstNonBlankEnv("CHATSYNC_POLL_INTERVAL"); v != "" {
		if err := s.Sync.PollInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("CHATSYNC_POLL_INTERVAL: %w", err)
		}
	}
	return nil
}

// Validate rejects settings the components would misbehave with.
func (s *Settings) Validate() error {
	switch s.Cache.Backend {
	case "", CacheBackendFile, CacheBackendSQLite:
	case CacheBackendRedis:
		if s.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q (want file, sqlite or redis)", s.Cache.Backend)
	}
	if s.Bot.MaxDelay != 0 && s.Bot.MaxDelay < s.Bot.MinDelay {
		return fmt.Errorf("bot.max_delay must not be below bot.min_delay")
	}
	if s.Sync.PageSize < 0 || s.Sync.MaxWindow < 0 {
		return fmt.Errorf("sync.page_size and sync.max_window must not be negative")
	}
	if s.Gateway.URL != "" {
		if err := validation.ValidateGatewayURL(s.Gateway.URL); err != nil {
			return fmt.Errorf("gateway.url: %w", err)
		}
	}
	return nil
}

// SaveSettings writes s to path, picking the format from the extension.
func SaveSettings(path string, s Settings) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(s)
	} else {
		data, err = yaml.Marshal(s)
	}
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
