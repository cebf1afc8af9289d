// Package config loads dashsync settings. Environment variables override
// the config file, which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/remote-agent-terminal/dashsync/internal/logging"
)

// EnvPrefix prefixes every environment variable, e.g. DASHSYNC_SESSION_URL.
const EnvPrefix = "DASHSYNC"

var (
	// ErrMissingURL is returned when no backend URL is configured.
	ErrMissingURL = errors.New("session.url is required")

	// ErrUnsupportedScheme is returned for URLs that are not http(s) or ws(s).
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// Config is the full dashsync configuration.
type Config struct {
	Session     SessionConfig     `mapstructure:"session"`
	Stores      StoresConfig      `mapstructure:"stores"`
	Transport   TransportConfig   `mapstructure:"transport"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	History     HistoryConfig     `mapstructure:"history"`
	Recorder    RecorderConfig    `mapstructure:"recorder"`
	Commands    CommandsConfig    `mapstructure:"commands"`
	Logging     logging.Config    `mapstructure:"logging"`
	FakeBackend FakeBackendConfig `mapstructure:"fake_backend"`
}

// SessionConfig configures the backend connection.
type SessionConfig struct {
	URL                  string        `mapstructure:"url"`
	BaseDelay            time.Duration `mapstructure:"base_delay"`
	MaxDelay             time.Duration `mapstructure:"max_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	QueueCapacity        int           `mapstructure:"queue_capacity"`
}

// StoresConfig sizes the bounded stores.
type StoresConfig struct {
	MetricsHistory int `mapstructure:"metrics_history"`
	TaskHistory    int `mapstructure:"task_history"`
}

// TransportConfig tunes the websocket transport.
type TransportConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
}

// HTTPConfig configures the local API and browser stream.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// HistoryConfig configures task history persistence. An empty DBPath
// disables it.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
	Keep   int    `mapstructure:"keep"`
}

// RecorderConfig configures the frame transcript. An empty Path disables it.
type RecorderConfig struct {
	Path  string `mapstructure:"path"`
	Title string `mapstructure:"title"`
}

// CommandsConfig binds key chords to intents and lists the intents sent
// to the backend.
type CommandsConfig struct {
	Topic     string            `mapstructure:"topic"`
	Shortcuts map[string]string `mapstructure:"shortcuts"`
	Forward   []string          `mapstructure:"forward"`
}

// FakeBackendConfig configures the synthetic backend.
type FakeBackendConfig struct {
	Addr     string        `mapstructure:"addr"`
	Interval time.Duration `mapstructure:"interval"`
	Agents   int           `mapstructure:"agents"`
	Seed     uint64        `mapstructure:"seed"`
}

// SetDefaults registers every default on v. Each key is registered so
// environment variables can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("session.url", "")
	v.SetDefault("session.base_delay", time.Second)
	v.SetDefault("session.max_delay", 30*time.Second)
	v.SetDefault("session.max_reconnect_attempts", 0)
	v.SetDefault("session.queue_capacity", 0)

	v.SetDefault("stores.metrics_history", 100)
	v.SetDefault("stores.task_history", 200)

	v.SetDefault("transport.handshake_timeout", 10*time.Second)
	v.SetDefault("transport.write_wait", 10*time.Second)
	v.SetDefault("transport.pong_wait", 60*time.Second)
	v.SetDefault("transport.max_message_size", 1<<20)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("history.db_path", "")
	v.SetDefault("history.keep", 10000)

	v.SetDefault("recorder.path", "")
	v.SetDefault("recorder.title", "dashsync")

	v.SetDefault("commands.topic", "cmd")
	v.SetDefault("commands.shortcuts", map[string]string{})
	v.SetDefault("commands.forward", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logging.FormatText)

	v.SetDefault("fake_backend.addr", ":9090")
	v.SetDefault("fake_backend.interval", time.Second)
	v.SetDefault("fake_backend.agents", 3)
	v.SetDefault("fake_backend.seed", 0)
}

// Load reads configuration into a Config. path may be empty, in which case
// dashsync.{yaml,toml,json} is looked up in the working directory and a
// missing file is not an error. v may be nil; callers pass their own to
// bind command-line flags.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dashsync")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Session.URL != "" {
		normalized, err := NormalizeURL(cfg.Session.URL)
		if err != nil {
			return nil, err
		}
		cfg.Session.URL = normalized
	}
	return &cfg, nil
}

// NormalizeURL maps http to ws and https to wss. ws and wss URLs are kept,
// any other scheme is rejected. The path is used as given.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "ws"
	case "wss", "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

// Validate checks the settings needed to run a client session and returns
// the first problem found.
func (c *Config) Validate() error {
	if c.Session.URL == "" {
		return ErrMissingURL
	}
	if _, err := NormalizeURL(c.Session.URL); err != nil {
		return err
	}
	if c.Session.BaseDelay < 0 {
		return fmt.Errorf("session.base_delay must not be negative, got %s", c.Session.BaseDelay)
	}
	if c.Session.MaxDelay < 0 {
		return fmt.Errorf("session.max_delay must not be negative, got %s", c.Session.MaxDelay)
	}
	if c.Session.BaseDelay > 0 && c.Session.MaxDelay > 0 && c.Session.MaxDelay < c.Session.BaseDelay {
		return fmt.Errorf("session.max_delay (%s) is less than session.base_delay (%s)", c.Session.MaxDelay, c.Session.BaseDelay)
	}
	if c.Session.MaxReconnectAttempts < 0 {
		return fmt.Errorf("session.max_reconnect_attempts must not be negative, got %d", c.Session.MaxReconnectAttempts)
	}
	if c.Session.QueueCapacity < 0 {
		return fmt.Errorf("session.queue_capacity must not be negative, got %d", c.Session.QueueCapacity)
	}
	if c.Stores.MetricsHistory < 0 || c.Stores.TaskHistory < 0 {
		return fmt.Errorf("stores capacities must not be negative")
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("logging.format %q is not one of text, json, color", c.Logging.Format)
	}
	return nil
}
