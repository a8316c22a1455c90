// Package config loads the lounge YAML configuration, applies defaults and
// LOUNGE_* environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/lounge/internal/logging"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SSHConfig holds the SSH listener settings.
type SSHConfig struct {
	Bind         string        `yaml:"bind"`
	Port         int           `yaml:"port"`
	HostKeyPath  string        `yaml:"host_key_path"`
	MaxAuthTries int           `yaml:"max_auth_tries"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Addr returns the host:port the SSH listener binds to.
func (c SSHConfig) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// AuthConfig points at the authfile.
type AuthConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// RateLimitConfig defines per-session message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// ChatConfig holds room settings.
type ChatConfig struct {
	History        int             `yaml:"history"`
	OutboundBuffer int             `yaml:"outbound_buffer"`
	SendTimeout    time.Duration   `yaml:"send_timeout"`
	MaxLineLength  int             `yaml:"max_line_length"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// HTTPConfig holds the optional WebSocket listener settings.
type HTTPConfig struct {
	Enable         bool     `yaml:"enable"`
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the host:port the HTTP listener binds to.
func (c HTTPConfig) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Config mirrors the lounge.yaml schema.
type Config struct {
	Log  LogConfig  `yaml:"log"`
	SSH  SSHConfig  `yaml:"ssh"`
	Auth AuthConfig `yaml:"auth"`
	Chat ChatConfig `yaml:"chat"`
	HTTP HTTPConfig `yaml:"http"`
}

// Default returns a fully populated configuration.
func Default() Config {
	var c Config
	applyDefaults(&c)
	return c
}

// Load reads path (optional), applies defaults and environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyDefaults(&c)
	applyEnv(&c, os.LookupEnv)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults populates zero values.
func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.SSH.Bind == "" {
		c.SSH.Bind = "0.0.0.0"
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 2222
	}
	if c.SSH.HostKeyPath == "" {
		c.SSH.HostKeyPath = "./lounge_host_ed25519"
	}
	if c.SSH.MaxAuthTries == 0 {
		c.SSH.MaxAuthTries = 6
	}
	if c.Auth.Path == "" {
		c.Auth.Path = "./authfile"
	}
	if c.Chat.History == 0 {
		c.Chat.History = 100
	}
	if c.Chat.OutboundBuffer == 0 {
		c.Chat.OutboundBuffer = 256
	}
	if c.Chat.SendTimeout == 0 {
		c.Chat.SendTimeout = 2 * time.Second
	}
	if c.Chat.MaxLineLength == 0 {
		c.Chat.MaxLineLength = 1024
	}
	if c.Chat.RateLimit.Burst == 0 {
		c.Chat.RateLimit.Burst = 5
	}
	if c.Chat.RateLimit.RefillInterval == 0 {
		c.Chat.RateLimit.RefillInterval = time.Second
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:8080"}
	}
}

// applyEnv overrides settings from LOUNGE_* variables. Unparseable numbers
// keep the current value.
func applyEnv(c *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			*dst = parseIntValue(v, *dst)
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			*dst = parseBoolValue(v, *dst)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			*dst = parseDurationValue(v, *dst)
		}
	}

	str("LOUNGE_LOG_LEVEL", &c.Log.Level)
	flag("LOUNGE_LOG_JSON", &c.Log.JSON)
	str("LOUNGE_SSH_BIND", &c.SSH.Bind)
	num("LOUNGE_SSH_PORT", &c.SSH.Port)
	str("LOUNGE_SSH_HOST_KEY", &c.SSH.HostKeyPath)
	str("LOUNGE_AUTHFILE", &c.Auth.Path)
	flag("LOUNGE_AUTH_WATCH", &c.Auth.Watch)
	num("LOUNGE_CHAT_HISTORY", &c.Chat.History)
	dur("LOUNGE_CHAT_SEND_TIMEOUT", &c.Chat.SendTimeout)
	num("LOUNGE_RATE_LIMIT_BURST", &c.Chat.RateLimit.Burst)
	dur("LOUNGE_RATE_LIMIT_REFILL_INTERVAL", &c.Chat.RateLimit.RefillInterval)
	flag("LOUNGE_HTTP_ENABLE", &c.HTTP.Enable)
	str("LOUNGE_HTTP_BIND", &c.HTTP.Bind)
	num("LOUNGE_HTTP_PORT", &c.HTTP.Port)
	if v, ok := lookup("LOUNGE_ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.HTTP.AllowedOrigins = parseOrigins(v)
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if err := validatePort("ssh.port", c.SSH.Port); err != nil {
		return err
	}
	if c.SSH.MaxAuthTries < 0 {
		return errors.New("ssh.max_auth_tries must not be negative")
	}
	if c.SSH.IdleTimeout < 0 {
		return errors.New("ssh.idle_timeout must not be negative")
	}
	if strings.TrimSpace(c.Auth.Path) == "" {
		return errors.New("auth.path is required")
	}
	if c.Chat.History < 0 {
		return errors.New("chat.history must not be negative")
	}
	if c.Chat.OutboundBuffer < 1 {
		return errors.New("chat.outbound_buffer must be positive")
	}
	if c.Chat.SendTimeout < 0 {
		return errors.New("chat.send_timeout must not be negative")
	}
	if c.Chat.MaxLineLength < 1 {
		return errors.New("chat.max_line_length must be positive")
	}
	if c.Chat.RateLimit.Burst < 1 || c.Chat.RateLimit.RefillInterval <= 0 {
		return errors.New("chat.rate_limit needs a positive burst and refill_interval")
	}
	if c.HTTP.Enable {
		if err := validatePort("http.port", c.HTTP.Port); err != nil {
			return err
		}
		if c.HTTP.Port == c.SSH.Port && c.HTTP.Bind == c.SSH.Bind {
			return errors.New("http and ssh listeners must not share an address")
		}
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBoolValue(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// parseDurationValue accepts Go durations ("750ms") or whole seconds ("2").
func parseDurationValue(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
