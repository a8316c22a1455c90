package server

import (
	"time"

	"github.com/Tyrowin/lounge/internal/config"
)

// RateLimitConfig defines the parameters for per-session message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Options holds the transport settings derived from the loaded configuration.
type Options struct {
	SSHAddr          string
	HostKeyPath      string
	HandshakeTimeout time.Duration
	MaxAuthTries     int
	IdleTimeout      time.Duration

	HTTPEnable     bool
	HTTPAddr       string
	AllowedOrigins []string
	AuthTimeout    time.Duration
	MaxFrameSize   int64

	MaxLineLength   int
	RateLimit       RateLimitConfig
	WatchAuthfile   bool
	ShutdownTimeout time.Duration
}

func defaultOptions() Options {
	return Options{
		SSHAddr:          ":2222",
		HandshakeTimeout: 30 * time.Second,
		MaxAuthTries:     6,
		HTTPAddr:         "127.0.0.1:8080",
		AllowedOrigins:   []string{"http://localhost:8080"},
		AuthTimeout:      30 * time.Second,
		MaxLineLength:    1024,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// OptionsFromConfig maps the file/env configuration onto transport options.
func OptionsFromConfig(cfg config.Config) Options {
	opts := defaultOptions()
	opts.SSHAddr = cfg.SSH.Addr()
	opts.HostKeyPath = cfg.SSH.HostKeyPath
	opts.MaxAuthTries = cfg.SSH.MaxAuthTries
	opts.IdleTimeout = cfg.SSH.IdleTimeout
	opts.HTTPEnable = cfg.HTTP.Enable
	opts.HTTPAddr = cfg.HTTP.Addr()
	opts.AllowedOrigins = append([]string(nil), cfg.HTTP.AllowedOrigins...)
	opts.MaxLineLength = cfg.Chat.MaxLineLength
	opts.RateLimit = RateLimitConfig{
		Burst:          cfg.Chat.RateLimit.Burst,
		RefillInterval: cfg.Chat.RateLimit.RefillInterval,
	}
	opts.WatchAuthfile = cfg.Auth.Watch
	return opts
}

func sanitizeOptions(opts Options) Options {
	def := defaultOptions()
	if opts.SSHAddr == "" {
		opts.SSHAddr = def.SSHAddr
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.MaxAuthTries == 0 {
		opts.MaxAuthTries = def.MaxAuthTries
	}
	if opts.IdleTimeout < 0 {
		opts.IdleTimeout = 0
	}
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = def.HTTPAddr
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = def.AuthTimeout
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = def.MaxLineLength
	}
	if opts.MaxFrameSize <= 0 {
		// Room for the JSON envelope around a maximal line, or an auth frame.
		opts.MaxFrameSize = int64(opts.MaxLineLength)*2 + 4096
	}
	if opts.RateLimit.Burst <= 0 {
		opts.RateLimit.Burst = def.RateLimit.Burst
	}
	if opts.RateLimit.RefillInterval <= 0 {
		opts.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = def.ShutdownTimeout
	}
	return opts
}
