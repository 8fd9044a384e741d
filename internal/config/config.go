package config

import (
	"time"
)

// Config represents the complete application configuration.
// Layer 1: built-in defaults (see setDefaults)
// Layer 2: user config file (~/.config/sheetkeeper/config.yaml or --config)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`

	// RateLimits overrides the built-in limit of an action class, keyed by
	// class name (dice_roll, chat_message, invite_code, password_reset, api_call).
	RateLimits      map[string]RateLimitConfig `mapstructure:"rate_limits"`
	RateLimitMargin float64                    `mapstructure:"rate_limit_margin"`
	// RateLimitStore selects where rate windows live: memory or store.
	RateLimitStore string `mapstructure:"rate_limit_store"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// SyncConfig controls state pushes and session idling.
type SyncConfig struct {
	// IdleTimeout is how long a realtime session may go without activity
	// before its non-critical channels are suspended.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// UnsubscribeTimeout bounds each unsubscribe during suspension.
	UnsubscribeTimeout time.Duration `mapstructure:"unsubscribe_timeout"`

	// MaxPayloadBytes is the largest stored part; bigger payloads are split.
	MaxPayloadBytes int `mapstructure:"max_payload_bytes"`
}

// RealtimeConfig contains websocket session settings.
type RealtimeConfig struct {
	MaxFrameBytes   int64         `mapstructure:"max_frame_bytes"`
	FramesPerSecond float64       `mapstructure:"frames_per_second"`
	FrameBurst      int           `mapstructure:"frame_burst"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
}

// RateLimitConfig overrides one action class limit.
type RateLimitConfig struct {
	MaxCalls int           `mapstructure:"max_calls"`
	Window   time.Duration `mapstructure:"window"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
