// Package config provides centralized configuration management for SheetKeeper.
// It implements the three-layer config pattern:
// Layer 1: built-in defaults
// Layer 2: user overrides (discovered via app identity, or an explicit file)
// Layer 3: environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/sheetkeeper/sheetkeeper/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity

	// configFile is an explicit user config path set by --config.
	configFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Rate limit window storage backends.
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreDB     = "store"
)

// SetConfigFile pins the user config layer to path. An empty path restores
// discovery through the XDG config directories.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load loads configuration using the three-layer pattern:
// 1. Built-in defaults
// 2. User overrides from the explicit config file or XDG config paths
// 3. Environment variables and runtime overrides
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	// Get app identity if not already loaded
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	setDefaults(v)

	if err := readUserConfig(v); err != nil {
		return nil, err
	}

	// Load environment variable overrides
	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}

	prefix := envPrefix()
	applyRateLimitEnvOverrides(prefix, envOverrides)

	if value := strings.TrimSpace(os.Getenv(prefix + "RATE_LIMIT_MARGIN")); value != "" {
		margin, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit margin: %w", err)
		}
		envOverrides["rate_limit_margin"] = margin
	}

	// Runtime overrides are merged last so they win over env vars
	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge config overrides: %w", err)
		}
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// Validate rejects settings the rest of the application cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.RateLimitStore)) {
	case "", RateLimitStoreMemory, RateLimitStoreDB:
	default:
		return fmt.Errorf("invalid rate_limit_store %q (expected %s or %s)", c.RateLimitStore, RateLimitStoreMemory, RateLimitStoreDB)
	}
	if c.RateLimitMargin < 0 || c.RateLimitMargin > 1 {
		return fmt.Errorf("invalid rate_limit_margin %v (expected 0 < margin <= 1)", c.RateLimitMargin)
	}
	if c.Sync.MaxPayloadBytes < 0 {
		return errors.New("sync.max_payload_bytes must not be negative")
	}
	for class, limit := range c.RateLimits {
		if limit.MaxCalls < 0 || limit.Window < 0 {
			return fmt.Errorf("invalid rate limit for %s", class)
		}
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults; the path is filled after decode when still empty
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Sync defaults
	v.SetDefault("sync.idle_timeout", "5m")
	v.SetDefault("sync.unsubscribe_timeout", "10s")
	v.SetDefault("sync.max_payload_bytes", 800000)

	// Realtime defaults
	v.SetDefault("realtime.max_frame_bytes", 64*1024)
	v.SetDefault("realtime.frames_per_second", 20.0)
	v.SetDefault("realtime.frame_burst", 40)
	v.SetDefault("realtime.write_timeout", "10s")
	v.SetDefault("realtime.ping_interval", "30s")

	// Rate limit defaults; per-class limits come from the engine
	v.SetDefault("rate_limit_margin", 1.0)
	v.SetDefault("rate_limit_store", RateLimitStoreMemory)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// readUserConfig merges the user config layer. A missing discovered file is
// fine; a missing explicit file is an error.
func readUserConfig(v *viper.Viper) error {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", explicit, err)
		}
		return nil
	}

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// ConfigFileUsed returns the explicit config file, or the first discovered
// user config file that exists.
func ConfigFileUsed() string {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()
	if explicit != "" {
		return explicit
	}
	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}

	appName := appIdentity.ConfigName
	if strings.TrimSpace(appName) == "" {
		appName = appIdentity.BinaryName
	}
	if strings.TrimSpace(appName) == "" {
		appName = "sheetkeeper"
	}

	legacyNames := []string{}
	if appIdentity.BinaryName != "" && appIdentity.BinaryName != appName {
		legacyNames = append(legacyNames, appIdentity.BinaryName)
	}

	return gfconfig.GetAppConfigPaths(appName, legacyNames...)
}

func envPrefix() string {
	return appid.EnvPrefix(appIdentity)
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	if appIdentity == nil {
		return []EnvVarSpec{}
	}

	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Sync config
		{Name: prefix + "SESSION_IDLE_TIMEOUT", Path: []string{"sync", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "UNSUBSCRIBE_TIMEOUT", Path: []string{"sync", "unsubscribe_timeout"}, Type: EnvString},
		{Name: prefix + "MAX_PAYLOAD_BYTES", Path: []string{"sync", "max_payload_bytes"}, Type: EnvInt},

		// Realtime config
		{Name: prefix + "REALTIME_MAX_FRAME_BYTES", Path: []string{"realtime", "max_frame_bytes"}, Type: EnvInt},
		{Name: prefix + "REALTIME_FRAMES_PER_SECOND", Path: []string{"realtime", "frames_per_second"}, Type: EnvString},
		{Name: prefix + "REALTIME_FRAME_BURST", Path: []string{"realtime", "frame_burst"}, Type: EnvInt},
		{Name: prefix + "REALTIME_WRITE_TIMEOUT", Path: []string{"realtime", "write_timeout"}, Type: EnvString},
		{Name: prefix + "REALTIME_PING_INTERVAL", Path: []string{"realtime", "ping_interval"}, Type: EnvString},

		// Rate limit storage
		{Name: prefix + "RATE_LIMIT_STORE", Path: []string{"rate_limit_store"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "sheetkeeper" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "sheetkeeper"
	binaryName = "sheetkeeper"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// applyRateLimitEnvOverrides maps {PREFIX}RATE_LIMITS_<CLASS>_MAX_CALLS and
// {PREFIX}RATE_LIMITS_<CLASS>_WINDOW onto rate_limits.<class>.
func applyRateLimitEnvOverrides(prefix string, envOverrides map[string]any) {
	limitPrefix := prefix + "RATE_LIMITS_"

	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if !ok || !strings.HasPrefix(key, limitPrefix) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		rest := key[len(limitPrefix):]
		var class, field string
		switch {
		case strings.HasSuffix(rest, "_MAX_CALLS"):
			class, field = strings.TrimSuffix(rest, "_MAX_CALLS"), "max_calls"
		case strings.HasSuffix(rest, "_WINDOW"):
			class, field = strings.TrimSuffix(rest, "_WINDOW"), "window"
		default:
			continue
		}
		class = strings.ToLower(class)
		if class == "" {
			continue
		}

		limits := ensureMap(envOverrides, "rate_limits")
		limit := ensureMap(limits, class)
		if field == "max_calls" {
			if parsed, err := strconv.Atoi(value); err == nil {
				limit[field] = parsed
				continue
			}
		}
		limit[field] = value
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}
