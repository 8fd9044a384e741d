package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/appid"
	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/core/store"
	errwrap "github.com/sheetkeeper/sheetkeeper/internal/errors"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

var (
	doctorInitForce       bool
	doctorInitDBURL       string
	doctorInitDBAuthToken string
	doctorInitWindowStore string

	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		logger := observability.CLILogger
		identity := GetAppIdentity()
		bannerName := "doctor"
		if identity != nil && identity.BinaryName != "" {
			bannerName = identity.BinaryName + " doctor"
		}
		logger.Info("=== " + bannerName + " ===")
		logger.Info("")
		logger.Info("Running diagnostic checks...")
		logger.Info("")

		allChecks := true
		const totalChecks = 8

		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			logger.Info(fmt.Sprintf("[1/%d] Checking Go version... ✅ %s", totalChecks, goVersion), zap.String("go_version", goVersion))
		} else {
			logger.Warn(fmt.Sprintf("[1/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", totalChecks, goVersion), zap.String("go_version", goVersion))
			allChecks = false
		}

		version := crucible.GetVersion()
		if version.Crucible != "" {
			logger.Info(fmt.Sprintf("[2/%d] Checking Crucible access... ✅ v%s", totalChecks, version.Crucible), zap.String("crucible_version", version.Crucible))
		} else {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible", errwrap.NewServiceUnavailableError("Crucible unavailable"))
		}

		if version.Gofulmen != "" {
			logger.Info(fmt.Sprintf("[3/%d] Checking Gofulmen access... ✅ v%s", totalChecks, version.Gofulmen), zap.String("gofulmen_version", version.Gofulmen))
		} else {
			logger.Error(fmt.Sprintf("[3/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", totalChecks))
			allChecks = false
		}

		configPath := config.DefaultConfigPath()
		if configPath == "" {
			ExitWithCode(logger, foundry.ExitFileNotFound, "Cannot resolve config directory", errwrap.NewInternalError("config directory not resolved"))
		}
		logger.Info(fmt.Sprintf("[4/%d] Checking config directory... ✅ %s", totalChecks, filepath.Dir(configPath)), zap.String("config_dir", filepath.Dir(configPath)))

		cfg, cfgErr := config.Load(ctx)
		if cfgErr != nil {
			logger.Error(fmt.Sprintf("[5/%d] Checking configuration... ❌ %v", totalChecks, cfgErr))
			logger.Info("")
			logger.Warn("Remaining checks need a valid configuration; run 'doctor validate' for details")
			return
		}
		logger.Info(fmt.Sprintf("[5/%d] Checking configuration... ✅ %s", totalChecks, describeConfigSource()))

		if cfg.Store.URL != "" {
			logger.Info(fmt.Sprintf("[6/%d] Checking database... ✅ %s (remote)", totalChecks, redactURL(cfg.Store.URL)))
		} else {
			absPath, _ := filepath.Abs(cfg.Store.Path)
			if info, statErr := os.Stat(absPath); statErr == nil {
				logger.Info(fmt.Sprintf("[6/%d] Checking database... ✅ %s (%s)", totalChecks, absPath, formatFileSize(info.Size())),
					zap.String("db_path", absPath),
					zap.Int64("db_size", info.Size()))
			} else if os.IsNotExist(statErr) {
				logger.Warn(fmt.Sprintf("[6/%d] Checking database... ⚠️  %s (not created yet)", totalChecks, absPath),
					zap.String("db_path", absPath))
			} else {
				logger.Warn(fmt.Sprintf("[6/%d] Checking database... ⚠️  %s (error: %v)", totalChecks, absPath, statErr),
					zap.String("db_path", absPath),
					zap.Error(statErr))
				allChecks = false
			}
		}

		db, storeErr := openStore(ctx, cfg)
		if storeErr != nil {
			logger.Warn(fmt.Sprintf("[7/%d] Checking schema... ⚠️  cannot open store", totalChecks), zap.Error(storeErr))
			allChecks = false
		} else {
			defer db.Close() //nolint:errcheck
			windows, countErr := db.CountRateWindows(ctx, store.RateWindowQuery{All: true})
			if countErr != nil {
				logger.Warn(fmt.Sprintf("[7/%d] Checking schema... ⚠️  %v", totalChecks, countErr))
				allChecks = false
			} else {
				logger.Info(fmt.Sprintf("[7/%d] Checking schema... ✅ migrated (%d stored rate window(s))", totalChecks, windows))
			}
		}

		if _, err := limiterOverrides(cfg.RateLimits); err != nil {
			logger.Warn(fmt.Sprintf("[8/%d] Checking rate limits... ⚠️  %v", totalChecks, err))
			allChecks = false
		} else {
			logger.Info(fmt.Sprintf("[8/%d] Checking rate limits... ✅ %d override(s), margin %.2f, %s windows",
				totalChecks, len(cfg.RateLimits), cfg.RateLimitMargin, cfg.RateLimitStore))
		}

		logger.Info("")
		if allChecks {
			logger.Info("✅ All checks passed")
		} else {
			logger.Warn("⚠️  Some checks reported warnings")
		}
	},
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		windowStore := strings.ToLower(strings.TrimSpace(doctorInitWindowStore))
		if windowStore != config.RateLimitStoreMemory && windowStore != config.RateLimitStoreDB {
			return fmt.Errorf("--rate-limit-store must be %s or %s", config.RateLimitStoreMemory, config.RateLimitStoreDB)
		}

		authToken := strings.TrimSpace(doctorInitDBAuthToken)
		if strings.EqualFold(authToken, "prompt") {
			token, err := promptForValue("Enter database auth token (leave blank to skip): ")
			if err != nil {
				return err
			}
			authToken = token
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		mode := os.FileMode(0644)
		if authToken != "" {
			mode = 0600
		}

		body := buildInitConfig(strings.TrimSpace(doctorInitDBURL), authToken, windowStore)
		if err := os.WriteFile(configPath, []byte(body), mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.CLILogger
		configPath := config.DefaultConfigPath()
		dataDir := config.DefaultDataDir()

		logger.Info("Configuration:")
		logger.Info(fmt.Sprintf("  Config file:    %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		if dataDir != "" {
			logger.Info(fmt.Sprintf("  Data directory: %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		} else {
			logger.Info("  Data directory: (not resolved)")
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			logger.Warn("Config load failed", zap.Error(err))
			return nil
		}

		if cfg.Store.URL != "" {
			logger.Info(fmt.Sprintf("  Database:       %s (remote)", redactURL(cfg.Store.URL)))
		} else {
			absPath, _ := filepath.Abs(cfg.Store.Path)
			if info, statErr := os.Stat(absPath); statErr == nil {
				logger.Info(fmt.Sprintf("  Database:       %s (%s)", absPath, formatFileSize(info.Size())))
			} else {
				logger.Info(fmt.Sprintf("  Database:       %s (not created yet)", absPath))
			}
		}

		prefix := appid.EnvPrefix(GetAppIdentity())
		logger.Info("")
		logger.Info("Environment:")
		for _, name := range []string{"DB_URL", "DB_AUTH_TOKEN", "ADMIN_TOKEN", "RATE_LIMIT_STORE", "SESSION_IDLE_TIMEOUT"} {
			logger.Info(fmt.Sprintf("  %s%s: %s", prefix, name, envStatus(prefix+name)))
		}

		logger.Info("")
		logger.Info("Effective Settings:")
		logger.Info(fmt.Sprintf("  sync.idle_timeout: %s", cfg.Sync.IdleTimeout))
		logger.Info(fmt.Sprintf("  sync.max_payload_bytes: %d", cfg.Sync.MaxPayloadBytes))
		logger.Info(fmt.Sprintf("  rate_limit_store: %s", cfg.RateLimitStore))
		logger.Info(fmt.Sprintf("  rate_limit_margin: %.2f", cfg.RateLimitMargin))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := os.Remove(configPath); err == nil {
				observability.CLILogger.Info("Config removed", zap.String("path", configPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
			} else {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}

			absPath, _ := filepath.Abs(cfg.Store.Path)
			// WAL mode leaves sidecar files next to the database.
			for _, path := range []string{absPath, absPath + "-wal", absPath + "-shm"} {
				if err := os.Remove(path); err == nil {
					observability.CLILogger.Info("Database file removed", zap.String("path", path))
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("remove database: %w", err)
				}
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.ConfigFileUsed()
		if configPath == "" {
			return fmt.Errorf("config file not found: %s", config.DefaultConfigPath())
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config is invalid")
		}
		if _, err := limiterOverrides(cfg.RateLimits); err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config is invalid")
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitDBURL, "db-url", "", "remote libsql/Turso database URL (default local file)")
	doctorInitCmd.Flags().StringVar(&doctorInitDBAuthToken, "db-auth-token", "", "database auth token or 'prompt' to enter")
	doctorInitCmd.Flags().StringVar(&doctorInitWindowStore, "rate-limit-store", config.RateLimitStoreMemory, "where rate windows live: memory|store")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

func buildInitConfig(dbURL, authToken, windowStore string) string {
	lines := []string{
		"# sheetkeeper config - created by 'sheetkeeper doctor init'",
		"server:",
		"  host: localhost",
		"  port: 8080",
		"store:",
		"  driver: libsql",
	}

	if dbURL != "" {
		lines = append(lines, fmt.Sprintf("  url: %q", dbURL))
		if authToken != "" {
			lines = append(lines, fmt.Sprintf("  auth_token: %q", authToken))
		} else {
			lines = append(lines, "  # auth_token: \"\"  # Set via SHEETKEEPER_DB_AUTH_TOKEN or uncomment")
		}
	}

	lines = append(lines,
		"sync:",
		"  idle_timeout: 5m",
		"  unsubscribe_timeout: 10s",
		"  max_payload_bytes: 800000",
		fmt.Sprintf("rate_limit_store: %s", windowStore),
		"rate_limit_margin: 1.0",
		"# rate_limits:",
		"#   dice_roll:",
		"#     max_calls: 10",
		"#     window: 10s",
	)

	return strings.Join(lines, "\n") + "\n"
}

func describeConfigSource() string {
	if used := config.ConfigFileUsed(); used != "" {
		return used
	}
	return "defaults and environment"
}

// redactURL drops credentials and query parameters from a database URL.
func redactURL(raw string) string {
	if idx := strings.Index(raw, "?"); idx >= 0 {
		raw = raw[:idx]
	}
	if scheme := strings.Index(raw, "://"); scheme >= 0 {
		if at := strings.LastIndex(raw, "@"); at > scheme {
			raw = raw[:scheme+3] + raw[at+1:]
		}
	}
	return raw
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
