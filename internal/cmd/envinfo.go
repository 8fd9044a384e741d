package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/engine"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== SheetKeeper Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		identity := GetAppIdentity()
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + identity.BinaryName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			observability.CLILogger.Info("  DB URL:         "+redactURL(cfg.Store.URL), zap.String("db_url", redactURL(cfg.Store.URL)))
		} else {
			observability.CLILogger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		observability.CLILogger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		configFile := config.ConfigFileUsed()
		if configFile == "" {
			configFile = config.DefaultConfigPath() + " (not found)"
		}
		observability.CLILogger.Info("  Config File:    "+configFile, zap.String("config_file", configFile))
		observability.CLILogger.Info("")

		logger := observability.CLILogger
		logger.Info("Sync:")
		logger.Info("  Idle Timeout:        "+cfg.Sync.IdleTimeout.String(), zap.Duration("idle_timeout", cfg.Sync.IdleTimeout))
		logger.Info("  Unsubscribe Timeout: "+cfg.Sync.UnsubscribeTimeout.String(), zap.Duration("unsubscribe_timeout", cfg.Sync.UnsubscribeTimeout))
		logger.Info(fmt.Sprintf("  Max Payload Bytes:   %d", cfg.Sync.MaxPayloadBytes), zap.Int("max_payload_bytes", cfg.Sync.MaxPayloadBytes))
		logger.Info("")

		logger.Info("Realtime:")
		logger.Info(fmt.Sprintf("  Max Frame Bytes:     %d", cfg.Realtime.MaxFrameBytes))
		logger.Info(fmt.Sprintf("  Frames/Second:       %.1f (burst %d)", cfg.Realtime.FramesPerSecond, cfg.Realtime.FrameBurst))
		logger.Info("  Ping Interval:       " + cfg.Realtime.PingInterval.String())
		logger.Info("")

		logger.Info("Rate Limits:")
		logger.Info("  Window Store:        "+cfg.RateLimitStore, zap.String("rate_limit_store", cfg.RateLimitStore))
		logger.Info(fmt.Sprintf("  Margin:              %.2f", cfg.RateLimitMargin), zap.Float64("rate_limit_margin", cfg.RateLimitMargin))
		overrides, err := limiterOverrides(cfg.RateLimits)
		if err != nil {
			logger.Warn("Invalid rate limit overrides", zap.Error(err))
		} else {
			limiters := engine.NewLimiters(engine.LimiterOptions{Overrides: overrides, Margin: cfg.RateLimitMargin})
			for _, class := range core.ActionClasses {
				limit := limiters.For(class).Limit
				logger.Info(fmt.Sprintf("  %-20s %d per %s", string(class)+":", limit.MaxCalls, limit.Window))
			}
		}
		logger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
