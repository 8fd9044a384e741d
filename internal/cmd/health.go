package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	errwrap "github.com/sheetkeeper/sheetkeeper/internal/errors"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the application can start successfully.",
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		logger.Info("✅ Version information available")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed"))
			return
		}
		logger.Info("✅ Configuration loaded",
			zap.String("rate_limit_store", cfg.RateLimitStore),
			zap.Int("max_payload_bytes", cfg.Sync.MaxPayloadBytes))

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Store unavailable", errwrap.WrapDatabaseError(cmd.Context(), err, "store open failed"))
			return
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
		if err := db.Ping(cmd.Context()); err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Store unavailable", errwrap.WrapDatabaseError(cmd.Context(), err, "store ping failed"))
			return
		}
		logger.Info("✅ Store reachable and migrated", zap.String("driver", db.Driver()), zap.Bool("remote", db.Remote()))

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
