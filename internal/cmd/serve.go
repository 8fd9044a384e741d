package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/appid"
	"github.com/sheetkeeper/sheetkeeper/internal/config"
	errwrap "github.com/sheetkeeper/sheetkeeper/internal/errors"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
	"github.com/sheetkeeper/sheetkeeper/internal/realtime"
	"github.com/sheetkeeper/sheetkeeper/internal/server"
	"github.com/sheetkeeper/sheetkeeper/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and realtime server",
	Long: `Start the HTTP API and the realtime websocket endpoint with graceful
shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (logging only; limits and timeouts need a restart)

On shutdown every realtime session unsubscribes its channels before the
store is closed and logs are flushed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := config.Load(cmd.Context(), serveOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed")
		}

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile, namespace)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		svc, err := buildServices(cmd.Context(), cfg, logger)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "service initialization failed")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.String("store_driver", svc.store.Driver()),
			zap.String("rate_limit_store", cfg.RateLimitStore),
			zap.Duration("session_idle_timeout", cfg.Sync.IdleTimeout))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", handlers.HealthCheckFunc(func(ctx context.Context) error {
			return svc.store.Ping(ctx)
		}))
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})

		rt := realtime.NewHandler(realtime.NewBroker(logger), svc.gate, realtime.Options{
			IdleTimeout:        cfg.Sync.IdleTimeout,
			UnsubscribeTimeout: cfg.Sync.UnsubscribeTimeout,
			MaxFrameBytes:      cfg.Realtime.MaxFrameBytes,
			FramesPerSecond:    cfg.Realtime.FramesPerSecond,
			FrameBurst:         cfg.Realtime.FrameBurst,
			WriteTimeout:       cfg.Realtime.WriteTimeout,
			PingInterval:       cfg.Realtime.PingInterval,
		}, logger)

		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			API: &handlers.API{
				Gate:            svc.gate,
				Syncer:          svc.syncer,
				Codec:           svc.codec,
				MaxPayloadBytes: cfg.Sync.MaxPayloadBytes,
			},
			Realtime:   rt,
			AdminToken: strings.TrimSpace(os.Getenv(appid.EnvVar(identity, "ADMIN_TOKEN"))),
		})

		handlers.SetAppIdentity(identity)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: server, store, metrics exporter, logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Metrics exporter stop failed", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Closing store...")
			if err := svc.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...",
				zap.Int64("active_sessions", rt.ActiveSessions()))
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			reloaded, err := config.Load(ctx, serveOverrides(cmd))
			if err != nil {
				logger.Error("Failed to reload config",
					zap.String("file", config.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			logger.Info("Configuration reloaded",
				zap.String("file", config.ConfigFileUsed()),
				zap.Duration("session_idle_timeout", reloaded.Sync.IdleTimeout),
				zap.Float64("rate_limit_margin", reloaded.RateLimitMargin))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// serveOverrides returns the runtime layer built from flags the user set.
func serveOverrides(cmd *cobra.Command) map[string]any {
	serverOverrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		serverOverrides["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		serverOverrides["port"] = serverPort
	}
	if len(serverOverrides) == 0 {
		return nil
	}
	return map[string]any{"server": serverOverrides}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
