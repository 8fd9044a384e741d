package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

func TestCLILogger(t *testing.T) {
	observability.InitCLILogger("sheetkeeper-test", true)
	require.NotNil(t, observability.CLILogger)

	observability.CLILogger.Debug("verbose CLI message", zap.String("mode", "verbose"))
}

func TestServerLoggerProfiles(t *testing.T) {
	t.Run("structured", func(t *testing.T) {
		cfg := observability.ServerLoggerConfig("sheetkeeper-test", "debug", "STRUCTURED", "sheetkeeper")
		assert.Equal(t, logging.ProfileStructured, cfg.Profile)
		assert.Equal(t, "DEBUG", cfg.DefaultLevel)
		assert.Equal(t, "sheetkeeper", cfg.StaticFields["namespace"])
		require.Len(t, cfg.Middleware, 1)
		assert.Equal(t, "correlation", cfg.Middleware[0].Name)
		assert.Equal(t, "json", cfg.Sinks[0].Format)

		observability.InitServerLogger("sheetkeeper-test", "info", "STRUCTURED", "sheetkeeper")
		require.NotNil(t, observability.ServerLogger)
		observability.ServerLogger.Info("structured message",
			zap.String("topic", "session:gm-1"),
			zap.Int("channels", 3))
	})

	t.Run("simple", func(t *testing.T) {
		cfg := observability.ServerLoggerConfig("sheetkeeper-test", "WARN", "simple")
		assert.Equal(t, logging.ProfileSimple, cfg.Profile)
		assert.Equal(t, "WARN", cfg.DefaultLevel)
		assert.Empty(t, cfg.Middleware)
		assert.NotContains(t, cfg.StaticFields, "namespace")

		logger, err := logging.New(cfg)
		require.NoError(t, err)
		logger.Warn("simple message")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		cfg := observability.ServerLoggerConfig("sheetkeeper-test", "loud", "")
		assert.Equal(t, "INFO", cfg.DefaultLevel)
		assert.Equal(t, logging.ProfileStructured, cfg.Profile)
	})
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
	assert.NotEmpty(t, crucible.GetVersionString())

	require.NotNil(t, crucible.SchemaRegistry)
	assert.NotNil(t, crucible.SchemaRegistry.Observability())
}

func TestMetricsPortBeforeInit(t *testing.T) {
	assert.GreaterOrEqual(t, observability.GetMetricsPort(), 0)
}
