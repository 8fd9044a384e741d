package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/appid"
	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// App identity loaded from .fulmen/app.yaml
	appIdentity *appidentity.Identity

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the loaded app identity (only valid after initConfig)
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	// NOTE: initConfig() overwrites these from app identity.
	Use:   filepath.Base(os.Args[0]),
	Short: "Resource-conserving sync layer for tabletop RPG character state",
	Long: `Rate limits player actions, compacts character state for storage and
suspends idle realtime channels.

Use the subcommands to perform specific operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading from emitting metrics to stdout. serve installs
	// the real telemetry system later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	// Load app identity early for help text (before cobra processes --help)
	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		applyIdentity(identity)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; defaults to app identity config path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig resolves app identity, the CLI logger and the config file
// used by later config.Load calls.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitFileNotFound, "Failed to load app identity from .fulmen/app.yaml", err)
	}
	applyIdentity(identity)

	observability.InitCLILogger(appIdentity.BinaryName, verbose)

	config.SetConfigFile(cfgFile)
	if verbose {
		if used := config.ConfigFileUsed(); used != "" {
			observability.CLILogger.Debug("Using config file", zap.String("path", used))
		} else {
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		}
	}
}

func applyIdentity(identity *appidentity.Identity) {
	if identity == nil {
		return
	}
	appIdentity = identity

	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
		rootCmd.Long = fmt.Sprintf("%s - %s\n\nUse the subcommands to perform specific operations.", identity.BinaryName, identity.Description)
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}
}
