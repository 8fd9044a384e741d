// Package appid resolves the application identity, falling back to the
// copy embedded in the binary when no .fulmen/app.yaml is found.
package appid

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/sheetkeeper/sheetkeeper/internal/assets/appidentity"
)

// DefaultEnvPrefix applies when the identity carries no env_prefix.
const DefaultEnvPrefix = "SHEETKEEPER_"

func init() {
	// Explicit identity (Options.ExplicitPath, FULMEN_APP_IDENTITY_PATH)
	// still wins over the embedded copy.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// EnvPrefix returns the identity's env prefix, always ending in "_".
func EnvPrefix(identity *appidentity.Identity) string {
	prefix := DefaultEnvPrefix
	if identity != nil && strings.TrimSpace(identity.EnvPrefix) != "" {
		prefix = strings.TrimSpace(identity.EnvPrefix)
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// EnvVar names a prefixed environment variable, e.g. EnvVar(id, "ADMIN_TOKEN").
func EnvVar(identity *appidentity.Identity, name string) string {
	return EnvPrefix(identity) + strings.ToUpper(name)
}
