package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionHandlerReportsBuildAndIdentity(t *testing.T) {
	SetVersionInfo("0.4.0", "9f1c2e7", "2025-03-14T09:26:53Z")
	SetAppIdentity(&appidentity.Identity{BinaryName: "sheetkeeper-test"})
	t.Cleanup(func() {
		SetVersionInfo("dev", "unknown", "unknown")
		SetAppIdentity(nil)
	})

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, "sheetkeeper-test", resp.App.Name)
	assert.Equal(t, "0.4.0", resp.App.Version)
	assert.Equal(t, "9f1c2e7", resp.App.Commit)
	assert.Equal(t, runtime.Version(), resp.App.GoVersion)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
	assert.NotEmpty(t, resp.Dependencies.Crucible)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, resp.Runtime.Platform)
}

func TestCurrentVersionFallsBackWithoutIdentity(t *testing.T) {
	SetAppIdentity(nil)

	v := CurrentVersion()
	assert.NotEmpty(t, v.App.Name)
	assert.Equal(t, AppVersion, v.App.Version)
	assert.Positive(t, v.Runtime.NumCPU)
}
