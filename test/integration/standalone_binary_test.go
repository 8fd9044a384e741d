package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildStandaloneBinary compiles the CLI and copies it into a directory
// with no checkout around it.
func buildStandaloneBinary(t *testing.T) (binary string, workDir string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}

	goMod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err, "go env GOMOD")
	repoRoot := filepath.Dir(strings.TrimSpace(string(goMod)))
	require.NotEqual(t, ".", repoRoot, "go env GOMOD returned empty")

	built := filepath.Join(t.TempDir(), "sheetkeeper")
	build := exec.Command("go", "build", "-o", built, "./cmd/sheetkeeper")
	build.Dir = repoRoot
	build.Env = os.Environ()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build: %s", out)

	workDir = t.TempDir()
	binary = filepath.Join(workDir, "sheetkeeper")
	data, err := os.ReadFile(built)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(binary, data, 0o755))
	return binary, workDir
}

func TestStandaloneBinaryRunsOutsideRepo(t *testing.T) {
	binary, workDir := buildStandaloneBinary(t)

	for _, args := range [][]string{{"version"}, {"--help"}, {"rate-limit", "--help"}} {
		cmd := exec.Command(binary, args...)
		cmd.Dir = workDir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "%v: %s", args, out)
	}
}

func TestStandaloneBinaryCompactsFromStdin(t *testing.T) {
	binary, workDir := buildStandaloneBinary(t)

	var stdout bytes.Buffer
	cmd := exec.Command(binary, "compact")
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(`{"config":{"themeColor":"#e76f51"},"characters":{"c1":{"id":"c1","name":"Wren","sprite":"…"}}}`)
	cmd.Stdout = &stdout
	require.NoError(t, cmd.Run())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	assert.Equal(t, true, payload["compressed"])

	var expanded bytes.Buffer
	cmd = exec.Command(binary, "expand")
	cmd.Dir = workDir
	cmd.Stdin = bytes.NewReader(stdout.Bytes())
	cmd.Stdout = &expanded
	require.NoError(t, cmd.Run())

	var state map[string]any
	require.NoError(t, json.Unmarshal(expanded.Bytes(), &state))
	character := state["characters"].(map[string]any)["c1"].(map[string]any)
	assert.Equal(t, "Wren", character["name"])
	assert.NotContains(t, character, "sprite")
}
