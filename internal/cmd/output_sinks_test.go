package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/output"
)

func TestResolveSinkPath(t *testing.T) {
	path, err := resolveSinkPath("", "", "rate-limit.list", output.FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = resolveSinkPath(" out.json ", "", "rate-limit.list", output.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "out.json", path)

	dir := t.TempDir()
	path, err = resolveSinkPath("", dir, "rate-limit.list", output.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rate-limit.list.md"), path)

	_, err = resolveSinkPath("a.json", dir, "x", output.FormatJSON)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestOpenSinkStdout(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	sink, err := openSink(cmd, "-")
	require.NoError(t, err)
	_, err = fmt.Fprint(sink, "hello")
	require.NoError(t, err)
	require.NoError(t, sink.Commit())
	require.NoError(t, sink.Close())
	assert.Equal(t, "hello", buf.String())
}

func TestOpenSinkFileCommit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "state.json")

	sink, err := openSink(&cobra.Command{}, target)
	require.NoError(t, err)
	_, err = fmt.Fprint(sink, `{"ok":true}`)
	require.NoError(t, err)

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr), "target must not exist before commit")

	require.NoError(t, sink.Commit())
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestOpenSinkCloseDiscards(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "state.json")

	sink, err := openSink(&cobra.Command{}, target)
	require.NoError(t, err)
	_, err = fmt.Fprint(sink, "partial")
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
