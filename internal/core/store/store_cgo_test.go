//go:build cgo

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
)

func TestOpenMemoryStoreSharesOneDatabase(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, "libsql", s.Driver())
	assert.False(t, s.Remote())
	assert.Equal(t, 1, s.DB.Stats().MaxOpenConnections)
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Migrate(ctx))
	_, err = s.SaveState(ctx, "gm-1", []byte(`{"v":1}`))
	require.NoError(t, err)
	data, err := s.LoadState(ctx, "gm-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(data))
}

func TestOpenLocalStoreConfiguresSQLite(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/sheetkeeper.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, 1, s.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, localBusyTimeoutMs, busyTimeout)
}
