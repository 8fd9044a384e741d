package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
)

var errNotStored = errors.New("not stored")

type memoryStateStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves int
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{docs: make(map[string][]byte)}
}

func (m *memoryStateStore) SaveState(_ context.Context, owner string, encoded []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.docs[owner] = append([]byte(nil), encoded...)
	return 1, nil
}

func (m *memoryStateStore) LoadState(_ context.Context, owner string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[owner]
	if !ok {
		return nil, errNotStored
	}
	return data, nil
}

func newTestSyncer(store StateStore, maxCalls int) *Syncer {
	now := time.Date(2025, 2, 2, 20, 0, 0, 0, time.UTC)
	return &Syncer{
		Codec: &compact.Codec{Clock: func() time.Time { return now }},
		Store: store,
		Gate: &Gate{Limiters: NewLimiters(LimiterOptions{
			Overrides: map[core.ActionClass]RateLimit{
				core.ActionAPICall: {MaxCalls: maxCalls, Window: time.Minute},
			},
			Clock: func() time.Time { return now },
		})},
	}
}

func testState(t *testing.T) map[string]any {
	t.Helper()
	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"config": {"themeColor": "#00ffaa", "crtMode": true},
		"characters": {
			"c1": {"id": "c1", "name": "Rook", "level": 2, "_derivedCache": {"ac": 12}}
		},
		"hasSeenTip": true
	}`), &state))
	return state
}

func TestSyncerPushPull(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStateStore()
	syncer := newTestSyncer(store, 10)

	report, err := syncer.Push(ctx, "player-1", testState(t))
	require.NoError(t, err)
	assert.Equal(t, "player-1", report.Owner)
	assert.Equal(t, 1, report.Parts)
	assert.False(t, report.Split)
	assert.Positive(t, report.OriginalSize)
	assert.Less(t, report.CompactedSize, report.OriginalSize)
	assert.Equal(t, len(store.docs["player-1"]), report.StoredBytes)

	decoded, err := compact.Decode(store.docs["player-1"])
	require.NoError(t, err)
	require.True(t, compact.IsCompacted(decoded))

	state, err := syncer.Pull(ctx, "player-1")
	require.NoError(t, err)

	config := state["config"].(map[string]any)
	assert.Equal(t, "#00ffaa", config["themeColor"])
	assert.Equal(t, true, config["crtMode"])
	assert.Equal(t, false, config["hackerMode"])
	assert.Equal(t, true, state["hasSeenTip"])

	entity := state["characters"].(map[string]any)["c1"].(map[string]any)
	assert.Equal(t, "Rook", entity["name"])
	assert.NotContains(t, entity, "_derivedCache")
	assert.Equal(t, compact.EntityBaselineVersion, entity["version"])
}

func TestSyncerPushCompactedPayload(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStateStore()
	syncer := newTestSyncer(store, 10)

	payload := syncer.Codec.Compact(testState(t))
	data, err := compact.Encode(payload)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))

	report, err := syncer.Push(ctx, "player-2", generic)
	require.NoError(t, err)
	assert.Equal(t, payload.(*compact.Payload).OriginalSize, report.OriginalSize)
}

func TestSyncerRejectsNonObject(t *testing.T) {
	syncer := newTestSyncer(newMemoryStateStore(), 10)

	_, err := syncer.Push(context.Background(), "player-1", []any{"nope"})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = syncer.Push(context.Background(), " ", testState(t))
	require.Error(t, err)
}

func TestSyncerPushIsRateLimited(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStateStore()
	syncer := newTestSyncer(store, 1)

	_, err := syncer.Push(ctx, "player-1", testState(t))
	require.NoError(t, err)

	_, err = syncer.Push(ctx, "player-1", testState(t))
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, store.saves)

	// Other owners have their own window.
	_, err = syncer.Push(ctx, "player-2", testState(t))
	require.NoError(t, err)
}

func TestSyncerPullPropagatesStoreError(t *testing.T) {
	syncer := newTestSyncer(newMemoryStateStore(), 10)

	_, err := syncer.Pull(context.Background(), "missing")
	require.ErrorIs(t, err, errNotStored)
}
