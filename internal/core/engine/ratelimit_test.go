package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
)

type failingWindowStore struct{}

func (failingWindowStore) Window(ctx context.Context, limiter, key string) ([]time.Time, error) {
	return nil, errors.New("store offline")
}

func (failingWindowStore) SaveWindow(ctx context.Context, limiter, key string, timestamps []time.Time) error {
	return errors.New("store offline")
}

func (failingWindowStore) DeleteWindow(ctx context.Context, limiter, key string) error {
	return errors.New("store offline")
}

func newTestLimiter(limit RateLimit, clock *time.Time) *Limiter {
	limiter := NewLimiter("test", limit, nil)
	limiter.Clock = func() time.Time { return *clock }
	return limiter
}

func TestLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(RateLimit{MaxCalls: 3, Window: time.Minute}, &now)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.IsAllowed(ctx, "player-1"), "call %d", i+1)
		now = now.Add(time.Second)
	}
	require.False(t, limiter.IsAllowed(ctx, "player-1"))

	// The first call was at T0; once T0+window has passed it leaves the window.
	now = time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	require.True(t, limiter.IsAllowed(ctx, "player-1"))
}

func TestLimiterRemaining(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(RateLimit{MaxCalls: 4, Window: time.Minute}, &now)

	require.Equal(t, 4, limiter.Remaining(ctx, "gm"))
	for k := 1; k <= 4; k++ {
		require.True(t, limiter.IsAllowed(ctx, "gm"))
		require.Equal(t, 4-k, limiter.Remaining(ctx, "gm"))
	}

	require.False(t, limiter.IsAllowed(ctx, "gm"))
	require.Equal(t, 0, limiter.Remaining(ctx, "gm"))
}

func TestLimiterRemainingDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(RateLimit{MaxCalls: 1, Window: time.Minute}, &now)

	for i := 0; i < 5; i++ {
		require.Equal(t, 1, limiter.Remaining(ctx, "k"))
	}
	require.True(t, limiter.IsAllowed(ctx, "k"))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(RateLimit{MaxCalls: 1, Window: time.Minute}, &now)

	require.True(t, limiter.IsAllowed(ctx, "a"))
	require.False(t, limiter.IsAllowed(ctx, "a"))
	require.True(t, limiter.IsAllowed(ctx, "b"))
}

func TestLimiterDeniedCallsPruneStoredWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWindowStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewLimiter("chat", RateLimit{MaxCalls: 2, Window: time.Minute}, store)
	limiter.Clock = func() time.Time { return now }

	require.True(t, limiter.IsAllowed(ctx, "k"))
	now = now.Add(30 * time.Second)
	require.True(t, limiter.IsAllowed(ctx, "k"))
	require.False(t, limiter.IsAllowed(ctx, "k"))

	stored, err := store.Window(ctx, "chat", "k")
	require.NoError(t, err)
	require.Len(t, stored, 2)

	now = now.Add(45 * time.Second)
	limiter.Remaining(ctx, "k")
	stored, err = store.Window(ctx, "chat", "k")
	require.NoError(t, err)
	require.Len(t, stored, 2, "Remaining must not mutate stored state")

	require.True(t, limiter.IsAllowed(ctx, "k"))
	stored, err = store.Window(ctx, "chat", "k")
	require.NoError(t, err)
	require.Len(t, stored, 2, "expired call pruned, new call appended")
}

func TestLimiterReset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(RateLimit{MaxCalls: 1, Window: time.Hour}, &now)

	require.True(t, limiter.IsAllowed(ctx, "reset-me"))
	require.False(t, limiter.IsAllowed(ctx, "reset-me"))

	limiter.Reset(ctx, "reset-me")
	require.Equal(t, 1, limiter.Remaining(ctx, "reset-me"))
	require.True(t, limiter.IsAllowed(ctx, "reset-me"))
}

func TestLimiterRetryAfter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(RateLimit{MaxCalls: 2, Window: time.Minute}, &now)

	require.Zero(t, limiter.RetryAfter(ctx, "k"))
	require.True(t, limiter.IsAllowed(ctx, "k"))
	now = now.Add(10 * time.Second)
	require.True(t, limiter.IsAllowed(ctx, "k"))

	require.Equal(t, 50*time.Second, limiter.RetryAfter(ctx, "k"))
}

func TestLimiterStoreFailureAdmits(t *testing.T) {
	limiter := NewLimiter("test", RateLimit{MaxCalls: 1, Window: time.Minute}, failingWindowStore{})

	require.True(t, limiter.IsAllowed(context.Background(), "k"))
	require.True(t, limiter.IsAllowed(context.Background(), "k"))
}

func TestLimitersMargin(t *testing.T) {
	limiters := NewLimiters(LimiterOptions{
		Overrides: map[core.ActionClass]RateLimit{
			core.ActionChatMessage: {MaxCalls: 10, Window: time.Minute},
		},
		Margin: 0.9,
	})

	require.Equal(t, 9, limiters.For(core.ActionChatMessage).Limit.MaxCalls)
	require.Equal(t, 2, limiters.For(core.ActionPasswordReset).Limit.MaxCalls)
}

func TestLimitersSeparateKeySpaces(t *testing.T) {
	ctx := context.Background()
	limiters := NewLimiters(LimiterOptions{
		Overrides: map[core.ActionClass]RateLimit{
			core.ActionDiceRoll:    {MaxCalls: 1, Window: time.Minute},
			core.ActionChatMessage: {MaxCalls: 1, Window: time.Minute},
		},
	})

	require.True(t, limiters.For(core.ActionDiceRoll).IsAllowed(ctx, "user-1"))
	require.False(t, limiters.For(core.ActionDiceRoll).IsAllowed(ctx, "user-1"))
	require.True(t, limiters.For(core.ActionChatMessage).IsAllowed(ctx, "user-1"))
}

func TestLimitersFallback(t *testing.T) {
	limiters := NewLimiters(LimiterOptions{})

	require.Same(t, limiters.For(core.ActionAPICall), limiters.For(core.ActionClass("unknown")))
	require.Equal(t, DefaultLimits[core.ActionDiceRoll], limiters.For(core.ActionDiceRoll).Limit)
}

func TestLimitersIgnoreInvalidOverrides(t *testing.T) {
	limiters := NewLimiters(LimiterOptions{
		Overrides: map[core.ActionClass]RateLimit{
			core.ActionDiceRoll: {MaxCalls: 0, Window: time.Minute},
		},
	})

	require.Equal(t, DefaultLimits[core.ActionDiceRoll], limiters.For(core.ActionDiceRoll).Limit)
}
