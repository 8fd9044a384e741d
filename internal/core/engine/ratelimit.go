package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/metrics"
)

// RateLimit bounds calls per key within a rolling window.
type RateLimit struct {
	MaxCalls int
	Window   time.Duration
}

// DefaultLimits provides the per-class limits used when no override is configured.
var DefaultLimits = map[core.ActionClass]RateLimit{
	core.ActionDiceRoll:      {MaxCalls: 10, Window: 10 * time.Second},
	core.ActionChatMessage:   {MaxCalls: 20, Window: 10 * time.Second},
	core.ActionInviteCode:    {MaxCalls: 5, Window: 15 * time.Minute},
	core.ActionPasswordReset: {MaxCalls: 3, Window: time.Hour},
	core.ActionAPICall:       {MaxCalls: 60, Window: time.Minute},
}

// WindowStore persists the timestamps of each (limiter, key) window.
type WindowStore interface {
	Window(ctx context.Context, limiter, key string) ([]time.Time, error)
	SaveWindow(ctx context.Context, limiter, key string, timestamps []time.Time) error
	DeleteWindow(ctx context.Context, limiter, key string) error
}

// Limiter is a sliding-window admission check. Keys are independent of
// each other and of keys in other limiters.
type Limiter struct {
	Name   string
	Limit  RateLimit
	Store  WindowStore
	Clock  func() time.Time
	Logger *logging.Logger

	mu sync.Mutex
}

// NewLimiter returns a limiter backed by store, or by a fresh in-memory
// store when store is nil.
func NewLimiter(name string, limit RateLimit, store WindowStore) *Limiter {
	if store == nil {
		store = NewMemoryWindowStore()
	}
	return &Limiter{Name: name, Limit: limit, Store: store}
}

// IsAllowed records a call for key and reports whether it fits the window.
// The stored window is pruned whether or not the call is admitted.
func (l *Limiter) IsAllowed(ctx context.Context, key string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window, err := l.load(ctx, key, now)
	if err != nil {
		l.warn("rate window load failed, admitting call", key, err)
		return true
	}

	allowed := len(window) < l.maxCalls()
	if allowed {
		window = append(window, now)
	}

	if err := l.Store.SaveWindow(ctx, l.Name, key, window); err != nil {
		l.warn("rate window save failed", key, err)
	}

	metrics.RecordRateDecision(l.Name, allowed)
	return allowed
}

// Remaining reports how many calls key may still make in the current window.
func (l *Limiter) Remaining(ctx context.Context, key string) int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	window, err := l.load(ctx, key, l.now())
	if err != nil {
		l.warn("rate window load failed", key, err)
		return l.maxCalls()
	}

	remaining := l.maxCalls() - len(window)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RetryAfter reports how long until key regains at least one call. It is
// zero when a call would be admitted now.
func (l *Limiter) RetryAfter(ctx context.Context, key string) time.Duration {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window, err := l.load(ctx, key, now)
	if err != nil || len(window) < l.maxCalls() {
		return 0
	}

	// The oldest surviving call is the first to leave the window.
	excess := len(window) - l.maxCalls()
	wait := window[excess].Add(l.Limit.Window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.Store.DeleteWindow(ctx, l.Name, key); err != nil {
		l.warn("rate window reset failed", key, err)
	}
}

func (l *Limiter) load(ctx context.Context, key string, now time.Time) ([]time.Time, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.Store == nil {
		l.Store = NewMemoryWindowStore()
	}

	timestamps, err := l.Store.Window(ctx, l.Name, key)
	if err != nil {
		return nil, err
	}

	window := core.RateWindow{Limiter: l.Name, Key: key, Timestamps: timestamps}
	return window.Prune(now.Add(-l.Limit.Window)), nil
}

func (l *Limiter) maxCalls() int {
	if l.Limit.MaxCalls < 1 {
		return 1
	}
	return l.Limit.MaxCalls
}

func (l *Limiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

func (l *Limiter) warn(msg, key string, err error) {
	if l.Logger == nil {
		return
	}
	l.Logger.Warn(msg,
		zap.String("limiter", l.Name),
		zap.String("key", key),
		zap.Error(err))
}

// Limiters holds one limiter per action class.
type Limiters struct {
	byClass map[core.ActionClass]*Limiter
}

// LimiterOptions configures NewLimiters.
type LimiterOptions struct {
	Store     WindowStore
	Overrides map[core.ActionClass]RateLimit
	Margin    float64
	Clock     func() time.Time
	Logger    *logging.Logger
}

// NewLimiters builds the per-class limiters from DefaultLimits, overrides
// and an optional safety margin.
func NewLimiters(opts LimiterOptions) *Limiters {
	store := opts.Store
	if store == nil {
		store = NewMemoryWindowStore()
	}

	limits := make(map[core.ActionClass]RateLimit, len(DefaultLimits))
	for class, limit := range DefaultLimits {
		limits[class] = limit
	}
	for class, limit := range opts.Overrides {
		if strings.TrimSpace(string(class)) == "" || limit.MaxCalls <= 0 || limit.Window <= 0 {
			continue
		}
		limits[class] = limit
	}

	set := &Limiters{byClass: make(map[core.ActionClass]*Limiter, len(limits))}
	for class, limit := range limits {
		limiter := NewLimiter(string(class), applyMargin(limit, opts.Margin), store)
		limiter.Clock = opts.Clock
		limiter.Logger = opts.Logger
		set.byClass[class] = limiter
	}
	return set
}

// For returns the limiter for class, falling back to the generic api_call
// limiter for classes without their own.
func (s *Limiters) For(class core.ActionClass) *Limiter {
	if s == nil {
		return nil
	}
	if limiter, ok := s.byClass[class]; ok {
		return limiter
	}
	return s.byClass[core.ActionAPICall]
}

func applyMargin(limit RateLimit, margin float64) RateLimit {
	if margin <= 0 || margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit.MaxCalls) * margin))
	if adjusted < 1 {
		adjusted = 1
	}
	limit.MaxCalls = adjusted
	return limit
}

// MemoryWindowStore keeps rate windows in process memory.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryWindowStore returns an empty in-memory window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string][]time.Time)}
}

func (m *MemoryWindowStore) Window(ctx context.Context, limiter, key string) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.windows[windowKey(limiter, key)]
	out := make([]time.Time, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *MemoryWindowStore) SaveWindow(ctx context.Context, limiter, key string, timestamps []time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(timestamps) == 0 {
		delete(m.windows, windowKey(limiter, key))
		return nil
	}
	stored := make([]time.Time, len(timestamps))
	copy(stored, timestamps)
	m.windows[windowKey(limiter, key)] = stored
	return nil
}

func (m *MemoryWindowStore) DeleteWindow(ctx context.Context, limiter, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, windowKey(limiter, key))
	return nil
}

// Len reports the number of stored windows.
func (m *MemoryWindowStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func windowKey(limiter, key string) string {
	return limiter + "\x00" + key
}
