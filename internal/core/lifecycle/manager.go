// Package lifecycle suspends realtime channel subscriptions while a session
// is idle and tells channel owners when the session becomes active again.
//
// A Manager is either Active or Idle. The idle timer moves it to Idle and
// unsubscribes every non-critical channel; the next activity signal moves
// it back to Active and fires the reconnect listeners. The manager never
// recreates subscriptions itself: owners observe OnReconnect and
// re-register their channels.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/metrics"
)

const (
	// DefaultIdleTimeout is the inactivity period before suspension.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultUnsubscribeTimeout bounds each unsubscribe issued by the idle timer.
	DefaultUnsubscribeTimeout = 10 * time.Second

	reasonIdle     = "idle"
	reasonTeardown = "teardown"
)

// Handle is the capability to tear down one channel subscription.
// Unsubscribe on an already unsubscribed handle should be a no-op.
type Handle interface {
	Unsubscribe(ctx context.Context) error
}

// HandleFunc adapts a function to Handle.
type HandleFunc func(ctx context.Context) error

func (f HandleFunc) Unsubscribe(ctx context.Context) error { return f(ctx) }

// ActivityEvent is one user activity signal.
type ActivityEvent struct {
	Source string
}

// Options configures a Manager.
type Options struct {
	IdleTimeout        time.Duration
	UnsubscribeTimeout time.Duration
	Clock              Clock
	Logger             *logging.Logger
}

type channel struct {
	id          string
	handle      Handle
	critical    bool
	suspended   bool
	connectedAt time.Time
}

// Manager tracks session activity and the channels registered for it.
type Manager struct {
	idleTimeout        time.Duration
	unsubscribeTimeout time.Duration
	clock              Clock
	logger             *logging.Logger

	mu           sync.Mutex
	channels     map[string]*channel
	idle         bool
	lastActivity time.Time
	timer        Timer
	generation   uint64
	suspensions  uint64

	listenersMu  sync.Mutex
	listeners    map[uint64]func()
	nextListener uint64
}

// registered counts channels across all managers for the gauge.
var registered atomic.Int64

// New returns an Active manager with its idle timer armed.
func New(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.UnsubscribeTimeout <= 0 {
		opts.UnsubscribeTimeout = DefaultUnsubscribeTimeout
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}

	m := &Manager{
		idleTimeout:        opts.IdleTimeout,
		unsubscribeTimeout: opts.UnsubscribeTimeout,
		clock:              opts.Clock,
		logger:             opts.Logger,
		channels:           make(map[string]*channel),
		listeners:          make(map[uint64]func()),
	}

	m.mu.Lock()
	m.lastActivity = m.clock.Now()
	m.arm()
	m.mu.Unlock()

	return m
}

// IdleTimeout returns the configured inactivity period.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// Idle reports whether the manager is in the Idle state.
func (m *Manager) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// RecordActivity re-arms the idle timer. If the manager was Idle it becomes
// Active and the reconnect listeners run once, synchronously, before
// RecordActivity returns.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	wasIdle := m.idle
	m.idle = false
	m.lastActivity = m.clock.Now()
	m.arm()
	m.mu.Unlock()

	if !wasIdle {
		return
	}

	metrics.RecordIdleTransition(false)
	m.debug("session active, notifying channel owners")
	m.notifyReconnect()
}

// RegisterChannel inserts or replaces the record for id.
func (m *Manager) RegisterChannel(id string, handle Handle, critical bool) {
	m.mu.Lock()
	_, existed := m.channels[id]
	m.channels[id] = &channel{
		id:          id,
		handle:      handle,
		critical:    critical,
		connectedAt: m.clock.Now(),
	}
	m.mu.Unlock()

	if !existed {
		metrics.SetRegisteredChannels(int(registered.Add(1)))
	}
	m.debug("channel registered", zap.String("channel", id), zap.Bool("critical", critical))
}

// UnregisterChannel forgets id without unsubscribing it.
func (m *Manager) UnregisterChannel(id string) {
	m.mu.Lock()
	_, existed := m.channels[id]
	delete(m.channels, id)
	m.mu.Unlock()

	if existed {
		metrics.SetRegisteredChannels(int(registered.Add(-1)))
		m.debug("channel unregistered", zap.String("channel", id))
	}
}

// DisconnectAll unsubscribes every channel regardless of criticality,
// clears the registry and disarms the idle timer. Failures are logged.
// A later RecordActivity arms the timer again.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.Lock()
	targets := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		targets = append(targets, ch)
	}
	m.channels = make(map[string]*channel)
	m.disarm()
	m.mu.Unlock()

	if len(targets) > 0 {
		metrics.SetRegisteredChannels(int(registered.Add(-int64(len(targets)))))
	}

	failed := m.unsubscribe(ctx, reasonTeardown, targets)
	m.info("channels disconnected",
		zap.Int("channels", len(targets)),
		zap.Int("failed", len(failed)))
}

// Stats returns a snapshot of the manager.
func (m *Manager) Stats() core.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	stats := core.SessionStats{
		Channels:       len(m.channels),
		Idle:           m.idle,
		LastActivityAt: m.lastActivity,
		ChannelStats:   make([]core.ChannelStat, 0, len(m.channels)),
	}
	for _, ch := range m.channels {
		if ch.critical {
			stats.Critical++
		}
		stats.ChannelStats = append(stats.ChannelStats, core.ChannelStat{
			ID:          ch.id,
			Critical:    ch.critical,
			Suspended:   ch.suspended,
			ConnectedAt: ch.connectedAt,
			Uptime:      now.Sub(ch.connectedAt),
		})
	}
	sort.Slice(stats.ChannelStats, func(i, j int) bool {
		return stats.ChannelStats[i].ID < stats.ChannelStats[j].ID
	})
	return stats
}

// OnReconnect registers fn to run on every Idle to Active transition.
// The returned function removes it.
func (m *Manager) OnReconnect(fn func()) (cancel func()) {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

// Watch feeds events into RecordActivity until ctx is done or events is
// closed.
func (m *Manager) Watch(ctx context.Context, events <-chan ActivityEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			m.RecordActivity()
		}
	}
}

// arm replaces the pending idle timer. Callers hold m.mu.
func (m *Manager) arm() {
	m.disarm()
	gen := m.generation
	m.timer = m.clock.AfterFunc(m.idleTimeout, func() { m.suspend(gen) })
}

// disarm stops the pending timer and invalidates any fire already queued.
// Callers hold m.mu.
func (m *Manager) disarm() {
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// suspend is the idle timer callback for generation gen.
func (m *Manager) suspend(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.idle {
		m.mu.Unlock()
		return
	}
	m.idle = true
	m.timer = nil
	m.suspensions++
	epoch := m.suspensions
	// Records still marked suspended are asked again; handles treat a
	// repeated Unsubscribe as a no-op.
	targets := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if !ch.critical {
			targets = append(targets, ch)
		}
	}
	m.mu.Unlock()

	metrics.RecordIdleTransition(true)

	ctx, cancel := context.WithTimeout(context.Background(), m.unsubscribeTimeout)
	defer cancel()
	failed := m.unsubscribe(ctx, reasonIdle, targets)

	m.mu.Lock()
	// Activity during the unsubscribe already moved the manager back to
	// Active and notified owners; the records stay live for them.
	stillIdle := m.idle && m.suspensions == epoch
	for _, ch := range targets {
		if !stillIdle {
			break
		}
		if _, bad := failed[ch.id]; bad {
			continue
		}
		// The owner may have re-registered while the unsubscribe was in flight.
		if current, ok := m.channels[ch.id]; ok && current == ch {
			ch.suspended = true
		}
	}
	m.mu.Unlock()

	m.info("session idle, channels suspended",
		zap.Int("suspended", len(targets)-len(failed)),
		zap.Int("failed", len(failed)))
}

type unsubscribeResult struct {
	id  string
	err error
}

// unsubscribe calls every handle concurrently and waits for all of them.
// It returns the failures keyed by channel id.
func (m *Manager) unsubscribe(ctx context.Context, reason string, targets []*channel) map[string]error {
	if len(targets) == 0 {
		return nil
	}

	p := pool.NewWithResults[unsubscribeResult]()
	for _, ch := range targets {
		p.Go(func() unsubscribeResult {
			return unsubscribeResult{id: ch.id, err: safeUnsubscribe(ctx, ch.handle)}
		})
	}

	failed := make(map[string]error)
	for _, res := range p.Wait() {
		metrics.RecordUnsubscribe(reason, res.err)
		if res.err != nil {
			failed[res.id] = res.err
			m.warn("channel unsubscribe failed",
				zap.String("channel", res.id),
				zap.String("reason", reason),
				zap.Error(res.err))
		}
	}
	return failed
}

func safeUnsubscribe(ctx context.Context, handle Handle) (err error) {
	if handle == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unsubscribe panicked: %v", r)
		}
	}()
	return handle.Unsubscribe(ctx)
}

func (m *Manager) notifyReconnect() {
	m.listenersMu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *Manager) debug(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Debug(msg, fields...)
	}
}

func (m *Manager) info(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Info(msg, fields...)
	}
}

func (m *Manager) warn(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Warn(msg, fields...)
	}
}
