package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/engine"
	"github.com/sheetkeeper/sheetkeeper/internal/core/lifecycle"
	"github.com/sheetkeeper/sheetkeeper/internal/metrics"
)

// CriticalTopicPrefix marks topics that are never suspended for idleness.
const CriticalTopicPrefix = "session:"

// Frame error codes.
const (
	CodeRateLimited     = "RATE_LIMITED"
	CodeInvalidArgument = "INVALID_ARGUMENT"
)

const (
	sendQueueSize   = 64
	teardownTimeout = 5 * time.Second
)

// Options configures websocket sessions.
type Options struct {
	IdleTimeout        time.Duration
	UnsubscribeTimeout time.Duration
	MaxFrameBytes      int64
	FramesPerSecond    float64
	FrameBurst         int
	WriteTimeout       time.Duration
	PingInterval       time.Duration
	Clock              lifecycle.Clock
}

func (o Options) withDefaults() Options {
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 * 1024
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = 40
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

type clientFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Critical  bool            `json:"critical,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Dice      string          `json:"dice,omitempty"`
}

type serverFrame struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Topic     string      `json:"topic,omitempty"`
	Topics    []string    `json:"topics,omitempty"`
	Message   *Message    `json:"message,omitempty"`
	Delivered *int        `json:"delivered,omitempty"`
	Error     *frameError `json:"error,omitempty"`
}

type frameError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// Handler upgrades HTTP requests to realtime sessions.
type Handler struct {
	broker   *Broker
	gate     *engine.Gate
	opts     Options
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	active   atomic.Int64
}

// NewHandler returns a websocket handler publishing through broker and
// gating chat and dice frames through gate.
func NewHandler(broker *Broker, gate *engine.Gate, opts Options, logger *logging.Logger) *Handler {
	if broker == nil {
		broker = NewBroker(logger)
	}
	return &Handler{
		broker: broker,
		gate:   gate,
		opts:   opts.withDefaults(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[*session]struct{}),
	}
}

// Broker returns the broker sessions publish through.
func (h *Handler) Broker() *Broker {
	return h.broker
}

// ActiveSessions returns the number of open sessions.
func (h *Handler) ActiveSessions() int64 {
	return h.active.Load()
}

// Shutdown closes every open session.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	open := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	for _, s := range open {
		s.close()
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.warn("websocket upgrade failed", zap.String("user", user), zap.Error(err))
		return
	}

	s := newSession(h, user, conn)
	h.track(s, true)
	defer h.track(s, false)

	s.run()
}

func (h *Handler) track(s *session, open bool) {
	h.mu.Lock()
	if open {
		h.sessions[s] = struct{}{}
	} else {
		delete(h.sessions, s)
	}
	h.mu.Unlock()

	var count int64
	if open {
		count = h.active.Add(1)
	} else {
		count = h.active.Add(-1)
	}
	metrics.SetActiveSessions(count)
}

func (h *Handler) warn(msg string, fields ...zap.Field) {
	if h.logger != nil {
		h.logger.Warn(msg, fields...)
	}
}

func (h *Handler) debug(msg string, fields ...zap.Field) {
	if h.logger != nil {
		h.logger.Debug(msg, fields...)
	}
}

type topicState struct {
	critical  bool
	suspended bool
	sub       *Subscription
}

type session struct {
	h        *Handler
	user     string
	conn     *websocket.Conn
	manager  *lifecycle.Manager
	frames   *rate.Limiter
	activity chan lifecycle.ActivityEvent

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool

	mu     sync.Mutex
	topics map[string]*topicState
}

func newSession(h *Handler, user string, conn *websocket.Conn) *session {
	limit := rate.Inf
	if h.opts.FramesPerSecond > 0 {
		limit = rate.Limit(h.opts.FramesPerSecond)
	}

	return &session{
		h:        h,
		user:     user,
		conn:     conn,
		frames:   rate.NewLimiter(limit, h.opts.FrameBurst),
		activity: make(chan lifecycle.ActivityEvent),
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		topics:   make(map[string]*topicState),
		manager: lifecycle.New(lifecycle.Options{
			IdleTimeout:        h.opts.IdleTimeout,
			UnsubscribeTimeout: h.opts.UnsubscribeTimeout,
			Clock:              h.opts.Clock,
			Logger:             h.logger,
		}),
	}
}

func (s *session) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopReconnect := s.manager.OnReconnect(s.resume)
	go s.writePump()
	go func() { _ = s.manager.Watch(ctx, s.activity) }()

	s.h.debug("realtime session opened", zap.String("user", s.user))

	defer func() {
		stopReconnect()
		s.closing.Store(true)

		teardownCtx, cancelTeardown := context.WithTimeout(context.Background(), teardownTimeout)
		s.manager.DisconnectAll(teardownCtx)
		cancelTeardown()

		s.close()
		s.h.debug("realtime session closed", zap.String("user", s.user))
	}()

	s.conn.SetReadLimit(s.h.opts.MaxFrameBytes)
	s.readLoop(ctx)
}

func (s *session) readLoop(ctx context.Context) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.h.debug("realtime read failed", zap.String("user", s.user), zap.Error(err))
			}
			return
		}

		select {
		case s.activity <- lifecycle.ActivityEvent{Source: "frame"}:
		case <-ctx.Done():
			return
		}

		if !s.frames.Allow() {
			s.sendError("", CodeRateLimited, "too many frames", 0)
			s.h.warn("realtime frame flood, closing session", zap.String("user", s.user))
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.sendError("", CodeInvalidArgument, "invalid frame payload", 0)
			continue
		}

		s.handle(ctx, frame)
	}
}

func (s *session) handle(ctx context.Context, frame clientFrame) {
	switch frame.Type {
	case "subscribe":
		s.handleSubscribe(frame)
	case "unsubscribe":
		s.handleUnsubscribe(ctx, frame)
	case "publish":
		s.handlePublish(ctx, frame)
	case "roll":
		s.handleRoll(ctx, frame)
	case "ping":
		s.enqueue(serverFrame{Type: "pong", RequestID: frame.RequestID})
	default:
		s.sendError(frame.RequestID, CodeInvalidArgument, "unsupported frame type", 0)
	}
}

func (s *session) handleSubscribe(frame clientFrame) {
	topic := strings.TrimSpace(frame.Topic)
	if topic == "" {
		s.sendError(frame.RequestID, CodeInvalidArgument, "topic is required", 0)
		return
	}
	critical := frame.Critical || strings.HasPrefix(topic, CriticalTopicPrefix)

	s.mu.Lock()
	state, exists := s.topics[topic]
	if exists && !state.suspended {
		s.mu.Unlock()
		s.ack(frame.RequestID, topic, nil)
		return
	}
	if !exists {
		state = &topicState{critical: critical}
		s.topics[topic] = state
	}
	err := s.subscribeLocked(topic, state)
	s.mu.Unlock()

	if err != nil {
		s.sendError(frame.RequestID, CodeInvalidArgument, err.Error(), 0)
		return
	}
	s.ack(frame.RequestID, topic, nil)
}

func (s *session) handleUnsubscribe(ctx context.Context, frame clientFrame) {
	topic := strings.TrimSpace(frame.Topic)

	s.mu.Lock()
	state, exists := s.topics[topic]
	delete(s.topics, topic)
	s.mu.Unlock()

	if exists {
		s.manager.UnregisterChannel(topic)
		if state.sub != nil {
			_ = state.sub.Unsubscribe(ctx)
		}
	}
	s.ack(frame.RequestID, topic, nil)
}

func (s *session) handlePublish(ctx context.Context, frame clientFrame) {
	topic := strings.TrimSpace(frame.Topic)
	if topic == "" {
		s.sendError(frame.RequestID, CodeInvalidArgument, "topic is required", 0)
		return
	}

	var delivered int
	err := s.h.gate.Run(ctx, core.ActionChatMessage, s.user, func(context.Context) error {
		_, delivered = s.h.broker.Publish(Message{Topic: topic, Kind: "chat", From: s.user, Body: frame.Body})
		return nil
	})
	if err != nil {
		s.sendGateError(frame.RequestID, err)
		return
	}
	s.ack(frame.RequestID, topic, &delivered)
}

func (s *session) handleRoll(ctx context.Context, frame clientFrame) {
	topic := strings.TrimSpace(frame.Topic)
	if topic == "" {
		s.sendError(frame.RequestID, CodeInvalidArgument, "topic is required", 0)
		return
	}

	roll, err := RollNotation(nil, frame.Dice)
	if err != nil {
		s.sendError(frame.RequestID, CodeInvalidArgument, err.Error(), 0)
		return
	}
	body, err := json.Marshal(roll)
	if err != nil {
		s.sendError(frame.RequestID, CodeInvalidArgument, "encode roll", 0)
		return
	}

	var delivered int
	err = s.h.gate.Run(ctx, core.ActionDiceRoll, s.user, func(context.Context) error {
		_, delivered = s.h.broker.Publish(Message{Topic: topic, Kind: "roll", From: s.user, Body: body})
		return nil
	})
	if err != nil {
		s.sendGateError(frame.RequestID, err)
		return
	}
	s.ack(frame.RequestID, topic, &delivered)
}

// subscribeLocked attaches a fresh broker subscription for topic and
// registers it with the lifecycle manager. Callers hold s.mu.
func (s *session) subscribeLocked(topic string, state *topicState) error {
	sub, err := s.h.broker.Subscribe(topic, s.deliverer(topic))
	if err != nil {
		return err
	}
	state.sub = sub
	state.suspended = false
	s.manager.RegisterChannel(topic, topicHandle{s: s, topic: topic, sub: sub}, state.critical)
	return nil
}

// resume runs on every idle to active transition and re-attaches every
// suspended topic.
func (s *session) resume() {
	if s.closing.Load() {
		return
	}

	s.mu.Lock()
	resumed := make([]string, 0, len(s.topics))
	for topic, state := range s.topics {
		if !state.suspended {
			continue
		}
		if err := s.subscribeLocked(topic, state); err != nil {
			s.h.warn("topic resubscribe failed", zap.String("user", s.user), zap.String("topic", topic), zap.Error(err))
			continue
		}
		resumed = append(resumed, topic)
	}
	s.mu.Unlock()

	if len(resumed) == 0 {
		return
	}
	sort.Strings(resumed)
	s.enqueue(serverFrame{Type: "resumed", Topics: resumed})
}

// markSuspended records that topic lost its broker subscription to the idle
// timer. If activity arrived while the unsubscribe was in flight, the
// reconnect notification has already run, so the topic is resumed here.
func (s *session) markSuspended(topic string, sub *Subscription) {
	s.mu.Lock()
	state, ok := s.topics[topic]
	changed := ok && state.sub == sub && !state.suspended
	if changed {
		state.suspended = true
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	s.enqueue(serverFrame{Type: "suspended", Topic: topic})

	if !s.manager.Idle() {
		s.resume()
	}
}

func (s *session) deliverer(topic string) DeliverFunc {
	return func(msg Message) {
		s.enqueue(serverFrame{Type: "message", Topic: topic, Message: &msg})
	}
}

func (s *session) ack(requestID, topic string, delivered *int) {
	s.enqueue(serverFrame{Type: "ack", RequestID: requestID, Topic: topic, Delivered: delivered})
}

func (s *session) sendGateError(requestID string, err error) {
	var limited *engine.RateLimitError
	if errors.As(err, &limited) {
		s.sendError(requestID, CodeRateLimited, "rate limit exceeded", limited.RetryAfter)
		return
	}
	s.sendError(requestID, CodeInvalidArgument, err.Error(), 0)
}

func (s *session) sendError(requestID, code, message string, retryAfter time.Duration) {
	metrics.RecordFrameError(code)
	ferr := &frameError{Code: code, Message: message}
	if retryAfter > 0 {
		ferr.RetryAfterMs = retryAfter.Milliseconds()
	}
	s.enqueue(serverFrame{Type: "error", RequestID: requestID, Error: ferr})
}

// enqueue queues frame for the write pump. Frames are dropped when the
// session is closed or its queue is full.
func (s *session) enqueue(frame serverFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		s.h.warn("encode frame failed", zap.String("type", frame.Type), zap.Error(err))
		return false
	}

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	default:
		s.h.warn("realtime send queue full, dropping frame",
			zap.String("user", s.user),
			zap.String("type", frame.Type))
		return false
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.h.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// topicHandle lets the lifecycle manager suspend one topic subscription.
type topicHandle struct {
	s     *session
	topic string
	sub   *Subscription
}

func (t topicHandle) Unsubscribe(ctx context.Context) error {
	if err := t.sub.Unsubscribe(ctx); err != nil {
		return err
	}
	if !t.s.closing.Load() {
		t.s.markSuspended(t.topic, t.sub)
	}
	return nil
}
