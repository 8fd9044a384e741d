package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/engine"
)

func newTestHandler(t *testing.T, opts Options, overrides map[core.ActionClass]engine.RateLimit) (*Handler, *httptest.Server) {
	t.Helper()

	if opts.PingInterval == 0 {
		opts.PingInterval = time.Minute
	}
	gate := &engine.Gate{Limiters: engine.NewLimiters(engine.LimiterOptions{Overrides: overrides})}
	handler := NewHandler(NewBroker(nil), gate, opts, nil)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		handler.Shutdown()
		srv.Close()
	})
	return handler, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) serverFrame {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q frame", typ)

		var frame serverFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame.Type == typ {
			return frame
		}
	}
}

func TestServeHTTPRequiresUser(t *testing.T) {
	_, srv := newTestHandler(t, Options{}, nil)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionPublishDeliversToSubscribers(t *testing.T) {
	handler, srv := newTestHandler(t, Options{IdleTimeout: time.Minute}, nil)

	ana := dial(t, srv, "ana")
	bo := dial(t, srv, "bo")

	sendFrame(t, bo, map[string]any{"type": "subscribe", "request_id": "s1", "topic": "campaign:1"})
	ack := readUntil(t, bo, "ack")
	assert.Equal(t, "s1", ack.RequestID)
	assert.Equal(t, 1, handler.Broker().Subscribers("campaign:1"))

	sendFrame(t, ana, map[string]any{
		"type":       "publish",
		"request_id": "p1",
		"topic":      "campaign:1",
		"body":       map[string]any{"text": "the door creaks open"},
	})

	published := readUntil(t, ana, "ack")
	assert.Equal(t, "p1", published.RequestID)
	require.NotNil(t, published.Delivered)
	assert.Equal(t, 1, *published.Delivered)

	msg := readUntil(t, bo, "message")
	require.NotNil(t, msg.Message)
	assert.Equal(t, "ana", msg.Message.From)
	assert.Equal(t, "chat", msg.Message.Kind)
	assert.JSONEq(t, `{"text":"the door creaks open"}`, string(msg.Message.Body))
}

func TestSessionRollIsRateLimited(t *testing.T) {
	_, srv := newTestHandler(t, Options{IdleTimeout: time.Minute}, map[core.ActionClass]engine.RateLimit{
		core.ActionDiceRoll: {MaxCalls: 1, Window: time.Minute},
	})

	conn := dial(t, srv, "ana")
	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "campaign:1"})
	readUntil(t, conn, "ack")

	sendFrame(t, conn, map[string]any{"type": "roll", "request_id": "r1", "topic": "campaign:1", "dice": "2d6+1"})
	msg := readUntil(t, conn, "message")
	require.NotNil(t, msg.Message)
	assert.Equal(t, "roll", msg.Message.Kind)

	var roll DiceRoll
	require.NoError(t, json.Unmarshal(msg.Message.Body, &roll))
	assert.Len(t, roll.Results, 2)
	assert.Equal(t, 1, roll.Modifier)

	sendFrame(t, conn, map[string]any{"type": "roll", "request_id": "r2", "topic": "campaign:1", "dice": "d20"})
	denied := readUntil(t, conn, "error")
	assert.Equal(t, "r2", denied.RequestID)
	require.NotNil(t, denied.Error)
	assert.Equal(t, CodeRateLimited, denied.Error.Code)
	assert.Positive(t, denied.Error.RetryAfterMs)
}

func TestSessionRejectsInvalidFrames(t *testing.T) {
	_, srv := newTestHandler(t, Options{IdleTimeout: time.Minute}, nil)
	conn := dial(t, srv, "ana")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad := readUntil(t, conn, "error")
	require.NotNil(t, bad.Error)
	assert.Equal(t, CodeInvalidArgument, bad.Error.Code)

	sendFrame(t, conn, map[string]any{"type": "teleport", "request_id": "x"})
	unsupported := readUntil(t, conn, "error")
	assert.Equal(t, "x", unsupported.RequestID)
	assert.Equal(t, CodeInvalidArgument, unsupported.Error.Code)

	sendFrame(t, conn, map[string]any{"type": "roll", "request_id": "y", "topic": "campaign:1", "dice": "7d"})
	badDice := readUntil(t, conn, "error")
	assert.Equal(t, "y", badDice.RequestID)
	assert.Equal(t, CodeInvalidArgument, badDice.Error.Code)
}

func TestSessionSuspendsIdleTopicsAndResumes(t *testing.T) {
	handler, srv := newTestHandler(t, Options{IdleTimeout: 300 * time.Millisecond}, nil)
	broker := handler.Broker()
	conn := dial(t, srv, "ana")

	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "campaign:chat"})
	readUntil(t, conn, "ack")
	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "session:abc"})
	readUntil(t, conn, "ack")

	suspended := readUntil(t, conn, "suspended")
	assert.Equal(t, "campaign:chat", suspended.Topic)
	assert.Zero(t, broker.Subscribers("campaign:chat"))
	assert.Equal(t, 1, broker.Subscribers("session:abc"))

	sendFrame(t, conn, map[string]any{"type": "ping"})
	resumed := readUntil(t, conn, "resumed")
	assert.Equal(t, []string{"campaign:chat"}, resumed.Topics)
	assert.Equal(t, 1, broker.Subscribers("campaign:chat"))
	assert.Equal(t, 1, broker.Subscribers("session:abc"))
}

func TestSessionCriticalFlagKeepsTopic(t *testing.T) {
	handler, srv := newTestHandler(t, Options{IdleTimeout: 200 * time.Millisecond}, nil)
	conn := dial(t, srv, "ana")

	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "presence", "critical": true})
	readUntil(t, conn, "ack")
	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "lobby"})
	readUntil(t, conn, "ack")

	suspended := readUntil(t, conn, "suspended")
	assert.Equal(t, "lobby", suspended.Topic)
	assert.Equal(t, 1, handler.Broker().Subscribers("presence"))
}

func TestSessionTeardownReleasesSubscriptions(t *testing.T) {
	handler, srv := newTestHandler(t, Options{IdleTimeout: time.Minute}, nil)
	conn := dial(t, srv, "ana")

	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "campaign:1"})
	readUntil(t, conn, "ack")
	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "session:1"})
	readUntil(t, conn, "ack")
	assert.Equal(t, int64(1), handler.ActiveSessions())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return handler.ActiveSessions() == 0 &&
			handler.Broker().Subscribers("campaign:1") == 0 &&
			handler.Broker().Subscribers("session:1") == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSessionUnsubscribeFrame(t *testing.T) {
	handler, srv := newTestHandler(t, Options{IdleTimeout: time.Minute}, nil)
	conn := dial(t, srv, "ana")

	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "campaign:1"})
	readUntil(t, conn, "ack")
	sendFrame(t, conn, map[string]any{"type": "unsubscribe", "request_id": "u1", "topic": "campaign:1"})
	ack := readUntil(t, conn, "ack")

	assert.Equal(t, "u1", ack.RequestID)
	assert.Zero(t, handler.Broker().Subscribers("campaign:1"))
}

func onlySession(t *testing.T, h *Handler) *session {
	t.Helper()

	var found *session
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		for s := range h.sessions {
			found = s
		}
		return len(h.sessions) == 1
	}, 3*time.Second, 10*time.Millisecond)
	return found
}

func TestSessionResumesTopicWhenActivityInterruptsSuspension(t *testing.T) {
	handler, srv := newTestHandler(t, Options{IdleTimeout: 500 * time.Millisecond}, nil)
	broker := handler.Broker()
	conn := dial(t, srv, "ana")

	sendFrame(t, conn, map[string]any{"type": "subscribe", "topic": "campaign:chat"})
	readUntil(t, conn, "ack")
	s := onlySession(t, handler)

	// Holding the broker lock keeps the idle unsubscribe in flight.
	broker.mu.Lock()
	locked := true
	defer func() {
		if locked {
			broker.mu.Unlock()
		}
	}()

	require.Eventually(t, s.manager.Idle, 3*time.Second, 10*time.Millisecond)
	sendFrame(t, conn, map[string]any{"type": "ping"})
	require.Eventually(t, func() bool { return !s.manager.Idle() }, 3*time.Second, 10*time.Millisecond)

	broker.mu.Unlock()
	locked = false

	resumed := readUntil(t, conn, "resumed")
	assert.Equal(t, []string{"campaign:chat"}, resumed.Topics)
	assert.Equal(t, 1, broker.Subscribers("campaign:chat"))

	s.mu.Lock()
	state := s.topics["campaign:chat"]
	s.mu.Unlock()
	require.NotNil(t, state)
	assert.False(t, state.suspended)
}
