package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
	"github.com/sheetkeeper/sheetkeeper/internal/core/engine"
	"github.com/sheetkeeper/sheetkeeper/internal/core/store"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
	"github.com/sheetkeeper/sheetkeeper/internal/realtime"
	"github.com/sheetkeeper/sheetkeeper/internal/server"
	"github.com/sheetkeeper/sheetkeeper/internal/server/handlers"
)

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// initMetricsOrSkip starts the exporter on a free port, skipping the test
// when the sandbox forbids binds.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = observability.StopMetrics() })
}

// newTestServer serves the real router on IPv4 loopback.
func newTestServer(t *testing.T, opts server.Options) (*httptest.Server, *http.Client) {
	t.Helper()

	opts.Host = "127.0.0.1"
	srv := server.New(opts)

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

type memoryStates struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (m *memoryStates) SaveState(_ context.Context, owner string, encoded []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs == nil {
		m.docs = make(map[string][]byte)
	}
	m.docs[owner] = append([]byte(nil), encoded...)
	return 1, nil
}

func (m *memoryStates) LoadState(_ context.Context, owner string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[owner]
	if !ok {
		return nil, store.ErrStateNotFound
	}
	return data, nil
}

// syncServerOptions wires the API and realtime endpoints over an in-memory
// state store. invite_code allows two calls per minute.
func syncServerOptions(t *testing.T) server.Options {
	t.Helper()

	gate := &engine.Gate{Limiters: engine.NewLimiters(engine.LimiterOptions{
		Overrides: map[core.ActionClass]engine.RateLimit{
			core.ActionInviteCode: {MaxCalls: 2, Window: time.Minute},
		},
	})}
	codec := compact.New(nil)

	rt := realtime.NewHandler(realtime.NewBroker(nil), gate, realtime.Options{
		IdleTimeout:  time.Minute,
		PingInterval: time.Minute,
	}, nil)
	t.Cleanup(rt.Shutdown)

	return server.Options{
		API: &handlers.API{
			Gate:            gate,
			Codec:           codec,
			Syncer:          &engine.Syncer{Codec: codec, Store: &memoryStates{}, Gate: gate, MaxPayloadBytes: compact.DefaultMaxSizeBytes},
			MaxPayloadBytes: compact.DefaultMaxSizeBytes,
		},
		Realtime: rt,
	}
}

func doJSON(t *testing.T, client *http.Client, method, url, body string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)

	var decoded map[string]any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}
	return resp.StatusCode, decoded
}

func scrape(t *testing.T, client *http.Client, baseURL string) (int, string, string) {
	t.Helper()

	resp, err := client.Get(baseURL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	return resp.StatusCode, resp.Header.Get("Content-Type"), string(body)
}
