package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	config := &telemetry.Config{
		Enabled: true,
		Emitter: collector,
	}

	sys, err := telemetry.NewSystem(config)
	require.NoError(t, err)

	originalTelemetry := observability.TelemetrySystem
	observability.TelemetrySystem = sys

	t.Cleanup(func() {
		observability.TelemetrySystem = originalTelemetry
	})

	return collector
}

func TestRequestMetrics_EmitsPerRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestMetrics)
	r.Put("/v1/state/{owner}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"owner":"` + chi.URLParam(r, "owner") + `","parts":1}`))
	})
	r.Post("/v1/actions/{class}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	r.Post("/v1/compact", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	cases := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantErrors bool
	}{
		{"state push", http.MethodPut, "/v1/state/gm-7", http.StatusOK, false},
		{"rate limited", http.MethodPost, "/v1/actions/dice_roll", http.StatusTooManyRequests, true},
		{"server error", http.MethodPost, "/v1/compact", http.StatusInternalServerError, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collector := setupTelemetry(t)

			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{"characters":{}}`))
			req.Header.Set("Content-Length", "17")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Positive(t, collector.CountMetricsByName("http_requests_total"))
			assert.Positive(t, collector.CountMetricsByName("http_request_duration_ms"))
			assert.Positive(t, collector.CountMetricsByName("http_request_size_bytes"))
			assert.Positive(t, collector.CountMetricsByName("http_response_size_bytes"))
			if tc.wantErrors {
				assert.Positive(t, collector.CountMetricsByName("http_errors_total"))
			} else {
				assert.Zero(t, collector.CountMetricsByName("http_errors_total"))
			}
		})
	}
}

func TestRequestMetrics_UsesRoutePattern(t *testing.T) {
	var pattern string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			pattern = getEndpointPattern(req)
		})
	})
	r.Get("/v1/state/{owner}", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/state/gm-99", nil))
	assert.Equal(t, "/v1/state/{owner}", pattern)
}

func TestRequestMetrics_WithTelemetryDisabled(t *testing.T) {
	// Disable telemetry
	originalTelemetry := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	defer func() {
		observability.TelemetrySystem = originalTelemetry
	}()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := RequestMetrics(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic and should work normally
	middleware.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEndpointPattern_StandardPaths(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health/*"},
		{"/health/live", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/health/startup", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/v1/actions/dice_roll", "/v1/actions/{class}"},
		{"/v1/state/campaign-7", "/v1/state/{owner}"},
		{"/v1/compact", "/v1/*"},
		{"/v1/realtime", "/v1/realtime"},
		{"/api/users/123", "/unknown"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			pattern := getEndpointPattern(req)
			assert.Equal(t, tt.expected, pattern, "Path %s should map to pattern %s", tt.path, tt.expected)
		})
	}
}

func TestRequestMetrics_WithRequestID(t *testing.T) {
	collector := setupTelemetry(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := RequestID(RequestMetrics(handler))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "test-request-id")
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	assert.Equal(t, "test-request-id", rec.Header().Get("X-Request-ID"))
	assert.Greater(t, collector.CountMetricsByName("http_requests_total"), 0)
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	server, client := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestRequestMetrics_PassesHijackThrough(t *testing.T) {
	collector := setupTelemetry(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		require.True(t, ok, "wrapped writer must support hijacking")
		conn, _, err := hijacker.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	})

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	req := httptest.NewRequest("GET", "/v1/realtime", nil)

	RequestMetrics(handler).ServeHTTP(rec, req)

	assert.True(t, rec.hijacked)
	assert.Greater(t, collector.CountMetricsByName("http_requests_total"), 0)
	assert.Zero(t, collector.CountMetricsByName("http_request_duration_ms"),
		"hijacked sessions are not request latencies")
}

func TestRequestID_SanitizesCallerValue(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "bad id with spaces")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEqual(t, "bad id with spaces", seen)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}
