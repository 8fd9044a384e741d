package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

// responseWriter captures status and size. It passes Hijack and Flush
// through so websocket upgrades work behind it.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	hijacked     bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, buf, err := hijacker.Hijack()
	if err == nil {
		rw.hijacked = true
		rw.statusCode = http.StatusSwitchingProtocols
	}
	return conn, buf, err
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// getEndpointPattern returns the chi route pattern, or a coarse bucket for
// unrouted paths, to keep label cardinality bounded.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	case path == "/v1/realtime":
		return "/v1/realtime"
	case strings.HasPrefix(path, "/v1/actions/"):
		return "/v1/actions/{class}"
	case strings.HasPrefix(path, "/v1/state/"):
		return "/v1/state/{owner}"
	case strings.HasPrefix(path, "/v1/"):
		return "/v1/*"
	default:
		return "/unknown"
	}
}

// RequestMetrics emits Prometheus request metrics and a completion log line.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		requestSize := int64(0)
		if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
			if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
				requestSize = size
			}
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := getEndpointPattern(r)
		status := strconv.Itoa(wrapped.statusCode)

		labels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
			"status":   status,
		}
		sizeLabels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
		}

		_ = observability.TelemetrySystem.Counter("http_requests_total", 1, labels)

		// Hijacked connections live for the whole session; their duration is
		// not a request latency.
		if !wrapped.hijacked {
			_ = observability.TelemetrySystem.Histogram("http_request_duration_ms", duration, labels)
		}

		_ = observability.TelemetrySystem.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
		_ = observability.TelemetrySystem.Gauge("http_response_size_bytes", float64(wrapped.bytesWritten), sizeLabels)

		if wrapped.statusCode >= 400 {
			errorType := "client_error"
			if wrapped.statusCode >= 500 {
				errorType = "server_error"
			}
			_ = observability.TelemetrySystem.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", wrapped.bytesWritten),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}
