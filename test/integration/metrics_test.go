package integration

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/observability"
	"github.com/sheetkeeper/sheetkeeper/internal/server"
	"github.com/sheetkeeper/sheetkeeper/internal/server/handlers"
)

func TestMetricsEndpoint_UnderLoad(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info", "STRUCTURED")

	initMetricsOrSkip(t)
	handlers.InitHealthManager("test")

	ts, client := newTestServer(t, syncServerOptions(t))

	const numRequests = 60
	start := time.Now()

	p := pool.New().WithMaxGoroutines(10)
	for i := 0; i < numRequests; i++ {
		p.Go(func() {
			owner := fmt.Sprintf("gm-%d", i%5)
			var (
				method = http.MethodGet
				path   string
				body   string
			)
			switch i % 5 {
			case 0:
				method, path = http.MethodPut, "/v1/state/"+owner
				body = `{"config":{"themeColor":"#111"},"characters":{"c1":{"id":"c1","name":"Ash"}}}`
			case 1:
				path = "/v1/state/" + owner
			case 2:
				method, path = http.MethodPost, "/v1/actions/dice_roll?key="+owner
			case 3:
				method, path = http.MethodPost, "/v1/compact"
				body = `{"config":{"crtMode":true},"characters":{}}`
			default:
				path = "/health"
			}

			req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
			if err != nil {
				return
			}
			resp, err := client.Do(req)
			if err == nil {
				_ = resp.Body.Close()
			}
		})
	}
	p.Wait()
	elapsed := time.Since(start)

	status, _, content := scrape(t, client, ts.URL)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, content, "test_http_requests_total")
	assert.Contains(t, content, "test_http_request_duration_ms")
	assert.Contains(t, content, "test_rate_limit_decisions_total")
	assert.Contains(t, content, "test_compaction_ratio_percent")
	assert.Less(t, elapsed, 5*time.Second)
	t.Logf("load: %d requests in %v (%.2f req/s)", numRequests, elapsed, float64(numRequests)/elapsed.Seconds())
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info", "STRUCTURED")

	initMetricsOrSkip(t)
	handlers.InitHealthManager("test")

	ts, client := newTestServer(t, syncServerOptions(t))

	code, _ := doJSON(t, client, http.MethodPost, ts.URL+"/v1/split-advice", `{"characters":{}}`)
	require.Equal(t, http.StatusOK, code)

	status, contentType, content := scrape(t, client, ts.URL)
	require.Equal(t, http.StatusOK, status)
	assert.True(t,
		contentType == "text/plain; version=0.0.4" ||
			contentType == "text/plain; version=0.0.4; charset=utf-8",
		"Expected Prometheus content type, got: %s", contentType)

	labelled := 0
	values := 0
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		values++
		if strings.Contains(line, "{") && len(strings.Fields(line)) >= 2 {
			labelled++
		}
	}
	assert.Greater(t, labelled, 0, "Should have labelled metric lines")
	assert.Greater(t, values, 0, "Should have metric values")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info", "STRUCTURED")
	require.NoError(t, observability.StopMetrics())

	original, had := os.LookupEnv("SHEETKEEPER_METRICS_ENABLED")
	require.NoError(t, os.Setenv("SHEETKEEPER_METRICS_ENABLED", "false"))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv("SHEETKEEPER_METRICS_ENABLED", original)
		} else {
			_ = os.Unsetenv("SHEETKEEPER_METRICS_ENABLED")
		}
	})

	handlers.InitHealthManager("test")

	ts, client := newTestServer(t, server.Options{})

	resp, err := client.Get(ts.URL + "/version")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _, _ := scrape(t, client, ts.URL)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
