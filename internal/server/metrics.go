package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	apperrors "github.com/sheetkeeper/sheetkeeper/internal/errors"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

var metricsProxyClient = &http.Client{
	Timeout: 5 * time.Second,
}

// hopHeaders are not copied from the exporter response.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func configuredMetricsPort() int {
	if cfg := config.GetConfig(); cfg != nil && cfg.Metrics.Port > 0 {
		return cfg.Metrics.Port
	}
	return observability.DefaultMetricsPort
}

// MetricsHandler proxies the exporter's scrape output so /metrics can be
// read from the main listener.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Metrics exporter not initialized"))
		return
	}

	port := observability.GetMetricsPort()
	if port == 0 {
		port = configuredMetricsPort()
	}
	metricsURL := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, metricsURL, nil)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to construct metrics request"))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		envelope := apperrors.Wrap(r.Context(), apperrors.CodeServiceUnavailable, err, "Prometheus exporter unavailable")
		if withCtx, ctxErr := envelope.WithContext(map[string]interface{}{"metrics_url": metricsURL}); ctxErr == nil {
			envelope = withCtx
		}
		apperrors.RespondWithError(w, r, envelope)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil && observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Failed to close metrics response body", zap.Error(err))
		}
	}()

	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if resp.Header.Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to write metrics response", zap.Error(err))
	}
}
