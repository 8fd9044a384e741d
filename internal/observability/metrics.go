package observability

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// DefaultMetricsPort is used when the exporter address cannot be resolved.
const DefaultMetricsPort = 9090

var (
	// TelemetrySystem receives every counter, gauge and histogram. Nil
	// means metrics are disabled and recorders become no-ops.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint.
	PrometheusExporter *exporters.PrometheusExporter

	metricsMu   sync.Mutex
	metricsPort int
)

// InitMetrics starts a Prometheus exporter on port (0 picks a free one) and
// routes telemetry to it. Metric names are prefixed with namespace, or with
// serviceName when no namespace is given.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if port < 0 {
		port = 0
	}
	metricsPort = port

	prefix := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		prefix = namespace[0]
	}

	exporter := exporters.NewPrometheusExporter(prefix, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return err
	}

	switch actual, err := resolvePort(exporter.GetAddr()); {
	case err == nil:
		metricsPort = actual
	case port == 0:
		metricsPort = DefaultMetricsPort
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		_ = exporter.Stop()
		return err
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// StopMetrics stops the exporter and disables telemetry. Safe to call when
// metrics were never started.
func StopMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	exporter := PrometheusExporter
	PrometheusExporter = nil
	TelemetrySystem = nil
	if exporter == nil {
		return nil
	}
	return exporter.Stop()
}

// GetMetricsPort returns the port the exporter bound to.
func GetMetricsPort() int {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
