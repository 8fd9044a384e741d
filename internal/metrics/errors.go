package metrics

import (
	"strconv"
	"strings"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
	FrameErrorsTotalName = "realtime_frame_errors_total"
)

// RecordError records an HTTP error envelope by code and status.
func RecordError(errorCode string, httpStatus int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ErrorsTotalName,
			1,
			map[string]string{
				"error_code":  errorCode,
				"http_status": strconv.Itoa(httpStatus),
			},
		)
	}
}

// RecordPanic records a recovered handler panic.
func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotalName, 1, nil)
	}
}

// RecordErrorByEndpoint records an error against the route it happened on.
// Owner segments are folded so the label set stays bounded.
func RecordErrorByEndpoint(path string, errorCode string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ErrorsByEndpointName,
			1,
			map[string]string{
				"endpoint":   EndpointLabel(path),
				"error_code": errorCode,
			},
		)
	}
}

// RecordFrameError records an error frame sent to a realtime client.
func RecordFrameError(code string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			FrameErrorsTotalName,
			1,
			map[string]string{"code": code},
		)
	}
}

// EndpointLabel maps a request path onto its route template.
func EndpointLabel(path string) string {
	path = strings.TrimSuffix(path, "/")
	switch {
	case strings.HasPrefix(path, "/v1/state/"):
		return "/v1/state/{owner}"
	case strings.HasPrefix(path, "/v1/actions/"):
		if class, ok := core.ParseActionClass(strings.TrimPrefix(path, "/v1/actions/")); ok {
			return "/v1/actions/" + string(class)
		}
		return "/v1/actions/{class}"
	case path == "":
		return "/"
	}
	return path
}
