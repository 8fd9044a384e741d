package metrics

import (
	"time"

	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

// Domain metric names following Prometheus conventions
const (
	RateLimitDecisionsTotal = "rate_limit_decisions_total"

	ChannelUnsubscribeTotal = "channel_unsubscribe_total"
	ChannelsRegistered      = "channels_registered"
	SessionIdleTransitions  = "session_idle_transitions_total"
	RealtimeSessionsActive  = "realtime_sessions_active"

	CompactionRatioPercent = "compaction_ratio_percent"
	StatePushBytes         = "state_push_bytes"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
)

// RecordRateDecision records an admission decision of a limiter.
func RecordRateDecision(limiter string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDecisionsTotal,
			1,
			map[string]string{
				"limiter":  limiter,
				"decision": decision,
			},
		)
	}
}

// RecordUnsubscribe records one channel unsubscribe attempt.
// reason is "idle" or "teardown".
func RecordUnsubscribe(reason string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ChannelUnsubscribeTotal,
			1,
			map[string]string{
				"reason": reason,
				"status": status,
			},
		)
	}
}

// RecordIdleTransition records an Active/Idle state change.
func RecordIdleTransition(idle bool) {
	to := "active"
	if idle {
		to = "idle"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SessionIdleTransitions,
			1,
			map[string]string{"to": to},
		)
	}
}

// SetRegisteredChannels sets the number of channels held by lifecycle managers.
func SetRegisteredChannels(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ChannelsRegistered,
			float64(count),
			nil,
		)
	}
}

// SetActiveSessions sets the number of open realtime sessions.
func SetActiveSessions(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			RealtimeSessionsActive,
			float64(count),
			nil,
		)
	}
}

// RecordCompaction records the size reduction of one compacted payload.
func RecordCompaction(ratio float64, storedBytes int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			CompactionRatioPercent,
			ratio,
			nil,
		)
		_ = observability.TelemetrySystem.Gauge(
			StatePushBytes,
			float64(storedBytes),
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}
