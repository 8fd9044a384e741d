package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/sheetkeeper/sheetkeeper/internal/metrics"
)

// Check results.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthManager runs registered checks for the health and probe endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// runHealthChecks runs checks in name order until ctx expires. Checks not
// reached are reported as timeout.
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = statusTimeout
			continue
		}

		start := time.Now()
		err := checkers[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))

		if err != nil {
			checks[name] = statusUnhealthy
		} else {
			checks[name] = statusHealthy
		}
	}
	return checks
}

func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		switch status {
		case statusUnhealthy:
			return statusUnhealthy
		case statusDegraded, statusTimeout:
			degraded = true
		}
	}
	if degraded {
		return statusDegraded
	}
	return statusHealthy
}

// HealthHandler serves the aggregate health report.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks, status, ok := hm.evaluate(w, r, "", 5*time.Second)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports whether the process is running.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "live", 2*time.Second)
}

// ReadinessHandler reports whether the service can take traffic.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "ready", 5*time.Second)
}

// StartupHandler reports whether initialization finished.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "startup", 3*time.Second)
}

func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, probe string, timeout time.Duration) {
	_, status, ok := hm.evaluate(w, r, probe, timeout)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

// evaluate runs the checks and writes a SERVICE_UNAVAILABLE response when
// the result is unhealthy.
func (hm *HealthManager) evaluate(w http.ResponseWriter, r *http.Request, probe string, timeout time.Duration) (map[string]string, string, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.runHealthChecks(ctx)
	status := hm.determineOverallStatus(checks)
	if status != statusUnhealthy {
		return checks, status, true
	}

	message := "aggregate health check failed"
	if probe != "" {
		message = probe + " probe failed"
	}
	envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message)
	respondWithError(w, r, enrichHealthEnvelope(envelope, probe, status, checks))
	return nil, status, false
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	var failing []string
	for name, result := range checks {
		if result != statusHealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"status":           status,
			"unhealthy_checks": failing,
		})
	}
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

// globalProbe serves h through the global manager, or 503 before
// InitHealthManager has run.
func globalProbe(probe string, h func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager != nil {
			h(globalHealthManager, w, r)
			return
		}
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, probe, "unknown", nil))
	}
}

var (
	HealthHandler    = globalProbe("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = globalProbe("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = globalProbe("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = globalProbe("startup", (*HealthManager).StartupHandler)
)
