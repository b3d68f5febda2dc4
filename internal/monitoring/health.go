package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"admission-guard/internal/geo"
	"admission-guard/internal/state"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Critical  bool                   `json:"critical"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Version    string                 `json:"version"`
	Uptime     time.Duration          `json:"uptime_seconds"`
	Timestamp  time.Time              `json:"timestamp"`
	Checks     map[string]HealthCheck `json:"checks"`
	Summary    HealthSummary          `json:"summary"`
	SystemInfo SystemInfo             `json:"system_info"`
}

// HealthSummary provides overall health metrics
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Critical  int `json:"critical"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion    string    `json:"go_version"`
	OS           string    `json:"os"`
	Arch         string    `json:"arch"`
	NumCPU       int       `json:"num_cpu"`
	NumGoroutine int       `json:"num_goroutine"`
	MemoryMB     uint64    `json:"memory_mb"`
	StartTime    time.Time `json:"start_time"`
}

// HealthChecker interface for implementing health checks
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheck
	IsCritical() bool
}

// HealthManager manages all health checks
type HealthManager struct {
	checkers  []HealthChecker
	startTime time.Time
	version   string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers:  make([]HealthChecker, 0),
		startTime: time.Now(),
		version:   version,
	}
}

// RegisterChecker adds a health checker
func (hm *HealthManager) RegisterChecker(checker HealthChecker) {
	hm.checkers = append(hm.checkers, checker)
}

// CheckHealth performs all health checks
func (hm *HealthManager) CheckHealth(ctx context.Context) HealthResponse {
	checks := make(map[string]HealthCheck)
	summary := HealthSummary{}
	overallStatus := HealthStatusHealthy

	for _, checker := range hm.checkers {
		start := time.Now()
		check := checker.Check(ctx)
		check.Duration = time.Since(start)
		check.Timestamp = time.Now()
		check.Critical = checker.IsCritical()

		checks[checker.Name()] = check

		summary.Total++
		switch check.Status {
		case HealthStatusHealthy:
			summary.Healthy++
		case HealthStatusDegraded:
			summary.Degraded++
			if overallStatus == HealthStatusHealthy {
				overallStatus = HealthStatusDegraded
			}
		case HealthStatusUnhealthy:
			summary.Unhealthy++
			if check.Critical {
				summary.Critical++
				overallStatus = HealthStatusUnhealthy
			} else if overallStatus == HealthStatusHealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}

	return HealthResponse{
		Status:     overallStatus,
		Version:    hm.version,
		Uptime:     time.Since(hm.startTime),
		Timestamp:  time.Now(),
		Checks:     checks,
		Summary:    summary,
		SystemInfo: hm.getSystemInfo(),
	}
}

// getSystemInfo collects system information
func (hm *HealthManager) getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		MemoryMB:     m.Alloc / 1024 / 1024,
		StartTime:    hm.startTime,
	}
}

// HealthHandler serves the full health report.
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hm.CheckHealth(ctx)

		w.Header().Set("Content-Type", "application/json")
		switch response.Status {
		case HealthStatusHealthy, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}

// StateHealthChecker probes the state store with a record round-trip.
type StateHealthChecker struct {
	store state.Store
}

func NewStateHealthChecker(store state.Store) *StateHealthChecker {
	return &StateHealthChecker{store: store}
}

func (s *StateHealthChecker) Name() string {
	return "state"
}

func (s *StateHealthChecker) IsCritical() bool {
	return true
}

func (s *StateHealthChecker) Check(ctx context.Context) HealthCheck {
	const probeID = "__health_check__"

	if _, err := s.store.UpdateRecord(probeID, func(rec *state.ClientRecord) error {
		rec.LastSeen = time.Now()
		return nil
	}); err != nil {
		return HealthCheck{
			Name:    s.Name(),
			Status:  HealthStatusUnhealthy,
			Message: fmt.Sprintf("State write failed: %v", err),
			Details: map[string]interface{}{"operation": "update"},
		}
	}

	if _, err := s.store.GetRecord(probeID); err != nil {
		return HealthCheck{
			Name:    s.Name(),
			Status:  HealthStatusUnhealthy,
			Message: fmt.Sprintf("State read failed: %v", err),
			Details: map[string]interface{}{"operation": "get"},
		}
	}

	if err := s.store.DeleteRecord(probeID); err != nil {
		return HealthCheck{
			Name:    s.Name(),
			Status:  HealthStatusDegraded,
			Message: fmt.Sprintf("State delete failed: %v", err),
			Details: map[string]interface{}{"operation": "delete"},
		}
	}

	return HealthCheck{
		Name:    s.Name(),
		Status:  HealthStatusHealthy,
		Message: "State store is operational",
		Details: s.store.Stats(),
	}
}

// GeoHealthChecker probes the geo collaborator. Non-critical: the engine
// fails open without it.
type GeoHealthChecker struct {
	adapter geo.Adapter
}

func NewGeoHealthChecker(adapter geo.Adapter) *GeoHealthChecker {
	return &GeoHealthChecker{adapter: adapter}
}

func (g *GeoHealthChecker) Name() string {
	return "geo"
}

func (g *GeoHealthChecker) IsCritical() bool {
	return false
}

func (g *GeoHealthChecker) Check(ctx context.Context) HealthCheck {
	decision, err := g.adapter.Authorize(ctx, "203.0.113.1")
	if err != nil {
		return HealthCheck{
			Name:    g.Name(),
			Status:  HealthStatusDegraded,
			Message: fmt.Sprintf("Geo adapter failed: %v", err),
		}
	}

	return HealthCheck{
		Name:    g.Name(),
		Status:  HealthStatusHealthy,
		Message: "Geo adapter is responding",
		Details: map[string]interface{}{
			"allowed": decision.Allowed,
			"country": decision.Country,
		},
	}
}
