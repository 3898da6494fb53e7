package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check result
type HealthCheck struct {
	Name        string            `json:"name"`
	Status      HealthStatus      `json:"status"`
	Message     string            `json:"message"`
	LastChecked time.Time         `json:"last_checked"`
	Duration    time.Duration     `json:"duration"`
	Details     map[string]string `json:"details,omitempty"`
}

// Monitor serves health and metrics endpoints
type Monitor struct {
	metrics *Metrics

	mu           sync.RWMutex
	healthChecks map[string]func() HealthCheck
}

func NewMonitor(metrics *Metrics) *Monitor {
	m := &Monitor{metrics: metrics, healthChecks: make(map[string]func() HealthCheck)}
	for name, fn := range DefaultHealthChecks() {
		m.RegisterHealthCheck(name, fn)
	}
	return m
}

// Routes mounts /health and /metrics on mux
func (m *Monitor) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", m.healthHandler)
	if reg := m.metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
}

func (m *Monitor) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.RunHealthChecks()

	overallStatus := HealthStatusHealthy
	for _, check := range checks {
		if check.Status == HealthStatusUnhealthy {
			overallStatus = HealthStatusUnhealthy
			break
		} else if check.Status == HealthStatusDegraded {
			overallStatus = HealthStatusDegraded
		}
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now(),
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// RegisterHealthCheck registers a health check function
func (m *Monitor) RegisterHealthCheck(name string, checkFn func() HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthChecks[name] = checkFn
}

// RunHealthChecks executes all registered health checks in name order
func (m *Monitor) RunHealthChecks() []HealthCheck {
	m.mu.RLock()
	names := make([]string, 0, len(m.healthChecks))
	for name := range m.healthChecks {
		names = append(names, name)
	}
	fns := make(map[string]func() HealthCheck, len(m.healthChecks))
	for k, v := range m.healthChecks {
		fns[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	checks := make([]HealthCheck, 0, len(names))
	for _, name := range names {
		start := time.Now()
		check := fns[name]()
		check.Duration = time.Since(start)
		check.LastChecked = time.Now()
		checks = append(checks, check)
	}
	return checks
}

// DefaultHealthChecks returns a set of default health checks
func DefaultHealthChecks() map[string]func() HealthCheck {
	return map[string]func() HealthCheck{
		"goroutines": func() HealthCheck {
			count := runtime.NumGoroutine()
			status := HealthStatusHealthy
			message := fmt.Sprintf("Goroutines: %d", count)

			if count > 1000 {
				status = HealthStatusDegraded
				message = fmt.Sprintf("High goroutine count: %d", count)
			}

			return HealthCheck{
				Name:    "goroutines",
				Status:  status,
				Message: message,
				Details: map[string]string{
					"count": fmt.Sprintf("%d", count),
				},
			}
		},
	}
}
