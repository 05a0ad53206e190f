package monitoring

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker aggregates component probes into one HTTP health endpoint
type HealthChecker struct {
	mu        sync.RWMutex
	startTime time.Time
	checks    map[string]func() error
}

// HealthStatus is the JSON body served by the health endpoint
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components"`
}

// NewHealthChecker creates a health checker with no registered probes
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]func() error),
	}
}

// RegisterCheck adds a named component probe. The probe returns nil when the
// component is healthy.
func (h *HealthChecker) RegisterCheck(name string, check func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make(map[string]func() error, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	startTime := h.startTime
	h.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := checks[name](); err != nil {
			components[name] = err.Error()
			status = "unhealthy"
		} else {
			components[name] = "ok"
		}
	}

	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	health := HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(startTime).String(),
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
