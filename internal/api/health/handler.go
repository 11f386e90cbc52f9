package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"fintelli/pkg/logger"
)

// PingFunc reports whether a dependency is reachable
type PingFunc func(ctx context.Context) error

// Check is one dependency probe. Only required checks gate readiness;
// optional stores fall back to local mode when down.
type Check struct {
	Name     string
	Ping     PingFunc
	Required bool
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	checks      []Check
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a new health check handler
func New(log *logger.Logger, serviceName, version string, checks ...Check) *Handler {
	sorted := append([]Check(nil), checks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Handler{
		log:         log,
		checks:      sorted,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	Required     bool   `json:"required"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if service is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness fails when any required dependency is down
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks, requiredDown, _ := h.run(ctx)
	status := h.status(checks)

	code := http.StatusOK
	if requiredDown > 0 {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", checks)
	}
	writeJSON(w, code, status)
}

// HandleHealth returns detailed health status. Optional dependencies being
// down only degrade the service.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks, requiredDown, optionalDown := h.run(ctx)
	status := h.status(checks)

	code := http.StatusOK
	switch {
	case requiredDown > 0:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case optionalDown > 0:
		status.Status = "degraded"
	}
	writeJSON(w, code, status)
}

func (h *Handler) status(checks map[string]ComponentHealth) HealthStatus {
	return HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
}

func (h *Handler) run(ctx context.Context) (map[string]ComponentHealth, int, int) {
	results := make(map[string]ComponentHealth, len(h.checks))
	requiredDown, optionalDown := 0, 0

	for _, c := range h.checks {
		start := time.Now()
		err := c.Ping(ctx)
		elapsed := time.Since(start)

		ch := ComponentHealth{Status: "healthy", Required: c.Required, ResponseTime: elapsed.String()}
		if err != nil {
			ch.Status = "unhealthy"
			ch.Error = err.Error()
			if c.Required {
				requiredDown++
			} else {
				optionalDown++
			}
			h.log.Warnw("Health check failed", "component", c.Name, "error", err, "elapsed", elapsed)
		}
		results[c.Name] = ch
	}
	return results, requiredDown, optionalDown
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
