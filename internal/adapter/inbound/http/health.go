package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds each dependency probe so a hung backend cannot hang
// the health endpoint.
const checkTimeout = 2 * time.Second

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store   Pinger
	bus     Pinger
	version string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(store, bus Pinger, version string) *HealthChecker {
	return &HealthChecker{store: store, bus: bus, version: version}
}

// Check probes the database and the broker. The database is required; a dead
// broker degrades but does not fail the service, since synchronous evaluation
// still works.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.store != nil {
		if err := h.ping(ctx, h.store); err != nil {
			checks["database"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	if h.bus != nil {
		if err := h.ping(ctx, h.bus); err != nil {
			checks["broker"] = "degraded: " + err.Error()
		} else {
			checks["broker"] = "ok"
		}
	} else {
		checks["broker"] = "not configured"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

func (h *HealthChecker) ping(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return p.Ping(ctx)
}

// Handler returns the /health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}
