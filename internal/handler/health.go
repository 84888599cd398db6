package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lilofinance/usermanager/internal/respond"
)

const readinessTimeout = 5 * time.Second

// HealthChecker defines an interface for checking service health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependency is a named readiness check. A failing optional dependency
// degrades readiness without failing it.
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Optional bool
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	logger *slog.Logger
	deps   []Dependency
}

// NewHealthHandler creates a new HealthHandler. A dependency with a nil
// Checker is reported as "not configured".
func NewHealthHandler(logger *slog.Logger, deps ...Dependency) *HealthHandler {
	return &HealthHandler{logger: logger, deps: deps}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is a liveness probe endpoint. It never checks dependencies.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz is a readiness probe endpoint. It returns 503 when a required
// dependency fails. Failure causes are logged, never returned, since driver
// errors can embed connection strings.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.deps))
	status := "ok"
	statusCode := http.StatusOK

	for _, dep := range h.deps {
		if dep.Checker == nil {
			checks[dep.Name] = "not configured"
			continue
		}

		if err := dep.Checker.Ping(ctx); err != nil {
			checks[dep.Name] = "error"
			h.logger.Warn("readiness check failed",
				slog.String("dependency", dep.Name),
				slog.String("error", err.Error()),
			)
			if dep.Optional {
				if status == "ok" {
					status = "degraded"
				}
				continue
			}
			status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
			continue
		}

		checks[dep.Name] = "ok"
	}

	respond.JSON(w, statusCode, HealthResponse{Status: status, Checks: checks})
}
