package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/tracking-sync/internal/core/service"
)

// HealthHandler handles GET /health, the liveness probe. It always returns 200.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// ReadinessHandler handles GET /health/ready. The service is ready when every
// dependency answers a ping and the record store has not failed repeatedly
// during polls.
type ReadinessHandler struct {
	deps   []Pinger
	health *service.StoreHealth
}

func NewReadinessHandler(health *service.StoreHealth, deps ...Pinger) *ReadinessHandler {
	return &ReadinessHandler{deps: deps, health: health}
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type storeStatus struct {
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
	Store        *storeStatus                `json:"store,omitempty"`
}

func (h *ReadinessHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]dependencyStatus, len(h.deps))
	healthy := true

	for _, d := range h.deps {
		if err := d.Ping(ctx); err != nil {
			deps[d.Name()] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
			healthy = false
			continue
		}
		deps[d.Name()] = dependencyStatus{Status: "ok"}
	}

	resp := readinessResponse{Dependencies: deps}
	if h.health != nil {
		snap := h.health.Snapshot()
		st := &storeStatus{Status: "ok", ConsecutiveFailures: snap.Consecutive, LastError: snap.LastError}
		if !snap.LastFailure.IsZero() {
			st.LastFailure = &snap.LastFailure
		}
		if !snap.Healthy {
			st.Status = "unhealthy"
			healthy = false
		}
		resp.Store = st
	}

	resp.Status = "ok"
	httpStatus := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
