package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ws97109/highway-traffic/internal/api/models"
	"github.com/ws97109/highway-traffic/internal/api/response"
)

// SubsystemCheck probes one dependency. A nil error means healthy.
type SubsystemCheck func(ctx context.Context) error

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	// checks run in order on readiness and status requests.
	checks []namedCheck
	// degraded reports whether the forecast pipeline is in reduced mode.
	degraded func() bool
}

type namedCheck struct {
	name  string
	check SubsystemCheck
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(version, buildTime string, degraded func() bool) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		degraded:  degraded,
	}
}

// WithCheck registers a dependency probe under a name.
func (h *OpsHandler) WithCheck(name string, check SubsystemCheck) *OpsHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	return h
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Now(),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check. Fails when
// any registered dependency probe fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			response.JSON(w, r, http.StatusServiceUnavailable, models.Health{
				Status: models.HealthStatusFail,
				Time:   models.Now(),
				Details: map[string]interface{}{
					c.name: err.Error(),
				},
			})
			return
		}
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Now(),
	})
}

// SystemStatus handles GET /v1/ops/status - subsystem status detail.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := models.SystemStatus{
		Status: models.HealthStatusOK,
		Time:   models.Now(),
	}

	for _, c := range h.checks {
		sub := models.SubsystemStatus{Name: c.name, Status: models.HealthStatusOK}
		if err := c.check(ctx); err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusFail
			sub.Detail = &detail
			status.Status = models.HealthStatusDegraded
		}
		status.Subsystems = append(status.Subsystems, sub)
	}

	if h.degraded != nil && h.degraded() {
		status.Status = models.HealthStatusDegraded
		status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, "forecast_physical_only")
	}

	response.JSON(w, r, http.StatusOK, status)
}
