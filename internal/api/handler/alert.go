package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ws97109/highway-traffic/internal/alert"
	"github.com/ws97109/highway-traffic/internal/api/models"
	"github.com/ws97109/highway-traffic/internal/api/response"
	"github.com/ws97109/highway-traffic/internal/history"
	"github.com/ws97109/highway-traffic/internal/pipeline"
)

// AlertHandler composes consumer and operator alerts from live detection
// and forecast state. Alerts themselves are ephemeral; only an audit row
// per composed alert is archived.
type AlertHandler struct {
	pipeline *pipeline.Manager
	composer *alert.Composer
	archive  history.Repository
	logger   zerolog.Logger
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(p *pipeline.Manager, c *alert.Composer, archive history.Repository, logger zerolog.Logger) *AlertHandler {
	return &AlertHandler{pipeline: p, composer: c, archive: archive, logger: logger}
}

// Compose handles POST /v1/alerts:compose - driver alerts for an observer
// location.
//
// Always answers 200 with a (possibly empty) alert list. Reduced pipeline
// modes are reported through the degraded flag, never by omission.
func (h *AlertHandler) Compose(w http.ResponseWriter, r *http.Request) {
	var input models.AlertsRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if input.Location.Lat < -90 || input.Location.Lat > 90 ||
		input.Location.Lng < -180 || input.Location.Lng > 180 {
		response.BadRequest(w, r, "invalid location", []models.FieldError{
			{Field: "location", Message: "lat must be in [-90,90], lng in [-180,180]"},
		})
		return
	}

	events := h.pipeline.ActiveEvents("", "")
	_, degraded := h.pipeline.LatestPredictions()

	alerts := h.composer.AlertsFor(events, input.Location.Lat, input.Location.Lng)
	if alerts == nil {
		alerts = []alert.DriverAlert{}
	}

	// Audit is best-effort: a failed write never blocks the response.
	if h.archive != nil {
		now := time.Now().UTC()
		for _, a := range alerts {
			err := h.archive.Audit(r.Context(), history.AlertAudit{
				EventID:    a.EventID,
				Severity:   a.Severity,
				StationID:  a.NearestStation,
				ComposedAt: now,
			})
			if err != nil {
				h.logger.Warn().Err(err).Str("event_id", a.EventID).Msg("alert audit write failed")
			}
		}
	}

	response.JSON(w, r, http.StatusOK, models.AlertsResponse{
		Alerts:      alerts,
		Degraded:    degraded,
		GeneratedAt: models.Now(),
	})
}

// OperatorRecommendations handles GET /v1/operators/recommendations - ranked
// interventions for every active shockwave.
func (h *AlertHandler) OperatorRecommendations(w http.ResponseWriter, r *http.Request) {
	events := h.pipeline.ActiveEvents("", "")
	preds, degraded := h.pipeline.LatestPredictions()

	actions := alert.ComposeOperatorRecommendations(events, preds)
	if actions == nil {
		actions = []alert.OperatorAction{}
	}

	response.JSON(w, r, http.StatusOK, models.OperatorRecommendationsResponse{
		Actions:     actions,
		Degraded:    degraded,
		GeneratedAt: models.Now(),
	})
}
