package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ws97109/highway-traffic/internal/api/models"
	"github.com/ws97109/highway-traffic/internal/api/response"
	"github.com/ws97109/highway-traffic/internal/forecast"
	"github.com/ws97109/highway-traffic/internal/ingest"
	"github.com/ws97109/highway-traffic/internal/network"
	"github.com/ws97109/highway-traffic/internal/pipeline"
)

// ForecastHandler serves prediction endpoints.
type ForecastHandler struct {
	pipeline *pipeline.Manager
}

// NewForecastHandler creates a new ForecastHandler.
func NewForecastHandler(p *pipeline.Manager) *ForecastHandler {
	return &ForecastHandler{pipeline: p}
}

// Predict handles POST /v1/forecast:predict - on-demand prediction for the
// named stations.
func (h *ForecastHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var input models.ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if len(input.Stations) == 0 {
		response.BadRequest(w, r, "stations must not be empty", []models.FieldError{
			{Field: "stations", Message: "at least one station is required"},
		})
		return
	}

	records, err := h.pipeline.Forecast(r.Context(), input.Stations)
	if err != nil {
		switch {
		case errors.Is(err, network.ErrUnknownStation):
			response.NotFound(w, r, err.Error())
		case errors.Is(err, ingest.ErrInsufficientData):
			// Not enough telemetry yet. A retriable condition, not a
			// client error.
			response.Conflict(w, r, err.Error())
		case errors.Is(err, forecast.ErrModelUnavailable):
			response.ServiceUnavailable(w, r, "prediction model unavailable")
		default:
			response.InternalError(w, r, "forecast failed")
		}
		return
	}

	response.JSON(w, r, http.StatusOK, models.ForecastResponse{
		Records:     records,
		GeneratedAt: models.Now(),
	})
}

// Latest handles GET /v1/forecast/latest - the most recent fused predictions
// from the background pipeline.
func (h *ForecastHandler) Latest(w http.ResponseWriter, r *http.Request) {
	preds, degraded := h.pipeline.LatestPredictions()
	response.JSON(w, r, http.StatusOK, models.PredictionsResponse{
		Predictions: preds,
		Degraded:    degraded,
		GeneratedAt: models.Now(),
	})
}
