// Package handler provides HTTP handlers for the highway traffic API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ws97109/highway-traffic/internal/api/models"
	"github.com/ws97109/highway-traffic/internal/api/response"
	"github.com/ws97109/highway-traffic/internal/ingest"
	"github.com/ws97109/highway-traffic/internal/network"
	"github.com/ws97109/highway-traffic/internal/pipeline"
)

// TelemetryHandler accepts station telemetry batches.
type TelemetryHandler struct {
	pipeline *pipeline.Manager
}

// NewTelemetryHandler creates a new TelemetryHandler.
func NewTelemetryHandler(p *pipeline.Manager) *TelemetryHandler {
	return &TelemetryHandler{pipeline: p}
}

// Ingest handles POST /v1/telemetry - accept a batch of readings.
//
// Individual bad readings never fail the batch: each rejection is reported
// with its reason and the rest of the batch is processed. Only a malformed
// envelope is a client error.
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var input models.TelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if len(input.Readings) == 0 {
		response.BadRequest(w, r, "readings must not be empty", []models.FieldError{
			{Field: "readings", Message: "at least one reading is required"},
		})
		return
	}

	resp := models.TelemetryResponse{}
	for _, in := range input.Readings {
		err := h.pipeline.Ingest(ingest.Reading{
			StationID: in.StationID,
			Timestamp: in.Timestamp.Time(),
			Flow:      in.Flow,
			Speed:     in.Speed,
			Density:   in.Density,
		})
		if err != nil {
			resp.Rejected = append(resp.Rejected, models.RejectedReading{
				StationID: in.StationID,
				Timestamp: in.Timestamp,
				Reason:    rejectionReason(err),
			})
			continue
		}
		resp.Accepted++
	}

	response.JSON(w, r, http.StatusOK, resp)
}

// rejectionReason maps ingest errors to stable reason codes.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrUnknownStation), errors.Is(err, network.ErrUnknownStation):
		return "unknown_station"
	case errors.Is(err, ingest.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ingest.ErrInvalidReading):
		return "invalid_reading"
	default:
		return "rejected"
	}
}
