package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ws97109/highway-traffic/internal/api/models"
	"github.com/ws97109/highway-traffic/internal/api/response"
	"github.com/ws97109/highway-traffic/internal/history"
	"github.com/ws97109/highway-traffic/internal/pipeline"
)

// ShockwaveHandler serves detection query endpoints.
type ShockwaveHandler struct {
	pipeline *pipeline.Manager
	archive  history.Repository
}

// NewShockwaveHandler creates a new ShockwaveHandler.
func NewShockwaveHandler(p *pipeline.Manager, archive history.Repository) *ShockwaveHandler {
	return &ShockwaveHandler{pipeline: p, archive: archive}
}

// Active handles GET /v1/shockwaves/active - currently tracked shockwaves,
// optionally filtered by highway and direction.
func (h *ShockwaveHandler) Active(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events := h.pipeline.ActiveEvents(q.Get("highway"), q.Get("direction"))

	resp := models.ShockwaveListResponse{
		Shockwaves:  make([]models.Shockwave, 0, len(events)),
		GeneratedAt: models.Now(),
	}
	for _, ev := range events {
		resp.Shockwaves = append(resp.Shockwaves, models.NewShockwave(ev))
	}

	response.JSON(w, r, http.StatusOK, resp)
}

// History handles GET /v1/shockwaves/history - archived events within an
// optional time range.
func (h *ShockwaveHandler) History(w http.ResponseWriter, r *http.Request) {
	q := history.Query{
		Highway:   r.URL.Query().Get("highway"),
		Direction: r.URL.Query().Get("direction"),
	}

	var fieldErrs []models.FieldError
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "from", Message: "must be RFC 3339"})
		}
		q.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "to", Message: "must be RFC 3339"})
		}
		q.To = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "limit", Message: "must be a positive integer"})
		}
		q.Limit = n
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return
	}

	events, err := h.archive.List(r.Context(), q)
	if err != nil {
		response.InternalError(w, r, "archive query failed")
		return
	}

	resp := models.ShockwaveListResponse{
		Shockwaves:  make([]models.Shockwave, 0, len(events)),
		GeneratedAt: models.Now(),
	}
	for _, ev := range events {
		resp.Shockwaves = append(resp.Shockwaves, models.NewShockwave(ev))
	}

	response.JSON(w, r, http.StatusOK, resp)
}

// Get handles GET /v1/shockwaves/{eventId} - one event, live or archived.
func (h *ShockwaveHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	for _, ev := range h.pipeline.AllEvents() {
		if ev.ID == eventID {
			response.JSON(w, r, http.StatusOK, models.NewShockwave(ev))
			return
		}
	}

	ev, err := h.archive.Get(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, history.ErrEventNotFound) {
			response.NotFound(w, r, "no event with id "+eventID)
			return
		}
		response.InternalError(w, r, "archive query failed")
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewShockwave(ev))
}
