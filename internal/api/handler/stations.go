package handler

import (
	"net/http"
	"strconv"

	"github.com/ws97109/highway-traffic/internal/api/models"
	"github.com/ws97109/highway-traffic/internal/api/response"
	"github.com/ws97109/highway-traffic/internal/network"
)

// StationHandler serves the station topology.
type StationHandler struct {
	net *network.Network
}

// NewStationHandler creates a new StationHandler.
func NewStationHandler(net *network.Network) *StationHandler {
	return &StationHandler{net: net}
}

// List handles GET /v1/stations - all stations, optionally filtered to one
// highway/direction corridor.
func (h *StationHandler) List(w http.ResponseWriter, r *http.Request) {
	highway := r.URL.Query().Get("highway")
	direction := r.URL.Query().Get("direction")

	var keys []network.Key
	if highway != "" && direction != "" {
		keys = []network.Key{{Highway: highway, Dir: network.Direction(direction)}}
	} else {
		keys = h.net.Partitions()
	}

	resp := models.StationListResponse{Stations: []models.StationView{}}
	for _, key := range keys {
		seq, err := h.net.StationsFor(key.Highway, key.Dir)
		if err != nil {
			response.NotFound(w, r, err.Error())
			return
		}
		for _, s := range seq {
			resp.Stations = append(resp.Stations, models.NewStationView(s))
		}
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	response.JSON(w, r, http.StatusOK, resp)
}

// Nearest handles GET /v1/stations/nearest?lat=..&lng=.. - the station
// closest to a coordinate.
func (h *StationHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		response.BadRequest(w, r, "lat and lng are required", []models.FieldError{
			{Field: "lat", Message: "must be a number"},
			{Field: "lng", Message: "must be a number"},
		})
		return
	}

	s, km := h.net.NearestStation(lat, lng)
	if s == nil {
		response.NotFound(w, r, "no stations loaded")
		return
	}

	response.JSON(w, r, http.StatusOK, models.NearestStationResponse{
		Station:    models.NewStationView(s),
		DistanceKM: km,
	})
}
