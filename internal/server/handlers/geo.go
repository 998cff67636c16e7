// internal/server/handlers/geo.go

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	geosvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/geo"
)

// GeoHandler handles geospatial-related HTTP requests
type GeoHandler struct {
	logger logging.Logger
}

// NewGeoHandler creates a new geo handler
func NewGeoHandler(logger logging.Logger) *GeoHandler {
	return &GeoHandler{
		logger: logger,
	}
}

// GetLocationContext returns the region and climate of a point
func (h *GeoHandler) GetLocationContext(w http.ResponseWriter, r *http.Request) {
	position, err := parsePosition(r.URL.Query().Get)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	if position == nil {
		respondWithError(w, r, h.logger, badRequest("missing location parameters"))
		return
	}

	respondWithJSON(w, http.StatusOK, geosvc.Describe(*position))
}

// ListRegions returns the region table used by the city picker
func (h *GeoHandler) ListRegions(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, geosvc.Regions())
}

// GetRegion returns one region with its derived location context
func (h *GeoHandler) GetRegion(w http.ResponseWriter, r *http.Request) {
	region, ok := geosvc.RegionByKey(chi.URLParam(r, "key"))
	if !ok {
		respondWithError(w, r, h.logger, ErrNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, region)
}
