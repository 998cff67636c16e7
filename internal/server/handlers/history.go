// internal/server/handlers/history.go

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/storage"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
)

// HistoryStore lists recorded activities
type HistoryStore interface {
	ListActivities(ctx context.Context, userID string, filter storage.ActivityFilter) ([]analysis.Activity, error)
	GetActivity(ctx context.Context, id string) (*analysis.Activity, error)
}

// HistoryHandler serves a user's analysis history
type HistoryHandler struct {
	store  HistoryStore
	logger logging.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(store HistoryStore, logger logging.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:  store,
		logger: logger,
	}
}

// ListHistory returns the user's recent activities
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondWithError(w, r, h.logger, badRequest("missing user id"))
		return
	}

	var filter storage.ActivityFilter
	switch kind := analysis.Kind(r.URL.Query().Get("kind")); kind {
	case "", analysis.KindDiagnosis, analysis.KindHarvest:
		filter.Kind = kind
	default:
		respondWithError(w, r, h.logger, badRequest("unknown kind %q", kind))
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	activities, err := h.store.ListActivities(r.Context(), userID, filter)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, activities)
}

// GetHistoryEntry returns one recorded activity
func (h *HistoryHandler) GetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	activity, err := h.store.GetActivity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, activity)
}
