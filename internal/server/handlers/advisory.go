// internal/server/handlers/advisory.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/i18n"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/advisory"
)

const maxChatBody = 256 << 10

// AdvisoryHandler serves weather, tips, alerts and the assistant
type AdvisoryHandler struct {
	service *advisory.Service
	logger  logging.Logger
}

// NewAdvisoryHandler creates a new advisory handler
func NewAdvisoryHandler(service *advisory.Service, logger logging.Logger) *AdvisoryHandler {
	return &AdvisoryHandler{
		service: service,
		logger:  logger,
	}
}

// GetWeather returns the forecast for the caller's location
func (h *AdvisoryHandler) GetWeather(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.service.Weather)
}

// GetTips returns farming tips for the caller's location and crop
func (h *AdvisoryHandler) GetTips(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.service.Tips)
}

// GetAlerts returns active agricultural alerts
func (h *AdvisoryHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.service.Alerts)
}

func (h *AdvisoryHandler) serve(
	w http.ResponseWriter,
	r *http.Request,
	call func(context.Context, advisory.Query) (json.RawMessage, error),
) {
	query := r.URL.Query()
	position, err := parsePosition(query.Get)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	payload, err := call(r.Context(), advisory.Query{
		Language: requestLanguage(r),
		Position: position,
		Crop:     query.Get("crop"),
		Region:   query.Get("region"),
	})
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, payload)
}

// Chat forwards a message to the assistant
func (h *AdvisoryHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req advisory.ChatRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, r, h.logger, badRequest("invalid request body"))
		return
	}
	if req.Position != nil {
		if err := req.Position.Validate(); err != nil {
			respondWithError(w, r, h.logger, err)
			return
		}
	}
	req.Language = i18n.Negotiate(req.Language, r.Header.Get("Accept-Language"))

	reply, err := h.service.Chat(r.Context(), req)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, reply)
}
