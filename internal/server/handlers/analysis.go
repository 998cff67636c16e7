// internal/server/handlers/analysis.go

package handlers

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/i18n"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	analysissvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/analysis"
)

// SessionPool hands out the orchestrator owned by one client
type SessionPool interface {
	Get(key string) *analysissvc.Orchestrator
}

// AnalysisHandler handles photo diagnosis and harvest grading requests
type AnalysisHandler struct {
	sessions  SessionPool
	maxUpload int64
	logger    logging.Logger
}

// NewAnalysisHandler creates a handler over one session pool
func NewAnalysisHandler(sessions SessionPool, maxUpload int64, logger logging.Logger) *AnalysisHandler {
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &AnalysisHandler{
		sessions:  sessions,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// Analyze accepts a multipart capture and returns the analysis result
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(w, r)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	orchestrator := h.sessions.Get(clientKey(r, req.UserID))
	result, err := orchestrator.Analyze(r.Context(), *req)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// Retry re-runs the client's last capture
func (h *AnalysisHandler) Retry(w http.ResponseWriter, r *http.Request) {
	orchestrator := h.sessions.Get(clientKey(r, r.URL.Query().Get("user_id")))
	result, err := orchestrator.Retry(r.Context())
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *AnalysisHandler) parseRequest(w http.ResponseWriter, r *http.Request) (*analysis.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, badRequest("upload exceeds %d bytes", h.maxUpload)
		}
		return nil, badRequest("invalid multipart form")
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, badRequest("missing image")
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		return nil, badRequest("error reading image")
	}

	position, err := parsePosition(r.FormValue)
	if err != nil {
		return nil, err
	}

	return &analysis.Request{
		Image:    image,
		Language: i18n.Negotiate(r.FormValue("language"), r.Header.Get("Accept-Language")),
		Position: position,
		Crop:     strings.TrimSpace(r.FormValue("crop")),
		UserID:   r.FormValue("user_id"),
	}, nil
}

// clientKey identifies the caller for single-flight purposes
func clientKey(r *http.Request, userID string) string {
	if userID != "" {
		return "user:" + userID
	}
	if device := r.Header.Get("X-Device-ID"); device != "" {
		return "device:" + device
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
