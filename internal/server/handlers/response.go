// internal/server/handlers/response.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/remote"
	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/storage"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/i18n"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/advisory"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/imaging"
)

// Common errors
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// errorResponse is the body of every error reply
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError maps err onto a status and a localized message
func respondWithError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	code, key := classifyError(err)
	lang := requestLanguage(r)

	if code >= 500 {
		logging.FromContext(r.Context(), logger).Error(r.Context(), "request failed",
			logging.String("path", r.URL.Path),
			logging.Int("status", code),
			logging.Err(err))
	}

	respondWithJSON(w, code, errorResponse{
		Error:   err.Error(),
		Code:    key,
		Message: i18n.Message(lang, key),
	})
}

// badRequest wraps a validation failure so it maps to 400
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// classifyError returns the HTTP status and message key for err
func classifyError(err error) (int, string) {
	var geoErr *geo.GeolocationError
	var remoteErr *remote.RemoteError

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, geo.ErrInvalidPosition),
		errors.Is(err, advisory.ErrEmptyMessage):
		return http.StatusBadRequest, i18n.KeyInvalidRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, i18n.KeyRateLimited
	case errors.Is(err, imaging.ErrEmptyImage), errors.Is(err, imaging.ErrInvalidImage):
		return http.StatusBadRequest, i18n.KeyInvalidImage
	case errors.Is(err, imaging.ErrCompressionTooLarge):
		return http.StatusUnprocessableEntity, i18n.KeyCompressionTooLarge
	case errors.Is(err, ErrNotFound), errors.Is(err, storage.ErrNotFound),
		errors.Is(err, analysis.ErrNothingToRetry):
		return http.StatusNotFound, i18n.KeyNotFound
	case errors.Is(err, analysis.ErrNetwork):
		return http.StatusBadGateway, i18n.KeyNetwork
	case errors.Is(err, analysis.ErrTransientServer):
		return http.StatusServiceUnavailable, i18n.KeyTransient
	case errors.Is(err, analysis.ErrUnexpectedResponseFormat):
		return http.StatusBadGateway, i18n.KeyUnexpectedFormat
	case errors.Is(err, context.Canceled):
		return http.StatusConflict, i18n.KeyCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, i18n.KeyTimeout
	case errors.As(err, &geoErr):
		return geoStatus(geoErr)
	case errors.As(err, &remoteErr):
		if remoteErr.Status == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, i18n.KeyRateLimited
		}
		return http.StatusBadGateway, i18n.KeyInternal
	default:
		return http.StatusInternalServerError, i18n.KeyInternal
	}
}

func geoStatus(err *geo.GeolocationError) (int, string) {
	switch err.Code {
	case geo.CodePermissionDenied:
		return http.StatusForbidden, i18n.KeyPermissionDenied
	case geo.CodeTimeout:
		return http.StatusGatewayTimeout, i18n.KeyTimeout
	case geo.CodeUnsupported:
		return http.StatusNotImplemented, i18n.KeyUnsupported
	default:
		return http.StatusServiceUnavailable, i18n.KeyPositionUnavailable
	}
}

// requestLanguage negotiates the reply language from the language
// parameter and Accept-Language
func requestLanguage(r *http.Request) string {
	var explicit string
	if r.Form != nil {
		// includes multipart fields once the form was parsed
		explicit = r.Form.Get("language")
	} else {
		explicit = r.URL.Query().Get("language")
	}
	if explicit == "" {
		explicit = r.Header.Get("X-Language")
	}
	return i18n.Negotiate(explicit, r.Header.Get("Accept-Language"))
}

// parsePosition reads optional lat/lng/alt/accuracy values. It returns nil
// when neither coordinate is present.
func parsePosition(get func(string) string) (*geo.Position, error) {
	latStr, lngStr := get("lat"), get("lng")
	if latStr == "" && lngStr == "" {
		return nil, nil
	}
	if latStr == "" || lngStr == "" {
		return nil, badRequest("missing location parameters")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, badRequest("invalid latitude")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return nil, badRequest("invalid longitude")
	}

	p := geo.Position{
		Latitude:  lat,
		Longitude: lng,
		Timestamp: time.Now().UnixMilli(),
	}
	if s := get("alt"); s != "" {
		alt, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, badRequest("invalid altitude")
		}
		p.Altitude = &alt
	}
	if s := get("accuracy"); s != "" {
		acc, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, badRequest("invalid accuracy")
		}
		p.Accuracy = acc
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
