package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/remote"
	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/storage"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/i18n"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/advisory"
	analysissvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/imaging"
)

type invocation struct {
	Function string
	Body     map[string]any
}

// fakeInvoker answers every function with a canned payload or error
type fakeInvoker struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	err       error
	calls     []invocation
}

func (f *fakeInvoker) Invoke(_ context.Context, function string, body any) (json.RawMessage, error) {
	data, _ := json.Marshal(body)
	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invocation{Function: function, Body: decoded})
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[function], nil
}

func (f *fakeInvoker) last(t *testing.T) invocation {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newSessions(kind analysis.Kind, invoker analysissvc.Invoker) *analysissvc.Sessions {
	engine := imaging.NewEngine(imaging.NewStdCodec(), nil, nil)
	cfg := analysissvc.DefaultConfig()
	cfg.MaxRetries = 0

	return analysissvc.NewSessions(func() *analysissvc.Orchestrator {
		return analysissvc.NewOrchestrator(kind, imaging.AdaptivePreset(0), analysissvc.Dependencies{
			Engine:  engine,
			Invoker: invoker,
		}, cfg, nil)
	}, time.Minute)
}

func multipartRequest(t *testing.T, target string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if image != nil {
		part, err := mw.CreateFormFile("image", "capture.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAnalysisHandler_Diagnosis(t *testing.T) {
	invoker := &fakeInvoker{responses: map[string]json.RawMessage{
		"analyze-plant": json.RawMessage(`{"is_healthy":false,"disease_name":"Black pod","confidence":0.9}`),
	}}
	h := NewAnalysisHandler(newSessions(analysis.KindDiagnosis, invoker), 0, logging.Noop())

	req := multipartRequest(t, "/diagnoses", pngImage(t, 64, 48), map[string]string{
		"lat":      "3.87",
		"lng":      "11.52",
		"language": "en",
		"crop":     " cocoa ",
	})
	rec := httptest.NewRecorder()
	h.Analyze(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result analysis.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, analysis.KindDiagnosis, result.Kind)
	require.NotNil(t, result.Diagnosis)
	assert.Equal(t, "Black pod", result.Diagnosis.DiseaseName)
	require.NotNil(t, result.Location)
	assert.Equal(t, "centre", result.Location.Region)
	assert.Equal(t, 1, result.Attempts)

	call := invoker.last(t)
	assert.Equal(t, "analyze-plant", call.Function)
	assert.Equal(t, "en", call.Body["language"])
	assert.Equal(t, "cocoa", call.Body["cropHint"])
	assert.NotEmpty(t, call.Body["image"])
}

func TestAnalysisHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		image    []byte
		fields   map[string]string
		invoker  *fakeInvoker
		status   int
		code     string
		language string
	}{
		{
			name:   "missing image",
			status: http.StatusBadRequest,
			code:   i18n.KeyInvalidRequest,
		},
		{
			name:   "unreadable image",
			image:  []byte("not an image"),
			status: http.StatusBadRequest,
			code:   i18n.KeyInvalidImage,
		},
		{
			name:   "half a coordinate",
			image:  []byte("x"),
			fields: map[string]string{"lat": "3.8"},
			status: http.StatusBadRequest,
			code:   i18n.KeyInvalidRequest,
		},
		{
			name:     "network failure after retries",
			invoker:  &fakeInvoker{err: errors.New("network failure")},
			status:   http.StatusBadGateway,
			code:     i18n.KeyNetwork,
			language: i18n.French,
		},
		{
			name:     "malformed payload",
			invoker:  &fakeInvoker{responses: map[string]json.RawMessage{"analyze-plant": json.RawMessage(`{"plant":"x"}`)}},
			fields:   map[string]string{"language": "en"},
			status:   http.StatusBadGateway,
			code:     i18n.KeyUnexpectedFormat,
			language: i18n.English,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoker := tt.invoker
			if invoker == nil {
				invoker = &fakeInvoker{}
			}
			image := tt.image
			if image == nil && tt.invoker != nil {
				image = pngImage(t, 32, 32)
			}
			h := NewAnalysisHandler(newSessions(analysis.KindDiagnosis, invoker), 0, logging.Noop())

			rec := httptest.NewRecorder()
			h.Analyze(rec, multipartRequest(t, "/diagnoses", image, tt.fields))

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			if tt.language != "" {
				assert.Equal(t, i18n.Message(tt.language, tt.code), resp.Message)
			}
		})
	}
}

func TestAnalysisHandler_UploadLimit(t *testing.T) {
	h := NewAnalysisHandler(newSessions(analysis.KindHarvest, &fakeInvoker{}), 1024, logging.Noop())

	rec := httptest.NewRecorder()
	h.Analyze(rec, multipartRequest(t, "/harvests", bytes.Repeat([]byte{1}, 4096), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysisHandler_RetryWithoutCapture(t *testing.T) {
	h := NewAnalysisHandler(newSessions(analysis.KindHarvest, &fakeInvoker{}), 0, logging.Noop())

	rec := httptest.NewRecorder()
	h.Retry(rec, httptest.NewRequest(http.MethodPost, "/harvests/retry?user_id=u1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalysisHandler_RetryReusesCapture(t *testing.T) {
	invoker := &fakeInvoker{responses: map[string]json.RawMessage{
		"analyze-harvest": json.RawMessage(`{"grade":"A","quality_score":92}`),
	}}
	h := NewAnalysisHandler(newSessions(analysis.KindHarvest, invoker), 0, logging.Noop())

	rec := httptest.NewRecorder()
	h.Analyze(rec, multipartRequest(t, "/harvests", pngImage(t, 40, 40), map[string]string{"user_id": "u1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Retry(rec, httptest.NewRequest(http.MethodPost, "/harvests/retry?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result analysis.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Harvest)
	assert.Equal(t, "A", result.Harvest.Grade)
	assert.Len(t, invoker.calls, 2)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "ip:10.0.0.7", clientKey(req, ""))

	req.Header.Set("X-Device-ID", "phone-1")
	assert.Equal(t, "device:phone-1", clientKey(req, ""))
	assert.Equal(t, "user:u1", clientKey(req, "u1"))
}

func TestGeoHandler(t *testing.T) {
	h := NewGeoHandler(logging.Noop())
	router := chi.NewRouter()
	router.Get("/geo/context", h.GetLocationContext)
	router.Get("/geo/regions", h.ListRegions)
	router.Get("/geo/regions/{key}", h.GetRegion)

	t.Run("context", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/geo/context?lat=4.05&lng=9.77&accuracy=12", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var info geo.LocationInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, "littoral", info.Region)
		assert.Equal(t, "Douala", info.NearestCity)
		assert.Equal(t, "Equatorial coastal", info.ClimateZone)
		assert.True(t, info.IsHighAccuracy)
	})

	t.Run("missing coordinates", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/geo/context", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("out of range", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/geo/context?lat=95&lng=9", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-finite values", func(t *testing.T) {
		for _, query := range []string{
			"lat=NaN&lng=NaN",
			"lat=4.05&lng=Inf",
			"lat=4.05&lng=9.77&accuracy=NaN",
			"lat=4.05&lng=9.77&alt=-Inf",
		} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/geo/context?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		}
	})

	t.Run("regions", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/geo/regions", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var regions []geo.Region
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regions))
		assert.Len(t, regions, 10)
	})

	t.Run("region by key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/geo/regions/ouest", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/geo/regions/atlantis", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdvisoryHandler(t *testing.T) {
	invoker := &fakeInvoker{responses: map[string]json.RawMessage{
		"get-weather":    json.RawMessage(`{"temperature":27}`),
		"chat-assistant": json.RawMessage(`"Plantez en mars."`),
	}}
	h := NewAdvisoryHandler(advisory.NewService(invoker, nil), logging.Noop())

	t.Run("weather", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/advice/weather?lat=5.48&lng=10.42&alt=1450", nil)
		req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
		rec := httptest.NewRecorder()
		h.GetWeather(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"temperature":27}`, rec.Body.String())

		call := invoker.last(t)
		assert.Equal(t, "get-weather", call.Function)
		assert.Equal(t, "en", call.Body["language"])
		assert.Equal(t, "ouest", call.Body["region"])
	})

	t.Run("chat", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"message":"Quand planter le maïs ?"}`))
		rec := httptest.NewRecorder()
		h.Chat(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var reply advisory.ChatReply
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
		assert.NotEmpty(t, reply.SessionID)
		assert.Equal(t, "fr", invoker.last(t).Body["language"])
	})

	t.Run("empty chat message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Chat(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"message":"  "}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed chat body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Chat(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("remote rate limit", func(t *testing.T) {
		failing := &fakeInvoker{err: &remote.RemoteError{Function: "get-tips", Status: http.StatusTooManyRequests, Message: "slow down"}}
		h := NewAdvisoryHandler(advisory.NewService(failing, nil), logging.Noop())

		rec := httptest.NewRecorder()
		h.GetTips(rec, httptest.NewRequest(http.MethodGet, "/advice/tips", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, i18n.KeyRateLimited, decodeError(t, rec).Code)
	})
}

type fakeHistory struct {
	activities []analysis.Activity
	filter     storage.ActivityFilter
}

func (f *fakeHistory) ListActivities(_ context.Context, userID string, filter storage.ActivityFilter) ([]analysis.Activity, error) {
	f.filter = filter
	var out []analysis.Activity
	for _, a := range f.activities {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeHistory) GetActivity(_ context.Context, id string) (*analysis.Activity, error) {
	for _, a := range f.activities {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, storage.ErrNotFound
}

func TestHistoryHandler(t *testing.T) {
	store := &fakeHistory{activities: []analysis.Activity{
		{ID: "a1", UserID: "u1", Kind: analysis.KindDiagnosis, Summary: "healthy"},
		{ID: "a2", UserID: "u2", Kind: analysis.KindHarvest, Summary: "grade B"},
	}}
	h := NewHistoryHandler(store, logging.Noop())
	router := chi.NewRouter()
	router.Get("/history", h.ListHistory)
	router.Get("/history/{id}", h.GetHistoryEntry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?user_id=u1&kind=diagnosis&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []analysis.Activity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)
	assert.Equal(t, storage.ActivityFilter{Kind: analysis.KindDiagnosis, Limit: 5}, store.filter)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?user_id=u1&kind=weather", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HealthHandler(map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"nats":     func(context.Context) error { return errors.New("disconnected") },
	})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"database":"ok","nats":"disconnected"}}`, rec.Body.String())
}

func TestClientLimiter(t *testing.T) {
	l := NewClientLimiter(0.5, 1, logging.Noop())
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := l.Middleware(next)

	do := func(device string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/diagnoses", nil)
		req.Header.Set("X-Device-ID", device)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("a").Code)

	rec := do("a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do("b").Code, "clients have separate budgets")

	now = now.Add(2 * time.Second)
	assert.Equal(t, http.StatusNoContent, do("a").Code)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		key    string
	}{
		{imaging.ErrCompressionTooLarge, http.StatusUnprocessableEntity, i18n.KeyCompressionTooLarge},
		{analysis.ErrTransientServer, http.StatusServiceUnavailable, i18n.KeyTransient},
		{context.Canceled, http.StatusConflict, i18n.KeyCanceled},
		{geo.NewGeolocationError(geo.CodePermissionDenied, "denied"), http.StatusForbidden, i18n.KeyPermissionDenied},
		{geo.NewGeolocationError(geo.CodeTimeout, ""), http.StatusGatewayTimeout, i18n.KeyTimeout},
		{&remote.RemoteError{Status: 500}, http.StatusBadGateway, i18n.KeyInternal},
		{errors.New("boom"), http.StatusInternalServerError, i18n.KeyInternal},
	}
	for _, tt := range tests {
		status, key := classifyError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.key, key, tt.err.Error())
	}
}
