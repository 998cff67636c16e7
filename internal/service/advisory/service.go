// internal/service/advisory/service.go

package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/remote"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/i18n"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	geosvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/geo"
)

// ErrEmptyMessage is returned for a chat request without text
var ErrEmptyMessage = errors.New("chat message is empty")

// maxHistory bounds the conversation context forwarded to the assistant
const maxHistory = 20

// Invoker calls a named remote function
type Invoker interface {
	Invoke(ctx context.Context, function string, body any) (json.RawMessage, error)
}

// Query describes the caller of a location aware advisory feature
type Query struct {
	Language string
	Position *geo.Position
	Crop     string
	Region   string
}

// ChatMessage is one turn of a conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a message sent to the assistant
type ChatRequest struct {
	SessionID string        `json:"sessionId,omitempty"`
	Message   string        `json:"message"`
	Language  string        `json:"language,omitempty"`
	Position  *geo.Position `json:"position,omitempty"`
	History   []ChatMessage `json:"history,omitempty"`
}

// ChatReply is the assistant's answer
type ChatReply struct {
	SessionID string          `json:"sessionId"`
	Response  json.RawMessage `json:"response"`
}

// Service proxies advisory features to the remote functions
type Service struct {
	invoker Invoker
	logger  logging.Logger
}

// NewService creates an advisory service
func NewService(invoker Invoker, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Service{
		invoker: invoker,
		logger:  logger,
	}
}

// Weather returns the forecast for the caller's position
func (s *Service) Weather(ctx context.Context, q Query) (json.RawMessage, error) {
	return s.invoke(ctx, remote.FunctionWeather, q)
}

// Tips returns farming tips for the caller's region and crop
func (s *Service) Tips(ctx context.Context, q Query) (json.RawMessage, error) {
	return s.invoke(ctx, remote.FunctionTips, q)
}

// Alerts returns agricultural alerts for the caller's region
func (s *Service) Alerts(ctx context.Context, q Query) (json.RawMessage, error) {
	return s.invoke(ctx, remote.FunctionAlerts, q)
}

// Chat sends a message to the assistant. A session id is assigned when the
// caller has none.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	history := req.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	body := contextBody(Query{Language: req.Language, Position: req.Position})
	body["message"] = msg
	body["sessionId"] = req.SessionID
	body["history"] = history

	raw, err := s.invoker.Invoke(ctx, remote.FunctionChat, body)
	if err != nil {
		return nil, fmt.Errorf("error calling assistant: %w", err)
	}

	return &ChatReply{
		SessionID: req.SessionID,
		Response:  raw,
	}, nil
}

func (s *Service) invoke(ctx context.Context, function string, q Query) (json.RawMessage, error) {
	raw, err := s.invoker.Invoke(ctx, function, contextBody(q))
	if err != nil {
		s.logger.Warn(ctx, "advisory call failed", logging.String("function", function), logging.Err(err))
		return nil, fmt.Errorf("error calling %s: %w", function, err)
	}
	return raw, nil
}

// contextBody builds the request fields shared by all advisory functions
func contextBody(q Query) map[string]any {
	lang := q.Language
	if lang == "" {
		lang = i18n.Default()
	}

	body := map[string]any{"language": lang}
	if q.Crop != "" {
		body["crop"] = q.Crop
	}

	if p := q.Position; p != nil {
		info := geosvc.Describe(*p)
		body["latitude"] = p.Latitude
		body["longitude"] = p.Longitude
		body["accuracy"] = p.Accuracy
		if p.Altitude != nil {
			body["altitude"] = *p.Altitude
		}
		body["region"] = info.Region
		body["regionName"] = info.RegionName
		body["nearestCity"] = info.NearestCity
		body["climateZone"] = info.ClimateZone
		body["climateCharacteristics"] = info.ClimateCharacteristics
	}

	// an explicit region wins over the derived one
	if q.Region != "" {
		body["region"] = q.Region
		if r, ok := geosvc.RegionByKey(q.Region); ok {
			body["regionName"] = r.Name
		}
	}
	return body
}
