// internal/adapter/remote/client.go

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
)

// Remote function names
const (
	FunctionAnalyzePlant   = "analyze-plant"
	FunctionAnalyzeHarvest = "analyze-harvest"
	FunctionWeather        = "get-weather"
	FunctionTips           = "get-tips"
	FunctionAlerts         = "get-alerts"
	FunctionChat           = "chat-assistant"
)

// PayloadKeys maps each function to the envelope field holding its payload
var PayloadKeys = map[string]string{
	FunctionAnalyzePlant:   "analysis",
	FunctionAnalyzeHarvest: "analysis",
	FunctionWeather:        "weather",
	FunctionTips:           "tips",
	FunctionAlerts:         "alerts",
	FunctionChat:           "response",
}

const maxResponseBytes = 8 << 20

// Config contains configuration for the functions client
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  RateLimitConfig
	HTTPClient *http.Client
}

// FunctionsClient invokes serverless functions over HTTP
type FunctionsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *RateLimiter
	logger  logging.Logger
}

// NewFunctionsClient creates a client for the functions endpoint at cfg.BaseURL
func NewFunctionsClient(cfg Config, logger logging.Logger) *FunctionsClient {
	if logger == nil {
		logger = logging.Noop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &FunctionsClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    client,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
}

type envelope struct {
	Success *bool           `json:"success"`
	Error   json.RawMessage `json:"error"`
}

// Invoke posts body to the named function and returns its payload
func (c *FunctionsClient) Invoke(ctx context.Context, function string, body any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling %s request: %w", function, err)
	}

	url := fmt.Sprintf("%s/functions/v1/%s", c.baseURL, function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error calling %s: %w", function, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("network error reading %s response: %w", function, err)
	}

	c.logger.Debug(ctx, "function invoked",
		logging.String("function", function),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)))

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.Backoff(retryAfter(resp.Header.Get("Retry-After")))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &RemoteError{
			Function: function,
			Status:   resp.StatusCode,
			Message:  errorMessage(raw),
		}
	}

	return extractPayload(function, resp.StatusCode, raw)
}

func extractPayload(function string, status int, raw []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// not an envelope, hand the body to the caller as is
		return json.RawMessage(raw), nil
	}

	if msg := errorMessage(raw); msg != "" {
		return nil, &RemoteError{Function: function, Status: status, Message: msg}
	}
	if env.Success != nil && !*env.Success {
		return nil, &RemoteError{Function: function, Status: status, Message: "function reported failure"}
	}

	if key, ok := PayloadKeys[function]; ok {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err == nil {
			if p, ok := fields[key]; ok && string(p) != "null" {
				return p, nil
			}
		}
	}
	return json.RawMessage(raw), nil
}

// errorMessage extracts the error field of a response body. The field is
// either a string or an object with a message.
func errorMessage(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Error) == 0 || string(env.Error) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(env.Error)
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 5 * time.Second
}
