// internal/service/analysis/fallback.go

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
)

// Invoker calls a named remote function
type Invoker interface {
	Invoke(ctx context.Context, function string, body any) (json.RawMessage, error)
}

// FallbackInvoker tries each provider in order until one succeeds
type FallbackInvoker struct {
	providers []Invoker
	logger    logging.Logger
}

var _ Invoker = (*FallbackInvoker)(nil)

// NewFallbackInvoker creates an invoker over providers
func NewFallbackInvoker(logger logging.Logger, providers ...Invoker) *FallbackInvoker {
	if logger == nil {
		logger = logging.Noop()
	}
	return &FallbackInvoker{
		providers: providers,
		logger:    logger,
	}
}

// Invoke returns the first successful payload. When every provider fails the
// last error is returned wrapped.
func (f *FallbackInvoker) Invoke(ctx context.Context, function string, body any) (json.RawMessage, error) {
	if len(f.providers) == 0 {
		return nil, errors.New("no analysis provider configured")
	}

	var lastErr error
	for i, p := range f.providers {
		raw, err := p.Invoke(ctx, function, body)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		f.logger.Warn(ctx, "analysis provider failed",
			logging.String("function", function),
			logging.Int("provider", i),
			logging.Err(err))
	}

	if len(f.providers) == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("all %d providers failed: %w", len(f.providers), lastErr)
}
