// internal/domain/geo/service.go

package geo

import (
	"context"
	"errors"
	"time"
)

// Geolocation error codes. The values mirror the browser geolocation API,
// clients branch on CodePermissionDenied and CodeUnsupported.
const (
	CodeUnsupported         = 0
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// Sentinels matched by errors.Is against a *GeolocationError
var (
	ErrUnsupported         = errors.New("geolocation unsupported")
	ErrPermissionDenied    = errors.New("geolocation permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("geolocation timeout")
)

// GeolocationError is an acquisition failure reported by a location provider
type GeolocationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *GeolocationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.sentinel().Error()
}

// Is maps the numeric code onto the package sentinels
func (e *GeolocationError) Is(target error) bool {
	return e.sentinel() == target
}

func (e *GeolocationError) sentinel() error {
	switch e.Code {
	case CodeUnsupported:
		return ErrUnsupported
	case CodePermissionDenied:
		return ErrPermissionDenied
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrPositionUnavailable
	}
}

// Retryable reports whether trying again may succeed without user action
func (e *GeolocationError) Retryable() bool {
	return e.Code == CodePositionUnavailable || e.Code == CodeTimeout
}

// NewGeolocationError builds an error for the given code
func NewGeolocationError(code int, message string) *GeolocationError {
	return &GeolocationError{Code: code, Message: message}
}

// AsGeolocationError converts any provider error into a *GeolocationError.
// Errors that are not already typed are reported as position unavailable,
// except context deadlines which map to timeout.
func AsGeolocationError(err error) *GeolocationError {
	if err == nil {
		return nil
	}
	var ge *GeolocationError
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewGeolocationError(CodeTimeout, err.Error())
	}
	return NewGeolocationError(CodePositionUnavailable, err.Error())
}

// Options configures a live acquisition
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxCacheAge  time.Duration
}

// WatchID identifies a continuous subscription
type WatchID int64

// LocationEvent is emitted by a watch subscription. Exactly one of
// Position and Err is set.
type LocationEvent struct {
	Position *Position
	Err      *GeolocationError
}

// LocationProvider is the device's live location capability
type LocationProvider interface {
	// CurrentPosition performs a one-shot acquisition
	CurrentPosition(ctx context.Context, opts Options) (Position, error)

	// Watch starts a continuous subscription
	Watch(opts Options) (WatchID, <-chan LocationEvent, error)

	// ClearWatch ends a subscription started by Watch
	ClearWatch(id WatchID)
}

// KeyValueStore is the persistence surface for position snapshots
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Resolver defines the geolocation resolution state machine
type Resolver interface {
	// Start begins live acquisition unless a manual override is active
	Start(ctx context.Context) error

	// Refresh performs a one-shot re-acquisition
	Refresh(ctx context.Context) error

	// StartWatching starts continuous acquisition
	StartWatching() error

	// StopWatching ends continuous acquisition
	StopWatching()

	// SetManualLocation persists a manual override
	SetManualLocation(lat, lon float64, altitude *float64) error

	// ClearManualLocation removes the override and resumes live acquisition
	ClearManualLocation(ctx context.Context) error

	// Snapshot returns the current state
	Snapshot() State

	// OnChange registers a callback for state changes
	OnChange(handler func(State))

	// Close stops any active subscription
	Close()
}

// Phase is the resolver's position in its state machine
type Phase string

const (
	PhaseInit           Phase = "init"
	PhaseWatching       Phase = "watching"
	PhaseOneShotPending Phase = "one-shot-pending"
	PhaseResolved       Phase = "resolved"
	PhaseFailed         Phase = "failed"
)

// State is a snapshot of the resolver
type State struct {
	Phase    Phase             `json:"phase"`
	Source   Source            `json:"source"`
	Position *Position         `json:"position,omitempty"`
	Info     *LocationInfo     `json:"info,omitempty"`
	Error    *GeolocationError `json:"error,omitempty"`

	// Annotation is set when a live failure was absorbed by the cache
	Annotation *GeolocationError `json:"annotation,omitempty"`

	Loading  bool `json:"loading"`
	Watching bool `json:"watching"`

	// Stale is true while a refresh runs with the previous position kept visible
	Stale bool `json:"stale"`
}

// HasPermission is false only when the last error was a permission denial
func (s State) HasPermission() bool {
	if s.Error != nil && s.Error.Code == CodePermissionDenied {
		return false
	}
	if s.Annotation != nil && s.Annotation.Code == CodePermissionDenied {
		return false
	}
	return true
}

// IsManual reports whether the position comes from a manual pick
func (s State) IsManual() bool {
	return s.Source == SourceManual
}

// IsCached reports whether the position comes from the GPS cache
func (s State) IsCached() bool {
	return s.Source == SourceCache
}
