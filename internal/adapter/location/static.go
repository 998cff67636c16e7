// internal/adapter/location/static.go

package location

import (
	"context"
	"time"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// Static always reports the same fix or the same error
type Static struct {
	position *geo.Position
	err      *geo.GeolocationError
	watches  *watchSet
	now      func() time.Time
}

var _ geo.LocationProvider = (*Static)(nil)

// NewStatic creates a provider reporting p. A zero timestamp is replaced
// by the time of each request.
func NewStatic(p geo.Position) *Static {
	return &Static{position: &p, watches: newWatchSet(), now: time.Now}
}

// NewStaticError creates a provider failing with err
func NewStaticError(err *geo.GeolocationError) *Static {
	return &Static{err: err, watches: newWatchSet(), now: time.Now}
}

func (s *Static) CurrentPosition(ctx context.Context, _ geo.Options) (geo.Position, error) {
	if err := ctx.Err(); err != nil {
		return geo.Position{}, geo.AsGeolocationError(err)
	}
	ev := s.event()
	if ev.Err != nil {
		return geo.Position{}, ev.Err
	}
	return *ev.Position, nil
}

// Watch reports the fix once. The channel stays open until ClearWatch.
func (s *Static) Watch(_ geo.Options) (geo.WatchID, <-chan geo.LocationEvent, error) {
	id, events := s.watches.add(nil)
	s.watches.send(id, s.event())
	return id, events, nil
}

func (s *Static) ClearWatch(id geo.WatchID) {
	s.watches.remove(id)
}

func (s *Static) event() geo.LocationEvent {
	if s.err != nil {
		return geo.LocationEvent{Err: s.err}
	}
	p := *s.position
	if p.Timestamp == 0 {
		p.Timestamp = s.now().UnixMilli()
	}
	return geo.LocationEvent{Position: &p}
}
