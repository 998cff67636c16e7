// Package location provides geo.LocationProvider implementations.
package location

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// Fix is the wire form of a location event. Exactly one field is set.
type Fix struct {
	Position *geo.Position         `json:"position,omitempty"`
	Error    *geo.GeolocationError `json:"error,omitempty"`
}

// Event converts the fix into a LocationEvent
func (f Fix) Event() (geo.LocationEvent, error) {
	switch {
	case f.Position != nil:
		return geo.LocationEvent{Position: f.Position}, nil
	case f.Error != nil:
		return geo.LocationEvent{Err: f.Error}, nil
	default:
		return geo.LocationEvent{}, fmt.Errorf("fix has neither position nor error")
	}
}

// FixFromEvent converts a LocationEvent into its wire form
func FixFromEvent(ev geo.LocationEvent) Fix {
	return Fix{Position: ev.Position, Error: ev.Err}
}

// DecodeFix parses a wire fix
func DecodeFix(data []byte) (geo.LocationEvent, error) {
	var f Fix
	if err := json.Unmarshal(data, &f); err != nil {
		return geo.LocationEvent{}, fmt.Errorf("error decoding fix: %w", err)
	}
	return f.Event()
}

// Request asks a device for a fresh fix
type Request struct {
	HighAccuracy  bool  `json:"highAccuracy"`
	TimeoutMs     int64 `json:"timeoutMs"`
	MaxCacheAgeMs int64 `json:"maxCacheAgeMs"`
}

// NewRequest builds a request from acquisition options
func NewRequest(opts geo.Options) Request {
	return Request{
		HighAccuracy:  opts.HighAccuracy,
		TimeoutMs:     opts.Timeout.Milliseconds(),
		MaxCacheAgeMs: opts.MaxCacheAge.Milliseconds(),
	}
}

// Options converts the request back into acquisition options
func (r Request) Options() geo.Options {
	return geo.Options{
		HighAccuracy: r.HighAccuracy,
		Timeout:      time.Duration(r.TimeoutMs) * time.Millisecond,
		MaxCacheAge:  time.Duration(r.MaxCacheAgeMs) * time.Millisecond,
	}
}

// Device is a provider whose fixes are pushed by the device itself. The
// websocket position session drives one per connection.
type Device interface {
	geo.LocationProvider

	// Push delivers a fix or error reported by the device
	Push(ev geo.LocationEvent) error

	// OnRequest registers the callback run when a one-shot acquisition
	// needs the device to report. The returned func unregisters it.
	OnRequest(handler func(geo.Options)) (func(), error)

	Close() error
}

// watchBuffer bounds each subscription's backlog. Events are dropped when
// the consumer falls behind.
const watchBuffer = 16

type watcher struct {
	events chan geo.LocationEvent
	stop   func()
}

// watchSet tracks subscriptions and closes their channels exactly once
type watchSet struct {
	mu       sync.Mutex
	nextID   geo.WatchID
	watchers map[geo.WatchID]*watcher
}

func newWatchSet() *watchSet {
	return &watchSet{watchers: make(map[geo.WatchID]*watcher)}
}

func (s *watchSet) add(stop func()) (geo.WatchID, chan geo.LocationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	w := &watcher{events: make(chan geo.LocationEvent, watchBuffer), stop: stop}
	s.watchers[s.nextID] = w
	return s.nextID, w.events
}

func (s *watchSet) setStop(id geo.WatchID, stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watchers[id]; ok {
		w.stop = stop
	}
}

// send delivers ev to one subscription. It reports false when the
// subscription is gone or its buffer is full.
func (s *watchSet) send(id geo.WatchID, ev geo.LocationEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchers[id]
	if !ok {
		return false
	}
	select {
	case w.events <- ev:
		return true
	default:
		return false
	}
}

func (s *watchSet) broadcast(ev geo.LocationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watchers {
		select {
		case w.events <- ev:
		default:
		}
	}
}

func (s *watchSet) remove(id geo.WatchID) {
	s.mu.Lock()
	w, ok := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	if w.stop != nil {
		w.stop()
	}
	// no sender can reach w once it is out of the map
	close(w.events)
}

func (s *watchSet) closeAll() {
	s.mu.Lock()
	ids := make([]geo.WatchID, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.remove(id)
	}
}

func (s *watchSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
