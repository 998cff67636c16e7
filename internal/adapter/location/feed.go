// internal/adapter/location/feed.go

package location

import (
	"context"
	"errors"
	"sync"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// ErrClosed is returned by a provider after Close
var ErrClosed = errors.New("location provider closed")

// Feed is an in-process Device. Fixes pushed into it fan out to every
// subscription and to pending one-shot requests.
type Feed struct {
	watches *watchSet

	mu          sync.Mutex
	closed      bool
	nextWaiter  uint64
	waiters     map[uint64]chan geo.LocationEvent
	nextHandler uint64
	handlers    map[uint64]func(geo.Options)
}

var _ Device = (*Feed)(nil)

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{
		watches:  newWatchSet(),
		waiters:  make(map[uint64]chan geo.LocationEvent),
		handlers: make(map[uint64]func(geo.Options)),
	}
}

// CurrentPosition asks the device for a fix and waits for the next push
func (f *Feed) CurrentPosition(ctx context.Context, opts geo.Options) (geo.Position, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return geo.Position{}, geo.NewGeolocationError(geo.CodePositionUnavailable, ErrClosed.Error())
	}
	f.nextWaiter++
	id := f.nextWaiter
	ch := make(chan geo.LocationEvent, 1)
	f.waiters[id] = ch
	handlers := make([]func(geo.Options), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.waiters, id)
		f.mu.Unlock()
	}()

	for _, h := range handlers {
		h(opts)
	}

	select {
	case <-ctx.Done():
		return geo.Position{}, geo.AsGeolocationError(ctx.Err())
	case ev := <-ch:
		if ev.Err != nil {
			return geo.Position{}, ev.Err
		}
		return *ev.Position, nil
	}
}

// Watch subscribes to every subsequent push
func (f *Feed) Watch(opts geo.Options) (geo.WatchID, <-chan geo.LocationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, nil, geo.NewGeolocationError(geo.CodePositionUnavailable, ErrClosed.Error())
	}
	id, events := f.watches.add(nil)
	return id, events, nil
}

// ClearWatch ends a subscription and closes its channel
func (f *Feed) ClearWatch(id geo.WatchID) {
	f.watches.remove(id)
}

// Push delivers an event reported by the device
func (f *Feed) Push(ev geo.LocationEvent) error {
	if (ev.Position == nil) == (ev.Err == nil) {
		return errors.New("event must carry exactly one of position and error")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	for id, ch := range f.waiters {
		select {
		case ch <- ev:
		default:
		}
		delete(f.waiters, id)
	}
	f.mu.Unlock()

	f.watches.broadcast(ev)
	return nil
}

// OnRequest registers a one-shot request callback
func (f *Feed) OnRequest(handler func(geo.Options)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	f.nextHandler++
	id := f.nextHandler
	f.handlers[id] = handler

	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}, nil
}

// Close fails pending requests and ends all subscriptions
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	ev := geo.LocationEvent{Err: geo.NewGeolocationError(geo.CodePositionUnavailable, ErrClosed.Error())}
	for id, ch := range f.waiters {
		select {
		case ch <- ev:
		default:
		}
		delete(f.waiters, id)
	}
	f.mu.Unlock()

	f.watches.closeAll()
	return nil
}
