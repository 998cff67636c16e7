// internal/service/geo/resolver.go

package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
)

// ErrManualActive is returned by live acquisition calls while a manual
// override is in effect. Clear the override first.
var ErrManualActive = errors.New("manual location override is active")

// DefaultOptions returns the default acquisition options
func DefaultOptions() geo.Options {
	return geo.Options{
		HighAccuracy: true,
		Timeout:      15 * time.Second,
		MaxCacheAge:  60 * time.Second,
	}
}

// ResolverConfig contains configuration for the resolver
type ResolverConfig struct {
	Options geo.Options

	// Watch selects continuous acquisition as the live mode. When false
	// the resolver uses one-shot requests.
	Watch bool
}

// PositionResolver implements geo.Resolver.
//
// All state lives behind mu. Every transition publishes a copy that
// Snapshot reads without taking mu. Async results carry the epoch (and, for
// one-shot requests, the sequence number) they were started under and are
// dropped when a newer operation has superseded them.
type PositionResolver struct {
	store    *PositionStore
	provider geo.LocationProvider
	config   ResolverConfig
	logger   logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     geo.State
	manual    bool
	watchMode bool
	watching  bool
	watchID   geo.WatchID
	epoch     uint64
	shotSeq   uint64

	published atomic.Pointer[geo.State]

	hmu      sync.Mutex
	handlers []func(geo.State)

	// notifyMu orders handler delivery with state transitions
	notifyMu sync.Mutex
}

var _ geo.Resolver = (*PositionResolver)(nil)

// NewResolver creates a resolver and applies the startup priority:
// manual override, then GPS cache, then nothing.
func NewResolver(
	store *PositionStore,
	provider geo.LocationProvider,
	config ResolverConfig,
	logger logging.Logger,
) (*PositionResolver, error) {
	if config.Options == (geo.Options{}) {
		config.Options = DefaultOptions()
	}
	if logger == nil {
		logger = logging.Noop()
	}

	r := &PositionResolver{
		store:     store,
		provider:  provider,
		config:    config,
		logger:    logger,
		now:       time.Now,
		watchMode: config.Watch,
	}

	manual, err := store.LoadManual()
	if err != nil {
		return nil, fmt.Errorf("error loading manual location: %w", err)
	}
	if manual != nil {
		r.manual = true
		r.state = resolvedState(*manual, geo.SourceManual)
		r.publishLocked()
		return r, nil
	}

	cached, err := store.LoadCache()
	if err != nil {
		return nil, fmt.Errorf("error loading cached position: %w", err)
	}
	if cached != nil {
		r.state = resolvedState(*cached, geo.SourceCache)
		// a live refresh still runs in the background
		r.state.Loading = true
		r.publishLocked()
		return r, nil
	}

	r.state = geo.State{
		Phase:   geo.PhaseInit,
		Source:  geo.SourceNone,
		Loading: true,
	}
	r.publishLocked()
	return r, nil
}

// Start begins live acquisition in the configured mode. It is a no-op
// while a manual override is active.
func (r *PositionResolver) Start(ctx context.Context) error {
	r.mu.Lock()
	manual, watch := r.manual, r.watchMode
	r.mu.Unlock()

	if manual {
		return nil
	}
	if watch {
		return r.StartWatching()
	}
	return r.Refresh(ctx)
}

// Refresh performs a one-shot acquisition. The current position stays
// visible (Stale) while the request is in flight. It returns an error only
// when the resolver ends in the failed phase.
func (r *PositionResolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.manual {
		r.mu.Unlock()
		return ErrManualActive
	}
	r.shotSeq++
	seq, epoch := r.shotSeq, r.epoch
	r.state.Phase = geo.PhaseOneShotPending
	r.state.Loading = true
	r.state.Stale = r.state.Position != nil
	r.unlockAndNotify()

	opts := r.config.Options
	reqCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	pos, err := r.provider.CurrentPosition(reqCtx, opts)
	if err == nil {
		err = pos.Validate()
	}

	r.mu.Lock()
	if r.epoch != epoch || r.shotSeq != seq || r.manual {
		r.mu.Unlock()
		r.logger.Debug(ctx, "discarding superseded one-shot result")
		return nil
	}

	if err != nil {
		ge := geo.AsGeolocationError(err)
		failed := r.applyFailureLocked(ge)
		r.unlockAndNotify()
		r.logger.Warn(ctx, "one-shot acquisition failed", logging.Int("code", ge.Code), logging.Err(ge))
		if failed {
			return ge
		}
		return nil
	}

	r.applyFixLocked(ctx, pos)
	r.unlockAndNotify()
	return nil
}

// StartWatching starts continuous acquisition, replacing any previous
// subscription.
func (r *PositionResolver) StartWatching() error {
	r.mu.Lock()
	if r.manual {
		r.mu.Unlock()
		return ErrManualActive
	}

	r.watchMode = true
	r.clearWatchLocked()

	id, events, err := r.provider.Watch(r.config.Options)
	if err != nil {
		ge := geo.AsGeolocationError(err)
		r.applyFailureLocked(ge)
		r.unlockAndNotify()
		r.logger.Warn(context.Background(), "watch subscription failed", logging.Int("code", ge.Code), logging.Err(ge))
		return ge
	}

	r.watching = true
	r.watchID = id
	epoch := r.epoch

	r.state.Phase = geo.PhaseWatching
	r.state.Watching = true
	r.state.Loading = true
	r.state.Stale = r.state.Position != nil
	r.unlockAndNotify()

	go r.consume(id, epoch, events)
	return nil
}

// StopWatching ends continuous acquisition
func (r *PositionResolver) StopWatching() {
	r.mu.Lock()
	r.watchMode = false
	if !r.watching {
		r.mu.Unlock()
		return
	}
	r.clearWatchLocked()

	if r.state.Phase == geo.PhaseWatching {
		if r.state.Position != nil {
			r.state.Phase = geo.PhaseResolved
		} else {
			r.state.Phase = geo.PhaseInit
		}
	}
	r.state.Loading = false
	r.state.Stale = false
	r.unlockAndNotify()
}

// SetManualLocation cancels any subscription, persists the override and
// resolves to it synchronously.
func (r *PositionResolver) SetManualLocation(lat, lon float64, altitude *float64) error {
	p := geo.NewManualPosition(lat, lon, altitude, r.now())
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	resubscribe := r.watching
	r.clearWatchLocked()
	r.epoch++

	if err := r.store.SaveManual(p); err != nil {
		// the subscription and any in-flight one-shot are gone
		if r.state.Position != nil {
			r.state.Phase = geo.PhaseResolved
		} else {
			r.state.Phase = geo.PhaseInit
		}
		r.state.Loading = false
		r.state.Stale = false
		r.unlockAndNotify()

		if resubscribe {
			if werr := r.StartWatching(); werr != nil {
				r.logger.Warn(context.Background(), "failed to resume watch", logging.Err(werr))
			}
		}
		return err
	}

	r.manual = true
	r.state = resolvedState(p, geo.SourceManual)
	r.unlockAndNotify()

	r.logger.Info(context.Background(), "manual location set",
		logging.Float("latitude", lat), logging.Float("longitude", lon))
	return nil
}

// ClearManualLocation removes the override and resumes live acquisition in
// the previous mode.
func (r *PositionResolver) ClearManualLocation(ctx context.Context) error {
	r.mu.Lock()
	if err := r.store.ClearManual(); err != nil {
		r.mu.Unlock()
		return err
	}
	r.manual = false
	r.epoch++

	cached, err := r.store.LoadCache()
	if err != nil {
		r.logger.Warn(ctx, "cached position unreadable", logging.Err(err))
	}
	if cached != nil {
		r.state = resolvedState(*cached, geo.SourceCache)
		r.state.Loading = true
	} else {
		r.state = geo.State{Phase: geo.PhaseInit, Source: geo.SourceNone, Loading: true}
	}
	watch := r.watchMode
	r.unlockAndNotify()

	if watch {
		return r.StartWatching()
	}
	return r.Refresh(ctx)
}

// Snapshot returns a copy of the last published state. It never blocks on
// a transition, so change handlers may call it.
func (r *PositionResolver) Snapshot() geo.State {
	return cloneState(*r.published.Load())
}

// OnChange registers a handler called after every transition, in order.
// Handlers may call Snapshot and OnChange but must not call mutating
// resolver methods.
func (r *PositionResolver) OnChange(handler func(geo.State)) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	r.handlers = append(r.handlers, handler)
}

// Close cancels the active subscription and drops in-flight results
func (r *PositionResolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearWatchLocked()
	r.epoch++
	r.publishLocked()
}

func (r *PositionResolver) consume(id geo.WatchID, epoch uint64, events <-chan geo.LocationEvent) {
	ctx := context.Background()

	for ev := range events {
		r.mu.Lock()
		if !r.watching || r.watchID != id || r.epoch != epoch {
			// late callback from a cancelled subscription
			r.mu.Unlock()
			continue
		}

		switch {
		case ev.Position != nil && ev.Position.Validate() == nil:
			r.applyFixLocked(ctx, *ev.Position)
		case ev.Err != nil:
			r.applyFailureLocked(ev.Err)
			r.logger.Warn(ctx, "watch reported error", logging.Int("code", ev.Err.Code), logging.Err(ev.Err))
		default:
			r.applyFailureLocked(geo.NewGeolocationError(geo.CodePositionUnavailable, "invalid fix"))
		}
		r.unlockAndNotify()
	}

	r.mu.Lock()
	if r.watching && r.watchID == id {
		r.watching = false
		r.state.Watching = false
		r.state.Loading = false
		r.unlockAndNotify()
		return
	}
	r.mu.Unlock()
}

func (r *PositionResolver) applyFixLocked(ctx context.Context, pos geo.Position) {
	watching := r.state.Watching
	r.state = resolvedState(pos, geo.SourceGPS)
	r.state.Watching = watching

	if err := r.store.SaveCache(pos); err != nil {
		r.logger.Warn(ctx, "failed to persist gps fix", logging.Err(err))
	}
}

// applyFailureLocked degrades to the cached fix when there is one. It
// reports whether the resolver ended in the failed phase.
func (r *PositionResolver) applyFailureLocked(ge *geo.GeolocationError) bool {
	watching := r.state.Watching

	cached, err := r.store.LoadCache()
	if err != nil {
		r.logger.Warn(context.Background(), "cached position unreadable", logging.Err(err))
	}
	if cached != nil {
		r.state = resolvedState(*cached, geo.SourceCache)
		r.state.Annotation = ge
		r.state.Watching = watching
		return false
	}

	r.state = geo.State{
		Phase:    geo.PhaseFailed,
		Source:   geo.SourceNone,
		Error:    ge,
		Watching: watching,
	}
	return true
}

// clearWatchLocked ends the active subscription, if any
func (r *PositionResolver) clearWatchLocked() {
	if !r.watching {
		return
	}
	r.provider.ClearWatch(r.watchID)
	r.watching = false
	r.state.Watching = false
}

// publishLocked makes the current state visible to Snapshot
func (r *PositionResolver) publishLocked() {
	s := cloneState(r.state)
	r.published.Store(&s)
}

// unlockAndNotify publishes the state, releases mu and delivers the state to
// handlers. notifyMu is taken before mu is released so deliveries keep
// transition order. Neither Snapshot nor OnChange touch mu or notifyMu.
func (r *PositionResolver) unlockAndNotify() {
	r.publishLocked()
	snapshot := cloneState(r.state)

	r.hmu.Lock()
	handlers := make([]func(geo.State), len(r.handlers))
	copy(handlers, r.handlers)
	r.hmu.Unlock()

	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()

	for _, h := range handlers {
		h(snapshot)
	}
}

func resolvedState(p geo.Position, source geo.Source) geo.State {
	info := Describe(p)
	return geo.State{
		Phase:    geo.PhaseResolved,
		Source:   source,
		Position: &p,
		Info:     &info,
	}
}

func cloneState(s geo.State) geo.State {
	if s.Position != nil {
		p := *s.Position
		s.Position = &p
	}
	if s.Info != nil {
		info := *s.Info
		info.ClimateCharacteristics = append([]string(nil), info.ClimateCharacteristics...)
		s.Info = &info
	}
	return s
}
