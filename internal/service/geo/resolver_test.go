package geo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/storage/memory"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type recordingKV struct {
	*memory.KVStore
	log     *opLog
	failSet string
}

func (kv *recordingKV) Set(key, value string) error {
	kv.log.add("set:" + key)
	if key == kv.failSet {
		return errors.New("disk full")
	}
	return kv.KVStore.Set(key, value)
}

type fakeProvider struct {
	log *opLog

	mu       sync.Mutex
	fix      geo.Position
	err      error
	gate     chan struct{}
	started  chan struct{}
	shots    int
	nextID   geo.WatchID
	watches  map[geo.WatchID]chan geo.LocationEvent
	cleared  []geo.WatchID
	watchErr error
}

func newFakeProvider(log *opLog) *fakeProvider {
	return &fakeProvider{
		log:     log,
		fix:     geo.Position{Latitude: 3.848, Longitude: 11.5021, Accuracy: 20, Altitude: geo.Float(726), Timestamp: 1},
		watches: make(map[geo.WatchID]chan geo.LocationEvent),
	}
}

func (p *fakeProvider) CurrentPosition(ctx context.Context, _ geo.Options) (geo.Position, error) {
	p.mu.Lock()
	p.shots++
	fix, err, gate, started := p.fix, p.err, p.gate, p.started
	p.mu.Unlock()

	p.log.add("current")
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return geo.Position{}, ctx.Err()
		}
	}
	return fix, err
}

func (p *fakeProvider) Watch(geo.Options) (geo.WatchID, <-chan geo.LocationEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.add("watch")
	if p.watchErr != nil {
		return 0, nil, p.watchErr
	}
	p.nextID++
	ch := make(chan geo.LocationEvent)
	p.watches[p.nextID] = ch
	return p.nextID, ch, nil
}

func (p *fakeProvider) ClearWatch(id geo.WatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.add("clear-watch")
	p.cleared = append(p.cleared, id)
}

func (p *fakeProvider) channel(id geo.WatchID) chan geo.LocationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watches[id]
}

func (p *fakeProvider) clearedIDs() []geo.WatchID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]geo.WatchID(nil), p.cleared...)
}

func (p *fakeProvider) shotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shots
}

func newTestResolver(t *testing.T, watch bool) (*PositionResolver, *fakeProvider, *PositionStore, *opLog) {
	t.Helper()
	log := &opLog{}
	kv := &recordingKV{KVStore: memory.NewKVStore(), log: log}
	store := NewPositionStore(kv, "cache", "manual")
	provider := newFakeProvider(log)

	r, err := NewResolver(store, provider, ResolverConfig{Options: DefaultOptions(), Watch: watch}, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, provider, store, log
}

func TestNewResolver_StartupPriority(t *testing.T) {
	cached := geo.Position{Latitude: 4.05, Longitude: 9.77, Accuracy: 30}
	manual := geo.NewManualPosition(10.59, 14.32, nil, time.UnixMilli(5))

	t.Run("nothing stored", func(t *testing.T) {
		store := NewPositionStore(memory.NewKVStore(), "", "")
		r, err := NewResolver(store, newFakeProvider(&opLog{}), ResolverConfig{}, nil)
		require.NoError(t, err)

		s := r.Snapshot()
		assert.Equal(t, geo.PhaseInit, s.Phase)
		assert.Equal(t, geo.SourceNone, s.Source)
		assert.True(t, s.Loading)
		assert.Nil(t, s.Position)
	})

	t.Run("cache only", func(t *testing.T) {
		store := NewPositionStore(memory.NewKVStore(), "", "")
		require.NoError(t, store.SaveCache(cached))
		r, err := NewResolver(store, newFakeProvider(&opLog{}), ResolverConfig{}, nil)
		require.NoError(t, err)

		s := r.Snapshot()
		assert.Equal(t, geo.SourceCache, s.Source)
		assert.True(t, s.Loading, "a live refresh is still expected")
		require.NotNil(t, s.Info)
		assert.Equal(t, "littoral", s.Info.Region)
	})

	t.Run("manual wins over cache", func(t *testing.T) {
		store := NewPositionStore(memory.NewKVStore(), "", "")
		require.NoError(t, store.SaveCache(cached))
		require.NoError(t, store.SaveManual(manual))
		r, err := NewResolver(store, newFakeProvider(&opLog{}), ResolverConfig{}, nil)
		require.NoError(t, err)

		s := r.Snapshot()
		assert.Equal(t, geo.PhaseResolved, s.Phase)
		assert.True(t, s.IsManual())
		assert.False(t, s.Loading)
		assert.Equal(t, manual, *s.Position)
	})
}

func TestResolver_StartIsNoopWhileManual(t *testing.T) {
	r, provider, _, _ := newTestResolver(t, false)
	require.NoError(t, r.SetManualLocation(7.32, 13.58, nil))

	require.NoError(t, r.Start(context.Background()))
	assert.Zero(t, provider.shotCount())
	assert.ErrorIs(t, r.Refresh(context.Background()), ErrManualActive)
	assert.ErrorIs(t, r.StartWatching(), ErrManualActive)
}

func TestResolver_RefreshResolvesAndCaches(t *testing.T) {
	r, provider, store, _ := newTestResolver(t, false)

	require.NoError(t, r.Refresh(context.Background()))

	s := r.Snapshot()
	assert.Equal(t, geo.PhaseResolved, s.Phase)
	assert.Equal(t, geo.SourceGPS, s.Source)
	assert.False(t, s.Loading)
	assert.False(t, s.Stale)
	require.NotNil(t, s.Info)
	assert.Equal(t, "centre", s.Info.Region)
	assert.True(t, s.Info.IsHighAccuracy)

	cached, err := store.LoadCache()
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, provider.fix, *cached)
}

func TestResolver_RefreshKeepsPreviousPositionVisible(t *testing.T) {
	r, provider, _, _ := newTestResolver(t, false)
	require.NoError(t, r.Refresh(context.Background()))
	before := r.Snapshot().Position

	provider.mu.Lock()
	provider.gate = make(chan struct{})
	provider.started = make(chan struct{})
	provider.fix = geo.Position{Latitude: 5.47, Longitude: 10.42, Accuracy: 8}
	gate, started := provider.gate, provider.started
	provider.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- r.Refresh(context.Background()) }()
	<-started

	pending := r.Snapshot()
	assert.Equal(t, geo.PhaseOneShotPending, pending.Phase)
	assert.True(t, pending.Loading)
	assert.True(t, pending.Stale)
	assert.Equal(t, before, pending.Position)

	close(gate)
	require.NoError(t, <-done)

	s := r.Snapshot()
	assert.False(t, s.Stale)
	assert.Equal(t, "ouest", s.Info.Region)
}

func TestResolver_FailureFallsBackToCache(t *testing.T) {
	r, provider, store, _ := newTestResolver(t, false)
	cached := geo.Position{Latitude: 9.3, Longitude: 13.4, Accuracy: 50}
	require.NoError(t, store.SaveCache(cached))

	provider.err = geo.NewGeolocationError(geo.CodeTimeout, "timed out")
	require.NoError(t, r.Refresh(context.Background()))

	s := r.Snapshot()
	assert.Equal(t, geo.PhaseResolved, s.Phase)
	assert.Equal(t, geo.SourceCache, s.Source)
	assert.Nil(t, s.Error)
	require.NotNil(t, s.Annotation)
	assert.Equal(t, geo.CodeTimeout, s.Annotation.Code)
	assert.Equal(t, cached, *s.Position)
}

func TestResolver_FailureWithoutCache(t *testing.T) {
	r, provider, _, _ := newTestResolver(t, false)
	provider.err = geo.NewGeolocationError(geo.CodePermissionDenied, "denied")

	err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, geo.ErrPermissionDenied)

	s := r.Snapshot()
	assert.Equal(t, geo.PhaseFailed, s.Phase)
	assert.False(t, s.Loading)
	assert.Nil(t, s.Position)
	require.NotNil(t, s.Error)
	assert.False(t, s.HasPermission())
}

func TestResolver_InvalidFixIsUnavailable(t *testing.T) {
	r, provider, _, _ := newTestResolver(t, false)
	provider.fix = geo.Position{Latitude: 200, Longitude: 0}

	err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, geo.ErrPositionUnavailable)
}

func TestResolver_AtMostOneWatch(t *testing.T) {
	r, provider, _, _ := newTestResolver(t, true)

	require.NoError(t, r.StartWatching())
	require.NoError(t, r.StartWatching())

	assert.Equal(t, []geo.WatchID{1}, provider.clearedIDs())
	s := r.Snapshot()
	assert.Equal(t, geo.PhaseWatching, s.Phase)
	assert.True(t, s.Watching)

	r.StopWatching()
	assert.Equal(t, []geo.WatchID{1, 2}, provider.clearedIDs())
	assert.False(t, r.Snapshot().Watching)

	r.StopWatching()
	assert.Len(t, provider.clearedIDs(), 2)
}

func TestResolver_WatchEvents(t *testing.T) {
	r, provider, _, _ := newTestResolver(t, true)
	require.NoError(t, r.Start(context.Background()))

	ch := provider.channel(1)
	fix := geo.Position{Latitude: 4.05, Longitude: 9.77, Accuracy: 150}
	ch <- geo.LocationEvent{Position: &fix}
	ch <- geo.LocationEvent{Err: geo.NewGeolocationError(geo.CodePositionUnavailable, "lost")}
	// the second send returns once the first event was fully applied
	ch <- geo.LocationEvent{Err: geo.NewGeolocationError(geo.CodePositionUnavailable, "lost")}

	assert.Eventually(t, func() bool {
		s := r.Snapshot()
		return s.Source == geo.SourceCache && s.Annotation != nil
	}, time.Second, 5*time.Millisecond)

	s := r.Snapshot()
	assert.True(t, s.Watching)
	assert.Equal(t, fix, *s.Position)
	assert.False(t, s.Info.IsHighAccuracy)
}

func TestResolver_SetManualClearsWatchBeforePersisting(t *testing.T) {
	r, provider, _, log := newTestResolver(t, true)
	require.NoError(t, r.StartWatching())

	require.NoError(t, r.SetManualLocation(3.848, 11.5021, geo.Float(726)))

	ops := log.list()
	clearIdx, setIdx := -1, -1
	for i, op := range ops {
		switch op {
		case "clear-watch":
			clearIdx = i
		case "set:manual":
			setIdx = i
		}
	}
	require.NotEqual(t, -1, clearIdx)
	require.NotEqual(t, -1, setIdx)
	assert.Less(t, clearIdx, setIdx)
	assert.Len(t, provider.clearedIDs(), 1)

	s := r.Snapshot()
	assert.Equal(t, geo.PhaseResolved, s.Phase)
	assert.True(t, s.IsManual())
	assert.False(t, s.Watching)
	assert.Equal(t, float64(geo.ManualAccuracy), s.Position.Accuracy)

	// a late fix from the cancelled subscription must not override the pick
	late := geo.Position{Latitude: 10.59, Longitude: 14.32, Accuracy: 5}
	ch := provider.channel(1)
	ch <- geo.LocationEvent{Position: &late}
	ch <- geo.LocationEvent{Position: &late}

	assert.True(t, r.Snapshot().IsManual())
	assert.Equal(t, 3.848, r.Snapshot().Position.Latitude)
}

func TestResolver_SetManualPersistFailureResumesWatch(t *testing.T) {
	log := &opLog{}
	kv := &recordingKV{KVStore: memory.NewKVStore(), log: log, failSet: "manual"}
	provider := newFakeProvider(log)
	r, err := NewResolver(NewPositionStore(kv, "cache", "manual"), provider, ResolverConfig{Options: DefaultOptions(), Watch: true}, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.NoError(t, r.StartWatching())

	err = r.SetManualLocation(4.0511, 9.7679, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, []geo.WatchID{1}, provider.clearedIDs())
	s := r.Snapshot()
	assert.False(t, s.IsManual())
	assert.Equal(t, geo.PhaseWatching, s.Phase)
	assert.True(t, s.Watching)

	// fixes keep flowing on the new subscription
	ch := provider.channel(2)
	require.NotNil(t, ch)
	fix := geo.Position{Latitude: 5.4781, Longitude: 10.4176, Accuracy: 12, Timestamp: 2}
	ch <- geo.LocationEvent{Position: &fix}

	assert.Eventually(t, func() bool {
		s := r.Snapshot()
		return s.Source == geo.SourceGPS && !s.Loading && s.Position != nil && s.Position.Latitude == 5.4781
	}, time.Second, 5*time.Millisecond)
}

func TestResolver_SetManualPersistFailureSettlesState(t *testing.T) {
	log := &opLog{}
	kv := &recordingKV{KVStore: memory.NewKVStore(), log: log, failSet: "manual"}
	r, err := NewResolver(NewPositionStore(kv, "cache", "manual"), newFakeProvider(log), ResolverConfig{Options: DefaultOptions()}, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.True(t, r.Snapshot().Loading)
	require.Error(t, r.SetManualLocation(4.0511, 9.7679, nil))

	s := r.Snapshot()
	assert.Equal(t, geo.PhaseInit, s.Phase)
	assert.Equal(t, geo.SourceNone, s.Source)
	assert.False(t, s.Loading)
	assert.False(t, s.Stale)
}

func TestResolver_SetManualRejectsInvalidCoordinates(t *testing.T) {
	r, _, store, _ := newTestResolver(t, false)

	err := r.SetManualLocation(95, 11.5, nil)
	assert.ErrorIs(t, err, geo.ErrInvalidPosition)

	manual, err := store.LoadManual()
	require.NoError(t, err)
	assert.Nil(t, manual)
}

func TestResolver_LateOneShotIsDiscarded(t *testing.T) {
	r, provider, _, _ := newTestResolver(t, false)

	provider.mu.Lock()
	provider.gate = make(chan struct{})
	provider.started = make(chan struct{})
	gate, started := provider.gate, provider.started
	provider.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- r.Refresh(context.Background()) }()
	<-started

	require.NoError(t, r.SetManualLocation(6.0, 12.0, nil))
	close(gate)
	require.NoError(t, <-done)

	s := r.Snapshot()
	assert.True(t, s.IsManual())
	assert.Equal(t, 6.0, s.Position.Latitude)
}

func TestResolver_ClearManualResumesPreviousMode(t *testing.T) {
	t.Run("one-shot", func(t *testing.T) {
		r, provider, store, _ := newTestResolver(t, false)
		require.NoError(t, r.SetManualLocation(6.0, 12.0, nil))

		require.NoError(t, r.ClearManualLocation(context.Background()))

		assert.Equal(t, 1, provider.shotCount())
		s := r.Snapshot()
		assert.Equal(t, geo.SourceGPS, s.Source)
		manual, err := store.LoadManual()
		require.NoError(t, err)
		assert.Nil(t, manual)
	})

	t.Run("watch", func(t *testing.T) {
		r, provider, _, log := newTestResolver(t, true)
		require.NoError(t, r.StartWatching())
		require.NoError(t, r.SetManualLocation(6.0, 12.0, nil))

		require.NoError(t, r.ClearManualLocation(context.Background()))

		watches := 0
		for _, op := range log.list() {
			if op == "watch" {
				watches++
			}
		}
		assert.Equal(t, 2, watches)
		assert.Zero(t, provider.shotCount())
		s := r.Snapshot()
		assert.Equal(t, geo.PhaseWatching, s.Phase)
		assert.False(t, s.IsManual())
	})
}

func TestResolver_OnChangeSeesTransitionsInOrder(t *testing.T) {
	r, _, _, _ := newTestResolver(t, false)

	var phases []geo.Phase
	r.OnChange(func(s geo.State) { phases = append(phases, s.Phase) })

	require.NoError(t, r.Refresh(context.Background()))
	require.NoError(t, r.SetManualLocation(6.0, 12.0, nil))

	assert.Equal(t, []geo.Phase{
		geo.PhaseOneShotPending,
		geo.PhaseResolved,
		geo.PhaseResolved,
	}, phases)
}

func TestResolver_HandlersMayReadSnapshotDuringTransitions(t *testing.T) {
	r, _, _, _ := newTestResolver(t, true)

	var reads atomic.Int64
	r.OnChange(func(geo.State) {
		_ = r.Snapshot()
		reads.Add(1)
	})
	r.OnChange(func(geo.State) {
		r.OnChange(func(geo.State) {})
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = r.StartWatching()
				_ = r.Snapshot()
				r.StopWatching()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transitions did not finish, handler and transition deadlocked")
	}
	assert.Positive(t, reads.Load())
	assert.Equal(t, geo.PhaseInit, r.Snapshot().Phase)
}

func TestResolver_WatchSubscriptionError(t *testing.T) {
	r, provider, _, _ := newTestResolver(t, true)
	provider.watchErr = geo.NewGeolocationError(geo.CodeUnsupported, "no gps")

	err := r.StartWatching()
	assert.ErrorIs(t, err, geo.ErrUnsupported)

	s := r.Snapshot()
	assert.Equal(t, geo.PhaseFailed, s.Phase)
	assert.False(t, s.Watching)
}
