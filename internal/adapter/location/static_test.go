package location

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

func TestStatic_Position(t *testing.T) {
	s := NewStatic(geo.Position{Latitude: 5.96, Longitude: 10.15, Accuracy: 20})
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	p, err := s.CurrentPosition(context.Background(), geo.Options{})
	require.NoError(t, err)
	assert.Equal(t, 5.96, p.Latitude)
	assert.Equal(t, int64(1700000000000), p.Timestamp)

	id, ch, err := s.Watch(geo.Options{})
	require.NoError(t, err)
	ev := <-ch
	require.NotNil(t, ev.Position)
	assert.Equal(t, 10.15, ev.Position.Longitude)

	s.ClearWatch(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestStatic_Error(t *testing.T) {
	s := NewStaticError(geo.NewGeolocationError(geo.CodeUnsupported, "no gps"))

	_, err := s.CurrentPosition(context.Background(), geo.Options{})
	assert.ErrorIs(t, err, geo.ErrUnsupported)

	_, ch, err := s.Watch(geo.Options{})
	require.NoError(t, err)
	ev := <-ch
	require.NotNil(t, ev.Err)
	assert.Equal(t, geo.CodeUnsupported, ev.Err.Code)
}

func TestStatic_CancelledContext(t *testing.T) {
	s := NewStatic(geo.Position{Latitude: 1, Longitude: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CurrentPosition(ctx, geo.Options{})
	assert.Error(t, err)
}
