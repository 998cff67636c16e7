package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/storage/memory"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

func TestPositionStore_RoundTrip(t *testing.T) {
	kv := memory.NewKVStore()
	s := NewPositionStore(kv, "", "")

	p, err := s.LoadCache()
	require.NoError(t, err)
	assert.Nil(t, p)

	fix := geo.Position{Latitude: 4.05, Longitude: 9.76, Accuracy: 12, Altitude: geo.Float(13), Timestamp: 1700000000000}
	require.NoError(t, s.SaveCache(fix))

	got, err := s.LoadCache()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fix, *got)

	manual, err := s.LoadManual()
	require.NoError(t, err)
	assert.Nil(t, manual, "cache and manual keys are distinct")
}

func TestPositionStore_NullableFieldsEncodeAsNull(t *testing.T) {
	kv := memory.NewKVStore()
	s := NewPositionStore(kv, "cache", "manual")

	require.NoError(t, s.SaveManual(geo.NewManualPosition(3.8, 11.5, nil, time.UnixMilli(42))))

	raw, ok, _ := kv.Get("manual")
	require.True(t, ok)
	assert.JSONEq(t, `{"latitude":3.8,"longitude":11.5,"altitude":null,"accuracy":5000,
		"altitudeAccuracy":null,"heading":null,"speed":null,"timestamp":42}`, raw)
}

func TestPositionStore_CorruptEntryIsDropped(t *testing.T) {
	kv := memory.NewKVStore()
	s := NewPositionStore(kv, "cache", "manual")

	require.NoError(t, kv.Set("cache", "{not json"))
	p, err := s.LoadCache()
	require.NoError(t, err)
	assert.Nil(t, p)

	_, ok, _ := kv.Get("cache")
	assert.False(t, ok)

	require.NoError(t, kv.Set("manual", `{"latitude":123,"longitude":0,"accuracy":1}`))
	p, err = s.LoadManual()
	require.NoError(t, err)
	assert.Nil(t, p, "out of range latitude is rejected")
}

func TestPositionStore_ClearManual(t *testing.T) {
	kv := memory.NewKVStore()
	s := NewPositionStore(kv, "", "")

	require.NoError(t, s.SaveManual(geo.NewManualPosition(3.8, 11.5, nil, time.Now())))
	require.NoError(t, s.ClearManual())

	p, err := s.LoadManual()
	require.NoError(t, err)
	assert.Nil(t, p)
}
