package storage

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	geosvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/geo"
)

// testPool connects to AGROSENSE_TEST_DATABASE_URL or skips
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("AGROSENSE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AGROSENSE_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func TestActivityStore(t *testing.T) {
	pool := testPool(t)
	store := NewActivityStore(pool)
	ctx := context.Background()

	user := "user-" + uuid.New().String()
	older := analysis.Activity{
		ID:        uuid.New().String(),
		UserID:    user,
		Kind:      analysis.KindHarvest,
		Summary:   "grade B",
		Language:  "fr",
		Payload:   json.RawMessage(`{"grade":"B"}`),
		CreatedAt: time.Now().Add(-time.Hour).UTC(),
	}
	newer := analysis.Activity{
		ID:       uuid.New().String(),
		UserID:   user,
		Kind:     analysis.KindDiagnosis,
		Summary:  "healthy",
		Language: "en",
		Position: &geo.Position{Latitude: 3.85, Longitude: 11.5, Accuracy: 1110},
		Region:   "centre",
		Payload:  json.RawMessage(`{"is_healthy":true}`),
	}
	require.NoError(t, store.RecordActivity(ctx, older))
	require.NoError(t, store.RecordActivity(ctx, newer))

	list, err := store.ListActivities(ctx, user, ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	require.NotNil(t, list[0].Position)
	assert.Equal(t, 3.85, list[0].Position.Latitude)
	assert.Nil(t, list[1].Position)

	harvests, err := store.ListActivities(ctx, user, ActivityFilter{Kind: analysis.KindHarvest, Limit: 5})
	require.NoError(t, err)
	require.Len(t, harvests, 1)
	assert.JSONEq(t, `{"grade":"B"}`, string(harvests[0].Payload))

	got, err := store.GetActivity(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "grade B", got.Summary)

	_, err = store.GetActivity(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeviceKVStore(t *testing.T) {
	pool := testPool(t)
	store := NewDeviceKVStore(pool, time.Second)

	device := uuid.New().String()
	kv := store.ForDevice(device)
	other := store.ForDevice(device + "-other")

	positions := geosvc.NewPositionStore(kv, "", "")
	require.NoError(t, positions.SaveManual(geo.NewManualPosition(4.05, 9.77, nil, time.Now())))

	p, err := positions.LoadManual()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 4.05, p.Latitude)

	_, ok, err := other.Get(geosvc.DefaultManualKey)
	require.NoError(t, err)
	assert.False(t, ok, "devices are isolated")

	require.NoError(t, positions.ClearManual())
	_, ok, err = kv.Get(geosvc.DefaultManualKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
