// internal/adapter/storage/device_kv_store.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// DeviceKVStore keeps per-device position snapshots in Postgres
type DeviceKVStore struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewDeviceKVStore creates a new device key-value store. Every call is
// bounded by timeout.
func NewDeviceKVStore(db *pgxpool.Pool, timeout time.Duration) *DeviceKVStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DeviceKVStore{
		db:      db,
		timeout: timeout,
	}
}

// ForDevice returns the key-value view of one device
func (s *DeviceKVStore) ForDevice(deviceID string) geo.KeyValueStore {
	return &deviceKV{store: s, deviceID: deviceID}
}

type deviceKV struct {
	store    *DeviceKVStore
	deviceID string
}

func (d *deviceKV) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.store.timeout)
	defer cancel()

	var value string
	err := d.store.db.QueryRow(ctx,
		`SELECT value FROM device_kv WHERE device_id = $1 AND key = $2`,
		d.deviceID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error querying device kv: %w", err)
	}
	return value, true, nil
}

func (d *deviceKV) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.store.timeout)
	defer cancel()

	_, err := d.store.db.Exec(ctx, `
		INSERT INTO device_kv (device_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, key) DO UPDATE
		SET value = $3, updated_at = $4
	`, d.deviceID, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	return nil
}

func (d *deviceKV) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.store.timeout)
	defer cancel()

	_, err := d.store.db.Exec(ctx,
		`DELETE FROM device_kv WHERE device_id = $1 AND key = $2`,
		d.deviceID, key,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	return nil
}
