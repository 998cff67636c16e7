// internal/adapter/storage/schema.go

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS activities (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		summary     TEXT NOT NULL DEFAULT '',
		language    TEXT NOT NULL DEFAULT '',
		latitude    DOUBLE PRECISION,
		longitude   DOUBLE PRECISION,
		accuracy    DOUBLE PRECISION,
		region      TEXT NOT NULL DEFAULT '',
		payload     JSONB,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS activities_user_created_idx
		ON activities (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS device_kv (
		device_id   TEXT NOT NULL,
		key         TEXT NOT NULL,
		value       TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (device_id, key)
	)`,
}

// EnsureSchema creates the tables used by the service if they are missing
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("error applying schema: %w", err)
		}
	}
	return nil
}
