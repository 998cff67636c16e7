// internal/adapter/storage/activity_store.go

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// maxListLimit caps history listings
const maxListLimit = 100

// ActivityFilter narrows a history listing
type ActivityFilter struct {
	Kind  analysis.Kind
	Limit int
}

// ActivityStore implements storage for the analysis history
type ActivityStore struct {
	db *pgxpool.Pool
}

// NewActivityStore creates a new activity store
func NewActivityStore(db *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{
		db: db,
	}
}

// RecordActivity saves an activity, replacing any record with the same id
func (s *ActivityStore) RecordActivity(ctx context.Context, a analysis.Activity) error {
	query := `
		INSERT INTO activities (
			id, user_id, kind, summary, language,
			latitude, longitude, accuracy, region,
			payload, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11
		)
		ON CONFLICT (id) DO UPDATE
		SET
			summary = $4,
			language = $5,
			payload = $10
	`

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var lat, lng, accuracy *float64
	if a.Position != nil {
		lat = &a.Position.Latitude
		lng = &a.Position.Longitude
		accuracy = &a.Position.Accuracy
	}

	payload := a.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	_, err := s.db.Exec(
		ctx,
		query,
		a.ID,
		a.UserID,
		string(a.Kind),
		a.Summary,
		a.Language,
		lat,
		lng,
		accuracy,
		a.Region,
		[]byte(payload),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}

	return nil
}

// GetActivity retrieves an activity by id
func (s *ActivityStore) GetActivity(ctx context.Context, id string) (*analysis.Activity, error) {
	query := `
		SELECT
			id, user_id, kind, summary, language,
			latitude, longitude, accuracy, region,
			payload, created_at
		FROM activities
		WHERE id = $1
	`

	a, err := scanActivity(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying activity: %w", err)
	}
	return a, nil
}

// ListActivities returns a user's most recent activities, newest first
func (s *ActivityStore) ListActivities(ctx context.Context, userID string, filter ActivityFilter) ([]analysis.Activity, error) {
	query := `
		SELECT
			id, user_id, kind, summary, language,
			latitude, longitude, accuracy, region,
			payload, created_at
		FROM activities
		WHERE user_id = $1
	`
	args := []interface{}{userID}

	if filter.Kind != "" {
		query += " AND kind = $2"
		args = append(args, string(filter.Kind))
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	activities := []analysis.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning activity: %w", err)
		}
		activities = append(activities, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}

	return activities, nil
}

func scanActivity(row pgx.Row) (*analysis.Activity, error) {
	var a analysis.Activity
	var kind string
	var lat, lng, accuracy *float64
	var payload []byte

	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&kind,
		&a.Summary,
		&a.Language,
		&lat,
		&lng,
		&accuracy,
		&a.Region,
		&payload,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}

	a.Kind = analysis.Kind(kind)
	a.Payload = json.RawMessage(payload)
	if lat != nil && lng != nil {
		a.Position = &geo.Position{
			Latitude:  *lat,
			Longitude: *lng,
			Timestamp: a.CreatedAt.UnixMilli(),
		}
		if accuracy != nil {
			a.Position.Accuracy = *accuracy
		}
	}
	return &a, nil
}
