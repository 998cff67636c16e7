// internal/service/geo/store.go

package geo

import (
	"encoding/json"
	"fmt"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// Default persistence keys
const (
	DefaultCacheKey  = "agrosense.position.gps-cache"
	DefaultManualKey = "agrosense.position.manual-override"
)

// PositionStore persists the GPS cache and the manual override
type PositionStore struct {
	kv        geo.KeyValueStore
	cacheKey  string
	manualKey string
}

// NewPositionStore creates a store over kv. Empty keys fall back to the defaults.
func NewPositionStore(kv geo.KeyValueStore, cacheKey, manualKey string) *PositionStore {
	if cacheKey == "" {
		cacheKey = DefaultCacheKey
	}
	if manualKey == "" {
		manualKey = DefaultManualKey
	}
	return &PositionStore{
		kv:        kv,
		cacheKey:  cacheKey,
		manualKey: manualKey,
	}
}

// LoadCache returns the last GPS fix, or nil
func (s *PositionStore) LoadCache() (*geo.Position, error) {
	return s.load(s.cacheKey)
}

// SaveCache overwrites the GPS cache with a fresher fix
func (s *PositionStore) SaveCache(p geo.Position) error {
	return s.save(s.cacheKey, p)
}

// LoadManual returns the manual override, or nil
func (s *PositionStore) LoadManual() (*geo.Position, error) {
	return s.load(s.manualKey)
}

// SaveManual persists the manual override
func (s *PositionStore) SaveManual(p geo.Position) error {
	return s.save(s.manualKey, p)
}

// ClearManual removes the manual override
func (s *PositionStore) ClearManual() error {
	if err := s.kv.Remove(s.manualKey); err != nil {
		return fmt.Errorf("error removing manual location: %w", err)
	}
	return nil
}

func (s *PositionStore) load(key string) (*geo.Position, error) {
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var p geo.Position
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Validate() != nil {
		// Unreadable entries are dropped so they do not shadow a later write
		if rmErr := s.kv.Remove(key); rmErr != nil {
			return nil, fmt.Errorf("error removing corrupt entry %s: %w", key, rmErr)
		}
		return nil, nil
	}

	return &p, nil
}

func (s *PositionStore) save(key string, p geo.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshaling position: %w", err)
	}
	if err := s.kv.Set(key, string(data)); err != nil {
		return fmt.Errorf("error writing %s: %w", key, err)
	}
	return nil
}
