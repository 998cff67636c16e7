// internal/adapter/storage/memory/kv.go

package memory

import (
	"sync"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

var _ geo.KeyValueStore = (*KVStore)(nil)

// KVStore is an in-memory key-value store
type KVStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewKVStore creates an empty store
func NewKVStore() *KVStore {
	return &KVStore{
		values: make(map[string]string),
	}
}

// Get returns the value stored under key
func (s *KVStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores value under key
func (s *KVStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *KVStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys
func (s *KVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
