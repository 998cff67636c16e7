// internal/service/analysis/sessions.go

package analysis

import (
	"sync"
	"time"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
)

type sessionEntry struct {
	orchestrator *Orchestrator
	lastUsed     time.Time
}

// Sessions hands out one orchestrator per client so that single-flight
// cancellation only affects that client's own requests.
type Sessions struct {
	factory func() *Orchestrator
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewSessions creates a session pool. Idle sessions older than ttl are
// dropped on access.
func NewSessions(factory func() *Orchestrator, ttl time.Duration) *Sessions {
	return &Sessions{
		factory: factory,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*sessionEntry),
	}
}

// Get returns the orchestrator for key, creating it if needed
func (s *Sessions) Get(key string) *Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	e, ok := s.entries[key]
	if !ok {
		e = &sessionEntry{orchestrator: s.factory()}
		s.entries[key] = e
	}
	e.lastUsed = now
	return e.orchestrator
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close cancels every in-flight request
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		e.orchestrator.Cancel()
		delete(s.entries, key)
	}
}

func (s *Sessions) evictLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for key, e := range s.entries {
		if now.Sub(e.lastUsed) < s.ttl {
			continue
		}
		switch e.orchestrator.Phase() {
		case analysis.PhaseCompressing, analysis.PhaseAnalyzing:
			continue
		}
		delete(s.entries, key)
	}
}
