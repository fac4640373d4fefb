// Package snapshotstore is an in-memory, status-aware TTL cache mapping
// fixture id to the latest Snapshot. Live fixtures expire quickly,
// finished and scheduled ones hang around longer, and a background loop
// evicts entries nothing has refreshed.
package snapshotstore

import (
	"sync"
	"time"

	"github.com/soccerops/alertcore/internal/sportdata"
)

type entry struct {
	snapshot  sportdata.Snapshot
	expiresAt time.Time
}

// Store is the single-writer (ingestion), many-reader (evaluators)
// snapshot cache. Replacement is atomic at the fixture-id granularity:
// readers observe either the prior snapshot or the next, never a torn read.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]entry
	stopCh    chan struct{}
	closeOnce sync.Once
}

// New creates a Store and starts its background eviction loop.
func New() *Store {
	s := &Store{entries: make(map[string]entry), stopCh: make(chan struct{})}
	go s.evictLoop()
	return s
}

// Get returns the latest snapshot for a fixture and whether it is still
// within its TTL.
func (s *Store) Get(fixtureID string) (sportdata.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fixtureID]
	if !ok || time.Now().After(e.expiresAt) {
		return sportdata.Snapshot{}, false
	}
	return e.snapshot, true
}

// GetStale returns the latest snapshot regardless of TTL expiry, used when
// the ingestion pipeline must serve cached data under BudgetExceeded
// back-pressure or a repeated upstream failure.
func (s *Store) GetStale(fixtureID string) (sportdata.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fixtureID]
	if !ok {
		return sportdata.Snapshot{}, false
	}
	return e.snapshot, true
}

// WithinTTL reports whether a cached snapshot for fixtureID is still fresh,
// used by the ingestion pipeline to skip fetches that would refetch it.
func (s *Store) WithinTTL(fixtureID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fixtureID]
	if !ok {
		return false
	}
	return time.Now().Before(e.expiresAt)
}

// Put replaces the snapshot for a fixture, atomically, with a TTL derived
// from the fixture's status.
func (s *Store) Put(snap sportdata.Snapshot) {
	ttl := ttlForStatus(snap.Status)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[snap.FixtureID] = entry{snapshot: snap, expiresAt: time.Now().Add(ttl)}
}

// Evict removes a fixture's snapshot immediately. Expired entries are
// retired by the background eviction loop, which does not call Evict.
func (s *Store) Evict(fixtureID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fixtureID)
}

// Len reports the number of fixtures currently tracked, stale or fresh.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background eviction loop. Safe to call more than once.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.stopCh) })
}

func ttlForStatus(status sportdata.FixtureStatus) time.Duration {
	switch {
	case status.IsLive():
		return 60 * time.Second
	case status == sportdata.StatusFinished, status == sportdata.StatusPostponed:
		return 300 * time.Second
	case status == sportdata.StatusScheduled:
		return 600 * time.Second
	default:
		return 60 * time.Second
	}
}

// evictLoop periodically removes expired entries that have not been
// refreshed, bounding memory without requiring explicit fixture retirement
// for every status transition.
func (s *Store) evictLoop() {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-2 * time.Hour)
	for id, e := range s.entries {
		if e.expiresAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}
