package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
)

var _ ports.CacheStore = (*CacheStore)(nil)

// CacheStore provides an in-memory cache implementation for development
// and tests.
type CacheStore struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	summary   *domain.RemarkSummary
	fetchedAt time.Time
}

// NewCacheStore constructs an empty in-memory store.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		entries: map[string]cacheEntry{},
		now:     time.Now,
	}
}

// WithClock overrides the time source for deterministic testing.
func (s *CacheStore) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns the stored summary when one exists and is younger than
// ttl, or nil for both the unknown and the expired case. Expired entries
// stay behind for PurgeExpired to sweep.
func (s *CacheStore) Get(_ context.Context, handle string, ttl time.Duration) (*domain.RemarkSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[handle]
	if !ok {
		return nil, nil
	}
	if ttl <= 0 || s.now().Sub(entry.fetchedAt) >= ttl {
		return nil, nil
	}
	return entry.summary.Clone(), nil
}

// Put stores a defensive copy of the summary and restarts its age.
func (s *CacheStore) Put(_ context.Context, handle string, summary *domain.RemarkSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[handle] = cacheEntry{summary: summary.Clone(), fetchedAt: s.now()}
	return nil
}

// ClearAll drops every entry.
func (s *CacheStore) ClearAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]cacheEntry{}
	return nil
}

// PurgeExpired deletes entries whose age reached olderThan and reports
// how many went.
func (s *CacheStore) PurgeExpired(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var removed int64
	for handle, entry := range s.entries {
		if !entry.fetchedAt.After(cutoff) {
			delete(s.entries, handle)
			removed++
		}
	}
	return removed, nil
}
