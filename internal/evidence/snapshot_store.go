package evidence

import (
	"context"
	"sync"
	"time"

	"github.com/solwatch/sentinel/internal/model"
)

// FetchFunc is the subset of the Token Metadata Fetcher's contract the
// snapshot store depends on (§4.A).
type FetchFunc func(ctx context.Context, token string, includeHolders bool) (*model.Snapshot, error)

type snapshotEntry struct {
	snapshot *model.Snapshot
	cachedAt time.Time
}

// snapshotStore holds the most recent Snapshot per token (§4.B store 4)
// and implements get-or-fetch against a configurable freshness budget.
type snapshotStore struct {
	mu        sync.RWMutex
	byToken   map[string]*snapshotEntry
	freshness time.Duration
	ttl       time.Duration
}

func newSnapshotStore(freshness, ttl time.Duration) *snapshotStore {
	return &snapshotStore{
		byToken:   make(map[string]*snapshotEntry),
		freshness: freshness,
		ttl:       ttl,
	}
}

func (s *snapshotStore) peek(token string) (*model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byToken[token]
	if !ok {
		return nil, false
	}
	return e.snapshot, true
}

// getOrFetch returns the cached snapshot if it is younger than the
// freshness budget; otherwise it calls fetch and caches the result. When
// includeHolders is requested but the cached snapshot lacks holder data,
// a fresh fetch is forced regardless of age.
func (s *snapshotStore) getOrFetch(ctx context.Context, token string, includeHolders bool, fetch FetchFunc) (*model.Snapshot, error) {
	now := time.Now()

	s.mu.RLock()
	e, ok := s.byToken[token]
	s.mu.RUnlock()

	if ok && now.Sub(e.cachedAt) < s.freshness {
		if !includeHolders || e.snapshot.Holders.Populated {
			return e.snapshot, nil
		}
	}

	snap, err := fetch(ctx, token, includeHolders)
	if err != nil {
		if ok {
			return e.snapshot, err
		}
		return nil, err
	}

	s.mu.Lock()
	s.byToken[token] = &snapshotEntry{snapshot: snap, cachedAt: now}
	s.mu.Unlock()

	return snap, nil
}

func (s *snapshotStore) prune(now time.Time) int {
	cutoff := now.Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, e := range s.byToken {
		if e.cachedAt.Before(cutoff) {
			delete(s.byToken, token)
			removed++
		}
	}
	return removed
}

func (s *snapshotStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}
