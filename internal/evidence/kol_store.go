package evidence

import (
	"sync"
	"time"

	"github.com/solwatch/sentinel/internal/model"
)

// kolStore is the append-only per-token KOL activity list (§4.B store 1).
// One lock covers every token; prune filters each token's list outside
// that lock and takes it only for the per-token swap.
type kolStore struct {
	mu       sync.RWMutex
	byToken  map[string][]model.KOLActivityRecord
	cap      int
	ttl      time.Duration
}

func newKOLStore(cap int, ttl time.Duration) *kolStore {
	return &kolStore{
		byToken: make(map[string][]model.KOLActivityRecord),
		cap:     cap,
		ttl:     ttl,
	}
}

// record appends a KOL activity entry, deduplicating on (wallet, ts) within
// a 2-second window. Returns true if a new entry was recorded.
func (s *kolStore) record(rec model.KOLActivityRecord, dedupWindow time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.byToken[rec.Token]
	for _, e := range entries {
		if e.Wallet != rec.Wallet {
			continue
		}
		diff := rec.Timestamp.Sub(e.Timestamp)
		if diff < 0 {
			diff = -diff
		}
		if diff <= dedupWindow {
			return false
		}
	}

	entries = append(entries, rec)
	if s.cap > 0 && len(entries) > s.cap {
		entries = entries[len(entries)-s.cap:]
	}
	s.byToken[rec.Token] = entries
	return true
}

// snapshot returns a copy of the entries recorded for a token, trimmed to
// the trailing window (0 means no trim).
func (s *kolStore) snapshot(token string, within time.Duration, now time.Time) []model.KOLActivityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byToken[token]
	if within <= 0 {
		out := make([]model.KOLActivityRecord, len(entries))
		copy(out, entries)
		return out
	}
	cutoff := now.Add(-within)
	out := make([]model.KOLActivityRecord, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// prune removes entries older than the store's TTL without holding the
// lock during the filter pass — a copy-on-write slice swap. A token whose
// list changed after it was read is left for the next sweep, so a
// concurrent insert is never lost.
func (s *kolStore) prune(now time.Time) int {
	cutoff := now.Add(-s.ttl)

	s.mu.RLock()
	tokens := make([]string, 0, len(s.byToken))
	for t := range s.byToken {
		tokens = append(tokens, t)
	}
	s.mu.RUnlock()

	removed := 0
	for _, token := range tokens {
		s.mu.RLock()
		entries := s.byToken[token]
		s.mu.RUnlock()

		kept := make([]model.KOLActivityRecord, 0, len(entries))
		for _, e := range entries {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			}
		}

		s.mu.Lock()
		cur := s.byToken[token]
		if len(cur) != len(entries) || (len(cur) > 0 && cur[len(cur)-1] != entries[len(entries)-1]) {
			s.mu.Unlock()
			continue
		}
		removed += len(entries) - len(kept)
		if len(kept) == 0 {
			delete(s.byToken, token)
		} else {
			s.byToken[token] = kept
		}
		s.mu.Unlock()
	}
	return removed
}

func (s *kolStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, entries := range s.byToken {
		total += len(entries)
	}
	return total
}
