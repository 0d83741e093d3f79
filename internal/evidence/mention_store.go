package evidence

import (
	"fmt"
	"sync"
	"time"

	"github.com/solwatch/sentinel/internal/model"
)

// mentionStore is the per-token chat-group mention list plus a per-group
// list of recent mentions across all tokens (§4.B store 2). Correlation
// candidates are read from the per-token list; the per-group list is only
// appended to and pruned.
type mentionStore struct {
	mu          sync.RWMutex
	byToken     map[string][]model.ChatGroupMention
	byGroup     map[string][]model.ChatGroupMention // group -> recent mentions across all tokens
	ttl         time.Duration
}

func newMentionStore(ttl time.Duration) *mentionStore {
	return &mentionStore{
		byToken: make(map[string][]model.ChatGroupMention),
		byGroup: make(map[string][]model.ChatGroupMention),
		ttl:     ttl,
	}
}

// record appends a mention, deduplicating on (group, ts) within a
// debounce window. Returns (recorded, correlationCandidates) where
// correlationCandidates lists other groups that mentioned the same token
// within the given correlation window, observed strictly before this
// mention is added to either list — correlation edges must be visible
// before the mention's own scoring contribution is computed (§5).
func (s *mentionStore) record(m model.ChatGroupMention, debounce, correlationWindow time.Duration) (bool, []model.ChatGroupMention) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenEntries := s.byToken[m.Token]
	for _, e := range tokenEntries {
		if e.Group != m.Group {
			continue
		}
		diff := m.Timestamp.Sub(e.Timestamp)
		if diff < 0 {
			diff = -diff
		}
		if diff <= debounce {
			return false, nil
		}
	}

	// Correlation candidates: other groups' mentions of this same token
	// within the correlation window, gathered BEFORE this mention is
	// inserted anywhere.
	cutoff := m.Timestamp.Add(-correlationWindow)
	var candidates []model.ChatGroupMention
	for _, e := range tokenEntries {
		if e.Group == m.Group {
			continue
		}
		if e.Timestamp.After(cutoff) || e.Timestamp.Equal(cutoff) {
			candidates = append(candidates, e)
		}
	}

	s.byToken[m.Token] = append(tokenEntries, m)
	s.byGroup[m.Group] = append(s.byGroup[m.Group], m)

	return true, candidates
}

func (s *mentionStore) snapshot(token string, within time.Duration, now time.Time) []model.ChatGroupMention {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byToken[token]
	if within <= 0 {
		out := make([]model.ChatGroupMention, len(entries))
		copy(out, entries)
		return out
	}
	cutoff := now.Add(-within)
	out := make([]model.ChatGroupMention, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func (s *mentionStore) prune(now time.Time) int {
	cutoff := now.Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, entries := range s.byToken {
		kept := make([]model.ChatGroupMention, 0, len(entries))
		for _, e := range entries {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.byToken, token)
		} else {
			s.byToken[token] = kept
		}
	}
	for group, entries := range s.byGroup {
		kept := make([]model.ChatGroupMention, 0, len(entries))
		for _, e := range entries {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.byGroup, group)
		} else {
			s.byGroup[group] = kept
		}
	}
	return removed
}

func (s *mentionStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, entries := range s.byToken {
		total += len(entries)
	}
	return total
}

// edgeDateKey formats the UTC date used in correlation edge dedup keys.
func edgeDateKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.UTC().Year(), t.UTC().Month(), t.UTC().Day())
}
