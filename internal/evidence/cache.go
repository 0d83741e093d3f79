// Package evidence implements the Multi-Source Evidence Cache (§4.B): the
// in-memory stores for KOL activity, chat-group mentions with
// group-correlation tracking, unique buyers, and scored snapshots, plus
// the dedup, TTL, and pruning policies that keep the scorer's inputs
// stable. It is a single value owned by the process and passed explicitly
// to every component that needs it — no package-level globals.
package evidence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/model"
)

// Config carries the TTLs, caps, and windows the cache is built with —
// sourced from internal/config at startup (§6).
type Config struct {
	KOLActivityTTL    time.Duration
	KOLActivityCap    int
	KOLDedupWindow    time.Duration

	ChatMentionTTL    time.Duration
	MentionDebounce   time.Duration
	CorrelationWindow time.Duration

	UniqueBuyerCap int

	SnapshotTTL       time.Duration
	SnapshotFreshness time.Duration
}

// Persister is the optional durable backing for mentions and correlation
// edges (§4.B: "if a persistent backing store is configured for mentions
// ... persistence failures are logged but do not block the in-memory
// path"). Implemented by internal/storage.
type Persister interface {
	SaveChatMention(ctx context.Context, m model.ChatGroupMention) error
	SaveGroupCorrelation(ctx context.Context, e model.GroupCorrelationEdge) error
}

// Cache is the facade over the four evidence stores.
type Cache struct {
	cfg    Config
	logger zerolog.Logger

	kol       *kolStore
	mentions  *mentionStore
	buyers    *buyerStore
	snapshots *snapshotStore
	edges     *correlationIndex

	persist Persister // may be nil
}

// New builds an Evidence Cache from the given configuration.
func New(cfg Config, logger zerolog.Logger, persist Persister) *Cache {
	return &Cache{
		cfg:       cfg,
		logger:    logger.With().Str("component", "evidence_cache").Logger(),
		kol:       newKOLStore(cfg.KOLActivityCap, cfg.KOLActivityTTL),
		mentions:  newMentionStore(cfg.ChatMentionTTL),
		buyers:    newBuyerStore(cfg.UniqueBuyerCap),
		snapshots: newSnapshotStore(cfg.SnapshotFreshness, cfg.SnapshotTTL),
		edges:     newCorrelationIndex(),
		persist:   persist,
	}
}

// RecordKOL records a KOL activity observation, deduplicating on (wallet,
// ts) within the configured window. Returns true if a new record was
// stored (the tracker uses this to decide whether a re-score is
// warranted).
func (c *Cache) RecordKOL(rec model.KOLActivityRecord) bool {
	return c.kol.record(rec, c.cfg.KOLDedupWindow)
}

// RecordMention records a chat-group mention, deduplicating on (group, ts)
// within the debounce window, and returns any newly-created correlation
// edges — observed before this mention's own scoring contribution is
// computed, per the ordering guarantee in §5.
func (c *Cache) RecordMention(ctx context.Context, m model.ChatGroupMention) (recorded bool, newEdges []model.GroupCorrelationEdge) {
	ok, candidates := c.mentions.record(m, c.cfg.MentionDebounce, c.cfg.CorrelationWindow)
	if !ok {
		return false, nil
	}

	if c.persist != nil {
		if err := c.persist.SaveChatMention(ctx, m); err != nil {
			c.logger.Warn().Err(err).Str("token", m.Token).Msg("persist chat mention failed, continuing in-memory")
		}
	}

	date := edgeDateKey(m.Timestamp)
	for _, other := range candidates {
		diff := m.Timestamp.Sub(other.Timestamp)
		edge, created := c.edges.add(m.Group, other.Group, m.Token, int64(diff.Seconds()), date)
		if !created {
			continue
		}
		newEdges = append(newEdges, edge)
		if c.persist != nil {
			if err := c.persist.SaveGroupCorrelation(ctx, edge); err != nil {
				c.logger.Warn().Err(err).Str("token", m.Token).Msg("persist group correlation failed, continuing in-memory")
			}
		}
	}

	return true, newEdges
}

// RecordBuyer inserts an address into a token's unique-buyer set and
// returns the new total.
func (c *Cache) RecordBuyer(token, address string) int {
	return c.buyers.record(token, address)
}

// GetOrFetchSnapshot returns the cached snapshot if younger than the
// freshness budget, else triggers a fresh fetch via fn (§4.B store 4).
func (c *Cache) GetOrFetchSnapshot(ctx context.Context, token string, includeHolders bool, fn FetchFunc) (*model.Snapshot, error) {
	return c.snapshots.getOrFetch(ctx, token, includeHolders, fn)
}

// PeekSnapshot returns the cached snapshot without triggering a fetch.
func (c *Cache) PeekSnapshot(token string) (*model.Snapshot, bool) {
	return c.snapshots.peek(token)
}

// GetEvidence computes the aggregated evidence view for a token over the
// given trailing window (§4.B GetEvidence). within<=0 means "all history
// still resident in the cache".
func (c *Cache) GetEvidence(token string, within time.Duration) model.EvidenceView {
	now := time.Now()

	kolRecords := c.kol.snapshot(token, within, now)
	distinctKOLs := make(map[string]struct{})
	var earliestKOL time.Time
	for _, r := range kolRecords {
		if r.Kind != model.TxBuy {
			continue
		}
		distinctKOLs[r.Wallet] = struct{}{}
		if earliestKOL.IsZero() || r.Timestamp.Before(earliestKOL) {
			earliestKOL = r.Timestamp
		}
	}

	mentionRecords := c.mentions.snapshot(token, within, now)
	distinctGroups := make(map[string]struct{})
	var earliestMention, latestMention time.Time
	recent10, recent5, recent30 := 0, 0, 0
	groups10 := make(map[string]struct{})
	groups30 := make(map[string]struct{})
	for _, m := range mentionRecords {
		distinctGroups[m.Group] = struct{}{}
		if earliestMention.IsZero() || m.Timestamp.Before(earliestMention) {
			earliestMention = m.Timestamp
		}
		if m.Timestamp.After(latestMention) {
			latestMention = m.Timestamp
		}
		age := now.Sub(m.Timestamp)
		if age <= 10*time.Minute {
			recent10++
			groups10[m.Group] = struct{}{}
		}
		if age <= 5*time.Minute {
			recent5++
		}
		if age <= 30*time.Minute {
			recent30++
			groups30[m.Group] = struct{}{}
		}
	}

	kolList := make([]string, 0, len(distinctKOLs))
	for w := range distinctKOLs {
		kolList = append(kolList, w)
	}

	return model.EvidenceView{
		KOLCount:              len(kolRecords),
		DistinctKOLs:          kolList,
		MentionCount:          len(mentionRecords),
		DistinctGroups:        len(distinctGroups),
		UniqueBuyers:          c.buyers.count(token),
		EarliestKOLTS:         earliestKOL,
		EarliestMentionTS:     earliestMention,
		LatestMentionTS:       latestMention,
		RecentMentionCount10m: recent10,
		RecentMentionCount5m:  recent5,
		RecentMentionCount30m: recent30,
		DistinctGroups10m:     len(groups10),
		DistinctGroups30m:     len(groups30),
	}
}

// Prune runs the background sweep that removes entries older than each
// store's TTL (§4.B). Safe to call concurrently with inserts. Each store
// has one lock for all its tokens: the KOL store takes its lock only for
// each token's swap, while the mention and snapshot stores hold their write
// lock for the whole sweep, so inserts into those two stores wait for it.
func (c *Cache) Prune() {
	now := time.Now()
	removedKOL := c.kol.prune(now)
	removedMentions := c.mentions.prune(now)
	removedSnapshots := c.snapshots.prune(now)
	if removedKOL+removedMentions+removedSnapshots > 0 {
		c.logger.Debug().
			Int("kol_removed", removedKOL).
			Int("mentions_removed", removedMentions).
			Int("snapshots_removed", removedSnapshots).
			Msg("evidence cache pruned")
	}
}

// RunPruner starts a background goroutine that prunes on the given
// interval until ctx is cancelled.
func (c *Cache) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}

// DropToken removes a token's unique-buyer set on DROPPED transition;
// the KOL and mention history is left to TTL pruning since a later
// re-trigger after cooldown still benefits from the prior evidence.
func (c *Cache) DropToken(token string) {
	c.buyers.drop(token)
}

// Sizes reports the current size of each store, for /status and metrics.
func (c *Cache) Sizes() map[string]int {
	return map[string]int{
		"kol_activity": c.kol.size(),
		"chat_mentions": c.mentions.size(),
		"unique_buyers": c.buyers.size(),
		"snapshots":     c.snapshots.size(),
		"correlation_edges": c.edges.size(),
	}
}
