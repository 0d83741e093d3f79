package evidence

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/model"
)

func testCache() *Cache {
	cfg := Config{
		KOLActivityTTL:    time.Hour,
		KOLActivityCap:    100,
		KOLDedupWindow:    2 * time.Second,
		ChatMentionTTL:    time.Hour,
		MentionDebounce:   30 * time.Second,
		CorrelationWindow: 30 * time.Minute,
		UniqueBuyerCap:    500,
		SnapshotTTL:       5 * time.Minute,
		SnapshotFreshness: time.Minute,
	}
	return New(cfg, zerolog.New(io.Discard), nil)
}

func TestRecordKOLDedup(t *testing.T) {
	c := testCache()
	now := time.Now()
	rec := model.KOLActivityRecord{Token: "tokenA", Wallet: "walletX", Timestamp: now, Kind: model.TxBuy}

	if ok := c.RecordKOL(rec); !ok {
		t.Fatal("expected first record to be new")
	}
	if ok := c.RecordKOL(rec); ok {
		t.Fatal("expected duplicate (same wallet, same timestamp) to be rejected")
	}

	ev := c.GetEvidence("tokenA", 0)
	if len(ev.DistinctKOLs) != 1 {
		t.Fatalf("expected 1 distinct KOL, got %d", len(ev.DistinctKOLs))
	}
}

func TestRecordMentionCreatesCorrelationEdge(t *testing.T) {
	c := testCache()
	ctx := context.Background()
	now := time.Now()

	_, edges := c.RecordMention(ctx, model.ChatGroupMention{Token: "tokenA", Group: "group1", Timestamp: now})
	if len(edges) != 0 {
		t.Fatalf("expected no edges from the first mention, got %d", len(edges))
	}

	_, edges = c.RecordMention(ctx, model.ChatGroupMention{Token: "tokenA", Group: "group2", Timestamp: now.Add(5 * time.Minute)})
	if len(edges) != 1 {
		t.Fatalf("expected one correlation edge between group1 and group2, got %d", len(edges))
	}

	ev := c.GetEvidence("tokenA", 0)
	if ev.DistinctGroups != 2 {
		t.Fatalf("expected 2 distinct groups, got %d", ev.DistinctGroups)
	}
}

func TestRecordMentionDebounce(t *testing.T) {
	c := testCache()
	ctx := context.Background()
	now := time.Now()

	ok, _ := c.RecordMention(ctx, model.ChatGroupMention{Token: "tokenA", Group: "group1", Timestamp: now})
	if !ok {
		t.Fatal("expected first mention to be recorded")
	}
	ok, _ = c.RecordMention(ctx, model.ChatGroupMention{Token: "tokenA", Group: "group1", Timestamp: now.Add(time.Second)})
	if ok {
		t.Fatal("expected same-group mention inside the debounce window to be rejected")
	}
}

func TestRecordBuyerUniqueCount(t *testing.T) {
	c := testCache()
	if n := c.RecordBuyer("tokenA", "wallet1"); n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}
	if n := c.RecordBuyer("tokenA", "wallet1"); n != 1 {
		t.Fatalf("expected repeated address not to increase count, got %d", n)
	}
	if n := c.RecordBuyer("tokenA", "wallet2"); n != 2 {
		t.Fatalf("expected count 2 after a distinct address, got %d", n)
	}
}

func TestDropTokenClearsBuyers(t *testing.T) {
	c := testCache()
	c.RecordBuyer("tokenA", "wallet1")
	c.DropToken("tokenA")

	ev := c.GetEvidence("tokenA", 0)
	if ev.UniqueBuyers != 0 {
		t.Fatalf("expected unique buyers cleared after DropToken, got %d", ev.UniqueBuyers)
	}
}

func TestSizesReportsAllStores(t *testing.T) {
	c := testCache()
	c.RecordKOL(model.KOLActivityRecord{Token: "tokenA", Wallet: "walletX", Timestamp: time.Now(), Kind: model.TxBuy})
	sizes := c.Sizes()
	for _, key := range []string{"kol_activity", "chat_mentions", "unique_buyers", "snapshots", "correlation_edges"} {
		if _, ok := sizes[key]; !ok {
			t.Fatalf("expected Sizes() to report %q", key)
		}
	}
}
