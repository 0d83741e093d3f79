package scoring

import (
	"testing"
	"time"

	"github.com/solwatch/sentinel/internal/model"
)

func baseSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Token:        "mint1111111111111111111111111111111111111",
		LiquidityUSD: 20000,
		Volume1h:     5000,
		Quality:      90,
		FetchedAt:    time.Now(),
	}
}

func eliteTier(addr string) model.KOLTier { return model.TierElite }

func TestPhase2GateDropsOnLowLiquidity(t *testing.T) {
	e := New(DefaultConfig())
	snap := baseSnapshot()
	snap.LiquidityUSD = 100

	state := model.NewTokenState(snap.Token, model.TriggerKOLBuy, time.Now())
	result := e.Score(Input{
		Snapshot: snap,
		State:    state,
		Now:      time.Now(),
	})

	if result.Decision != model.DecisionDrop {
		t.Fatalf("expected DROP on low liquidity, got %s", result.Decision)
	}
}

func TestPhase2GateDropsOnIgnoredToken(t *testing.T) {
	e := New(DefaultConfig())
	snap := baseSnapshot()
	state := model.NewTokenState(snap.Token, model.TriggerKOLBuy, time.Now())

	result := e.Score(Input{
		Snapshot:    snap,
		State:       state,
		IgnoreToken: true,
		Now:         time.Now(),
	})

	if result.Decision != model.DecisionDrop {
		t.Fatalf("expected DROP for ignored token, got %s", result.Decision)
	}
}

func TestHoldBelowMidGate(t *testing.T) {
	e := New(DefaultConfig())
	snap := baseSnapshot()
	state := model.NewTokenState(snap.Token, model.TriggerKOLBuy, time.Now())

	result := e.Score(Input{
		Snapshot: snap,
		Evidence: model.EvidenceView{UniqueBuyers: 1},
		State:    state,
		Now:      time.Now(),
	})

	if result.Decision != model.DecisionHold {
		t.Fatalf("expected HOLD below mid-gate, got %s (total=%d)", result.Decision, result.Total)
	}
}

func TestEmitWhenThresholdReached(t *testing.T) {
	e := New(DefaultConfig())
	snap := baseSnapshot()
	snap.Social = model.SocialLinks{Website: true, Twitter: true, Telegram: true}
	snap.Buys24h, snap.Sells24h = 80, 20
	snap.Volume1h = 50000 // ratio >= 2.0 -> +10 phase5
	snap.PriceChange1hPct = 60

	state := model.NewTokenState(snap.Token, model.TriggerKOLBuy, time.Now())

	ev := model.EvidenceView{
		DistinctKOLs: []string{"walletA", "walletB", "walletC"},
		UniqueBuyers: 40,
	}

	result := e.Score(Input{
		Snapshot:   snap,
		Evidence:   ev,
		State:      state,
		WalletTier: eliteTier,
		Now:        time.Now(),
	})

	if result.Decision != model.DecisionEmit {
		t.Fatalf("expected EMIT, got %s (total=%d breakdown=%v)", result.Decision, result.Total, result.Breakdown)
	}
}

func TestNoReEmitWithinCooldown(t *testing.T) {
	e := New(DefaultConfig())
	snap := baseSnapshot()
	snap.Social = model.SocialLinks{Website: true, Twitter: true, Telegram: true}
	snap.Buys24h, snap.Sells24h = 80, 20
	snap.Volume1h = 50000
	snap.PriceChange1hPct = 60

	state := model.NewTokenState(snap.Token, model.TriggerKOLBuy, time.Now())
	state.Emitted = true

	ev := model.EvidenceView{
		DistinctKOLs: []string{"walletA", "walletB", "walletC"},
		UniqueBuyers: 40,
	}

	result := e.Score(Input{
		Snapshot:   snap,
		Evidence:   ev,
		State:      state,
		WalletTier: eliteTier,
		Now:        time.Now(),
	})

	if result.Decision == model.DecisionEmit {
		t.Fatalf("expected no re-emit while state.Emitted is true, got EMIT")
	}
}

func TestStaleSnapshotSkipsLaterPhases(t *testing.T) {
	e := New(DefaultConfig())
	snap := baseSnapshot()
	snap.Stale = true
	snap.Volume1h, snap.PriceChange1hPct = 50000, 60 // phase 5 = 20, so the mid-gate is cleared

	state := model.NewTokenState(snap.Token, model.TriggerKOLBuy, time.Now())
	ev := model.EvidenceView{
		DistinctKOLs: []string{"walletA", "walletB", "walletC"},
		UniqueBuyers: 40,
	}

	result := e.Score(Input{
		Snapshot:   snap,
		Evidence:   ev,
		State:      state,
		WalletTier: eliteTier,
		Now:        time.Now(),
	})

	if _, ok := result.Breakdown["phase6_social"]; ok {
		t.Fatalf("expected phase 6 to be skipped on a stale snapshot, got breakdown %v", result.Breakdown)
	}
	if result.Decision != model.DecisionHold {
		t.Fatalf("expected HOLD on a stale snapshot, got %s", result.Decision)
	}
}

func TestPhase3BundlePenaltyClamped(t *testing.T) {
	e := New(DefaultConfig())
	snap := baseSnapshot()
	snap.Bundle = model.BundleInfo{Detected: true, Size: 50} // would be -250 unclamped

	penalty := e.phase3Bundle(snap)
	if penalty != -40 {
		t.Fatalf("expected bundle penalty clamped to -40, got %d", penalty)
	}
}

func TestPhase4UniqueBuyerBuckets(t *testing.T) {
	cases := []struct {
		buyers int
		want   int
	}{
		{0, 0}, {1, 3}, {4, 3}, {5, 6}, {14, 6}, {15, 10}, {29, 10}, {30, 15}, {100, 15},
	}
	for _, c := range cases {
		if got := phase4UniqueBuyers(c.buyers); got != c.want {
			t.Errorf("phase4UniqueBuyers(%d) = %d, want %d", c.buyers, got, c.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if clamp(100, 0, 40) != 40 {
		t.Fatal("expected clamp to cap at max")
	}
	if clamp(-100, -40, 0) != -40 {
		t.Fatal("expected clamp to floor at min")
	}
	if clamp(5, 0, 40) != 5 {
		t.Fatal("expected clamp to pass through in-range values")
	}
}
