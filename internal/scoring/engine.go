// Package scoring implements the Conviction Engine (§4.C): a deterministic,
// multi-phase scoring pipeline over a materialised Snapshot and Evidence
// view. The engine holds no mutable state beyond its Config — all IO
// lives in the fetcher and ingress adapters, so every phase here is a
// pure function of its inputs and the engine is trivially unit-testable.
package scoring

import (
	"time"

	"github.com/solwatch/sentinel/internal/model"
)

// WalletTierLookup resolves a KOL wallet address to its current tier.
// Tier and stats may be refreshed asynchronously (§3); scoring always
// reads whatever is current through this function.
type WalletTierLookup func(address string) model.KOLTier

// Input bundles everything a single scoring pass needs.
type Input struct {
	Snapshot    *model.Snapshot
	Evidence    model.EvidenceView
	State       *model.TokenState
	WalletTier  WalletTierLookup
	IgnoreToken bool
	Now         time.Time
}

// Engine is the Conviction Engine. Stateless beyond Config.
type Engine struct {
	cfg Config
}

// New builds an Engine from the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Score runs the full phased pipeline and returns the bounded-integer
// result (§4.C).
func (e *Engine) Score(in Input) model.ScoreResult {
	breakdown := make(map[string]int)
	var reasons []string

	phase1 := e.phase1SmartWallet(in.Evidence, in.WalletTier)
	breakdown["phase1_smart_wallet"] = phase1

	// Phase 2 — hard gate. Evaluated after phase 1 so the breakdown
	// already reflects wallet activity, but before any later phase runs.
	if drop, reason := e.phase2Gate(in); drop {
		reasons = append(reasons, reason)
		return model.ScoreResult{
			Total:     phase1,
			Breakdown: breakdown,
			Decision:  model.DecisionDrop,
			Reasons:   reasons,
		}
	}

	phase3 := e.phase3Bundle(in.Snapshot)
	breakdown["phase3_bundle"] = phase3

	phase4 := phase4UniqueBuyers(in.Evidence.UniqueBuyers)
	breakdown["phase4_unique_buyers"] = phase4

	phase5 := e.phase5VolumeMomentumVelocity(in.Snapshot)
	breakdown["phase5_volume_momentum_velocity"] = phase5

	midTotal := phase1 + phase3 + phase4 + phase5

	if midTotal < e.cfg.MidGate {
		reasons = append(reasons, "mid-gate not reached")
		return model.ScoreResult{
			Total:     midTotal,
			Breakdown: breakdown,
			Decision:  model.DecisionHold,
			Reasons:   reasons,
		}
	}

	if in.Snapshot.Stale {
		// §7: StaleSnapshot causes HOLD without scoring phases 6-10.
		reasons = append(reasons, "snapshot stale — skipping social/risk phases")
		return model.ScoreResult{
			Total:     midTotal,
			Breakdown: breakdown,
			Decision:  model.DecisionHold,
			Reasons:   reasons,
		}
	}

	phase6 := phase6Social(in.Snapshot)
	breakdown["phase6_social"] = phase6

	phase7 := phase7BuySellPressure(in.Snapshot)
	breakdown["phase7_buy_sell_pressure"] = phase7

	phase8, skippedHolders := e.phase8HolderDistribution(in.Snapshot, in.State)
	breakdown["phase8_holder_distribution"] = phase8
	if skippedHolders {
		reasons = append(reasons, "phase 8 skipped: holder data unavailable")
	}

	phase9 := phase9RugRisk(in.Snapshot)
	breakdown["phase9_rug_risk"] = phase9

	preSocialTotal := midTotal + phase6 + phase7 + phase8 + phase9

	phase10 := 0
	if e.cfg.SocialConvergenceEnabled && preSocialTotal >= e.cfg.MidGate {
		phase10 = phase10SocialConvergence(in.Evidence, in.Now)
	}
	breakdown["phase10_social_convergence"] = phase10

	final := preSocialTotal + phase10

	threshold := e.cfg.ThresholdPostGrad
	if !in.State.Graduated {
		threshold = e.cfg.ThresholdPreGrad
	}

	decision := model.DecisionHold
	if final >= threshold && !in.State.Emitted {
		decision = model.DecisionEmit
	}

	return model.ScoreResult{
		Total:     final,
		Breakdown: breakdown,
		Decision:  decision,
		Reasons:   reasons,
	}
}

// ─── Phase 1 — Smart Wallet Activity (0..+40) ──────────────────────────

func (e *Engine) phase1SmartWallet(ev model.EvidenceView, tierOf WalletTierLookup) int {
	if tierOf == nil || len(ev.DistinctKOLs) == 0 {
		return 0
	}

	base := 0
	for _, addr := range ev.DistinctKOLs {
		switch tierOf(addr) {
		case model.TierElite:
			base += e.cfg.EliteKOLWeight
		case model.TierTopKOL:
			base += e.cfg.TopKOLWeight
		case model.TierStandard:
			base += e.cfg.StandardKOLWeight
		}
	}

	total := base
	n := len(ev.DistinctKOLs)
	if n >= 2 {
		total += e.cfg.MultiKOLBonus
		total += (n - 2) * e.cfg.MultiKOLPerExtra
	}

	return clamp(total, 0, 40)
}

// ─── Phase 2 — Base snapshot sanity (hard gate) ────────────────────────

func (e *Engine) phase2Gate(in Input) (drop bool, reason string) {
	if in.IgnoreToken {
		return true, "token is on the ignore list"
	}
	snap := in.Snapshot
	if snap == nil {
		return true, "no snapshot available"
	}
	if snap.Quality < 50 {
		return true, "snapshot quality below 50"
	}
	if snap.LiquidityUSD < e.cfg.LiquidityFloorUSD {
		return true, "liquidity below configured floor"
	}
	if e.cfg.MarketCapCeiling > 0 && snap.MarketCapUSD > e.cfg.MarketCapCeiling {
		return true, "market cap above configured ceiling"
	}
	if snap.RugRisk.LPRemoved {
		return true, "rug risk: LP removed"
	}
	if snap.RugRisk.Honeypot {
		return true, "rug risk: honeypot"
	}
	return false, ""
}

// ─── Phase 3 — Bundle & early distribution (-40..0) ────────────────────

func (e *Engine) phase3Bundle(snap *model.Snapshot) int {
	if !snap.Bundle.Detected || snap.Bundle.Size <= 0 {
		return 0
	}
	penalty := -snap.Bundle.Size * e.cfg.BundlePenaltyPerUnit
	return clamp(penalty, -40, 0)
}

// ─── Phase 4 — Unique buyers (0..+15) ──────────────────────────────────

func phase4UniqueBuyers(uniqueBuyers int) int {
	switch {
	case uniqueBuyers >= 30:
		return 15
	case uniqueBuyers >= 15:
		return 10
	case uniqueBuyers >= 5:
		return 6
	case uniqueBuyers >= 1:
		return 3
	default:
		return 0
	}
}

// ─── Phase 5 — Volume, momentum, velocity (-5..+30) ─────────────────────

func (e *Engine) phase5VolumeMomentumVelocity(snap *model.Snapshot) int {
	total := 0

	if snap.LiquidityUSD > 0 {
		ratio := snap.Volume1h / snap.LiquidityUSD
		switch {
		case ratio >= 2.0:
			total += 10
		case ratio >= 1.25:
			total += 7
		case ratio >= 1.0:
			total += 3
		}
	}

	momentum := snap.PriceChange1hPct
	switch {
	case momentum >= 50:
		total += 10
	case momentum >= 30:
		total += 7
	case momentum >= 10:
		total += 3
	case momentum < -20:
		total -= 5
	}

	if !snap.Graduated && snap.Velocity > 0 {
		velocity := snap.Velocity
		switch {
		case velocity >= 30:
			total += 10
		case velocity >= 20:
			total += 8
		case velocity >= 10:
			total += 5
		case velocity >= 5:
			total += 3
		case velocity >= 2:
			total += 1
		}
	}

	return clamp(total, -5, 30)
}

// ─── Phase 6 — Social verification (-25..+16) ──────────────────────────

func phase6Social(snap *model.Snapshot) int {
	s := snap.Social
	hasAny := s.Website || s.Twitter || s.Telegram || s.Discord

	total := 0
	if !hasAny {
		total = -15
	} else {
		if s.Twitter && s.Telegram {
			total += 8
		} else if s.Twitter || s.Telegram {
			total += 4
		}
		if s.Website {
			total += 5
		}
		if s.Discord {
			total += 3
		}
	}

	if snap.Boosted {
		total -= 25
	}

	return clamp(total, -25, 16)
}

// ─── Phase 7 — Buy/sell pressure (0..+20) ──────────────────────────────

func phase7BuySellPressure(snap *model.Snapshot) int {
	total24 := snap.Buys24h + snap.Sells24h
	if total24 < 20 {
		return 8 // neutral
	}
	ratio := float64(snap.Buys24h) / float64(total24)
	switch {
	case ratio >= 0.80:
		return 18
	case ratio >= 0.70:
		return 14
	case ratio >= 0.50:
		return 10
	case ratio >= 0.30:
		return 6
	default:
		return 2
	}
}

// ─── Phase 8 — Holder distribution (-40..+5) ───────────────────────────

func (e *Engine) phase8HolderDistribution(snap *model.Snapshot, state *model.TokenState) (contribution int, skipped bool) {
	if !e.cfg.HolderDistributionEnabled || !snap.Holders.Populated {
		return 0, true
	}

	top10 := snap.Holders.Top10Pct
	switch {
	case top10 >= 70:
		contribution = -40
	case top10 >= 50:
		contribution = -20
	case top10 >= 30:
		contribution = -10
	default:
		contribution = 0
	}

	if state.PriorTop10Pct > 0 && top10 < state.PriorTop10Pct {
		contribution += 5
	}

	return clamp(contribution, -40, 5), false
}

// ─── Phase 9 — Rug-risk penalty (-40..0) ───────────────────────────────

func phase9RugRisk(snap *model.Snapshot) int {
	total := 0
	if snap.RugRisk.RugScore > 3 {
		total -= 10
	}
	if snap.RugRisk.DevSoldPct > 20 {
		total -= 20
	}
	return clamp(total, -40, 0)
}

// ─── Phase 10 — Social convergence (0..+25, capped) ────────────────────

func phase10SocialConvergence(ev model.EvidenceView, now time.Time) int {
	base := 0
	switch {
	case ev.RecentMentionCount10m >= 6 || ev.DistinctGroups10m >= 3:
		base = 15
	case ev.RecentMentionCount10m >= 3 || ev.RecentMentionCount5m >= 2:
		base = 10
	case ev.RecentMentionCount10m >= 1:
		base = 5
	}

	if !ev.LatestMentionTS.IsZero() && now.Sub(ev.LatestMentionTS) > 2*time.Hour {
		base /= 2
	}

	bonus := 0
	if ev.RecentMentionCount30m >= 3 {
		bonus += 10
	}
	if ev.DistinctGroups30m >= 3 {
		bonus += 15
	}
	if bonus > 20 {
		bonus = 20
	}

	return clamp(base+bonus, 0, 25)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
