package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solwatch/sentinel/internal/apperrors"
	"github.com/solwatch/sentinel/internal/model"
	"github.com/solwatch/sentinel/internal/notify"
	"github.com/solwatch/sentinel/internal/scoring"
)

// retireSignal tells an actor to transition to DROPPED and stop — sent by
// its own cooldown/emit-cooldown timer, never by Dispatch.
type retireSignal struct{}

// actor is a single-goroutine mailbox serializing every mutation for one
// token (§4.D, §5, §9): "per-token actor goroutines instead of ad-hoc
// coroutines".
type actor struct {
	token   string
	tracker *Tracker
	mailbox chan interface{}
	done    chan struct{}

	stateMu sync.Mutex
	state   *model.TokenState

	pollTimer *time.Timer
}

func (a *actor) run() {
	defer close(a.done)
	for event := range a.mailbox {
		if a.process(event) {
			a.stopTimer()
			a.tracker.reap(a.token)
			return
		}
	}
}

func (a *actor) stopTimer() {
	if a.pollTimer != nil {
		a.pollTimer.Stop()
	}
}

// process handles one event and returns true if the actor should retire.
func (a *actor) process(event interface{}) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	switch e := event.(type) {
	case retireSignal:
		_ = e
		a.stateMu.Lock()
		if a.state != nil {
			a.state.Status = model.StatusDropped
		}
		a.stateMu.Unlock()
		return true

	case model.KOLBuyEvent:
		a.ensureState(model.TriggerKOLBuy, e.Timestamp)
		if a.isCooling() {
			return false
		}
		a.tracker.cache.RecordKOL(model.KOLActivityRecord{
			Token:       e.Token,
			Wallet:      e.Wallet,
			Timestamp:   e.Timestamp,
			Kind:        e.Kind,
			USDNotional: e.USDNotional,
		})
		if e.Kind == model.TxBuy {
			a.tracker.cache.RecordBuyer(e.Token, e.Wallet)
		}
		a.stateMu.Lock()
		isNewWallet := false
		if _, seen := a.state.KOLWallets[e.Wallet]; !seen {
			a.state.KOLWallets[e.Wallet] = struct{}{}
			isNewWallet = true
		}
		if _, seen := a.state.UniqueBuyers[e.Wallet]; !seen && e.Kind == model.TxBuy {
			a.state.UniqueBuyers[e.Wallet] = struct{}{}
		}
		a.state.LastActivity = e.Timestamp
		a.stateMu.Unlock()
		if isNewWallet {
			a.rescore(ctx)
		}

	case model.ChatMentionEvent:
		a.ensureState(model.TriggerChatCall, e.Timestamp)
		if a.isCooling() {
			return false
		}
		recorded, _ := a.tracker.cache.RecordMention(ctx, model.ChatGroupMention{
			Token:     e.Token,
			Group:     e.Group,
			Timestamp: e.Timestamp,
			Text:      e.Text,
		})
		a.stateMu.Lock()
		_, seenGroup := a.state.ChatGroups[e.Group]
		if recorded {
			a.state.ChatGroups[e.Group] = struct{}{}
			a.state.MentionCount++
			a.state.LastActivity = e.Timestamp
		}
		a.stateMu.Unlock()
		if recorded && !seenGroup {
			a.rescore(ctx)
		}

	case model.GraduationEvent:
		a.ensureState(model.TriggerGraduation, e.Timestamp)
		a.stateMu.Lock()
		a.state.Graduated = true
		a.state.LastActivity = e.Timestamp
		a.stateMu.Unlock()
		if a.isCooling() {
			return false
		}
		a.rescore(ctx)

	case model.PollTick:
		a.stateMu.Lock()
		cooling := a.state != nil && a.state.Status == model.StatusCooling
		a.stateMu.Unlock()
		if cooling {
			// §4.D: COOLING refuses new polls.
			return false
		}
		a.rescore(ctx)

	default:
		a.tracker.logger.Warn().Str("token", a.token).Str("type", fmt.Sprintf("%T", event)).Msg("unrecognized event dropped")
	}

	return false
}

func (a *actor) isCooling() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state != nil && a.state.Status == model.StatusCooling
}

func (a *actor) ensureState(trigger model.TriggerSource, now time.Time) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.state == nil {
		a.state = model.NewTokenState(a.token, trigger, now)
	}
}

// rescore fetches a fresh snapshot, computes the evidence view, runs the
// Conviction Engine, and applies the resulting state transition (§4.D).
// Only one rescore is ever in flight per token because the mailbox
// processes one event at a time (§9).
func (a *actor) rescore(ctx context.Context) {
	if err := a.tracker.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer a.tracker.sem.Release(1)

	a.stateMu.Lock()
	state := a.state
	a.stateMu.Unlock()
	if state == nil {
		return
	}

	ev := a.tracker.cache.GetEvidence(a.token, a.tracker.cfg.EvidenceWindow)
	includeHolders := len(ev.DistinctKOLs) > 0 || ev.MentionCount > 0

	snap, err := a.tracker.cache.GetOrFetchSnapshot(ctx, a.token, includeHolders, a.tracker.fetcher.FetchSnapshot)
	if err != nil {
		a.handleFetchFailure(err)
		return
	}

	a.stateMu.Lock()
	state.LastSnapshot = snap
	state.PollCycles++
	a.stateMu.Unlock()

	scoreStart := time.Now()
	result := a.tracker.engine.Score(scoring.Input{
		Snapshot:    snap,
		Evidence:    ev,
		State:       state,
		WalletTier:  a.tracker.tierOf,
		IgnoreToken: a.tracker.ignored != nil && a.tracker.ignored(a.token),
		Now:         time.Now(),
	})

	a.tracker.recordScore(result.Total)
	if a.tracker.metrics != nil {
		a.tracker.metrics.TrackScore(string(result.Decision), result.Total, float64(time.Since(scoreStart).Microseconds())/1000)
	}

	a.stateMu.Lock()
	state.LastScore = &result
	if snap.Holders.Populated {
		state.PriorTop10Pct = snap.Holders.Top10Pct
	}
	a.stateMu.Unlock()

	midTotal := result.Breakdown["phase1_smart_wallet"] + result.Breakdown["phase3_bundle"] +
		result.Breakdown["phase4_unique_buyers"] + result.Breakdown["phase5_volume_momentum_velocity"]

	switch result.Decision {
	case model.DecisionEmit:
		a.emit(ctx, snap, result)
	default:
		a.applyHold(midTotal)
	}

	a.scheduleNext(midTotal, false)
}

func (a *actor) handleFetchFailure(err error) {
	a.tracker.logger.Warn().Err(err).Str("token", a.token).Msg("fetch failed during rescore, scheduling backoff")
	a.stateMu.Lock()
	a.state.BackoffAttempt++
	attempt := a.state.BackoffAttempt
	a.stateMu.Unlock()
	a.scheduleBackoff(attempt - 1)
}

// applyHold updates the low-score streak and transitions to COOLING once
// the streak limit is reached (§4.D).
func (a *actor) applyHold(midTotal int) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if midTotal < a.tracker.cfg.PollMidGateFloor {
		a.state.LowScoreStreak++
	} else {
		a.state.LowScoreStreak = 0
	}

	if a.state.Status == model.StatusActive && a.state.LowScoreStreak >= a.tracker.cfg.LowScoreStreakCap {
		a.state.Status = model.StatusCooling
		a.state.CoolingSince = time.Now()
		a.scheduleCooldown(a.tracker.cfg.CoolingWindow)
	}
}

func (a *actor) emit(ctx context.Context, snap *model.Snapshot, result model.ScoreResult) {
	a.stateMu.Lock()
	state := a.state
	state.Status = model.StatusEmitted
	state.Emitted = true
	state.EmittedAt = time.Now()
	a.stateMu.Unlock()

	payload := notify.Payload{
		Token:         a.token,
		Symbol:        snap.Symbol,
		Conviction:    result.Total,
		Breakdown:     result.Breakdown,
		TriggerSource: state.TriggerSource,
		TopEvidence:   topEvidence(state),
		ExplorerLinks: explorerLinks(a.token),
		EmittedAt:     state.EmittedAt,
	}

	record := model.SignalRecord{
		Token:         a.token,
		Symbol:        snap.Symbol,
		Score:         result.Total,
		Breakdown:     result.Breakdown,
		TriggerSource: state.TriggerSource,
		EmittedAt:     state.EmittedAt,
	}

	var recordID uint
	if a.tracker.persist != nil {
		id, err := a.tracker.persist.SaveSignal(ctx, record)
		if err != nil {
			a.tracker.logger.Error().Err(err).Str("token", a.token).Msg("failed to persist signal")
		} else {
			recordID = id
		}
	}

	publishErr := error(nil)
	if a.tracker.publish != nil {
		publishErr = a.tracker.publish.Publish(ctx, payload)
	} else {
		publishErr = apperrors.Wrap(a.token, apperrors.ErrPublishFailure)
	}

	if publishErr != nil {
		a.tracker.logger.Error().Err(publishErr).Str("token", a.token).Msg("signal publish failed permanently, marking emit_failed")
		if a.tracker.persist != nil && recordID != 0 {
			if err := a.tracker.persist.MarkEmitFailed(ctx, recordID); err != nil {
				a.tracker.logger.Error().Err(err).Str("token", a.token).Msg("failed to mark emit_failed")
			}
		}
	}

	if a.tracker.metrics != nil {
		outcome := "ok"
		if publishErr != nil {
			outcome = "failed"
		}
		a.tracker.metrics.TrackSignal(string(state.TriggerSource), outcome)
	}

	a.scheduleCooldown(a.tracker.cfg.EmitCooldown)
}

// scheduleNext arms the actor's poll timer per §4.D's cadence rule:
// scheduled polling only runs for tokens whose mid_total has reached the
// poll gate; otherwise the token only rescales on incoming events.
func (a *actor) scheduleNext(midTotal int, isBackoff bool) {
	a.stateMu.Lock()
	status := a.state.Status
	a.state.BackoffAttempt = 0
	a.stateMu.Unlock()

	if status != model.StatusActive {
		return
	}
	if midTotal < a.tracker.cfg.PollMidGateFloor {
		a.stopTimer()
		return
	}

	a.armTimer(a.tracker.cfg.PollInterval, model.PollTick{Token: a.token, Timestamp: time.Now()})
}

func (a *actor) scheduleBackoff(attempt int) {
	a.armTimer(nextBackoff(attempt), model.PollTick{Token: a.token, Timestamp: time.Now()})
}

func (a *actor) scheduleCooldown(d time.Duration) {
	a.armTimer(d, retireSignal{})
}

func (a *actor) armTimer(d time.Duration, event interface{}) {
	a.stopTimer()
	a.pollTimer = time.AfterFunc(d, func() {
		defer func() { recover() }() // mailbox may already be closed during shutdown
		// §5 back-pressure: a self-scheduled poll tick bypasses Dispatch, so
		// it must be shed here too rather than blocking the actor's timer
		// goroutine against a full mailbox. retireSignal always blocks —
		// losing it would strand the actor ACTIVE/COOLING forever.
		if _, isPoll := event.(model.PollTick); isPoll {
			select {
			case a.mailbox <- event:
			default:
				a.tracker.logger.Debug().Str("token", a.token).Msg("poll tick shed under back-pressure")
			}
			return
		}
		a.mailbox <- event
	})
}

func topEvidence(state *model.TokenState) []string {
	out := make([]string, 0, len(state.KOLWallets)+len(state.ChatGroups))
	for w := range state.KOLWallets {
		out = append(out, "wallet:"+w)
	}
	for g := range state.ChatGroups {
		out = append(out, "group:"+g)
	}
	return out
}

func explorerLinks(token string) []string {
	return []string{
		"https://solscan.io/token/" + token,
		"https://dexscreener.com/solana/" + token,
	}
}
