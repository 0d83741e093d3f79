// Package tracker implements the Active Token Tracker (§4.D): the
// per-token state machine that drives polling, re-scoring, early exit,
// and signal emission. Every token gets its own single-goroutine actor
// so mutations for that token are strictly serialized, while different
// tokens score concurrently up to a shared semaphore cap.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/solwatch/sentinel/internal/apperrors"
	"github.com/solwatch/sentinel/internal/evidence"
	"github.com/solwatch/sentinel/internal/fetcher"
	"github.com/solwatch/sentinel/internal/model"
	"github.com/solwatch/sentinel/internal/notify"
	"github.com/solwatch/sentinel/internal/observability"
	"github.com/solwatch/sentinel/internal/scoring"
)

// SignalPersister is the subset of internal/storage used by the tracker
// to record emitted signals; kept as an interface so the tracker can be
// unit-tested without a real database.
type SignalPersister interface {
	SaveSignal(ctx context.Context, sig model.SignalRecord) (uint, error)
	MarkEmitFailed(ctx context.Context, id uint) error
}

// IgnoreChecker reports whether a token address should be refused
// outright (§4.D "Refuse start for ignored tokens").
type IgnoreChecker func(token string) bool

// Tracker owns the set of live per-token actors and the shared resources
// they score against.
type Tracker struct {
	cfg Config

	fetcher *fetcher.Fetcher
	cache   *evidence.Cache
	engine  *scoring.Engine
	tierOf  scoring.WalletTierLookup
	publish notify.Publisher
	persist SignalPersister // may be nil
	ignored IgnoreChecker
	metrics *observability.Metrics
	logger  zerolog.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	actors  map[string]*actor
	closing bool

	recentScoresMu sync.Mutex
	recentScores   []int
}

// New builds a Tracker. publish/persist/metrics may be nil — a nil
// publish is treated as a permanent publish failure that still allows
// the EMITTED transition (§6).
func New(
	cfg Config,
	f *fetcher.Fetcher,
	cache *evidence.Cache,
	engine *scoring.Engine,
	tierOf scoring.WalletTierLookup,
	publish notify.Publisher,
	persist SignalPersister,
	ignored IgnoreChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Tracker {
	if cfg.MaxConcurrentRescores <= 0 {
		cfg.MaxConcurrentRescores = 16
	}
	return &Tracker{
		cfg:     cfg,
		fetcher: f,
		cache:   cache,
		engine:  engine,
		tierOf:  tierOf,
		publish: publish,
		persist: persist,
		ignored: ignored,
		metrics: metrics,
		logger:  logger.With().Str("component", "tracker").Logger(),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentRescores),
		actors:  make(map[string]*actor),
	}
}

// Dispatch routes a uniform internal event to the token's actor,
// creating one if the token is unseen or has cooled down past its
// cooldown window. Events for the same token are processed in arrival
// order; different tokens proceed concurrently.
func (t *Tracker) Dispatch(ctx context.Context, event interface{}) error {
	token, err := tokenOf(event)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return fmt.Errorf("tracker is shutting down, event rejected")
	}
	if t.ignored != nil && t.ignored(token) {
		t.mu.Unlock()
		return apperrors.Wrap(token, apperrors.ErrIgnoredToken)
	}

	a, ok := t.actors[token]
	if !ok {
		a = t.spawnActor(token)
	}
	t.mu.Unlock()

	select {
	case a.mailbox <- event:
		return nil
	default:
	}

	// §5 back-pressure: the per-token mailbox is at its high watermark.
	// Shed lower-priority events instead of making the caller block;
	// ELITE/TOP_KOL buys and graduation events are never shed.
	if t.sheddable(event) {
		kind := eventKind(event)
		if t.metrics != nil {
			t.metrics.CounterInc("sentinel_events_shed_total", map[string]string{"kind": kind})
		}
		t.logger.Warn().Str("token", token).Str("kind", kind).Msg("mailbox at capacity, event shed under back-pressure")
		return fmt.Errorf("token %s: %s shed under back-pressure", token, kind)
	}

	select {
	case a.mailbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sheddable reports whether event may be dropped when its token's mailbox
// is full. PollTicks, ChatMentionEvents and STANDARD/UNKNOWN-tier KOL buys
// are all sheddable and are shed alike: there is no ordering among them and
// no per-group quota for chat mentions. ELITE- and TOP_KOL-tier KOL buys and
// graduation events are never shed.
func (t *Tracker) sheddable(event interface{}) bool {
	switch e := event.(type) {
	case model.PollTick:
		return true
	case model.ChatMentionEvent:
		return true
	case model.KOLBuyEvent:
		tier := model.TierUnknown
		if t.tierOf != nil {
			tier = t.tierOf(e.Wallet)
		}
		return tier == model.TierStandard || tier == model.TierUnknown
	default:
		return false
	}
}

func eventKind(event interface{}) string {
	switch event.(type) {
	case model.PollTick:
		return "poll_tick"
	case model.ChatMentionEvent:
		return "chat_mention"
	case model.KOLBuyEvent:
		return "kol_buy"
	case model.GraduationEvent:
		return "graduation"
	default:
		return "unknown"
	}
}

func (t *Tracker) spawnActor(token string) *actor {
	a := &actor{
		token:   token,
		tracker: t,
		mailbox: make(chan interface{}, t.cfg.MailboxSize),
		done:    make(chan struct{}),
	}
	t.actors[token] = a
	go a.run()
	return a
}

// reap removes a terminal (DROPPED) actor from the live set.
func (t *Tracker) reap(token string) {
	t.mu.Lock()
	delete(t.actors, token)
	t.mu.Unlock()
	t.cache.DropToken(token)
}

// Shutdown stops accepting new events and waits for every live actor to
// finish its in-flight processing before returning (§5 graceful drain).
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	actors := make([]*actor, 0, len(t.actors))
	for _, a := range t.actors {
		close(a.mailbox)
		actors = append(actors, a)
	}
	t.mu.Unlock()

	for _, a := range actors {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// recordScore appends to the trailing score window used by /status.
func (t *Tracker) recordScore(total int) {
	t.recentScoresMu.Lock()
	defer t.recentScoresMu.Unlock()
	t.recentScores = append(t.recentScores, total)
	if len(t.recentScores) > 50 {
		t.recentScores = t.recentScores[len(t.recentScores)-50:]
	}
}

// StatusSnapshot is the tracker's contribution to the /status endpoint.
// "Emitted today" in the full sense requires the persistence layer's
// timestamp index, so it is merged in by the caller (cmd/sentinel) from
// internal/storage rather than computed here.
type StatusSnapshot struct {
	Active      int
	Cooling     int
	Emitted     int
	MedianScore float64
	CacheSizes  map[string]int
}

// Status reports the tracker's current aggregate state.
func (t *Tracker) Status() StatusSnapshot {
	t.mu.Lock()
	var active, cooling, emitted int
	for _, a := range t.actors {
		a.stateMu.Lock()
		if a.state != nil {
			switch a.state.Status {
			case model.StatusActive:
				active++
			case model.StatusCooling:
				cooling++
			case model.StatusEmitted:
				emitted++
			}
		}
		a.stateMu.Unlock()
	}
	t.mu.Unlock()

	return StatusSnapshot{
		Active:      active,
		Cooling:     cooling,
		Emitted:     emitted,
		MedianScore: t.medianRecentScore(),
		CacheSizes:  t.cache.Sizes(),
	}
}

func (t *Tracker) medianRecentScore() float64 {
	t.recentScoresMu.Lock()
	defer t.recentScoresMu.Unlock()
	n := len(t.recentScores)
	if n == 0 {
		return 0
	}
	sorted := make([]int, n)
	copy(sorted, t.recentScores)
	sort.Ints(sorted)
	mid := n / 2
	if n%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}

func tokenOf(event interface{}) (string, error) {
	switch e := event.(type) {
	case model.KOLBuyEvent:
		return e.Token, nil
	case model.ChatMentionEvent:
		return e.Token, nil
	case model.GraduationEvent:
		return e.Token, nil
	case model.PollTick:
		return e.Token, nil
	default:
		return "", fmt.Errorf("%w: unrecognized event type %T", apperrors.ErrInvalidInput, event)
	}
}
