package tracker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/evidence"
	"github.com/solwatch/sentinel/internal/fetcher"
	"github.com/solwatch/sentinel/internal/model"
	"github.com/solwatch/sentinel/internal/notify"
	"github.com/solwatch/sentinel/internal/scoring"
)

// fakeProvider always returns a high-conviction snapshot so two ELITE
// KOL buys are enough to clear every gate through to EMIT (one alone
// stays below the mid-gate).
type fakeProvider struct{ symbol string }

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Fetch(ctx context.Context, token string, includeHolders bool) (*model.Snapshot, error) {
	return &model.Snapshot{
		Token:            token,
		Symbol:           p.symbol,
		LiquidityUSD:     20000,
		Volume1h:         60000,
		PriceChange1hPct: 60,
		Buys24h:          80,
		Sells24h:         20,
		Social:           model.SocialLinks{Website: true, Twitter: true, Telegram: true},
		Quality:          95,
		FetchedAt:        time.Now(),
	}, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []notify.Payload
}

func (p *fakePublisher) Publish(ctx context.Context, payload notify.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, payload)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakePersister struct {
	mu      sync.Mutex
	signals []model.SignalRecord
}

func (p *fakePersister) SaveSignal(ctx context.Context, sig model.SignalRecord) (uint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return uint(len(p.signals)), nil
}

func (p *fakePersister) MarkEmitFailed(ctx context.Context, id uint) error { return nil }

func newTestTracker(t *testing.T) (*Tracker, *fakePublisher) {
	t.Helper()
	log := zerolog.New(io.Discard)

	cache := evidence.New(evidence.Config{
		KOLActivityTTL:    time.Hour,
		KOLActivityCap:    100,
		KOLDedupWindow:    time.Second,
		ChatMentionTTL:    time.Hour,
		MentionDebounce:   time.Second,
		CorrelationWindow: 30 * time.Minute,
		UniqueBuyerCap:    500,
		SnapshotTTL:       5 * time.Minute,
		SnapshotFreshness: time.Minute,
	}, log, nil)

	fetch := fetcher.New([]fetcher.Provider{&fakeProvider{symbol: "FAKE"}}, 50, 50, time.Second)
	engine := scoring.New(scoring.DefaultConfig())
	publisher := &fakePublisher{}

	tierOf := func(addr string) model.KOLTier { return model.TierElite }

	trk := New(
		Config{
			PollInterval:          time.Minute,
			LowScoreStreakCap:     6,
			CoolingWindow:         time.Minute,
			EmitCooldown:          time.Hour,
			EvidenceWindow:        30 * time.Minute,
			PollMidGateFloor:      50,
			MaxConcurrentRescores: 4,
			MailboxSize:           8,
		},
		fetch, cache, engine, tierOf, publisher, &fakePersister{}, nil, nil, log,
	)
	return trk, publisher
}

func TestDispatchEmitsOnSufficientEvidence(t *testing.T) {
	trk, publisher := newTestTracker(t)
	ctx := context.Background()
	token := "mint1111111111111111111111111111111111111"

	for i, wallet := range []string{"elitewallet1", "elitewallet2", "elitewallet3"} {
		err := trk.Dispatch(ctx, model.KOLBuyEvent{
			Token:     token,
			Wallet:    wallet,
			Kind:      model.TxBuy,
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("unexpected dispatch error: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if publisher.count() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if publisher.count() != 1 {
		t.Fatalf("expected exactly one published signal, got %d", publisher.count())
	}
}

func TestDispatchRejectsIgnoredToken(t *testing.T) {
	log := zerolog.New(io.Discard)
	cache := evidence.New(evidence.Config{SnapshotFreshness: time.Minute, SnapshotTTL: time.Minute}, log, nil)
	fetch := fetcher.New(nil, 5, 10, time.Second)
	engine := scoring.New(scoring.DefaultConfig())

	trk := New(DefaultConfig(), fetch, cache, engine, nil, nil, nil, func(string) bool { return true }, nil, log)

	err := trk.Dispatch(context.Background(), model.KOLBuyEvent{Token: "ignored-token", Wallet: "w1", Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected an error for an ignored token")
	}
}

// blockingProvider never returns until release is closed, used to keep an
// actor busy processing so later dispatches queue up behind a full mailbox.
type blockingProvider struct{ release chan struct{} }

func (p *blockingProvider) Name() string { return "blocking" }
func (p *blockingProvider) Fetch(ctx context.Context, token string, includeHolders bool) (*model.Snapshot, error) {
	<-p.release
	return &model.Snapshot{Token: token, Quality: 95, LiquidityUSD: 20000, FetchedAt: time.Now()}, nil
}

func TestDispatchShedsLowTierKOLBuyUnderBackPressure(t *testing.T) {
	log := zerolog.New(io.Discard)
	cache := evidence.New(evidence.Config{
		KOLActivityTTL: time.Hour, KOLActivityCap: 100, KOLDedupWindow: time.Second,
		ChatMentionTTL: time.Hour, MentionDebounce: time.Second, CorrelationWindow: 30 * time.Minute,
		UniqueBuyerCap: 500, SnapshotTTL: 5 * time.Minute, SnapshotFreshness: time.Minute,
	}, log, nil)

	release := make(chan struct{})
	fetch := fetcher.New([]fetcher.Provider{&blockingProvider{release: release}}, 50, 50, time.Minute)
	engine := scoring.New(scoring.DefaultConfig())

	tierOf := func(addr string) model.KOLTier {
		if addr == "elitewallet" {
			return model.TierElite
		}
		return model.TierStandard
	}

	trk := New(
		Config{
			PollInterval: time.Minute, LowScoreStreakCap: 6, CoolingWindow: time.Minute,
			EmitCooldown: time.Hour, EvidenceWindow: 30 * time.Minute, PollMidGateFloor: 50,
			MaxConcurrentRescores: 4, MailboxSize: 1,
		},
		fetch, cache, engine, tierOf, &fakePublisher{}, &fakePersister{}, nil, nil, log,
	)
	defer close(release)

	token := "mint4444444444444444444444444444444444444"
	ctx := context.Background()

	// First event occupies the actor's single in-flight slot: it is pulled
	// off the mailbox and blocks inside rescore's Fetch call.
	if err := trk.Dispatch(ctx, model.KOLBuyEvent{Token: token, Wallet: "standardwallet1", Kind: model.TxBuy, Timestamp: time.Now()}); err != nil {
		t.Fatalf("first dispatch should not be shed: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the actor goroutine pick it up and block in Fetch

	// Second event fills the now-empty mailbox slot.
	if err := trk.Dispatch(ctx, model.KOLBuyEvent{Token: token, Wallet: "standardwallet2", Kind: model.TxBuy, Timestamp: time.Now()}); err != nil {
		t.Fatalf("second dispatch should fill the mailbox, not be shed: %v", err)
	}

	// Third event finds the mailbox full; a STANDARD-tier buy is sheddable.
	err := trk.Dispatch(ctx, model.KOLBuyEvent{Token: token, Wallet: "standardwallet3", Kind: model.TxBuy, Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected a STANDARD-tier KOL buy to be shed once the mailbox is full")
	}
}

func TestShutdownDrainsActors(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	_ = trk.Dispatch(ctx, model.KOLBuyEvent{
		Token:     "mint2222222222222222222222222222222222222",
		Wallet:    "elitewallet2",
		Timestamp: time.Now(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := trk.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}

	if err := trk.Dispatch(ctx, model.KOLBuyEvent{Token: "mint3333333333333333333333333333333333333", Wallet: "w3", Timestamp: time.Now()}); err == nil {
		t.Fatal("expected dispatch to be rejected after shutdown")
	}
}
