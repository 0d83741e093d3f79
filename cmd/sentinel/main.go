package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/config"
	"github.com/solwatch/sentinel/internal/evidence"
	"github.com/solwatch/sentinel/internal/fetcher"
	"github.com/solwatch/sentinel/internal/ingress"
	"github.com/solwatch/sentinel/internal/logger"
	"github.com/solwatch/sentinel/internal/model"
	"github.com/solwatch/sentinel/internal/notify"
	"github.com/solwatch/sentinel/internal/observability"
	"github.com/solwatch/sentinel/internal/redisclient"
	"github.com/solwatch/sentinel/internal/router"
	"github.com/solwatch/sentinel/internal/scoring"
	"github.com/solwatch/sentinel/internal/storage"
	"github.com/solwatch/sentinel/internal/tracker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration validation failed")
	}

	log.Info().Str("env", cfg.Env).Msg("sentinel starting")

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — continuing without Redis")
	} else if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — continuing without Redis")
	} else {
		log.Info().Msg("redis connected")
	}

	var store *storage.Store
	if cfg.StorageDSN != "" {
		store, err = storage.Open(cfg.StorageDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to reach persistent signal store")
		}
		log.Info().Msg("storage backend connected, schema migrated")
	} else {
		log.Warn().Msg("STORAGE_DSN not set — running without durable persistence")
	}

	metrics := observability.NewMetrics(log)

	cache := evidence.New(evidence.Config{
		KOLActivityTTL:    cfg.KOLActivityTTL,
		KOLActivityCap:    cfg.KOLActivityCap,
		KOLDedupWindow:    cfg.KOLDedupWindow,
		ChatMentionTTL:    cfg.ChatMentionTTL,
		MentionDebounce:   cfg.MentionDebounce,
		CorrelationWindow: cfg.CorrelationWindow,
		UniqueBuyerCap:    cfg.UniqueBuyerCap,
		SnapshotTTL:       cfg.SnapshotTTL,
		SnapshotFreshness: cfg.SnapshotFreshness,
	}, log, persisterOrNil(store))

	pruneCtx, cancelPrune := context.WithCancel(context.Background())
	go cache.RunPruner(pruneCtx, time.Minute)

	providers := buildProviders(log)
	fetch := fetcher.New(providers, 5, 10, cfg.FetchTimeout)

	engine := scoring.New(scoring.Config{
		ThresholdPreGrad:         cfg.ThresholdPreGrad,
		ThresholdPostGrad:        cfg.ThresholdPostGrad,
		MidGate:                  cfg.MidGate,
		LiquidityFloorUSD:        cfg.LiquidityFloorUSD,
		MarketCapCeiling:         cfg.MarketCapCeiling,
		EliteKOLWeight:           cfg.PhaseWeights.EliteKOL,
		TopKOLWeight:             cfg.PhaseWeights.TopKOL,
		StandardKOLWeight:        cfg.PhaseWeights.StandardKOL,
		MultiKOLBonus:            cfg.PhaseWeights.MultiKOLBonus,
		MultiKOLPerExtra:         cfg.PhaseWeights.MultiKOLPerExtra,
		BundlePenaltyPerUnit:     cfg.PhaseWeights.BundlePenaltyUnit,
		SocialConvergenceEnabled: cfg.SocialConvergenceEnabled,
		HolderDistributionEnabled: cfg.HolderDistributionEnabled,
	})

	var tierOf scoring.WalletTierLookup = func(string) model.KOLTier { return model.TierUnknown }
	if store != nil {
		tierOf = store.WalletTier
	}

	publisher := buildPublisher(log, cfg)

	trk := tracker.New(
		tracker.Config{
			PollInterval:          cfg.PollInterval,
			LowScoreStreakCap:     cfg.LowScoreStreak,
			CoolingWindow:         cfg.CoolingWindow,
			EmitCooldown:          cfg.EmitCooldown,
			EvidenceWindow:        cfg.CorrelationWindow,
			PollMidGateFloor:      cfg.PollMidGateFloor,
			MaxConcurrentRescores: 16,
			MailboxSize:           32,
		},
		fetch, cache, engine, tierOf, publisher, persisterSignalsOrNil(store), cfg.IsIgnored, metrics, log,
	)

	handlers := ingress.New(
		func(r *http.Request, event interface{}) error { return trk.Dispatch(r.Context(), event) },
		func(token string) (int, int) {
			ev := cache.GetEvidence(token, cfg.ChatMentionTTL)
			return ev.MentionCount, ev.DistinctGroups
		},
		statusAdapter{trk: trk, store: store},
		log,
	)

	r := router.NewRouter(cfg, log, handlers, metrics)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("sentinel listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	cancelPrune()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}

	if err := trk.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("tracker drain failed")
	}

	if store != nil {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("storage close failed")
		}
	}

	log.Info().Msg("sentinel stopped gracefully")
}

// buildProviders constructs the Token Metadata Fetcher's upstream
// providers from environment-configured base URLs. Absent env vars mean
// no providers are registered, and the fetcher degrades to a synthetic
// stale snapshot for every token — acceptable for local development.
func buildProviders(log zerolog.Logger) []fetcher.Provider {
	var providers []fetcher.Provider
	if url := os.Getenv("DEX_METRICS_PROVIDER_URL"); url != "" {
		providers = append(providers, fetcher.NewHTTPProvider("dex_metrics", url, 5*time.Second))
		log.Info().Str("provider", "dex_metrics").Str("url", url).Msg("registered token metadata provider")
	}
	if url := os.Getenv("CHAIN_INDEXER_PROVIDER_URL"); url != "" {
		providers = append(providers, fetcher.NewHTTPProvider("chain_indexer", url, 5*time.Second))
		log.Info().Str("provider", "chain_indexer").Str("url", url).Msg("registered token metadata provider")
	}
	return providers
}

func buildPublisher(log zerolog.Logger, cfg *config.Config) notify.Publisher {
	url := os.Getenv("NOTIFY_WEBHOOK_URL")
	if url == "" {
		log.Warn().Msg("NOTIFY_WEBHOOK_URL not set — emitted signals will fail to publish")
		url = "http://127.0.0.1:0/unconfigured"
	}
	return notify.NewHTTPPublisher(url, cfg.PublishTimeout, cfg.PublishRetries, log)
}

func persisterOrNil(s *storage.Store) evidence.Persister {
	if s == nil {
		return nil
	}
	return s
}

func persisterSignalsOrNil(s *storage.Store) tracker.SignalPersister {
	if s == nil {
		return nil
	}
	return s
}

// statusAdapter merges the tracker's live aggregate with the persisted
// emitted-today count from storage for GET /status.
type statusAdapter struct {
	trk   *tracker.Tracker
	store *storage.Store
}

func (s statusAdapter) Status() ingress.StatusView {
	snap := s.trk.Status()
	view := ingress.StatusView{
		Active:      snap.Active,
		Cooling:     snap.Cooling,
		CacheSizes:  snap.CacheSizes,
		MedianScore: snap.MedianScore,
	}
	if s.store != nil {
		if n, err := s.store.EmittedToday(context.Background(), time.Now()); err == nil {
			view.EmittedToday = int(n)
		}
		// A just-restarted process has no in-memory score window yet; fall
		// back to the persisted trailing history rather than reporting 0.
		if view.MedianScore == 0 {
			if scores, err := s.store.RecentScores(context.Background(), 50); err == nil && len(scores) > 0 {
				view.MedianScore = medianOf(scores)
			}
		}
	}
	return view
}

func medianOf(scores []int) float64 {
	sorted := make([]int, len(scores))
	copy(sorted, scores)
	sort.Ints(sorted)
	n := len(sorted)
	mid := n / 2
	if n%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
