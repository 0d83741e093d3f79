// Package config loads the sentinel process configuration from environment
// variables (and an optional .env file): one Load() call at startup,
// everything immutable afterward. Hot reload is out of scope — restart to
// pick up a changed option.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PhaseWeights holds the per-phase point weights from §4.C. Load fills
// every field from its environment variable, or from the documented default
// when the variable is unset; the scoring engine uses the values as given.
type PhaseWeights struct {
	EliteKOL          int
	TopKOL            int
	StandardKOL       int
	MultiKOLBonus     int
	MultiKOLPerExtra  int
	BundlePenaltyUnit int
}

// Config holds all sentinel configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration
	LogLevel        string

	// Storage
	StorageDSN string
	RedisURL   string

	// Authentication / HTTP
	APIKeyHeader  string
	WebhookSecret string

	// Rate limiting (inbound HTTP)
	RateLimitEnabled bool
	RateLimitRPM     int
	RateLimitBurst   int

	// Timeouts
	DefaultTimeout time.Duration
	FetchTimeout   time.Duration
	MaxBodyBytes   int64

	// Scoring thresholds (§4.C / §6)
	ThresholdPreGrad  int
	ThresholdPostGrad int
	MidGate           int
	LiquidityFloorUSD float64
	MarketCapCeiling  float64
	PhaseWeights      PhaseWeights

	// Feature flags
	SocialConvergenceEnabled   bool
	HolderDistributionEnabled bool

	// Tracker cadence (§4.D)
	PollInterval      time.Duration
	LowScoreStreak    int
	CoolingWindow     time.Duration
	EmitCooldown      time.Duration
	CorrelationWindow time.Duration
	PollMidGateFloor  int // mid_total below this disables scheduled polling (default 50) — distinct from the scoring MidGate (default 60)

	// Evidence cache TTLs (§3 / §4.B)
	ChatMentionTTL   time.Duration
	KOLActivityTTL   time.Duration
	SnapshotTTL      time.Duration
	SnapshotFreshness time.Duration
	KOLActivityCap   int
	UniqueBuyerCap   int
	MentionDebounce  time.Duration
	KOLDedupWindow   time.Duration

	// Ignore list — identifiers that are never tracked (stablecoins, wrapped
	// native tokens).
	IgnoreTokens map[string]struct{}

	// Outbound notification publisher
	PublishRetries   int
	PublishTimeout   time.Duration
}

// Load reads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:            getEnv("SENTINEL_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: getEnvDuration("SENTINEL_GRACEFUL_TIMEOUT_SEC", 15*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		StorageDSN: getEnv("STORAGE_DSN", ""),
		RedisURL:   getEnv("REDIS_URL", "redis://redis:6379"),

		APIKeyHeader:  getEnv("API_KEY_HEADER", "Authorization"),
		WebhookSecret: getEnv("WEBHOOK_SHARED_SECRET", ""),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", 120),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 20),

		DefaultTimeout: getEnvDuration("SENTINEL_DEFAULT_TIMEOUT_SEC", 30*time.Second),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT_SEC", 5*time.Second),
		MaxBodyBytes:   int64(getEnvInt("SENTINEL_MAX_BODY_BYTES", 1*1024*1024)),

		ThresholdPreGrad:  getEnvInt("THRESHOLD_PRE_GRAD", 45),
		ThresholdPostGrad: getEnvInt("THRESHOLD_POST_GRAD", 50),
		MidGate:           getEnvInt("MID_GATE", 60),
		LiquidityFloorUSD: getEnvFloat("LIQUIDITY_FLOOR_USD", 8000),
		MarketCapCeiling:  getEnvFloat("MCAP_CEILING_USD", 0), // 0 = no ceiling

		PhaseWeights: PhaseWeights{
			EliteKOL:          getEnvInt("WEIGHT_ELITE_KOL", 15),
			TopKOL:            getEnvInt("WEIGHT_TOP_KOL", 10),
			StandardKOL:       getEnvInt("WEIGHT_STANDARD_KOL", 5),
			MultiKOLBonus:     getEnvInt("WEIGHT_MULTI_KOL_BONUS", 15),
			MultiKOLPerExtra:  getEnvInt("WEIGHT_MULTI_KOL_PER_EXTRA", 5),
			BundlePenaltyUnit: getEnvInt("WEIGHT_BUNDLE_PENALTY_UNIT", 5),
		},

		SocialConvergenceEnabled:   getEnvBool("FEATURE_SOCIAL_CONVERGENCE", true),
		HolderDistributionEnabled: getEnvBool("FEATURE_HOLDER_DISTRIBUTION", true),

		PollInterval:      getEnvDuration("POLL_INTERVAL_SEC", 30*time.Second),
		LowScoreStreak:    getEnvInt("LOW_SCORE_STREAK_LIMIT", 6),
		CoolingWindow:     getEnvDuration("COOLING_WINDOW_SEC", 30*time.Minute),
		EmitCooldown:      getEnvDuration("EMIT_COOLDOWN_SEC", 24*time.Hour),
		CorrelationWindow: getEnvDuration("CORRELATION_WINDOW_SEC", 30*time.Minute),
		PollMidGateFloor:  getEnvInt("POLL_MID_GATE_FLOOR", 50),

		ChatMentionTTL:    getEnvDuration("TTL_CHAT_MENTION_SEC", 4*time.Hour),
		KOLActivityTTL:    getEnvDuration("TTL_KOL_ACTIVITY_SEC", 30*24*time.Hour),
		SnapshotTTL:       getEnvDuration("TTL_SNAPSHOT_SEC", 5*time.Minute),
		SnapshotFreshness: getEnvDuration("SNAPSHOT_FRESHNESS_BUDGET_SEC", 60*time.Second),
		KOLActivityCap:    getEnvInt("KOL_ACTIVITY_CAP", 200),
		UniqueBuyerCap:    getEnvInt("UNIQUE_BUYER_CAP", 500),
		MentionDebounce:   getEnvDuration("MENTION_DEBOUNCE_SEC", 30*time.Second),
		KOLDedupWindow:    getEnvDuration("KOL_DEDUP_WINDOW_SEC", 2*time.Second),

		IgnoreTokens: parseIgnoreList(getEnv("IGNORE_TOKENS", "")),

		PublishRetries: getEnvInt("PUBLISH_RETRIES", 3),
		PublishTimeout: getEnvDuration("PUBLISH_TIMEOUT_SEC", 5*time.Second),
	}
	return cfg
}

// Validate checks the loaded configuration for conditions that must abort
// startup (§7: configuration validation failure is fatal).
func (c *Config) Validate() error {
	if c.ThresholdPreGrad <= 0 || c.ThresholdPostGrad <= 0 {
		return fmt.Errorf("config: conviction thresholds must be positive")
	}
	if c.MidGate < 0 {
		return fmt.Errorf("config: MID_GATE must be non-negative")
	}
	if c.LiquidityFloorUSD < 0 {
		return fmt.Errorf("config: LIQUIDITY_FLOOR_USD must be non-negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL_SEC must be positive")
	}
	if c.LowScoreStreak <= 0 {
		return fmt.Errorf("config: LOW_SCORE_STREAK_LIMIT must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsIgnored reports whether a token identifier is on the never-track list.
func (c *Config) IsIgnored(token string) bool {
	_, ok := c.IgnoreTokens[token]
	return ok
}

func parseIgnoreList(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out[tok] = struct{}{}
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}
