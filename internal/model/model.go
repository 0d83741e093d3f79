// Package model holds the domain types shared by the fetcher, evidence
// cache, scoring engine, tracker, and ingress adapters: token identifiers,
// KOL wallets, snapshots, evidence records, and the signal record that
// gets persisted once the engine emits.
package model

import "time"

// KOLTier ranks a KOL wallet's scoring weight.
type KOLTier string

const (
	TierElite    KOLTier = "ELITE"
	TierTopKOL   KOLTier = "TOP_KOL"
	TierStandard KOLTier = "STANDARD"
	TierUnknown  KOLTier = "UNKNOWN"
)

// TxKind distinguishes a KOL activity record's direction.
type TxKind string

const (
	TxBuy  TxKind = "BUY"
	TxSell TxKind = "SELL"
)

// TriggerSource records which ingress adapter first created a TokenState.
type TriggerSource string

const (
	TriggerKOLBuy     TriggerSource = "KOL_BUY"
	TriggerChatCall   TriggerSource = "CHAT_CALL"
	TriggerGraduation TriggerSource = "GRADUATION"
)

// Status is a TokenState's position in the lifecycle state machine (§4.D).
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusCooling Status = "COOLING"
	StatusEmitted Status = "EMITTED"
	StatusDropped Status = "DROPPED"
)

// Decision is the Conviction Engine's verdict for a scoring pass.
type Decision string

const (
	DecisionEmit Decision = "EMIT"
	DecisionHold Decision = "HOLD"
	DecisionDrop Decision = "DROP"
)

// KOLWallet is an immutable-by-convention record of a tracked wallet;
// Tier and stats may be refreshed asynchronously by an out-of-process job,
// but scoring always reads whatever value is current.
type KOLWallet struct {
	Address       string
	Name          string
	Tier          KOLTier
	WinRate       float64
	PnLEstimate   float64
	RefreshedAt   time.Time
}

// SocialLinks mirrors the snapshot's social-presence flags (§3).
type SocialLinks struct {
	Website  bool
	Twitter  bool
	Telegram bool
	Discord  bool
}

// RugRiskFlags mirrors the snapshot's heuristic rug-risk signals.
type RugRiskFlags struct {
	LPRemoved bool
	Honeypot  bool
	DevSold   bool
	DevSoldPct float64
	RugScore  float64 // 0..10 external heuristic score
}

// BundleInfo describes sniper/bundle buy detection for a token.
type BundleInfo struct {
	Detected bool
	Size     int // number of related addresses that bought in the same block
}

// HolderDistribution is only populated when a Snapshot was fetched with
// include_holders=true (§4.A); expensive, so fetched selectively.
type HolderDistribution struct {
	Populated  bool
	Top1Pct    float64
	Top5Pct    float64
	Top10Pct   float64
}

// Snapshot is the Token Metadata Fetcher's output and the Conviction
// Engine's primary input (§3, §4.A).
type Snapshot struct {
	Token  string
	Symbol string

	PriceUSD     float64
	MarketCapUSD float64

	LiquidityUSD     float64
	BaseReserve      float64
	QuoteReserve     float64

	Volume1h  float64
	Volume6h  float64
	Volume24h float64

	Buys1h  int
	Sells1h int
	Buys6h  int
	Sells6h int
	Buys24h int
	Sells24h int

	UniqueBuyerEstimate int

	BondingCurvePct float64 // 0..100; only meaningful pre-graduation
	Velocity        float64 // bonding-curve percentage points per minute, pre-graduation only
	Graduated       bool

	HolderCount int
	Holders     HolderDistribution

	Social SocialLinks
	Boosted bool // boosted-promotion flag

	RugRisk RugRiskFlags
	Bundle  BundleInfo

	PriceChange1hPct float64 // momentum input

	FetchedAt time.Time
	Quality   int  // 0..100
	Stale     bool // set when every provider failed
}

// KOLActivityRecord is one observed on-chain transaction from a tracked
// wallet (§3). Multiple records per (token, wallet) are allowed; only the
// earliest BUY contributes to scoring.
type KOLActivityRecord struct {
	Token          string
	Wallet         string
	Timestamp      time.Time
	Kind           TxKind
	BondingCurvePct float64
	USDNotional    float64
}

// ChatGroupMention is a single observed mention of a token in a chat group.
type ChatGroupMention struct {
	Token     string
	Group     string
	Timestamp time.Time
	Text      string
}

// GroupCorrelationEdge records that two distinct groups mentioned the same
// token within the correlation window (§3); deduplicated per
// (GroupA, GroupB, Token, Date).
type GroupCorrelationEdge struct {
	GroupA          string
	GroupB          string
	Token           string
	TimeDiffSeconds int64
	Date            string // YYYY-MM-DD, UTC
}

// EvidenceView is the aggregated read the Conviction Engine scores against
// (§4.B GetEvidence).
type EvidenceView struct {
	KOLCount         int
	DistinctKOLs     []string
	MentionCount     int
	DistinctGroups   int
	UniqueBuyers     int
	EarliestKOLTS    time.Time
	EarliestMentionTS time.Time
	RecentMentionCount10m int // mentions in the trailing 10 minutes, for phase 10
	RecentMentionCount5m  int
	RecentMentionCount30m int
	DistinctGroups10m     int
	DistinctGroups30m     int
	LatestMentionTS  time.Time
}

// ScoreResult is the Conviction Engine's output (§4.C).
type ScoreResult struct {
	Total     int
	Breakdown map[string]int
	Decision  Decision
	Reasons   []string
}

// TokenState is the per-token record owned by the Active Token Tracker
// (§3, §4.D).
type TokenState struct {
	Token  string
	Status Status

	TriggerSource TriggerSource

	FirstSeen    time.Time
	LastActivity time.Time

	KOLWallets    map[string]struct{}
	ChatGroups    map[string]struct{}
	MentionCount  int
	UniqueBuyers  map[string]struct{}

	LastSnapshot *Snapshot
	LastScore    *ScoreResult
	PriorTop10Pct float64 // for phase 8's decreasing-concentration bonus

	PollCycles        int
	LowScoreStreak    int
	NextPollAt        time.Time
	BackoffAttempt    int

	Emitted      bool
	EmittedAt    time.Time
	CoolingSince time.Time

	Graduated bool
}

// SignalRecord is the persisted record of an emitted signal (§3, §6).
type SignalRecord struct {
	ID             int64
	Token          string
	Symbol         string
	Score          int
	Breakdown      map[string]int
	TriggerSource  TriggerSource
	EmittedAt      time.Time
	EmitFailed     bool

	OutcomePeakMultiple float64
	OutcomeCategory     string
	OutcomeRugFlag      bool
	OutcomeUpdatedAt    time.Time
}

// KOLBuyEvent is the uniform internal event produced by the KOL-buy
// webhook adapter (§4.E).
type KOLBuyEvent struct {
	Token       string
	Wallet      string
	Kind        TxKind
	Timestamp   time.Time
	USDNotional float64
}

// ChatMentionEvent is the uniform internal event produced by the
// chat-mention webhook adapter.
type ChatMentionEvent struct {
	Token     string
	Group     string
	Text      string
	Timestamp time.Time
}

// GraduationEvent is the uniform internal event produced by the
// graduation webhook adapter.
type GraduationEvent struct {
	Token     string
	Timestamp time.Time
}

// PollTick is the uniform internal event generated by the tracker's own
// scheduler to trigger a scheduled re-score (§4.D).
type PollTick struct {
	Token     string
	Timestamp time.Time
}

// NewTokenState builds a fresh ACTIVE state for a newly observed token.
func NewTokenState(token string, trigger TriggerSource, now time.Time) *TokenState {
	return &TokenState{
		Token:         token,
		Status:        StatusActive,
		TriggerSource: trigger,
		FirstSeen:     now,
		LastActivity:  now,
		KOLWallets:    make(map[string]struct{}),
		ChatGroups:    make(map[string]struct{}),
		UniqueBuyers:  make(map[string]struct{}),
	}
}
