package storage

import "time"

// SignalRecord is the database model for an emitted (or attempted) signal.
type SignalRecord struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"`
	Token               string    `gorm:"type:varchar(64);index;not null"`
	Symbol              string    `gorm:"type:varchar(32)"`
	Score               int       `gorm:"not null"`
	BreakdownJSON        string    `gorm:"type:text;comment:json-encoded phase breakdown"`
	TriggerSource       string    `gorm:"type:varchar(32);not null"`
	EmittedAt           time.Time `gorm:"index;not null"`
	EmitFailed          bool      `gorm:"not null;default:false"`
	OutcomePeakMultiple float64   `gorm:"default:0"`
	OutcomeCategory     string    `gorm:"type:varchar(32)"`
	OutcomeRugFlag      bool      `gorm:"default:false"`
	OutcomeUpdatedAt    *time.Time
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

func (SignalRecord) TableName() string { return "signals" }

// ChatMentionRecord is the durable backing for the chat-mention evidence
// store (§4.B store 2), persisted best-effort alongside the in-memory path.
type ChatMentionRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Token     string    `gorm:"type:varchar(64);index;not null"`
	GroupID   string    `gorm:"type:varchar(128);index;not null"`
	Text      string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ChatMentionRecord) TableName() string { return "chat_mentions" }

// GroupCorrelationRecord is the durable backing for cross-group call
// correlation edges (§4.B store 2 / §5), unique per (group_a, group_b,
// token, date) to match the in-memory dedup key.
type GroupCorrelationRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	GroupA          string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_correlation_key"`
	GroupB          string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_correlation_key"`
	Token           string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_correlation_key"`
	Date            string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_correlation_key"`
	TimeDiffSeconds int64     `gorm:"not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (GroupCorrelationRecord) TableName() string { return "group_correlations" }

// KOLWalletRecord is the durable registry of known KOL wallets and their
// tier/performance stats (§3), refreshed asynchronously by an operator or
// an offline job — the tracker only reads from it.
type KOLWalletRecord struct {
	Address     string    `gorm:"type:varchar(64);primaryKey"`
	Name        string    `gorm:"type:varchar(128)"`
	Tier        string    `gorm:"type:varchar(16);not null;index"`
	WinRate     float64   `gorm:"default:0"`
	PnLEstimate float64   `gorm:"default:0"`
	RefreshedAt time.Time `gorm:"not null"`
}

func (KOLWalletRecord) TableName() string { return "kol_wallets" }
