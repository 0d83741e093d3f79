// Package storage implements the relational persistence layer: emitted
// signals, durable chat-mention/correlation backing for the evidence
// cache, and the KOL wallet registry, via GORM + MySQL.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solwatch/sentinel/internal/model"
)

// Store is the GORM-backed relational store for signals, evidence
// persistence, and the KOL wallet registry.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL using dsn and migrates the schema. dsn format:
// "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to storage backend: %w", err)
	}

	if err := db.AutoMigrate(
		&SignalRecord{},
		&ChatMentionRecord{},
		&GroupCorrelationRecord{},
		&KOLWalletRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}

// SaveChatMention implements evidence.Persister.
func (s *Store) SaveChatMention(ctx context.Context, m model.ChatGroupMention) error {
	record := ChatMentionRecord{
		Token:     m.Token,
		GroupID:   m.Group,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// SaveGroupCorrelation implements evidence.Persister. Duplicate-key errors
// are swallowed — the in-memory correlationIndex already performed the
// dedup, so a duplicate here only means a retried call after a previous
// success.
func (s *Store) SaveGroupCorrelation(ctx context.Context, e model.GroupCorrelationEdge) error {
	record := GroupCorrelationRecord{
		GroupA:          e.GroupA,
		GroupB:          e.GroupB,
		Token:           e.Token,
		Date:            e.Date,
		TimeDiffSeconds: e.TimeDiffSeconds,
	}
	err := s.db.WithContext(ctx).Create(&record).Error
	if err != nil && isDuplicateKeyErr(err) {
		return nil
	}
	return err
}

// SaveSignal persists an emitted (or attempted) signal and returns its ID.
func (s *Store) SaveSignal(ctx context.Context, sig model.SignalRecord) (uint, error) {
	breakdown, err := json.Marshal(sig.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("marshal breakdown: %w", err)
	}
	record := SignalRecord{
		Token:          sig.Token,
		Symbol:         sig.Symbol,
		Score:          sig.Score,
		BreakdownJSON:  string(breakdown),
		TriggerSource:  string(sig.TriggerSource),
		EmittedAt:      sig.EmittedAt,
		EmitFailed:     sig.EmitFailed,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, fmt.Errorf("save signal: %w", err)
	}
	return record.ID, nil
}

// MarkEmitFailed flags a previously saved signal as having failed
// delivery, without altering the token's EMITTED state (§6).
func (s *Store) MarkEmitFailed(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&SignalRecord{}).Where("id = ?", id).
		Update("emit_failed", true).Error
}

// RecentScores returns the score of the last n signals, most recent
// first — used by /status to report a trailing median.
func (s *Store) RecentScores(ctx context.Context, n int) ([]int, error) {
	var records []SignalRecord
	if err := s.db.WithContext(ctx).
		Order("emitted_at DESC").
		Limit(n).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query recent scores: %w", err)
	}
	scores := make([]int, 0, len(records))
	for _, r := range records {
		scores = append(scores, r.Score)
	}
	return scores, nil
}

// EmittedToday counts signals emitted since the start of the given day
// (UTC) — used by /status.
func (s *Store) EmittedToday(ctx context.Context, day time.Time) (int64, error) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	var count int64
	err := s.db.WithContext(ctx).Model(&SignalRecord{}).
		Where("emitted_at >= ?", start).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count emitted today: %w", err)
	}
	return count, nil
}

// WalletTier resolves a KOL wallet address's tier, returning TierUnknown
// if the wallet is not registered.
func (s *Store) WalletTier(address string) model.KOLTier {
	var rec KOLWalletRecord
	if err := s.db.Where("address = ?", address).First(&rec).Error; err != nil {
		return model.TierUnknown
	}
	switch rec.Tier {
	case string(model.TierElite):
		return model.TierElite
	case string(model.TierTopKOL):
		return model.TierTopKOL
	case string(model.TierStandard):
		return model.TierStandard
	default:
		return model.TierUnknown
	}
}

// UpsertKOLWallet inserts or refreshes a KOL wallet's registry entry.
func (s *Store) UpsertKOLWallet(ctx context.Context, w model.KOLWallet) error {
	record := KOLWalletRecord{
		Address:     w.Address,
		Name:        w.Name,
		Tier:        string(w.Tier),
		WinRate:     w.WinRate,
		PnLEstimate: w.PnLEstimate,
		RefreshedAt: w.RefreshedAt,
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

// ListKOLWallets returns every registered KOL wallet.
func (s *Store) ListKOLWallets(ctx context.Context) ([]model.KOLWallet, error) {
	var records []KOLWalletRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list kol wallets: %w", err)
	}
	out := make([]model.KOLWallet, 0, len(records))
	for _, r := range records {
		out = append(out, model.KOLWallet{
			Address:     r.Address,
			Name:        r.Name,
			Tier:        model.KOLTier(r.Tier),
			WinRate:     r.WinRate,
			PnLEstimate: r.PnLEstimate,
			RefreshedAt: r.RefreshedAt,
		})
	}
	return out, nil
}

func isDuplicateKeyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint")
}
