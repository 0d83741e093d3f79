package tracker

import "time"

// Config carries the tracker's cadence and lifecycle tunables (§6/§9).
type Config struct {
	PollInterval      time.Duration // default 30s
	LowScoreStreakCap int           // default 6
	CoolingWindow     time.Duration // default 30m
	EmitCooldown      time.Duration // default 24h
	EvidenceWindow    time.Duration // trailing window passed to GetEvidence

	PollMidGateFloor int // mid_total below this disables scheduled polling (default 50)

	MaxConcurrentRescores int64 // semaphore weight bounding in-flight fetch/score cycles

	MailboxSize int // per-token actor mailbox buffer
}

// DefaultConfig returns the tracker's baseline cadence and lifecycle
// defaults (§6).
func DefaultConfig() Config {
	return Config{
		PollInterval:          30 * time.Second,
		LowScoreStreakCap:     6,
		CoolingWindow:         30 * time.Minute,
		EmitCooldown:          24 * time.Hour,
		EvidenceWindow:        30 * time.Minute,
		PollMidGateFloor:      50,
		MaxConcurrentRescores: 16,
		MailboxSize:           32,
	}
}
