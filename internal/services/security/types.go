package security

import (
	"time"
)

// Risk levels, ordered. A check's level only ever ratchets upward as
// heuristics accumulate.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

var riskOrder = map[string]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// CheckResult is the outcome of the heuristic battery. Alerts carry one
// line per triggered heuristic whether or not the request was rejected.
type CheckResult struct {
	Allowed   bool     `json:"allowed"`
	RiskLevel string   `json:"risk_level"`
	Alerts    []string `json:"alerts"`
}

func (r *CheckResult) raise(level, alert string) {
	if riskOrder[level] > riskOrder[r.RiskLevel] {
		r.RiskLevel = level
	}
	r.Alerts = append(r.Alerts, alert)
}

// SecurityMetrics is a point-in-time aggregate for dashboards. It is not
// authoritative ledger state.
type SecurityMetrics struct {
	ChecksPerformed     int64      `json:"checks_performed"`
	Rejections          int64      `json:"rejections"`
	AlertsEmitted       int64      `json:"alerts_emitted"`
	AutoBlocks          int64      `json:"auto_blocks"`
	TrackedFailureUsers int        `json:"tracked_failure_users"`
	StuckTransactions   int64      `json:"stuck_transactions"`
	LastSweepAt         *time.Time `json:"last_sweep_at,omitempty"`
}

// Config holds monitor thresholds. Zero values are filled with defaults by
// NewMonitor. Amounts are minor units.
type Config struct {
	// Rapid-repeat detection: RapidBaseThreshold attempts inside
	// RapidWindow raises risk; RapidAttackMultiple times the base forces
	// rejection.
	RapidWindow         time.Duration
	RapidBaseThreshold  int64
	RapidAttackMultiple int64

	// HighValueThreshold raises risk to MEDIUM; informational only.
	HighValueThreshold int64

	// DailyCap is the monitor's own hard cap on cumulative daily
	// withdrawals, independent of the rate limiter's. It is derived from
	// the authoritative transaction store, so it holds even when the
	// limiter's counter store is unavailable.
	DailyCap int64

	// Failed-attempt tracking and the escalating auto-block.
	FailedThreshold int
	FailedWindow    time.Duration
	BlockBase       time.Duration
	BlockMax        time.Duration

	// Historical deviation: amount / trailing average above this ratio
	// raises risk.
	DeviationRatio float64
	TrailingWindow time.Duration

	// Unusual hours, local time, as [NightStart, NightEnd). A start after
	// the end wraps past midnight (e.g. 22 to 5). A withdrawal in the
	// range adds a LOW-risk note.
	NightStart int
	NightEnd   int

	// Stuck-transaction sweep.
	SweepInterval time.Duration
	SweepLockTTL  time.Duration
	SweepBatch    int
}

func (c *Config) applyDefaults() {
	if c.RapidWindow <= 0 {
		c.RapidWindow = time.Minute
	}
	if c.RapidBaseThreshold <= 0 {
		c.RapidBaseThreshold = 5
	}
	if c.RapidAttackMultiple <= 0 {
		c.RapidAttackMultiple = 3
	}
	if c.HighValueThreshold <= 0 {
		c.HighValueThreshold = 100_000
	}
	if c.DailyCap <= 0 {
		c.DailyCap = 1_000_000
	}
	if c.FailedThreshold <= 0 {
		c.FailedThreshold = 3
	}
	if c.FailedWindow <= 0 {
		c.FailedWindow = 15 * time.Minute
	}
	if c.BlockBase <= 0 {
		c.BlockBase = 15 * time.Minute
	}
	if c.BlockMax <= 0 {
		c.BlockMax = 24 * time.Hour
	}
	if c.DeviationRatio <= 0 {
		c.DeviationRatio = 5.0
	}
	if c.TrailingWindow <= 0 {
		c.TrailingWindow = 30 * 24 * time.Hour
	}
	// Both zero means unset; a zero NightStart with a set NightEnd is a
	// valid midnight start.
	if c.NightStart == 0 && c.NightEnd == 0 {
		c.NightStart = 1
		c.NightEnd = 5
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.SweepLockTTL <= 0 {
		c.SweepLockTTL = 4 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
}
