package security

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"payguard/internal/models"
	"payguard/internal/services/lock"
	"payguard/internal/services/ratelimit"

	"go.uber.org/zap"
)

// Monitor runs the anomaly heuristics and the stuck-transaction sweep.
// It depends on the rate limiter's block and reset operations; the limiter
// never depends back on the monitor.
type Monitor interface {
	// CheckWithdrawal runs the full heuristic battery for one request.
	CheckWithdrawal(ctx context.Context, userID uint, amount int64, walletID uint) *CheckResult

	// RecordFailedWithdrawal tracks a failure and may escalate into an
	// automatic temporary block.
	RecordFailedWithdrawal(ctx context.Context, userID uint, reason string)

	// RecordSuccessfulWithdrawal clears the failure counter and resets the
	// burst window so a legitimate resumption is not penalized.
	RecordSuccessfulWithdrawal(ctx context.Context, userID uint)

	// RunSweep scans for withdrawals stuck in PROCESSING past their
	// timeout and emits alerts. Lock-guarded: one instance fleet-wide.
	RunSweep(ctx context.Context) error

	// Start runs the sweep on its configured interval until ctx is done.
	Start(ctx context.Context)

	// Metrics returns point-in-time aggregates for dashboards.
	Metrics() SecurityMetrics
}

// Repository is the slice of the transaction store the monitor reads.
type Repository interface {
	CountWithdrawalsSince(ctx context.Context, userID uint, since time.Time) (int64, error)
	SumWithdrawalsSince(ctx context.Context, userID uint, statuses []string, since time.Time) (int64, error)
	AverageWithdrawalSince(ctx context.Context, userID uint, since time.Time) (int64, error)
	FindStuckProcessing(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
}

type failureState struct {
	count       int
	firstFailed time.Time
}

type monitor struct {
	repo    Repository
	locks   lock.Manager
	limiter ratelimit.Service
	emitter Emitter
	config  Config
	logger  *zap.Logger

	mu       sync.Mutex
	failures map[uint]*failureState

	checks     atomic.Int64
	rejections atomic.Int64
	alerts     atomic.Int64
	autoBlocks atomic.Int64
	stuckSeen  atomic.Int64

	sweepMu     sync.Mutex
	lastSweepAt *time.Time
}

// NewMonitor creates the security monitor.
func NewMonitor(repo Repository, locks lock.Manager, limiter ratelimit.Service, emitter Emitter, config Config, logger *zap.Logger) Monitor {
	if repo == nil {
		panic("repo is required")
	}
	if locks == nil {
		panic("lock manager is required")
	}
	if limiter == nil {
		panic("rate limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = &LogEmitter{Logger: logger}
	}
	config.applyDefaults()

	return &monitor{
		repo:     repo,
		locks:    locks,
		limiter:  limiter,
		emitter:  emitter,
		config:   config,
		logger:   logger,
		failures: make(map[uint]*failureState),
	}
}

func (m *monitor) CheckWithdrawal(ctx context.Context, userID uint, amount int64, walletID uint) *CheckResult {
	m.checks.Add(1)
	now := time.Now()
	result := &CheckResult{Allowed: true, RiskLevel: RiskLow}

	m.checkRapidRepeat(ctx, userID, now, result)
	if result.Allowed {
		m.checkConcurrentAttempt(ctx, userID, walletID, result)
	}
	if result.Allowed {
		m.checkDailyCap(ctx, userID, amount, now, result)
	}
	if result.Allowed {
		if amount >= m.config.HighValueThreshold {
			result.raise(RiskMedium, fmt.Sprintf("high-value withdrawal: %d", amount))
		}
		m.checkFailedAttempts(userID, now, result)
		m.checkHistoricalDeviation(ctx, userID, amount, now, result)
		if nightHour(now.Hour(), m.config.NightStart, m.config.NightEnd) {
			result.raise(RiskLow, "withdrawal at unusual hour")
		}
	}

	if !result.Allowed {
		m.rejections.Add(1)
	}
	if len(result.Alerts) > 0 {
		m.alerts.Add(int64(len(result.Alerts)))
	}
	return result
}

// checkRapidRepeat counts recent attempts. The hard multiple of the base
// threshold rejects outright; the base threshold alone is advisory and only
// raises risk, since the limiter's burst window already rejects
// structurally at comparable volume.
func (m *monitor) checkRapidRepeat(ctx context.Context, userID uint, now time.Time, result *CheckResult) {
	count, err := m.repo.CountWithdrawalsSince(ctx, userID, now.Add(-m.config.RapidWindow))
	if err != nil {
		// Non-core check: fail open, loudly.
		m.logger.Warn("rapid-repeat check unavailable, skipping",
			zap.Uint("user_id", userID), zap.Error(err))
		return
	}

	attackThreshold := m.config.RapidBaseThreshold * m.config.RapidAttackMultiple
	if count >= attackThreshold {
		result.Allowed = false
		result.raise(RiskCritical, fmt.Sprintf("rapid withdrawal attempts: %d in %s", count, m.config.RapidWindow))
		m.emitter.Emit(ctx, Event{
			Name: EventSecurityAlert,
			Payload: map[string]interface{}{
				"user_id":   userID,
				"heuristic": "rapid_repeat",
				"attempts":  count,
				"window":    m.config.RapidWindow.String(),
			},
		})
		return
	}
	if count >= m.config.RapidBaseThreshold {
		result.raise(RiskHigh, fmt.Sprintf("elevated withdrawal frequency: %d in %s", count, m.config.RapidWindow))
	}
}

// checkConcurrentAttempt probes the same lock key the admission service
// uses, with zero wait. A held lock means another withdrawal for this
// wallet is mid-flight; the probe fails closed.
func (m *monitor) checkConcurrentAttempt(ctx context.Context, userID, walletID uint, result *CheckResult) {
	key := lock.WithdrawalKey(userID, walletID)
	token, err := m.locks.Acquire(ctx, key, 2*time.Second)
	if err != nil {
		result.Allowed = false
		result.raise(RiskMedium, "concurrent withdrawal attempt in progress")
		return
	}
	m.locks.Release(ctx, key, token)
}

// checkDailyCap enforces the monitor's own daily cumulative limit from the
// authoritative store. Deliberately redundant with the rate limiter's daily
// window: this one still holds when the limiter's counter store is down.
func (m *monitor) checkDailyCap(ctx context.Context, userID uint, amount int64, now time.Time, result *CheckResult) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	total, err := m.repo.SumWithdrawalsSince(ctx, userID,
		[]string{models.StatusComplete, models.StatusProcessing}, startOfDay)
	if err != nil {
		m.logger.Warn("daily cap check unavailable, skipping",
			zap.Uint("user_id", userID), zap.Error(err))
		return
	}

	if total+amount > m.config.DailyCap {
		result.Allowed = false
		result.raise(RiskHigh, fmt.Sprintf("daily withdrawal cap exceeded: %d + %d > %d", total, amount, m.config.DailyCap))
	}
}

func (m *monitor) checkFailedAttempts(userID uint, now time.Time, result *CheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.failures[userID]
	if !ok {
		return
	}
	if now.Sub(state.firstFailed) > m.config.FailedWindow {
		delete(m.failures, userID)
		return
	}
	if state.count >= m.config.FailedThreshold {
		result.raise(RiskHigh, fmt.Sprintf("recent failed withdrawals: %d", state.count))
	}
}

// nightHour reports whether hour falls in [start, end), treating a start
// after the end as a range wrapping past midnight.
func nightHour(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (m *monitor) checkHistoricalDeviation(ctx context.Context, userID uint, amount int64, now time.Time, result *CheckResult) {
	avg, err := m.repo.AverageWithdrawalSince(ctx, userID, now.Add(-m.config.TrailingWindow))
	if err != nil {
		m.logger.Warn("deviation check unavailable, skipping",
			zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if avg <= 0 {
		return
	}
	if float64(amount) >= float64(avg)*m.config.DeviationRatio {
		result.raise(RiskHigh, fmt.Sprintf("amount deviates from trailing average: %d vs avg %d", amount, avg))
	}
}

func (m *monitor) RecordFailedWithdrawal(ctx context.Context, userID uint, reason string) {
	m.mu.Lock()
	now := time.Now()
	state, ok := m.failures[userID]
	if !ok || now.Sub(state.firstFailed) > m.config.FailedWindow {
		state = &failureState{firstFailed: now}
		m.failures[userID] = state
	}
	state.count++
	count := state.count
	m.mu.Unlock()

	if count < m.config.FailedThreshold {
		return
	}

	// Escalating block: doubles per strike past the threshold, capped.
	strikes := count - m.config.FailedThreshold
	duration := m.config.BlockBase << uint(strikes)
	if duration > m.config.BlockMax || duration <= 0 {
		duration = m.config.BlockMax
	}

	m.limiter.BlockUser(ctx, userID, duration, "repeated failed withdrawals: "+reason)
	m.autoBlocks.Add(1)
	m.emitter.Emit(ctx, Event{
		Name: EventUserBlocked,
		Payload: map[string]interface{}{
			"user_id":  userID,
			"failures": count,
			"duration": duration.String(),
			"reason":   reason,
		},
	})
}

func (m *monitor) RecordSuccessfulWithdrawal(ctx context.Context, userID uint) {
	m.mu.Lock()
	delete(m.failures, userID)
	m.mu.Unlock()

	// A clean withdrawal after a quiet burst window should not keep paying
	// for old throttling.
	if err := m.limiter.ResetLimits(ctx, userID, ratelimit.ScopeBurst); err != nil {
		m.logger.Warn("failed to reset burst window", zap.Uint("user_id", userID), zap.Error(err))
	}
}

func (m *monitor) Metrics() SecurityMetrics {
	m.mu.Lock()
	tracked := len(m.failures)
	m.mu.Unlock()

	m.sweepMu.Lock()
	last := m.lastSweepAt
	m.sweepMu.Unlock()

	return SecurityMetrics{
		ChecksPerformed:     m.checks.Load(),
		Rejections:          m.rejections.Load(),
		AlertsEmitted:       m.alerts.Load(),
		AutoBlocks:          m.autoBlocks.Load(),
		TrackedFailureUsers: tracked,
		StuckTransactions:   m.stuckSeen.Load(),
		LastSweepAt:         last,
	}
}
