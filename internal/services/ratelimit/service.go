package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service enforces the multi-window withdrawal limits. It is independent of
// the ledger: counters key off user IDs, not wallets or transactions, and
// are consulted before any transaction row exists.
type Service interface {
	// Check evaluates block status and every applicable window in order,
	// short-circuiting on the first violation. It never increments.
	Check(ctx context.Context, userID uint, amount int64, channel string) *Result

	// RecordWithdrawal increments all relevant counters. Called exactly
	// once per admitted request, after admission succeeds.
	RecordWithdrawal(ctx context.Context, userID uint, amount int64, channel string)

	// BlockUser places or extends a punitive block.
	BlockUser(ctx context.Context, userID uint, d time.Duration, reason string)

	// IsBlocked reports the active block record, if any.
	IsBlocked(ctx context.Context, userID uint) (*BlockRecord, bool)

	// ResetLimits clears windows for a user: ScopeBurst clears only the
	// burst window, ScopeAll clears every window and the block record.
	ResetLimits(ctx context.Context, userID uint, scope string) error

	// Limits exposes the effective configuration.
	Limits() Config
}

type service struct {
	store  CounterStore
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string]*WindowCounter
	blocks  map[uint]*BlockRecord
}

// NewService creates a rate limiter backed by store. Defaults are applied
// for any zero config value.
func NewService(store CounterStore, config Config, logger *zap.Logger) Service {
	if store == nil {
		panic("counter store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.BurstMax <= 0 {
		config.BurstMax = DefaultBurstMax
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = DefaultBurstWindow
	}
	if config.DefaultChannel.MaxPerMinute <= 0 {
		config.DefaultChannel = ChannelLimit{MaxPerMinute: DefaultChannelPerMinute}
	}
	if config.HighValueThreshold <= 0 {
		config.HighValueThreshold = DefaultHighValueThreshold
	}
	if config.HighValueWindow <= 0 {
		config.HighValueWindow = DefaultHighValueWindow
	}
	if config.HourlyMaxCount <= 0 {
		config.HourlyMaxCount = DefaultHourlyMaxCount
	}
	if config.HourlyMaxAmount <= 0 {
		config.HourlyMaxAmount = DefaultHourlyMaxAmount
	}
	if config.DailyMaxCount <= 0 {
		config.DailyMaxCount = DefaultDailyMaxCount
	}
	if config.DailyMaxAmount <= 0 {
		config.DailyMaxAmount = DefaultDailyMaxAmount
	}
	if config.SuspiciousThreshold <= 0 {
		config.SuspiciousThreshold = DefaultSuspiciousThreshold
	}
	if config.SuspiciousBlock <= 0 {
		config.SuspiciousBlock = DefaultSuspiciousBlock
	}

	return &service{
		store:   store,
		config:  config,
		logger:  logger,
		windows: make(map[string]*WindowCounter),
		blocks:  make(map[uint]*BlockRecord),
	}
}

func (s *service) Limits() Config { return s.config }

// windowSpec describes one window to evaluate for a request.
type windowSpec struct {
	kind      string
	duration  time.Duration
	maxCount  int
	maxAmount int64 // 0 means no amount cap
	reasonCnt string
	reasonAmt string
}

func (s *service) specsFor(amount int64, channel string) []windowSpec {
	chLimit, ok := s.config.Channels[channel]
	if !ok {
		chLimit = s.config.DefaultChannel
	}

	specs := []windowSpec{
		{WindowBurst, s.config.BurstWindow, s.config.BurstMax, 0, ReasonBurst, ""},
		{channelKind(channel), time.Minute, chLimit.MaxPerMinute, 0, ReasonChannel, ""},
	}
	if amount >= s.config.HighValueThreshold {
		specs = append(specs, windowSpec{WindowHighValue, s.config.HighValueWindow, 1, 0, ReasonHighValue, ""})
	}
	specs = append(specs,
		windowSpec{WindowHourly, time.Hour, s.config.HourlyMaxCount, s.config.HourlyMaxAmount, ReasonHourlyCount, ReasonHourlyAmount},
		windowSpec{WindowDaily, 24 * time.Hour, s.config.DailyMaxCount, s.config.DailyMaxAmount, ReasonDailyCount, ReasonDailyAmount},
	)
	return specs
}

func (s *service) Check(ctx context.Context, userID uint, amount int64, channel string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// Block status is a hard stop, evaluated before any window.
	if b := s.loadBlock(ctx, userID); b != nil && b.BlockedUntil.After(now) {
		return &Result{Allowed: false, Reason: ReasonBlocked, ResetAt: b.BlockedUntil}
	}

	minRemaining := -1
	var nearestReset time.Time

	for _, spec := range s.specsFor(amount, channel) {
		w := s.loadWindow(ctx, userID, spec, now)

		if w.Count+1 > spec.maxCount {
			s.recordSuspicious(ctx, userID, spec.reasonCnt, now)
			return &Result{Allowed: false, Reason: spec.reasonCnt, ResetAt: w.ResetAt}
		}
		if spec.maxAmount > 0 && w.Amount+amount > spec.maxAmount {
			s.recordSuspicious(ctx, userID, spec.reasonAmt, now)
			return &Result{Allowed: false, Reason: spec.reasonAmt, ResetAt: w.ResetAt}
		}

		remaining := spec.maxCount - w.Count - 1
		if minRemaining < 0 || remaining < minRemaining {
			minRemaining = remaining
		}
		if nearestReset.IsZero() || w.ResetAt.Before(nearestReset) {
			nearestReset = w.ResetAt
		}
	}

	return &Result{Allowed: true, Remaining: minRemaining, ResetAt: nearestReset}
}

func (s *service) RecordWithdrawal(ctx context.Context, userID uint, amount int64, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, spec := range s.specsFor(amount, channel) {
		w := s.loadWindow(ctx, userID, spec, now)
		w.Count++
		w.Amount += amount
		s.persistWindow(ctx, userID, spec.kind, w)
	}
}

func (s *service) BlockUser(ctx context.Context, userID uint, d time.Duration, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b := s.loadBlock(ctx, userID)
	if b == nil {
		b = &BlockRecord{UserID: userID}
	}
	until := now.Add(d)
	if until.After(b.BlockedUntil) {
		b.BlockedUntil = until
		b.Reason = reason
	}
	s.persistBlock(ctx, b)

	s.logger.Warn("user blocked",
		zap.Uint("user_id", userID),
		zap.Duration("duration", d),
		zap.String("reason", reason),
	)
}

func (s *service) IsBlocked(ctx context.Context, userID uint) (*BlockRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.loadBlock(ctx, userID)
	if b == nil || !b.BlockedUntil.After(time.Now()) {
		return nil, false
	}
	return b, true
}

func (s *service) ResetLimits(ctx context.Context, userID uint, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch scope {
	case ScopeBurst:
		s.dropWindow(ctx, userID, WindowBurst)
	case ScopeAll:
		// Channel window kinds are dynamic; sweep everything cached for the
		// user, then the fixed kinds from the store.
		prefix := windowKey(userID, "")
		for key := range s.windows {
			if strings.HasPrefix(key, prefix) {
				delete(s.windows, key)
				if err := s.store.DeleteWindow(ctx, key); err != nil {
					s.logger.Warn("counter store delete failed",
						zap.String("key", key), zap.Error(err))
				}
			}
		}
		s.dropWindow(ctx, userID, WindowBurst)
		s.dropWindow(ctx, userID, WindowHighValue)
		s.dropWindow(ctx, userID, WindowHourly)
		s.dropWindow(ctx, userID, WindowDaily)
		delete(s.blocks, userID)
		if err := s.store.SetBlock(ctx, &BlockRecord{UserID: userID}, time.Minute); err != nil {
			s.logger.Warn("failed to clear block record", zap.Uint("user_id", userID), zap.Error(err))
		}
	default:
		return errors.New("unknown reset scope: " + scope)
	}
	return nil
}

// loadWindow returns the live counter for (user, kind), lazily reset when
// past ResetAt. Caller holds s.mu.
func (s *service) loadWindow(ctx context.Context, userID uint, spec windowSpec, now time.Time) *WindowCounter {
	key := windowKey(userID, spec.kind)
	if w, ok := s.windows[key]; ok {
		if w.expired(now) {
			*w = WindowCounter{ResetAt: now.Add(spec.duration)}
		}
		return w
	}

	// First touch: fall back to the durable store so limits survive
	// restarts. Store trouble fails open with a fresh window.
	w, err := s.store.GetWindow(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("counter store read failed, failing open",
				zap.String("key", key), zap.Error(err))
		}
		w = &WindowCounter{ResetAt: now.Add(spec.duration)}
	} else if w.expired(now) {
		*w = WindowCounter{ResetAt: now.Add(spec.duration)}
	}
	s.windows[key] = w
	return w
}

func (s *service) persistWindow(ctx context.Context, userID uint, kind string, w *WindowCounter) {
	key := windowKey(userID, kind)
	ttl := time.Until(w.ResetAt) + time.Minute
	if err := s.store.SetWindow(ctx, key, w, ttl); err != nil {
		s.logger.Warn("counter store write failed",
			zap.String("key", key), zap.Error(err))
	}
}

func (s *service) loadBlock(ctx context.Context, userID uint) *BlockRecord {
	if b, ok := s.blocks[userID]; ok {
		return b
	}
	b, err := s.store.GetBlock(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("block store read failed, failing open",
				zap.Uint("user_id", userID), zap.Error(err))
		}
		return nil
	}
	s.blocks[userID] = b
	return b
}

func (s *service) persistBlock(ctx context.Context, b *BlockRecord) {
	s.blocks[b.UserID] = b
	ttl := time.Until(b.BlockedUntil) + 24*time.Hour
	if ttl < 24*time.Hour {
		ttl = 24 * time.Hour
	}
	if err := s.store.SetBlock(ctx, b, ttl); err != nil {
		s.logger.Warn("block store write failed",
			zap.Uint("user_id", b.UserID), zap.Error(err))
	}
}

func (s *service) dropWindow(ctx context.Context, userID uint, kind string) {
	key := windowKey(userID, kind)
	delete(s.windows, key)
	if err := s.store.DeleteWindow(ctx, key); err != nil {
		s.logger.Warn("counter store delete failed",
			zap.String("key", key), zap.Error(err))
	}
}

// recordSuspicious bumps the monotonic suspicious-activity counter on every
// rejection. Crossing the threshold escalates into an automatic block.
// Caller holds s.mu.
func (s *service) recordSuspicious(ctx context.Context, userID uint, reason string, now time.Time) {
	b := s.loadBlock(ctx, userID)
	if b == nil {
		b = &BlockRecord{UserID: userID}
	}
	b.SuspiciousActivity++
	if b.SuspiciousActivity >= s.config.SuspiciousThreshold && !b.BlockedUntil.After(now) {
		b.BlockedUntil = now.Add(s.config.SuspiciousBlock)
		b.Reason = "suspicious activity: " + reason
		s.logger.Warn("suspicious activity threshold crossed, auto-blocking",
			zap.Uint("user_id", userID),
			zap.Int("strikes", b.SuspiciousActivity),
		)
	}
	s.persistBlock(ctx, b)
}
