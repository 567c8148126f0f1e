package security

import (
	"context"
	"errors"
	"time"

	"payguard/internal/services/lock"

	"go.uber.org/zap"
)

// RunSweep scans for withdrawals stuck in PROCESSING past their timeout.
// It only alerts; resolution is left to an operator or an upstream
// completion signal. The sweep lock makes concurrent invocations across a
// fleet a no-op everywhere but one instance.
func (m *monitor) RunSweep(ctx context.Context) error {
	token, err := m.locks.Acquire(ctx, lock.SweepKey, m.config.SweepLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			m.logger.Debug("sweep already running elsewhere")
			return nil
		}
		return err
	}
	defer m.locks.Release(ctx, lock.SweepKey, token)

	now := time.Now()
	stuck, err := m.repo.FindStuckProcessing(ctx, now, m.config.SweepBatch)
	if err != nil {
		return err
	}

	for _, tx := range stuck {
		m.stuckSeen.Add(1)
		m.logger.Warn("withdrawal stuck in PROCESSING",
			zap.String("tx_id", tx.ID),
			zap.Uint("user_id", tx.UserID),
			zap.Int64("amount", tx.Amount),
			zap.Timep("timeout_at", tx.TimeoutAt),
		)
		m.emitter.Emit(ctx, Event{
			Name: EventTransactionStuck,
			Payload: map[string]interface{}{
				"tx_id":      tx.ID,
				"user_id":    tx.UserID,
				"wallet_id":  tx.WalletID,
				"amount":     tx.Amount,
				"timeout_at": tx.TimeoutAt,
			},
		})
	}

	m.sweepMu.Lock()
	m.lastSweepAt = &now
	m.sweepMu.Unlock()

	if len(stuck) > 0 {
		m.logger.Warn("sweep found stuck withdrawals", zap.Int("count", len(stuck)))
	}
	return nil
}

// Start runs the sweep on its interval until ctx is cancelled. Callers run
// it in a goroutine from main.
func (m *monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunSweep(ctx); err != nil {
				m.logger.Error("stuck-transaction sweep failed", zap.Error(err))
			}
		}
	}
}
