package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payguard/internal/models"
	"payguard/internal/repositories"
	"payguard/internal/services/lock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type service struct {
	repo    Repository
	locks   lock.Manager
	config  Config
	metrics MetricsCollector
	logger  *zap.Logger
}

// NewService creates the withdrawal admission service.
func NewService(repo Repository, locks lock.Manager, config Config, metrics MetricsCollector, logger *zap.Logger) Service {
	if repo == nil {
		panic("repo is required")
	}
	if locks == nil {
		panic("lock manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NoopMetricsCollector{}
	}

	if config.GraceWindow <= 0 {
		config.GraceWindow = 5 * time.Minute
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Second
	}
	if config.LockMaxRetries <= 0 {
		config.LockMaxRetries = 3
	}
	if config.LockRetryDelay <= 0 {
		config.LockRetryDelay = 50 * time.Millisecond
	}

	return &service{
		repo:    repo,
		locks:   locks,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *service) AvailableBalance(ctx context.Context, userID, walletID uint) (int64, error) {
	deposits, err := s.repo.SumAmount(ctx, userID, walletID, models.TransactionTypeDeposit, models.StatusComplete)
	if err != nil {
		return 0, fmt.Errorf("failed to sum deposits: %w", err)
	}
	withdrawn, err := s.repo.SumAmount(ctx, userID, walletID, models.TransactionTypeWithdraw, models.StatusComplete)
	if err != nil {
		return 0, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	reserved, err := s.repo.SumAmount(ctx, userID, walletID, models.TransactionTypeWithdraw, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to sum reservations: %w", err)
	}

	available := deposits - withdrawn - reserved
	if available < 0 {
		available = 0
	}
	return available, nil
}

func (s *service) CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.Transaction, bool, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("create_withdrawal", time.Since(start)) }()

	if req.Amount <= 0 {
		return nil, false, ErrInvalidAmount
	}

	// Idempotent replay needs no lock: it performs no mutation.
	if req.IdempotencyKey != "" {
		prior, err := s.repo.GetByIdempotencyKey(ctx, req.UserID, models.TransactionTypeWithdraw, req.IdempotencyKey)
		if err == nil {
			s.metrics.RecordAdmission("replay")
			return prior, true, nil
		}
		if !errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, false, fmt.Errorf("idempotency lookup failed: %w", err)
		}
	}

	var created *models.Transaction
	var replayed bool
	key := lock.WithdrawalKey(req.UserID, req.WalletID)
	err := lock.WithLock(ctx, s.locks, key, lock.Options{
		TTL:        s.config.LockTTL,
		MaxRetries: s.config.LockMaxRetries,
		RetryDelay: s.config.LockRetryDelay,
	}, func(ctx context.Context) error {
		// Balance must be recomputed inside the lock; a value read before
		// acquisition could race a concurrent holder's reservation.
		available, err := s.AvailableBalance(ctx, req.UserID, req.WalletID)
		if err != nil {
			return err
		}
		if req.Amount > available {
			s.logger.Info("withdrawal rejected: insufficient funds",
				zap.Uint("user_id", req.UserID),
				zap.Int64("amount", req.Amount),
				zap.Int64("available", available),
			)
			return ErrInsufficientFunds
		}

		now := time.Now()
		timeoutAt := now.Add(s.config.GraceWindow)
		tx := &models.Transaction{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			WalletID:       req.WalletID,
			Amount:         req.Amount,
			Type:           models.TransactionTypeWithdraw,
			Status:         models.StatusProcessing,
			Reference:      req.Reference,
			Channel:        req.Channel,
			StateChangedAt: now,
			TimeoutAt:      &timeoutAt,
		}
		if req.IdempotencyKey != "" {
			k := req.IdempotencyKey
			tx.IdempotencyKey = &k
		}

		if err := s.repo.Create(ctx, tx); err != nil {
			// A unique-index violation means a retried caller slipped past
			// the lookup above; the earlier row is the answer.
			if errors.Is(err, repositories.ErrDuplicateKey) && req.IdempotencyKey != "" {
				prior, lookupErr := s.repo.GetByIdempotencyKey(ctx, req.UserID, models.TransactionTypeWithdraw, req.IdempotencyKey)
				if lookupErr == nil {
					created = prior
					replayed = true
					s.metrics.RecordAdmission("replay")
					return nil
				}
			}
			return fmt.Errorf("failed to create withdrawal: %w", err)
		}
		created = tx
		return nil
	})

	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.RecordAdmission("busy")
			return nil, false, ErrConcurrentOperation
		}
		if errors.Is(err, ErrInsufficientFunds) {
			s.metrics.RecordAdmission("insufficient_funds")
			return nil, false, err
		}
		s.metrics.RecordError("create_withdrawal", "internal")
		return nil, false, err
	}

	if replayed {
		return created, true, nil
	}

	s.metrics.RecordAdmission("admitted")
	s.metrics.RecordTransaction(models.TransactionTypeWithdraw, created.Amount)
	s.logger.Info("withdrawal admitted",
		zap.String("tx_id", created.ID),
		zap.Uint("user_id", created.UserID),
		zap.Int64("amount", created.Amount),
	)
	return created, false, nil
}

func (s *service) UpdateStatus(ctx context.Context, id, newStatus, notes string) (*models.Transaction, error) {
	if newStatus != models.StatusComplete && newStatus != models.StatusFailed {
		return nil, ErrInvalidStatus
	}

	matched, err := s.repo.UpdateStatusFromProcessing(ctx, id, newStatus, notes)
	if err != nil {
		return nil, fmt.Errorf("status update failed: %w", err)
	}
	if !matched {
		// Duplicate completion signals land here. Surfaced, never
		// swallowed: the caller decides whether it is an ordering bug.
		s.metrics.RecordError("update_status", "already_finalized")
		return nil, ErrAlreadyFinalized
	}

	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("withdrawal status updated",
		zap.String("tx_id", id),
		zap.String("status", newStatus),
	)
	return tx, nil
}

func (s *service) Rollback(ctx context.Context, id, reason string) (*models.Transaction, error) {
	return s.UpdateStatus(ctx, id, models.StatusFailed, reason)
}
