package repositories

import (
	"context"
	"errors"
	"time"

	"payguard/internal/models"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateKey        = errors.New("duplicate idempotency key")
)

// TransactionRepository is the persistence surface the admission service,
// ledger calculator and security monitor run on. The store is append-only:
// rows are created once and only their status-related columns ever change,
// via the guarded update below.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)

	// GetByIdempotencyKey returns the prior record for (user, type, key),
	// or ErrTransactionNotFound.
	GetByIdempotencyKey(ctx context.Context, userID uint, txType, key string) (*models.Transaction, error)

	// UpdateStatusFromProcessing is a compare-and-swap write: the row is
	// updated only if its current status is PROCESSING. Returns false when
	// nothing matched (missing or already finalized).
	UpdateStatusFromProcessing(ctx context.Context, id, newStatus, notes string) (bool, error)

	// SumAmount aggregates amounts for a (user, wallet, type, status)
	// combination. Wallet 0 means all wallets of the user.
	SumAmount(ctx context.Context, userID, walletID uint, txType, status string) (int64, error)

	// SumWithdrawalsSince totals withdrawal amounts in the given statuses
	// created at or after since.
	SumWithdrawalsSince(ctx context.Context, userID uint, statuses []string, since time.Time) (int64, error)

	// CountWithdrawalsSince counts withdrawal attempts created at or after
	// since, regardless of status.
	CountWithdrawalsSince(ctx context.Context, userID uint, since time.Time) (int64, error)

	// AverageWithdrawalSince returns the mean withdrawal amount since the
	// given time, or 0 when there is no history.
	AverageWithdrawalSince(ctx context.Context, userID uint, since time.Time) (int64, error)

	// FindStuckProcessing lists PROCESSING withdrawals whose timeout_at has
	// passed, oldest first.
	FindStuckProcessing(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
}
