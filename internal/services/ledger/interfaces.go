package ledger

import (
	"context"

	"payguard/internal/models"
)

// Service is the withdrawal admission surface.
type Service interface {
	// AvailableBalance derives the spendable balance for a wallet.
	AvailableBalance(ctx context.Context, userID, walletID uint) (int64, error)

	// CreateWithdrawal admits a withdrawal and reserves funds by creating a
	// PROCESSING transaction. Replays with a known idempotency key return
	// the prior record unchanged, with replayed true so callers do not
	// apply per-admission side effects twice.
	CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (tx *models.Transaction, replayed bool, err error)

	// UpdateStatus transitions a transaction out of PROCESSING into a
	// terminal status. Returns ErrAlreadyFinalized when nothing matched.
	UpdateStatus(ctx context.Context, id, newStatus, notes string) (*models.Transaction, error)

	// Rollback marks a transaction FAILED with a reason.
	Rollback(ctx context.Context, id, reason string) (*models.Transaction, error)
}

// Repository is the slice of the transaction store this package needs.
// Implemented by repositories.TransactionRepository.
type Repository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, userID uint, txType, key string) (*models.Transaction, error)
	UpdateStatusFromProcessing(ctx context.Context, id, newStatus, notes string) (bool, error)
	SumAmount(ctx context.Context, userID, walletID uint, txType, status string) (int64, error)
}
