package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"payguard/internal/models"

	"gorm.io/gorm"
)

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a gorm-backed transaction repository.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	if db == nil {
		panic("db is required")
	}
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		// Unique index on (user_id, type, idempotency_key); a violation
		// means a concurrent caller won the creation race.
		if strings.Contains(err.Error(), "idx_user_type_idem") ||
			strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, userID uint, txType, key string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND idempotency_key = ?", userID, txType, key).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) UpdateStatusFromProcessing(ctx context.Context, id, newStatus, notes string) (bool, error) {
	updates := map[string]interface{}{
		"status":           newStatus,
		"state_changed_at": time.Now(),
	}
	if notes != "" {
		updates["notes"] = notes
	}

	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *transactionRepository) SumAmount(ctx context.Context, userID, walletID uint, txType, status string) (int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND type = ? AND status = ?", userID, txType, status)
	if walletID != 0 {
		q = q.Where("wallet_id = ?", walletID)
	}
	if err := q.Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *transactionRepository) SumWithdrawalsSince(ctx context.Context, userID uint, statuses []string, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND type = ? AND status IN ? AND created_at >= ?",
			userID, models.TransactionTypeWithdraw, statuses, since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *transactionRepository) CountWithdrawalsSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("user_id = ? AND type = ? AND created_at >= ?",
			userID, models.TransactionTypeWithdraw, since).
		Count(&count).Error
	return count, err
}

func (r *transactionRepository) AverageWithdrawalSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	var avg *float64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("AVG(amount)").
		Where("user_id = ? AND type = ? AND status = ? AND created_at >= ?",
			userID, models.TransactionTypeWithdraw, models.StatusComplete, since).
		Scan(&avg).Error
	if err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return int64(*avg), nil
}

func (r *transactionRepository) FindStuckProcessing(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND timeout_at IS NOT NULL AND timeout_at < ?",
			models.TransactionTypeWithdraw, models.StatusProcessing, now).
		Order("timeout_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
