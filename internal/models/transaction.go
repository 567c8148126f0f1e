package models

import (
	"time"
)

// Transaction types
const (
	TransactionTypeDeposit  = "DEPOSIT"
	TransactionTypeWithdraw = "WITHDRAW"
)

// Transaction statuses. PENDING and PROCESSING are the only states a
// transaction may transition out of; COMPLETE and FAILED are terminal.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusComplete   = "COMPLETE"
	StatusFailed     = "FAILED"
)

// Transaction is the single source of truth for balances. Available balance
// is always derived by aggregating these rows; there is no stored balance
// column anywhere. Rows are never deleted.
type Transaction struct {
	ID             string `gorm:"primaryKey;size:36"`
	UserID         uint   `gorm:"not null;index;uniqueIndex:idx_user_type_idem,priority:1"`
	WalletID       uint   `gorm:"not null;index"`
	Amount         int64  `gorm:"not null"` // minor units
	Type           string `gorm:"not null;uniqueIndex:idx_user_type_idem,priority:2"`
	Status         string `gorm:"not null;default:'PENDING';index"`
	// IdempotencyKey is unique per (user, type). Nullable so rows without a
	// key do not collide on the unique index.
	IdempotencyKey *string `gorm:"size:64;uniqueIndex:idx_user_type_idem,priority:3"`
	Reference      string
	Channel        string
	Notes          string
	CreatedAt      time.Time
	StateChangedAt time.Time
	// TimeoutAt marks when a PROCESSING reservation is considered stuck.
	// The sweep alerts on it; nothing cancels automatically.
	TimeoutAt *time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether the transaction can no longer change state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusComplete || t.Status == StatusFailed
}
