package ledger

import (
	"time"
)

// WithdrawalRequest is an admission request. Amount is in minor units.
type WithdrawalRequest struct {
	UserID         uint
	WalletID       uint
	Amount         int64
	Reference      string
	Channel        string
	IdempotencyKey string
}

// Config holds admission parameters. Zero values are filled with defaults
// by NewService.
type Config struct {
	// GraceWindow is how long a PROCESSING reservation may sit before the
	// sweep flags it as stuck.
	GraceWindow time.Duration

	// Lock acquisition parameters for the creation critical section.
	LockTTL        time.Duration
	LockMaxRetries int
	LockRetryDelay time.Duration
}

// MetricsCollector receives admission metrics. Implementations must be safe
// for concurrent use.
type MetricsCollector interface {
	RecordAdmission(result string)
	RecordTransaction(txType string, amount int64)
	RecordOperationDuration(operation string, d time.Duration)
	RecordError(operation, errType string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdmission(string)                       {}
func (NoopMetricsCollector) RecordTransaction(string, int64)              {}
func (NoopMetricsCollector) RecordOperationDuration(string, time.Duration) {}
func (NoopMetricsCollector) RecordError(string, string)                   {}
