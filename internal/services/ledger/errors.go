package ledger

import "errors"

// Service errors. Callers map these to rejection reasons; none of them is
// an unhandled fault.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrConcurrentOperation = errors.New("concurrent operation in progress, retry later")
	ErrAlreadyFinalized    = errors.New("transaction not found or already finalized")
	ErrInvalidStatus       = errors.New("invalid target status")
)
