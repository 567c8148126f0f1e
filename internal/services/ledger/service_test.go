package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"payguard/internal/models"
	"payguard/internal/repositories"
	"payguard/internal/services/lock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory Repository good enough to exercise the admission
// logic, including the concurrency properties.
type fakeRepo struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{txs: make(map[string]*models.Transaction)}
}

func (r *fakeRepo) Create(ctx context.Context, tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.IdempotencyKey != nil {
		for _, existing := range r.txs {
			if existing.UserID == tx.UserID && existing.Type == tx.Type &&
				existing.IdempotencyKey != nil && *existing.IdempotencyKey == *tx.IdempotencyKey {
				return repositories.ErrDuplicateKey
			}
		}
	}
	cp := *tx
	r.txs[tx.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, repositories.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *fakeRepo) GetByIdempotencyKey(ctx context.Context, userID uint, txType, key string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.UserID == userID && tx.Type == txType && tx.IdempotencyKey != nil && *tx.IdempotencyKey == key {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, repositories.ErrTransactionNotFound
}

func (r *fakeRepo) UpdateStatusFromProcessing(ctx context.Context, id, newStatus, notes string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status != models.StatusProcessing {
		return false, nil
	}
	tx.Status = newStatus
	tx.StateChangedAt = time.Now()
	if notes != "" {
		tx.Notes = notes
	}
	return true, nil
}

func (r *fakeRepo) SumAmount(ctx context.Context, userID, walletID uint, txType, status string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, tx := range r.txs {
		if tx.UserID == userID && tx.Type == txType && tx.Status == status &&
			(walletID == 0 || tx.WalletID == walletID) {
			total += tx.Amount
		}
	}
	return total, nil
}

func (r *fakeRepo) seed(userID, walletID uint, amount int64, txType, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := time.Now().Format("150405.000000000") + txType + status
	for {
		if _, ok := r.txs[id]; !ok {
			break
		}
		id += "x"
	}
	r.txs[id] = &models.Transaction{
		ID: id, UserID: userID, WalletID: walletID,
		Amount: amount, Type: txType, Status: status,
	}
}

func newTestService(t *testing.T, repo *fakeRepo) Service {
	t.Helper()
	locks := lock.NewMemoryManager()
	t.Cleanup(locks.Close)
	return NewService(repo, locks, Config{
		GraceWindow:    5 * time.Minute,
		LockTTL:        time.Second,
		LockMaxRetries: 15,
		LockRetryDelay: time.Millisecond,
	}, nil, nil)
}

func TestAvailableBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("derives from transaction log", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed(1, 1, 100_000, models.TransactionTypeDeposit, models.StatusComplete)
		repo.seed(1, 1, 20_000, models.TransactionTypeWithdraw, models.StatusComplete)
		repo.seed(1, 1, 5_000, models.TransactionTypeWithdraw, models.StatusProcessing)
		// PENDING rows never count.
		repo.seed(1, 1, 50_000, models.TransactionTypeDeposit, models.StatusPending)
		repo.seed(1, 1, 50_000, models.TransactionTypeWithdraw, models.StatusPending)

		svc := newTestService(t, repo)
		available, err := svc.AvailableBalance(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(75_000), available)
	})

	t.Run("floors at zero", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed(1, 1, 10_000, models.TransactionTypeDeposit, models.StatusComplete)
		repo.seed(1, 1, 15_000, models.TransactionTypeWithdraw, models.StatusComplete)

		svc := newTestService(t, repo)
		available, err := svc.AvailableBalance(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), available)
	})
}

func TestCreateWithdrawal(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves funds as PROCESSING", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed(1, 1, 100_000, models.TransactionTypeDeposit, models.StatusComplete)
		svc := newTestService(t, repo)

		tx, replayed, err := svc.CreateWithdrawal(ctx, WithdrawalRequest{
			UserID: 1, WalletID: 1, Amount: 10_000, Reference: "ref-1",
		})
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, models.StatusProcessing, tx.Status)
		require.NotNil(t, tx.TimeoutAt)
		assert.WithinDuration(t, time.Now().Add(5*time.Minute), *tx.TimeoutAt, time.Minute)

		// Reservation is visible immediately, pre-settlement.
		available, err := svc.AvailableBalance(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(90_000), available)
	})

	t.Run("rejects when reservations leave too little", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed(1, 1, 50_000, models.TransactionTypeDeposit, models.StatusComplete)
		repo.seed(1, 1, 45_000, models.TransactionTypeWithdraw, models.StatusProcessing)
		svc := newTestService(t, repo)

		_, _, err := svc.CreateWithdrawal(ctx, WithdrawalRequest{UserID: 1, WalletID: 1, Amount: 10_000})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		svc := newTestService(t, newFakeRepo())
		_, _, err := svc.CreateWithdrawal(ctx, WithdrawalRequest{UserID: 1, WalletID: 1, Amount: 0})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("idempotent replay returns the prior record", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed(1, 1, 100_000, models.TransactionTypeDeposit, models.StatusComplete)
		svc := newTestService(t, repo)

		req := WithdrawalRequest{UserID: 1, WalletID: 1, Amount: 10_000, IdempotencyKey: "retry-abc"}
		first, replayed, err := svc.CreateWithdrawal(ctx, req)
		require.NoError(t, err)
		assert.False(t, replayed)
		second, replayed, err := svc.CreateWithdrawal(ctx, req)
		require.NoError(t, err)
		assert.True(t, replayed)

		assert.Equal(t, first.ID, second.ID)

		// Exactly one persisted record, one reservation.
		available, err := svc.AvailableBalance(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(90_000), available)
	})

	t.Run("busy lock is a transient rejection", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed(1, 1, 100_000, models.TransactionTypeDeposit, models.StatusComplete)
		locks := lock.NewMemoryManager()
		t.Cleanup(locks.Close)
		svc := NewService(repo, locks, Config{
			LockTTL: time.Minute, LockMaxRetries: 2, LockRetryDelay: time.Millisecond,
		}, nil, nil)

		_, err := locks.Acquire(ctx, lock.WithdrawalKey(1, 1), time.Minute)
		require.NoError(t, err)

		_, _, err = svc.CreateWithdrawal(ctx, WithdrawalRequest{UserID: 1, WalletID: 1, Amount: 10_000})
		assert.ErrorIs(t, err, ErrConcurrentOperation)
	})
}

func TestCreateWithdrawal_Concurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("admits exactly floor(B/A)", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed(1, 1, 50_000, models.TransactionTypeDeposit, models.StatusComplete)
		svc := newTestService(t, repo)

		const callers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		admitted, insufficient := 0, 0

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := svc.CreateWithdrawal(ctx, WithdrawalRequest{UserID: 1, WalletID: 1, Amount: 10_000})
				mu.Lock()
				defer mu.Unlock()
				switch err {
				case nil:
					admitted++
				case ErrInsufficientFunds:
					insufficient++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, admitted)
		assert.Equal(t, 3, insufficient)

		available, err := svc.AvailableBalance(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), available)
	})

	t.Run("exact-fit requests all succeed", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed(2, 2, 50_000, models.TransactionTypeDeposit, models.StatusComplete)
		svc := newTestService(t, repo)

		var wg sync.WaitGroup
		errs := make(chan error, 5)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := svc.CreateWithdrawal(ctx, WithdrawalRequest{UserID: 2, WalletID: 2, Amount: 10_000})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (Service, *models.Transaction) {
		repo := newFakeRepo()
		repo.seed(1, 1, 100_000, models.TransactionTypeDeposit, models.StatusComplete)
		svc := newTestService(t, repo)
		tx, _, err := svc.CreateWithdrawal(ctx, WithdrawalRequest{UserID: 1, WalletID: 1, Amount: 10_000})
		require.NoError(t, err)
		return svc, tx
	}

	t.Run("transitions PROCESSING to COMPLETE once", func(t *testing.T) {
		svc, tx := setup(t)

		updated, err := svc.UpdateStatus(ctx, tx.ID, models.StatusComplete, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusComplete, updated.Status)

		// Duplicate completion signal surfaces, never silently applies.
		_, err = svc.UpdateStatus(ctx, tx.ID, models.StatusComplete, "")
		assert.ErrorIs(t, err, ErrAlreadyFinalized)
	})

	t.Run("terminal records stay unchanged", func(t *testing.T) {
		svc, tx := setup(t)
		_, err := svc.Rollback(ctx, tx.ID, "rail timeout")
		require.NoError(t, err)

		_, err = svc.UpdateStatus(ctx, tx.ID, models.StatusComplete, "")
		assert.ErrorIs(t, err, ErrAlreadyFinalized)

		final, err := svc.(*service).repo.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, final.Status)
		assert.Equal(t, "rail timeout", final.Notes)
	})

	t.Run("unknown id reports already finalized", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.UpdateStatus(ctx, "no-such-id", models.StatusFailed, "")
		assert.ErrorIs(t, err, ErrAlreadyFinalized)
	})

	t.Run("rejects non-terminal targets", func(t *testing.T) {
		svc, tx := setup(t)
		_, err := svc.UpdateStatus(ctx, tx.ID, models.StatusPending, "")
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("completed withdrawal keeps balance reduced", func(t *testing.T) {
		svc, tx := setup(t)
		_, err := svc.UpdateStatus(ctx, tx.ID, models.StatusComplete, "")
		require.NoError(t, err)

		available, err := svc.AvailableBalance(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(90_000), available)
	})

	t.Run("failed withdrawal returns funds", func(t *testing.T) {
		svc, tx := setup(t)
		_, err := svc.Rollback(ctx, tx.ID, "provider rejected")
		require.NoError(t, err)

		available, err := svc.AvailableBalance(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(100_000), available)
	})
}
