package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payguard/internal/models"
	"payguard/internal/services/ledger"
	"payguard/internal/services/lock"
	"payguard/internal/services/ratelimit"
	"payguard/internal/services/security"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// fakeLedger returns canned transactions so the handler pipeline can be
// exercised without a database.
type fakeLedger struct {
	tx      models.Transaction
	creates int
	updates int
}

func (f *fakeLedger) AvailableBalance(ctx context.Context, userID, walletID uint) (int64, error) {
	return 1_000_000, nil
}

func (f *fakeLedger) CreateWithdrawal(ctx context.Context, req ledger.WithdrawalRequest) (*models.Transaction, bool, error) {
	f.creates++
	cp := f.tx
	cp.UserID = req.UserID
	cp.Amount = req.Amount
	replayed := req.IdempotencyKey != "" && f.creates > 1
	return &cp, replayed, nil
}

func (f *fakeLedger) UpdateStatus(ctx context.Context, id, newStatus, notes string) (*models.Transaction, error) {
	f.updates++
	cp := f.tx
	cp.Status = newStatus
	cp.Notes = notes
	return &cp, nil
}

func (f *fakeLedger) Rollback(ctx context.Context, id, reason string) (*models.Transaction, error) {
	return f.UpdateStatus(ctx, id, models.StatusFailed, reason)
}

// quietRepo reports no history, keeping every security heuristic silent.
type quietRepo struct{}

func (quietRepo) CountWithdrawalsSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	return 0, nil
}

func (quietRepo) SumWithdrawalsSince(ctx context.Context, userID uint, statuses []string, since time.Time) (int64, error) {
	return 0, nil
}

func (quietRepo) AverageWithdrawalSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	return 0, nil
}

func (quietRepo) FindStuckProcessing(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	return nil, nil
}

func newTestApp(t *testing.T, led ledger.Service) (*fiber.App, ratelimit.Service) {
	t.Helper()
	locks := lock.NewMemoryManager()
	t.Cleanup(locks.Close)

	limiter := ratelimit.NewService(ratelimit.NewMemoryStore(), ratelimit.Config{
		BurstMax:    2,
		BurstWindow: time.Hour,
	}, nil)
	monitor := security.NewMonitor(quietRepo{}, locks, limiter, nil, security.Config{
		FailedThreshold: 1,
		BlockBase:       10 * time.Minute,
	}, nil)

	app := fiber.New()
	SetupRoutes(app, testSecret,
		NewWithdrawalHandler(led, limiter, monitor, nil),
		NewSecurityHandler(monitor),
		NewHealthHandler(nil),
	)
	return app, limiter
}

func signToken(t *testing.T, userID uint, role string) string {
	t.Helper()
	claims := &models.UserClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, app *fiber.App, method, path, token, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestFailCallback_ChargesOwnerNotCaller(t *testing.T) {
	ctx := context.Background()
	led := &fakeLedger{tx: models.Transaction{
		ID: "tx-1", UserID: 1, WalletID: 1, Amount: 5_000, Status: models.StatusProcessing,
	}}
	app, limiter := newTestApp(t, led)

	resp := doJSON(t, app, fiber.MethodPost, "/api/withdrawals/tx-1/fail",
		signToken(t, 42, "rail"), `{"reason":"provider rejected"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	_, blocked := limiter.IsBlocked(ctx, 1)
	assert.True(t, blocked, "the withdrawal's owner carries the failed-attempt strike")
	_, blocked = limiter.IsBlocked(ctx, 42)
	assert.False(t, blocked, "the rail account delivering the signal is not penalized")
}

func TestCompleteCallback_ResetsOwnerBurst(t *testing.T) {
	ctx := context.Background()
	led := &fakeLedger{tx: models.Transaction{
		ID: "tx-1", UserID: 1, WalletID: 1, Amount: 5_000, Status: models.StatusProcessing,
	}}
	app, limiter := newTestApp(t, led)

	limiter.RecordWithdrawal(ctx, 1, 1_000, "lightning")
	limiter.RecordWithdrawal(ctx, 1, 1_000, "lightning")
	require.False(t, limiter.Check(ctx, 1, 1_000, "lightning").Allowed)

	resp := doJSON(t, app, fiber.MethodPost, "/api/withdrawals/tx-1/complete",
		signToken(t, 42, "ops"), "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The owner's burst window was cleared, not the ops account's.
	assert.True(t, limiter.Check(ctx, 1, 1_000, "lightning").Allowed)
}

func TestCallbacks_RequireRailOrOpsRole(t *testing.T) {
	led := &fakeLedger{tx: models.Transaction{
		ID: "tx-1", UserID: 1, WalletID: 1, Amount: 5_000, Status: models.StatusProcessing,
	}}
	app, limiter := newTestApp(t, led)

	resp := doJSON(t, app, fiber.MethodPost, "/api/withdrawals/tx-1/fail",
		signToken(t, 42, "user"), `{"reason":"x"}`)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	assert.Zero(t, led.updates, "no transition runs for an unauthorized caller")
	_, blocked := limiter.IsBlocked(context.Background(), 1)
	assert.False(t, blocked)
}

func TestCreate_ReplayDoesNotConsumeWindowSlot(t *testing.T) {
	led := &fakeLedger{tx: models.Transaction{
		ID: "tx-9", WalletID: 1, Status: models.StatusProcessing,
	}}
	app, limiter := newTestApp(t, led)
	token := signToken(t, 7, "user")
	body := `{"wallet_id":1,"amount":1000,"channel":"lightning","idempotency_key":"k-1"}`

	for i := 0; i < 2; i++ {
		resp := doJSON(t, app, fiber.MethodPost, "/api/withdrawals", token, body)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
	assert.Equal(t, 2, led.creates)

	// Two posts, one logical admission: with a burst cap of 2, a second
	// recorded slot would close the window here.
	assert.True(t, limiter.Check(context.Background(), 7, 1_000, "lightning").Allowed)
}
