package handlers

import (
	"errors"

	"payguard/internal/models"
	"payguard/internal/repositories"
	"payguard/internal/services/ledger"
	"payguard/internal/services/ratelimit"
	"payguard/internal/services/security"
	"payguard/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// WithdrawalHandler wires the admission pipeline: block status, rate
// limits, security heuristics, then the ledger. Order matters: the cheap
// structural checks run before anything that touches the transaction store.
type WithdrawalHandler struct {
	ledger  ledger.Service
	limiter ratelimit.Service
	monitor security.Monitor
	logger  *zap.Logger
}

func NewWithdrawalHandler(ledgerSvc ledger.Service, limiter ratelimit.Service, monitor security.Monitor, logger *zap.Logger) *WithdrawalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WithdrawalHandler{
		ledger:  ledgerSvc,
		limiter: limiter,
		monitor: monitor,
		logger:  logger,
	}
}

// extractUserClaims is a helper to reduce duplication across handlers.
func extractUserClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims, ok := c.Locals("claims").(*models.UserClaims)
	if !ok || claims == nil {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}

func txResponse(tx *models.Transaction) fiber.Map {
	return fiber.Map{
		"id":               tx.ID,
		"wallet_id":        tx.WalletID,
		"amount":           tx.Amount,
		"type":             tx.Type,
		"status":           tx.Status,
		"reference":        tx.Reference,
		"channel":          tx.Channel,
		"created_at":       tx.CreatedAt,
		"state_changed_at": tx.StateChangedAt,
	}
}

// Create admits a withdrawal request.
func (h *WithdrawalHandler) Create(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		WalletID       uint   `json:"wallet_id" validate:"required"`
		Amount         int64  `json:"amount" validate:"required,gt=0"`
		Reference      string `json:"reference"`
		Channel        string `json:"channel"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if input.Amount <= 0 {
		return utils.BadRequest(c, "amount must be greater than zero")
	}
	if input.WalletID == 0 {
		return utils.BadRequest(c, "wallet_id is required")
	}
	if key := c.Get("Idempotency-Key"); key != "" {
		input.IdempotencyKey = key
	}

	ctx := c.Context()
	userID := claims.UserID

	if rl := h.limiter.Check(ctx, userID, input.Amount, input.Channel); !rl.Allowed {
		if rl.Reason == ratelimit.ReasonBlocked {
			return utils.Forbidden(c, "account temporarily blocked")
		}
		return utils.TooManyRequests(c, fiber.Map{
			"error":    "rate limit exceeded",
			"reason":   rl.Reason,
			"reset_at": rl.ResetAt,
		})
	}

	check := h.monitor.CheckWithdrawal(ctx, userID, input.Amount, input.WalletID)
	if !check.Allowed {
		h.logger.Warn("withdrawal rejected by security checks",
			zap.Uint("user_id", userID),
			zap.String("risk_level", check.RiskLevel),
			zap.Strings("alerts", check.Alerts),
		)
		return utils.Forbidden(c, "withdrawal rejected by security checks")
	}

	tx, replayed, err := h.ledger.CreateWithdrawal(ctx, ledger.WithdrawalRequest{
		UserID:         userID,
		WalletID:       input.WalletID,
		Amount:         input.Amount,
		Reference:      input.Reference,
		Channel:        input.Channel,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			return utils.BadRequest(c, err.Error())
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return utils.UnprocessableEntity(c, "insufficient funds")
		case errors.Is(err, ledger.ErrConcurrentOperation):
			return utils.Conflict(c, "another withdrawal is in progress")
		default:
			h.logger.Error("withdrawal admission failed", zap.Uint("user_id", userID), zap.Error(err))
			return utils.InternalError(c, "failed to process withdrawal")
		}
	}

	// A replay is the same logical request; it must not consume a second
	// window slot.
	if !replayed {
		h.limiter.RecordWithdrawal(ctx, userID, input.Amount, input.Channel)
	}

	return utils.Created(c, fiber.Map{
		"transaction": txResponse(tx),
		"risk_level":  check.RiskLevel,
	})
}

// Complete is the payment-rail success callback. The route restricts it to
// rail and ops accounts; the monitor feedback targets the withdrawal's
// owner, never the account delivering the signal.
func (h *WithdrawalHandler) Complete(c *fiber.Ctx) error {
	tx, err := h.ledger.UpdateStatus(c.Context(), c.Params("id"), models.StatusComplete, "")
	if err != nil {
		return h.statusUpdateError(c, err)
	}

	h.monitor.RecordSuccessfulWithdrawal(c.Context(), tx.UserID)
	return utils.Success(c, fiber.Map{"transaction": txResponse(tx)})
}

// Fail is the payment-rail failure callback. It releases the reservation,
// returning the amount to the available balance, and charges the failure
// against the withdrawal's owner.
func (h *WithdrawalHandler) Fail(c *fiber.Ctx) error {
	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if input.Reason == "" {
		input.Reason = "withdrawal failed"
	}

	tx, err := h.ledger.Rollback(c.Context(), c.Params("id"), input.Reason)
	if err != nil {
		return h.statusUpdateError(c, err)
	}

	h.monitor.RecordFailedWithdrawal(c.Context(), tx.UserID, input.Reason)
	return utils.Success(c, fiber.Map{"transaction": txResponse(tx)})
}

func (h *WithdrawalHandler) statusUpdateError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidStatus):
		return utils.BadRequest(c, err.Error())
	case errors.Is(err, ledger.ErrAlreadyFinalized):
		return utils.Conflict(c, "transaction already finalized")
	case errors.Is(err, repositories.ErrTransactionNotFound):
		return utils.NotFound(c, "transaction not found")
	default:
		h.logger.Error("status update failed", zap.String("tx_id", c.Params("id")), zap.Error(err))
		return utils.InternalError(c, "failed to update transaction")
	}
}

// Balance returns the derived available balance for a wallet.
func (h *WithdrawalHandler) Balance(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	walletID, err := c.ParamsInt("walletID")
	if err != nil || walletID < 0 {
		return utils.BadRequest(c, "invalid wallet id")
	}

	available, err := h.ledger.AvailableBalance(c.Context(), claims.UserID, uint(walletID))
	if err != nil {
		h.logger.Error("balance query failed", zap.Uint("user_id", claims.UserID), zap.Error(err))
		return utils.InternalError(c, "failed to compute balance")
	}

	return utils.Success(c, fiber.Map{
		"wallet_id": walletID,
		"available": available,
	})
}

// Limits exposes the effective rate-limit configuration.
func (h *WithdrawalHandler) Limits(c *fiber.Ctx) error {
	if _, err := extractUserClaims(c); err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	cfg := h.limiter.Limits()
	return utils.Success(c, fiber.Map{
		"burst": fiber.Map{
			"max_requests": cfg.BurstMax,
			"window":       cfg.BurstWindow.String(),
		},
		"per_channel_per_minute": cfg.DefaultChannel.MaxPerMinute,
		"high_value": fiber.Map{
			"threshold": cfg.HighValueThreshold,
			"cooldown":  cfg.HighValueWindow.String(),
		},
		"hourly": fiber.Map{
			"max_requests": cfg.HourlyMaxCount,
			"max_amount":   cfg.HourlyMaxAmount,
		},
		"daily": fiber.Map{
			"max_requests": cfg.DailyMaxCount,
			"max_amount":   cfg.DailyMaxAmount,
		},
	})
}
