package handlers

import (
	"payguard/internal/services/security"
	"payguard/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// SecurityHandler exposes the monitor's aggregates to operators.
type SecurityHandler struct {
	monitor security.Monitor
}

func NewSecurityHandler(monitor security.Monitor) *SecurityHandler {
	return &SecurityHandler{monitor: monitor}
}

func (h *SecurityHandler) Metrics(c *fiber.Ctx) error {
	m := h.monitor.Metrics()
	return utils.Success(c, fiber.Map{
		"checks_performed":      m.ChecksPerformed,
		"rejections":            m.Rejections,
		"alerts_emitted":        m.AlertsEmitted,
		"auto_blocks":           m.AutoBlocks,
		"tracked_failure_users": m.TrackedFailureUsers,
		"stuck_transactions":    m.StuckTransactions,
		"last_sweep_at":         m.LastSweepAt,
	})
}
