package handlers

import (
	"payguard/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// SetupRoutes mounts the API. Everything under /api requires a valid JWT.
// Completion callbacks come from the payment rail, not end users, so they
// are restricted to rail and ops accounts; the security metrics endpoint
// requires the ops role.
func SetupRoutes(app *fiber.App, jwtSecret string, withdrawal *WithdrawalHandler, securityH *SecurityHandler, health *HealthHandler) {
	app.Get("/health", health.Check)

	api := app.Group("/api", middleware.Auth(jwtSecret))

	withdrawals := api.Group("/withdrawals")
	withdrawals.Post("/", withdrawal.Create)
	withdrawals.Get("/limits", withdrawal.Limits)
	withdrawals.Post("/:id/complete", middleware.RequireRole("rail", "ops"), withdrawal.Complete)
	withdrawals.Post("/:id/fail", middleware.RequireRole("rail", "ops"), withdrawal.Fail)

	api.Get("/wallets/:walletID/balance", withdrawal.Balance)

	api.Get("/security/metrics", middleware.RequireRole("ops"), securityH.Metrics)
}
