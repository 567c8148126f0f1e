package handlers

import (
	"payguard/internal/repositories"
	"payguard/internal/repositories/cache"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness of the service and its backends. The
// redis client is optional; a nil client means the in-memory lock and
// counter backends are in use.
type HealthHandler struct {
	redis *redis.Client
}

func NewHealthHandler(redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{redis: redisClient}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	services := fiber.Map{}
	healthy := true

	dbStatus := "connected"
	if sqlDB, err := repositories.DB.DB(); err != nil || sqlDB.PingContext(c.Context()) != nil {
		dbStatus = "unavailable"
		healthy = false
	}
	services["database"] = dbStatus

	if h.redis != nil {
		redisStatus := "connected"
		if err := cache.HealthCheck(c.Context(), h.redis); err != nil {
			// Lock and counter backends fail open; redis being down degrades
			// but does not take the service out of rotation.
			redisStatus = "unavailable"
		}
		services["redis"] = redisStatus
	}

	status := "ok"
	code := fiber.StatusOK
	if !healthy {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"services": services,
	})
}
