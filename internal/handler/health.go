package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthInfo is the static part of the health report, fixed at startup.
type HealthInfo struct {
	Providers []string
	Storage   bool
	Auth      string
}

type HealthHandler struct {
	info HealthInfo
}

func NewHealthHandler(info HealthInfo) *HealthHandler {
	if info.Providers == nil {
		info.Providers = []string{}
	}
	return &HealthHandler{info: info}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"providers": h.info.Providers,
		"storage":   h.info.Storage,
		"auth":      h.info.Auth,
	})
}
