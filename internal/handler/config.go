package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/agentarena/api/internal/service"
	"github.com/agentarena/api/pkg/response"
)

type ConfigHandler struct {
	service *service.ExperimentService
}

func NewConfigHandler(svc *service.ExperimentService) *ConfigHandler {
	return &ConfigHandler{service: svc}
}

// Domains handles GET /api/config/domains
func (h *ConfigHandler) Domains(c *fiber.Ctx) error {
	domains := h.service.Domains()
	return response.OK(c, fiber.Map{
		"domains": domains,
		"total":   len(domains),
	})
}

// ToggleDomain handles POST /api/config/domains/:name/toggle?enabled=
func (h *ConfigHandler) ToggleDomain(c *fiber.Ctx) error {
	name := c.Params("name")
	enabled, err := strconv.ParseBool(c.Query("enabled"))
	if err != nil {
		return response.ValidationError(c, "enabled must be true or false", nil)
	}

	if err := h.service.ToggleDomain(name, enabled); err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, fiber.Map{
		"name":    name,
		"enabled": enabled,
	})
}
