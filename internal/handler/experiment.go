package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/agentarena/api/internal/model"
	"github.com/agentarena/api/internal/service"
	"github.com/agentarena/api/pkg/response"
)

type ExperimentHandler struct {
	service   *service.ExperimentService
	validator *validator.Validate
}

func NewExperimentHandler(svc *service.ExperimentService, v *validator.Validate) *ExperimentHandler {
	return &ExperimentHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/experiments/start
func (h *ExperimentHandler) Start(c *fiber.Ctx) error {
	var req model.ExperimentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.UserContext(), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// StartBatch handles POST /api/experiments/batch
func (h *ExperimentHandler) StartBatch(c *fiber.Ctx) error {
	var req model.BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartBatch(c.UserContext(), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// List handles GET /api/experiments
func (h *ExperimentHandler) List(c *fiber.Ctx) error {
	experiments := h.service.List()
	return response.OK(c, fiber.Map{
		"experiments": experiments,
		"total":       len(experiments),
	})
}

// Status handles GET /api/experiments/:id/status
func (h *ExperimentHandler) Status(c *fiber.Ctx) error {
	job, err := h.service.Status(c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, job)
}

// Cancel handles DELETE /api/experiments/:id
func (h *ExperimentHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.Cancel(id); err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, fiber.Map{"message": "Experiment " + id + " cancelled successfully"})
}
