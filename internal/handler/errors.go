package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/agentarena/api/internal/queue"
	"github.com/agentarena/api/internal/service"
	"github.com/agentarena/api/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Namespace()] = e.Tag()
		}
		return fields
	}
	return nil
}

// serviceError maps service failures onto the error envelope.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, queue.ErrExperimentNotFound):
		return response.NotFound(c, "Experiment not found")
	case errors.Is(err, queue.ErrBatchNotFound):
		return response.NotFound(c, "Batch not found")
	case errors.Is(err, service.ErrDomainNotFound):
		return response.NotFound(c, "Domain not found")
	case errors.Is(err, service.ErrInvalidRequest):
		return response.ValidationError(c, err.Error(), nil)
	}
	return response.ServiceError(c, err.Error())
}
