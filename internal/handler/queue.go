package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentarena/api/internal/service"
	"github.com/agentarena/api/pkg/response"
)

type QueueHandler struct {
	service *service.ExperimentService
}

func NewQueueHandler(svc *service.ExperimentService) *QueueHandler {
	return &QueueHandler{service: svc}
}

// Status handles GET /api/queue/status
func (h *QueueHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, h.service.QueueStatus())
}

// Metrics handles GET /api/queue/metrics
func (h *QueueHandler) Metrics(c *fiber.Ctx) error {
	return response.OK(c, h.service.QueueMetrics())
}

// Start handles POST /api/queue/start
func (h *QueueHandler) Start(c *fiber.Ctx) error {
	if !h.service.StartQueue() {
		return response.OK(c, fiber.Map{"message": "Queue is already running"})
	}
	return response.OK(c, fiber.Map{"message": "Queue started"})
}

// Stop handles POST /api/queue/stop
func (h *QueueHandler) Stop(c *fiber.Ctx) error {
	h.service.StopQueue()
	return response.OK(c, fiber.Map{"message": "Queue stopped"})
}

// Pause handles POST /api/queue/pause
func (h *QueueHandler) Pause(c *fiber.Ctx) error {
	if !h.service.PauseQueue() {
		return response.Conflict(c, "Queue is not running")
	}
	return response.OK(c, fiber.Map{"message": "Queue paused"})
}

// Resume handles POST /api/queue/resume
func (h *QueueHandler) Resume(c *fiber.Ctx) error {
	if !h.service.ResumeQueue() {
		return response.Conflict(c, "Queue is not paused")
	}
	return response.OK(c, fiber.Map{"message": "Queue resumed"})
}

// Batches handles GET /api/queue/batches
func (h *QueueHandler) Batches(c *fiber.Ctx) error {
	batches := h.service.Batches()
	return response.OK(c, fiber.Map{
		"batches": batches,
		"total":   len(batches),
	})
}

// Batch handles GET /api/queue/batches/:id
func (h *QueueHandler) Batch(c *fiber.Ctx) error {
	batch, err := h.service.Batch(c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, batch)
}

// CancelBatch handles DELETE /api/queue/batches/:id
func (h *QueueHandler) CancelBatch(c *fiber.Ctx) error {
	result, err := h.service.CancelBatch(c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}
