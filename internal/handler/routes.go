package handler

import (
	"net/http"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/agentarena/api/internal/config"
	"github.com/agentarena/api/internal/middleware"
	ws "github.com/agentarena/api/internal/websocket"
)

// Routes is everything the HTTP surface is assembled from. Auth, Metrics and
// Hub are optional.
type Routes struct {
	Experiments  *ExperimentHandler
	Queue        *QueueHandler
	Config       *ConfigHandler
	Health       *HealthHandler
	Auth         *AuthHandler
	Authenticate fiber.Handler
	RateLimiter  *middleware.RateLimiter
	Limits       config.RateLimitConfig
	Metrics      http.Handler
	Hub          *ws.Hub
}

// Register mounts every route on app.
func Register(app *fiber.App, r Routes) {
	app.Get("/health", r.Health.Check)
	if r.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(r.Metrics))
	}
	if r.Auth != nil {
		app.Get("/auth/verify", r.Auth.Verify)
	}

	// API routes
	api := app.Group("/api", r.Authenticate)

	experiments := api.Group("/experiments")
	experiments.Post("/start", r.RateLimiter.ExperimentsLimit(r.Limits.ExperimentsPerHour), r.Experiments.Start)
	experiments.Post("/batch", r.RateLimiter.BatchesLimit(r.Limits.BatchesPerHour), r.Experiments.StartBatch)
	experiments.Get("/", r.Experiments.List)
	experiments.Get("/:id/status", r.Experiments.Status)
	experiments.Delete("/:id", r.Experiments.Cancel)

	queue := api.Group("/queue")
	queue.Get("/status", r.Queue.Status)
	queue.Get("/metrics", r.Queue.Metrics)
	queue.Post("/start", r.Queue.Start)
	queue.Post("/stop", r.Queue.Stop)
	queue.Post("/pause", r.Queue.Pause)
	queue.Post("/resume", r.Queue.Resume)
	queue.Get("/batches", r.Queue.Batches)
	queue.Get("/batches/:id", r.Queue.Batch)
	queue.Delete("/batches/:id", r.Queue.CancelBatch)

	cfg := api.Group("/config")
	cfg.Get("/domains", r.Config.Domains)
	cfg.Post("/domains/:name/toggle", r.Config.ToggleDomain)

	if r.Hub == nil {
		return
	}

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// TODO: authenticate WebSocket subscribers with a token query parameter.
	app.Get("/ws/experiments/:id", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, ws.JobTopic(c.Params("id")))
	}))
	app.Get("/ws/batches/:id", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, ws.BatchTopic(c.Params("id")))
	}))
}
