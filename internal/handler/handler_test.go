package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/api/internal/domain"
	"github.com/agentarena/api/internal/middleware"
	"github.com/agentarena/api/internal/model"
	"github.com/agentarena/api/internal/queue"
	"github.com/agentarena/api/internal/service"
)

type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, _ string, _ map[string]interface{}, _ func(int)) (*model.RunOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestApp(t *testing.T) (*fiber.App, *queue.Queue) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	q := queue.New(idleRunner{}, queue.WithLogger(logger), queue.WithPollInterval(10*time.Millisecond))
	q.Start()
	require.True(t, q.Pause())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})

	catalogue, err := domain.Load()
	require.NoError(t, err)
	svc := service.NewExperimentService(q, catalogue, []string{"claude", "openai"}, service.Settings{MaxTurns: 3}, logger)

	app := fiber.New()
	Register(app, Routes{
		Experiments:  NewExperimentHandler(svc, validator.New()),
		Queue:        NewQueueHandler(svc),
		Config:       NewConfigHandler(svc),
		Health:       NewHealthHandler(HealthInfo{Providers: []string{"claude", "openai"}, Auth: "disabled"}),
		Authenticate: middleware.Anonymous(),
		RateLimiter:  middleware.NewRateLimiter(nil, logger),
	})
	return app, q
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

const startBody = `{
	"name": "baseline",
	"domain": "fake_news",
	"experimentType": "dual",
	"models": ["claude", "openai"],
	"datasetContent": "text\nan article long enough to classify"
}`

func TestStartExperiment(t *testing.T) {
	app, q := newTestApp(t)

	status, body := do(t, app, http.MethodPost, "/api/experiments/start", startBody)
	require.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(model.DefaultEstimatedDurationMinutes), body["estimatedDurationMinutes"])

	id, _ := body["experimentId"].(string)
	require.NotEmpty(t, id)
	_, ok := q.Experiment(id)
	assert.True(t, ok)

	status, body = do(t, app, http.MethodGet, "/api/experiments/"+id+"/status", "")
	require.Equal(t, fiber.StatusOK, status)
	cfg, _ := body["config"].(map[string]interface{})
	assert.Equal(t, "fake_news", cfg["domain"])
	assert.NotContains(t, cfg, "dataset_content")

	status, body = do(t, app, http.MethodGet, "/api/experiments", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])
}

func TestStartExperimentValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"name":`, "VALIDATION_ERROR"},
		{"missing models", `{"name":"x","domain":"fake_news","experimentType":"dual","models":[]}`, "VALIDATION_ERROR"},
		{"bad type", `{"name":"x","domain":"fake_news","experimentType":"triple","models":["claude"]}`, "VALIDATION_ERROR"},
		{"bad temperature", `{"name":"x","domain":"fake_news","experimentType":"dual","models":["claude"],"temperature":3}`, "VALIDATION_ERROR"},
		{"bad priority", `{"name":"x","domain":"fake_news","experimentType":"dual","models":["claude"],"priority":11}`, "VALIDATION_ERROR"},
		{"unknown model", `{"name":"x","domain":"fake_news","experimentType":"dual","models":["llama"]}`, "VALIDATION_ERROR"},
		{"unknown domain", `{"name":"x","domain":"weather","experimentType":"dual","models":["claude"]}`, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, q := newTestApp(t)
			status, body := do(t, app, http.MethodPost, "/api/experiments/start", tt.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, tt.code, errorCode(body))
			assert.Empty(t, q.Experiments())
		})
	}
}

func TestValidationDetailsNameFields(t *testing.T) {
	app, _ := newTestApp(t)

	_, body := do(t, app, http.MethodPost, "/api/experiments/start", `{"domain":"fake_news","experimentType":"dual","models":["claude"]}`)
	e, _ := body["error"].(map[string]interface{})
	details, _ := e["details"].(map[string]interface{})
	assert.Equal(t, "required", details["ExperimentRequest.Name"])
}

func TestStartExperimentUnknownBatch(t *testing.T) {
	app, _ := newTestApp(t)

	body := strings.Replace(startBody, `"name": "baseline",`, `"name": "baseline", "batchId": "6f1c1f3e-0000-4000-8000-000000000000",`, 1)
	status, resp := do(t, app, http.MethodPost, "/api/experiments/start", body)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(resp))
}

func TestBatchLifecycle(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := do(t, app, http.MethodPost, "/api/experiments/batch",
		`{"name":"sweep","experiments":[`+startBody+`,`+startBody+`]}`)
	require.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, float64(2), body["totalExperiments"])
	batchID, _ := body["batchId"].(string)
	require.NotEmpty(t, batchID)

	status, body = do(t, app, http.MethodGet, "/api/queue/batches", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])

	status, body = do(t, app, http.MethodGet, "/api/queue/batches/"+batchID, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "sweep", body["name"])
	assert.Equal(t, float64(2), body["totalExperiments"])

	status, body = do(t, app, http.MethodDelete, "/api/queue/batches/"+batchID, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["cancelledExperiments"])

	status, _ = do(t, app, http.MethodGet, "/api/queue/batches/missing", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestCancelExperiment(t *testing.T) {
	app, q := newTestApp(t)

	_, body := do(t, app, http.MethodPost, "/api/experiments/start", startBody)
	id, _ := body["experimentId"].(string)

	status, _ := do(t, app, http.MethodDelete, "/api/experiments/"+id, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, q.Experiments())

	status, body = do(t, app, http.MethodDelete, "/api/experiments/"+id, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, _ = do(t, app, http.MethodGet, "/api/experiments/"+id+"/status", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestQueueControlEndpoints(t *testing.T) {
	app, q := newTestApp(t)

	status, body := do(t, app, http.MethodPost, "/api/queue/pause", "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(body))

	status, _ = do(t, app, http.MethodPost, "/api/queue/resume", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, model.QueueStatusRunning, q.State())

	status, body = do(t, app, http.MethodPost, "/api/queue/start", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Queue is already running", body["message"])

	status, _ = do(t, app, http.MethodPost, "/api/queue/stop", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, body = do(t, app, http.MethodGet, "/api/queue/status", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "stopped", body["queueStatus"])

	status, _ = do(t, app, http.MethodPost, "/api/queue/resume", "")
	assert.Equal(t, fiber.StatusConflict, status)

	status, body = do(t, app, http.MethodGet, "/api/queue/metrics", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "queueMetrics")
}

func TestDomainEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := do(t, app, http.MethodGet, "/api/config/domains", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])

	status, body = do(t, app, http.MethodPost, "/api/config/domains/fake_news/toggle?enabled=false", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["enabled"])

	// Disabled domains reject new experiments.
	status, _ = do(t, app, http.MethodPost, "/api/experiments/start", startBody)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/api/config/domains/fake_news/toggle?enabled=maybe", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/api/config/domains/weather/toggle?enabled=true", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := do(t, app, http.MethodGet, "/health", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []interface{}{"claude", "openai"}, body["providers"])
	assert.Equal(t, false, body["storage"])
	assert.Equal(t, "disabled", body["auth"])
}
