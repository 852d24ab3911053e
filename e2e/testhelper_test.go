package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agentarena/api/internal/auth"
	"github.com/agentarena/api/internal/client"
	"github.com/agentarena/api/internal/config"
	"github.com/agentarena/api/internal/domain"
	"github.com/agentarena/api/internal/handler"
	"github.com/agentarena/api/internal/middleware"
	"github.com/agentarena/api/internal/queue"
	"github.com/agentarena/api/internal/runner"
	"github.com/agentarena/api/internal/service"
	ws "github.com/agentarena/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// stubReply is what every stub provider answers with.
const stubReply = "Classification: 1\nConfidence: 0.85\nReasoning: The article cites verifiable sources.\nAgreement Score: 0.9\nReason: consistent evidence"

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	queue      *queue.Queue
	summaries  *queue.FileSummaryWriter
	resultsDir string
	calls      *atomic.Int64
}

// setupApp wires the same stack as main.go. Providers point at a local
// OpenAI-compatible stub and results go to a temp dir.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	calls := &atomic.Int64{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "stub",
			"model": "stub-model",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": stubReply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(upstream.Close)

	provider := config.ProviderConfig{
		APIKey:   "test-key",
		BaseURL:  upstream.URL,
		Model:    "stub-model",
		RPMLimit: 0, // unlimited
		Kind:     config.KindOpenAICompatible,
	}
	registry := client.NewRegistry(map[string]config.ProviderConfig{
		"openai":   provider,
		"together": provider,
	}, 0.7, logger)

	catalogue, err := domain.Load()
	if err != nil {
		t.Fatalf("failed to load catalogue: %v", err)
	}

	resultsDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	experimentRunner := runner.New(registry, catalogue, runner.Options{
		ResultsDir:        resultsDir,
		DatasetsDir:       t.TempDir(),
		RowConcurrency:    2,
		DefaultMaxTurns:   2,
		EnableAdversarial: true,
	}, logger)

	summaries := queue.NewFileSummaryWriter(resultsDir, nil, logger)
	q := queue.New(experimentRunner,
		queue.WithMaxConcurrent(2),
		queue.WithPollInterval(10*time.Millisecond),
		queue.WithErrorBackoff(10*time.Millisecond),
		queue.WithLogger(logger),
		queue.WithNotifier(hub),
		queue.WithSummaryWriter(summaries),
		queue.WithRecorder(queue.NewRecorder()),
	)
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = q.Shutdown(stopCtx)
	})

	svc := service.NewExperimentService(q, catalogue, registry.Available(), service.Settings{
		MaxTurns:          2,
		EnableAdversarial: true,
	}, logger)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})
	handler.Register(app, handler.Routes{
		Experiments: handler.NewExperimentHandler(svc, validator.New()),
		Queue:       handler.NewQueueHandler(svc),
		Config:      handler.NewConfigHandler(svc),
		Health: handler.NewHealthHandler(handler.HealthInfo{
			Providers: registry.Available(),
			Auth:      "legacy",
		}),
		Auth:         handler.NewAuthHandler(nil, testJWTSecret),
		Authenticate: middleware.NewLegacyAuthMiddleware(testJWTSecret).Authenticate(),
		RateLimiter:  middleware.NewRateLimiter(nil, logger),
		Hub:          hub,
	})

	return &testApp{
		app:        app,
		queue:      q,
		summaries:  summaries,
		resultsDir: resultsDir,
		calls:      calls,
	}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.LegacyIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
