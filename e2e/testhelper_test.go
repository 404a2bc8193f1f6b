package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/auth"
	"github.com/bestfriendai/SupaSecret-sub010/internal/capture"
	"github.com/bestfriendai/SupaSecret-sub010/internal/handler"
	"github.com/bestfriendai/SupaSecret-sub010/internal/middleware"
	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
	"github.com/bestfriendai/SupaSecret-sub010/internal/pipeline"
	"github.com/bestfriendai/SupaSecret-sub010/internal/service"
	"github.com/bestfriendai/SupaSecret-sub010/internal/storage"
)

const testJWTSecret = "test-secret-for-e2e"

// nopNotifier drops pipeline events; handler tests do not exercise the hub.
type nopNotifier struct{}

func (nopNotifier) NotifyProgress(string, model.Stage, float64, string) {}
func (nopNotifier) NotifyStage(string, model.Stage)                     {}
func (nopNotifier) NotifyComplete(string, interface{})                  {}
func (nopNotifier) NotifyError(string, model.Stage, string, string)     {}

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	manager *pipeline.Manager
}

// setupApp creates a Fiber app identical to main.go but with unconfigured
// external clients and a stub capture device, so everything runs locally.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost — must be running)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	// Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	scratch, err := storage.NewScratchStore(t.TempDir())
	if err != nil {
		t.Fatalf("scratch store: %v", err)
	}

	device := &capture.StubDevice{}
	manager := pipeline.NewManager(device, scratch, nopNotifier{}, time.Minute, logrus.NewEntry(log))
	pipelineService := service.NewPipelineService(redisClient, asynqClient, manager)

	// Handlers
	sessionHandler := handler.NewSessionHandler(manager, pipelineService, validate)
	jobsHandler := handler.NewJobsHandler(pipelineService)

	// Auth handler (for /auth/verify)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware — legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"transform":  false,
				"transcribe": false,
				"r2":         false,
				"auth":       true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	sessions := api.Group("/sessions")
	sessions.Post("/", rateLimiter.SessionLimit(10000), sessionHandler.Start)
	sessions.Get("/:id", sessionHandler.Get)
	sessions.Post("/:id/stop", sessionHandler.Stop)
	sessions.Post("/:id/anonymize", sessionHandler.Anonymize)
	sessions.Post("/:id/captions", sessionHandler.Captions)
	sessions.Post("/:id/publish", rateLimiter.PublishLimit(10000), sessionHandler.Publish)
	sessions.Post("/:id/discard", sessionHandler.Discard)
	sessions.Post("/:id/retake", sessionHandler.Retake)

	jobs := api.Group("/jobs")
	jobs.Get("/status/:jobId", jobsHandler.Status)
	jobs.Get("/result/:jobId", jobsHandler.Result)
	jobs.Post("/cancel/:jobId", jobsHandler.Cancel)

	return &testApp{app: app, manager: manager}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "supasecret-api",
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
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
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
