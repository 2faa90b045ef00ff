package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/fetchvault/api/internal/client"
	"github.com/fetchvault/api/internal/config"
	"github.com/fetchvault/api/internal/handler"
	"github.com/fetchvault/api/internal/middleware"
	"github.com/fetchvault/api/internal/pubsub"
	"github.com/fetchvault/api/internal/queue"
	"github.com/fetchvault/api/internal/service"
	"github.com/fetchvault/api/internal/store"
)

// setupApp creates a Fiber app identical to main.go but with mock object
// storage (no bucket configured). Requires a local Redis; tests are skipped
// when it is not running.
func setupApp(t *testing.T) *fiber.App {
	t.Helper()

	// Redis (localhost — must be running; DB 15 to avoid collisions)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	// Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	// Mock storage — no bucket configured
	s3Client, err := client.NewS3Client(&config.S3Config{
		Region:        "us-east-1",
		PresignExpiry: 3600,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}

	validate := validator.New()

	jobStore := store.New(redisClient, time.Minute)
	publisher := pubsub.NewPublisher(redisClient)
	queueClient := queue.NewClient(asynqClient, 3, time.Hour)

	downloadService := service.NewDownloadService(jobStore, queueClient, publisher)
	downloadHandler := handler.NewDownloadHandler(downloadService, s3Client, validate)
	streamHandler := handler.NewStreamHandler(downloadService, 30*time.Second)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"checks": fiber.Map{
				"storage": "ok",
				"redis":   "ok",
			},
		})
	})

	// Use a very high rate limit so tests don't get blocked
	v1 := app.Group("/v1/download", rateLimiter.DownloadLimit(100000, time.Minute))
	v1.Post("/initiate", downloadHandler.Initiate)
	v1.Post("/check", downloadHandler.Check)
	v1.Get("/status/:jobId", downloadHandler.Status)
	v1.Get("/stream/:jobId", streamHandler.StreamSSE)
	v1.Get("/:jobId", downloadHandler.Redirect)

	return app
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
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

	return app.Test(req, -1)
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

// errorCode extracts the error code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no error object: %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}
