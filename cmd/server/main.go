package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
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
	"github.com/fetchvault/api/internal/worker"
	"github.com/fetchvault/api/pkg/response"
)

// @title          FetchVault API
// @version        1.0
// @description    Async file download API with job queue, SSE streaming and polling support.
// @host           localhost:3000
// @BasePath       /
// @schemes        http https
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize S3 client (runs in mock mode when no bucket is configured)
	s3Client, err := client.NewS3Client(&cfg.S3)
	if err != nil {
		log.Fatalf("Failed to initialize S3 client: %v", err)
	}
	if cfg.S3.Bucket == "" {
		log.Println("Info: S3 bucket not configured, using mock storage")
	}

	// Initialize validator
	validate := validator.New()

	// Initialize core components
	jobStore := store.New(redisClient, cfg.Jobs.TTL())
	publisher := pubsub.NewPublisher(redisClient)
	queueClient := queue.NewClient(asynqClient, cfg.Worker.MaxRetry, cfg.Jobs.TTL())

	// Initialize services and handlers
	downloadService := service.NewDownloadService(jobStore, queueClient, publisher)
	downloadHandler := handler.NewDownloadHandler(downloadService, s3Client, validate)
	streamHandler := handler.NewStreamHandler(downloadService, cfg.Stream.HeartbeatInterval())
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		redisOK := redisClient.Ping(c.Context()).Err() == nil
		storageOK := s3Client.Health(c.Context())

		status := "healthy"
		httpStatus := fiber.StatusOK
		if !redisOK || !storageOK {
			status = "unhealthy"
			httpStatus = fiber.StatusServiceUnavailable
		}

		return c.Status(httpStatus).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"storage": checkLabel(storageOK),
				"redis":   checkLabel(redisOK),
			},
		})
	})

	// Download API routes
	v1 := app.Group("/v1/download", rateLimiter.DownloadLimit(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window()))
	v1.Post("/initiate", downloadHandler.Initiate)
	v1.Post("/check", downloadHandler.Check)
	v1.Get("/status/:jobId", downloadHandler.Status)
	v1.Get("/stream/:jobId", streamHandler.StreamSSE)
	v1.Get("/:jobId", downloadHandler.Redirect)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/download/:jobId", websocket.New(streamHandler.StreamWS))

	// Start Asynq worker server
	asynqServer := queue.NewServer(cfg)
	go startWorkerServer(asynqServer, cfg, jobStore, publisher, s3Client)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		asynqServer.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s (env: %s, redis: %s)", addr, cfg.Server.Env, cfg.Redis.Addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	srv *asynq.Server,
	cfg *config.Config,
	jobStore *store.Store,
	publisher *pubsub.Publisher,
	storage client.Storage,
) {
	downloadWorker := worker.NewDownloadWorker(jobStore, publisher, storage, cfg.Worker)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeDownload, downloadWorker.ProcessTask)

	log.Printf("Worker started: concurrency=%d, max retries=%d", cfg.Worker.Concurrency, cfg.Worker.MaxRetry)
	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func checkLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
