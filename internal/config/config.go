package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	S3        S3Config
	Jobs      JobsConfig
	Worker    WorkerConfig
	Stream    StreamConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	CORSOrigins string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	ForcePathStyle  bool
	PresignExpiry   int // seconds
}

type JobsConfig struct {
	TTLSeconds int
}

// TTL returns the job record time-to-live as a duration.
func (c JobsConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type WorkerConfig struct {
	Concurrency  int
	MaxRetry     int
	DelayEnabled bool
	DelayMinMS   int
	DelayMaxMS   int
}

type StreamConfig struct {
	HeartbeatSeconds int
}

// HeartbeatInterval returns the keepalive period for status streams.
func (c StreamConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int
}

// Window returns the rate limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.cors_origins", "CORS_ORIGINS")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("s3.region", "S3_REGION")
	_ = viper.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = viper.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = viper.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("s3.bucket", "S3_BUCKET_NAME")
	_ = viper.BindEnv("s3.force_path_style", "S3_FORCE_PATH_STYLE")
	_ = viper.BindEnv("s3.presign_expiry", "PRESIGNED_URL_EXPIRY_SECONDS")
	_ = viper.BindEnv("jobs.ttl_seconds", "JOB_TTL_SECONDS")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.max_retry", "WORKER_MAX_RETRY")
	_ = viper.BindEnv("worker.delay_enabled", "DOWNLOAD_DELAY_ENABLED")
	_ = viper.BindEnv("worker.delay_min_ms", "DOWNLOAD_DELAY_MIN_MS")
	_ = viper.BindEnv("worker.delay_max_ms", "DOWNLOAD_DELAY_MAX_MS")
	_ = viper.BindEnv("stream.heartbeat_seconds", "STREAM_HEARTBEAT_SECONDS")
	_ = viper.BindEnv("ratelimit.max_requests", "RATE_LIMIT_MAX_REQUESTS")
	_ = viper.BindEnv("ratelimit.window_seconds", "RATE_LIMIT_WINDOW_SECONDS")

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.cors_origins", "*")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.force_path_style", false)
	viper.SetDefault("s3.presign_expiry", 3600)
	viper.SetDefault("jobs.ttl_seconds", 86400)
	viper.SetDefault("worker.concurrency", 5)
	viper.SetDefault("worker.max_retry", 3)
	viper.SetDefault("worker.delay_enabled", true)
	viper.SetDefault("worker.delay_min_ms", 1000)
	viper.SetDefault("worker.delay_max_ms", 5000)
	viper.SetDefault("stream.heartbeat_seconds", 30)
	viper.SetDefault("ratelimit.max_requests", 100)
	viper.SetDefault("ratelimit.window_seconds", 60)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        viper.GetString("server.port"),
			Env:         viper.GetString("server.env"),
			LogLevel:    viper.GetString("server.log_level"),
			CORSOrigins: viper.GetString("server.cors_origins"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		S3: S3Config{
			Region:          viper.GetString("s3.region"),
			Endpoint:        viper.GetString("s3.endpoint"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
			Bucket:          viper.GetString("s3.bucket"),
			ForcePathStyle:  viper.GetBool("s3.force_path_style"),
			PresignExpiry:   viper.GetInt("s3.presign_expiry"),
		},
		Jobs: JobsConfig{
			TTLSeconds: viper.GetInt("jobs.ttl_seconds"),
		},
		Worker: WorkerConfig{
			Concurrency:  viper.GetInt("worker.concurrency"),
			MaxRetry:     viper.GetInt("worker.max_retry"),
			DelayEnabled: viper.GetBool("worker.delay_enabled"),
			DelayMinMS:   viper.GetInt("worker.delay_min_ms"),
			DelayMaxMS:   viper.GetInt("worker.delay_max_ms"),
		},
		Stream: StreamConfig{
			HeartbeatSeconds: viper.GetInt("stream.heartbeat_seconds"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   viper.GetInt("ratelimit.max_requests"),
			WindowSeconds: viper.GetInt("ratelimit.window_seconds"),
		},
	}

	return cfg, nil
}
