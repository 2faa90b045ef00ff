package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fetchvault/api/internal/config"
	"github.com/fetchvault/api/internal/model"
)

const (
	// TaskTypeDownload is the asynq task type for download jobs.
	TaskTypeDownload = "download:process"

	// QueueDownloads is the asynq queue download tasks are routed to.
	QueueDownloads = "downloads"
)

// Client enqueues download jobs onto the at-least-once asynq queue. The job
// id doubles as the task id, so re-enqueuing the same job is a no-op rather
// than a second processing run.
type Client struct {
	asynq     *asynq.Client
	maxRetry  int
	retention time.Duration
}

func NewClient(asynqClient *asynq.Client, maxRetry int, retention time.Duration) *Client {
	return &Client{
		asynq:     asynqClient,
		maxRetry:  maxRetry,
		retention: retention,
	}
}

// Enqueue hands a download job to the queue. Failed attempts are retried
// with exponential backoff up to the configured cap; after that asynq moves
// the task to its archive rather than retrying forever.
func (c *Client) Enqueue(ctx context.Context, jobID string, fileIDs []int64) error {
	payload, err := json.Marshal(model.DownloadJobPayload{JobID: jobID, FileIDs: fileIDs})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeDownload, payload)
	_, err = c.asynq.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(QueueDownloads),
		asynq.MaxRetry(c.maxRetry),
		asynq.Retention(c.retention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf("[queue] job %s already enqueued, skipping", jobID)
			return nil
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("[queue] enqueued job %s with %d files", jobID, len(fileIDs))
	return nil
}

// NewServer builds the asynq consumer server: a fixed-size worker pool
// draining the downloads queue.
func NewServer(cfg *config.Config) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				QueueDownloads: 10,
			},
			LogLevel: asynqLogLevel(cfg.Server.LogLevel),
		},
	)
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
