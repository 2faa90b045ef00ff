package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fetchvault/api/internal/client"
	"github.com/fetchvault/api/internal/config"
	"github.com/fetchvault/api/internal/model"
	"github.com/fetchvault/api/internal/pubsub"
	"github.com/fetchvault/api/internal/store"
)

// ErrNoFilesAvailable is the failure reason recorded when every requested
// file turned out to be unavailable. A designed outcome, not an infra error.
const ErrNoFilesAvailable = "No files available for download"

type availableFile struct {
	fileID int64
	key    string
	size   int64
}

// DownloadWorker processes download jobs pulled off the queue. Each task
// invocation owns its job exclusively for the duration of the pipeline;
// files are checked sequentially so progress events stay ordered.
type DownloadWorker struct {
	store     *store.Store
	publisher *pubsub.Publisher
	storage   client.Storage
	delay     config.WorkerConfig
}

// NewDownloadWorker creates a new download worker.
func NewDownloadWorker(jobStore *store.Store, publisher *pubsub.Publisher, storage client.Storage, delay config.WorkerConfig) *DownloadWorker {
	return &DownloadWorker{
		store:     jobStore,
		publisher: publisher,
		storage:   storage,
		delay:     delay,
	}
}

// ProcessTask handles one delivery of a download task. The queue is
// at-least-once: a redelivered job recomputes from scratch, and a job that
// already reached a terminal state is acked without touching it.
//
// Error contract: a nil return acks the task. Job-level failure (no files
// available) is a terminal status, not an error. Store errors propagate so
// asynq retries with backoff, except NotFound, which no retry can fix.
func (w *DownloadWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.DownloadJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	fileIDs := payload.FileIDs
	started := time.Now()
	log.Printf("[worker] processing job %s with %d files", jobID, len(fileIDs))

	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		return w.wrapStoreErr(jobID, err)
	}
	if job.Status.Terminal() {
		log.Printf("[worker] job %s already %s, skipping redelivery", jobID, job.Status)
		return nil
	}

	// queued -> processing. Resets the counter so a redelivered job counts
	// from zero instead of on top of a previous partial run.
	if err := w.markProcessing(ctx, jobID); err != nil {
		return w.wrapStoreErr(jobID, err)
	}
	w.publisher.Publish(ctx, jobID, model.EventProgress, model.ProgressEventData{
		Progress:       0,
		CompletedFiles: 0,
		TotalFiles:     len(fileIDs),
	})

	// Simulated downstream latency. A plain sleep: jobs are not cancelable
	// mid-delay.
	if d := w.randomDelay(); d > 0 {
		log.Printf("[worker] job %s will take %.1fs to process", jobID, d.Seconds())
		time.Sleep(d)
	}

	completedFiles := 0
	var totalSize int64
	var available []availableFile

	for _, fileID := range fileIDs {
		result, err := w.storage.CheckAvailability(ctx, fileID)
		if err != nil {
			// A failed check excludes the file, never the job.
			log.Printf("[worker] job %s: availability check failed for file %d: %v", jobID, fileID, err)
		} else if result.Available {
			available = append(available, availableFile{fileID: fileID, key: result.Key, size: result.Size})
			totalSize += result.Size
		}

		completedFiles++

		updated, err := w.store.Update(ctx, jobID, store.Update{CompletedFiles: &completedFiles})
		if err != nil {
			return w.wrapStoreErr(jobID, err)
		}
		w.publisher.Publish(ctx, jobID, model.EventProgress, model.ProgressEventData{
			Progress:       updated.Progress,
			CompletedFiles: updated.CompletedFiles,
			TotalFiles:     updated.TotalFiles,
		})

		log.Printf("[worker] job %s: processed %d/%d files", jobID, completedFiles, len(fileIDs))
	}

	if len(available) == 0 {
		if err := w.markFailed(ctx, jobID, ErrNoFilesAvailable); err != nil {
			return w.wrapStoreErr(jobID, err)
		}
		w.publisher.Publish(ctx, jobID, model.EventFailed, model.FailedEventData{Error: ErrNoFilesAvailable})
		log.Printf("[worker] job %s failed: %s (%s)", jobID, ErrNoFilesAvailable, time.Since(started))
		return nil
	}

	// Presign only the first available file; the reported size still sums
	// every available file. Known inconsistency inherited from the product
	// decision to not bundle files into a single archive yet.
	downloadURL, err := w.storage.PresignDownload(ctx, available[0].key)
	if err != nil {
		return fmt.Errorf("failed to presign download for job %s: %w", jobID, err)
	}

	if err := w.markCompleted(ctx, jobID, downloadURL, totalSize); err != nil {
		return w.wrapStoreErr(jobID, err)
	}
	w.publisher.Publish(ctx, jobID, model.EventCompleted, model.CompletedEventData{
		DownloadURL:    downloadURL,
		Size:           totalSize,
		AvailableFiles: len(available),
	})

	log.Printf("[worker] job %s completed: %d/%d files available (%s)", jobID, len(available), len(fileIDs), time.Since(started))
	return nil
}

func (w *DownloadWorker) markProcessing(ctx context.Context, jobID string) error {
	status := model.JobStatusProcessing
	zero := 0
	_, err := w.store.Update(ctx, jobID, store.Update{
		Status:         &status,
		CompletedFiles: &zero,
	})
	return err
}

func (w *DownloadWorker) markCompleted(ctx context.Context, jobID, downloadURL string, size int64) error {
	status := model.JobStatusCompleted
	now := time.Now().UTC()
	_, err := w.store.Update(ctx, jobID, store.Update{
		Status:      &status,
		DownloadURL: &downloadURL,
		Size:        &size,
		CompletedAt: &now,
	})
	return err
}

func (w *DownloadWorker) markFailed(ctx context.Context, jobID, reason string) error {
	status := model.JobStatusFailed
	now := time.Now().UTC()
	_, err := w.store.Update(ctx, jobID, store.Update{
		Status:      &status,
		Error:       &reason,
		CompletedAt: &now,
	})
	return err
}

// wrapStoreErr decides how a store failure propagates to the queue. A job
// record that vanished mid-processing (expired TTL) cannot be recovered by
// retrying, so it skips retry; anything else is infrastructure trouble and
// goes through the normal backoff.
func (w *DownloadWorker) wrapStoreErr(jobID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[worker] job %s vanished mid-processing, not retrying", jobID)
		return fmt.Errorf("job %s: %v: %w", jobID, err, asynq.SkipRetry)
	}
	return fmt.Errorf("job %s: %w", jobID, err)
}

func (w *DownloadWorker) randomDelay() time.Duration {
	if !w.delay.DelayEnabled {
		return 0
	}
	min, max := w.delay.DelayMinMS, w.delay.DelayMaxMS
	if max < min {
		max = min
	}
	ms := rand.Intn(max-min+1) + min
	return time.Duration(ms) * time.Millisecond
}
