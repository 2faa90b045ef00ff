package service

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/fetchvault/api/internal/model"
	"github.com/fetchvault/api/internal/pubsub"
	"github.com/fetchvault/api/internal/queue"
	"github.com/fetchvault/api/internal/store"
)

// DownloadService is the orchestration gateway between inbound requests and
// the job machinery: it creates job records and enqueues work, and exposes
// polling and streaming reads. It never mutates a job after creation; that
// is the worker's job.
type DownloadService struct {
	store     *store.Store
	queue     *queue.Client
	publisher *pubsub.Publisher
}

func NewDownloadService(jobStore *store.Store, queueClient *queue.Client, publisher *pubsub.Publisher) *DownloadService {
	return &DownloadService{
		store:     jobStore,
		queue:     queueClient,
		publisher: publisher,
	}
}

// Start creates a job record and enqueues it, returning immediately.
func (s *DownloadService) Start(ctx context.Context, fileIDs []int64) (*model.DownloadInitiateResponse, error) {
	jobID := uuid.New().String()

	if _, err := s.store.Create(ctx, jobID, fileIDs); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, jobID, fileIDs); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return &model.DownloadInitiateResponse{
		JobID:                jobID,
		Status:               model.JobStatusQueued,
		TotalFileIDs:         len(fileIDs),
		EstimatedTimeSeconds: int(math.Ceil(float64(len(fileIDs)) * 2)),
	}, nil
}

// Status returns the current job snapshot. Unknown and expired ids are the
// same store.ErrNotFound.
func (s *DownloadService) Status(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Stream opens a live view on a job: the current snapshot (to be seeded as
// the "connected" event, so a subscriber never misses pre-subscription
// state) plus a subscription for everything published after this point.
// The caller owns the subscription and must close it.
func (s *DownloadService) Stream(ctx context.Context, jobID string) (*model.Job, *pubsub.Subscription, error) {
	// Subscribe before reading the snapshot so nothing published in between
	// is lost; duplicates are fine, gaps are not.
	sub, err := s.publisher.Subscribe(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	return job, sub, nil
}
