package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fetchvault/api/internal/model"
)

var (
	// ErrNotFound is returned for job ids that are unknown or whose record
	// TTL has elapsed. The two cases are indistinguishable to callers.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists is returned when Create is called twice for the same
	// job id. Callers generate random ids, so hitting this is a bug.
	ErrAlreadyExists = errors.New("job already exists")
)

// Update carries the fields a caller wants merged into a job snapshot.
// Nil fields are left untouched. Progress is never settable directly; it is
// recomputed from the file counters on every write.
type Update struct {
	Status         *model.JobStatus
	CompletedFiles *int
	DownloadURL    *string
	Size           *int64
	Error          *string
	CompletedAt    *time.Time
}

// Store persists job snapshots in Redis, one record per job id, each with a
// fixed TTL. Writes always rewrite the whole snapshot and reset the TTL, so
// an active job stays alive while an abandoned one eventually expires.
//
// Update is a plain read-merge-write: mutual exclusion per job id is an
// orchestration precondition (the queue dedicates each job to exactly one
// worker invocation), not something the store enforces.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func New(redisClient *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: redisClient, ttl: ttl}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Create writes the initial queued snapshot for a new job.
func (s *Store) Create(ctx context.Context, jobID string, fileIDs []int64) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		JobID:          jobID,
		Status:         model.JobStatusQueued,
		FileIDs:        fileIDs,
		Progress:       0,
		CompletedFiles: 0,
		TotalFiles:     len(fileIDs),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, jobKey(jobID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyExists
	}
	return job, nil
}

// Get returns the current snapshot for a job id.
func (s *Store) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Update merges the given fields into the current snapshot, recomputes
// progress, bumps updatedAt and rewrites the record with a fresh TTL.
// Returns the snapshot as written.
func (s *Store) Update(ctx context.Context, jobID string, u Update) (*model.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.CompletedFiles != nil {
		job.CompletedFiles = *u.CompletedFiles
	}
	if u.DownloadURL != nil {
		job.DownloadURL = u.DownloadURL
	}
	if u.Size != nil {
		job.Size = u.Size
	}
	if u.Error != nil {
		job.Error = u.Error
	}
	if u.CompletedAt != nil {
		job.CompletedAt = u.CompletedAt
	}

	job.Progress = model.ProgressPercent(job.CompletedFiles, job.TotalFiles)
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.redis.Set(ctx, jobKey(jobID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	return job, nil
}
