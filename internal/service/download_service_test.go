package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchvault/api/internal/model"
	"github.com/fetchvault/api/internal/pubsub"
	"github.com/fetchvault/api/internal/queue"
	"github.com/fetchvault/api/internal/store"
)

func newService(t *testing.T) (*DownloadService, *store.Store) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { asynqClient.Close() })

	jobStore := store.New(rdb, time.Minute)
	publisher := pubsub.NewPublisher(rdb)
	queueClient := queue.NewClient(asynqClient, 3, time.Hour)
	return NewDownloadService(jobStore, queueClient, publisher), jobStore
}

func TestStartCreatesQueuedJob(t *testing.T) {
	svc, jobStore := newService(t)
	ctx := context.Background()
	fileIDs := []int64{70000, 70001, 70002}

	resp, err := svc.Start(ctx, fileIDs)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, model.JobStatusQueued, resp.Status)
	assert.Equal(t, 3, resp.TotalFileIDs)
	assert.Equal(t, 6, resp.EstimatedTimeSeconds)

	// Start must not block on processing: the stored record is still queued.
	job, err := jobStore.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, fileIDs, job.FileIDs)
	assert.Equal(t, 0, job.CompletedFiles)
}

func TestStartGeneratesFreshIDs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, []int64{70000})
	require.NoError(t, err)
	second, err := svc.Start(ctx, []int64{70000})
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, second.JobID)
}

func TestStatusUnknownJob(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Status(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStreamUnknownJob(t *testing.T) {
	svc, _ := newService(t)

	_, _, err := svc.Stream(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStreamReturnsSnapshotAndSubscription(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	resp, err := svc.Start(ctx, []int64{70000, 70001})
	require.NoError(t, err)

	job, sub, err := svc.Stream(ctx, resp.JobID)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, resp.JobID, job.JobID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.NotNil(t, sub.Events())
}
