package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchvault/api/internal/model"
)

// testRedis connects to the local test Redis (DB 15, same convention as the
// e2e suite) and skips the test when it is not running.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCreateAndGet(t *testing.T) {
	s := New(testRedis(t), time.Minute)
	ctx := context.Background()
	jobID := uuid.New().String()
	fileIDs := []int64{70000, 70001, 70002}

	created, err := s.Create(ctx, jobID, fileIDs)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, created.Status)
	assert.Equal(t, 3, created.TotalFiles)
	assert.Equal(t, 0, created.CompletedFiles)
	assert.Equal(t, 0, created.Progress)
	assert.Nil(t, created.DownloadURL)
	assert.Nil(t, created.Size)
	assert.Nil(t, created.Error)
	assert.Nil(t, created.CompletedAt)

	got, err := s.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, got.JobID)
	assert.Equal(t, fileIDs, got.FileIDs)
	assert.Equal(t, model.JobStatusQueued, got.Status)
}

func TestCreateDuplicate(t *testing.T) {
	s := New(testRedis(t), time.Minute)
	ctx := context.Background()
	jobID := uuid.New().String()

	_, err := s.Create(ctx, jobID, []int64{70000})
	require.NoError(t, err)

	_, err = s.Create(ctx, jobID, []int64{70000})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetUnknown(t *testing.T) {
	s := New(testRedis(t), time.Minute)

	_, err := s.Get(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRecomputesProgress(t *testing.T) {
	s := New(testRedis(t), time.Minute)
	ctx := context.Background()
	jobID := uuid.New().String()

	_, err := s.Create(ctx, jobID, []int64{70000, 70001, 70002})
	require.NoError(t, err)

	for completed, wantProgress := range map[int]int{1: 33, 2: 67, 3: 100} {
		completed := completed
		updated, err := s.Update(ctx, jobID, Update{CompletedFiles: &completed})
		require.NoError(t, err)
		assert.Equal(t, wantProgress, updated.Progress)
		assert.GreaterOrEqual(t, updated.CompletedFiles, 0)
		assert.LessOrEqual(t, updated.CompletedFiles, updated.TotalFiles)
	}
}

func TestUpdateMergesPartialFields(t *testing.T) {
	s := New(testRedis(t), time.Minute)
	ctx := context.Background()
	jobID := uuid.New().String()

	created, err := s.Create(ctx, jobID, []int64{70000})
	require.NoError(t, err)

	status := model.JobStatusProcessing
	updated, err := s.Update(ctx, jobID, Update{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, updated.Status)
	// Untouched fields survive the merge
	assert.Equal(t, created.FileIDs, updated.FileIDs)
	assert.Equal(t, created.CreatedAt.Unix(), updated.CreatedAt.Unix())
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	url := "https://example.com/dl"
	size := int64(300)
	now := time.Now().UTC()
	done := model.JobStatusCompleted
	updated, err = s.Update(ctx, jobID, Update{
		Status:      &done,
		DownloadURL: &url,
		Size:        &size,
		CompletedAt: &now,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.DownloadURL)
	assert.Equal(t, url, *updated.DownloadURL)
	require.NotNil(t, updated.Size)
	assert.Equal(t, size, *updated.Size)
	require.NotNil(t, updated.CompletedAt)
}

func TestUpdateUnknown(t *testing.T) {
	s := New(testRedis(t), time.Minute)

	completed := 1
	_, err := s.Update(context.Background(), uuid.New().String(), Update{CompletedFiles: &completed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiryLooksLikeNeverExisted(t *testing.T) {
	s := New(testRedis(t), time.Second)
	ctx := context.Background()
	jobID := uuid.New().String()

	_, err := s.Create(ctx, jobID, []int64{70000})
	require.NoError(t, err)

	time.Sleep(1200 * time.Millisecond)

	_, err = s.Get(ctx, jobID)
	assert.ErrorIs(t, err, ErrNotFound, "expired record must be indistinguishable from an unknown id")
}

func TestUpdateResetsTTL(t *testing.T) {
	s := New(testRedis(t), 2*time.Second)
	ctx := context.Background()
	jobID := uuid.New().String()

	_, err := s.Create(ctx, jobID, []int64{70000})
	require.NoError(t, err)

	// Keep touching the record past its original TTL; liveness must extend.
	for i := 0; i < 3; i++ {
		time.Sleep(900 * time.Millisecond)
		completed := 1
		_, err = s.Update(ctx, jobID, Update{CompletedFiles: &completed})
		require.NoError(t, err)
	}

	_, err = s.Get(ctx, jobID)
	assert.NoError(t, err)
}
