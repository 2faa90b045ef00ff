package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchvault/api/internal/model"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	rdb.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { asynqClient.Close() })
	return NewClient(asynqClient, 3, time.Hour)
}

func TestEnqueue(t *testing.T) {
	c := newTestClient(t)

	err := c.Enqueue(context.Background(), uuid.New().String(), []int64{70000, 70001})
	require.NoError(t, err)
}

func TestEnqueueSameJobIDIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	jobID := uuid.New().String()

	require.NoError(t, c.Enqueue(ctx, jobID, []int64{70000}))
	// Second enqueue of the same job id must not create a second run. A
	// different payload makes a silent overwrite detectable below.
	require.NoError(t, c.Enqueue(ctx, jobID, []int64{70000, 70007}))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	defer inspector.Close()

	info, err := inspector.GetTaskInfo(QueueDownloads, jobID)
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, info.State)

	var payload model.DownloadJobPayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	assert.Equal(t, jobID, payload.JobID)
	assert.Equal(t, []int64{70000}, payload.FileIDs, "first task must survive the duplicate enqueue untouched")
}
