package model

import (
	"math"
	"time"
)

// JobStatus is the lifecycle state of a download job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the full snapshot of a download job as stored in Redis. The same
// shape is served to polling clients and seeded into the status stream.
type Job struct {
	JobID          string     `json:"jobId"`
	Status         JobStatus  `json:"status"`
	FileIDs        []int64    `json:"fileIds"`
	Progress       int        `json:"progress"`
	CompletedFiles int        `json:"completedFiles"`
	TotalFiles     int        `json:"totalFiles"`
	DownloadURL    *string    `json:"downloadUrl"`
	Size           *int64     `json:"size"`
	Error          *string    `json:"error"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
}

// ProgressPercent derives the progress value from the file counters.
func ProgressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// DownloadJobPayload is the self-contained queue task payload. It carries
// everything the worker needs so processing never reads inputs back from
// the job store.
type DownloadJobPayload struct {
	JobID   string  `json:"jobId"`
	FileIDs []int64 `json:"fileIds"`
}
