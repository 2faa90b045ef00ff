package model

// DownloadInitiateRequest is the body of POST /v1/download/initiate.
type DownloadInitiateRequest struct {
	FileIDs []int64 `json:"file_ids" validate:"required,min=1,max=1000,dive,gte=10000,lte=100000000"`
}

// DownloadInitiateResponse acknowledges an accepted download job.
type DownloadInitiateResponse struct {
	JobID                string    `json:"jobId"`
	Status               JobStatus `json:"status"`
	TotalFileIDs         int       `json:"totalFileIds"`
	EstimatedTimeSeconds int       `json:"estimatedTimeSeconds"`
}

// DownloadCheckRequest is the body of POST /v1/download/check.
type DownloadCheckRequest struct {
	FileID int64 `json:"file_id" validate:"required,gte=10000,lte=100000000"`
}

// DownloadCheckResponse reports single-file availability.
type DownloadCheckResponse struct {
	FileID    int64   `json:"file_id"`
	Available bool    `json:"available"`
	S3Key     *string `json:"s3Key"`
	Size      *int64  `json:"size"`
}
