package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fetchvault/api/internal/client"
	"github.com/fetchvault/api/internal/model"
	"github.com/fetchvault/api/internal/service"
	"github.com/fetchvault/api/internal/store"
	"github.com/fetchvault/api/pkg/response"
)

type DownloadHandler struct {
	service   *service.DownloadService
	storage   client.Storage
	validator *validator.Validate
}

func NewDownloadHandler(svc *service.DownloadService, storage client.Storage, v *validator.Validate) *DownloadHandler {
	return &DownloadHandler{
		service:   svc,
		storage:   storage,
		validator: v,
	}
}

// Initiate handles POST /v1/download/initiate
// @Summary      Initiate async download job
// @Description  Creates a download job for a set of file IDs and returns immediately with a jobId
// @Tags         Download
// @Accept       json
// @Produce      json
// @Param        request body model.DownloadInitiateRequest true "File IDs to download"
// @Success      202 {object} model.DownloadInitiateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /v1/download/initiate [post]
func (h *DownloadHandler) Initiate(c *fiber.Ctx) error {
	var req model.DownloadInitiateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.Context(), req.FileIDs)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /v1/download/status/:jobId
// @Summary      Get job status (polling)
// @Description  Polls the current snapshot of a download job. Fallback for clients without SSE
// @Tags         Download
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.Job
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /v1/download/status/{jobId} [get]
func (h *DownloadHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Status(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, fmt.Sprintf("Job %s not found or expired", jobID))
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}

// Redirect handles GET /v1/download/:jobId
// @Summary      Download file
// @Description  Redirects to the presigned URL for direct download. Only works for completed jobs
// @Tags         Download
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      302
// @Failure      404 {object} response.ErrorResponse
// @Router       /v1/download/{jobId} [get]
func (h *DownloadHandler) Redirect(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Status(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, fmt.Sprintf("Job %s not found or expired", jobID))
		}
		return response.ServiceError(c, err.Error())
	}

	if job.Status != model.JobStatusCompleted || job.DownloadURL == nil {
		return response.NotReady(c, fmt.Sprintf("Job %s is not completed yet. Current status: %s", jobID, job.Status))
	}

	return c.Redirect(*job.DownloadURL, fiber.StatusFound)
}

// Check handles POST /v1/download/check
// @Summary      Check download availability
// @Description  Synchronously checks whether a single file ID is available in storage
// @Tags         Download
// @Accept       json
// @Produce      json
// @Param        request body model.DownloadCheckRequest true "File ID to check"
// @Success      200 {object} model.DownloadCheckResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /v1/download/check [post]
func (h *DownloadHandler) Check(c *fiber.Ctx) error {
	var req model.DownloadCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.storage.CheckAvailability(c.Context(), req.FileID)
	if err != nil {
		// Same contract as the worker: a failed check means unavailable.
		result = client.Availability{}
	}

	resp := model.DownloadCheckResponse{
		FileID:    req.FileID,
		Available: result.Available,
	}
	if result.Available {
		resp.S3Key = &result.Key
		resp.Size = &result.Size
	}

	return response.OK(c, resp)
}

func formatValidationErrors(err error) []fiber.Map {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}

	details := make([]fiber.Map, 0, len(ve))
	for _, fe := range ve {
		details = append(details, fiber.Map{
			"field": fe.Field(),
			"rule":  fe.Tag(),
			"value": fe.Param(),
		})
	}
	return details
}
