package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/fetchvault/api/internal/model"
	"github.com/fetchvault/api/internal/pubsub"
	"github.com/fetchvault/api/internal/service"
	"github.com/fetchvault/api/internal/store"
	"github.com/fetchvault/api/pkg/response"
)

// StreamHandler serves live job status over SSE and WebSocket. Both
// transports drain the same pub/sub subscription: a synthetic "connected"
// event with the current snapshot first, then published events until a
// terminal one, with periodic heartbeats to detect half-open connections.
type StreamHandler struct {
	service   *service.DownloadService
	heartbeat time.Duration
}

func NewStreamHandler(svc *service.DownloadService, heartbeat time.Duration) *StreamHandler {
	return &StreamHandler{
		service:   svc,
		heartbeat: heartbeat,
	}
}

// StreamSSE handles GET /v1/download/stream/:jobId
// @Summary      Stream job updates (SSE)
// @Description  Server-Sent Events stream of connected, progress, heartbeat and terminal events
// @Tags         Download
// @Produce      text/event-stream
// @Param        jobId path string true "Job ID"
// @Success      200
// @Failure      404 {object} response.ErrorResponse
// @Router       /v1/download/stream/{jobId} [get]
func (h *StreamHandler) StreamSSE(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	// The stream writer runs after this handler returns, so the
	// subscription must not be tied to the request context.
	initial, sub, err := h.service.Stream(context.Background(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, fmt.Sprintf("Job %s not found or expired", jobID))
		}
		return response.ServiceError(c, err.Error())
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		h.pumpSSE(w, jobID, initial, sub)
	}))

	return nil
}

func (h *StreamHandler) pumpSSE(w *bufio.Writer, jobID string, initial *model.Job, sub *pubsub.Subscription) {
	if err := writeSSE(w, model.EventConnected, initial); err != nil {
		return
	}
	// A subscriber arriving after the job finished gets the terminal
	// snapshot in "connected" and nothing else.
	if initial.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSERaw(w, string(ev.Kind), ev.Data); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}

		case <-ticker.C:
			hb := model.HeartbeatEventData{Timestamp: time.Now().UTC()}
			if err := writeSSE(w, model.EventHeartbeat, hb); err != nil {
				return
			}
		}
	}
}

func writeSSE(w *bufio.Writer, kind model.EventKind, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("[stream] failed to marshal %s event: %v", kind, err)
		return err
	}
	return writeSSERaw(w, string(kind), raw)
}

func writeSSERaw(w *bufio.Writer, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}
