package handler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/fetchvault/api/internal/model"
)

// StreamWS handles an upgraded connection on /ws/download/:jobId. Same
// contract as the SSE stream, framed as JSON text messages.
func (h *StreamHandler) StreamWS(c *websocket.Conn) {
	jobID := c.Params("jobId")

	initial, sub, err := h.service.Stream(context.Background(), jobID)
	if err != nil {
		_ = writeWS(c, model.EventConnected, map[string]string{"error": "job not found or expired"})
		_ = c.WriteMessage(websocket.CloseMessage, []byte{})
		return
	}
	defer sub.Close()

	done := make(chan struct{})

	// Writer goroutine; the read loop below only watches for disconnect.
	go func() {
		defer close(done)

		if err := writeWS(c, model.EventConnected, initial); err != nil {
			return
		}
		if initial.Status.Terminal() {
			_ = c.WriteMessage(websocket.CloseMessage, []byte{})
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
				if err := c.WriteJSON(ev); err != nil {
					return
				}
				if ev.Terminal() {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}

			case <-ticker.C:
				// Ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[stream] websocket error for job %s: %v", jobID, err)
			}
			break
		}
	}
	<-done
}

func writeWS(c *websocket.Conn, kind model.EventKind, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.WriteJSON(model.Event{Kind: kind, Data: raw})
}
