package model

import (
	"encoding/json"
	"time"
)

// EventKind names a status stream event.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventHeartbeat EventKind = "heartbeat"
)

// Event is the envelope published on a job's update channel. Only progress,
// completed and failed travel over Redis; connected and heartbeat are
// synthesized by the stream endpoints.
type Event struct {
	Kind EventKind       `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// ProgressEventData accompanies a progress event.
type ProgressEventData struct {
	Progress       int `json:"progress"`
	CompletedFiles int `json:"completedFiles"`
	TotalFiles     int `json:"totalFiles"`
}

// CompletedEventData accompanies a completed event.
type CompletedEventData struct {
	DownloadURL    string `json:"downloadUrl"`
	Size           int64  `json:"size"`
	AvailableFiles int    `json:"availableFiles"`
}

// FailedEventData accompanies a failed event.
type FailedEventData struct {
	Error string `json:"error"`
}

// HeartbeatEventData accompanies a heartbeat event.
type HeartbeatEventData struct {
	Timestamp time.Time `json:"timestamp"`
}
