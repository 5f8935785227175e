package models

import "time"

// Event types
const (
	EventTypeRawRecord     = "RAW_RECORD"
	EventTypeStatusChanged = "RELEASE_STATUS_CHANGED"
	EventTypeRunSummary    = "INGEST_RUN_SUMMARY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RawRecordEvent carries a source record through the intake topic. Messages
// are keyed by identity key so all records for one release land on the same
// partition and are consumed in order.
type RawRecordEvent struct {
	BaseEvent
	Source SourceContext `json:"source"`
	Record RawRecord     `json:"record"`
}

// StatusChangedEvent is emitted once per release whose status changes between
// two consecutive resolutions. Consumed by the alert dispatcher.
type StatusChangedEvent struct {
	BaseEvent
	IdentityKey    string    `json:"identity_key"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	ObservedAt     time.Time `json:"observed_at"`
}

// RunSummaryEvent is published after each batch ingest completes
type RunSummaryEvent struct {
	BaseEvent
	RunID    string `json:"run_id"`
	SourceID string `json:"source_id"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Errored  int    `json:"errored"`
}
