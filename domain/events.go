package domain

import "encoding/json"

const (
	BoardInitialized   = "board-initialized"
	BoardRenamed       = "board-renamed"
	TaskCreated        = "task-created"
	TaskUpdated        = "task-updated"
	TaskMoved          = "task-moved"
	TaskDeleted        = "task-deleted"
	RosterUpdated      = "roster-updated"
	TimelineUpdated    = "timeline-updated"
	CalendarUpdated    = "calendar-updated"
	BoardEntityType    = "board"
	TaskEntityType     = "task"
	RosterEntityType   = "team"
	TimelineEntityType = "timeline"
	CalendarEntityType = "calendar"
)

// ChangeEvent describes a persisted change to a project. Events are published
// after the write succeeded and are informational for downstream consumers.
type ChangeEvent struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"projectId"`
	UserID     string          `json:"userId,omitempty"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId,omitempty"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// TaskMovedEventData is the payload of a task-moved event.
type TaskMovedEventData struct {
	From string `json:"from"`
	To   string `json:"to"`
}
