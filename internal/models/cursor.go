package models

import "time"

// CursorStatus is the lifecycle state of a topic cursor.
type CursorStatus string

const (
	CursorActive  CursorStatus = "active"
	CursorPaused  CursorStatus = "paused"
	CursorSyncing CursorStatus = "syncing"
	CursorError   CursorStatus = "error"
)

// Cursor is the persisted consumption position for one topic.
type Cursor struct {
	TopicID                string       `json:"topic_id"`
	LastProcessedSequence  int64        `json:"last_processed_sequence"`
	LastProcessedTimestamp string       `json:"last_processed_timestamp,omitempty"`
	LastProcessedMessageID string       `json:"last_processed_message_id,omitempty"`
	Status                 CursorStatus `json:"status"`
	TotalProcessed         int64        `json:"total_processed"`
	LastError              string       `json:"last_error,omitempty"`
	LastErrorAt            *time.Time   `json:"last_error_at,omitempty"`
	SyncStartedAt          *time.Time   `json:"sync_started_at,omitempty"`
	SyncCompletedAt        *time.Time   `json:"sync_completed_at,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// Position is the part of a cursor advanced after each processed message.
type Position struct {
	Sequence  int64
	Timestamp string
	MessageID string
}
