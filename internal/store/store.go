package store

import (
	"context"
	"time"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

// CursorStore persists per-topic consumption cursors.
type CursorStore interface {
	// GetCursor returns nil, nil when the topic has no cursor.
	GetCursor(ctx context.Context, topicID string) (*models.Cursor, error)
	// EnsureCursor creates an active cursor at sequence 0 unless one exists
	// and returns the stored cursor. created is true on insert.
	EnsureCursor(ctx context.Context, topicID string, now time.Time) (cursor *models.Cursor, created bool, err error)
	ListCursors(ctx context.Context) ([]models.Cursor, error)
	MarkSyncing(ctx context.Context, topicID string, at time.Time) error
	MarkSynced(ctx context.Context, topicID string, at time.Time) error
	MarkError(ctx context.Context, topicID, message string, at time.Time) error
	// AdvanceCursor moves the cursor to pos and increments the processed
	// counter. Positions at or below the stored sequence are ignored and
	// advanced is false.
	AdvanceCursor(ctx context.Context, topicID string, pos models.Position, at time.Time) (advanced bool, err error)
	SumProcessed(ctx context.Context) (int64, error)
}

// RecordStore persists indexed records, unique by message id.
type RecordStore interface {
	// GetRecord returns nil, nil when no record has that message id.
	GetRecord(ctx context.Context, messageID string) (*models.IndexedRecord, error)
	// InsertRecord stores rec unless a record with the same message id is
	// already present. It returns the stored record and whether it was
	// created by this call.
	InsertRecord(ctx context.Context, rec *models.IndexedRecord) (stored *models.IndexedRecord, created bool, err error)
	CountRecords(ctx context.Context) (int64, error)
	SummarizeRecords(ctx context.Context, q models.SummaryQuery) (*models.RecordSummary, error)
}

// SnapshotStore persists daily stats snapshots keyed by date.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap *models.StatsSnapshot) error
	// InsertSnapshot stores snap only if no snapshot exists for its date.
	InsertSnapshot(ctx context.Context, snap *models.StatsSnapshot) (inserted bool, err error)
	SnapshotExists(ctx context.Context, date time.Time) (bool, error)
	// GetSnapshot returns nil, nil when there is no snapshot for date.
	GetSnapshot(ctx context.Context, date time.Time) (*models.StatsSnapshot, error)
	// ListSnapshots returns snapshots with from <= date <= to, newest first.
	ListSnapshots(ctx context.Context, from, to time.Time) ([]models.StatsSnapshot, error)
}

// DataStore defines the interface for persistent storage of cursors,
// records and snapshots. Both PostgresStore and SQLiteStore implement it.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	CursorStore
	RecordStore
	SnapshotStore
}

// emptySummary returns a summary with every status and type key present.
func emptySummary() *models.RecordSummary {
	s := &models.RecordSummary{
		ByStatus: make(map[models.RecordStatus]int64, len(models.RecordStatuses)),
		ByType:   make(map[models.RecordType]int64, len(models.RecordTypes)),
	}
	for _, st := range models.RecordStatuses {
		s.ByStatus[st] = 0
	}
	for _, rt := range models.RecordTypes {
		s.ByType[rt] = 0
	}
	return s
}

// dateKey formats a snapshot date.
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// activeSince returns the lower bound of the active-patient window. A zero
// window yields an empty range.
func activeSince(q models.SummaryQuery) time.Time {
	if q.ActiveWindow <= 0 {
		return q.To
	}
	return q.To.Add(-q.ActiveWindow)
}
