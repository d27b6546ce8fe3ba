package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

// SQLiteStore handles SQLite database operations. Timestamps are stored as
// unix nanoseconds so range filters compare integers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/medindex.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/medindex.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer per database file; realtime loops share this handle.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS topic_cursors (
		topic_id TEXT PRIMARY KEY,
		last_processed_sequence INTEGER NOT NULL DEFAULT 0,
		last_processed_timestamp TEXT NOT NULL DEFAULT '',
		last_processed_message_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		total_processed INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		last_error_at INTEGER,
		sync_started_at INTEGER,
		sync_completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS indexed_records (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		topic_id TEXT NOT NULL,
		consensus_timestamp TEXT NOT NULL,
		consensus_at INTEGER NOT NULL,
		sequence_number INTEGER NOT NULL,
		record_type TEXT NOT NULL,
		patient_ref TEXT,
		provider_ref TEXT,
		content_location_ref TEXT,
		content_hash TEXT,
		token_ref TEXT,
		verified INTEGER NOT NULL DEFAULT 0,
		type_metadata TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'active',
		shared_with TEXT NOT NULL DEFAULT '[]',
		indexed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_topic ON indexed_records(topic_id, sequence_number);
	CREATE INDEX IF NOT EXISTS idx_records_type ON indexed_records(record_type);
	CREATE INDEX IF NOT EXISTS idx_records_status ON indexed_records(status);
	CREATE INDEX IF NOT EXISTS idx_records_consensus_at ON indexed_records(consensus_at);
	CREATE INDEX IF NOT EXISTS idx_records_indexed_at ON indexed_records(indexed_at);

	CREATE TABLE IF NOT EXISTS stats_snapshots (
		snapshot_date TEXT PRIMARY KEY,
		total_records INTEGER NOT NULL DEFAULT 0,
		records_by_status TEXT NOT NULL DEFAULT '{}',
		records_by_type TEXT NOT NULL DEFAULT '{}',
		new_records INTEGER NOT NULL DEFAULT 0,
		verified_records INTEGER NOT NULL DEFAULT 0,
		verification_rate REAL NOT NULL DEFAULT 0,
		total_shares INTEGER NOT NULL DEFAULT 0,
		consented_shares INTEGER NOT NULL DEFAULT 0,
		tokenized_records INTEGER NOT NULL DEFAULT 0,
		unique_patients INTEGER NOT NULL DEFAULT 0,
		unique_providers INTEGER NOT NULL DEFAULT 0,
		active_patients INTEGER NOT NULL DEFAULT 0,
		active_topics INTEGER NOT NULL DEFAULT 0,
		total_messages INTEGER NOT NULL DEFAULT 0,
		messages_today INTEGER NOT NULL DEFAULT 0,
		historical INTEGER NOT NULL DEFAULT 0,
		computed_at INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCursor(row rowScanner) (*models.Cursor, error) {
	c := &models.Cursor{}
	var status string
	var lastErrorAt, syncStarted, syncCompleted sql.NullInt64
	var created, updated int64
	err := row.Scan(
		&c.TopicID,
		&c.LastProcessedSequence,
		&c.LastProcessedTimestamp,
		&c.LastProcessedMessageID,
		&status,
		&c.TotalProcessed,
		&c.LastError,
		&lastErrorAt,
		&syncStarted,
		&syncCompleted,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}
	c.Status = models.CursorStatus(status)
	c.LastErrorAt = nullTime(lastErrorAt)
	c.SyncStartedAt = nullTime(syncStarted)
	c.SyncCompletedAt = nullTime(syncCompleted)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return c, nil
}

// GetCursor retrieves the cursor of a topic.
func (s *SQLiteStore) GetCursor(ctx context.Context, topicID string) (*models.Cursor, error) {
	c, err := scanSQLiteCursor(s.db.QueryRowContext(ctx, `
		SELECT `+cursorColumns+` FROM topic_cursors WHERE topic_id = ?
	`, topicID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// EnsureCursor creates the cursor of a topic if it does not exist.
func (s *SQLiteStore) EnsureCursor(ctx context.Context, topicID string, now time.Time) (*models.Cursor, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO topic_cursors (topic_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, topicID, string(models.CursorActive), nanos(now), nanos(now))
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	c, err := s.GetCursor(ctx, topicID)
	if err != nil {
		return nil, false, err
	}
	return c, n == 1, nil
}

// ListCursors retrieves every cursor ordered by topic.
func (s *SQLiteStore) ListCursors(ctx context.Context) ([]models.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cursorColumns+` FROM topic_cursors ORDER BY topic_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cursors []models.Cursor
	for rows.Next() {
		c, err := scanSQLiteCursor(rows)
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, *c)
	}
	return cursors, rows.Err()
}

// MarkSyncing flags a topic as being backfilled.
func (s *SQLiteStore) MarkSyncing(ctx context.Context, topicID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE topic_cursors SET status = ?, sync_started_at = ?, updated_at = ? WHERE topic_id = ?
	`, string(models.CursorSyncing), nanos(at), nanos(at), topicID)
	return err
}

// MarkSynced flags a topic as caught up.
func (s *SQLiteStore) MarkSynced(ctx context.Context, topicID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE topic_cursors SET status = ?, sync_completed_at = ?, updated_at = ? WHERE topic_id = ?
	`, string(models.CursorActive), nanos(at), nanos(at), topicID)
	return err
}

// MarkError records a failed sync.
func (s *SQLiteStore) MarkError(ctx context.Context, topicID, message string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE topic_cursors SET status = ?, last_error = ?, last_error_at = ?, updated_at = ? WHERE topic_id = ?
	`, string(models.CursorError), message, nanos(at), nanos(at), topicID)
	return err
}

// AdvanceCursor moves a cursor forward and bumps its processed counter.
func (s *SQLiteStore) AdvanceCursor(ctx context.Context, topicID string, pos models.Position, at time.Time) (bool, error) {
	defer observe("sqlite", "advance_cursor", time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE topic_cursors
		SET last_processed_sequence = ?1,
			last_processed_timestamp = ?2,
			last_processed_message_id = ?3,
			total_processed = total_processed + 1,
			updated_at = ?4
		WHERE topic_id = ?5 AND last_processed_sequence < ?1
	`, pos.Sequence, pos.Timestamp, pos.MessageID, nanos(at), topicID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SumProcessed returns the processed counter summed over all topics.
func (s *SQLiteStore) SumProcessed(ctx context.Context) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_processed), 0) FROM topic_cursors`).Scan(&sum)
	return sum, err
}

func scanSQLiteRecord(row rowScanner) (*models.IndexedRecord, error) {
	r := &models.IndexedRecord{}
	var recordType, status, metadata, shared string
	var consensusAt, indexedAt int64
	var verified int
	err := row.Scan(
		&r.ID,
		&r.MessageID,
		&r.TopicID,
		&r.ConsensusTimestamp,
		&consensusAt,
		&r.SequenceNumber,
		&recordType,
		&r.PatientRef,
		&r.ProviderRef,
		&r.ContentLocationRef,
		&r.ContentHash,
		&r.TokenRef,
		&verified,
		&metadata,
		&status,
		&shared,
		&indexedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ConsensusAt = fromNanos(consensusAt)
	r.IndexedAt = fromNanos(indexedAt)
	r.Verified = verified == 1
	r.RecordType = models.RecordType(recordType)
	r.Status = models.RecordStatus(status)
	if err := decodeRecordJSON(r, []byte(metadata), []byte(shared)); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRecord retrieves a record by message id.
func (s *SQLiteStore) GetRecord(ctx context.Context, messageID string) (*models.IndexedRecord, error) {
	defer observe("sqlite", "get_record", time.Now())
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM indexed_records WHERE message_id = ?
	`, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// InsertRecord stores a record unless its message id is already indexed.
func (s *SQLiteStore) InsertRecord(ctx context.Context, rec *models.IndexedRecord) (*models.IndexedRecord, bool, error) {
	defer observe("sqlite", "insert_record", time.Now())
	metadata, shared, err := encodeRecordJSON(rec)
	if err != nil {
		return nil, false, err
	}
	verified := 0
	if rec.Verified {
		verified = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO indexed_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.MessageID, rec.TopicID, rec.ConsensusTimestamp, nanos(rec.ConsensusAt), rec.SequenceNumber,
		string(rec.RecordType), rec.PatientRef, rec.ProviderRef, rec.ContentLocationRef, rec.ContentHash, rec.TokenRef,
		verified, string(metadata), string(rec.Status), string(shared), nanos(rec.IndexedAt),
	)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return rec, true, nil
	}
	existing, err := s.GetRecord(ctx, rec.MessageID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("record %s conflicted but is missing", rec.MessageID)
	}
	return existing, false, nil
}

// CountRecords returns the number of indexed records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexed_records`).Scan(&n)
	return n, err
}

// SummarizeRecords aggregates the record table for a stats snapshot.
func (s *SQLiteStore) SummarizeRecords(ctx context.Context, q models.SummaryQuery) (*models.RecordSummary, error) {
	defer observe("sqlite", "summarize", time.Now())
	sum := emptySummary()

	base, newFilter := "1 = 1", "indexed_at >= ?1 AND indexed_at < ?2"
	if q.AsOf {
		base, newFilter = "consensus_at < ?2", "consensus_at >= ?1 AND consensus_at < ?2"
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN `+newFilter+` THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(verified), 0),
			COALESCE(SUM(CASE WHEN token_ref IS NOT NULL THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT patient_ref),
			COUNT(DISTINCT provider_ref),
			COUNT(DISTINCT CASE WHEN consensus_at >= ?3 AND consensus_at < ?2 THEN patient_ref END)
		FROM indexed_records
		WHERE `+base,
		nanos(q.From), nanos(q.To), nanos(activeSince(q)),
	).Scan(&sum.Total, &sum.New, &sum.Verified, &sum.Tokenized, &sum.UniquePatients, &sum.UniqueProviders, &sum.ActivePatients)
	if err != nil {
		return nil, fmt.Errorf("summarize totals: %w", err)
	}

	groupBase := "1 = 1"
	var groupArgs []any
	if q.AsOf {
		groupBase = "consensus_at < ?"
		groupArgs = []any{nanos(q.To)}
	}

	if err := s.countGroups(ctx, `SELECT status, COUNT(*) FROM indexed_records WHERE `+groupBase+` GROUP BY status`, groupArgs, func(k string, n int64) {
		sum.ByStatus[models.RecordStatus(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("summarize status: %w", err)
	}
	if err := s.countGroups(ctx, `SELECT record_type, COUNT(*) FROM indexed_records WHERE `+groupBase+` GROUP BY record_type`, groupArgs, func(k string, n int64) {
		sum.ByType[models.RecordType(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("summarize types: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN json_extract(g.value, '$.consent') THEN 1 ELSE 0 END), 0)
		FROM indexed_records r, json_each(r.shared_with) AS g
		WHERE `+groupBase,
		groupArgs...,
	).Scan(&sum.Shares, &sum.ConsentedShares)
	if err != nil {
		return nil, fmt.Errorf("summarize shares: %w", err)
	}
	return sum, nil
}

func (s *SQLiteStore) countGroups(ctx context.Context, query string, args []any, set func(string, int64)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		set(key, n)
	}
	return rows.Err()
}

func sqliteSnapshotArgs(snap *models.StatsSnapshot) ([]any, error) {
	args, err := snapshotArgs(snap)
	if err != nil {
		return nil, err
	}
	// JSON columns are TEXT and times are integers here.
	args[2] = string(args[2].(json.RawMessage))
	args[3] = string(args[3].(json.RawMessage))
	historical := 0
	if snap.Historical {
		historical = 1
	}
	args[16] = historical
	args[17] = nanos(snap.ComputedAt)
	return args, nil
}

const sqliteSnapshotValues = `(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// UpsertSnapshot writes the snapshot for its date, replacing any existing row.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap *models.StatsSnapshot) error {
	args, err := sqliteSnapshotArgs(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO stats_snapshots (`+snapshotColumns+`) VALUES `+sqliteSnapshotValues, args...)
	return err
}

// InsertSnapshot writes the snapshot only if its date is not taken.
func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap *models.StatsSnapshot) (bool, error) {
	args, err := sqliteSnapshotArgs(snap)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO stats_snapshots (`+snapshotColumns+`) VALUES `+sqliteSnapshotValues, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SnapshotExists reports whether a snapshot exists for date.
func (s *SQLiteStore) SnapshotExists(ctx context.Context, date time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stats_snapshots WHERE snapshot_date = ?`, dateKey(date)).Scan(&n)
	return n > 0, err
}

func scanSQLiteSnapshot(row rowScanner, loc *time.Location) (*models.StatsSnapshot, error) {
	snap := &models.StatsSnapshot{}
	var date, byStatus, byType string
	var historical int
	var computed int64
	err := row.Scan(
		&date, &snap.TotalRecords, &byStatus, &byType, &snap.NewRecords,
		&snap.VerifiedRecords, &snap.VerificationRate, &snap.TotalShares, &snap.ConsentedShares, &snap.TokenizedRecords,
		&snap.UniquePatients, &snap.UniqueProviders, &snap.ActivePatients, &snap.ActiveTopics, &snap.TotalMessages,
		&snap.MessagesToday, &historical, &computed,
	)
	if err != nil {
		return nil, err
	}
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, err
	}
	snap.Date = d
	snap.Historical = historical == 1
	snap.ComputedAt = fromNanos(computed)
	if err := json.Unmarshal([]byte(byStatus), &snap.RecordsByStatus); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(byType), &snap.RecordsByType); err != nil {
		return nil, err
	}
	return snap, nil
}

// GetSnapshot retrieves the snapshot for date.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, date time.Time) (*models.StatsSnapshot, error) {
	snap, err := scanSQLiteSnapshot(s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM stats_snapshots WHERE snapshot_date = ?
	`, dateKey(date)), date.Location())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}

// ListSnapshots retrieves snapshots between two dates, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, from, to time.Time) ([]models.StatsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM stats_snapshots
		WHERE snapshot_date >= ? AND snapshot_date <= ?
		ORDER BY snapshot_date DESC
	`, dateKey(from), dateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.StatsSnapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows, from.Location())
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}
