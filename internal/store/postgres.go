package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mcnoble1/Medisphere-sub001/internal/metrics"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(backend, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

const cursorColumns = `topic_id, last_processed_sequence, last_processed_timestamp, last_processed_message_id,
	status, total_processed, last_error, last_error_at, sync_started_at, sync_completed_at, created_at, updated_at`

func scanPgCursor(row pgx.Row) (*models.Cursor, error) {
	c := &models.Cursor{}
	var status string
	err := row.Scan(
		&c.TopicID,
		&c.LastProcessedSequence,
		&c.LastProcessedTimestamp,
		&c.LastProcessedMessageID,
		&status,
		&c.TotalProcessed,
		&c.LastError,
		&c.LastErrorAt,
		&c.SyncStartedAt,
		&c.SyncCompletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = models.CursorStatus(status)
	return c, nil
}

// GetCursor retrieves the cursor of a topic.
func (s *PostgresStore) GetCursor(ctx context.Context, topicID string) (*models.Cursor, error) {
	c, err := scanPgCursor(s.pool.QueryRow(ctx, `
		SELECT `+cursorColumns+` FROM topic_cursors WHERE topic_id = $1
	`, topicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// EnsureCursor creates the cursor of a topic if it does not exist.
func (s *PostgresStore) EnsureCursor(ctx context.Context, topicID string, now time.Time) (*models.Cursor, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO topic_cursors (topic_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (topic_id) DO NOTHING
	`, topicID, string(models.CursorActive), now)
	if err != nil {
		return nil, false, err
	}
	c, err := s.GetCursor(ctx, topicID)
	if err != nil {
		return nil, false, err
	}
	return c, tag.RowsAffected() == 1, nil
}

// ListCursors retrieves every cursor ordered by topic.
func (s *PostgresStore) ListCursors(ctx context.Context) ([]models.Cursor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cursorColumns+` FROM topic_cursors ORDER BY topic_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cursors []models.Cursor
	for rows.Next() {
		c, err := scanPgCursor(rows)
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, *c)
	}
	return cursors, rows.Err()
}

// MarkSyncing flags a topic as being backfilled.
func (s *PostgresStore) MarkSyncing(ctx context.Context, topicID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE topic_cursors SET status = $2, sync_started_at = $3, updated_at = $3
		WHERE topic_id = $1
	`, topicID, string(models.CursorSyncing), at)
	return err
}

// MarkSynced flags a topic as caught up.
func (s *PostgresStore) MarkSynced(ctx context.Context, topicID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE topic_cursors SET status = $2, sync_completed_at = $3, updated_at = $3
		WHERE topic_id = $1
	`, topicID, string(models.CursorActive), at)
	return err
}

// MarkError records a failed sync.
func (s *PostgresStore) MarkError(ctx context.Context, topicID, message string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE topic_cursors SET status = $2, last_error = $3, last_error_at = $4, updated_at = $4
		WHERE topic_id = $1
	`, topicID, string(models.CursorError), message, at)
	return err
}

// AdvanceCursor moves a cursor forward and bumps its processed counter.
func (s *PostgresStore) AdvanceCursor(ctx context.Context, topicID string, pos models.Position, at time.Time) (bool, error) {
	defer observe("postgres", "advance_cursor", time.Now())
	tag, err := s.pool.Exec(ctx, `
		UPDATE topic_cursors
		SET last_processed_sequence = $2,
			last_processed_timestamp = $3,
			last_processed_message_id = $4,
			total_processed = total_processed + 1,
			updated_at = $5
		WHERE topic_id = $1 AND last_processed_sequence < $2
	`, topicID, pos.Sequence, pos.Timestamp, pos.MessageID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SumProcessed returns the processed counter summed over all topics.
func (s *PostgresStore) SumProcessed(ctx context.Context) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_processed), 0) FROM topic_cursors`).Scan(&sum)
	return sum, err
}

const recordColumns = `id, message_id, topic_id, consensus_timestamp, consensus_at, sequence_number,
	record_type, patient_ref, provider_ref, content_location_ref, content_hash, token_ref,
	verified, type_metadata, status, shared_with, indexed_at`

// recordSelect reads the uuid primary key as text.
var recordSelect = "id::text" + recordColumns[len("id"):]

func scanPgRecord(row pgx.Row) (*models.IndexedRecord, error) {
	r := &models.IndexedRecord{}
	var recordType, status string
	var metadata, shared []byte
	err := row.Scan(
		&r.ID,
		&r.MessageID,
		&r.TopicID,
		&r.ConsensusTimestamp,
		&r.ConsensusAt,
		&r.SequenceNumber,
		&recordType,
		&r.PatientRef,
		&r.ProviderRef,
		&r.ContentLocationRef,
		&r.ContentHash,
		&r.TokenRef,
		&r.Verified,
		&metadata,
		&status,
		&shared,
		&r.IndexedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RecordType = models.RecordType(recordType)
	r.Status = models.RecordStatus(status)
	if err := decodeRecordJSON(r, metadata, shared); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRecord retrieves a record by message id.
func (s *PostgresStore) GetRecord(ctx context.Context, messageID string) (*models.IndexedRecord, error) {
	defer observe("postgres", "get_record", time.Now())
	r, err := scanPgRecord(s.pool.QueryRow(ctx, `
		SELECT `+recordSelect+` FROM indexed_records WHERE message_id = $1
	`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// InsertRecord stores a record unless its message id is already indexed.
// Uses ON CONFLICT (message_id) DO NOTHING so replays are harmless.
func (s *PostgresStore) InsertRecord(ctx context.Context, rec *models.IndexedRecord) (*models.IndexedRecord, bool, error) {
	defer observe("postgres", "insert_record", time.Now())
	metadata, shared, err := encodeRecordJSON(rec)
	if err != nil {
		return nil, false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO indexed_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (message_id) DO NOTHING
	`,
		rec.ID, rec.MessageID, rec.TopicID, rec.ConsensusTimestamp, rec.ConsensusAt, rec.SequenceNumber,
		string(rec.RecordType), rec.PatientRef, rec.ProviderRef, rec.ContentLocationRef, rec.ContentHash, rec.TokenRef,
		rec.Verified, metadata, string(rec.Status), shared, rec.IndexedAt,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
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
func (s *PostgresStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM indexed_records`).Scan(&n)
	return n, err
}

// SummarizeRecords aggregates the record table for a stats snapshot.
func (s *PostgresStore) SummarizeRecords(ctx context.Context, q models.SummaryQuery) (*models.RecordSummary, error) {
	defer observe("postgres", "summarize", time.Now())
	sum := emptySummary()

	base, newFilter := "TRUE", "indexed_at >= $1 AND indexed_at < $2"
	var baseArgs []any
	if q.AsOf {
		base, newFilter = "consensus_at < $2", "consensus_at >= $1 AND consensus_at < $2"
	}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE `+newFilter+`),
			COUNT(*) FILTER (WHERE verified),
			COUNT(*) FILTER (WHERE token_ref IS NOT NULL),
			COUNT(DISTINCT patient_ref),
			COUNT(DISTINCT provider_ref),
			COUNT(DISTINCT patient_ref) FILTER (WHERE consensus_at >= $3 AND consensus_at < $2)
		FROM indexed_records
		WHERE `+base,
		q.From, q.To, activeSince(q),
	).Scan(&sum.Total, &sum.New, &sum.Verified, &sum.Tokenized, &sum.UniquePatients, &sum.UniqueProviders, &sum.ActivePatients)
	if err != nil {
		return nil, fmt.Errorf("summarize totals: %w", err)
	}

	// Grouped and unwound queries only need the upper bound.
	groupBase := "TRUE"
	if q.AsOf {
		groupBase = "consensus_at < $1"
		baseArgs = []any{q.To}
	}

	if err := s.countGroups(ctx, `SELECT status, COUNT(*) FROM indexed_records WHERE `+groupBase+` GROUP BY status`, baseArgs, func(k string, n int64) {
		sum.ByStatus[models.RecordStatus(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("summarize status: %w", err)
	}
	if err := s.countGroups(ctx, `SELECT record_type, COUNT(*) FROM indexed_records WHERE `+groupBase+` GROUP BY record_type`, baseArgs, func(k string, n int64) {
		sum.ByType[models.RecordType(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("summarize types: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE COALESCE((g->>'consent')::boolean, FALSE))
		FROM indexed_records r, jsonb_array_elements(r.shared_with) AS g
		WHERE `+groupBase,
		baseArgs...,
	).Scan(&sum.Shares, &sum.ConsentedShares)
	if err != nil {
		return nil, fmt.Errorf("summarize shares: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) countGroups(ctx context.Context, query string, args []any, set func(string, int64)) error {
	rows, err := s.pool.Query(ctx, query, args...)
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

const snapshotColumns = `snapshot_date, total_records, records_by_status, records_by_type, new_records,
	verified_records, verification_rate, total_shares, consented_shares, tokenized_records,
	unique_patients, unique_providers, active_patients, active_topics, total_messages,
	messages_today, historical, computed_at`

func snapshotArgs(snap *models.StatsSnapshot) ([]any, error) {
	byStatus, err := json.Marshal(snap.RecordsByStatus)
	if err != nil {
		return nil, err
	}
	byType, err := json.Marshal(snap.RecordsByType)
	if err != nil {
		return nil, err
	}
	return []any{
		dateKey(snap.Date), snap.TotalRecords, json.RawMessage(byStatus), json.RawMessage(byType), snap.NewRecords,
		snap.VerifiedRecords, snap.VerificationRate, snap.TotalShares, snap.ConsentedShares, snap.TokenizedRecords,
		snap.UniquePatients, snap.UniqueProviders, snap.ActivePatients, snap.ActiveTopics, snap.TotalMessages,
		snap.MessagesToday, snap.Historical, snap.ComputedAt,
	}, nil
}

const snapshotValues = `($1::date, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

// UpsertSnapshot writes the snapshot for its date, replacing any existing row.
func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *models.StatsSnapshot) error {
	args, err := snapshotArgs(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO stats_snapshots (`+snapshotColumns+`) VALUES `+snapshotValues+`
		ON CONFLICT (snapshot_date) DO UPDATE SET
			total_records = EXCLUDED.total_records,
			records_by_status = EXCLUDED.records_by_status,
			records_by_type = EXCLUDED.records_by_type,
			new_records = EXCLUDED.new_records,
			verified_records = EXCLUDED.verified_records,
			verification_rate = EXCLUDED.verification_rate,
			total_shares = EXCLUDED.total_shares,
			consented_shares = EXCLUDED.consented_shares,
			tokenized_records = EXCLUDED.tokenized_records,
			unique_patients = EXCLUDED.unique_patients,
			unique_providers = EXCLUDED.unique_providers,
			active_patients = EXCLUDED.active_patients,
			active_topics = EXCLUDED.active_topics,
			total_messages = EXCLUDED.total_messages,
			messages_today = EXCLUDED.messages_today,
			historical = EXCLUDED.historical,
			computed_at = EXCLUDED.computed_at
	`, args...)
	return err
}

// InsertSnapshot writes the snapshot only if its date is not taken.
func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *models.StatsSnapshot) (bool, error) {
	args, err := snapshotArgs(snap)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stats_snapshots (`+snapshotColumns+`) VALUES `+snapshotValues+`
		ON CONFLICT (snapshot_date) DO NOTHING
	`, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SnapshotExists reports whether a snapshot exists for date.
func (s *PostgresStore) SnapshotExists(ctx context.Context, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM stats_snapshots WHERE snapshot_date = $1::date)
	`, dateKey(date)).Scan(&exists)
	return exists, err
}

func scanPgSnapshot(row pgx.Row, loc *time.Location) (*models.StatsSnapshot, error) {
	snap := &models.StatsSnapshot{}
	var date time.Time
	var byStatus, byType []byte
	err := row.Scan(
		&date, &snap.TotalRecords, &byStatus, &byType, &snap.NewRecords,
		&snap.VerifiedRecords, &snap.VerificationRate, &snap.TotalShares, &snap.ConsentedShares, &snap.TokenizedRecords,
		&snap.UniquePatients, &snap.UniqueProviders, &snap.ActivePatients, &snap.ActiveTopics, &snap.TotalMessages,
		&snap.MessagesToday, &snap.Historical, &snap.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.Date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	if err := json.Unmarshal(byStatus, &snap.RecordsByStatus); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(byType, &snap.RecordsByType); err != nil {
		return nil, err
	}
	return snap, nil
}

// GetSnapshot retrieves the snapshot for date.
func (s *PostgresStore) GetSnapshot(ctx context.Context, date time.Time) (*models.StatsSnapshot, error) {
	snap, err := scanPgSnapshot(s.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+` FROM stats_snapshots WHERE snapshot_date = $1::date
	`, dateKey(date)), date.Location())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}

// ListSnapshots retrieves snapshots between two dates, newest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, from, to time.Time) ([]models.StatsSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotColumns+` FROM stats_snapshots
		WHERE snapshot_date >= $1::date AND snapshot_date <= $2::date
		ORDER BY snapshot_date DESC
	`, dateKey(from), dateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.StatsSnapshot
	for rows.Next() {
		snap, err := scanPgSnapshot(rows, from.Location())
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}
