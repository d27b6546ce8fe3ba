package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func strPtr(s string) *string { return &s }

func testRecord(msgID string, seq int64, rt models.RecordType, at time.Time) *models.IndexedRecord {
	return &models.IndexedRecord{
		ID:                 "id-" + msgID,
		MessageID:          msgID,
		TopicID:            "0.0.1",
		ConsensusTimestamp: msgID,
		ConsensusAt:        at,
		SequenceNumber:     seq,
		RecordType:         rt,
		TypeMetadata:       map[string]any{"k": "v"},
		Status:             models.RecordActive,
		IndexedAt:          at,
	}
}

func TestEnsureCursorIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	c, created, err := s.EnsureCursor(ctx, "0.0.1", now)
	if err != nil {
		t.Fatal(err)
	}
	if !created || c.Status != models.CursorActive || c.LastProcessedSequence != 0 {
		t.Fatalf("unexpected first cursor: created=%v %+v", created, c)
	}

	if _, err := s.AdvanceCursor(ctx, "0.0.1", models.Position{Sequence: 5, Timestamp: "5.0", MessageID: "5.0"}, now); err != nil {
		t.Fatal(err)
	}
	c, created, err = s.EnsureCursor(ctx, "0.0.1", now)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second EnsureCursor should not create")
	}
	if c.LastProcessedSequence != 5 {
		t.Fatalf("EnsureCursor reset the cursor: %+v", c)
	}
}

func TestAdvanceCursorMonotonic(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()
	if _, _, err := s.EnsureCursor(ctx, "t", now); err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		seq  int64
		want bool
	}{{1, true}, {3, true}, {3, false}, {2, false}, {4, true}} {
		ok, err := s.AdvanceCursor(ctx, "t", models.Position{Sequence: tt.seq}, now)
		if err != nil {
			t.Fatal(err)
		}
		if ok != tt.want {
			t.Errorf("advance to %d = %v, want %v", tt.seq, ok, tt.want)
		}
	}

	c, err := s.GetCursor(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastProcessedSequence != 4 || c.TotalProcessed != 3 {
		t.Fatalf("cursor = seq %d total %d, want 4/3", c.LastProcessedSequence, c.TotalProcessed)
	}
}

func TestCursorStatusTransitions(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	s.EnsureCursor(ctx, "t", now)

	if err := s.MarkSyncing(ctx, "t", now); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetCursor(ctx, "t")
	if c.Status != models.CursorSyncing || c.SyncStartedAt == nil || !c.SyncStartedAt.Equal(now) {
		t.Fatalf("after MarkSyncing: %+v", c)
	}

	if err := s.MarkError(ctx, "t", "mirror down", now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetCursor(ctx, "t")
	if c.Status != models.CursorError || c.LastError != "mirror down" || c.LastErrorAt == nil {
		t.Fatalf("after MarkError: %+v", c)
	}

	if err := s.MarkSynced(ctx, "t", now.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetCursor(ctx, "t")
	if c.Status != models.CursorActive || c.SyncCompletedAt == nil {
		t.Fatalf("after MarkSynced: %+v", c)
	}

	if missing, err := s.GetCursor(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("missing cursor = %+v, %v", missing, err)
	}
}

func TestInsertRecordDedup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	first := testRecord("111.0", 1, models.RecordVaccination, now)
	first.PatientRef = strPtr("p1")
	stored, created, err := s.InsertRecord(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if !created || stored.ID != first.ID {
		t.Fatalf("first insert: created=%v id=%s", created, stored.ID)
	}

	dup := testRecord("111.0", 1, models.RecordOther, now)
	dup.ID = "another-id"
	stored, created, err = s.InsertRecord(ctx, dup)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("duplicate insert reported created")
	}
	if stored.ID != first.ID || stored.RecordType != models.RecordVaccination {
		t.Fatalf("duplicate insert returned %+v, want the original", stored)
	}
	if stored.PatientRef == nil || *stored.PatientRef != "p1" {
		t.Fatalf("patient ref lost: %v", stored.PatientRef)
	}

	n, err := s.CountRecords(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v; want 1", n, err)
	}

	if r, err := s.GetRecord(ctx, "nope"); err != nil || r != nil {
		t.Fatalf("missing record = %+v, %v", r, err)
	}
}

func TestSummarizeRecords(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	recs := []*models.IndexedRecord{
		testRecord("1.0", 1, models.RecordVaccination, day.Add(-48*time.Hour)),
		testRecord("2.0", 2, models.RecordVaccination, day.Add(2*time.Hour)),
		testRecord("3.0", 3, models.RecordPrescription, day.Add(3*time.Hour)),
		testRecord("4.0", 4, models.RecordPrescription, day.Add(30*time.Hour)),
	}
	recs[0].Verified = true
	recs[0].TokenRef = strPtr("0.0.77/1")
	recs[1].PatientRef = strPtr("p1")
	recs[2].PatientRef = strPtr("p1")
	recs[2].ProviderRef = strPtr("dr")
	recs[3].Status = models.RecordRevoked
	recs[1].SharedWith = []models.ShareGrant{{GranteeRef: "a", Consent: true}, {GranteeRef: "b"}}
	for _, r := range recs {
		if _, _, err := s.InsertRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	live, err := s.SummarizeRecords(ctx, models.SummaryQuery{From: day, To: day.Add(24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if live.Total != 4 || live.New != 2 || live.Verified != 1 || live.Tokenized != 1 {
		t.Fatalf("live summary = %+v", live)
	}
	if live.ByType[models.RecordVaccination] != 2 || live.ByType[models.RecordPrescription] != 2 || live.ByType[models.RecordSurgery] != 0 {
		t.Fatalf("by type = %v", live.ByType)
	}
	if live.ByStatus[models.RecordActive] != 3 || live.ByStatus[models.RecordRevoked] != 1 {
		t.Fatalf("by status = %v", live.ByStatus)
	}
	if live.Shares != 2 || live.ConsentedShares != 1 {
		t.Fatalf("shares = %d consented = %d", live.Shares, live.ConsentedShares)
	}
	if live.UniquePatients != 1 || live.UniqueProviders != 1 {
		t.Fatalf("unique = %d/%d", live.UniquePatients, live.UniqueProviders)
	}

	past, err := s.SummarizeRecords(ctx, models.SummaryQuery{From: day, To: day.Add(24 * time.Hour), AsOf: true})
	if err != nil {
		t.Fatal(err)
	}
	if past.Total != 3 || past.New != 2 || past.ByStatus[models.RecordRevoked] != 0 {
		t.Fatalf("as-of summary = %+v", past)
	}
}

func TestSnapshotInsertOnce(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)

	snap := &models.StatsSnapshot{
		Date:            date,
		TotalRecords:    10,
		RecordsByType:   map[models.RecordType]int64{models.RecordVaccination: 6},
		RecordsByStatus: map[models.RecordStatus]int64{models.RecordActive: 10},
		Historical:      true,
		ComputedAt:      time.Now(),
	}
	ok, err := s.InsertSnapshot(ctx, snap)
	if err != nil || !ok {
		t.Fatalf("first insert = %v, %v", ok, err)
	}
	snap.TotalRecords = 99
	ok, err = s.InsertSnapshot(ctx, snap)
	if err != nil || ok {
		t.Fatalf("second insert = %v, %v; want false", ok, err)
	}

	got, err := s.GetSnapshot(ctx, date)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalRecords != 10 || !got.Historical || got.RecordsByType[models.RecordVaccination] != 6 {
		t.Fatalf("snapshot overwritten: %+v", got)
	}

	if err := s.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSnapshot(ctx, date)
	if got.TotalRecords != 99 {
		t.Fatalf("upsert did not replace: %d", got.TotalRecords)
	}

	exists, err := s.SnapshotExists(ctx, date.AddDate(0, 0, -1))
	if err != nil || exists {
		t.Fatalf("exists(yesterday) = %v, %v", exists, err)
	}
	list, err := s.ListSnapshots(ctx, date.AddDate(0, 0, -7), date)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
}
