package api

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/api/middleware"
	"github.com/Mcnoble1/Medisphere-sub001/internal/clock"
	"github.com/Mcnoble1/Medisphere-sub001/internal/crypto"
	"github.com/Mcnoble1/Medisphere-sub001/internal/engine"
	"github.com/Mcnoble1/Medisphere-sub001/internal/handlers"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
	"github.com/Mcnoble1/Medisphere-sub001/internal/stats"
	"github.com/Mcnoble1/Medisphere-sub001/internal/store"
)

type fakeIndexer struct {
	synced chan struct{}
}

func (f *fakeIndexer) Status(context.Context) (*engine.Status, error) {
	return &engine.Status{
		Running: true,
		Topics:  []engine.TopicStatus{{TopicID: "0.0.1", Status: "active", LastProcessedSequence: 7}},
	}, nil
}

func (f *fakeIndexer) Resync(context.Context) error {
	f.synced <- struct{}{}
	return nil
}

type testServer struct {
	router  http.Handler
	store   *store.SQLiteStore
	stats   *stats.Aggregator
	indexer *fakeIndexer
	priv    ed25519.PrivateKey
}

func newTestServer(t *testing.T, withOperator bool) *testServer {
	t.Helper()
	return newTestServerWithRedis(t, withOperator, nil)
}

func newTestServerWithRedis(t *testing.T, withOperator bool, rs *store.RedisStore) *testServer {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)

	agg := stats.New(st, clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)), zerolog.Nop())
	idx := &fakeIndexer{synced: make(chan struct{}, 1)}
	deps := handlers.Deps{DB: st, Indexer: idx, Stats: agg, Logger: zerolog.Nop()}
	opts := Options{Logger: zerolog.Nop()}
	if rs != nil {
		deps.Redis = rs
		opts.Redis = rs
	}
	opts.Handler = handlers.NewHandler(deps)

	ts := &testServer{store: st, stats: agg, indexer: idx}
	if withOperator {
		pub, priv, _ := ed25519.GenerateKey(rand.Reader)
		opts.OperatorKey = pub
		ts.priv = priv
	}
	ts.router = NewRouter(opts)
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) signed(method, path string, tsMs int64) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	nonce, _ := crypto.NewNonce()
	req.Header.Set(middleware.HeaderOperator, "ops")
	req.Header.Set(middleware.HeaderNonce, nonce)
	req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(tsMs, 10))
	req.Header.Set(middleware.HeaderSignature, crypto.SignRequest(ts.priv, nil, nonce, tsMs))
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp handlers.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Checks["database"].Status != "pass" || resp.Checks["redis"].Status != "skip" {
		t.Fatalf("health = %+v", resp)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st engine.Status
	json.Unmarshal(rec.Body.Bytes(), &st)
	if !st.Running || len(st.Topics) != 1 || st.Topics[0].LastProcessedSequence != 7 {
		t.Fatalf("status body = %s", rec.Body)
	}
}

func TestStatsEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stats before compute = %d", rec.Code)
	}

	if _, err := ts.stats.CalculateDailyStats(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d, body %s", rec.Code, rec.Body)
	}
	var snap models.StatsSnapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if len(snap.RecordsByType) != len(models.RecordTypes) {
		t.Fatalf("records by type = %v", snap.RecordsByType)
	}

	if _, err := ts.stats.GenerateHistoricalStats(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/stats/history?days=2", nil))
	var hist handlers.HistoryResponse
	json.Unmarshal(rec.Body.Bytes(), &hist)
	// today plus the two days before it
	if rec.Code != http.StatusOK || hist.Days != 2 || len(hist.Snapshots) != 3 {
		t.Fatalf("history = %d %s", rec.Code, rec.Body)
	}
	if !hist.Snapshots[0].Date.After(hist.Snapshots[1].Date) {
		t.Error("history not newest first")
	}

	for _, q := range []string{"abc", "0", "-4"} {
		rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/stats/history?days="+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("days=%s: status %d, want 400", q, rec.Code)
		}
	}
}

func TestGetRecord(t *testing.T) {
	ts := newTestServer(t, false)
	now := time.Now()
	_, _, err := ts.store.InsertRecord(context.Background(), &models.IndexedRecord{
		ID: "r1", MessageID: "1700000001.000000001", TopicID: "0.0.1", ConsensusTimestamp: "1700000001.000000001",
		ConsensusAt: now, SequenceNumber: 1, RecordType: models.RecordDiagnosis, Status: models.RecordActive, IndexedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/records/1700000001.000000001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got models.IndexedRecord
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != "r1" || got.RecordType != models.RecordDiagnosis {
		t.Fatalf("record = %+v", got)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("record responses must not be cached")
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/records/42.0", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing record status = %d", rec.Code)
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/admin/sync", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	ts := newTestServer(t, true)
	now := time.Now().UnixMilli()

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"missing headers", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/admin/stats/recalculate", nil)
		}, http.StatusUnauthorized},
		{"expired", func() *http.Request {
			return ts.signed(http.MethodPost, "/admin/stats/recalculate", now-time.Minute.Milliseconds())
		}, http.StatusUnauthorized},
		{"future", func() *http.Request {
			return ts.signed(http.MethodPost, "/admin/stats/recalculate", now+time.Minute.Milliseconds())
		}, http.StatusUnauthorized},
		{"wrong key", func() *http.Request {
			req := ts.signed(http.MethodPost, "/admin/stats/recalculate", now)
			_, other, _ := ed25519.GenerateKey(rand.Reader)
			req.Header.Set(middleware.HeaderSignature, crypto.SignRequest(other, nil, req.Header.Get(middleware.HeaderNonce), now))
			return req
		}, http.StatusUnauthorized},
		{"short nonce", func() *http.Request {
			req := ts.signed(http.MethodPost, "/admin/stats/recalculate", now)
			req.Header.Set(middleware.HeaderNonce, "abc")
			return req
		}, http.StatusUnauthorized},
		{"valid", func() *http.Request {
			return ts.signed(http.MethodPost, "/admin/stats/recalculate", now)
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.req())
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestAdminActions(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, ts.signed(http.MethodPost, "/admin/stats/backfill?days=5", time.Now().UnixMilli()))
	if rec.Code != http.StatusOK {
		t.Fatalf("backfill = %d, body %s", rec.Code, rec.Body)
	}
	var out map[string]int
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["inserted"] != 5 {
		t.Fatalf("backfill body = %v", out)
	}

	rec = ts.do(t, ts.signed(http.MethodPost, "/admin/sync", time.Now().UnixMilli()))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("sync = %d", rec.Code)
	}
	select {
	case <-ts.indexer.synced:
	case <-time.After(2 * time.Second):
		t.Fatal("sync was not started")
	}
}

func TestAdminRejectsReplayedNonce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ts := newTestServerWithRedis(t, true, store.NewRedisStoreFromClient(client))

	req := ts.signed(http.MethodPost, "/admin/stats/recalculate", time.Now().UnixMilli())
	replay := req.Clone(context.Background())

	if rec := ts.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d, body %s", rec.Code, rec.Body)
	}
	rec := ts.do(t, replay)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed request = %d, want 401", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "nonce already used" {
		t.Fatalf("replay error = %q", body["error"])
	}

	health := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp handlers.HealthResponse
	json.Unmarshal(health.Body.Bytes(), &resp)
	if resp.Checks["redis"].Status != "pass" {
		t.Fatalf("redis check = %+v", resp.Checks["redis"])
	}
}
