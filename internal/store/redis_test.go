package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestRecordCacheRoundTrip(t *testing.T) {
	rs, mr := newTestRedis(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	rec := testRecord("1700000000.000000001", 1, models.RecordLabResult, at)
	rec.PatientRef = strPtr("p1")
	rec.SharedWith = []models.ShareGrant{{GranteeRef: "clinic-a", Consent: true, GrantedAt: at}}
	if err := rs.CacheRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(recordKey(rec.MessageID)); ttl != recordTTL {
		t.Fatalf("ttl = %s, want %s", ttl, recordTTL)
	}

	got, err := rs.CachedRecord(ctx, rec.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("cache miss after write")
	}
	if got.ID != rec.ID || got.RecordType != models.RecordLabResult || got.SequenceNumber != 1 {
		t.Fatalf("cached record = %+v", got)
	}
	if got.PatientRef == nil || *got.PatientRef != "p1" || got.ProviderRef != nil {
		t.Fatalf("refs = %v/%v", got.PatientRef, got.ProviderRef)
	}
	if got.TypeMetadata["k"] != "v" {
		t.Fatalf("type metadata = %v", got.TypeMetadata)
	}
	if len(got.SharedWith) != 1 || !got.SharedWith[0].Consent || !got.ConsensusAt.Equal(at) {
		t.Fatalf("shares %v consensus %s", got.SharedWith, got.ConsensusAt)
	}
}

func TestCachedRecordMissAndCorruptEntry(t *testing.T) {
	rs, mr := newTestRedis(t)
	ctx := context.Background()

	got, err := rs.CachedRecord(ctx, "1.0")
	if err != nil || got != nil {
		t.Fatalf("miss = %v, %v; want nil, nil", got, err)
	}

	// 0xc1 is never used by msgpack.
	mr.Set(recordKey("2.0"), "\xc1\xc1\xc1")
	got, err = rs.CachedRecord(ctx, "2.0")
	if err != nil || got != nil {
		t.Fatalf("corrupt entry = %v, %v; want a miss", got, err)
	}
}

func TestDirectoryResolve(t *testing.T) {
	rs, _ := newTestRedis(t)
	ctx := context.Background()

	if err := rs.RegisterPatient(ctx, "0.0.5005", "patient-42"); err != nil {
		t.Fatal(err)
	}
	if err := rs.RegisterProvider(ctx, "0.0.6006", "provider-7"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		resolve func(context.Context, string) (string, error)
		ref     string
		want    string
	}{
		{"known patient", rs.ResolvePatient, "0.0.5005", "patient-42"},
		{"unknown patient", rs.ResolvePatient, "0.0.9999", ""},
		{"provider ref is not a patient", rs.ResolvePatient, "0.0.6006", ""},
		{"known provider", rs.ResolveProvider, "0.0.6006", "provider-7"},
		{"unknown provider", rs.ResolveProvider, "0.0.5005", ""},
	}
	for _, tt := range tests {
		got, err := tt.resolve(ctx, tt.ref)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestNonceGuard(t *testing.T) {
	rs, mr := newTestRedis(t)
	ctx := context.Background()

	if rs.IsNonceUsed(ctx, "ops", "n1") {
		t.Fatal("fresh nonce reported used")
	}
	rs.MarkNonceUsed(ctx, "ops", "n1", time.Minute)
	if !rs.IsNonceUsed(ctx, "ops", "n1") {
		t.Fatal("marked nonce not reported used")
	}
	if rs.IsNonceUsed(ctx, "other", "n1") {
		t.Fatal("nonces leak across operators")
	}
	mr.FastForward(2 * time.Minute)
	if rs.IsNonceUsed(ctx, "ops", "n1") {
		t.Fatal("nonce still used after its ttl")
	}
}

func TestCachedRecordsServesFromCache(t *testing.T) {
	db := newTestSQLite(t)
	rs, mr := newTestRedis(t)
	cached := NewCachedRecords(db, rs, zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	first, created, err := cached.InsertRecord(ctx, testRecord("1.0", 1, models.RecordSurgery, at))
	if err != nil || !created {
		t.Fatalf("insert = %v, %v", created, err)
	}
	if !mr.Exists(recordKey("1.0")) {
		t.Fatal("insert did not fill the cache")
	}

	dup := testRecord("1.0", 1, models.RecordSurgery, at)
	dup.ID = "other-id"
	stored, created, err := cached.InsertRecord(ctx, dup)
	if err != nil || created || stored.ID != first.ID {
		t.Fatalf("duplicate insert = %+v, %v, %v", stored, created, err)
	}

	got, err := cached.GetRecord(ctx, "1.0")
	if err != nil || got == nil || got.ID != first.ID {
		t.Fatalf("get = %+v, %v", got, err)
	}
}

func TestCachedRecordsFallsThrough(t *testing.T) {
	db := newTestSQLite(t)
	rs, mr := newTestRedis(t)
	cached := NewCachedRecords(db, rs, zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if _, _, err := db.InsertRecord(ctx, testRecord("1.0", 1, models.RecordDiagnosis, at)); err != nil {
		t.Fatal(err)
	}

	// A corrupt entry is read through to the store and replaced.
	mr.Set(recordKey("1.0"), "\xc1")
	got, err := cached.GetRecord(ctx, "1.0")
	if err != nil || got == nil || got.ID != "id-1.0" {
		t.Fatalf("get over corrupt entry = %+v, %v", got, err)
	}
	if fixed, _ := rs.CachedRecord(ctx, "1.0"); fixed == nil {
		t.Fatal("corrupt entry was not refilled")
	}

	// Redis failures never surface to callers.
	mr.SetError("ERR cache unavailable")
	got, err = cached.GetRecord(ctx, "1.0")
	if err != nil || got == nil {
		t.Fatalf("get with redis down = %+v, %v", got, err)
	}
	if _, created, err := cached.InsertRecord(ctx, testRecord("2.0", 2, models.RecordDiagnosis, at)); err != nil || !created {
		t.Fatalf("insert with redis down = %v, %v", created, err)
	}
	missing, err := cached.GetRecord(ctx, "3.0")
	if err != nil || missing != nil {
		t.Fatalf("missing record = %+v, %v", missing, err)
	}
}
