package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Mcnoble1/Medisphere-sub001/internal/metrics"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

const (
	recordTTL = 24 * time.Hour

	patientDirectoryKey  = "directory:patients"
	providerDirectoryKey = "directory:providers"
)

// RedisStore handles Redis operations: the hot record cache used for dedup,
// the patient/provider directory and admin nonce tracking.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, such as one pointed at
// an in-process server.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// recordKey returns the cache key of a record.
func recordKey(messageID string) string {
	return fmt.Sprintf("record:%s", messageID)
}

// CachedRecord returns a cached record or nil on a miss.
func (s *RedisStore) CachedRecord(ctx context.Context, messageID string) (*models.IndexedRecord, error) {
	start := time.Now()
	data, err := s.client.Get(ctx, recordKey(messageID)).Bytes()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec models.IndexedRecord
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&rec); err != nil {
		// Stale encoding; treat as a miss.
		return nil, nil
	}
	return &rec, nil
}

// CacheRecord stores a record in the cache.
func (s *RedisStore) CacheRecord(ctx context.Context, rec *models.IndexedRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.client.Set(ctx, recordKey(rec.MessageID), data, recordTTL).Err()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}

// ResolvePatient maps a payload patient reference to its directory id.
// It returns "" when the reference is unknown.
func (s *RedisStore) ResolvePatient(ctx context.Context, ref string) (string, error) {
	return s.lookup(ctx, patientDirectoryKey, ref)
}

// ResolveProvider maps a payload provider reference to its directory id.
func (s *RedisStore) ResolveProvider(ctx context.Context, ref string) (string, error) {
	return s.lookup(ctx, providerDirectoryKey, ref)
}

// RegisterPatient adds a directory entry. Written by `indexer directory add`.
func (s *RedisStore) RegisterPatient(ctx context.Context, ref, id string) error {
	return s.client.HSet(ctx, patientDirectoryKey, ref, id).Err()
}

// RegisterProvider adds a directory entry.
func (s *RedisStore) RegisterProvider(ctx context.Context, ref, id string) error {
	return s.client.HSet(ctx, providerDirectoryKey, ref, id).Err()
}

func (s *RedisStore) lookup(ctx context.Context, key, ref string) (string, error) {
	start := time.Now()
	id, err := s.client.HGet(ctx, key, ref).Result()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// nonceKey returns the key for nonce tracking.
func nonceKey(operatorID, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", operatorID, nonce)
}

// IsNonceUsed checks if a nonce has been used.
func (s *RedisStore) IsNonceUsed(ctx context.Context, operatorID, nonce string) bool {
	exists, _ := s.client.Exists(ctx, nonceKey(operatorID, nonce)).Result()
	return exists > 0
}

// MarkNonceUsed marks a nonce as used with a TTL.
func (s *RedisStore) MarkNonceUsed(ctx context.Context, operatorID, nonce string, ttl time.Duration) {
	s.client.Set(ctx, nonceKey(operatorID, nonce), "1", ttl)
}
