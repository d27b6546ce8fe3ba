package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

// CachedRecords puts the Redis record cache in front of a RecordStore.
// Cache failures are logged and fall through to the store.
type CachedRecords struct {
	RecordStore
	cache  *RedisStore
	logger zerolog.Logger
}

// NewCachedRecords wraps records with cache.
func NewCachedRecords(records RecordStore, cache *RedisStore, logger zerolog.Logger) *CachedRecords {
	return &CachedRecords{RecordStore: records, cache: cache, logger: logger}
}

// GetRecord checks the cache, then the store.
func (c *CachedRecords) GetRecord(ctx context.Context, messageID string) (*models.IndexedRecord, error) {
	rec, err := c.cache.CachedRecord(ctx, messageID)
	if err != nil {
		c.logger.Warn().Err(err).Str("message_id", messageID).Msg("record cache read failed")
	}
	if rec != nil {
		return rec, nil
	}
	rec, err = c.RecordStore.GetRecord(ctx, messageID)
	if err != nil || rec == nil {
		return rec, err
	}
	c.fill(ctx, rec)
	return rec, nil
}

// InsertRecord writes through to the store and caches the stored row.
func (c *CachedRecords) InsertRecord(ctx context.Context, rec *models.IndexedRecord) (*models.IndexedRecord, bool, error) {
	stored, created, err := c.RecordStore.InsertRecord(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	c.fill(ctx, stored)
	return stored, created, nil
}

func (c *CachedRecords) fill(ctx context.Context, rec *models.IndexedRecord) {
	if err := c.cache.CacheRecord(ctx, rec); err != nil {
		c.logger.Warn().Err(err).Str("message_id", rec.MessageID).Msg("record cache write failed")
	}
}
