package engine

import (
	"context"
	"time"

	"github.com/Mcnoble1/Medisphere-sub001/internal/content"
	"github.com/Mcnoble1/Medisphere-sub001/internal/crypto"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

// ExtractMetadata builds the record for a decoded message. It returns nil
// when the payload carries nothing the index understands.
func (e *Engine) ExtractMetadata(ctx context.Context, c *content.Content, msg models.LogMessage, ts time.Time) *models.IndexedRecord {
	if c == nil || !c.Recognized() {
		return nil
	}

	rec := &models.IndexedRecord{
		ID:                 crypto.NewRecordID(),
		MessageID:          msg.MessageID(),
		TopicID:            msg.TopicID,
		ConsensusTimestamp: msg.ConsensusTimestamp,
		ConsensusAt:        ts,
		SequenceNumber:     msg.SequenceNumber,
		RecordType:         c.Kind.RecordType(),
		PatientRef:         e.resolve(ctx, "patient", c.Patient),
		ProviderRef:        e.resolve(ctx, "provider", c.Provider),
		ContentLocationRef: optional(c.Location),
		ContentHash:        optional(c.Hash),
		TokenRef:           optional(c.Token),
		TypeMetadata:       c.TypeMetadata(),
		Status:             models.RecordActive,
		SharedWith:         []models.ShareGrant{},
		IndexedAt:          e.clock.Now(),
	}
	rec.Verified = e.verifyContentHash(ctx, rec)
	return rec
}

// resolve maps a raw reference through the directory. Unknown references
// and lookup failures keep the raw value.
func (e *Engine) resolve(ctx context.Context, kind, ref string) *string {
	if ref == "" {
		return nil
	}
	if e.dir == nil {
		return &ref
	}

	var id string
	var err error
	switch kind {
	case "patient":
		id, err = e.dir.ResolvePatient(ctx, ref)
	case "provider":
		id, err = e.dir.ResolveProvider(ctx, ref)
	}
	if err != nil {
		e.logger.Debug().Err(err).Str("kind", kind).Str("ref", ref).Msg("directory lookup failed")
		return &ref
	}
	if id == "" {
		return &ref
	}
	return &id
}

// verifyContentHash compares the declared content hash with the stored
// content. Fetching content is not supported, so records are never verified.
func (e *Engine) verifyContentHash(_ context.Context, rec *models.IndexedRecord) bool {
	if rec.ContentHash == nil || rec.ContentLocationRef == nil {
		return false
	}
	e.logger.Debug().
		Str("message_id", rec.MessageID).
		Str("content_location", *rec.ContentLocationRef).
		Msg("content hash verification unavailable")
	return false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
