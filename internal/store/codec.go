package store

import (
	"encoding/json"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

func encodeRecordJSON(rec *models.IndexedRecord) (json.RawMessage, json.RawMessage, error) {
	md := rec.TypeMetadata
	if md == nil {
		md = map[string]any{}
	}
	metadata, err := json.Marshal(md)
	if err != nil {
		return nil, nil, err
	}
	grants := rec.SharedWith
	if grants == nil {
		grants = []models.ShareGrant{}
	}
	shared, err := json.Marshal(grants)
	if err != nil {
		return nil, nil, err
	}
	return metadata, shared, nil
}

func decodeRecordJSON(rec *models.IndexedRecord, metadata, shared []byte) error {
	rec.TypeMetadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.TypeMetadata); err != nil {
			return err
		}
	}
	rec.SharedWith = []models.ShareGrant{}
	if len(shared) > 0 {
		if err := json.Unmarshal(shared, &rec.SharedWith); err != nil {
			return err
		}
	}
	return nil
}
