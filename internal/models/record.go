package models

import "time"

// RecordType classifies an indexed record.
type RecordType string

const (
	RecordLabResult    RecordType = "lab-result"
	RecordPrescription RecordType = "prescription"
	RecordDiagnosis    RecordType = "diagnosis"
	RecordVaccination  RecordType = "vaccination"
	RecordSurgery      RecordType = "surgery"
	RecordOther        RecordType = "other"
)

// RecordTypes lists every record type in display order.
var RecordTypes = []RecordType{
	RecordLabResult,
	RecordPrescription,
	RecordDiagnosis,
	RecordVaccination,
	RecordSurgery,
	RecordOther,
}

// RecordStatus is the lifecycle state of an indexed record.
type RecordStatus string

const (
	RecordActive   RecordStatus = "active"
	RecordRevoked  RecordStatus = "revoked"
	RecordAmended  RecordStatus = "amended"
	RecordArchived RecordStatus = "archived"
)

// RecordStatuses lists every record status.
var RecordStatuses = []RecordStatus{RecordActive, RecordRevoked, RecordAmended, RecordArchived}

// ShareGrant is one entry of a record's sharing list. Written by the sharing
// flows, never by the indexer.
type ShareGrant struct {
	GranteeRef string    `json:"grantee_ref" msgpack:"grantee_ref"`
	Consent    bool      `json:"consent" msgpack:"consent"`
	GrantedAt  time.Time `json:"granted_at" msgpack:"granted_at"`
}

// IndexedRecord is the searchable form of a ledger message.
type IndexedRecord struct {
	ID                 string         `json:"id" msgpack:"id"`
	MessageID          string         `json:"message_id" msgpack:"message_id"`
	TopicID            string         `json:"topic_id" msgpack:"topic_id"`
	ConsensusTimestamp string         `json:"consensus_timestamp" msgpack:"consensus_timestamp"`
	ConsensusAt        time.Time      `json:"consensus_at" msgpack:"consensus_at"`
	SequenceNumber     int64          `json:"sequence_number" msgpack:"sequence_number"`
	RecordType         RecordType     `json:"record_type" msgpack:"record_type"`
	PatientRef         *string        `json:"patient_ref,omitempty" msgpack:"patient_ref"`
	ProviderRef        *string        `json:"provider_ref,omitempty" msgpack:"provider_ref"`
	ContentLocationRef *string        `json:"content_location_ref,omitempty" msgpack:"content_location_ref"`
	ContentHash        *string        `json:"content_hash,omitempty" msgpack:"content_hash"`
	TokenRef           *string        `json:"token_ref,omitempty" msgpack:"token_ref"`
	Verified           bool           `json:"verified" msgpack:"verified"`
	TypeMetadata       map[string]any `json:"type_metadata" msgpack:"type_metadata"`
	Status             RecordStatus   `json:"status" msgpack:"status"`
	SharedWith         []ShareGrant   `json:"shared_with" msgpack:"shared_with"`
	IndexedAt          time.Time      `json:"indexed_at" msgpack:"indexed_at"`
}
