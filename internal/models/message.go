package models

// LogMessage is a single message read from a ledger topic through the mirror API.
type LogMessage struct {
	TopicID            string `json:"topic_id"`
	SequenceNumber     int64  `json:"sequence_number"`
	ConsensusTimestamp string `json:"consensus_timestamp"` // "<seconds>.<nanos>"
	Payload            string `json:"message"`             // base64
	RunningHash        string `json:"running_hash,omitempty"`
	PayerAccountID     string `json:"payer_account_id,omitempty"`
}

// MessageID returns the dedup key of the message. Consensus timestamps are
// unique across the whole ledger, so the raw string is used as is.
func (m LogMessage) MessageID() string {
	return m.ConsensusTimestamp
}
