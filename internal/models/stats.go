package models

import "time"

// StatsSnapshot holds the aggregate counters for one calendar day.
type StatsSnapshot struct {
	Date             time.Time              `json:"date"`
	TotalRecords     int64                  `json:"total_records"`
	RecordsByStatus  map[RecordStatus]int64 `json:"records_by_status"`
	RecordsByType    map[RecordType]int64   `json:"records_by_type"`
	NewRecords       int64                  `json:"new_records"`
	VerifiedRecords  int64                  `json:"verified_records"`
	VerificationRate float64                `json:"verification_rate"` // percent, 0-100
	TotalShares      int64                  `json:"total_shares"`
	ConsentedShares  int64                  `json:"consented_shares"`
	TokenizedRecords int64                  `json:"tokenized_records"`
	UniquePatients   int64                  `json:"unique_patients"`
	UniqueProviders  int64                  `json:"unique_providers"`
	ActivePatients   int64                  `json:"active_patients"`
	ActiveTopics     int64                  `json:"active_topics"`
	TotalMessages    int64                  `json:"total_messages"` // approximate, sum of cursor counters
	MessagesToday    int64                  `json:"messages_today"` // approximate
	Historical       bool                   `json:"historical"`
	ComputedAt       time.Time              `json:"computed_at"`
}

// RecordSummary is the raw aggregate returned by a record store. The stats
// aggregator turns it into a snapshot.
type RecordSummary struct {
	Total           int64
	ByStatus        map[RecordStatus]int64
	ByType          map[RecordType]int64
	New             int64
	Verified        int64
	Shares          int64
	ConsentedShares int64
	Tokenized       int64
	UniquePatients  int64
	UniqueProviders int64
	ActivePatients  int64
}

// SummaryQuery selects the window a RecordSummary is computed over.
//
// With AsOf unset, totals cover every record and New counts records indexed
// in [From, To). With AsOf set, only records whose consensus time is before
// To are counted and New counts consensus times in [From, To).
type SummaryQuery struct {
	From         time.Time
	To           time.Time
	AsOf         bool
	ActiveWindow time.Duration // distinct patients with a consensus time within this window before To; 0 disables
}
