package crypto

import "github.com/google/uuid"

// NewRecordID returns a UUIDv7 string, so primary key order follows
// indexing order.
func NewRecordID() string {
	return uuid.Must(uuid.NewV7()).String()
}
