package entity

import "time"

// PersistedRecord mirrors the `scraped_records` PostgreSQL table schema.
type PersistedRecord struct {
	ID        string
	TenantID  string
	ProjectID string
	SourceURL string
	Payload   ExtractionResult // Stored as JSONB in PostgreSQL
	Success   bool
	Timestamp time.Time
}
