package repository

import (
	"context"

	"github.com/user/nexus-ingest/internal/entity"
)

// RecordRepository is the durable sink for successful extractions.
type RecordRepository interface {
	// Save stores the record. Saving the same (tenant, source URL) twice must
	// not produce a second row.
	Save(ctx context.Context, record *entity.PersistedRecord) error
}
