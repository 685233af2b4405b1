package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/user/nexus-ingest/internal/entity"
)

// schemaSQL creates the sink table. The unique index bounds the dedup
// check-then-act race to one row per (tenant, URL).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS scraped_records (
	id          UUID PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	project_id  TEXT NOT NULL,
	source_url  TEXT NOT NULL,
	payload     JSONB NOT NULL,
	success     BOOLEAN NOT NULL DEFAULT TRUE,
	timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS scraped_records_tenant_url_idx ON scraped_records (tenant_id, source_url);
CREATE INDEX IF NOT EXISTS scraped_records_project_idx ON scraped_records (project_id);
`

const insertSQL = `
	INSERT INTO scraped_records (id, tenant_id, project_id, source_url, payload, success, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (tenant_id, source_url) DO NOTHING;
`

type execPinger interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
}

// RecordRepoImpl provides a concrete implementation for the RecordRepository interface using PostgreSQL.
type RecordRepoImpl struct {
	db execPinger
}

// NewRecordRepo creates a new instance of RecordRepoImpl. db is usually a *pgxpool.Pool.
func NewRecordRepo(db execPinger) *RecordRepoImpl {
	return &RecordRepoImpl{db: db}
}

// EnsureSchema creates the sink table and its indexes if they are missing.
func (r *RecordRepoImpl) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure scraped_records schema: %w", err)
	}
	return nil
}

// Save inserts a record. A second save for the same tenant and URL is a no-op.
func (r *RecordRepoImpl) Save(ctx context.Context, record *entity.PersistedRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.db.Exec(ctx, insertSQL,
		record.ID,
		record.TenantID,
		record.ProjectID,
		record.SourceURL,
		payload,
		record.Success,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert scraped record %s: %w", record.SourceURL, err)
	}
	return nil
}

func (r *RecordRepoImpl) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
