package repository

import (
	"context"

	"github.com/user/nexus-ingest/internal/entity"
)

// JobRepository tracks the aggregate of per-task terminal states of a job.
type JobRepository interface {
	Create(ctx context.Context, jobID string, total int) error
	RecordResult(ctx context.Context, jobID string, result entity.TaskResult) error
	// Delete forgets a job whose tasks could not be queued.
	Delete(ctx context.Context, jobID string) error
	// Get returns nil, nil when the job is unknown.
	Get(ctx context.Context, jobID string) (*entity.JobStatus, error)
}
