package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/nexus-ingest/internal/entity"
)

// JobRepoImpl keeps per-job counters in a Redis hash.
type JobRepoImpl struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewJobRepo creates a new instance of JobRepoImpl. Job hashes expire after ttl.
func NewJobRepo(client redis.UniversalClient, ttl time.Duration) *JobRepoImpl {
	return &JobRepoImpl{client: client, ttl: ttl}
}

func (r *JobRepoImpl) Create(ctx context.Context, jobID string, total int) error {
	key := jobKey(jobID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "total", total, "ok", 0, "skipped", 0, "failed", 0)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return err
}

func (r *JobRepoImpl) RecordResult(ctx context.Context, jobID string, result entity.TaskResult) error {
	return r.client.HIncrBy(ctx, jobKey(jobID), string(result), 1).Err()
}

func (r *JobRepoImpl) Delete(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, jobKey(jobID)).Err()
}

func (r *JobRepoImpl) Get(ctx context.Context, jobID string) (*entity.JobStatus, error) {
	fields, err := r.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	status := &entity.JobStatus{JobID: jobID}
	for name, dst := range map[string]*int64{
		"total":   &status.Total,
		"ok":      &status.OK,
		"skipped": &status.Skipped,
		"failed":  &status.Failed,
	} {
		if raw, ok := fields[name]; ok {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("job %s field %s: %w", jobID, name, err)
			}
			*dst = v
		}
	}
	return status, nil
}
