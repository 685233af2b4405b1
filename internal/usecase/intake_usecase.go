package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/repository"
)

var (
	// ErrInvalidRequest wraps every validation failure of an ingest request.
	ErrInvalidRequest = errors.New("invalid ingest request")
	ErrJobNotFound    = errors.New("job not found")
)

// JobIntake turns ingest requests into queued scrape tasks and reports job progress.
type JobIntake interface {
	Submit(ctx context.Context, tenantID, siteType string, urls []string) (string, error)
	GetStatus(ctx context.Context, jobID string) (*entity.JobStatus, error)
}

type jobIntakeUseCase struct {
	queue  repository.QueueRepository
	jobs   repository.JobRepository
	logger *zap.Logger
	newID  func() string
}

// NewJobIntake creates a new JobIntake use case.
func NewJobIntake(queue repository.QueueRepository, jobs repository.JobRepository, logger *zap.Logger) JobIntake {
	return &jobIntakeUseCase{queue: queue, jobs: jobs, logger: logger, newID: uuid.NewString}
}

// Submit validates the request, registers the job and enqueues one task per
// URL. The tasks are queued together or not at all.
func (j *jobIntakeUseCase) Submit(ctx context.Context, tenantID, siteType string, urls []string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	siteType = strings.TrimSpace(siteType)
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	if siteType == "" {
		return "", fmt.Errorf("%w: site_type is required", ErrInvalidRequest)
	}
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: urls must not be empty", ErrInvalidRequest)
	}
	cleaned := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if err := validateURL(u); err != nil {
			return "", err
		}
		cleaned = append(cleaned, u)
	}

	jobID := j.newID()
	tasks := make([]entity.ScrapeTask, 0, len(cleaned))
	for _, u := range cleaned {
		tasks = append(tasks, entity.ScrapeTask{
			TaskID:   j.newID(),
			JobID:    jobID,
			TenantID: tenantID,
			SiteType: siteType,
			URL:      u,
		})
	}

	if err := j.jobs.Create(ctx, jobID, len(tasks)); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := j.queue.EnqueueMany(ctx, tasks); err != nil {
		// Nothing was queued, so the job would never leave "queued".
		if delErr := j.jobs.Delete(context.WithoutCancel(ctx), jobID); delErr != nil {
			j.logger.Warn("failed to remove unqueued job", zap.String("job_id", jobID), zap.Error(delErr))
		}
		return "", fmt.Errorf("enqueue job %s: %w", jobID, err)
	}

	j.logger.Info("job queued",
		zap.String("job_id", jobID),
		zap.String("tenant_id", tenantID),
		zap.String("site_type", siteType),
		zap.Int("tasks", len(cleaned)),
	)
	return jobID, nil
}

// GetStatus returns the job aggregate or ErrJobNotFound.
func (j *jobIntakeUseCase) GetStatus(ctx context.Context, jobID string) (*entity.JobStatus, error) {
	status, err := j.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if status == nil {
		return nil, ErrJobNotFound
	}
	return status, nil
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed url %q", ErrInvalidRequest, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidRequest, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidRequest, raw)
	}
	return nil
}
