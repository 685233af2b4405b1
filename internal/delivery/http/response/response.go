package response

import "github.com/user/nexus-ingest/internal/entity"

type IngestResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobStatusResponse is a DTO for job progress, mirroring entity.JobStatus.
type JobStatusResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"` // "queued", "running", "completed"
	Total   int64  `json:"total"`
	OK      int64  `json:"ok"`
	Skipped int64  `json:"skipped"`
	Failed  int64  `json:"failed"`
}

func NewJobStatusResponse(s *entity.JobStatus) JobStatusResponse {
	return JobStatusResponse{
		JobID:   s.JobID,
		Status:  s.State(),
		Total:   s.Total,
		OK:      s.OK,
		Skipped: s.Skipped,
		Failed:  s.Failed,
	}
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
