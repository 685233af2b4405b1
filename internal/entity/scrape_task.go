package entity

// ScrapeTask is one URL-fetch-and-persist unit of work derived from a job.
// Only Attempt and Deferrals change after intake.
type ScrapeTask struct {
	TaskID   string `json:"task_id"`
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	SiteType string `json:"site_type"`
	URL      string `json:"url"`
	Attempt  int    `json:"attempt"`
	// Deferrals counts circuit-breaker postponements. It never limits the task.
	Deferrals int `json:"deferrals,omitempty"`
}

// NextAttempt returns a copy of the task with its retry budget advanced.
func (t ScrapeTask) NextAttempt() ScrapeTask {
	t.Attempt++
	return t
}

// Deferred returns a copy of the task postponed by an open circuit breaker.
func (t ScrapeTask) Deferred() ScrapeTask {
	t.Deferrals++
	return t
}
