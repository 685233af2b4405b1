package entity

// TaskResult is the externally visible terminal state of one task.
type TaskResult string

const (
	TaskResultOK      TaskResult = "ok"
	TaskResultSkipped TaskResult = "skipped"
	TaskResultFailed  TaskResult = "failed"
)

// JobStatus aggregates the terminal states of a job's tasks.
type JobStatus struct {
	JobID   string
	Total   int64
	OK      int64
	Skipped int64
	Failed  int64
}

// Done is the number of tasks that reached a terminal state.
func (s JobStatus) Done() int64 {
	return s.OK + s.Skipped + s.Failed
}

// State summarizes the job: "queued", "running" or "completed".
func (s JobStatus) State() string {
	switch done := s.Done(); {
	case done == 0:
		return "queued"
	case done < s.Total:
		return "running"
	default:
		return "completed"
	}
}
