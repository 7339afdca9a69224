package jobs

// Status is the lifecycle state of a row in clip_jobs. The values must
// match the text stored in clip_jobs.status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)
