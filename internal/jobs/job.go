package jobs

import "context"

// Status is the lifecycle position of a job.
type Status string

// Job statuses.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a unit of background work.
type Job interface {
	// ID identifies the job in logs and status lookups.
	ID() string
	// Kind groups jobs for logging and metrics.
	Kind() string
	// Execute runs the job. The context is cancelled when the runner is
	// forced to stop.
	Execute(ctx context.Context) error
}

type funcJob struct {
	id   string
	kind string
	fn   func(ctx context.Context) error
}

func (j funcJob) ID() string                        { return j.id }
func (j funcJob) Kind() string                      { return j.kind }
func (j funcJob) Execute(ctx context.Context) error { return j.fn(ctx) }

// Func wraps fn as a Job.
func Func(id, kind string, fn func(ctx context.Context) error) Job {
	return funcJob{id: id, kind: kind, fn: fn}
}
