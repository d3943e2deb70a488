package scheduler

import (
	"context"
	"time"

	"github.com/msgvault/msgvault/internal/domain"
)

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobSpec describes one background job keyed by a unique name.
// Enqueueing a spec whose name already exists replaces the previous job.
// A non-empty After chains the job behind another: it only becomes
// eligible once the named predecessor has finished (done, failed,
// cancelled, or pruned).
type JobSpec struct {
	Name     string
	TaskID   string
	Category domain.Category
	After    string
}

// Job is a JobSpec as stored, plus its lifecycle state.
type Job struct {
	JobSpec
	State     JobState
	CreatedAt time.Time
}

// JobScheduler is the durable execution boundary. The in-memory task
// queues never persist anything themselves; jobs survive process death
// here and are hard-reset by the queue manager at construction so no
// zombie job runs without an in-memory task behind it.
type JobScheduler interface {
	Enqueue(ctx context.Context, spec JobSpec) error
	Cancel(ctx context.Context, name string) error
	CancelAll(ctx context.Context) error
	PruneCompleted(ctx context.Context) error
}
