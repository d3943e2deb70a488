package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/infra/logger"
)

// Executor runs the work behind one claimed job.
type Executor func(ctx context.Context, job Job) error

// Runner polls the store for eligible jobs and hands them to the
// executor. Chained jobs never overlap because a successor only becomes
// eligible once its predecessor has left the queued/running states;
// independent jobs run concurrently.
type Runner struct {
	store    *Store
	exec     Executor
	interval time.Duration
	log      *logger.Logger
}

func NewRunner(store *Store, exec Executor, interval time.Duration, log *logger.Logger) *Runner {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Runner{store: store, exec: exec, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.dispatch(ctx, &wg)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, wg *sync.WaitGroup) {
	jobs, err := r.store.Eligible(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("scheduler poll failed: %v", err)
		}
		return
	}

	for _, job := range jobs {
		claimed, err := r.store.MarkRunning(ctx, job.Name)
		if err != nil {
			r.log.Error("failed to claim job %s: %v", job.Name, err)
			continue
		}
		if !claimed {
			continue
		}

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.runJob(ctx, job)
		}(job)
	}
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	err := r.exec(ctx, job)

	// Store updates after shutdown still matter, so don't reuse the
	// cancelled context for them.
	finCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case err == nil:
		_ = r.store.MarkDone(finCtx, job.Name)
	case errors.Is(err, domain.ErrOperationCapacity):
		// Admission denied, not a failure. Leave the job for a later
		// poll cycle.
		r.log.Debug("job %s deferred: %v", job.Name, err)
		_ = r.store.Requeue(finCtx, job.Name)
	case errors.Is(err, context.Canceled):
		_ = r.store.Cancel(finCtx, job.Name)
	default:
		r.log.Error("job %s failed: %v", job.Name, err)
		_ = r.store.MarkFailed(finCtx, job.Name)
	}
}
