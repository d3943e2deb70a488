package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/infra/logger"
	"github.com/msgvault/msgvault/internal/scheduler"
	"github.com/segmentio/ksuid"
)

// ProgressEvent is what progress listeners receive. The stream is
// bounded with drop-oldest overflow: slow consumers miss intermediate
// values, they never block a transfer.
type ProgressEvent struct {
	Category    domain.Category `json:"category"`
	Progress    float64         `json:"progress"`
	DisplayName string          `json:"display_name"`
}

const (
	progressBuffer   = 64
	completionBuffer = 16
)

// Manager composes the upload and download task queues into one surface
// and layers dispatch policy on top: uploads are scheduled as
// independent jobs, downloads are chained strictly one-after-another.
// Concurrent requests against the same remote file id trip provider-side
// errors, so the download queue's own concurrency ceiling deliberately
// does not apply to dispatch order.
type Manager struct {
	log   *logger.Logger
	sched scheduler.JobScheduler

	uploads   *TaskQueue
	downloads *TaskQueue

	changed     chan struct{}
	progress    chan ProgressEvent
	completions chan *domain.Task

	mu           sync.Mutex
	cancels      map[string]context.CancelFunc
	downloadTail string
	disposed     bool
}

// NewManager builds the two queues and hard-resets the external
// scheduler: any job left over from a previous process lifetime has no
// in-memory task behind it and must not run.
func NewManager(ctx context.Context, log *logger.Logger, sched scheduler.JobScheduler, uploadConcurrency, downloadConcurrency int) (*Manager, error) {
	if err := sched.CancelAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset leftover jobs: %w", err)
	}
	if err := sched.PruneCompleted(ctx); err != nil {
		return nil, fmt.Errorf("failed to prune finished jobs: %w", err)
	}

	m := &Manager{
		log:         log,
		sched:       sched,
		changed:     make(chan struct{}, 1),
		progress:    make(chan ProgressEvent, progressBuffer),
		completions: make(chan *domain.Task, completionBuffer),
		cancels:     make(map[string]context.CancelFunc),
	}

	m.uploads = NewTaskQueue(domain.CategoryUpload, uploadConcurrency, Options{
		OnChange:   m.notify,
		OnComplete: m.emitCompletion,
		OnFail:     m.emitCompletion,
	})
	m.downloads = NewTaskQueue(domain.CategoryDownload, downloadConcurrency, Options{
		OnChange:   m.notify,
		OnComplete: m.emitCompletion,
		OnFail:     m.emitCompletion,
	})

	return m, nil
}

// JobName is the scheduler's deduplication key for a task's job.
func JobName(t *domain.Task) string {
	return fmt.Sprintf("msgvault-%s-%s", t.Category, t.ID)
}

// AddUploadTasks builds one task per request, enqueues them and
// schedules one independent job each.
func (m *Manager) AddUploadTasks(ctx context.Context, reqs []domain.UploadRequest) ([]*domain.Task, error) {
	tasks := make([]*domain.Task, 0, len(reqs))
	for _, r := range reqs {
		tasks = append(tasks, &domain.Task{
			ID:       ksuid.New().String(),
			Category: domain.CategoryUpload,
			Name:     r.Name,
			Size:     r.Size,
			Upload: &domain.UploadSpec{
				SourceURI: r.SourceURI,
				MediaType: r.MediaType,
				ChunkSize: r.ChunkSize,
			},
		})
	}

	m.uploads.AddTasks(tasks)

	for _, t := range tasks {
		spec := scheduler.JobSpec{Name: JobName(t), TaskID: t.ID, Category: t.Category}
		if err := m.sched.Enqueue(ctx, spec); err != nil {
			m.uploads.FailTask(t.ID, fmt.Sprintf("failed to schedule job: %v", err))
			return tasks, err
		}
	}
	return tasks, nil
}

// AddDownloadTasks builds one task per request and schedules the jobs
// chained strictly sequentially. The chain extends across batches: the
// first job of a new batch waits on the tail of the previous one.
func (m *Manager) AddDownloadTasks(ctx context.Context, reqs []domain.DownloadRequest) ([]*domain.Task, error) {
	tasks := make([]*domain.Task, 0, len(reqs))
	for _, r := range reqs {
		tasks = append(tasks, &domain.Task{
			ID:       ksuid.New().String(),
			Category: domain.CategoryDownload,
			Name:     r.Name,
			Size:     r.Size,
			Download: &domain.DownloadSpec{
				RemoteFileID: r.RemoteFileID,
				TargetPath:   r.TargetPath,
			},
		})
	}

	m.downloads.AddTasks(tasks)

	for _, t := range tasks {
		m.mu.Lock()
		after := m.downloadTail
		m.mu.Unlock()

		spec := scheduler.JobSpec{Name: JobName(t), TaskID: t.ID, Category: t.Category, After: after}
		if err := m.sched.Enqueue(ctx, spec); err != nil {
			m.downloads.FailTask(t.ID, fmt.Sprintf("failed to schedule job: %v", err))
			return tasks, err
		}

		m.mu.Lock()
		m.downloadTail = spec.Name
		m.mu.Unlock()
	}
	return tasks, nil
}

func (m *Manager) PauseTask(id string) {
	if q, _, ok := m.lookup(id); ok {
		q.PauseTask(id)
	}
}

func (m *Manager) ResumeTask(id string) {
	if q, _, ok := m.lookup(id); ok {
		q.ResumeTask(id)
	}
}

// CancelTask marks the task cancelled, fires its cancellation handle so
// any in-flight streaming loop stops at its next check, and cancels the
// scheduler job.
func (m *Manager) CancelTask(ctx context.Context, id string) {
	q, t, ok := m.lookup(id)
	if !ok {
		return
	}
	q.CancelTask(id)

	m.mu.Lock()
	cancel := m.cancels[id]
	delete(m.cancels, id)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := m.sched.Cancel(ctx, JobName(t)); err != nil {
		m.log.Warn("failed to cancel scheduler job for task %s: %v", id, err)
	}
}

// UpdateTaskProgress routes to the owning queue, then republishes the
// clamped value on the shared progress stream. Nothing is published when
// the queue rejects the update (terminal task): a stale value must not
// reach listeners.
func (m *Manager) UpdateTaskProgress(id string, value float64) {
	q, _, ok := m.lookup(id)
	if !ok || !q.UpdateTaskProgress(id, value) {
		return
	}

	if t, ok := q.GetTask(id); ok {
		m.publishProgress(ProgressEvent{
			Category:    t.Category,
			Progress:    t.Progress,
			DisplayName: t.Name,
		})
	}
}

func (m *Manager) MarkUploadTaskCompleted(id string)     { m.uploads.CompleteTask(id) }
func (m *Manager) MarkUploadTaskFailed(id, msg string)   { m.uploads.FailTask(id, msg) }
func (m *Manager) MarkDownloadTaskCompleted(id string)   { m.downloads.CompleteTask(id) }
func (m *Manager) MarkDownloadTaskFailed(id, msg string) { m.downloads.FailTask(id, msg) }

// StartTask promotes a queued task into a free ACTIVE slot of its queue.
func (m *Manager) StartTask(id string) bool {
	q, _, ok := m.lookup(id)
	if !ok {
		return false
	}
	return q.StartTask(id)
}

func (m *Manager) GetTask(id string) (*domain.Task, bool) {
	_, t, ok := m.lookup(id)
	return t, ok
}

// AllTasks merges both queues' contents, uploads first.
func (m *Manager) AllTasks() []*domain.Task {
	tasks := m.uploads.QueueItems()
	return append(tasks, m.downloads.QueueItems()...)
}

// Changes signals after any mutation of either queue, coalesced.
func (m *Manager) Changes() <-chan struct{} { return m.changed }

// Progress is the bounded drop-oldest progress stream.
func (m *Manager) Progress() <-chan ProgressEvent { return m.progress }

// Completions is the bounded drop-oldest stream of terminal tasks.
// Failed tasks are published here too; check Task.Status.
func (m *Manager) Completions() <-chan *domain.Task { return m.completions }

// RegisterCancel links a task id to the cancellation handle of its
// in-flight execution. The balancer and codec never see task ids; this
// registry is the side channel CancelTask uses to reach running work.
func (m *Manager) RegisterCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.cancels[id] = cancel
}

func (m *Manager) DeregisterCancel(id string) {
	m.mu.Lock()
	delete(m.cancels, id)
	m.mu.Unlock()
}

// Dispose releases both queues and closes the event streams. Safe to
// call more than once.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	for id, cancel := range m.cancels {
		delete(m.cancels, id)
		cancel()
	}
	m.mu.Unlock()

	m.uploads.Clear()
	m.downloads.Clear()
	close(m.progress)
	close(m.completions)
}

// lookup finds the queue owning id. Category routing is exhaustive so a
// new category cannot be silently dropped.
func (m *Manager) lookup(id string) (*TaskQueue, *domain.Task, bool) {
	if t, ok := m.uploads.GetTask(id); ok {
		return m.queueFor(t.Category), t, true
	}
	if t, ok := m.downloads.GetTask(id); ok {
		return m.queueFor(t.Category), t, true
	}
	return nil, nil, false
}

func (m *Manager) queueFor(c domain.Category) *TaskQueue {
	switch c {
	case domain.CategoryUpload, domain.CategoryGallerySync:
		return m.uploads
	case domain.CategoryDownload:
		return m.downloads
	default:
		panic(fmt.Sprintf("unhandled task category %q", c))
	}
}

func (m *Manager) publishProgress(ev ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	for {
		select {
		case m.progress <- ev:
			return
		default:
			// Buffer full: drop the oldest event, never the producer.
			select {
			case <-m.progress:
			default:
			}
		}
	}
}

func (m *Manager) emitCompletion(t *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	for {
		select {
		case m.completions <- t:
			return
		default:
			select {
			case <-m.completions:
			default:
			}
		}
	}
}

func (m *Manager) notify() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}
