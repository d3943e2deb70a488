package queue

import (
	"sync"

	"github.com/msgvault/msgvault/internal/domain"
)

// TaskQueue holds the tasks of one category and enforces a concurrency
// ceiling. The queue only tracks lifecycle and admission: starting the
// actual work for a promoted task is the driver's job, the queue just
// makes "is there a free slot" observable.
//
// Every per-id operation on an unknown or already-terminal task is a
// silent no-op.
type TaskQueue struct {
	mu            sync.RWMutex
	category      domain.Category
	maxConcurrent int
	tasks         []*domain.Task
	byID          map[string]*domain.Task

	changed  chan struct{}
	onChange func()

	onComplete func(*domain.Task)
	onFail     func(*domain.Task)
}

// Options carries the per-category callbacks. Completion and failure
// callbacks fire exactly once per task, while the queue's lock is not
// held.
type Options struct {
	OnChange   func()
	OnComplete func(*domain.Task)
	OnFail     func(*domain.Task)
}

func NewTaskQueue(category domain.Category, maxConcurrent int, opts Options) *TaskQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &TaskQueue{
		category:      category,
		maxConcurrent: maxConcurrent,
		byID:          make(map[string]*domain.Task),
		changed:       make(chan struct{}, 1),
		onChange:      opts.OnChange,
		onComplete:    opts.OnComplete,
		onFail:        opts.OnFail,
	}
}

func (q *TaskQueue) Category() domain.Category { return q.category }
func (q *TaskQueue) MaxConcurrent() int        { return q.maxConcurrent }

// Changes returns a coalesced signal channel that receives after every
// mutating call. Drivers block on it instead of polling.
func (q *TaskQueue) Changes() <-chan struct{} { return q.changed }

// AddTasks appends tasks in QUEUED state. It does not start execution.
// A task's category is preserved so a queue can host related categories
// (the upload queue also carries gallery-sync tasks); only tasks with no
// category inherit the queue's.
func (q *TaskQueue) AddTasks(tasks []*domain.Task) {
	q.mu.Lock()
	for _, t := range tasks {
		t.Status = domain.StatusQueued
		if t.Category == "" {
			t.Category = q.category
		}
		q.tasks = append(q.tasks, t)
		q.byID[t.ID] = t
	}
	q.mu.Unlock()
	q.notify()
}

// StartTask promotes a QUEUED task to ACTIVE. It refuses, returning
// false, when the task is absent, not QUEUED, or the ACTIVE count is
// already at the ceiling.
func (q *TaskQueue) StartTask(id string) bool {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok || t.Status != domain.StatusQueued || q.activeCountLocked() >= q.maxConcurrent {
		q.mu.Unlock()
		return false
	}
	t.Status = domain.StatusActive
	q.mu.Unlock()
	q.notify()
	return true
}

// PauseTask moves an ACTIVE task to PAUSED.
func (q *TaskQueue) PauseTask(id string) {
	q.transition(id, domain.StatusActive, domain.StatusPaused)
}

// ResumeTask moves a PAUSED task back to QUEUED. The task re-enters at
// the back of the queue rather than jumping straight to ACTIVE.
func (q *TaskQueue) ResumeTask(id string) {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok || t.Status != domain.StatusPaused {
		q.mu.Unlock()
		return
	}
	t.Status = domain.StatusQueued
	q.moveToBackLocked(id)
	q.mu.Unlock()
	q.notify()
}

// CancelTask moves any non-terminal task to CANCELLED. Signalling the
// in-flight work is the owner's responsibility via its cancel registry;
// the queue does not know about execution handles.
func (q *TaskQueue) CancelTask(id string) {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok || t.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	t.Status = domain.StatusCancelled
	q.mu.Unlock()
	q.notify()
}

// UpdateTaskProgress clamps value to [0,1] and records it. It reports
// whether the update was applied; unknown or terminal tasks reject it.
func (q *TaskQueue) UpdateTaskProgress(id string, value float64) bool {
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}

	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok || t.Status.Terminal() {
		q.mu.Unlock()
		return false
	}
	t.Progress = value
	q.mu.Unlock()
	q.notify()
	return true
}

// CompleteTask transitions to COMPLETED and fires the completion
// callback once.
func (q *TaskQueue) CompleteTask(id string) {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok || t.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	t.Status = domain.StatusCompleted
	t.Progress = 1
	q.mu.Unlock()

	if q.onComplete != nil {
		q.onComplete(t)
	}
	q.notify()
}

// FailTask transitions to FAILED, records the message and fires the
// failure callback once.
func (q *TaskQueue) FailTask(id string, message string) {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok || t.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	t.Status = domain.StatusFailed
	t.Error = message
	q.mu.Unlock()

	if q.onFail != nil {
		q.onFail(t)
	}
	q.notify()
}

func (q *TaskQueue) GetTask(id string) (*domain.Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := q.byID[id]
	return t, ok
}

// Clear drops every task, terminal or not.
func (q *TaskQueue) Clear() {
	q.mu.Lock()
	q.tasks = nil
	q.byID = make(map[string]*domain.Task)
	q.mu.Unlock()
	q.notify()
}

// QueueItems returns a snapshot of the queue contents in order.
func (q *TaskQueue) QueueItems() []*domain.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	items := make([]*domain.Task, len(q.tasks))
	copy(items, q.tasks)
	return items
}

// ActiveItems returns the ACTIVE subset in queue order.
func (q *TaskQueue) ActiveItems() []*domain.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var items []*domain.Task
	for _, t := range q.tasks {
		if t.Status == domain.StatusActive {
			items = append(items, t)
		}
	}
	return items
}

// NextQueued returns the oldest QUEUED task, the one eligible for
// promotion when a slot frees up.
func (q *TaskQueue) NextQueued() (*domain.Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, t := range q.tasks {
		if t.Status == domain.StatusQueued {
			return t, true
		}
	}
	return nil, false
}

// AvailableSlots reports how many more tasks could go ACTIVE right now.
func (q *TaskQueue) AvailableSlots() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.maxConcurrent - q.activeCountLocked()
}

func (q *TaskQueue) transition(id string, from, to domain.TaskStatus) {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok || t.Status != from {
		q.mu.Unlock()
		return
	}
	t.Status = to
	q.mu.Unlock()
	q.notify()
}

func (q *TaskQueue) activeCountLocked() int {
	n := 0
	for _, t := range q.tasks {
		if t.Status == domain.StatusActive {
			n++
		}
	}
	return n
}

func (q *TaskQueue) moveToBackLocked(id string) {
	for i, t := range q.tasks {
		if t.ID == id {
			q.tasks = append(append(q.tasks[:i:i], q.tasks[i+1:]...), t)
			return
		}
	}
}

// notify publishes a coalesced change signal without ever blocking the
// mutator.
func (q *TaskQueue) notify() {
	select {
	case q.changed <- struct{}{}:
	default:
	}
	if q.onChange != nil {
		q.onChange()
	}
}
