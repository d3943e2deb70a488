package queue

import (
	"fmt"
	"testing"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTasks(n int) []*domain.Task {
	tasks := make([]*domain.Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, &domain.Task{
			ID:   fmt.Sprintf("task-%02d", i),
			Name: fmt.Sprintf("file-%02d.bin", i),
			Size: 1000,
		})
	}
	return tasks
}

func TestTaskQueue_ConcurrencyInvariant(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 3, Options{})
	tasks := makeTasks(10)
	q.AddTasks(tasks)

	activeMax := 0
	promote := func() {
		for {
			next, ok := q.NextQueued()
			if !ok || !q.StartTask(next.ID) {
				return
			}
			if n := len(q.ActiveItems()); n > activeMax {
				activeMax = n
			}
		}
	}

	promote()
	assert.Len(t, q.ActiveItems(), 3)
	assert.Zero(t, q.AvailableSlots())

	// Complete tasks one by one, promoting after each; the ACTIVE count
	// must never exceed the ceiling across any interleaving.
	for i := 0; i < 10; i++ {
		active := q.ActiveItems()
		if len(active) == 0 {
			break
		}
		q.CompleteTask(active[0].ID)
		promote()
		assert.LessOrEqual(t, len(q.ActiveItems()), 3)
	}

	assert.LessOrEqual(t, activeMax, 3)
	for _, task := range q.QueueItems() {
		assert.Equal(t, domain.StatusCompleted, task.Status)
	}
}

func TestTaskQueue_StartRespectsCeiling(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 2, Options{})
	q.AddTasks(makeTasks(3))

	require.True(t, q.StartTask("task-00"))
	require.True(t, q.StartTask("task-01"))
	assert.False(t, q.StartTask("task-02"), "third start must be refused at ceiling 2")

	q.CompleteTask("task-00")
	assert.True(t, q.StartTask("task-02"), "slot freed by completion is reusable")
}

func TestTaskQueue_SilentNoOps(t *testing.T) {
	q := NewTaskQueue(domain.CategoryDownload, 2, Options{})
	q.AddTasks(makeTasks(2))
	before := q.QueueItems()

	assert.NotPanics(t, func() {
		q.PauseTask("nonexistent")
		q.ResumeTask("nonexistent")
		q.CancelTask("nonexistent")
		q.UpdateTaskProgress("nonexistent", 0.5)
		q.CompleteTask("nonexistent")
		q.FailTask("nonexistent", "boom")
	})

	after := q.QueueItems()
	require.Len(t, after, len(before))
	for i := range after {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, domain.StatusQueued, after[i].Status)
		assert.Zero(t, after[i].Progress)
	}
}

func TestTaskQueue_PauseResumeCycle(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 1, Options{})
	q.AddTasks(makeTasks(2))

	// Pause from QUEUED is an incompatible state: no-op.
	q.PauseTask("task-00")
	task, _ := q.GetTask("task-00")
	assert.Equal(t, domain.StatusQueued, task.Status)

	require.True(t, q.StartTask("task-00"))
	q.PauseTask("task-00")
	task, _ = q.GetTask("task-00")
	assert.Equal(t, domain.StatusPaused, task.Status)

	// Resume re-enters the queue behind task-01, it does not jump to
	// ACTIVE.
	q.ResumeTask("task-00")
	task, _ = q.GetTask("task-00")
	assert.Equal(t, domain.StatusQueued, task.Status)

	next, ok := q.NextQueued()
	require.True(t, ok)
	assert.Equal(t, "task-01", next.ID)
}

func TestTaskQueue_CancelFromAnyNonTerminal(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 2, Options{})
	q.AddTasks(makeTasks(3))

	require.True(t, q.StartTask("task-00"))
	require.True(t, q.StartTask("task-01"))
	q.PauseTask("task-01")

	q.CancelTask("task-00") // from ACTIVE
	q.CancelTask("task-01") // from PAUSED
	q.CancelTask("task-02") // from QUEUED

	for _, id := range []string{"task-00", "task-01", "task-02"} {
		task, _ := q.GetTask(id)
		assert.Equal(t, domain.StatusCancelled, task.Status, id)
	}

	// Terminal states stay put.
	q.CompleteTask("task-00")
	task, _ := q.GetTask("task-00")
	assert.Equal(t, domain.StatusCancelled, task.Status)
}

func TestTaskQueue_AddTasksPreservesCategory(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 2, Options{})

	q.AddTasks([]*domain.Task{
		{ID: "plain", Name: "a.bin"},
		{ID: "gallery", Name: "g.bin", Category: domain.CategoryGallerySync},
	})

	plain, _ := q.GetTask("plain")
	assert.Equal(t, domain.CategoryUpload, plain.Category,
		"tasks without a category inherit the queue's")

	gallery, _ := q.GetTask("gallery")
	assert.Equal(t, domain.CategoryGallerySync, gallery.Category,
		"a hosted category must not be rewritten by the queue")
}

func TestTaskQueue_ProgressRejectedWhenTerminal(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 1, Options{})
	q.AddTasks(makeTasks(1))
	require.True(t, q.StartTask("task-00"))

	assert.True(t, q.UpdateTaskProgress("task-00", 0.5))

	q.CompleteTask("task-00")
	assert.False(t, q.UpdateTaskProgress("task-00", 0.9))
	assert.False(t, q.UpdateTaskProgress("nonexistent", 0.9))

	task, _ := q.GetTask("task-00")
	assert.Equal(t, 1.0, task.Progress)
}

func TestTaskQueue_ProgressClamping(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 1, Options{})
	q.AddTasks(makeTasks(1))
	require.True(t, q.StartTask("task-00"))

	q.UpdateTaskProgress("task-00", -0.5)
	task, _ := q.GetTask("task-00")
	assert.Zero(t, task.Progress)

	q.UpdateTaskProgress("task-00", 1.5)
	task, _ = q.GetTask("task-00")
	assert.Equal(t, 1.0, task.Progress)

	q.UpdateTaskProgress("task-00", 0.25)
	task, _ = q.GetTask("task-00")
	assert.Equal(t, 0.25, task.Progress)
}

func TestTaskQueue_CallbacksFireOnce(t *testing.T) {
	var completed, failed []string
	q := NewTaskQueue(domain.CategoryUpload, 2, Options{
		OnComplete: func(task *domain.Task) { completed = append(completed, task.ID) },
		OnFail:     func(task *domain.Task) { failed = append(failed, task.ID) },
	})
	q.AddTasks(makeTasks(2))

	require.True(t, q.StartTask("task-00"))
	require.True(t, q.StartTask("task-01"))

	q.CompleteTask("task-00")
	q.CompleteTask("task-00") // terminal, no second callback
	q.FailTask("task-01", "remote said no")
	q.FailTask("task-01", "again")

	assert.Equal(t, []string{"task-00"}, completed)
	assert.Equal(t, []string{"task-01"}, failed)

	task, _ := q.GetTask("task-01")
	assert.Equal(t, "remote said no", task.Error)
}

func TestTaskQueue_ChangeSignalCoalesces(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 1, Options{})

	q.AddTasks(makeTasks(3))
	q.UpdateTaskProgress("task-00", 0.1)

	// Multiple mutations, at most one pending signal.
	select {
	case <-q.Changes():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-q.Changes():
		t.Fatal("signal was not coalesced")
	default:
	}
}

func TestTaskQueue_Clear(t *testing.T) {
	q := NewTaskQueue(domain.CategoryUpload, 2, Options{})
	q.AddTasks(makeTasks(4))
	require.True(t, q.StartTask("task-00"))

	q.Clear()
	assert.Empty(t, q.QueueItems())
	assert.Empty(t, q.ActiveItems())
	_, ok := q.GetTask("task-00")
	assert.False(t, ok)
}
