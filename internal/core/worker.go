package core

import "time"

// WorkerStatus is a worker slot's current occupancy.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerStopped WorkerStatus = "stopped"
	WorkerError   WorkerStatus = "error"
)

// ContainerHandle identifies the running container backing a busy worker.
type ContainerHandle string

// Worker is one of the engine's fixed pool of execution slots (spec §3):
// "worker-1".."worker-N", each at most one container at a time.
type Worker struct {
	ID             WorkerID        `json:"id"`
	Status         WorkerStatus    `json:"status"`
	Container      ContainerHandle `json:"container,omitempty"`
	CurrentTaskID  TaskID          `json:"current_task_id,omitempty"`
	CurrentTitle   string          `json:"current_title,omitempty"`
	CompletedCount int             `json:"completed_count"`
	LastActivity   time.Time       `json:"last_activity"`
	StartedAt      time.Time       `json:"started_at"`
}

// NewWorker constructs an idle worker.
func NewWorker(id WorkerID) *Worker {
	now := time.Now()
	return &Worker{
		ID:           id,
		Status:       WorkerIdle,
		StartedAt:    now,
		LastActivity: now,
	}
}

// IsAvailable reports whether the worker can be assigned a task.
func (w *Worker) IsAvailable() bool {
	return w != nil && w.Status == WorkerIdle
}

// Assign moves idle → busy, attaching the task and container handle.
func (w *Worker) Assign(taskID TaskID, title string, handle ContainerHandle) error {
	if w.Status != WorkerIdle {
		return ErrConflict("WORKER_NOT_IDLE", "worker "+string(w.ID)+" is not idle")
	}
	w.Status = WorkerBusy
	w.CurrentTaskID = taskID
	w.CurrentTitle = title
	w.Container = handle
	w.LastActivity = time.Now()
	return nil
}

// Release moves busy → idle, clearing task/container state and bumping the
// completion count.
func (w *Worker) Release() {
	w.Status = WorkerIdle
	w.CurrentTaskID = ""
	w.CurrentTitle = ""
	w.Container = ""
	w.CompletedCount++
	w.LastActivity = time.Now()
}

// MarkError moves the worker to error, e.g. after a container that failed
// to start or exited abnormally with no recoverable task state.
func (w *Worker) MarkError() {
	w.Status = WorkerError
	w.Container = ""
	w.LastActivity = time.Now()
}

// MarkStopped moves the worker to stopped, e.g. during supervised shutdown.
func (w *Worker) MarkStopped() {
	w.Status = WorkerStopped
	w.Container = ""
	w.LastActivity = time.Now()
}

// Recover moves an error/stopped worker back to idle, used by the
// Lifecycle Supervisor's startup sweep.
func (w *Worker) Recover() {
	w.Status = WorkerIdle
	w.CurrentTaskID = ""
	w.CurrentTitle = ""
	w.Container = ""
	w.LastActivity = time.Now()
}

// Clone returns a copy safe for concurrent reads.
func (w *Worker) Clone() *Worker {
	if w == nil {
		return nil
	}
	clone := *w
	return &clone
}
