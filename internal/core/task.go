package core

import (
	"fmt"
	"time"
)

// TaskID is a monotonic short id (e.g. "t-000123"), unique within the store.
type TaskID string

// WorkerID identifies a worker slot (e.g. "worker-1").
type WorkerID string

// TaskStatus is a task's position in its state machine (spec §3):
//
//	pending → claimed → running → merging → testing → completed|failed|cancelled|merge_pending
//	pending → plan_pending → plan_approved → claimed → …
//	plan_pending → pending (rejection)
//	any terminal non-completed → pending (retry)
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskPlanPending  TaskStatus = "plan_pending"
	TaskPlanApproved TaskStatus = "plan_approved"
	TaskClaimed      TaskStatus = "claimed"
	TaskRunning      TaskStatus = "running"
	TaskMerging      TaskStatus = "merging"
	TaskTesting      TaskStatus = "testing"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
	TaskCancelled    TaskStatus = "cancelled"
	TaskMergePending TaskStatus = "merge_pending"
)

// activeStatuses are the statuses during which a task owns a worker.
var activeStatuses = map[TaskStatus]bool{
	TaskClaimed: true,
	TaskRunning: true,
	TaskMerging: true,
	TaskTesting: true,
}

// IsActive reports whether status requires a non-null worker_id.
func (s TaskStatus) IsActive() bool { return activeStatuses[s] }

// IsTerminal reports whether status is a final resting state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskMergePending:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates the forward edges of the state machine
// (excluding retry and plan-rejection, handled separately by Reset/Reject).
var legalTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:      {TaskPlanPending: true, TaskClaimed: true},
	TaskPlanPending:  {TaskPlanApproved: true, TaskPending: true},
	TaskPlanApproved: {TaskClaimed: true},
	TaskClaimed:      {TaskRunning: true},
	TaskRunning:      {TaskMerging: true, TaskFailed: true, TaskCancelled: true},
	TaskMerging:      {TaskTesting: true, TaskCompleted: true, TaskFailed: true, TaskMergePending: true, TaskCancelled: true},
	TaskTesting:      {TaskCompleted: true, TaskFailed: true, TaskMergePending: true, TaskCancelled: true},
}

// PlanMessage is one turn of a plan-refinement conversation.
type PlanMessage struct {
	Role      string    `json:"role"` // "assistant" | "user"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PlanQA is one clarification question with its default and chosen answer.
type PlanQA struct {
	Question string `json:"question"`
	Default  string `json:"default"`
	Answer   string `json:"answer,omitempty"`
}

// Task is one unit of work scoped to a project.
type Task struct {
	ID           TaskID        `json:"id"`
	ProjectID    ProjectID     `json:"project_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Priority     int           `json:"priority"`
	DependsOn    TaskID        `json:"depends_on,omitempty"`
	PlanMode     bool          `json:"plan_mode"`
	Plan         string        `json:"plan,omitempty"`
	PlanApproved bool          `json:"plan_approved"`
	PlanQAs      []PlanQA      `json:"plan_qas,omitempty"`
	PlanMessages []PlanMessage `json:"plan_messages,omitempty"`
	Status       TaskStatus    `json:"status"`
	WorkerID     WorkerID      `json:"worker_id,omitempty"`
	Branch       string        `json:"branch,omitempty"`
	CommitID     string        `json:"commit_id,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// NewTask constructs a pending task, deriving a title from the description
// if none is given.
func NewTask(id TaskID, projectID ProjectID, description string, priority int) *Task {
	t := &Task{
		ID:          id,
		ProjectID:   projectID,
		Description: description,
		Priority:    priority,
		Status:      TaskPending,
		CreatedAt:   time.Now(),
	}
	t.Title = deriveTitle(description)
	return t
}

func deriveTitle(description string) string {
	const maxLen = 72
	if len(description) <= maxLen {
		return description
	}
	return description[:maxLen] + "…"
}

// BranchName computes the task branch name: <agent-prefix>/<task-id>.
func BranchName(agentPrefix string, id TaskID) string {
	return fmt.Sprintf("%s/%s", agentPrefix, id)
}

// transition applies a legal forward move or returns Conflict, leaving the
// task untouched on failure.
func (t *Task) transition(to TaskStatus) error {
	if !legalTransitions[t.Status][to] {
		return ErrConflict("INVALID_TRANSITION", fmt.Sprintf("cannot move task %s from %s to %s", t.ID, t.Status, to))
	}
	t.Status = to
	return nil
}

// EnterPlanPending moves pending → plan_pending.
func (t *Task) EnterPlanPending() error { return t.transition(TaskPlanPending) }

// ApprovePlan records answers and moves plan_pending → plan_approved.
func (t *Task) ApprovePlan(answers map[string]string) error {
	if err := t.transition(TaskPlanApproved); err != nil {
		return err
	}
	for i := range t.PlanQAs {
		if a, ok := answers[t.PlanQAs[i].Question]; ok {
			t.PlanQAs[i].Answer = a
		}
	}
	t.PlanApproved = true
	return nil
}

// RejectPlan folds feedback into the description and moves plan_pending →
// pending.
func (t *Task) RejectPlan(feedback string) error {
	if err := t.transition(TaskPending); err != nil {
		return err
	}
	if feedback != "" {
		t.Description = feedback + "\n\n" + t.Description
	}
	return nil
}

// Claim moves {pending, plan_approved} → claimed, assigning a worker.
func (t *Task) Claim(worker WorkerID) error {
	if t.Status != TaskPending && t.Status != TaskPlanApproved {
		return ErrConflict("INVALID_TRANSITION", fmt.Sprintf("cannot claim task %s in status %s", t.ID, t.Status))
	}
	t.Status = TaskClaimed
	t.WorkerID = worker
	return nil
}

// MarkRunning moves claimed → running.
func (t *Task) MarkRunning() error {
	if err := t.transition(TaskRunning); err != nil {
		return err
	}
	now := time.Now()
	t.StartedAt = &now
	return nil
}

// MarkMerging moves running → merging on a successful container exit,
// recording the branch/commit reported by the callback. Idempotent: a
// repeated callback for the same commit is a no-op (Design Note).
func (t *Task) MarkMerging(branch, commit string) error {
	if t.Status == TaskMerging && t.CommitID == commit {
		return nil
	}
	if err := t.transition(TaskMerging); err != nil {
		return err
	}
	t.Branch = branch
	t.CommitID = commit
	return nil
}

// EnterTesting moves merging → testing once rebase is clean and tests
// begin (kept as a distinct sub-state per Design Notes open question).
func (t *Task) EnterTesting() error { return t.transition(TaskTesting) }

// MarkCompleted moves {merging, testing} → completed.
func (t *Task) MarkCompleted() error {
	if t.Status != TaskMerging && t.Status != TaskTesting {
		return ErrConflict("INVALID_TRANSITION", fmt.Sprintf("cannot complete task %s in status %s", t.ID, t.Status))
	}
	t.Status = TaskCompleted
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkFailed moves {running, merging, testing} → failed with a reason.
func (t *Task) MarkFailed(reason string) error {
	switch t.Status {
	case TaskRunning, TaskMerging, TaskTesting:
	default:
		return ErrConflict("INVALID_TRANSITION", fmt.Sprintf("cannot fail task %s in status %s", t.ID, t.Status))
	}
	t.Status = TaskFailed
	t.Error = reason
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkMergePending moves {merging, testing} → merge_pending, keeping the
// branch intact for manual merge.
func (t *Task) MarkMergePending() error {
	switch t.Status {
	case TaskMerging, TaskTesting:
	default:
		return ErrConflict("INVALID_TRANSITION", fmt.Sprintf("cannot defer task %s in status %s", t.ID, t.Status))
	}
	t.Status = TaskMergePending
	return nil
}

// Cancel moves any active (non-terminal) status to cancelled.
func (t *Task) Cancel() error {
	if t.Status.IsTerminal() {
		return ErrConflict("INVALID_TRANSITION", fmt.Sprintf("cannot cancel terminal task %s in status %s", t.ID, t.Status))
	}
	t.Status = TaskCancelled
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// Retry resets a terminal non-completed task back to pending, clearing
// worker_id and error; only legal from failed, cancelled, merge_pending.
func (t *Task) Retry() error {
	switch t.Status {
	case TaskFailed, TaskCancelled, TaskMergePending:
	default:
		return ErrConflict("INVALID_TRANSITION", fmt.Sprintf("cannot retry task %s in status %s", t.ID, t.Status))
	}
	t.Status = TaskPending
	t.WorkerID = ""
	t.Error = ""
	t.Branch = ""
	t.CommitID = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	return nil
}

// IsReady reports claim eligibility: status pending/plan_approved AND (no
// dependency OR dependency completed).
func (t *Task) IsReady(dependencyCompleted func(TaskID) bool) bool {
	if t.Status != TaskPending && t.Status != TaskPlanApproved {
		return false
	}
	if t.DependsOn == "" {
		return true
	}
	return dependencyCompleted(t.DependsOn)
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task id cannot be empty")
	}
	if t.Description == "" {
		return ErrValidation("TASK_DESCRIPTION_REQUIRED", "task description cannot be empty")
	}
	hasWorker := t.WorkerID != ""
	if hasWorker != t.Status.IsActive() {
		return ErrValidation("TASK_WORKER_INVARIANT", "worker_id must be set iff status is claimed/running/merging/testing")
	}
	needsCommit := t.Status == TaskCompleted || t.Status == TaskMergePending
	if needsCommit && t.CommitID == "" {
		return ErrValidation("TASK_COMMIT_INVARIANT", "commit_id must be set when status is completed or merge_pending")
	}
	return nil
}

// Duration returns elapsed execution time.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return end.Sub(*t.StartedAt)
}

// Clone returns a deep-enough copy for safe handoff to a reader.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.PlanQAs = append([]PlanQA(nil), t.PlanQAs...)
	clone.PlanMessages = append([]PlanMessage(nil), t.PlanMessages...)
	return &clone
}

// TaskLess implements the spec §4.1 claim tie-break: higher priority
// first, earlier created_at second, lexicographic id third.
func TaskLess(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
