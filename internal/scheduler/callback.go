package scheduler

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// CallbackStatus is the terminal state an agent container reports about
// its own task (spec §4.7 step 3: "callback transitions task as
// instructed").
type CallbackStatus string

const (
	CallbackMerging CallbackStatus = "merging"
	CallbackFailed  CallbackStatus = "failed"
)

// CallbackPayload is the body of a worker's status callback, addressed by
// worker_id/task_id query parameters the Scheduler attached to
// ContainerSpec.CallbackURL.
type CallbackPayload struct {
	Status CallbackStatus
	Branch string
	Commit string
	Reason string
}

// HandleCallback applies a worker's reported outcome to its task and frees
// the worker, called by the Gateway's internal callback handler. It is the
// only path that moves a task out of running other than the dispatch
// loop's own "worker exited without status" fallback.
func (s *Scheduler) HandleCallback(ctx context.Context, workerID core.WorkerID, taskID core.TaskID, status, branch, commit, reason string) error {
	payload := CallbackPayload{Status: CallbackStatus(status), Branch: branch, Commit: commit, Reason: reason}
	s.mu.Lock()
	assignment, ok := s.assignments[workerID]
	s.mu.Unlock()
	if !ok || assignment.taskID != taskID {
		return core.ErrValidation("CALLBACK_UNKNOWN_ASSIGNMENT", fmt.Sprintf("no in-flight assignment for worker %s task %s", workerID, taskID))
	}

	pr, err := s.projectResourcesByID(assignment.projectID)
	if err != nil {
		return err
	}

	_, err = pr.tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		switch payload.Status {
		case CallbackMerging:
			return t.MarkMerging(payload.Branch, payload.Commit)
		case CallbackFailed:
			return t.MarkFailed(payload.Reason)
		default:
			return core.ErrValidation("CALLBACK_STATUS_INVALID", "unknown callback status: "+string(payload.Status))
		}
	})
	if err != nil {
		return err
	}

	s.narrate("scheduler: %s reported %s by %s", taskID, payload.Status, workerID)
	s.releaseWorker(workerID)
	return nil
}

// projectResourcesByID looks up already-opened project resources by id,
// used by the callback path which only carries the id, not the project.
func (s *Scheduler) projectResourcesByID(id core.ProjectID) (*ProjectResources, error) {
	s.mu.Lock()
	pr, ok := s.resources[id]
	s.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound("project resources", string(id))
	}
	return pr, nil
}
