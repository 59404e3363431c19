package scheduler

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
)

// ProjectTasks returns the (shared, cached) task store backing a ready
// project, opening it on first use. The Gateway uses this instead of
// opening its own store.TaskStore, since TaskStore caches its tasks in
// memory and a second instance pointed at the same file would drift.
func (s *Scheduler) ProjectTasks(ctx context.Context, projectID core.ProjectID) (*store.TaskStore, error) {
	project, err := s.registry.Get(projectID)
	if err != nil {
		return nil, err
	}
	pr, err := s.projectResources(project)
	if err != nil {
		return nil, err
	}
	return pr.tasks, nil
}

// CreateTask validates the project is ready and appends a new task to its
// store, returning the created snapshot.
func (s *Scheduler) CreateTask(ctx context.Context, projectID core.ProjectID, description string, priority int, planMode bool, dependsOn core.TaskID) (*core.Task, error) {
	project, err := s.registry.Get(projectID)
	if err != nil {
		return nil, err
	}
	if !project.IsReady() {
		return nil, core.ErrConflict("PROJECT_NOT_READY", fmt.Sprintf("project %s is not ready", projectID))
	}
	pr, err := s.projectResources(project)
	if err != nil {
		return nil, err
	}
	release, err := pr.tasks.Lock(ctx)
	if err != nil {
		return nil, err
	}
	task, err := pr.tasks.Create(description, priority, planMode, dependsOn)
	release()
	if err != nil {
		return nil, err
	}

	if planMode && s.plans != nil {
		go func() {
			genCtx := context.Background()
			if err := s.plans.Generate(genCtx, projectID, task.ID); err != nil {
				s.logger.Error("scheduler: plan generation failed", "task_id", string(task.ID), "error", err)
			}
		}()
	}
	return task, nil
}

// Chat forwards a plan-refinement message to the Plan Service (spec
// §4.8 step 7), a no-op error if none is wired in.
func (s *Scheduler) Chat(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, message string) error {
	if s.plans == nil {
		return core.ErrValidation("PLAN_SERVICE_UNAVAILABLE", "no plan service is configured")
	}
	return s.plans.Chat(ctx, projectID, taskID, message)
}

// ApprovePlan moves a plan-pending task to plan-approved, making it
// claimable. answers carries the user's responses to any clarifying
// questions the Plan Service recorded.
func (s *Scheduler) ApprovePlan(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, answers map[string]string) (*core.Task, error) {
	tasks, err := s.ProjectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		return t.ApprovePlan(answers)
	})
}

// RejectPlan returns a plan-pending task to pending with feedback for the
// Plan Service's next round.
func (s *Scheduler) RejectPlan(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, feedback string) (*core.Task, error) {
	tasks, err := s.ProjectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		return t.RejectPlan(feedback)
	})
}

// Workers returns a snapshot of every worker in the pool, for status
// reporting.
func (s *Scheduler) Workers() []*core.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Clone())
	}
	return out
}
