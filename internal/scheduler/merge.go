package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/gitmanager"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/mergetest"
)

// processMergingTask runs the Merge-Test Engine against a task's worktree,
// then — on success — honors the project's auto_merge/auto_push flags
// against the main repo clone (spec §4.7 step 4). The worker that ran the
// task has already been released by HandleCallback; this step owns no
// worker slot.
func (s *Scheduler) processMergingTask(ctx context.Context, pr *ProjectResources, task *core.Task) {
	defer s.doneMerging(task.ID)
	log := s.logger.WithTask(string(task.ID))

	project, err := s.registry.Get(pr.ID)
	if err != nil {
		log.Error("scheduler: loading project for merge failed", "error", err)
		return
	}

	if _, err := pr.tasks.Mutate(ctx, task.ID, func(t *core.Task) error {
		return t.EnterTesting()
	}); err != nil {
		log.Error("scheduler: entering testing failed", "error", err)
		return
	}

	wt, err := pr.worktrees.Get(ctx, task.ID)
	if err != nil {
		s.markFailedTerminal(ctx, pr, task.ID, fmt.Sprintf("locating worktree: %v", err))
		return
	}

	worktreeGit, err := gitmanager.NewClient(wt.Path)
	if err != nil {
		s.markFailedTerminal(ctx, pr, task.ID, fmt.Sprintf("opening worktree git client: %v", err))
		return
	}

	base, err := pr.git.DefaultBranch(ctx)
	if err != nil || base == "" {
		base = "main"
	}

	engine := mergetest.NewEngine(worktreeGit, s.agent, s.logger)
	result := engine.Run(ctx, mergetest.Input{
		WorktreePath: wt.Path,
		RepoPath:     pr.RepoPath,
		Base:         base,
		WorkerID:     task.WorkerID,
		TaskID:       task.ID,
	})

	if !result.Ok {
		s.markFailedTerminal(ctx, pr, task.ID, result.Reason)
		_ = pr.worktrees.Remove(ctx, task.ID)
		return
	}

	finalSHA := result.FinalSHA
	if s.experiences != nil {
		if sha, err := s.experiences.Append(ctx, pr.ID, wt.Path, worktreeGit, task,
			experienceProblem(result), experienceSolution(task), experiencePrevention(result)); err != nil {
			log.Warn("scheduler: recording experience entry failed", "error", err)
		} else {
			finalSHA = sha
		}
	}

	s.finishMerge(ctx, pr, project, task, finalSHA)
}

// finishMerge integrates a clean task branch into the project's base
// branch according to its auto_merge/auto_push settings.
func (s *Scheduler) finishMerge(ctx context.Context, pr *ProjectResources, project *core.Project, task *core.Task, finalSHA string) {
	log := s.logger.WithTask(string(task.ID))

	if !project.AutoMerge {
		if _, err := pr.tasks.Mutate(ctx, task.ID, func(t *core.Task) error {
			t.CommitID = finalSHA
			return t.MarkMergePending()
		}); err != nil {
			log.Error("scheduler: marking merge_pending failed", "error", err)
		}
		s.narrate("scheduler: %s ready, awaiting manual merge", task.ID)
		return
	}

	if err := s.mergeAndMaybePush(ctx, pr, project, task.Branch); err != nil {
		if core.IsCategory(err, core.ErrCatMergeConflict) {
			if _, mErr := pr.tasks.Mutate(ctx, task.ID, func(t *core.Task) error {
				t.CommitID = finalSHA
				return t.MarkMergePending()
			}); mErr != nil {
				log.Error("scheduler: marking merge_pending after conflict failed", "error", mErr)
			}
			s.narrate("scheduler: %s merge conflict, awaiting manual merge", task.ID)
			return
		}
		s.markFailedTerminal(ctx, pr, task.ID, err.Error())
		return
	}

	if _, err := pr.tasks.Mutate(ctx, task.ID, func(t *core.Task) error {
		t.CommitID = finalSHA
		return t.MarkCompleted()
	}); err != nil {
		log.Error("scheduler: marking completed failed", "error", err)
	}
	s.narrate("scheduler: %s merged and completed", task.ID)
	_ = pr.worktrees.Remove(ctx, task.ID)
	_ = pr.git.DeleteBranch(ctx, task.Branch)
}

// mergeAndMaybePush checks out the project's base branch in the main repo
// clone (never the worktree), merges branch, and pushes if configured.
func (s *Scheduler) mergeAndMaybePush(ctx context.Context, pr *ProjectResources, project *core.Project, branch string) error {
	base, err := pr.git.DefaultBranch(ctx)
	if err != nil {
		return fmt.Errorf("resolving base branch: %w", err)
	}
	if err := pr.git.CheckoutBranch(ctx, base); err != nil {
		return fmt.Errorf("checking out %s: %w", base, err)
	}
	if err := pr.git.Merge(ctx, branch); err != nil {
		if isMergeConflict(err) {
			_ = pr.git.MergeAbort(ctx)
			return core.ErrMergeConflict(fmt.Sprintf("merging %s into %s: %v", branch, base, err))
		}
		return fmt.Errorf("merging %s into %s: %w", branch, base, err)
	}
	if project.AutoPush {
		if remote, rErr := pr.git.RemoteURL(ctx); rErr == nil && remote != "" {
			if err := pr.git.Push(ctx, "origin", base, false); err != nil {
				return fmt.Errorf("pushing %s: %w", base, err)
			}
		}
	}
	return nil
}

// isMergeConflict recognizes gitmanager's sentinel error by message, since
// Merge wraps it with fmt.Errorf and the Scheduler depends only on
// core.GitClient, not the gitmanager package's error variables.
func isMergeConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "merge conflict") || strings.Contains(msg, "CONFLICT")
}

// markFailedTerminal fails a task stuck in merging/testing and narrates it.
func (s *Scheduler) markFailedTerminal(ctx context.Context, pr *ProjectResources, taskID core.TaskID, reason string) {
	if _, err := pr.tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		return t.MarkFailed(reason)
	}); err != nil {
		s.logger.Error("scheduler: marking merge-test failure failed", "task_id", string(taskID), "error", err)
	}
	s.narrate("scheduler: %s failed: %s", taskID, reason)
}

// Cancel marks an active task cancelled, stopping its container if one is
// running, and cleaning up its worktree/branch.
func (s *Scheduler) Cancel(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) error {
	pr, err := s.projectResourcesByID(projectID)
	if err != nil {
		return err
	}
	task, err := pr.tasks.Get(taskID)
	if err != nil {
		return err
	}

	stillOwnsWorker := false
	if task.WorkerID != "" {
		s.mu.Lock()
		w, ok := s.workers[task.WorkerID]
		handle := core.ContainerHandle("")
		if ok && w.CurrentTaskID == taskID {
			handle = w.Container
			stillOwnsWorker = true
		}
		s.mu.Unlock()
		if handle != "" {
			_ = s.runtime.Stop(ctx, handle, 0)
		}
	}

	if _, err := pr.tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		return t.Cancel()
	}); err != nil {
		return err
	}
	if stillOwnsWorker {
		s.releaseWorker(task.WorkerID)
	}
	_ = pr.worktrees.Remove(ctx, taskID)
	s.narrate("scheduler: %s cancelled", taskID)
	return nil
}

// Merge performs a manual merge of a merge_pending task's branch into the
// project's base branch, optionally squashing.
func (s *Scheduler) Merge(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, squash bool) error {
	pr, err := s.projectResourcesByID(projectID)
	if err != nil {
		return err
	}
	project, err := s.registry.Get(projectID)
	if err != nil {
		return err
	}
	task, err := pr.tasks.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status != core.TaskMergePending {
		return core.ErrConflict("TASK_NOT_MERGE_PENDING", "task "+string(taskID)+" is not awaiting manual merge")
	}

	base, err := pr.git.DefaultBranch(ctx)
	if err != nil {
		return err
	}
	if err := pr.git.CheckoutBranch(ctx, base); err != nil {
		return err
	}
	// core.GitClient has no distinct squash-merge primitive yet; both paths
	// perform a regular merge until one is added.
	_ = squash
	if mergeErr := pr.git.Merge(ctx, task.Branch); mergeErr != nil {
		if isMergeConflict(mergeErr) {
			_ = pr.git.MergeAbort(ctx)
		}
		return mergeErr
	}
	if project.AutoPush {
		if remote, rErr := pr.git.RemoteURL(ctx); rErr == nil && remote != "" {
			if err := pr.git.Push(ctx, "origin", base, false); err != nil {
				return err
			}
		}
	}

	if _, err := pr.tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		return t.MarkCompleted()
	}); err != nil {
		return err
	}
	_ = pr.worktrees.Remove(ctx, taskID)
	_ = pr.git.DeleteBranch(ctx, task.Branch)
	s.narrate("scheduler: %s manually merged", taskID)
	return nil
}

// Retry resets a failed/cancelled/merge_pending task back to pending.
func (s *Scheduler) Retry(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) error {
	pr, err := s.projectResourcesByID(projectID)
	if err != nil {
		return err
	}
	_, err = pr.tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		return t.Retry()
	})
	if err == nil {
		s.narrate("scheduler: %s reset for retry", taskID)
	}
	return err
}

// experienceProblem/Solution/Prevention derive the Experience Indexer's
// completion summary (spec §4.9) from the merge-test result and the task
// itself; there is no richer completion log to mine yet.
func experienceProblem(result mergetest.Result) string {
	switch {
	case result.RebaseRetries > 0 && result.TestFixAttempts > 0:
		return fmt.Sprintf("Rebase needed %d conflict-resolution pass(es) and tests failed %d time(s) before passing.", result.RebaseRetries, result.TestFixAttempts)
	case result.RebaseRetries > 0:
		return fmt.Sprintf("Rebase needed %d conflict-resolution pass(es).", result.RebaseRetries)
	case result.TestFixAttempts > 0:
		return fmt.Sprintf("Tests failed %d time(s) before passing.", result.TestFixAttempts)
	default:
		return "No rebase conflicts or test failures during merge-testing."
	}
}

func experienceSolution(task *core.Task) string {
	if task.Plan != "" {
		return task.Plan
	}
	return task.Description
}

func experiencePrevention(result mergetest.Result) string {
	if result.RebaseRetries > 0 || result.TestFixAttempts > 0 {
		return "Future work touching the same area should expect similar rebase/test friction."
	}
	return "None noted."
}
