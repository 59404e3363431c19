package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/streamparser"
)

// dispatch creates the task's worktree, starts its container, forwards the
// agent's log stream onto the Event Bus, and monitors the worker until a
// status callback transitions the task away from running or the container
// exits without one (spec §4.7 steps 2-3).
func (s *Scheduler) dispatch(ctx context.Context, workerID core.WorkerID, pr *ProjectResources, task *core.Task) {
	log := s.logger.WithTask(string(task.ID))
	branch := task.Branch
	if branch == "" {
		branch = core.BranchName(s.cfg.AgentPrefix, task.ID)
	}

	if existing, err := pr.worktrees.Get(ctx, task.ID); err == nil && existing != nil {
		_ = pr.worktrees.Remove(ctx, task.ID)
	}

	base := s.resolveBaseRef(ctx, pr)
	wt, err := pr.worktrees.Create(ctx, task.ID, branch, base)
	if err != nil {
		s.failDispatch(ctx, pr, task, workerID, fmt.Sprintf("creating worktree: %v", err))
		return
	}

	if _, err := pr.tasks.Mutate(ctx, task.ID, func(t *core.Task) error {
		t.Branch = branch
		return nil
	}); err != nil {
		log.Error("scheduler: recording branch failed", "error", err)
	}

	prompt := s.composePrompt(ctx, pr.ID, task)
	spec := s.buildContainerSpec(workerID, task.ID, wt.Path, pr, prompt)

	handle, err := s.runtime.Start(ctx, spec)
	if err != nil {
		s.failDispatch(ctx, pr, task, workerID, fmt.Sprintf("starting container: %v", err))
		return
	}

	s.setContainer(workerID, handle)
	s.setAssignment(workerID, pr.ID, task.ID)

	if _, err := pr.tasks.Mutate(ctx, task.ID, func(t *core.Task) error {
		return t.MarkRunning()
	}); err != nil {
		log.Error("scheduler: marking task running failed", "error", err)
	}
	s.narrate("scheduler: started %s on %s", task.ID, workerID)

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		s.streamLogs(ctx, workerID, pr, handle)
	}()

	exitCode, waitErr := s.runtime.Wait(ctx, handle)
	<-logsDone

	if err := s.runtime.VerifyWorktreeLink(wt.Path); err != nil {
		log.Warn("scheduler: worktree link verification failed", "error", err)
	}

	if waitErr != nil {
		log.Warn("scheduler: container wait failed", "error", waitErr)
	} else {
		log.Info("scheduler: container exited", "exit_code", exitCode)
	}

	s.awaitTerminalOrFail(ctx, pr, task.ID, workerID)
}

// resolveBaseRef prefers the default branch's remote-tracking ref, falling
// back to the local default branch, then HEAD (spec §4.7 step 2).
func (s *Scheduler) resolveBaseRef(ctx context.Context, pr *ProjectResources) string {
	branch, err := pr.git.DefaultBranch(ctx)
	if err != nil || branch == "" {
		return "HEAD"
	}
	if _, err := pr.git.RevParse(ctx, "origin/"+branch); err == nil {
		return "origin/" + branch
	}
	if exists, err := pr.git.BranchExists(ctx, branch); err == nil && exists {
		return branch
	}
	return "HEAD"
}

// composePrompt assembles the agent's instructions from the approved plan
// (if any), an experience snippet (if any), the task description, and a
// fixed working-directory constraint (spec §4.2).
func (s *Scheduler) composePrompt(ctx context.Context, projectID core.ProjectID, task *core.Task) string {
	var b strings.Builder
	if s.plans != nil {
		if plan, ok := s.plans.Plan(ctx, projectID, task.ID); ok && plan != "" {
			b.WriteString("Approved plan:\n")
			b.WriteString(plan)
			b.WriteString("\n\n")
		}
	}
	if s.experiences != nil {
		if snippet, ok := s.experiences.Snippet(ctx, projectID, task.Description); ok && snippet != "" {
			b.WriteString("Relevant prior work:\n")
			b.WriteString(snippet)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("Task:\n")
	b.WriteString(task.Description)
	b.WriteString("\n\nWork only inside the current directory; it is your task's dedicated worktree.")
	return b.String()
}

// buildContainerSpec mounts the task's worktree read-write, the project's
// repo read-only (for history lookups), and the log directory read-write,
// per spec §4.5.
func (s *Scheduler) buildContainerSpec(workerID core.WorkerID, taskID core.TaskID, worktreePath string, pr *ProjectResources, prompt string) core.ContainerSpec {
	callbackURL := ""
	if s.cfg.CallbackBaseURL != "" {
		callbackURL = fmt.Sprintf("%s?worker_id=%s&task_id=%s", s.cfg.CallbackBaseURL, workerID, taskID)
	}
	return core.ContainerSpec{
		WorkerID: workerID,
		TaskID:   taskID,
		Image:    s.cfg.Image,
		Env: map[string]string{
			"PROMPT": prompt,
		},
		Mounts: []core.ContainerMount{
			{HostPath: worktreePath, ContainerPath: "/workspace", ReadOnly: false},
			{HostPath: pr.RepoPath, ContainerPath: "/repo", ReadOnly: true},
			{HostPath: pr.LogDir, ContainerPath: "/logs", ReadOnly: false},
		},
		CallbackURL: callbackURL,
	}
}

// streamLogs reads the container's combined output, feeds it through a
// streamparser.Parser, and publishes each resulting event on the worker's
// log topic.
func (s *Scheduler) streamLogs(ctx context.Context, workerID core.WorkerID, pr *ProjectResources, handle core.ContainerHandle) {
	reader, err := s.runtime.LogsStream(ctx, handle)
	if err != nil {
		s.logger.Warn("scheduler: log stream unavailable", "worker_id", string(workerID), "error", err)
		return
	}
	defer reader.Close()

	topic := eventbus.LogTopic(string(workerID))
	parser := streamparser.New(topic)
	scanner := bufio.NewReaderSize(reader, 64*1024)

	for {
		line, err := scanner.ReadBytes('\n')
		if len(line) > 0 {
			for _, ev := range parser.Feed(line) {
				s.bus.Publish(ev)
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("scheduler: log stream read error", "worker_id", string(workerID), "error", err)
			}
			break
		}
	}
	for _, ev := range parser.Close() {
		s.bus.Publish(ev)
	}
}

// awaitTerminalOrFail polls the task store for up to cfg.CallbackTimeout,
// waiting for a status callback to have already moved the task out of
// running; if none arrives, it fails the task itself (spec §4.7 step 3).
func (s *Scheduler) awaitTerminalOrFail(ctx context.Context, pr *ProjectResources, taskID core.TaskID, workerID core.WorkerID) {
	deadline := time.Now().Add(s.cfg.CallbackTimeout)
	const pollEvery = 250 * time.Millisecond

	for {
		task, err := pr.tasks.Get(taskID)
		if err != nil {
			s.logger.Error("scheduler: reloading task failed", "task_id", string(taskID), "error", err)
			s.releaseWorker(workerID)
			return
		}
		if task.Status != core.TaskRunning && task.Status != core.TaskClaimed {
			s.releaseWorker(workerID)
			return
		}
		if time.Now().After(deadline) {
			if _, err := pr.tasks.Mutate(ctx, taskID, func(t *core.Task) error {
				return t.MarkFailed("worker exited without status")
			}); err != nil {
				s.logger.Error("scheduler: marking unreported exit as failed failed", "task_id", string(taskID), "error", err)
			}
			s.narrate("scheduler: %s failed, worker exited without status", taskID)
			s.releaseWorker(workerID)
			return
		}
		select {
		case <-ctx.Done():
			s.releaseWorker(workerID)
			return
		case <-time.After(pollEvery):
		}
	}
}

// failDispatch marks a task failed before a container ever started (e.g. a
// worktree creation or container-launch error) and frees the worker.
func (s *Scheduler) failDispatch(ctx context.Context, pr *ProjectResources, task *core.Task, workerID core.WorkerID, reason string) {
	if _, err := pr.tasks.Mutate(ctx, task.ID, func(t *core.Task) error {
		if t.Status == core.TaskClaimed {
			// MarkFailed only accepts running/merging/testing; a task that
			// never got a container still attempted to run.
			if err := t.MarkRunning(); err != nil {
				return err
			}
		}
		return t.MarkFailed(reason)
	}); err != nil {
		s.logger.Error("scheduler: marking dispatch failure failed", "task_id", string(task.ID), "error", err)
	}
	s.narrate("scheduler: %s failed: %s", task.ID, reason)
	s.markWorkerError(workerID)
	_ = pr.worktrees.Remove(ctx, task.ID)
}
