// Package scheduler implements the engine's single control loop (spec
// §4.7): reconciling the worker pool, claiming and dispatching ready tasks
// into sandboxed containers, and sweeping tasks through the merge-test
// pipeline once their agent run reports back. Grounded on the teacher's
// internal/service/workflow.Runner/HeartbeatManager pair — a ticking
// control loop bounding per-worker work with golang.org/x/sync/errgroup —
// generalized from one fixed workflow to N concurrent worker slots across
// M projects.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/gitmanager"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
)

// CallbackTimeout is how long a busy worker is given, after its container
// exits, to have already been transitioned by a status callback before the
// Scheduler treats the exit as an unreported failure (spec §4.7 step 3).
const CallbackTimeout = 30 * time.Second

// PlanProvider supplies an approved plan for a task, when one exists. The
// Plan Service satisfies this; it is optional so the Scheduler can run
// (and be tested) before that module is wired in.
type PlanProvider interface {
	Plan(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) (plan string, ok bool)
}

// ExperienceProvider supplies a short excerpt of relevant prior work for a
// task's prompt. The Experience Indexer satisfies this.
type ExperienceProvider interface {
	Snippet(ctx context.Context, projectID core.ProjectID, description string) (snippet string, ok bool)
}

// ExperienceRecorder is the full interface the Experience Indexer
// satisfies: ExperienceProvider's dispatch-time lookup, plus the
// completion-time write the merge-test pipeline triggers.
type ExperienceRecorder interface {
	ExperienceProvider
	Append(ctx context.Context, projectID core.ProjectID, worktreePath string, git core.GitClient, task *core.Task, problem, solution, prevention string) (sha string, err error)
}

// PlanGenerator is the full interface the Plan Service satisfies: the
// PlanProvider read path the Scheduler uses at dispatch time, plus the
// generation/refinement calls CreateTask and the Gateway's chat endpoint
// trigger.
type PlanGenerator interface {
	PlanProvider
	Generate(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) error
	Chat(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, message string) error
}

// Config configures the Scheduler's pool size and timing.
type Config struct {
	WorkerCount     int
	PollInterval    time.Duration
	CallbackTimeout time.Duration
	AgentPrefix     string
	Image           string
	DataDir         string
	CallbackBaseURL string // e.g. "http://host.docker.internal:PORT/internal/callback"
}

// DefaultConfig returns spec defaults: 3 workers, 1s poll, 30s callback grace.
func DefaultConfig() Config {
	return Config{
		WorkerCount:     3,
		PollInterval:    time.Second,
		CallbackTimeout: CallbackTimeout,
		AgentPrefix:     "quorum",
		Image:           "quorum-agent:latest",
	}
}

// ProjectResources bundles the per-project handles the Scheduler needs,
// constructed lazily and cached for the process lifetime.
type ProjectResources struct {
	ID         core.ProjectID
	RepoPath   string
	LogDir     string
	git        *gitmanager.Client
	worktrees  *gitmanager.TaskWorktreeManager
	tasks      *store.TaskStore
}

// workerAssignment records which project/task a busy worker currently owns,
// so a status callback (identified only by worker id) can be routed.
type workerAssignment struct {
	projectID core.ProjectID
	taskID    core.TaskID
}

// Scheduler runs the main control loop across every ready project,
// coordinating a fixed pool of workers against their task stores.
type Scheduler struct {
	cfg      Config
	registry *store.ProjectRegistry
	runtime  core.ContainerRuntime
	agent    core.Agent
	bus      *eventbus.Bus
	logger   *logging.Logger

	plans       PlanGenerator
	experiences ExperienceRecorder

	mu          sync.Mutex
	workers     map[core.WorkerID]*core.Worker
	assignments map[core.WorkerID]workerAssignment
	resources   map[core.ProjectID]*ProjectResources
	merging     map[core.TaskID]bool
}

// New constructs a Scheduler. plans and experiences may be nil; when nil,
// dispatch prompts skip the corresponding section, CreateTask never starts
// a plan generation call, and completed tasks aren't recorded. Both can
// also be wired in after construction via SetPlans/SetExperiences, which
// is required if either provider itself needs the Scheduler (via
// ProjectTasks) to be constructed first.
func New(cfg Config, registry *store.ProjectRegistry, runtime core.ContainerRuntime, agent core.Agent, bus *eventbus.Bus, logger *logging.Logger, plans PlanGenerator, experiences ExperienceRecorder) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = CallbackTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		cfg:         cfg,
		registry:    registry,
		runtime:     runtime,
		agent:       agent,
		bus:         bus,
		logger:      logger,
		plans:       plans,
		experiences: experiences,
		workers:     make(map[core.WorkerID]*core.Worker),
		assignments: make(map[core.WorkerID]workerAssignment),
		resources:   make(map[core.ProjectID]*ProjectResources),
		merging:     make(map[core.TaskID]bool),
	}
}

// SetPlans wires the Plan Service in after construction.
func (s *Scheduler) SetPlans(p PlanGenerator) { s.plans = p }

// SetExperiences wires the Experience Indexer in after construction.
func (s *Scheduler) SetExperiences(e ExperienceRecorder) { s.experiences = e }

// Run drives the control loop until ctx is cancelled, waiting for
// in-flight dispatch and merge-test goroutines to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return group.Wait()
		case <-ticker.C:
			s.tick(gctx, group)
		}
	}
}

// tick performs one pass of the control loop: pool reconciliation, claim
// and dispatch for idle workers, and the merging-task sweep. Per-task work
// runs in group-tracked goroutines so Run's shutdown waits for it to drain.
func (s *Scheduler) tick(ctx context.Context, group *errgroup.Group) {
	s.reconcilePool()

	for _, worker := range s.idleWorkers() {
		workerID := worker.ID
		project, task, err := s.claimForWorker(ctx, workerID)
		if err != nil {
			s.logger.Error("scheduler: claim failed", "worker_id", string(workerID), "error", err)
			continue
		}
		if task == nil {
			continue
		}
		// Mark busy synchronously, under lock, before the next tick's idle
		// scan can run, so one worker is never double-claimed.
		if !s.markBusy(workerID, task.ID, task.Title) {
			continue
		}
		group.Go(func() error {
			s.dispatch(ctx, workerID, project, task)
			return nil
		})
	}

	for _, pending := range s.collectMergingTasks() {
		pr, task := pending.pr, pending.task
		group.Go(func() error {
			s.processMergingTask(ctx, pr, task)
			return nil
		})
	}
}

// reconcilePool grows or shrinks the worker map to cfg.WorkerCount,
// stopping idle workers beyond the limit rather than killing busy ones
// (spec §4.7 step 1).
func (s *Scheduler) reconcilePool() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 1; i <= s.cfg.WorkerCount; i++ {
		id := core.WorkerID(fmt.Sprintf("worker-%d", i))
		if _, ok := s.workers[id]; !ok {
			s.workers[id] = core.NewWorker(id)
		} else if s.workers[id].Status == core.WorkerStopped {
			s.workers[id].Recover()
		}
	}
	for id, w := range s.workers {
		idx := 0
		fmt.Sscanf(string(id), "worker-%d", &idx)
		if idx > s.cfg.WorkerCount && w.Status != core.WorkerBusy {
			w.MarkStopped()
		}
	}
}

func (s *Scheduler) idleWorkers() []*core.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	var idle []*core.Worker
	for _, w := range s.workers {
		if w.IsAvailable() {
			idle = append(idle, w.Clone())
		}
	}
	return idle
}

// claimForWorker scans ready projects in registry order and claims the
// first available task for worker, returning (nil, nil, nil) if none of
// them have ready work.
func (s *Scheduler) claimForWorker(ctx context.Context, workerID core.WorkerID) (*ProjectResources, *core.Task, error) {
	for _, project := range s.registry.List() {
		if !project.IsReady() {
			continue
		}
		pr, err := s.projectResources(project)
		if err != nil {
			s.logger.Error("scheduler: opening project resources failed", "project_id", string(project.ID), "error", err)
			continue
		}

		release, err := pr.tasks.Lock(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("locking task store for %s: %w", project.ID, err)
		}
		task, err := pr.tasks.ClaimNext(workerID)
		release()
		if err != nil {
			return nil, nil, err
		}
		if task != nil {
			s.narrate("scheduler: claimed %s by %s", task.ID, workerID)
			return pr, task, nil
		}
	}
	return nil, nil, nil
}

// projectResources lazily opens and caches the git client, worktree
// manager, and task store backing one project.
func (s *Scheduler) projectResources(project *core.Project) (*ProjectResources, error) {
	s.mu.Lock()
	if pr, ok := s.resources[project.ID]; ok {
		s.mu.Unlock()
		return pr, nil
	}
	s.mu.Unlock()

	repoPath := filepath.Join(s.cfg.DataDir, "projects", string(project.ID), "repo")
	logDir := filepath.Join(s.cfg.DataDir, "projects", string(project.ID), "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	git, err := gitmanager.NewClient(repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening git client: %w", err)
	}
	worktreeDir := filepath.Join(s.cfg.DataDir, "projects", string(project.ID), "worktrees")
	worktrees := gitmanager.NewTaskWorktreeManager(git, worktreeDir)
	tasks, err := store.NewTaskStore(s.cfg.DataDir, project.ID)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}

	pr := &ProjectResources{
		ID:        project.ID,
		RepoPath:  repoPath,
		LogDir:    logDir,
		git:       git,
		worktrees: worktrees,
		tasks:     tasks,
	}

	s.mu.Lock()
	s.resources[project.ID] = pr
	s.mu.Unlock()
	return pr, nil
}

type mergingEntry struct {
	pr   *ProjectResources
	task *core.Task
}

// collectMergingTasks scans every cached project's task store for tasks in
// the merging state not already being processed, marking them in-flight
// so a later tick doesn't spawn a second worker for the same task.
func (s *Scheduler) collectMergingTasks() []mergingEntry {
	s.mu.Lock()
	resources := make([]*ProjectResources, 0, len(s.resources))
	for _, pr := range s.resources {
		resources = append(resources, pr)
	}
	s.mu.Unlock()

	var out []mergingEntry
	s.mu.Lock()
	for _, pr := range resources {
		for _, t := range pr.tasks.List() {
			if t.Status != core.TaskMerging || s.merging[t.ID] {
				continue
			}
			s.merging[t.ID] = true
			out = append(out, mergingEntry{pr: pr, task: t})
		}
	}
	s.mu.Unlock()
	return out
}

func (s *Scheduler) doneMerging(taskID core.TaskID) {
	s.mu.Lock()
	delete(s.merging, taskID)
	s.mu.Unlock()
}

func (s *Scheduler) setAssignment(workerID core.WorkerID, projectID core.ProjectID, taskID core.TaskID) {
	s.mu.Lock()
	s.assignments[workerID] = workerAssignment{projectID: projectID, taskID: taskID}
	s.mu.Unlock()
}

func (s *Scheduler) clearAssignment(workerID core.WorkerID) {
	s.mu.Lock()
	delete(s.assignments, workerID)
	s.mu.Unlock()
}

func (s *Scheduler) releaseWorker(workerID core.WorkerID) {
	s.mu.Lock()
	if w, ok := s.workers[workerID]; ok {
		w.Release()
	}
	delete(s.assignments, workerID)
	s.mu.Unlock()
}

// markBusy transitions workerID from idle to busy ahead of dispatch
// starting its container, reporting false if the worker was no longer
// idle (lost a race with another claim).
func (s *Scheduler) markBusy(workerID core.WorkerID, taskID core.TaskID, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok || !w.IsAvailable() {
		return false
	}
	return w.Assign(taskID, title, "") == nil
}

// setContainer records the handle of the container dispatch just started
// for an already-busy worker.
func (s *Scheduler) setContainer(workerID core.WorkerID, handle core.ContainerHandle) {
	s.mu.Lock()
	if w, ok := s.workers[workerID]; ok {
		w.Container = handle
	}
	s.mu.Unlock()
}

func (s *Scheduler) markWorkerError(workerID core.WorkerID) {
	s.mu.Lock()
	if w, ok := s.workers[workerID]; ok {
		w.MarkError()
	}
	delete(s.assignments, workerID)
	s.mu.Unlock()
}
