// Package supervisor boots and retires the engine process: opening the
// Store, sweeping every project's tasks for zombies left by a previous
// crash, then running the Scheduler and Gateway together until asked to
// stop (spec §4.11). Grounded on the teacher's cmd/quorum/cmd/serve.go
// bootstrap (a serveInfra struct wiring config/state/event bus/server in
// sequence before a signal-driven shutdown) and
// internal/service/workflow/recovery.go's RecoveryManager, whose
// stale-threshold zombie sweep is generalized here from one workflow's
// RecoveryStateManager to every project's store.TaskStore.
package supervisor

import (
	"context"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/gateway"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
)

// Scheduler is the subset of *scheduler.Scheduler the Supervisor drives.
type Scheduler interface {
	Run(ctx context.Context) error
}

// Supervisor owns the process lifecycle: the one-time startup recovery
// sweep, then running the Scheduler's control loop and the Gateway's HTTP
// server side by side until Shutdown is called.
type Supervisor struct {
	dataDir  string
	registry *store.ProjectRegistry
	runtime  core.ContainerRuntime
	sched    Scheduler
	gw       *gateway.Server
	logger   *logging.Logger
}

// New constructs a Supervisor. Call Recover once before Run.
func New(dataDir string, registry *store.ProjectRegistry, runtime core.ContainerRuntime, sched Scheduler, gw *gateway.Server, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{
		dataDir:  dataDir,
		registry: registry,
		runtime:  runtime,
		sched:    sched,
		gw:       gw,
		logger:   logger,
	}
}

// Recover sweeps every project's task store for tasks left active by a
// crash, resetting them to pending (spec §4.11 startup recovery). A fresh
// process has no record of which worker owned which container — that
// assignment map lived only in the previous process's memory — so no
// worker can be positively confirmed alive here; every active task is
// reset unconditionally. Containers orphaned by the previous process (if
// core.ContainerRuntime reports any still running) are logged for
// visibility but left for the runtime's own cleanup, since their
// callbacks now have nowhere registered to land.
func (s *Supervisor) Recover(ctx context.Context) error {
	if s.runtime != nil {
		if handles, err := s.runtime.ListAlive(ctx); err != nil {
			s.logger.Warn("supervisor: listing alive containers failed", "error", err)
		} else if len(handles) > 0 {
			s.logger.Warn("supervisor: found orphaned containers from a previous run", "count", len(handles))
		}
	}
	isAlive := func(core.WorkerID) bool { return false }

	for _, project := range s.registry.List() {
		tasks, err := store.NewTaskStore(s.dataDir, project.ID)
		if err != nil {
			s.logger.Error("supervisor: opening task store for recovery failed", "project_id", string(project.ID), "error", err)
			continue
		}
		recovered, err := tasks.RecoverStale(ctx, isAlive)
		if err != nil {
			s.logger.Error("supervisor: recovering stale tasks failed", "project_id", string(project.ID), "error", err)
			continue
		}
		if len(recovered) > 0 {
			s.logger.Info("supervisor: recovered stale tasks", "project_id", string(project.ID), "count", len(recovered))
		}
	}
	return nil
}

// Run starts the Gateway's HTTP server and runs the Scheduler's control
// loop until ctx is cancelled, then shuts the Gateway down.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.gw != nil {
		s.gw.Start()
	}
	err := s.sched.Run(ctx)
	if s.gw != nil {
		shutdownCtx := context.Background()
		if shutdownErr := s.gw.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error("supervisor: gateway shutdown failed", "error", shutdownErr)
		}
	}
	return err
}

// DataDir returns the root directory backing the Store for this process,
// used by callers composing project-scoped paths (repo clones, worktrees).
func (s *Supervisor) DataDir() string { return s.dataDir }

// ProjectLogDir returns the log directory for a project, matching the
// layout the Scheduler uses internally.
func ProjectLogDir(dataDir string, id core.ProjectID) string {
	return filepath.Join(dataDir, "projects", string(id), "logs")
}
