package scheduler

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

// newReadyProject registers a project and initializes a real git repo at
// the path projectResources expects, since gitmanager.NewClient insists on
// an existing repository (unlike onboard.Materialize's NewClientAt).
func newReadyProject(t *testing.T, dataDir string, registry *store.ProjectRegistry) *core.Project {
	t.Helper()
	project, err := registry.Add(context.Background(), "demo", core.Origin{Kind: core.OriginEmpty})
	testutil.AssertNoError(t, err)

	repoPath := filepath.Join(dataDir, "projects", string(project.ID), "repo")
	for _, args := range [][]string{
		{"init", repoPath},
		{"-C", repoPath, "config", "user.email", "test@example.com"},
		{"-C", repoPath, "config", "user.name", "Test User"},
	} {
		cmd := exec.Command("git", args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %s: %v", args, out, err)
		}
	}

	updated, err := registry.Update(context.Background(), project.ID, func(p *core.Project) error {
		p.MarkReady()
		return nil
	})
	testutil.AssertNoError(t, err)
	return updated
}

func newTestScheduler(t *testing.T, dataDir string, registry *store.ProjectRegistry) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = dataDir
	cfg.WorkerCount = 2
	return New(cfg, registry, testutil.NewMockContainerRuntime(), testutil.NewMockAgent("claude"), nil, nil, nil, nil)
}

func TestScheduler_ReconcilePool_GrowsAndShrinks(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)

	sched := newTestScheduler(t, dataDir, registry)
	sched.reconcilePool()
	testutil.AssertLen(t, sched.Workers(), 2)

	sched.cfg.WorkerCount = 1
	sched.reconcilePool()

	var stopped int
	for _, w := range sched.Workers() {
		if w.Status == core.WorkerStopped {
			stopped++
		}
	}
	testutil.AssertEqual(t, stopped, 1)
}

func TestScheduler_CreateTask_RequiresReadyProject(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)
	project, err := registry.Add(context.Background(), "not-ready", core.Origin{Kind: core.OriginEmpty})
	testutil.AssertNoError(t, err)

	sched := newTestScheduler(t, dataDir, registry)
	_, err = sched.CreateTask(context.Background(), project.ID, "do work", 1, false, "")
	testutil.AssertError(t, err)
}

func TestScheduler_CreateTask_ApprovePlan_RejectPlan(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)
	project := newReadyProject(t, dataDir, registry)

	sched := newTestScheduler(t, dataDir, registry)

	task, err := sched.CreateTask(context.Background(), project.ID, "do work", 1, false, "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, task.Status, core.TaskPending)

	approved, err := sched.ApprovePlan(context.Background(), project.ID, task.ID, nil)
	testutil.AssertError(t, err)
	_ = approved

	planTask, err := sched.CreateTask(context.Background(), project.ID, "plan this", 1, true, "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, planTask.Status, core.TaskPlanPending)

	rejected, err := sched.RejectPlan(context.Background(), project.ID, planTask.ID, "needs more detail")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, rejected.Status, core.TaskPending)
}

func TestScheduler_Chat_WithoutPlanServiceReturnsError(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)
	project := newReadyProject(t, dataDir, registry)

	sched := newTestScheduler(t, dataDir, registry)
	task, err := sched.CreateTask(context.Background(), project.ID, "do work", 1, false, "")
	testutil.AssertNoError(t, err)

	err = sched.Chat(context.Background(), project.ID, task.ID, "hello")
	testutil.AssertError(t, err)
}

type stubPlanGenerator struct{ plan string }

func (s *stubPlanGenerator) Plan(context.Context, core.ProjectID, core.TaskID) (string, bool) {
	return s.plan, s.plan != ""
}
func (s *stubPlanGenerator) Generate(context.Context, core.ProjectID, core.TaskID) error { return nil }
func (s *stubPlanGenerator) Chat(context.Context, core.ProjectID, core.TaskID, string) error {
	return nil
}

func TestScheduler_SetPlans_WiresChatThrough(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)
	project := newReadyProject(t, dataDir, registry)

	sched := newTestScheduler(t, dataDir, registry)
	sched.SetPlans(&stubPlanGenerator{plan: "1. do it"})

	task, err := sched.CreateTask(context.Background(), project.ID, "do work", 1, false, "")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, sched.Chat(context.Background(), project.ID, task.ID, "refine it"))
}

func TestScheduler_ProjectTasks_SameStoreAcrossCalls(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)
	project := newReadyProject(t, dataDir, registry)

	sched := newTestScheduler(t, dataDir, registry)
	a, err := sched.ProjectTasks(context.Background(), project.ID)
	testutil.AssertNoError(t, err)
	b, err := sched.ProjectTasks(context.Background(), project.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, a == b, "expected the cached TaskStore instance to be reused")
}

func TestScheduler_IdleWorkers_ReflectsReconcile(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)

	sched := newTestScheduler(t, dataDir, registry)
	sched.reconcilePool()
	testutil.AssertLen(t, sched.idleWorkers(), 2)
}
