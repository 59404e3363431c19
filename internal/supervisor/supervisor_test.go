package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/supervisor"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

// stubScheduler blocks until its context is cancelled, like the real
// Scheduler's Run loop, without needing a container runtime or agent.
type stubScheduler struct {
	started chan struct{}
}

func (s *stubScheduler) Run(ctx context.Context) error {
	close(s.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestSupervisor_Recover_ResetsActiveTasksToPending(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)

	project, err := registry.Add(context.Background(), "demo", core.Origin{Kind: core.OriginEmpty})
	testutil.AssertNoError(t, err)

	tasks, err := store.NewTaskStore(dataDir, project.ID)
	testutil.AssertNoError(t, err)
	task, err := tasks.Create("do work", 1, false, "")
	testutil.AssertNoError(t, err)
	_, err = tasks.Mutate(context.Background(), task.ID, func(t *core.Task) error {
		return t.Claim("worker-1")
	})
	testutil.AssertNoError(t, err)

	sup := supervisor.New(dataDir, registry, nil, &stubScheduler{started: make(chan struct{})}, nil, nil)
	testutil.AssertNoError(t, sup.Recover(context.Background()))

	reopened, err := store.NewTaskStore(dataDir, project.ID)
	testutil.AssertNoError(t, err)
	got, err := reopened.Get(task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Status, core.TaskPending)
	testutil.AssertEqual(t, got.WorkerID, core.WorkerID(""))
}

func TestSupervisor_Recover_NoProjectsIsANoop(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)

	sup := supervisor.New(dataDir, registry, nil, &stubScheduler{started: make(chan struct{})}, nil, nil)
	testutil.AssertNoError(t, sup.Recover(context.Background()))
}

func TestSupervisor_Run_StopsWhenContextCancelled(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)

	sched := &stubScheduler{started: make(chan struct{})}
	sup := supervisor.New(dataDir, registry, nil, sched, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case <-sched.started:
	case <-time.After(time.Second):
		t.Fatal("expected the scheduler to start")
	}
	cancel()

	select {
	case err := <-done:
		testutil.AssertError(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}

func TestSupervisor_DataDirAndProjectLogDir(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)

	sup := supervisor.New(dataDir, registry, nil, &stubScheduler{started: make(chan struct{})}, nil, nil)
	testutil.AssertEqual(t, sup.DataDir(), dataDir)
	testutil.AssertContains(t, supervisor.ProjectLogDir(dataDir, "proj-1"), "proj-1")
}
