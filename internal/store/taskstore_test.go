package store

import (
	"context"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

func TestTaskStore_CreateAndClaimNext(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTaskStore(dir, core.ProjectID("proj1"))
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}

	low, err := ts.Create("low priority task", 1, false, "")
	if err != nil {
		t.Fatalf("create low: %v", err)
	}
	high, err := ts.Create("high priority task", 5, false, "")
	if err != nil {
		t.Fatalf("create high: %v", err)
	}

	release, err := ts.Lock(context.Background())
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	claimed, err := ts.ClaimNext(core.WorkerID("worker-1"))
	release()
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != high.ID {
		t.Fatalf("expected to claim the higher priority task %s, got %v", high.ID, claimed)
	}
	if claimed.Status != core.TaskClaimed {
		t.Errorf("expected status claimed, got %s", claimed.Status)
	}

	// Reload from disk and confirm persistence survived.
	ts2, err := NewTaskStore(dir, core.ProjectID("proj1"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reloaded, err := ts2.Get(high.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if reloaded.Status != core.TaskClaimed || reloaded.WorkerID != core.WorkerID("worker-1") {
		t.Errorf("persisted claim not reflected: %+v", reloaded)
	}

	if pending, _ := ts2.Get(low.ID); pending.Status != core.TaskPending {
		t.Errorf("expected low priority task to remain pending, got %s", pending.Status)
	}
}

func TestTaskStore_RecoverStale(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTaskStore(dir, core.ProjectID("proj1"))
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	task, err := ts.Create("needs a worker", 1, false, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ts.Mutate(context.Background(), task.ID, func(tk *core.Task) error {
		return tk.Claim(core.WorkerID("worker-1"))
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	recovered, err := ts.RecoverStale(context.Background(), func(core.WorkerID) bool { return false })
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(recovered) != 1 || recovered[0] != task.ID {
		t.Fatalf("expected task %s to recover, got %v", task.ID, recovered)
	}
	refreshed, _ := ts.Get(task.ID)
	if refreshed.Status != core.TaskPending || refreshed.WorkerID != "" {
		t.Errorf("expected recovered task back to pending with no worker, got %+v", refreshed)
	}
}
