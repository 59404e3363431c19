package gitmanager_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/gitmanager"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func TestTaskWorktreeManager_CreateGetRemove(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("initial commit")

	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	baseDir := filepath.Join(repo.Path, ".worktrees")
	mgr := gitmanager.NewTaskWorktreeManager(client, baseDir)

	info, err := mgr.Create(context.Background(), core.TaskID("t-1"), "task/t-1/fix-thing", "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, info.TaskID, core.TaskID("t-1"))
	testutil.AssertContains(t, filepath.Base(info.Path), "t-1__task-t-1-fix-thing")

	got, err := mgr.Get(context.Background(), core.TaskID("t-1"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Path, info.Path)

	list, err := mgr.List(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, list, 1)

	testutil.AssertNoError(t, mgr.Remove(context.Background(), core.TaskID("t-1")))
	_, err = mgr.Get(context.Background(), core.TaskID("t-1"))
	testutil.AssertError(t, err)
}

func TestTaskWorktreeManager_CreateFromBase(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("initial commit")
	repo.CreateBranch("upstream-task")
	repo.WriteFile("upstream.txt", "data")
	repo.Commit("upstream work")
	repo.Checkout("main")

	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	mgr := gitmanager.NewTaskWorktreeManager(client, filepath.Join(repo.Path, ".worktrees"))

	info, err := mgr.Create(context.Background(), core.TaskID("t-2"), "task/t-2", "upstream-task")
	testutil.AssertNoError(t, err)

	depClient, err := gitmanager.NewClient(info.Path)
	testutil.AssertNoError(t, err)
	status, err := depClient.Status(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, status.Branch, "task/t-2")
}
