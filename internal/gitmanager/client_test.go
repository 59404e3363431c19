package gitmanager_test

import (
	"context"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/gitmanager"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func TestClient_NewClient(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("initial commit")

	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, client.RepoPath(), repo.Path)
}

func TestClient_NewClient_NotARepo(t *testing.T) {
	dir := testutil.TempDir(t)
	_, err := gitmanager.NewClient(dir)
	testutil.AssertError(t, err)
}

func TestClient_CreateBranch_DoesNotSwitch(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("initial commit")

	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, client.CreateBranch(context.Background(), "feature", ""))

	branch, err := client.CurrentBranch(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, branch, "main")

	testutil.AssertNoError(t, client.CheckoutBranch(context.Background(), "feature"))
	branch, err = client.CurrentBranch(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, branch, "feature")
}

func TestClient_BranchExists(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("initial commit")
	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	exists, err := client.BranchExists(context.Background(), "main")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, exists, "main should exist")

	exists, err = client.BranchExists(context.Background(), "nonexistent")
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, exists, "nonexistent should not exist")
}

func TestClient_RebaseConflict(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("file.txt", "base\n")
	repo.Commit("base commit")
	repo.CreateBranch("feature")
	repo.WriteFile("file.txt", "feature change\n")
	repo.Commit("feature commit")
	repo.Checkout("main")
	repo.WriteFile("file.txt", "main change\n")
	repo.Commit("main commit")
	repo.Checkout("feature")

	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	conflicted, err := client.Rebase(context.Background(), repo.Path, "main")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, conflicted, 1)
	testutil.AssertEqual(t, conflicted[0], "file.txt")

	testutil.AssertNoError(t, client.RebaseAbort(context.Background(), repo.Path))
}

func TestClient_MergeConflict(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("file.txt", "base\n")
	repo.Commit("base commit")
	repo.CreateBranch("feature")
	repo.WriteFile("file.txt", "feature change\n")
	repo.Commit("feature commit")
	repo.Checkout("main")
	repo.WriteFile("file.txt", "main change\n")
	repo.Commit("main commit")

	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	err = client.Merge(context.Background(), "feature")
	if err == nil {
		t.Fatal("expected merge conflict error")
	}
}

func TestClient_Log(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("a.txt", "a")
	repo.Commit("first")
	repo.WriteFile("b.txt", "b")
	repo.Commit("second")

	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	commits, err := client.Log(context.Background(), "", 10)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, commits, 2)
	testutil.AssertEqual(t, commits[0].Message, "second")
}

func TestClient_DiffFiles(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("a.txt", "a")
	first := repo.Commit("first")
	repo.WriteFile("b.txt", "b")
	second := repo.Commit("second")

	client, err := gitmanager.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	files, err := client.DiffFiles(context.Background(), first, second)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, files, 1)
	testutil.AssertEqual(t, files[0], "b.txt")
}
