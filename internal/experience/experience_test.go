package experience_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/experience"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/onboard"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func newTask(id, title string) *core.Task {
	return &core.Task{ID: core.TaskID(id), Title: title, Description: "do the thing"}
}

func TestIndexer_Append_WritesAndCommitsProgressMD(t *testing.T) {
	dataDir := testutil.TempDir(t)
	worktree := testutil.TempDir(t)
	ix, err := experience.New(dataDir, nil, nil)
	testutil.AssertNoError(t, err)
	defer ix.Close()

	git := testutil.NewMockGitClient()
	sha, err := ix.Append(context.Background(), "proj-1", worktree, git, newTask("t-1", "Add widget"),
		"tests flaked twice", "added the widget", "re-run flaky suite before merging")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, sha, "deadbeef")

	data, err := os.ReadFile(filepath.Join(worktree, "PROGRESS.md"))
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, string(data), "Add widget")
	testutil.AssertContains(t, string(data), "tests flaked twice")
	testutil.AssertContains(t, string(data), "added the widget")
}

func TestIndexer_Snippet_SurfacesOwnRecentEntries(t *testing.T) {
	dataDir := testutil.TempDir(t)
	ix, err := experience.New(dataDir, nil, nil)
	testutil.AssertNoError(t, err)
	defer ix.Close()

	repoPath := onboard.RepoPath(dataDir, "proj-1")
	testutil.AssertNoError(t, os.MkdirAll(repoPath, 0o755))

	git := testutil.NewMockGitClient()
	_, err = ix.Append(context.Background(), "proj-1", repoPath, git, newTask("t-1", "Add widget"),
		"nothing went wrong", "added the widget", "None noted.")
	testutil.AssertNoError(t, err)

	snippet, ok := ix.Snippet(context.Background(), "proj-1", "add another widget")
	testutil.AssertTrue(t, ok, "expected a snippet from the project's own history")
	testutil.AssertContains(t, snippet, "Add widget")
	testutil.AssertContains(t, snippet, "added the widget")
}

func TestIndexer_Snippet_FalseWhenNoHistory(t *testing.T) {
	dataDir := testutil.TempDir(t)
	ix, err := experience.New(dataDir, nil, nil)
	testutil.AssertNoError(t, err)
	defer ix.Close()

	_, ok := ix.Snippet(context.Background(), "proj-unknown", "anything")
	testutil.AssertFalse(t, ok, "expected no snippet with no recorded history")
}

func TestIndexer_Snippet_RanksCrossProjectEntriesByDescription(t *testing.T) {
	dataDir := testutil.TempDir(t)
	registry, err := store.NewProjectRegistry(dataDir)
	testutil.AssertNoError(t, err)
	ix, err := experience.New(dataDir, registry, nil)
	testutil.AssertNoError(t, err)
	defer ix.Close()

	git := testutil.NewMockGitClient()
	otherWorktree := testutil.TempDir(t)
	_, err = ix.Append(context.Background(), "proj-other", otherWorktree, git,
		newTask("t-9", "Fix flaky websocket reconnect"),
		"reconnect loop spun forever under packet loss", "added exponential backoff", "watch for regressions in reconnect tests")
	testutil.AssertNoError(t, err)

	snippet, ok := ix.Snippet(context.Background(), "proj-1", "flaky websocket reconnect")
	testutil.AssertTrue(t, ok, "expected a cross-project match by lexical overlap")
	testutil.AssertContains(t, snippet, "cross-project")
	testutil.AssertContains(t, snippet, "Fix flaky websocket reconnect")
}
