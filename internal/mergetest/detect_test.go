package mergetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func TestDetectTestFramework_Node(t *testing.T) {
	dir := t.TempDir()
	testutil.AssertNoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts":{"test":"jest"}}`), 0o644))

	cmd, name, found := detectTestFramework(dir)
	testutil.AssertTrue(t, found, "expected a node framework to be detected")
	testutil.AssertEqual(t, name, "node")
	testutil.AssertEqual(t, cmd[0], "npm")
}

func TestDetectTestFramework_NodePlaceholderRejected(t *testing.T) {
	dir := t.TempDir()
	testutil.AssertNoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"scripts":{"test":"echo \"Error: no test specified\" && exit 1"}}`), 0o644))

	_, _, found := detectTestFramework(dir)
	testutil.AssertTrue(t, !found, "npm init's placeholder script should not count as configured tests")
}

func TestDetectTestFramework_Python(t *testing.T) {
	for _, marker := range []string{"pytest.ini", "pyproject.toml", "setup.py"} {
		dir := t.TempDir()
		testutil.AssertNoError(t, os.WriteFile(filepath.Join(dir, marker), []byte(""), 0o644))

		cmd, name, found := detectTestFramework(dir)
		testutil.AssertTrue(t, found, "expected python to be detected via "+marker)
		testutil.AssertEqual(t, name, "python")
		testutil.AssertEqual(t, cmd[0], "python3")
	}
}

func TestDetectTestFramework_NoneFound(t *testing.T) {
	_, _, found := detectTestFramework(t.TempDir())
	testutil.AssertTrue(t, !found, "empty worktree should report no framework")
}

func TestTruncateOutput(t *testing.T) {
	testutil.AssertEqual(t, truncateOutput("short", 100), "short")
	testutil.AssertEqual(t, truncateOutput("0123456789", 4), "6789")
}

func TestEngine_PickRebaseTarget(t *testing.T) {
	t.Run("empty base skips", func(t *testing.T) {
		git := testutil.NewMockGitClient()
		e := NewEngine(git, testutil.NewMockAgent("a"), nil)
		target, err := e.pickRebaseTarget(context.Background(), "")
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, target, "")
	})

	t.Run("prefers origin tracking branch", func(t *testing.T) {
		git := testutil.NewMockGitClient()
		e := NewEngine(git, testutil.NewMockAgent("a"), nil)
		target, err := e.pickRebaseTarget(context.Background(), "main")
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, target, "origin/main")
	})

	t.Run("falls back to local branch", func(t *testing.T) {
		git := testutil.NewMockGitClient()
		git.RevParseFunc = func(ctx context.Context, ref string) (string, error) {
			return "", os.ErrNotExist
		}
		e := NewEngine(git, testutil.NewMockAgent("a"), nil)
		target, err := e.pickRebaseTarget(context.Background(), "main")
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, target, "main")
	})

	t.Run("skips entirely when neither resolves", func(t *testing.T) {
		git := testutil.NewMockGitClient()
		git.RevParseFunc = func(ctx context.Context, ref string) (string, error) {
			return "", os.ErrNotExist
		}
		git.BranchExistsFunc = func(ctx context.Context, name string) (bool, error) {
			return false, nil
		}
		e := NewEngine(git, testutil.NewMockAgent("a"), nil)
		target, err := e.pickRebaseTarget(context.Background(), "main")
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, target, "")
	})
}
