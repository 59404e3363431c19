package mergetest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/mergetest"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func baseInput(t *testing.T) mergetest.Input {
	t.Helper()
	return mergetest.Input{
		WorktreePath: t.TempDir(),
		RepoPath:     t.TempDir(),
		Base:         "main",
		WorkerID:     "worker-1",
		TaskID:       "task-1",
	}
}

func TestEngine_Run_CleanRebaseNoTestFramework(t *testing.T) {
	git := testutil.NewMockGitClient()
	agent := testutil.NewMockAgent("claude")
	engine := mergetest.NewEngine(git, agent, nil)

	result := engine.Run(context.Background(), baseInput(t))

	testutil.AssertTrue(t, result.Ok, "expected success with no conflicts and no test framework")
	testutil.AssertEqual(t, result.FinalSHA, "deadbeef")
	testutil.AssertEqual(t, agent.CallCount("Execute"), 0)
}

func TestEngine_Run_RebaseConflictResolvedByAgent(t *testing.T) {
	git := testutil.NewMockGitClient()
	calls := 0
	git.RebaseFunc = func(ctx context.Context, worktreePath, base string) ([]string, error) {
		calls++
		return []string{"a.go"}, errors.New("conflict")
	}
	git.RebaseContinueFunc = func(ctx context.Context, worktreePath string) ([]string, error) {
		return nil, nil
	}
	agent := testutil.NewMockAgent("claude")
	engine := mergetest.NewEngine(git, agent, nil)

	result := engine.Run(context.Background(), baseInput(t))

	testutil.AssertTrue(t, result.Ok, "expected success once the agent resolves the conflict")
	testutil.AssertEqual(t, calls, 1)
	testutil.AssertEqual(t, agent.CallCount("Execute"), 1)
}

func TestEngine_Run_RebaseConflictExhaustsRetries(t *testing.T) {
	git := testutil.NewMockGitClient()
	git.RebaseFunc = func(ctx context.Context, worktreePath, base string) ([]string, error) {
		return []string{"a.go"}, errors.New("conflict")
	}
	git.RebaseContinueFunc = func(ctx context.Context, worktreePath string) ([]string, error) {
		return []string{"a.go"}, errors.New("still conflicted")
	}
	agent := testutil.NewMockAgent("claude")
	engine := mergetest.NewEngine(git, agent, nil).WithMaxRetries(2)

	result := engine.Run(context.Background(), baseInput(t))

	testutil.AssertTrue(t, !result.Ok, "expected failure after exhausting retries")
	testutil.AssertEqual(t, agent.CallCount("Execute"), 2)
}

func TestEngine_Run_AbortedOtherRetriesThenSucceeds(t *testing.T) {
	git := testutil.NewMockGitClient()
	attempt := 0
	git.RebaseFunc = func(ctx context.Context, worktreePath, base string) ([]string, error) {
		attempt++
		if attempt == 1 {
			return nil, errors.New("rebase failed for unrelated reasons")
		}
		return nil, nil
	}
	agent := testutil.NewMockAgent("claude")
	engine := mergetest.NewEngine(git, agent, nil).WithMaxRetries(3).WithAbortRetryWait(time.Millisecond)

	start := context.Background()
	result := engine.Run(start, baseInput(t))

	testutil.AssertTrue(t, result.Ok, "expected success on the second rebase attempt")
	testutil.AssertEqual(t, attempt, 2)
}

func TestEngine_Run_NoRebaseTargetSkipsRebase(t *testing.T) {
	git := testutil.NewMockGitClient()
	git.RevParseFunc = func(ctx context.Context, ref string) (string, error) {
		if ref == "HEAD" {
			return "cafef00d", nil
		}
		return "", errors.New("no such ref")
	}
	git.BranchExistsFunc = func(ctx context.Context, name string) (bool, error) {
		return false, nil
	}
	agent := testutil.NewMockAgent("claude")
	engine := mergetest.NewEngine(git, agent, nil)

	in := baseInput(t)
	result := engine.Run(context.Background(), in)

	testutil.AssertTrue(t, result.Ok, "expected success when no rebase target resolves")
	testutil.AssertEqual(t, result.FinalSHA, "cafef00d")
	testutil.AssertEqual(t, len(git.Calls()), 0, "Rebase should never be called when no target resolves")
}

func TestEngine_Run_TestFrameworkPassesFirstTry(t *testing.T) {
	git := testutil.NewMockGitClient()
	agent := testutil.NewMockAgent("claude")
	engine := mergetest.NewEngine(git, agent, nil)

	in := baseInput(t)
	writePackageJSON(t, in.WorktreePath, `{"scripts":{"test":"true"}}`)

	result := engine.Run(context.Background(), in)

	testutil.AssertTrue(t, result.Ok, "expected `true` test command to succeed")
	testutil.AssertEqual(t, agent.CallCount("Execute"), 0)
}

func TestEngine_Run_TestFrameworkFailsThenFixed(t *testing.T) {
	git := testutil.NewMockGitClient()
	agent := testutil.NewMockAgent("claude")
	engine := mergetest.NewEngine(git, agent, nil).WithMaxRetries(3)

	in := baseInput(t)
	writePackageJSON(t, in.WorktreePath, `{"scripts":{"test":"false"}}`)

	result := engine.Run(context.Background(), in)

	testutil.AssertTrue(t, !result.Ok, "the `false` command always fails, so retries should exhaust")
	testutil.AssertEqual(t, agent.CallCount("Execute"), 2)
}

func writePackageJSON(t *testing.T, dir, content string) {
	t.Helper()
	testutil.AssertNoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0o644))
}
