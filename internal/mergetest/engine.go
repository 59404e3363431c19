// Package mergetest implements the Merge-Test Engine (spec §4.6): rebase a
// task's worktree onto its base branch, invoking the agent to resolve
// conflicts, then detect and run the repo's test framework, invoking the
// agent to fix failures, bounded by a fixed retry count. The engine never
// touches remote merge/push itself — that stays the Scheduler's call,
// honoring the project's auto_merge/auto_push flags.
package mergetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
)

// DefaultMaxRetries is spec §4.6's "bounded retries, default 3" count,
// applied independently to the rebase-conflict loop and the
// test-failure-fix loop.
const DefaultMaxRetries = 3

// conflictAbortWait is how long the engine waits before retrying after an
// "aborted for other reasons" rebase (spec §4.6 step 3).
const conflictAbortWait = 5 * time.Second

// Input describes one merge-test run.
type Input struct {
	WorktreePath string
	RepoPath     string
	Base         string
	WorkerID     core.WorkerID
	TaskID       core.TaskID
}

// Result is the engine's outcome (spec §4.6's Ok(final_sha)/Failed(reason)
// contract). RebaseRetries/TestFixAttempts feed the Experience Indexer's
// completion summary (spec §4.9: "problem: what went wrong or was tricky").
type Result struct {
	Ok              bool
	FinalSHA        string
	Reason          string
	RebaseRetries   int
	TestFixAttempts int
}

// Engine runs the rebase-then-test pipeline for one task.
type Engine struct {
	git            core.GitClient
	agent          core.Agent
	logger         *logging.Logger
	maxRetries     int
	testOutput     int // bytes of test output kept in the agent fix prompt
	abortRetryWait time.Duration
}

// NewEngine constructs an Engine with spec defaults (3 retries).
func NewEngine(git core.GitClient, agent core.Agent, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		git:            git,
		agent:          agent,
		logger:         logger,
		maxRetries:     DefaultMaxRetries,
		testOutput:     4096,
		abortRetryWait: conflictAbortWait,
	}
}

// WithMaxRetries overrides the default retry bound.
func (e *Engine) WithMaxRetries(n int) *Engine {
	if n > 0 {
		e.maxRetries = n
	}
	return e
}

// WithAbortRetryWait overrides the pause between an "aborted for other
// reasons" rebase and its retry (tests shrink this to avoid real sleeps).
func (e *Engine) WithAbortRetryWait(d time.Duration) *Engine {
	e.abortRetryWait = d
	return e
}

// Run executes the full pipeline for one task's worktree.
func (e *Engine) Run(ctx context.Context, in Input) Result {
	log := e.logger.With("task_id", string(in.TaskID), "worker_id", string(in.WorkerID))

	if err := e.git.Fetch(ctx, "origin"); err != nil {
		log.Warn("merge-test: fetch failed, continuing with local refs", "error", err)
	}

	rebaseRetries, err := e.rebaseOntoBase(ctx, in, log)
	if err != nil {
		return Result{Ok: false, Reason: err.Error(), RebaseRetries: rebaseRetries}
	}

	cmd, frameworkName, found := detectTestFramework(in.WorktreePath)
	if !found {
		log.Info("merge-test: no test framework detected, treating as success")
		return e.finish(ctx, in, rebaseRetries, 0)
	}
	log.Info("merge-test: detected test framework", "framework", frameworkName)

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		output, testErr := runTests(ctx, in.WorktreePath, cmd)
		if testErr == nil {
			return e.finish(ctx, in, rebaseRetries, attempt-1)
		}
		log.Warn("merge-test: tests failed", "attempt", attempt, "error", testErr)
		if attempt == e.maxRetries {
			return Result{Ok: false, Reason: fmt.Sprintf("tests failed after %d attempts: %v", attempt, testErr), RebaseRetries: rebaseRetries, TestFixAttempts: attempt}
		}
		if _, agentErr := e.agent.Execute(ctx, core.ExecuteOptions{
			Prompt:  fixFailingTestsPrompt(frameworkName, truncateOutput(output, e.testOutput)),
			Format:  core.OutputFormatText,
			WorkDir: in.WorktreePath,
			Sandbox: true,
		}); agentErr != nil {
			return Result{Ok: false, Reason: fmt.Sprintf("agent fix-failing-tests call failed: %v", agentErr), RebaseRetries: rebaseRetries, TestFixAttempts: attempt}
		}
	}

	return Result{Ok: false, Reason: "unreachable: retry loop exhausted without a terminal result"}
}

// rebaseOntoBase implements spec §4.6 steps 2-3: pick the rebase target,
// then rebase with conflict resolution delegated to the agent. Returns the
// number of retries consumed, for the Experience Indexer's summary.
func (e *Engine) rebaseOntoBase(ctx context.Context, in Input, log *logging.Logger) (int, error) {
	target, err := e.pickRebaseTarget(ctx, in.Base)
	if err != nil {
		return 0, fmt.Errorf("pick rebase target: %w", err)
	}
	if target == "" {
		log.Info("merge-test: no rebase target resolved, skipping rebase")
		return 0, nil
	}

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		conflicted, rebaseErr := e.git.Rebase(ctx, in.WorktreePath, target)
		if rebaseErr != nil && len(conflicted) == 0 {
			// AbortedOther: neither clean nor a reported conflict set.
			_ = e.git.RebaseAbort(ctx, in.WorktreePath)
			log.Warn("merge-test: rebase aborted for other reasons, retrying", "attempt", attempt, "error", rebaseErr)
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(e.abortRetryWait):
			}
			continue
		}
		if len(conflicted) == 0 {
			return attempt - 1, nil
		}

		if _, agentErr := e.agent.Execute(ctx, core.ExecuteOptions{
			Prompt:  conflictResolutionPrompt(conflicted),
			Format:  core.OutputFormatText,
			WorkDir: in.WorktreePath,
			Sandbox: true,
		}); agentErr != nil {
			_ = e.git.RebaseAbort(ctx, in.WorktreePath)
			return attempt, fmt.Errorf("agent conflict-resolution call failed: %w", agentErr)
		}

		remaining, contErr := e.git.RebaseContinue(ctx, in.WorktreePath)
		if contErr == nil && len(remaining) == 0 {
			return attempt, nil
		}
		log.Warn("merge-test: conflicts remain after agent resolution, aborting and retrying", "attempt", attempt, "remaining", remaining)
		_ = e.git.RebaseAbort(ctx, in.WorktreePath)
	}

	return e.maxRetries, core.ErrMergeConflict(fmt.Sprintf("rebase onto %s did not resolve after %d attempts", target, e.maxRetries))
}

// pickRebaseTarget prefers origin/<base>, falling back to the local base
// branch, then skipping the rebase entirely (spec §4.6 step 2).
func (e *Engine) pickRebaseTarget(ctx context.Context, base string) (string, error) {
	if base == "" {
		return "", nil
	}
	if _, err := e.git.RevParse(ctx, "origin/"+base); err == nil {
		return "origin/" + base, nil
	}
	if exists, err := e.git.BranchExists(ctx, base); err == nil && exists {
		return base, nil
	}
	return "", nil
}

// finish resolves the worktree's HEAD commit as the final SHA of a
// successful run.
func (e *Engine) finish(ctx context.Context, in Input, rebaseRetries, testFixAttempts int) Result {
	sha, err := e.git.RevParse(ctx, "HEAD")
	if err != nil {
		return Result{Ok: false, Reason: fmt.Sprintf("resolve final commit: %v", err), RebaseRetries: rebaseRetries, TestFixAttempts: testFixAttempts}
	}
	return Result{Ok: true, FinalSHA: sha, RebaseRetries: rebaseRetries, TestFixAttempts: testFixAttempts}
}

func conflictResolutionPrompt(files []string) string {
	return fmt.Sprintf(
		"A rebase onto the base branch produced conflicts in the following files:\n%s\n\n"+
			"Resolve the conflicts in the worktree, keeping the intent of this branch's changes, "+
			"then stage the resolved files. Do not run `git rebase --continue` yourself.",
		strings.Join(files, "\n"),
	)
}

func fixFailingTestsPrompt(framework, output string) string {
	return fmt.Sprintf(
		"The %s test suite failed after this branch's changes. Output:\n\n%s\n\n"+
			"Fix the failing tests. Do not weaken test assertions to make them pass.",
		framework, output,
	)
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

// detectTestFramework inspects the worktree's root for marker files (spec
// §4.6 step 4) and returns the command to run the suite.
func detectTestFramework(worktreePath string) (cmd []string, name string, found bool) {
	if _, ok := nodeTestScript(worktreePath); ok {
		return []string{"npm", "test"}, "node", true
	}
	for _, marker := range []string{"pytest.ini", "pyproject.toml", "setup.py"} {
		if fileExists(filepath.Join(worktreePath, marker)) {
			return []string{"python3", "-m", "pytest"}, "python", true
		}
	}
	return nil, "", false
}

// nodeTestScript reports whether package.json declares a non-default
// "test" script — npm init's placeholder ("Error: no test specified")
// doesn't count as configured tests.
func nodeTestScript(worktreePath string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(worktreePath, "package.json"))
	if err != nil {
		return "", false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", false
	}
	script, ok := pkg.Scripts["test"]
	if !ok || script == "" || strings.Contains(script, "Error: no test specified") {
		return "", false
	}
	return script, true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// runTests executes cmd in worktreePath and returns its combined output;
// a non-zero exit is reported as an error without being swallowed, so the
// caller can feed it to the agent's fix-failing-tests prompt.
func runTests(ctx context.Context, worktreePath string, cmd []string) (string, error) {
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Dir = worktreePath
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out
	err := c.Run()
	return out.String(), err
}
