// Package gitmanager wraps the git CLI for one project's repository root
// (spec §4.4): branch/worktree lifecycle, rebase-merge-push, and the
// commit-log queries the Gateway's branch graph needs. Every operation
// shells out via exec.CommandContext, never a shell, with argument
// validation against option/path injection.
package gitmanager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// Git operation errors distinguished from plain command failures so
// callers (the Scheduler, Merge-Test Engine) can branch on cause.
var (
	ErrMergeConflict  = errors.New("merge conflict")
	ErrRebaseConflict = errors.New("rebase conflict")
	ErrBranchNotFound = errors.New("branch not found")
)

// Compile-time interface conformance check.
var _ core.GitClient = (*Client)(nil)

// Client wraps git CLI operations rooted at one repository clone (which
// may itself be a worktree of another clone).
type Client struct {
	repoPath string
	timeout  time.Duration
	gitPath  string
}

// NewClient opens repoPath as a git repository (or worktree) and verifies
// the git binary it resolves to isn't one planted inside the repo itself.
func NewClient(repoPath string) (*Client, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	gitPath, err := resolveGitBinaryPath(absPath)
	if err != nil {
		return nil, err
	}

	c := &Client{repoPath: absPath, timeout: 30 * time.Second, gitPath: gitPath}
	if err := c.verifyRepo(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClientAt is like NewClient but skips the repo check, for a path that
// is about to become a repository (Clone's destination).
func NewClientAt(repoPath string) (*Client, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	gitPath, err := resolveGitBinaryPath(absPath)
	if err != nil {
		return nil, err
	}
	return &Client{repoPath: absPath, timeout: 30 * time.Second, gitPath: gitPath}, nil
}

func (c *Client) verifyRepo() error {
	_, err := c.run(context.Background(), "rev-parse", "--git-dir")
	if err != nil {
		return core.ErrValidation("NOT_GIT_REPO", fmt.Sprintf("%s is not a git repository", c.repoPath))
	}
	return nil
}

// RepoPath returns the repository root path.
func (c *Client) RepoPath() string { return c.repoPath }

// WithTimeout sets the per-command timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := c.runWithOutput(ctx, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), stderr, err)
	}
	return stdout, nil
}

// runWithOutput executes a git command and returns stdout/stderr even on
// error, since conflict and "nothing to do" detection reads them.
func (c *Client) runWithOutput(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// exec.CommandContext never invokes a shell, so these args are not
	// subject to shell interpolation; higher-level methods still validate
	// user-controlled strings (branch/remote/rev/path/message) before they
	// reach here, since git itself will interpret a leading "-" as an option.
	cmd := exec.CommandContext(ctx, c.gitPath, args...)
	cmd.Dir = c.repoPath

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = strings.TrimSpace(outBuf.String())
	stderr = strings.TrimSpace(errBuf.String())

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return stdout, stderr, core.ErrTimeout(int(c.timeout / time.Minute)).WithCause(runErr)
		}
		return stdout, stderr, runErr
	}
	return stdout, stderr, nil
}

func resolveGitBinaryPath(repoAbs string) (string, error) {
	p, err := exec.LookPath("git")
	if err != nil {
		return "", fmt.Errorf("git not found in PATH: %w", err)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving git path: %w", err)
	}

	real := abs
	if rr, err := filepath.EvalSymlinks(abs); err == nil {
		real = rr
	}

	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("stat git binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("git binary is not a regular file: %s", real)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("git binary is not executable: %s", real)
	}
	if isPathWithinDir(repoAbs, real) {
		return "", fmt.Errorf("refusing to execute git from within repository: %s", real)
	}
	return real, nil
}

func isPathWithinDir(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

// =============================================================================
// Validators
// =============================================================================

func validateNoNul(field, value string) error {
	if strings.IndexByte(value, 0) >= 0 {
		return core.ErrValidation("INVALID_INPUT", fmt.Sprintf("%s contains NUL byte", field))
	}
	return nil
}

func validateGitRemoteName(remote string) error {
	if err := validateNoNul("remote", remote); err != nil {
		return err
	}
	if remote == "" {
		return core.ErrValidation("INVALID_REMOTE", "remote name must not be empty")
	}
	if strings.HasPrefix(remote, "-") {
		return core.ErrValidation("INVALID_REMOTE", "remote name must not start with '-'")
	}
	for _, r := range remote {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return core.ErrValidation("INVALID_REMOTE", fmt.Sprintf("remote name contains invalid character: %q", r))
	}
	return nil
}

func validateGitBranchName(name string) error {
	if err := validateNoNul("branch", name); err != nil {
		return err
	}
	if name == "" {
		return core.ErrValidation("INVALID_BRANCH", "branch name must not be empty")
	}
	if strings.HasPrefix(name, "-") {
		return core.ErrValidation("INVALID_BRANCH", "branch name must not start with '-'")
	}
	if strings.ContainsAny(name, " \t\n\r") {
		return core.ErrValidation("INVALID_BRANCH", "branch name must not contain whitespace")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "@{") || strings.Contains(name, "//") {
		return core.ErrValidation("INVALID_BRANCH", "branch name contains forbidden sequence")
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock") {
		return core.ErrValidation("INVALID_BRANCH", "branch name has forbidden prefix/suffix")
	}
	for _, r := range name {
		switch r {
		case '~', '^', ':', '?', '*', '[', '\\':
			return core.ErrValidation("INVALID_BRANCH", fmt.Sprintf("branch name contains forbidden character: %q", r))
		}
		if r < 0x20 || r == 0x7f {
			return core.ErrValidation("INVALID_BRANCH", "branch name contains control character")
		}
	}
	if name == "@" {
		return core.ErrValidation("INVALID_BRANCH", "branch name '@' is not allowed")
	}
	return nil
}

func validateGitRev(rev string) error {
	if err := validateNoNul("rev", rev); err != nil {
		return err
	}
	if rev != "" && strings.HasPrefix(rev, "-") {
		return core.ErrValidation("INVALID_REV", "rev must not start with '-'")
	}
	return nil
}

func validateGitPathArg(p string) error {
	if err := validateNoNul("path", p); err != nil {
		return err
	}
	if p == "" {
		return core.ErrValidation("INVALID_PATH", "path must not be empty")
	}
	return nil
}

func validateGitMessage(msg string) error {
	if err := validateNoNul("message", msg); err != nil {
		return err
	}
	if msg == "" {
		return core.ErrValidation("INVALID_MESSAGE", "message must not be empty")
	}
	return nil
}

func validateGitURL(url string) error {
	if err := validateNoNul("url", url); err != nil {
		return err
	}
	if url == "" {
		return core.ErrValidation("INVALID_URL", "clone url must not be empty")
	}
	if strings.HasPrefix(url, "-") {
		return core.ErrValidation("INVALID_URL", "clone url must not start with '-'")
	}
	return nil
}

// =============================================================================
// core.GitClient implementation
// =============================================================================

func (c *Client) RepoRoot(_ context.Context) (string, error) { return c.repoPath, nil }

func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	if out, err := c.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		return strings.TrimPrefix(out, "refs/remotes/origin/"), nil
	}
	branches, _ := c.listBranches(ctx)
	for _, want := range []string{"main", "master"} {
		for _, b := range branches {
			if b == want {
				return want, nil
			}
		}
	}
	return "main", nil
}

func (c *Client) RemoteURL(ctx context.Context) (string, error) {
	return c.run(ctx, "remote", "get-url", "origin")
}

func (c *Client) listBranches(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "branch", "--list", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

func (c *Client) BranchExists(ctx context.Context, name string) (bool, error) {
	if err := validateGitBranchName(name); err != nil {
		return false, err
	}
	branches, err := c.listBranches(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range branches {
		if b == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) CreateBranch(ctx context.Context, name, base string) error {
	if err := validateGitBranchName(name); err != nil {
		return err
	}
	args := []string{"branch", name}
	if base != "" {
		if err := validateGitRev(base); err != nil {
			return err
		}
		args = append(args, base)
	}
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	if err := validateGitBranchName(name); err != nil {
		return err
	}
	_, err := c.run(ctx, "branch", "-D", name)
	return err
}

func (c *Client) CheckoutBranch(ctx context.Context, name string) error {
	if err := validateGitBranchName(name); err != nil {
		return err
	}
	_, err := c.run(ctx, "checkout", name)
	return err
}

// CreateWorktree adds a worktree at path for branch, creating branch from
// base (or HEAD if base is empty) when it doesn't already exist.
func (c *Client) CreateWorktree(ctx context.Context, path, branch, base string) error {
	if err := validateGitBranchName(branch); err != nil {
		return err
	}
	if err := validateGitPathArg(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating worktree parent directory: %w", err)
	}

	exists, err := c.BranchExists(ctx, branch)
	if err != nil {
		return err
	}

	var args []string
	switch {
	case exists:
		args = []string{"worktree", "add", path, branch}
	case base != "":
		if err := validateGitRev(base); err != nil {
			return err
		}
		args = []string{"worktree", "add", "-b", branch, path, base}
	default:
		args = []string{"worktree", "add", "-b", branch, path}
	}

	_, err = c.run(ctx, args...)
	return err
}

func (c *Client) RemoveWorktree(ctx context.Context, path string, force bool) error {
	if err := validateGitPathArg(path); err != nil {
		return err
	}
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) PruneWorktrees(ctx context.Context) error {
	_, err := c.run(ctx, "worktree", "prune")
	return err
}

func (c *Client) ListWorktrees(ctx context.Context) ([]core.Worktree, error) {
	out, err := c.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktrees(out, c.repoPath), nil
}

func parseWorktrees(output, mainPath string) []core.Worktree {
	var worktrees []core.Worktree
	var current *core.Worktree

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			path := strings.TrimPrefix(line, "worktree ")
			current = &core.Worktree{Path: path, IsMain: path == mainPath}
		case current != nil:
			switch {
			case strings.HasPrefix(line, "HEAD "):
				current.Commit = strings.TrimPrefix(line, "HEAD ")
			case strings.HasPrefix(line, "branch "):
				current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
			case line == "locked":
				current.IsLocked = true
			}
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees
}

func (c *Client) Status(ctx context.Context) (*core.GitStatus, error) {
	out, err := c.run(ctx, "status", "--porcelain=v2", "--branch")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

func parseStatus(output string) *core.GitStatus {
	status := &core.GitStatus{}
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "# branch.head "):
			status.Branch = strings.TrimPrefix(line, "# branch.head ")
		case strings.HasPrefix(line, "# branch.ab "):
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				_, _ = fmt.Sscanf(parts[2], "+%d", &status.Ahead)
				_, _ = fmt.Sscanf(parts[3], "-%d", &status.Behind)
			}
		case len(line) > 2:
			switch line[0] {
			case '1':
				if len(line) > 113 {
					path := line[113:]
					xy := line[2:4]
					if xy[0] != '.' {
						status.Staged = append(status.Staged, core.FileStatus{Path: path, Status: string(xy[0])})
					}
					if xy[1] != '.' {
						status.Unstaged = append(status.Unstaged, core.FileStatus{Path: path, Status: string(xy[1])})
					}
				}
			case '?':
				status.Untracked = append(status.Untracked, strings.TrimPrefix(line, "? "))
			case 'u':
				status.HasConflicts = true
			}
		}
	}
	return status
}

func (c *Client) Add(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if err := validateGitPathArg(p); err != nil {
			return err
		}
	}
	args := append([]string{"add", "--"}, paths...)
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) Commit(ctx context.Context, message string) (string, error) {
	if err := validateGitMessage(message); err != nil {
		return "", err
	}
	if _, err := c.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return c.run(ctx, "rev-parse", "HEAD")
}

func (c *Client) Push(ctx context.Context, remote, branch string, force bool) error {
	if err := validateGitRemoteName(remote); err != nil {
		return err
	}
	if err := validateGitBranchName(branch); err != nil {
		return err
	}
	args := []string{"push", remote, branch}
	if force {
		args = append(args, "--force-with-lease")
	}
	_, err := c.run(ctx, args...)
	return err
}

// Rebase rebases worktreePath's current branch onto base. On conflict it
// returns the conflicted file list rather than an error, mirroring the
// Merge-Test Engine's need to surface conflicts for merge_pending rather
// than treat them as a transport failure.
func (c *Client) Rebase(ctx context.Context, worktreePath, base string) ([]string, error) {
	if err := validateGitRev(base); err != nil {
		return nil, err
	}
	wc, err := c.clientFor(worktreePath)
	if err != nil {
		return nil, err
	}
	stdout, stderr, err := wc.runWithOutput(ctx, "rebase", base)
	if err == nil {
		return nil, nil
	}
	if isConflictOutput(stdout, stderr) {
		files, lerr := wc.conflictFiles(ctx)
		if lerr != nil {
			return nil, fmt.Errorf("%w: %s%s", ErrRebaseConflict, stdout, stderr)
		}
		return files, nil
	}
	return nil, fmt.Errorf("git rebase: %w: %s%s", err, stdout, stderr)
}

func (c *Client) RebaseContinue(ctx context.Context, worktreePath string) ([]string, error) {
	wc, err := c.clientFor(worktreePath)
	if err != nil {
		return nil, err
	}
	stdout, stderr, err := wc.runWithOutput(ctx, "rebase", "--continue")
	if err == nil {
		return nil, nil
	}
	if isConflictOutput(stdout, stderr) {
		files, lerr := wc.conflictFiles(ctx)
		if lerr == nil {
			return files, nil
		}
	}
	return nil, fmt.Errorf("git rebase --continue: %w: %s%s", err, stdout, stderr)
}

func (c *Client) RebaseAbort(ctx context.Context, worktreePath string) error {
	wc, err := c.clientFor(worktreePath)
	if err != nil {
		return err
	}
	_, err = wc.run(ctx, "rebase", "--abort")
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "no rebase in progress") {
		return nil
	}
	return err
}

func (c *Client) conflictFiles(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// clientFor returns a Client rooted at a different worktree path of the
// same repository, sharing timeout configuration.
func (c *Client) clientFor(worktreePath string) (*Client, error) {
	if worktreePath == "" || worktreePath == c.repoPath {
		return c, nil
	}
	gitPath, err := resolveGitBinaryPath(worktreePath)
	if err != nil {
		return nil, err
	}
	return &Client{repoPath: worktreePath, timeout: c.timeout, gitPath: gitPath}, nil
}

func isConflictOutput(stdout, stderr string) bool {
	return strings.Contains(stdout, "CONFLICT") || strings.Contains(stderr, "CONFLICT") ||
		strings.Contains(stdout, "could not apply") || strings.Contains(stderr, "could not apply")
}

func (c *Client) Merge(ctx context.Context, head string) error {
	if err := validateGitRev(head); err != nil {
		return err
	}
	stdout, stderr, err := c.runWithOutput(ctx, "merge", "--no-edit", head)
	if err == nil {
		return nil
	}
	if isConflictOutput(stdout, stderr) {
		return fmt.Errorf("%w: %s", ErrMergeConflict, stdout)
	}
	if strings.Contains(stdout, "Already up to date") || strings.Contains(stderr, "Already up to date") {
		return nil
	}
	if strings.Contains(stderr, "not something we can merge") {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, head)
	}
	return fmt.Errorf("git merge: %w: %s%s", err, stdout, stderr)
}

// MergeAbort aborts an in-progress conflicted merge.
func (c *Client) MergeAbort(ctx context.Context) error {
	_, err := c.run(ctx, "merge", "--abort")
	return err
}

func (c *Client) Diff(ctx context.Context, base, head string) (string, error) {
	if base == "" && head == "" {
		return c.run(ctx, "diff")
	}
	if head == "" {
		head = "HEAD"
	}
	return c.run(ctx, "diff", base+"..."+head)
}

func (c *Client) DiffFiles(ctx context.Context, base, head string) ([]string, error) {
	out, err := c.run(ctx, "diff", "--name-only", base, head)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (c *Client) CommitDiff(ctx context.Context, commit string) (string, error) {
	if err := validateGitRev(commit); err != nil {
		return "", err
	}
	return c.run(ctx, "show", "--format=", commit)
}

// Log returns up to limit commits reachable from ref, newest first, for the
// Gateway's branch graph view.
func (c *Client) Log(ctx context.Context, ref string, limit int) ([]core.CommitInfo, error) {
	if ref == "" {
		ref = "HEAD"
	}
	if err := validateGitRev(ref); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	const fieldSep = "\x1f"
	out, err := c.run(ctx, "log", ref, fmt.Sprintf("-n%d", limit),
		"--format=%H"+fieldSep+"%P"+fieldSep+"%an <%ae>"+fieldSep+"%s"+fieldSep+"%cI")
	if err != nil {
		return nil, err
	}
	var commits []core.CommitInfo
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, fieldSep)
		if len(parts) != 5 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, parts[4])
		var parents []string
		if parts[1] != "" {
			parents = strings.Fields(parts[1])
		}
		commits = append(commits, core.CommitInfo{
			SHA:       parts[0],
			Parents:   parents,
			Author:    parts[2],
			Message:   parts[3],
			Timestamp: ts,
		})
	}
	return commits, nil
}

// UnpushedCount reports commits on branch not present on its upstream,
// falling back to 0 (rather than an error) when branch has no upstream.
func (c *Client) UnpushedCount(ctx context.Context, branch string) (int, error) {
	if err := validateGitBranchName(branch); err != nil {
		return 0, err
	}
	upstream, err := c.run(ctx, "rev-parse", "--abbrev-ref", branch+"@{upstream}")
	if err != nil {
		return 0, nil
	}
	out, err := c.run(ctx, "rev-list", "--count", upstream+".."+branch)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing unpushed count: %w", err)
	}
	return n, nil
}

func (c *Client) IsClean(ctx context.Context) (bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(status.Staged) == 0 && len(status.Unstaged) == 0 && len(status.Untracked) == 0 && !status.HasConflicts, nil
}

func (c *Client) Fetch(ctx context.Context, remote string) error {
	if err := validateGitRemoteName(remote); err != nil {
		return err
	}
	_, err := c.run(ctx, "fetch", remote)
	return err
}

// Init creates an empty repository at the client's repoPath, for the
// "new" project origin (spec §4.9's add_project, OriginEmpty case) where
// there is nothing to clone from.
func (c *Client) Init(ctx context.Context) error {
	if err := os.MkdirAll(c.repoPath, 0o750); err != nil {
		return fmt.Errorf("creating repo directory: %w", err)
	}
	cmd := exec.CommandContext(ctx, c.gitPath, "init", c.repoPath)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git init: %s: %w", strings.TrimSpace(errBuf.String()), err)
	}
	return nil
}

// Clone clones url into dest, checking out branch if given, for the
// project onboarding flow (spec §4.9's add_project).
func (c *Client) Clone(ctx context.Context, url, dest, branch string) error {
	if err := validateGitURL(url); err != nil {
		return err
	}
	if err := validateGitPathArg(dest); err != nil {
		return err
	}
	args := []string{"clone"}
	if branch != "" {
		if err := validateGitBranchName(branch); err != nil {
			return err
		}
		args = append(args, "--branch", branch)
	}
	args = append(args, "--", url, dest)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.gitPath, args...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return core.ErrTimeout(5).WithCause(err)
		}
		return fmt.Errorf("git clone: %s: %w", strings.TrimSpace(errBuf.String()), err)
	}
	return nil
}

// RevParse resolves ref to a commit SHA, erroring if ref does not exist —
// used by the Merge-Test Engine to probe for an origin/<base>
// remote-tracking branch before falling back to the local base (spec §4.6
// step 2).
func (c *Client) RevParse(ctx context.Context, ref string) (string, error) {
	if err := validateGitRev(ref); err != nil {
		return "", err
	}
	return c.run(ctx, "rev-parse", "--verify", ref)
}
