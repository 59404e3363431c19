package core

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Agent Port
// =============================================================================

// Agent defines the contract for the pluggable agent CLI adapter. The
// engine treats the agent as one opaque binary configured by environment
// (spec §6), invoked either in-process (Plan Service) or inside a
// container (Scheduler), never as a roster of named CLIs.
type Agent interface {
	// Name returns the adapter identifier (e.g., "claude").
	Name() string

	// Capabilities returns what the agent can do.
	Capabilities() Capabilities

	// Ping checks if the agent CLI is available and authenticated.
	Ping(ctx context.Context) error

	// Execute runs a prompt through the agent and returns the result.
	Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error)
}

// Capabilities describes what an agent can do.
type Capabilities struct {
	SupportsStreaming bool
	SupportsTools     bool
	SupportsJSON      bool
	SupportedModels   []string
	DefaultModel      string
	MaxContextTokens  int
	MaxOutputTokens   int
}

// OutputFormat specifies the expected output format.
type OutputFormat string

const (
	OutputFormatText     OutputFormat = "text"
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatMarkdown OutputFormat = "markdown"
)

// ExecuteOptions configures an agent execution.
type ExecuteOptions struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int
	Format       OutputFormat
	Timeout      time.Duration
	WorkDir      string
	Sandbox      bool
}

// DefaultExecuteOptions returns sensible defaults.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		MaxTokens: 4096,
		Format:    OutputFormatText,
		Timeout:   10 * time.Minute,
	}
}

// ExecuteResult contains the output of an agent execution.
type ExecuteResult struct {
	Output       string
	Parsed       map[string]interface{}
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	Duration     time.Duration
	Model        string
	FinishReason string
}

// TotalTokens returns the sum of input and output tokens.
func (r *ExecuteResult) TotalTokens() int {
	return r.TokensIn + r.TokensOut
}

// AgentRegistry manages the registered agent adapter(s).
type AgentRegistry interface {
	Register(name string, agent Agent) error
	Get(name string) (Agent, error)
	List() []string
	Available(ctx context.Context) []string
}

// =============================================================================
// GitClient Port
// =============================================================================

// GitClient wraps the git CLI for one project's repository root (spec
// §4.4). Every operation shells out via exec.CommandContext, never a
// shell, with argument validation against injection.
type GitClient interface {
	RepoRoot(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	DefaultBranch(ctx context.Context) (string, error)
	RemoteURL(ctx context.Context) (string, error)

	BranchExists(ctx context.Context, name string) (bool, error)
	CreateBranch(ctx context.Context, name, base string) error
	DeleteBranch(ctx context.Context, name string) error
	CheckoutBranch(ctx context.Context, name string) error

	// Worktree operations (spec §4.4: add/remove/prune/list).
	CreateWorktree(ctx context.Context, path, branch, base string) error
	RemoveWorktree(ctx context.Context, path string, force bool) error
	PruneWorktrees(ctx context.Context) error
	ListWorktrees(ctx context.Context) ([]Worktree, error)

	Status(ctx context.Context) (*GitStatus, error)
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, remote, branch string, force bool) error

	// Rebase moves the worktree's branch onto base, returning the list of
	// conflicted files (empty if the rebase completed cleanly).
	Rebase(ctx context.Context, worktreePath, base string) (conflicted []string, err error)
	RebaseContinue(ctx context.Context, worktreePath string) (conflicted []string, err error)
	RebaseAbort(ctx context.Context, worktreePath string) error

	// Merge fast-forwards or merges head into the current branch.
	Merge(ctx context.Context, head string) error
	// MergeAbort aborts an in-progress conflicted merge, restoring the
	// pre-merge HEAD (spec §4.7 step 4: "On merge conflict, abort").
	MergeAbort(ctx context.Context) error

	Diff(ctx context.Context, base, head string) (string, error)
	DiffFiles(ctx context.Context, base, head string) ([]string, error)
	// CommitDiff returns the unified diff introduced by a single commit.
	CommitDiff(ctx context.Context, commit string) (string, error)
	// Log returns up to limit commit summaries reachable from ref, newest first.
	Log(ctx context.Context, ref string, limit int) ([]CommitInfo, error)
	// UnpushedCount reports commits on branch not yet on its upstream.
	UnpushedCount(ctx context.Context, branch string) (int, error)

	IsClean(ctx context.Context) (bool, error)
	Fetch(ctx context.Context, remote string) error
	Clone(ctx context.Context, url, dest, branch string) error

	// RevParse resolves ref to a commit SHA, returning an error if ref does
	// not exist (used to probe for an origin/<base> remote-tracking branch
	// before falling back to the local base).
	RevParse(ctx context.Context, ref string) (string, error)
}

// CommitInfo is one entry of a commit log, used to lay out the Gateway's
// branch graph view.
type CommitInfo struct {
	SHA       string
	Parents   []string
	Author    string
	Message   string
	Timestamp time.Time
}

// Worktree represents a git worktree.
type Worktree struct {
	Path     string
	Branch   string
	Commit   string
	IsMain   bool
	IsLocked bool
}

// GitStatus represents the status of a git repository.
type GitStatus struct {
	Branch       string
	Ahead        int
	Behind       int
	Staged       []FileStatus
	Unstaged     []FileStatus
	Untracked    []string
	HasConflicts bool
}

// FileStatus represents a file's git status.
type FileStatus struct {
	Path   string
	Status string // M, A, D, R, C, U
}

// WorktreeManager provides higher-level, task-scoped worktree management
// on top of GitClient, naming worktrees deterministically as
// "<task-id>__<normalized-label>".
type WorktreeManager interface {
	Create(ctx context.Context, taskID TaskID, branch, base string) (*WorktreeInfo, error)
	Get(ctx context.Context, taskID TaskID) (*WorktreeInfo, error)
	Remove(ctx context.Context, taskID TaskID) error
	CleanupStale(ctx context.Context) error
	List(ctx context.Context) ([]*WorktreeInfo, error)
}

// WorktreeInfo contains information about a task's worktree.
type WorktreeInfo struct {
	TaskID    TaskID
	Path      string
	Branch    string
	CreatedAt time.Time
	Status    WorktreeStatus
}

// WorktreeStatus represents the state of a worktree.
type WorktreeStatus string

const (
	WorktreeStatusActive  WorktreeStatus = "active"
	WorktreeStatusStale   WorktreeStatus = "stale"
	WorktreeStatusCleaned WorktreeStatus = "cleaned"
)

// =============================================================================
// ContainerRuntime Port
// =============================================================================

// ContainerRuntime launches, monitors, and reaps one sandboxed execution
// container per busy worker (spec §4.5). Every container is started fresh
// for the task it runs and autoremoved on exit; nothing is pooled across
// tasks, since a worker's mounts (worktree, log dir) are task-specific.
type ContainerRuntime interface {
	// Start launches a container from spec and returns its handle. The
	// container begins running immediately; Start does not block for exit.
	Start(ctx context.Context, spec ContainerSpec) (ContainerHandle, error)

	// Wait blocks until the container referenced by handle exits, or ctx is
	// cancelled, returning the process exit code.
	Wait(ctx context.Context, handle ContainerHandle) (int, error)

	// Stop sends SIGTERM, waits up to grace, then SIGKILL.
	Stop(ctx context.Context, handle ContainerHandle, grace time.Duration) error

	// LogsStream returns a reader of the container's combined stdout/stderr,
	// closed when the container exits or ctx is cancelled.
	LogsStream(ctx context.Context, handle ContainerHandle) (io.ReadCloser, error)

	// ListAlive returns the handles of every container currently running
	// under this runtime, used by the Lifecycle Supervisor's startup sweep.
	ListAlive(ctx context.Context) ([]ContainerHandle, error)

	// VerifyWorktreeLink checks whether the worktree's .git pointer file at
	// worktreePath was corrupted (deleted, replaced, or turned into a
	// directory) during the container's run.
	VerifyWorktreeLink(worktreePath string) error
}

// ContainerMount is one bind mount into a container.
type ContainerMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ContainerSpec describes a container to launch for one worker/task pair
// (spec §4.5).
type ContainerSpec struct {
	WorkerID    WorkerID
	TaskID      TaskID
	Image       string
	Env         map[string]string
	Mounts      []ContainerMount
	CPULimit    string // e.g. "2" (docker --cpus), empty means uncapped
	MemoryLimit string // e.g. "2g" (docker --memory), empty means uncapped
	CallbackURL string
}

// ResourceSample is a point-in-time host resource reading, taken before
// admitting a new container when caps are configured.
type ResourceSample struct {
	CPUPercent    float64
	MemoryPercent float64
}
