package gitmanager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// Compile-time interface conformance check.
var _ core.WorktreeManager = (*TaskWorktreeManager)(nil)

const (
	worktreeNameSeparator = "__"
	worktreeLabelMaxLen   = 48
	worktreeStaleAge      = 24 * time.Hour
)

func validateTaskID(id core.TaskID) error {
	trimmed := strings.TrimSpace(string(id))
	if trimmed == "" {
		return core.ErrValidation("WORKTREE_TASK_ID_REQUIRED", "task id required for worktree")
	}
	if strings.Contains(trimmed, worktreeNameSeparator) {
		return core.ErrValidation("WORKTREE_TASK_ID_INVALID", "task id must not contain '__'")
	}
	if strings.Contains(trimmed, "..") || strings.ContainsAny(trimmed, "/\\") {
		return core.ErrValidation("WORKTREE_TASK_ID_INVALID", "task id contains invalid path characters")
	}
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			continue
		}
		return core.ErrValidation("WORKTREE_TASK_ID_INVALID", "task id contains invalid characters")
	}
	return nil
}

// normalizeLabel lowercases input and collapses runs of non-alphanumeric
// characters to a single dash, bounding the result to maxLen.
func normalizeLabel(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(trimmed))
	lastDash := false
	for _, r := range trimmed {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
		if maxLen > 0 && b.Len() >= maxLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// buildWorktreeName derives the deterministic "<task-id>__<normalized-label>"
// directory name. The label is taken from branch, since that's the only
// human-authored string a bare TaskID/branch pair carries.
func buildWorktreeName(taskID core.TaskID, branch string) (string, error) {
	if err := validateTaskID(taskID); err != nil {
		return "", err
	}
	label := normalizeLabel(branch, worktreeLabelMaxLen)
	if label == "" {
		return string(taskID), nil
	}
	return string(taskID) + worktreeNameSeparator + label, nil
}

// taskIDFromWorktreeName extracts the task id prefix from a directory name
// built by buildWorktreeName.
func taskIDFromWorktreeName(name string) core.TaskID {
	if idx := strings.Index(name, worktreeNameSeparator); idx > -1 {
		return core.TaskID(name[:idx])
	}
	return core.TaskID(name)
}

// TaskWorktreeManager implements core.WorktreeManager over a Client rooted
// at the project's main clone, placing each task's worktree under
// baseDir/<task-id>__<label>.
type TaskWorktreeManager struct {
	git     *Client
	baseDir string
}

// NewTaskWorktreeManager creates a worktree manager rooted at baseDir
// (typically <project-data-dir>/worktrees).
func NewTaskWorktreeManager(git *Client, baseDir string) *TaskWorktreeManager {
	if baseDir == "" {
		baseDir = filepath.Join(git.RepoPath(), ".worktrees")
	}
	return &TaskWorktreeManager{git: git, baseDir: baseDir}
}

func (m *TaskWorktreeManager) pathFor(name string) string {
	return filepath.Join(m.baseDir, name)
}

// Create adds a new worktree for taskID on branch, created from base (or
// HEAD if base is empty).
func (m *TaskWorktreeManager) Create(ctx context.Context, taskID core.TaskID, branch, base string) (*core.WorktreeInfo, error) {
	name, err := buildWorktreeName(taskID, branch)
	if err != nil {
		return nil, err
	}
	path := m.pathFor(name)
	if _, err := os.Stat(path); err == nil {
		return nil, core.ErrValidation("WORKTREE_EXISTS", "worktree already exists for task "+string(taskID))
	}
	if err := m.git.CreateWorktree(ctx, path, branch, base); err != nil {
		return nil, err
	}
	return &core.WorktreeInfo{
		TaskID:    taskID,
		Path:      path,
		Branch:    branch,
		CreatedAt: time.Now(),
		Status:    core.WorktreeStatusActive,
	}, nil
}

// Get locates the worktree owned by taskID among the repo's registered
// worktrees, since the branch name (and thus exact directory) isn't known
// to the caller at lookup time.
func (m *TaskWorktreeManager) Get(ctx context.Context, taskID core.TaskID) (*core.WorktreeInfo, error) {
	all, err := m.git.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	resolvedBase := resolvePath(m.baseDir)
	for _, wt := range all {
		if !strings.HasPrefix(resolvePath(wt.Path), resolvedBase) {
			continue
		}
		if taskIDFromWorktreeName(filepath.Base(wt.Path)) != taskID {
			continue
		}
		status := core.WorktreeStatusActive
		if wt.IsLocked {
			status = core.WorktreeStatusStale
		}
		return &core.WorktreeInfo{TaskID: taskID, Path: wt.Path, Branch: wt.Branch, Status: status}, nil
	}
	return nil, core.ErrNotFound("worktree", string(taskID))
}

// Remove removes the worktree owned by taskID.
func (m *TaskWorktreeManager) Remove(ctx context.Context, taskID core.TaskID) error {
	info, err := m.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return m.git.RemoveWorktree(ctx, info.Path, true)
}

// CleanupStale removes worktrees under baseDir whose directory no longer
// resolves as a live worktree entry, then prunes git's own bookkeeping.
func (m *TaskWorktreeManager) CleanupStale(ctx context.Context) error {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	all, err := m.git.ListWorktrees(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(all))
	for _, wt := range all {
		live[resolvePath(wt.Path)] = true
	}

	now := time.Now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := m.pathFor(entry.Name())
		if live[resolvePath(path)] {
			continue
		}
		info, statErr := entry.Info()
		if statErr == nil && now.Sub(info.ModTime()) < worktreeStaleAge {
			continue
		}
		_ = os.RemoveAll(path)
	}
	return m.git.PruneWorktrees(ctx)
}

// List returns every worktree managed under baseDir.
func (m *TaskWorktreeManager) List(ctx context.Context) ([]*core.WorktreeInfo, error) {
	all, err := m.git.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	resolvedBase := resolvePath(m.baseDir)

	var result []*core.WorktreeInfo
	for _, wt := range all {
		if !strings.HasPrefix(resolvePath(wt.Path), resolvedBase) {
			continue
		}
		status := core.WorktreeStatusActive
		if wt.IsLocked {
			status = core.WorktreeStatusStale
		}
		result = append(result, &core.WorktreeInfo{
			TaskID: taskIDFromWorktreeName(filepath.Base(wt.Path)),
			Path:   wt.Path,
			Branch: wt.Branch,
			Status: status,
		})
	}
	return result, nil
}

// resolvePath resolves symlinks for cross-platform path-prefix comparison
// (e.g. macOS's /var -> /private/var), falling back to an absolute path.
func resolvePath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
