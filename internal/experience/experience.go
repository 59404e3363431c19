// Package experience implements the Experience Indexer (spec §4.9): on
// task completion it derives a problem/solution/prevention summary and
// appends it to the repository's PROGRESS.md, committed on the task's
// branch so the entry propagates with the merge; before launching a task
// it surfaces the project's own recent entries plus, by lexical overlap, a
// few entries from other projects. Grounded on the teacher's
// internal/adapters/state.SQLiteStateManager (database/sql over
// modernc.org/sqlite, no cgo) for the optional secondary index, and
// internal/tui/chat.HistorySearch's use of github.com/sahilm/fuzzy for the
// cross-project ranking, in place of a hand-rolled stemmed token
// intersection.
package experience

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/onboard"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
)

const (
	progressFile = "PROGRESS.md"

	recentEntryCount   = 5
	recentReadBudget   = 12 * 1024
	recentPromptBudget = 3 * 1024
	crossProjectCount  = 3
	crossProjectBudget = 2560 // 2.5 KB
)

// Entry is one structured completion record parsed from a PROGRESS.md.
type Entry struct {
	Timestamp time.Time
	Title     string
	Body      string
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS progress_entries (
	project_id TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (project_id, timestamp)
);`

// Indexer is the Experience Indexer. The sqlite mirror is rebuilt
// per-project from PROGRESS.md on demand if a row is missing; PROGRESS.md
// itself remains the source of truth (spec §4.9 Domain Stack note).
type Indexer struct {
	dataDir  string
	registry *store.ProjectRegistry
	logger   *logging.Logger
	db       *sql.DB
}

// New opens (creating if absent) the sqlite mirror database under dataDir.
func New(dataDir string, registry *store.ProjectRegistry, logger *logging.Logger) (*Indexer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "experience.db"))
	if err != nil {
		return nil, fmt.Errorf("opening experience mirror: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing experience mirror: %w", err)
	}
	return &Indexer{dataDir: dataDir, registry: registry, logger: logger, db: db}, nil
}

// Close releases the sqlite mirror connection.
func (ix *Indexer) Close() error { return ix.db.Close() }

// Append derives and records a completion entry for task, committing
// PROGRESS.md on the task's own branch inside worktreePath (spec §4.9:
// "excluded from the worktree's protected list and committed with the
// task so history propagates with merges"). Returns the new branch-tip
// SHA the caller should treat as the task's final commit.
func (ix *Indexer) Append(ctx context.Context, projectID core.ProjectID, worktreePath string, git core.GitClient, task *core.Task, problem, solution, prevention string) (string, error) {
	ts := time.Now().UTC()
	body := fmt.Sprintf("**Problem:** %s\n\n**Solution:** %s\n\n**Prevention:** %s\n", problem, solution, prevention)
	entryText := fmt.Sprintf("## [%s] %s\n\n%s\n", ts.Format(time.RFC3339), task.Title, body)

	path := filepath.Join(worktreePath, progressFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", progressFile, err)
	}
	_, writeErr := f.WriteString(entryText)
	closeErr := f.Close()
	if writeErr != nil {
		return "", fmt.Errorf("writing %s: %w", progressFile, writeErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("closing %s: %w", progressFile, closeErr)
	}

	if err := git.Add(ctx, progressFile); err != nil {
		return "", fmt.Errorf("staging %s: %w", progressFile, err)
	}
	sha, err := git.Commit(ctx, fmt.Sprintf("experience: record completion of %s", task.ID))
	if err != nil {
		return "", fmt.Errorf("committing %s: %w", progressFile, err)
	}

	if _, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO progress_entries (project_id, timestamp, title, body) VALUES (?, ?, ?, ?)`,
		string(projectID), ts.Format(time.RFC3339), task.Title, body,
	); err != nil {
		ix.logger.Warn("experience: mirroring entry to sqlite failed", "project_id", string(projectID), "error", err)
	}
	return sha, nil
}

// Snippet implements scheduler.ExperienceProvider: the project's own
// recent entries plus, bounded separately, a lexically-similar entry from
// other projects (spec §4.9).
func (ix *Indexer) Snippet(ctx context.Context, projectID core.ProjectID, description string) (string, bool) {
	var b strings.Builder

	repoPath := onboard.RepoPath(ix.dataDir, projectID)
	if own := ix.recentEntries(repoPath); own != "" {
		b.WriteString(own)
	}

	if cross := ix.crossProjectSnippet(ctx, projectID, description); cross != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(cross)
	}

	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// recentEntries reads the last recentEntryCount structured entries from
// the project's own PROGRESS.md, bounded by a read budget and a prompt
// budget (spec §4.9).
func (ix *Indexer) recentEntries(repoPath string) string {
	data, err := readTail(filepath.Join(repoPath, progressFile), recentReadBudget)
	if err != nil {
		return ""
	}
	entries := parseEntries(data)
	if len(entries) > recentEntryCount {
		entries = entries[len(entries)-recentEntryCount:]
	}
	return truncateEntries(entries, recentPromptBudget, "")
}

// crossProjectSnippet ranks other ready projects' most recent progress
// entries against description by lexical overlap and returns up to
// crossProjectCount of them, labeled "cross-project" per spec §4.9.
func (ix *Indexer) crossProjectSnippet(ctx context.Context, projectID core.ProjectID, description string) string {
	if ix.registry == nil {
		return ""
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT project_id, timestamp, title, body FROM progress_entries WHERE project_id != ? ORDER BY timestamp DESC LIMIT 200`,
		string(projectID))
	if err != nil {
		ix.logger.Warn("experience: querying cross-project entries failed", "error", err)
		return ""
	}
	defer rows.Close()

	var candidates []Entry
	var titles []string
	for rows.Next() {
		var pid, tsRaw, title, body string
		if err := rows.Scan(&pid, &tsRaw, &title, &body); err != nil {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, tsRaw)
		candidates = append(candidates, Entry{Timestamp: ts, Title: title, Body: body})
		titles = append(titles, title+" "+body)
	}
	if len(candidates) == 0 {
		return ""
	}

	matches := fuzzy.Find(description, titles)
	if len(matches) == 0 {
		return ""
	}
	n := crossProjectCount
	if len(matches) < n {
		n = len(matches)
	}
	selected := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		selected = append(selected, candidates[matches[i].Index])
	}
	return truncateEntries(selected, crossProjectBudget, "cross-project")
}

// truncateEntries renders entries as headed paragraphs, stopping once
// adding the next entry would exceed budget bytes.
func truncateEntries(entries []Entry, budget int, label string) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	if label != "" {
		fmt.Fprintf(&b, "Relevant prior work (%s):\n", label)
	}
	for _, e := range entries {
		chunk := fmt.Sprintf("## [%s] %s\n%s\n", e.Timestamp.Format(time.RFC3339), e.Title, e.Body)
		if b.Len()+len(chunk) > budget {
			break
		}
		b.WriteString(chunk)
	}
	return b.String()
}

// readTail reads at most budget trailing bytes of path.
func readTail(path string, budget int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	var offset int64
	if size > int64(budget) {
		offset = size - int64(budget)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// parseEntries scans a PROGRESS.md for "## [<timestamp>] <title>"
// headings, oldest first, with no external Markdown parser — the format
// is fully controlled by Append above (spec §4.9 Domain Stack note).
func parseEntries(data []byte) []Entry {
	lines := strings.Split(string(data), "\n")
	var entries []Entry
	var cur *Entry
	var body strings.Builder

	flush := func() {
		if cur != nil {
			cur.Body = strings.TrimSpace(body.String())
			entries = append(entries, *cur)
		}
		body.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## [") {
			flush()
			ts, title := parseHeading(line)
			cur = &Entry{Timestamp: ts, Title: title}
			continue
		}
		if cur != nil {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return entries
}

func parseHeading(line string) (time.Time, string) {
	rest := strings.TrimPrefix(line, "## [")
	end := strings.Index(rest, "]")
	if end < 0 {
		return time.Time{}, strings.TrimSpace(rest)
	}
	tsRaw := rest[:end]
	title := strings.TrimSpace(rest[end+1:])
	ts, _ := time.Parse(time.RFC3339, tsRaw)
	return ts, title
}
