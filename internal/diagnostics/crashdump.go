package diagnostics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CrashDump captures process and host state at the moment an agent adapter
// panics, grounded on the teacher's diagnostics.CrashDumpWriter.
type CrashDump struct {
	Timestamp time.Time `json:"timestamp"`
	ProcessID int       `json:"process_id"`
	GoVersion string    `json:"go_version"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	PanicValue    string `json:"panic_value"`
	StackTrace    string `json:"stack_trace,omitempty"`

	ResourceState   ResourceSnapshot   `json:"resource_state"`
	ResourceHistory []ResourceSnapshot `json:"resource_history,omitempty"`

	AgentName   string   `json:"agent_name,omitempty"`
	TaskID      string   `json:"task_id,omitempty"`
	CommandPath string   `json:"command_path,omitempty"`
	CommandArgs []string `json:"command_args,omitempty"`
	WorkDir     string   `json:"work_dir,omitempty"`

	RedactedEnv map[string]string `json:"redacted_env,omitempty"`
}

// CommandContext captures the subprocess an adapter was running when it panicked.
type CommandContext struct {
	Path    string
	Args    []string
	WorkDir string
	Started time.Time
}

// CrashDumpWriter writes a CrashDump to disk on panic recovery.
type CrashDumpWriter struct {
	dir          string
	maxFiles     int
	includeStack bool
	includeEnv   bool
	logger       *slog.Logger
	monitor      *ResourceMonitor

	agentName atomic.Value // string
	taskID    atomic.Value // string
	currentCmd atomic.Value // *CommandContext

	mu sync.Mutex
}

// NewCrashDumpWriter creates a crash dump writer rooted at dir.
func NewCrashDumpWriter(dir string, maxFiles int, includeStack, includeEnv bool, logger *slog.Logger, monitor *ResourceMonitor) *CrashDumpWriter {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if dir == "" {
		dir = ".quorum/crashdumps"
	}
	w := &CrashDumpWriter{
		dir:          dir,
		maxFiles:     maxFiles,
		includeStack: includeStack,
		includeEnv:   includeEnv,
		logger:       logger,
		monitor:      monitor,
	}
	w.agentName.Store("")
	w.taskID.Store("")
	w.currentCmd.Store((*CommandContext)(nil))
	return w
}

// SetCurrentContext records which agent/task is executing, for the next dump.
func (w *CrashDumpWriter) SetCurrentContext(agentName, taskID string) {
	w.agentName.Store(agentName)
	w.taskID.Store(taskID)
}

// SetCurrentCommand records the subprocess currently executing.
func (w *CrashDumpWriter) SetCurrentCommand(cmd *CommandContext) {
	w.currentCmd.Store(cmd)
}

// ClearCurrentCommand clears the subprocess context once it completes cleanly.
func (w *CrashDumpWriter) ClearCurrentCommand() {
	w.currentCmd.Store((*CommandContext)(nil))
}

// WriteCrashDump serializes a CrashDump for panicValue and writes it to dir.
func (w *CrashDumpWriter) WriteCrashDump(panicValue interface{}) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dump := CrashDump{
		Timestamp:  time.Now().UTC(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		PanicValue: fmt.Sprintf("%v", panicValue),
	}
	if w.includeStack {
		dump.StackTrace = string(debug.Stack())
	}
	if w.monitor != nil {
		dump.ResourceState = w.monitor.TakeSnapshot()
		dump.ResourceHistory = w.monitor.GetHistory()
	}
	if name, ok := w.agentName.Load().(string); ok {
		dump.AgentName = name
	}
	if id, ok := w.taskID.Load().(string); ok {
		dump.TaskID = id
	}
	if cmd, ok := w.currentCmd.Load().(*CommandContext); ok && cmd != nil {
		dump.CommandPath = cmd.Path
		dump.CommandArgs = cmd.Args
		dump.WorkDir = cmd.WorkDir
	}
	if w.includeEnv {
		dump.RedactedEnv = w.redactEnvironment()
	}

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating crash dump dir: %w", err)
	}
	filename := fmt.Sprintf("crash-%s.json", dump.Timestamp.Format("2006-01-02T15-04-05"))
	path := filepath.Join(w.dir, filename)

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing crash dump: %w", err)
	}
	_ = w.cleanupOldDumps()
	return path, nil
}

// RecoverAndDump is a defer-compatible panic recovery helper that writes a
// dump and then re-panics, for top-level goroutines that should still crash.
func (w *CrashDumpWriter) RecoverAndDump() {
	if r := recover(); r != nil {
		w.logDump(r)
		panic(r)
	}
}

// RecoverAndReturn recovers from a panic, writes a dump, and reports it
// through errPtr instead of re-panicking, for adapter calls the Scheduler
// must be able to treat as an ordinary task failure.
//
//nolint:gocritic // ptrToRefParam: errPtr must be a pointer to modify the caller's error variable
func (w *CrashDumpWriter) RecoverAndReturn(errPtr *error) {
	if r := recover(); r != nil {
		path := w.logDump(r)
		*errPtr = fmt.Errorf("agent execution panicked: %v (dump: %s)", r, path)
	}
}

func (w *CrashDumpWriter) logDump(panicValue interface{}) string {
	path, err := w.WriteCrashDump(panicValue)
	if err != nil {
		if w.logger != nil {
			w.logger.Error("failed to write crash dump", "error", err, "panic", panicValue)
		}
		return ""
	}
	if w.logger != nil {
		w.logger.Error("crash dump written", "path", path, "panic", panicValue)
	}
	return path
}

func (w *CrashDumpWriter) cleanupOldDumps() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	var dumps []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "crash-") && strings.HasSuffix(e.Name(), ".json") {
			dumps = append(dumps, e)
		}
	}
	sort.Slice(dumps, func(i, j int) bool {
		infoI, errI := dumps[i].Info()
		infoJ, errJ := dumps[j].Info()
		if errI != nil || errJ != nil {
			return false
		}
		return infoI.ModTime().Before(infoJ.ModTime())
	})
	for len(dumps) > w.maxFiles {
		path := filepath.Join(w.dir, dumps[0].Name())
		if err := os.Remove(path); err != nil && w.logger != nil {
			w.logger.Warn("failed to remove old crash dump", "path", path, "error", err)
		}
		dumps = dumps[1:]
	}
	return nil
}

func (w *CrashDumpWriter) redactEnvironment() map[string]string {
	result := make(map[string]string)
	sensitive := []string{"TOKEN", "KEY", "SECRET", "PASSWORD", "CREDENTIAL", "AUTH", "PRIVATE", "API_KEY", "APIKEY"}
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := parts[0]
		keyUpper := strings.ToUpper(key)
		redacted := false
		for _, s := range sensitive {
			if strings.Contains(keyUpper, s) {
				redacted = true
				break
			}
		}
		if redacted {
			result[key] = "[REDACTED]"
		} else {
			result[key] = parts[1]
		}
	}
	return result
}
