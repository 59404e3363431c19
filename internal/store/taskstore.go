package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// taskEnvelope wraps one project's task list, mirroring registryEnvelope.
type taskEnvelope struct {
	Version   int          `json:"version"`
	UpdatedAt time.Time    `json:"updated_at"`
	Tasks     []*core.Task `json:"tasks"`
}

const taskStoreVersion = 1

// TaskStore persists one project's tasks to data/projects/<id>/tasks.json.
// Its lock is independent of the ProjectRegistry's: spec §4.1's
// claim_next_task acquires the registry lock first (to read the project
// list), then each project's task lock in ascending project-id order, to
// make multi-project scans deadlock-free.
type TaskStore struct {
	projectID core.ProjectID
	path      string
	lock      *fileLock

	mu    sync.RWMutex
	tasks map[core.TaskID]*core.Task
}

// NewTaskStore opens (or initializes) the task store for a project.
func NewTaskStore(dataDir string, projectID core.ProjectID) (*TaskStore, error) {
	dir := filepath.Join(dataDir, "projects", string(projectID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating project task directory: %w", err)
	}
	path := filepath.Join(dir, "tasks.json")
	s := &TaskStore{
		projectID: projectID,
		path:      path,
		lock:      newFileLock(path),
		tasks:     make(map[core.TaskID]*core.Task),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TaskStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading task store: %w", err)
	}
	var env taskEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parsing task store: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[core.TaskID]*core.Task, len(env.Tasks))
	for _, t := range env.Tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

func (s *TaskStore) persist() error {
	s.mu.RLock()
	list := make([]*core.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		list = append(list, t)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	env := taskEnvelope{Version: taskStoreVersion, UpdatedAt: time.Now(), Tasks: list}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling task store: %w", err)
	}
	return atomicWriteFile(s.path, data, 0o600)
}

// Lock acquires the store's file lock for the duration of a
// read-modify-write sequence spanning multiple method calls (e.g. claim).
// Callers must call the returned release func exactly once.
func (s *TaskStore) Lock(ctx context.Context) (release func(), err error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	return s.lock.Release, nil
}

func newTaskID() (core.TaskID, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return core.TaskID("t-" + hex.EncodeToString(buf)), nil
}

// Create adds a new pending task and persists it. The caller must already
// hold the store lock (via Lock) when composing this with a readiness check.
func (s *TaskStore) Create(description string, priority int, planMode bool, dependsOn core.TaskID) (*core.Task, error) {
	id, err := newTaskID()
	if err != nil {
		return nil, fmt.Errorf("generating task id: %w", err)
	}
	t := core.NewTask(id, s.projectID, description, priority)
	t.PlanMode = planMode
	t.DependsOn = dependsOn
	if planMode {
		if err := t.EnterPlanPending(); err != nil {
			return nil, err
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Get retrieves a task snapshot by id.
func (s *TaskStore) Get(id core.TaskID) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	return t.Clone(), nil
}

// List returns a snapshot of all tasks, ordered by id.
func (s *TaskStore) List() []*core.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mutate applies fn to the named task in place and persists the result.
// The file lock must already be held by the caller for operations (like
// claim_next_task) that read-then-write across the whole store; simple
// single-task mutations may call Mutate directly, which acquires and
// releases its own lock.
func (s *TaskStore) Mutate(ctx context.Context, id core.TaskID, fn func(*core.Task) error) (*core.Task, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.lock.Release()
	return s.mutateLocked(id, fn)
}

// mutateLocked applies fn without acquiring the file lock; used by callers
// (e.g. the Scheduler's claim loop) that already hold it via Lock.
func (s *TaskStore) mutateLocked(id core.TaskID, fn func(*core.Task) error) (*core.Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, core.ErrNotFound("task", string(id))
	}
	if err := fn(t); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snapshot := t.Clone()
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ClaimNext finds the highest-priority ready task (core.TaskLess ordering)
// and claims it for worker, or returns (nil, nil) if none are ready. The
// caller must hold the store lock (via Lock) so the find-then-claim is
// atomic with respect to other claimers on this project.
func (s *TaskStore) ClaimNext(worker core.WorkerID) (*core.Task, error) {
	s.mu.Lock()
	completed := func(id core.TaskID) bool {
		dep, ok := s.tasks[id]
		return ok && dep.Status == core.TaskCompleted
	}

	var best *core.Task
	for _, t := range s.tasks {
		if !t.IsReady(completed) {
			continue
		}
		if best == nil || core.TaskLess(t, best) {
			best = t
		}
	}
	if best == nil {
		s.mu.Unlock()
		return nil, nil
	}
	if err := best.Claim(worker); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snapshot := best.Clone()
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// RecoverStale resets every active task whose worker is no longer running
// back to pending, per the Lifecycle Supervisor's startup sweep (spec
// §4.11). isWorkerAlive reports whether a worker id still owns a live
// container.
func (s *TaskStore) RecoverStale(ctx context.Context, isWorkerAlive func(core.WorkerID) bool) ([]core.TaskID, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.lock.Release()

	s.mu.Lock()
	var recovered []core.TaskID
	for _, t := range s.tasks {
		if t.Status.IsActive() && !isWorkerAlive(t.WorkerID) {
			t.Status = core.TaskPending
			t.WorkerID = ""
			recovered = append(recovered, t.ID)
		}
	}
	s.mu.Unlock()

	if len(recovered) == 0 {
		return nil, nil
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return recovered, nil
}
