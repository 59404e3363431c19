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

// registryEnvelope wraps the project list with a version and checksum,
// matching the teacher's stateEnvelope shape (internal/adapters/state.
// JSONStateManager's stateEnvelope), but over []*core.Project instead of a
// single workflow.
type registryEnvelope struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Projects  []*core.Project `json:"projects"`
}

const registryVersion = 1

// ProjectRegistry persists the set of managed projects to a single
// data/projects.json file, guarded by its own file lock (spec §4.1).
type ProjectRegistry struct {
	path string
	lock *fileLock

	mu       sync.RWMutex
	projects map[core.ProjectID]*core.Project
}

// NewProjectRegistry opens (or initializes) the registry at dataDir/projects.json.
func NewProjectRegistry(dataDir string) (*ProjectRegistry, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	path := filepath.Join(dataDir, "projects.json")
	r := &ProjectRegistry{
		path:     path,
		lock:     newFileLock(path),
		projects: make(map[core.ProjectID]*core.Project),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ProjectRegistry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading project registry: %w", err)
	}
	var env registryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parsing project registry: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = make(map[core.ProjectID]*core.Project, len(env.Projects))
	for _, p := range env.Projects {
		r.projects[p.ID] = p
	}
	return nil
}

// persist serializes and atomically writes the registry. Caller must hold
// the file lock and r.mu (read lock suffices, since only the snapshot is read).
func (r *ProjectRegistry) persist() error {
	r.mu.RLock()
	list := make([]*core.Project, 0, len(r.projects))
	for _, p := range r.projects {
		list = append(list, p)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	env := registryEnvelope{Version: registryVersion, UpdatedAt: time.Now(), Projects: list}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling project registry: %w", err)
	}
	return atomicWriteFile(r.path, data, 0o600)
}

func newProjectID() (core.ProjectID, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return core.ProjectID(hex.EncodeToString(buf)), nil
}

// Add registers a new project in the cloning state and persists it.
func (r *ProjectRegistry) Add(ctx context.Context, name string, origin core.Origin) (*core.Project, error) {
	id, err := newProjectID()
	if err != nil {
		return nil, fmt.Errorf("generating project id: %w", err)
	}
	p := core.NewProject(id, name, origin)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := r.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer r.lock.Release()

	r.mu.Lock()
	r.projects[p.ID] = p
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Get retrieves a project snapshot by id.
func (r *ProjectRegistry) Get(id core.ProjectID) (*core.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, core.ErrNotFound("project", string(id))
	}
	return p.Clone(), nil
}

// List returns a snapshot of all projects, ordered by id.
func (r *ProjectRegistry) List() []*core.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove unregisters a project. Callers are responsible for ensuring the
// project's TaskStore and worktrees have already been torn down.
func (r *ProjectRegistry) Remove(ctx context.Context, id core.ProjectID) error {
	if err := r.lock.Acquire(ctx); err != nil {
		return err
	}
	defer r.lock.Release()

	r.mu.Lock()
	if _, ok := r.projects[id]; !ok {
		r.mu.Unlock()
		return core.ErrNotFound("project", string(id))
	}
	delete(r.projects, id)
	r.mu.Unlock()

	return r.persist()
}

// Update applies fn to the project under lock and persists the result.
func (r *ProjectRegistry) Update(ctx context.Context, id core.ProjectID, fn func(*core.Project) error) (*core.Project, error) {
	if err := r.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer r.lock.Release()

	r.mu.Lock()
	p, ok := r.projects[id]
	if !ok {
		r.mu.Unlock()
		return nil, core.ErrNotFound("project", string(id))
	}
	if err := fn(p); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	snapshot := p.Clone()
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return nil, err
	}
	return snapshot, nil
}
