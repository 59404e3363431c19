package core

import "time"

// ProjectID is an opaque, cryptographically random project identifier
// (8 hex chars, per spec).
type ProjectID string

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectCloning ProjectStatus = "cloning"
	ProjectReady   ProjectStatus = "ready"
	ProjectError   ProjectStatus = "error"
)

// OriginKind tags how a project's repository came to exist.
type OriginKind string

const (
	OriginGit       OriginKind = "git"
	OriginLocalPath OriginKind = "local"
	OriginEmpty     OriginKind = "new"
)

// Origin is a tagged variant: Git{url, branch} | LocalPath{path} | Empty.
type Origin struct {
	Kind       OriginKind `json:"kind"`
	RepoURL    string     `json:"repo_url,omitempty"`
	Branch     string     `json:"branch,omitempty"`
	LocalPath  string     `json:"local_path,omitempty"`
}

// Project is a managed code repository.
type Project struct {
	ID            ProjectID     `json:"id"`
	Name          string        `json:"name"`
	Origin        Origin        `json:"origin"`
	AutoMerge     bool          `json:"auto_merge"`
	AutoPush      bool          `json:"auto_push"`
	Status        ProjectStatus `json:"status"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewProject constructs a project in the cloning state.
func NewProject(id ProjectID, name string, origin Origin) *Project {
	return &Project{
		ID:        id,
		Name:      name,
		Origin:    origin,
		Status:    ProjectCloning,
		CreatedAt: time.Now(),
	}
}

// MarkReady transitions a cloning/error project to ready.
func (p *Project) MarkReady() {
	p.Status = ProjectReady
	p.LastError = ""
}

// MarkError transitions a project to error with a reason.
func (p *Project) MarkError(reason string) {
	p.Status = ProjectError
	p.LastError = reason
}

// IsReady reports whether the project can accept task claims.
func (p *Project) IsReady() bool {
	return p != nil && p.Status == ProjectReady
}

// Clone returns a deep copy, safe to hand to a reader without sharing the
// original's mutable state (Design Note: snapshot reads via copy-on-read).
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Validate checks project invariants (see spec §3): repo_url is null iff
// origin kind is local or new.
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrValidation("PROJECT_ID_REQUIRED", "project id cannot be empty")
	}
	if p.Name == "" {
		return ErrValidation("PROJECT_NAME_REQUIRED", "project name cannot be empty")
	}
	switch p.Origin.Kind {
	case OriginGit:
		if p.Origin.RepoURL == "" {
			return ErrValidation("PROJECT_REPO_URL_REQUIRED", "git origin requires repo_url")
		}
	case OriginLocalPath:
		if p.Origin.LocalPath == "" {
			return ErrValidation("PROJECT_LOCAL_PATH_REQUIRED", "local origin requires local_path")
		}
		if p.Origin.RepoURL != "" {
			return ErrValidation("PROJECT_REPO_URL_FORBIDDEN", "local origin must not set repo_url")
		}
	case OriginEmpty:
		if p.Origin.RepoURL != "" {
			return ErrValidation("PROJECT_REPO_URL_FORBIDDEN", "new origin must not set repo_url")
		}
	default:
		return ErrValidation("PROJECT_ORIGIN_INVALID", "origin kind must be git, local, or new")
	}
	return nil
}
