// Package onboard materializes a registered project's repository on disk
// (spec §4.9's add_project): clone for Git/LocalPath origins, "git init"
// for Empty. Shared by the Gateway's project-create handler and the
// "quorum project add" CLI command so a project onboards the same way
// whether it's added through the API or offline while the engine isn't
// running.
package onboard

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/gitmanager"
)

// RepoPath matches the Scheduler's own convention
// (internal/scheduler.projectResources) so a project materialized here is
// found by the Scheduler without either side needing to ask the other.
func RepoPath(dataDir string, id core.ProjectID) string {
	return filepath.Join(dataDir, "projects", string(id), "repo")
}

// Materialize brings project's repository directory into existence.
func Materialize(ctx context.Context, dataDir string, project *core.Project) error {
	dest := RepoPath(dataDir, project.ID)
	client, err := gitmanager.NewClientAt(dest)
	if err != nil {
		return fmt.Errorf("preparing git client: %w", err)
	}

	switch project.Origin.Kind {
	case core.OriginGit:
		if err := client.Clone(ctx, project.Origin.RepoURL, dest, project.Origin.Branch); err != nil {
			return fmt.Errorf("cloning %s: %w", project.Origin.RepoURL, err)
		}
	case core.OriginLocalPath:
		if err := client.Clone(ctx, project.Origin.LocalPath, dest, ""); err != nil {
			return fmt.Errorf("cloning local path %s: %w", project.Origin.LocalPath, err)
		}
	case core.OriginEmpty:
		if err := client.Init(ctx); err != nil {
			return fmt.Errorf("initializing repository: %w", err)
		}
	default:
		return core.ErrValidation("PROJECT_ORIGIN_INVALID", "origin kind must be git, local, or new")
	}
	return nil
}
