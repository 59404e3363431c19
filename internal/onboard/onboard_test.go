package onboard_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/onboard"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func TestRepoPath(t *testing.T) {
	got := onboard.RepoPath("/data", core.ProjectID("proj-1"))
	testutil.AssertEqual(t, got, filepath.Join("/data", "projects", "proj-1", "repo"))
}

func TestMaterialize_Empty(t *testing.T) {
	dataDir := testutil.TempDir(t)
	project := &core.Project{ID: "proj-1", Origin: core.Origin{Kind: core.OriginEmpty}}

	testutil.AssertNoError(t, onboard.Materialize(context.Background(), dataDir, project))

	_, err := os.Stat(filepath.Join(onboard.RepoPath(dataDir, project.ID), ".git"))
	testutil.AssertNoError(t, err)
}

func TestMaterialize_LocalPath(t *testing.T) {
	source := testutil.NewGitRepo(t)
	source.WriteFile("README.md", "hello\n")
	source.Commit("initial commit")

	dataDir := testutil.TempDir(t)
	project := &core.Project{ID: "proj-1", Origin: core.Origin{Kind: core.OriginLocalPath, LocalPath: source.Path}}

	testutil.AssertNoError(t, onboard.Materialize(context.Background(), dataDir, project))

	repoPath := onboard.RepoPath(dataDir, project.ID)
	data, err := os.ReadFile(filepath.Join(repoPath, "README.md"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(data), "hello\n")
}

func TestMaterialize_Git(t *testing.T) {
	source := testutil.NewGitRepo(t)
	source.WriteFile("main.go", "package main\n")
	source.Commit("initial commit")

	dataDir := testutil.TempDir(t)
	project := &core.Project{ID: "proj-1", Origin: core.Origin{Kind: core.OriginGit, RepoURL: source.Path}}

	testutil.AssertNoError(t, onboard.Materialize(context.Background(), dataDir, project))

	repoPath := onboard.RepoPath(dataDir, project.ID)
	data, err := os.ReadFile(filepath.Join(repoPath, "main.go"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(data), "package main\n")
}

func TestMaterialize_InvalidOriginKind(t *testing.T) {
	dataDir := testutil.TempDir(t)
	project := &core.Project{ID: "proj-1", Origin: core.Origin{Kind: core.OriginKind("bogus")}}

	err := onboard.Materialize(context.Background(), dataDir, project)
	testutil.AssertError(t, err)

	var domainErr *core.DomainError
	ok := false
	if de, isDE := err.(*core.DomainError); isDE {
		domainErr, ok = de, true
	}
	testutil.AssertTrue(t, ok, "expected a *core.DomainError")
	testutil.AssertEqual(t, domainErr.Code, "PROJECT_ORIGIN_INVALID")
}
