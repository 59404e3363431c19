package container_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/container"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func TestDockerRuntime_HardeningArgs(t *testing.T) {
	defaults := container.DefaultHardeningOptions()
	testutil.AssertEqual(t, defaults.DropCapabilities[0], "ALL")
	testutil.AssertTrue(t, defaults.NoNewPrivileges, "defaults should set no-new-privileges")
	testutil.AssertTrue(t, defaults.PidsLimit > 0, "defaults should cap pids")
}

func TestDockerRuntime_Start_RejectsEmptyImage(t *testing.T) {
	rt := container.NewDockerRuntime(container.DefaultHardeningOptions())
	_, err := rt.Start(t.Context(), core.ContainerSpec{WorkerID: "worker-1", TaskID: "t-1"})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCategory(err, core.ErrCatContainerStart), "expected a ContainerStart domain error")
}

func TestDockerRuntime_VerifyWorktreeLink(t *testing.T) {
	rt := container.NewDockerRuntime(container.DefaultHardeningOptions())
	dir := t.TempDir()

	t.Run("missing .git fails", func(t *testing.T) {
		testutil.AssertError(t, rt.VerifyWorktreeLink(dir))
	})

	t.Run("valid pointer file passes", func(t *testing.T) {
		gitFile := filepath.Join(dir, ".git")
		testutil.AssertNoError(t, os.WriteFile(gitFile, []byte("gitdir: /repo/.git/worktrees/t-1\n"), 0o644))
		testutil.AssertNoError(t, rt.VerifyWorktreeLink(dir))
	})

	t.Run("replaced with directory fails", func(t *testing.T) {
		dir2 := t.TempDir()
		testutil.AssertNoError(t, os.Mkdir(filepath.Join(dir2, ".git"), 0o755))
		testutil.AssertError(t, rt.VerifyWorktreeLink(dir2))
	})

	t.Run("content no longer a gitdir pointer fails", func(t *testing.T) {
		dir3 := t.TempDir()
		testutil.AssertNoError(t, os.WriteFile(filepath.Join(dir3, ".git"), []byte("not a pointer"), 0o644))
		testutil.AssertError(t, rt.VerifyWorktreeLink(dir3))
	})
}

func TestAdmitter_Admit(t *testing.T) {
	monitor := container.NewResourceMonitor()

	t.Run("no caps always admits", func(t *testing.T) {
		a := container.NewAdmitter(monitor, 0, 0)
		ok, _ := a.Admit()
		testutil.AssertTrue(t, ok, "zero caps should disable the check")
	})

	t.Run("first sample has no cpu delta so only memory can refuse", func(t *testing.T) {
		a := container.NewAdmitter(monitor, 0.0001, 0)
		ok, sample := a.Admit()
		testutil.AssertTrue(t, ok, "first CPU sample has no prior reading to diff against")
		testutil.AssertEqual(t, sample.CPUPercent, 0)
	})
}
