// Package container launches, monitors, and reaps the sandboxed Docker
// containers that run the agent for one worker/task pair (spec §4.5).
// Grounded on the teacher's pack-mate pattern of driving docker(1) as a
// subprocess (docker.go's runAgentContainer/executeAndCollect,
// container_pool.go's named, mutex-guarded container bookkeeping), adapted
// from per-phase pooled containers reused across exec calls to one
// autoremoved container per worker/task, since this engine starts a fresh
// container per task rather than reusing a long-lived one across
// iterations.
package container

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// labelManaged marks every container this runtime starts, so ListAlive can
// find them without tracking a separate out-of-process registry.
const labelManaged = "quorum.managed=true"

var _ core.ContainerRuntime = (*DockerRuntime)(nil)

// managedContainer tracks one container this process started.
type managedContainer struct {
	handle core.ContainerHandle
	name   string
	spec   core.ContainerSpec
}

// DockerRuntime drives docker(1) as a subprocess, never a client library,
// matching the teacher pack's CLI-shelling approach throughout.
type DockerRuntime struct {
	mu         sync.Mutex
	containers map[core.ContainerHandle]*managedContainer
	security   HardeningOptions
	dockerPath string
}

// HardeningOptions are the container security flags applied to every
// launch, grounded on the pack's security.ContainerSecurityOptions.
type HardeningOptions struct {
	DropCapabilities []string
	AddCapabilities  []string
	NoNewPrivileges  bool
	PidsLimit        int
}

// DefaultHardeningOptions mirrors the pack's defaults: drop everything,
// add back only the capabilities a git/build toolchain needs.
func DefaultHardeningOptions() HardeningOptions {
	return HardeningOptions{
		DropCapabilities: []string{"ALL"},
		AddCapabilities:  []string{"DAC_OVERRIDE", "CHOWN"},
		NoNewPrivileges:  true,
		PidsLimit:        2048,
	}
}

// NewDockerRuntime constructs a runtime using the given hardening options.
func NewDockerRuntime(security HardeningOptions) *DockerRuntime {
	return &DockerRuntime{
		containers: make(map[core.ContainerHandle]*managedContainer),
		security:   security,
		dockerPath: "docker",
	}
}

func (r *DockerRuntime) containerName(workerID core.WorkerID, taskID core.TaskID) string {
	return fmt.Sprintf("quorum-%s-%s", workerID, taskID)
}

// Start launches a fresh, autoremoved container for spec and returns its
// docker container ID as the handle.
func (r *DockerRuntime) Start(ctx context.Context, spec core.ContainerSpec) (core.ContainerHandle, error) {
	if spec.Image == "" {
		return "", core.ErrContainerStart("container spec has no image")
	}
	name := r.containerName(spec.WorkerID, spec.TaskID)

	args := []string{
		"run", "-d", "--rm",
		"--name", name,
		"--label", labelManaged,
		"--label", "quorum.worker=" + string(spec.WorkerID),
		"--label", "quorum.task=" + string(spec.TaskID),
	}
	args = append(args, r.hardeningArgs()...)

	if spec.CPULimit != "" {
		args = append(args, "--cpus", spec.CPULimit)
	}
	if spec.MemoryLimit != "" {
		args = append(args, "--memory", spec.MemoryLimit)
	}

	for _, m := range spec.Mounts {
		bind := fmt.Sprintf("%s:%s", m.HostPath, m.ContainerPath)
		if m.ReadOnly {
			bind += ":ro"
		}
		args = append(args, "-v", bind)
	}

	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	if spec.CallbackURL != "" {
		args = append(args, "-e", "CALLBACK_URL="+spec.CallbackURL)
		// host.docker.internal lets the container reach the gateway over
		// the loopback alias without publishing a port (spec §4.5 "network").
		args = append(args, "--add-host", "host.docker.internal:host-gateway")
	}

	args = append(args, spec.Image)

	cmd := exec.CommandContext(ctx, r.dockerPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", core.ErrContainerStart(fmt.Sprintf("docker run %s: %v (%s)", spec.Image, err, strings.TrimSpace(stderr.String())))
	}

	id := strings.TrimSpace(stdout.String())
	if id == "" {
		return "", core.ErrContainerStart("docker run returned empty container id for " + name)
	}
	handle := core.ContainerHandle(id)

	r.mu.Lock()
	r.containers[handle] = &managedContainer{handle: handle, name: name, spec: spec}
	r.mu.Unlock()

	return handle, nil
}

func (r *DockerRuntime) hardeningArgs() []string {
	var args []string
	for _, c := range r.security.DropCapabilities {
		args = append(args, "--cap-drop="+c)
	}
	for _, c := range r.security.AddCapabilities {
		args = append(args, "--cap-add="+c)
	}
	if r.security.NoNewPrivileges {
		args = append(args, "--security-opt=no-new-privileges")
	}
	if r.security.PidsLimit > 0 {
		args = append(args, fmt.Sprintf("--pids-limit=%d", r.security.PidsLimit))
	}
	return args
}

// Wait blocks until the container exits, or ctx is cancelled, returning the
// process exit code via "docker wait".
func (r *DockerRuntime) Wait(ctx context.Context, handle core.ContainerHandle) (int, error) {
	cmd := exec.CommandContext(ctx, r.dockerPath, "wait", string(handle))
	out, err := cmd.Output()
	if err != nil {
		return -1, fmt.Errorf("docker wait %s: %w", handle, err)
	}
	var code int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &code); err != nil {
		return -1, fmt.Errorf("docker wait %s: unparseable exit code %q", handle, out)
	}

	r.mu.Lock()
	delete(r.containers, handle)
	r.mu.Unlock()

	return code, nil
}

// Stop sends SIGTERM via "docker stop -t <grace>", which docker itself
// escalates to SIGKILL once the grace period elapses.
func (r *DockerRuntime) Stop(ctx context.Context, handle core.ContainerHandle, grace time.Duration) error {
	seconds := int(grace.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	cmd := exec.CommandContext(ctx, r.dockerPath, "stop", "-t", fmt.Sprintf("%d", seconds), string(handle))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker stop %s: %w (%s)", handle, err, strings.TrimSpace(string(out)))
	}
	r.mu.Lock()
	delete(r.containers, handle)
	r.mu.Unlock()
	return nil
}

// dockerLogsReader wraps the docker logs subprocess so closing it tears
// down the child process along with the pipe.
type dockerLogsReader struct {
	*bufio.Reader
	cmd *exec.Cmd
}

func (d *dockerLogsReader) Close() error {
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	return d.cmd.Wait()
}

// LogsStream follows the container's combined stdout/stderr via
// "docker logs -f". Per spec §4.5, the agent's own JSONL log file (read by
// the Stream Parser directly off the mounted log directory) is authoritative
// for event streaming; this method exists for the raw-log fallback view and
// for diagnosing a container that never wrote a JSONL line.
func (r *DockerRuntime) LogsStream(ctx context.Context, handle core.ContainerHandle) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, r.dockerPath, "logs", "-f", string(handle))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("docker logs %s: stdout pipe: %w", handle, err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("docker logs %s: start: %w", handle, err)
	}
	return &dockerLogsReader{Reader: bufio.NewReader(stdout), cmd: cmd}, nil
}

// ListAlive returns every container this runtime launched that docker still
// reports as running, queried by the label every Start call attaches
// (rather than trusting this process's in-memory map, which is empty after
// a restart — the Lifecycle Supervisor's startup sweep depends on this).
func (r *DockerRuntime) ListAlive(ctx context.Context) ([]core.ContainerHandle, error) {
	cmd := exec.CommandContext(ctx, r.dockerPath, "ps", "--filter", "label="+labelManaged, "--format", "{{.ID}}")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("docker ps: %w", err)
	}
	var handles []core.ContainerHandle
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			handles = append(handles, core.ContainerHandle(line))
		}
	}
	return handles, nil
}

// gitPointerPrefix is how git marks a worktree's .git file (spec §4.4):
// "gitdir: /path/to/real/.git/worktrees/<name>".
const gitPointerPrefix = "gitdir:"

// VerifyWorktreeLink checks that the worktree's .git pointer file survived
// the container run unmodified in kind: still a regular file, still
// starting with "gitdir:". Spec §4.4/§5: a destroyed or replaced pointer
// fails the task with WorktreeCorruption rather than silently producing a
// broken worktree on the next git operation.
func (r *DockerRuntime) VerifyWorktreeLink(worktreePath string) error {
	gitPath := filepath.Join(worktreePath, ".git")
	info, err := os.Lstat(gitPath)
	if err != nil {
		return core.ErrWorktreeCorruption(fmt.Sprintf(".git missing at %s: %v", gitPath, err))
	}
	if info.IsDir() {
		return core.ErrWorktreeCorruption(".git was replaced with a directory at " + gitPath)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return core.ErrWorktreeCorruption(".git was replaced with a symlink at " + gitPath)
	}
	data, err := os.ReadFile(gitPath)
	if err != nil {
		return core.ErrWorktreeCorruption(fmt.Sprintf(".git unreadable at %s: %v", gitPath, err))
	}
	if !strings.HasPrefix(strings.TrimSpace(string(data)), gitPointerPrefix) {
		return core.ErrWorktreeCorruption(".git no longer points at the parent repo: " + gitPath)
	}
	return nil
}

// ErrNotRunning is returned by operations addressed at a handle this
// process has no record of (already reaped, or this process restarted).
var ErrNotRunning = errors.New("container not tracked by this runtime")
