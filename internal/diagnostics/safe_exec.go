package diagnostics

import (
	"fmt"
	"io"
	"os/exec"
)

// PreflightResult reports whether it is safe to start another agent
// subprocess right now.
type PreflightResult struct {
	OK       bool
	Warnings []string
	Errors   []string
	Snapshot ResourceSnapshot
}

// SafeExecutor wraps CLI agent subprocess execution with a host resource
// preflight check and crash-dump-backed panic recovery, grounded on the
// teacher's diagnostics.SafeExecutor.
type SafeExecutor struct {
	monitor          *ResourceMonitor
	dumpWriter       *CrashDumpWriter
	preflightEnabled bool
}

// NewSafeExecutor creates a safe executor. monitor and dumpWriter may be nil
// to disable the corresponding check.
func NewSafeExecutor(monitor *ResourceMonitor, dumpWriter *CrashDumpWriter, preflightEnabled bool) *SafeExecutor {
	return &SafeExecutor{monitor: monitor, dumpWriter: dumpWriter, preflightEnabled: preflightEnabled}
}

// RunPreflight checks host CPU/memory pressure against the monitor's
// admission thresholds before a subprocess is started.
func (e *SafeExecutor) RunPreflight() PreflightResult {
	result := PreflightResult{OK: true}
	if !e.preflightEnabled || e.monitor == nil {
		return result
	}
	result.Snapshot = e.monitor.GetLatest()
	if ok, reason := e.monitor.AdmitWorker(); !ok {
		result.OK = false
		result.Errors = append(result.Errors, reason)
	}
	return result
}

// PipeSet holds a command's stdout/stderr pipes with their cleanup function.
type PipeSet struct {
	Stdout  io.ReadCloser
	Stderr  io.ReadCloser
	cleanup func()
	cleaned bool
}

// Cleanup closes the pipes. Safe to call multiple times.
func (p *PipeSet) Cleanup() {
	if p.cleaned {
		return
	}
	p.cleaned = true
	if p.cleanup != nil {
		p.cleanup()
	}
}

// PrepareCommand wires stdout/stderr pipes for cmd. The returned PipeSet's
// Cleanup must run even if cmd.Start fails.
func (e *SafeExecutor) PrepareCommand(cmd *exec.Cmd) (*PipeSet, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		_ = stdoutPipe.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	pipes := &PipeSet{Stdout: stdoutPipe, Stderr: stderrPipe}
	pipes.cleanup = func() {
		_ = stdoutPipe.Close()
		_ = stderrPipe.Close()
	}
	return pipes, nil
}

// WrapExecution runs fn with crash-dump-backed panic recovery: a panic is
// captured, dumped, and returned as an ordinary error instead of crashing
// the process.
func (e *SafeExecutor) WrapExecution(fn func() error) (err error) {
	if e.dumpWriter != nil {
		defer e.dumpWriter.RecoverAndReturn(&err)
	}
	return fn()
}
