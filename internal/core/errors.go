package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions, matching the
// error taxonomy the engine exposes to callers and to the Gateway's HTTP
// status translation.
type ErrorCategory string

const (
	ErrCatLockTimeout          ErrorCategory = "lock_timeout"
	ErrCatNotFound             ErrorCategory = "not_found"
	ErrCatConflict             ErrorCategory = "conflict"
	ErrCatGit                  ErrorCategory = "git_error"
	ErrCatWorktreeCorruption   ErrorCategory = "worktree_corruption"
	ErrCatContainerStart       ErrorCategory = "container_start_error"
	ErrCatAgentFailure         ErrorCategory = "agent_failure"
	ErrCatTestFailure          ErrorCategory = "test_failure"
	ErrCatMergeConflict        ErrorCategory = "merge_conflict"
	ErrCatTimeout              ErrorCategory = "timeout"
	ErrCatCallbackUnauthorized ErrorCategory = "callback_unauthorized"
	ErrCatValidation           ErrorCategory = "validation"
	ErrCatCancelled            ErrorCategory = "cancelled"
	ErrCatInternal             ErrorCategory = "internal"
)

// DomainError is a structured error carrying the category, a short machine
// code, and a human-readable message through the engine to the Gateway.
type DomainError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	Details  map[string]any
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && (t.Code == "" || e.Code == t.Code)
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail attaches contextual information, e.g. stderr excerpts.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newErr(cat ErrorCategory, code, msg string) *DomainError {
	return &DomainError{Category: cat, Code: code, Message: msg}
}

// ErrLockTimeout reports that a Store file lock could not be acquired
// within the bounded wait (spec §4.1: 5s).
func ErrLockTimeout(path string) *DomainError {
	return newErr(ErrCatLockTimeout, "LOCK_TIMEOUT", fmt.Sprintf("timed out waiting for lock on %s", path))
}

// ErrNotFound reports an unknown project/task/worker id.
func ErrNotFound(resource, id string) *DomainError {
	return newErr(ErrCatNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id))
}

// ErrConflict reports an invalid state transition attempt; the subject is
// left untouched.
func ErrConflict(code, msg string) *DomainError {
	return newErr(ErrCatConflict, code, msg)
}

// ErrGit reports a failed git subprocess invocation with its stderr excerpt.
func ErrGit(op, stderrExcerpt string) *DomainError {
	return newErr(ErrCatGit, "GIT_ERROR", fmt.Sprintf("git %s failed", op)).WithDetail("stderr", stderrExcerpt)
}

// ErrWorktreeCorruption reports that a worktree's .git pointer file was
// tampered with by the agent.
func ErrWorktreeCorruption(reason string) *DomainError {
	return newErr(ErrCatWorktreeCorruption, "WORKTREE_CORRUPTION", reason)
}

// ErrContainerStart reports a failed container launch.
func ErrContainerStart(msg string) *DomainError {
	return newErr(ErrCatContainerStart, "CONTAINER_START_ERROR", msg)
}

// ErrAgentFailure reports a non-zero agent exit.
func ErrAgentFailure(msg string) *DomainError {
	return newErr(ErrCatAgentFailure, "AGENT_FAILURE", msg)
}

// ErrExecution reports a CLI agent subprocess that could not run to
// completion — preflight refusal, a network failure reaching a hosted
// model, or any other execution-layer problem distinct from the agent
// exiting non-zero on its own.
func ErrExecution(code, msg string) *DomainError {
	return newErr(ErrCatAgentFailure, code, msg)
}

// ErrRateLimit reports an agent CLI reporting it was rate-limited by its
// upstream model provider.
func ErrRateLimit(msg string) *DomainError {
	return newErr(ErrCatAgentFailure, "RATE_LIMITED", msg)
}

// ErrAuth reports an agent CLI reporting an authentication/authorization
// failure against its upstream model provider.
func ErrAuth(msg string) *DomainError {
	return newErr(ErrCatAgentFailure, "AUTH_ERROR", msg)
}

// ErrCancelled reports an operation stopped because its context was
// cancelled by the caller, not because of a failure.
func ErrCancelled(msg string) *DomainError {
	return newErr(ErrCatCancelled, "CANCELLED", msg)
}

// ErrTestFailure reports exhausted fix-and-retest attempts.
func ErrTestFailure(msg string) *DomainError {
	return newErr(ErrCatTestFailure, "TEST_FAILURE", msg)
}

// ErrMergeConflict reports a conflict merging the task branch into base;
// recoverable only by a human, via merge_pending.
func ErrMergeConflict(msg string) *DomainError {
	return newErr(ErrCatMergeConflict, "MERGE_CONFLICT", msg)
}

// ErrTimeout reports a soft timeout being exceeded.
func ErrTimeout(minutes int) *DomainError {
	return newErr(ErrCatTimeout, "TIMEOUT", fmt.Sprintf("exceeded %d minutes", minutes))
}

// ErrCallbackUnauthorized reports a status callback from outside the
// trusted loopback/container-bridge network.
func ErrCallbackUnauthorized(remoteAddr string) *DomainError {
	return newErr(ErrCatCallbackUnauthorized, "CALLBACK_UNAUTHORIZED", "status callback rejected").WithDetail("remote_addr", remoteAddr)
}

// ErrValidation reports invalid caller input.
func ErrValidation(code, msg string) *DomainError {
	return newErr(ErrCatValidation, code, msg)
}

// Category extracts the DomainError category, defaulting to internal for
// plain errors.
func Category(err error) ErrorCategory {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Category
	}
	return ErrCatInternal
}

// IsCategory reports whether err is a DomainError of the given category.
func IsCategory(err error, cat ErrorCategory) bool {
	return Category(err) == cat
}
