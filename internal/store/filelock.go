package store

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// lockPollInterval and lockTimeout implement spec §4.1's bounded
// poll-then-timeout locking policy, replacing the teacher's 1-hour TTL
// reclaim-only lock (internal/adapters/state.JSONStateManager.AcquireLock).
const (
	lockPollInterval = 50 * time.Millisecond
	lockTimeout      = 5 * time.Second
)

// lockInfo is written into the lockfile so a stuck lock can be diagnosed.
type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// fileLock is an exclusive, cross-process lock backed by an
// O_CREATE|O_EXCL sentinel file. Unlike the teacher's reclaim-after-TTL
// policy, it never reclaims on its own: a caller that cannot acquire the
// lock within lockTimeout gets core.ErrLockTimeout and must retry later.
type fileLock struct {
	path string
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path + ".lock"}
}

// Acquire polls every lockPollInterval until the lockfile can be created or
// ctx/lockTimeout expires.
func (l *fileLock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(lockTimeout)
	for {
		if err := l.tryAcquire(); err == nil {
			return nil
		} else if !os.IsExist(err) {
			return err
		}
		if time.Now().After(deadline) {
			return core.ErrLockTimeout(l.path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *fileLock) tryAcquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	info := lockInfo{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now()}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// Release removes the lockfile. Safe to call even if the lock was never
// acquired (no-op on a missing file).
func (l *fileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
