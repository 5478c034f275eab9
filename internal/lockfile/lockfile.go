// Package lockfile serializes orchestration over a single plan.
//
// The lock is a file next to the state directory holding the owning process
// id. A lock whose recorded process no longer exists is stale; reclaiming it
// is an explicit caller decision, never silent.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another live process holds the lock.
var ErrHeld = errors.New("plan is locked by a running process")

// ErrStale is returned when the lock's recorded process is dead. The caller
// chooses whether to Reclaim.
var ErrStale = errors.New("plan lock is stale")

// Lock is an acquired plan lock.
type Lock struct {
	path string
}

// HeldError carries the pid found in a contended lock file.
type HeldError struct {
	PID   int
	Stale bool
}

func (e *HeldError) Error() string {
	if e.Stale {
		return fmt.Sprintf("plan lock held by dead process %d", e.PID)
	}
	return fmt.Sprintf("plan lock held by running process %d", e.PID)
}

func (e *HeldError) Unwrap() error {
	if e.Stale {
		return ErrStale
	}
	return ErrHeld
}

// Acquire takes the lock at path for this process. If the file exists, the
// recorded pid is liveness-probed: a live owner yields ErrHeld, a dead one
// ErrStale (both wrapped in *HeldError).
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		if _, werr := fmt.Fprintf(f, "%d\n", os.Getpid()); werr != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("write lock %s: %w", path, werr)
		}
		if cerr := f.Close(); cerr != nil {
			os.Remove(path)
			return nil, fmt.Errorf("write lock %s: %w", path, cerr)
		}
		return &Lock{path: path}, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}

	pid, perr := readPID(path)
	if perr != nil {
		// Unreadable or corrupt lock file: treat as stale with no pid.
		return nil, &HeldError{Stale: true}
	}
	if processAlive(pid) {
		return nil, &HeldError{PID: pid, Stale: false}
	}
	return nil, &HeldError{PID: pid, Stale: true}
}

// Reclaim removes a stale lock and retries acquisition. Only call after
// Acquire returned ErrStale and the user (or policy) chose to take over.
func Reclaim(path string) (*Lock, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reclaim lock %s: %w", path, err)
	}
	return Acquire(path)
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// processAlive signal-probes pid without delivering a signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
