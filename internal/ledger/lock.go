package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// appendLock is the lock file format used to serialize appenders to the
// same patch ledger across processes. Recorder instances share no in-process
// state, so the lock lives next to the ledger itself.
type appendLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

const lockRetryInterval = 25 * time.Millisecond

// acquireLock claims the patch ledger lock, waiting up to wait for a live
// holder to release it. Locks held by dead local processes are treated as
// stale, removed, and reclaimed.
func acquireLock(lockPath string, wait time.Duration) error {
	deadline := time.Now().Add(wait)

	for {
		if err := tryLock(lockPath); err == nil {
			return nil
		} else if time.Now().After(deadline) {
			return err
		}
		time.Sleep(lockRetryInterval)
	}
}

// tryLock claims the lock via exclusive file creation so two contending
// processes can never both believe they hold it. An existing lock held by a
// live process is an error; a stale one is removed and the next attempt
// claims it.
func tryLock(lockPath string) error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}

	lock := appendLock{
		Holder:    "coreguard-recorder",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		if existing, held := readHeldLock(lockPath); held {
			return fmt.Errorf("patch ledger is locked by %s (PID %d on %s, started %s)",
				existing.Holder, existing.PID, existing.Hostname,
				existing.StartedAt.Format(time.RFC3339))
		}
		// Stale or unreadable lock. Remove it and let the next attempt race
		// for the exclusive create.
		if rerr := os.Remove(lockPath); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("failed to remove stale ledger lock: %w", rerr)
		}
		return fmt.Errorf("ledger lock was stale")
	}
	if err != nil {
		return fmt.Errorf("failed to create ledger lock: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(lockPath)
		return fmt.Errorf("failed to write ledger lock: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("failed to write ledger lock: %w", err)
	}
	return nil
}

// readHeldLock reports whether the lock file at lockPath names a live holder
func readHeldLock(lockPath string) (appendLock, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return appendLock{}, false
	}
	var existing appendLock
	if json.Unmarshal(data, &existing) != nil {
		return appendLock{}, false
	}
	return existing, isProcessAlive(existing.PID, existing.Hostname)
}

// releaseLock removes the lock file. Call with defer after acquireLock.
func releaseLock(lockPath string) error {
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove ledger lock: %w", err)
	}
	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given
// hostname. Remote holders cannot be checked and are assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}

	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM means the process exists but belongs to another user. If we
	// cannot verify, assume alive.
	if err == syscall.EPERM {
		return true
	}

	return false
}
