// Package lockfile guards single-instance daemons (pf watch, pf serve) with
// an flock'd file in the project directory.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock already held by another process")

// LockInfo is written into the lock file so `pf watch --status` and error
// messages can say who holds it.
type LockInfo struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Database  string    `json:"database,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held lock. Release it when the daemon exits.
type Lock struct {
	f    *os.File
	path string
}

// FileName returns the lock file name for a daemon command.
func FileName(command string) string {
	return command + ".lock"
}

// Acquire takes the lock for info.Command in dir without blocking. When the
// lock is held elsewhere the error wraps ErrLocked and names the holder.
func Acquire(dir string, info LockInfo) (*Lock, error) {
	if info.Command == "" {
		return nil, fmt.Errorf("lockfile: command is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("lockfile: %w", err)
	}
	path := filepath.Join(dir, FileName(info.Command))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600) // #nosec G304 - path built from project dir
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}
	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			if held, rerr := ReadLockInfo(dir, info.Command); rerr == nil && held.PID > 0 {
				return nil, fmt.Errorf("%w: pf %s already running as pid %d since %s",
					ErrLocked, info.Command, held.PID, held.StartedAt.Format(time.RFC3339))
			}
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lockfile: lock %s: %w", path, err)
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	data, err := json.Marshal(info)
	if err == nil {
		if err = f.Truncate(0); err == nil {
			_, err = f.WriteAt(data, 0)
		}
	}
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: write %s: %w", path, err)
	}
	return &Lock{f: f, path: path}, nil
}

// Release unlocks and removes the lock file. Safe to call on nil.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	_ = os.Remove(l.path)
	_ = flockUnlock(f)
	return f.Close()
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// ReadLockInfo reads the holder details for command's lock in dir.
func ReadLockInfo(dir, command string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName(command))) // #nosec G304 - path built from project dir
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("lockfile: parse %s lock: %w", command, err)
	}
	return &info, nil
}

// Held reports whether some process currently holds command's lock in dir,
// returning the holder's details when it does. A stale file left by a
// crashed process does not count.
func Held(dir, command string) (bool, *LockInfo) {
	path := filepath.Join(dir, FileName(command))
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec G304 - path built from project dir
	if err != nil {
		return false, nil
	}
	defer f.Close()
	if err := flockExclusive(f); err != nil {
		info, _ := ReadLockInfo(dir, command)
		return errors.Is(err, ErrLocked), info
	}
	_ = flockUnlock(f)
	return false, nil
}
