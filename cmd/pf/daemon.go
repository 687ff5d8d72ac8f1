package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/lockfile"
)

// lockDir is where daemon lock files live: the project directory, or the
// database's directory when running without one.
func lockDir() string {
	if dir := config.ProjectDir(); dir != "" {
		return dir
	}
	if path, err := resolveDBPath(); err == nil {
		return filepath.Dir(path)
	}
	dir, _ := os.Getwd()
	return dir
}

// acquireDaemonLock takes the single-instance lock for command or exits.
func acquireDaemonLock(command string) *lockfile.Lock {
	db, _ := resolveDBPath()
	lock, err := lockfile.Acquire(lockDir(), lockfile.LockInfo{
		Command:   command,
		Database:  db,
		Version:   Version,
		StartedAt: time.Now(),
	})
	if err != nil {
		FatalErrorWithHint(err.Error(), fmt.Sprintf("Stop the running 'pf %s' first; 'pf %s --status' shows who holds the lock", command, command))
	}
	return lock
}

// printDaemonStatus reports whether command's daemon is running.
func printDaemonStatus(command string) {
	held, info := lockfile.Held(lockDir(), command)
	if jsonOutput {
		outputJSON(map[string]interface{}{"running": held, "lock": info})
		return
	}
	if !held {
		fmt.Printf("pf %s is not running\n", command)
		return
	}
	if info == nil {
		fmt.Printf("pf %s is running\n", command)
		return
	}
	fmt.Printf("pf %s is running as pid %d since %s (version %s)\n",
		command, info.PID, info.StartedAt.Local().Format(time.RFC3339), info.Version)
}
