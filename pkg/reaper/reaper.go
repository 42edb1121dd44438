// Package reaper clears the ground before a cluster launch: it kills
// stale instances of the service binary and deletes the persisted
// state they left behind. Every failure in here is logged and
// swallowed — cleanup must never abort a run. If stale state survives,
// the subsequent launch fails loudly on its own, which is an
// acceptable, visible failure.
package reaper

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"regexp"

	"github.com/shirou/gopsutil/v3/process"
)

// stateFilePattern matches the service's persisted-state naming
// convention: <host:port>.db. The store may be a file or a directory
// depending on the engine backing the node.
var stateFilePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+:[0-9]{1,5}\.db$`)

// IsStateFile reports whether name follows the persisted-state naming
// convention.
func IsStateFile(name string) bool {
	return stateFilePattern.MatchString(name)
}

// Reaper terminates stale service processes by executable name and
// removes their state files from a working directory.
type Reaper struct {
	// ExeName is the base name of the service executable to kill.
	ExeName string

	// Dir is the directory scanned for persisted-state files.
	Dir string
}

// New returns a Reaper for the given executable name and data directory.
func New(exeName, dir string) *Reaper {
	return &Reaper{ExeName: exeName, Dir: dir}
}

// Cleanup runs both passes: kill matching processes, then delete
// matching state files. It returns how many of each it handled.
// Finding nothing to do is success; so is failing to do it — errors
// are logged and never escalate, and running Cleanup twice in a row
// is safe.
func (r *Reaper) Cleanup(ctx context.Context) (killed, removed int) {
	killed = r.killStale(ctx)
	removed = r.removeStateFiles()
	return killed, removed
}

func (r *Reaper) killStale(ctx context.Context) int {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		log.Printf("Warning: could not enumerate processes: %v", err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name != r.ExeName {
			// Processes can exit mid-scan; a name lookup failure just
			// means this one is not ours to worry about.
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			log.Printf("Warning: failed to kill stale %s (pid %d): %v", r.ExeName, p.Pid, err)
			continue
		}
		log.Printf("Killed stale %s (pid %d)", r.ExeName, p.Pid)
		killed++
	}
	return killed
}

func (r *Reaper) removeStateFiles() int {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		log.Printf("Warning: could not scan %s for state files: %v", r.Dir, err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !IsStateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(r.Dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("Warning: failed to remove state file %s: %v", path, err)
			continue
		}
		log.Printf("Removed state file %s", path)
		removed++
	}
	return removed
}
