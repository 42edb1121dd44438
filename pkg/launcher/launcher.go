// Package launcher spawns service node processes and waits for them to
// start accepting connections. Launched nodes are detached: they are
// expected to outlive the harness and are only ever torn down by the
// reaper on a subsequent run.
package launcher

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kvgrid/kvharness/pkg/cluster"
)

const (
	pollInterval = 100 * time.Millisecond
	dialTimeout  = 250 * time.Millisecond
)

// Launcher starts service node processes from their NodeSpecs.
type Launcher struct {
	// Binary is the path to the service executable.
	Binary string

	// Dir is the working directory for spawned nodes; their state
	// files land here.
	Dir string

	// LogDir receives one combined-output log file per node.
	LogDir string

	// Env holds diagnostic environment variables added to each child's
	// environment. The harness's own environment is never mutated.
	Env map[string]string
}

// Handle is the ownership token for a spawned node process. The
// harness holds one per node for the duration of the run but does not
// terminate the process on exit.
type Handle struct {
	Spec      cluster.NodeSpec
	PID       int
	LogPath   string
	StartedAt time.Time

	proc *os.Process
	logf *os.File
}

// Release detaches the child so it survives the harness, and closes
// the harness's copy of the log file descriptor (the child keeps its
// own).
func (h *Handle) Release() {
	if h.logf != nil {
		h.logf.Close()
		h.logf = nil
	}
	if h.proc != nil {
		h.proc.Release()
		h.proc = nil
	}
}

// New returns a Launcher for the given topology.
func New(topo cluster.Topology) *Launcher {
	return &Launcher{
		Binary: topo.Binary,
		Dir:    topo.DataDir,
		LogDir: topo.LogDir,
		Env:    topo.Env,
	}
}

// Launch spawns the service binary for one node and returns as soon as
// the process has started; readiness is the caller's concern (see
// WaitReady). The child's stdout and stderr both go to node-<id>.log
// in LogDir. A spawn failure (binary missing, not executable) is
// fatal to the whole run and wraps ErrSpawnFailed.
func (l *Launcher) Launch(spec cluster.NodeSpec) (*Handle, error) {
	logPath := filepath.Join(l.LogDir, LogFileName(spec.ID))
	logf, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create node log %s: %w", logPath, err)
	}

	cmd := exec.Command(l.Binary,
		"--id", strconv.FormatUint(spec.ID, 10),
		"--http-addr", spec.HTTPAddr,
		"--rpc-addr", spec.RPCAddr,
	)
	cmd.Dir = l.Dir
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Env = childEnv(l.Env)

	if err := cmd.Start(); err != nil {
		logf.Close()
		os.Remove(logPath)
		return nil, fmt.Errorf("%w: node %d (%s): %v", ErrSpawnFailed, spec.ID, l.Binary, err)
	}

	return &Handle{
		Spec:      spec,
		PID:       cmd.Process.Pid,
		LogPath:   logPath,
		StartedAt: time.Now(),
		proc:      cmd.Process,
		logf:      logf,
	}, nil
}

// WaitReady polls the node's admin address until it accepts a TCP
// connection or the timeout elapses. A timeout wraps ErrNotReady.
func (l *Launcher) WaitReady(ctx context.Context, spec cluster.NodeSpec, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", spec.HTTPAddr, dialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: node %d (%s) after %v", ErrNotReady, spec.ID, spec.HTTPAddr, timeout)
		case <-ticker.C:
		}
	}
}

// LogFileName returns the deterministic per-node log file name.
func LogFileName(id uint64) string {
	return fmt.Sprintf("node-%d.log", id)
}

// childEnv builds the child process environment: the harness's own
// environment plus the configured diagnostic variables.
func childEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
