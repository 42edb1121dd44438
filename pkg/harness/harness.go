// Package harness sequences a cluster smoke run: clean up stale state,
// launch every node in the topology, wait for readiness, then bootstrap
// the first node into a single-node cluster and report. The harness is
// strictly sequential; each phase finishes before the next begins.
package harness

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kvgrid/kvharness/pkg/cluster"
	"github.com/kvgrid/kvharness/pkg/launcher"
	"github.com/kvgrid/kvharness/pkg/reaper"
	"github.com/kvgrid/kvharness/pkg/rpcclient"
)

// Options are the timing and presentation knobs of a run.
type Options struct {
	// Settle is the pause after a node reports ready, letting its
	// internal startup finish. Accepting TCP connections precedes the
	// service being able to answer admin RPCs.
	Settle time.Duration

	// ReadyTimeout bounds the readiness poll per node.
	ReadyTimeout time.Duration

	// RPCTimeout bounds each admin request.
	RPCTimeout time.Duration

	// NoColor disables styled report output.
	NoColor bool

	// Out receives progress output and the run report; stdout when nil.
	Out io.Writer
}

// DefaultOptions returns the stock timing for local smoke runs.
func DefaultOptions() Options {
	return Options{
		Settle:       500 * time.Millisecond,
		ReadyTimeout: 15 * time.Second,
		RPCTimeout:   10 * time.Second,
	}
}

// Harness drives one smoke run over a fixed topology.
type Harness struct {
	topo cluster.Topology
	opts Options

	runID    string
	reaper   *reaper.Reaper
	launcher *launcher.Launcher
	client   *rpcclient.Client

	phase     Phase
	handles   []*launcher.Handle
	readiness map[uint64]time.Duration
	initResp  *rpcclient.Response

	out    io.Writer
	logger *log.Logger
}

// New builds a harness for the topology. The topology must already be
// validated.
func New(topo cluster.Topology, opts Options) *Harness {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Harness{
		topo:      topo,
		opts:      opts,
		runID:     uuid.NewString(),
		reaper:    reaper.New(filepath.Base(topo.Binary), topo.DataDir),
		launcher:  launcher.New(topo),
		client:    rpcclient.New(opts.RPCTimeout, out),
		phase:     PhaseIdle,
		readiness: make(map[uint64]time.Duration),
		out:       out,
		logger:    log.New(out, "", log.LstdFlags),
	}
}

// Phase reports where the run currently stands.
func (h *Harness) Phase() Phase {
	return h.phase
}

// Handles returns the ownership tokens of the launched nodes.
func (h *Harness) Handles() []*launcher.Handle {
	return h.handles
}

// InitResponse returns the cluster-init response once the run reached
// PhaseDone, nil before that.
func (h *Harness) InitResponse() *rpcclient.Response {
	return h.initResp
}

// Run executes the whole sequence. Cleanup problems never escalate;
// any launch or init failure aborts the run with an error naming the
// failed phase. Launched nodes are left running on both success and
// failure — only the next run's cleanup tears them down.
func (h *Harness) Run(ctx context.Context) error {
	h.logger.Printf("smoke run %s: %d nodes, binary %s", h.runID, len(h.topo.Nodes), h.topo.Binary)

	if err := h.verifyBinary(); err != nil {
		return h.fail(err)
	}

	h.phase = PhaseCleaning
	killed, removed := h.reaper.Cleanup(ctx)
	h.logger.Printf("cleanup: %d stale processes killed, %d state files removed", killed, removed)

	h.phase = PhaseLaunching
	for i, spec := range h.topo.Nodes {
		h.logger.Printf("[%d/%d] launching node %d (http %s, rpc %s)",
			i+1, len(h.topo.Nodes), spec.ID, spec.HTTPAddr, spec.RPCAddr)

		handle, err := h.launcher.Launch(spec)
		if err != nil {
			return h.fail(err)
		}
		h.handles = append(h.handles, handle)
		h.logger.Printf("  node %d running (pid %d, log %s)", spec.ID, handle.PID, handle.LogPath)

		start := time.Now()
		if err := h.launcher.WaitReady(ctx, spec, h.opts.ReadyTimeout); err != nil {
			return h.fail(err)
		}
		h.readiness[spec.ID] = time.Since(start)
		h.logger.Printf("  node %d accepting connections after %v", spec.ID, h.readiness[spec.ID].Round(time.Millisecond))

		h.settle(ctx)
	}

	// The last node accepted a connection, but its internal startup
	// may still be finishing; give the cluster one more settle before
	// asking it to do anything.
	h.phase = PhaseAwaitingReadiness
	h.settle(ctx)

	h.phase = PhaseInitializing
	first := h.topo.First()
	h.logger.Printf("initializing single-node cluster on node %d (%s)", first.ID, first.HTTPAddr)

	resp, err := InitCluster(ctx, h.client, first)
	if err != nil {
		return h.fail(err)
	}
	h.initResp = resp

	h.phase = PhaseDone
	for _, handle := range h.handles {
		handle.Release()
	}
	fmt.Fprint(h.out, h.report())
	return nil
}

// verifyBinary checks up front that the service executable exists, so
// a missing binary fails the run before cleanup touches anything.
func (h *Harness) verifyBinary() error {
	bin := h.topo.Binary
	if strings.ContainsRune(bin, os.PathSeparator) {
		if _, err := os.Stat(bin); err != nil {
			return fmt.Errorf("%w: %s: %v", launcher.ErrSpawnFailed, bin, err)
		}
		return nil
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%w: %s: %v", launcher.ErrSpawnFailed, bin, err)
	}
	return nil
}

func (h *Harness) settle(ctx context.Context) {
	if h.opts.Settle <= 0 {
		return
	}
	select {
	case <-time.After(h.opts.Settle):
	case <-ctx.Done():
	}
}

// fail records the phase that broke and returns the error annotated
// with it.
func (h *Harness) fail(err error) error {
	failedIn := h.phase
	h.phase = PhaseFailed
	h.logger.Printf("run %s failed during %s: %v", h.runID, failedIn, err)
	return fmt.Errorf("phase %s: %w", failedIn, err)
}
