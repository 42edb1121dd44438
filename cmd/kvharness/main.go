// kvharness brings up a local candidate cluster of the replicated
// key-value service and smoke-tests it: kill stale nodes and their
// state files, launch the topology, wait for every node to accept
// connections, then bootstrap node 1 into a single-node cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kvgrid/kvharness/pkg/cluster"
	"github.com/kvgrid/kvharness/pkg/harness"
)

const version = "1.0.0"

func main() {
	var (
		clusterFile  = flag.String("cluster", "", "Cluster topology file (yaml); built-in 3-node topology when empty")
		binary       = flag.String("binary", "", "Path to the service binary (overrides the topology file)")
		dataDir      = flag.String("data-dir", "", "Working directory for node state files (overrides the topology file)")
		logDir       = flag.String("log-dir", "", "Directory for per-node log files (overrides the topology file)")
		readyTimeout = flag.Duration("ready-timeout", 15*time.Second, "Per-node readiness poll timeout")
		settle       = flag.Duration("settle", 500*time.Millisecond, "Pause after each node becomes ready")
		rpcTimeout   = flag.Duration("rpc-timeout", 10*time.Second, "Admin RPC timeout")
		noColor      = flag.Bool("no-color", false, "Disable styled report output")
		showVersion  = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("kvharness v%s\n", version)
		return
	}

	topo, err := loadTopology(*clusterFile)
	if err != nil {
		log.Fatalf("Failed to load topology: %v", err)
	}
	if *binary != "" {
		topo.Binary = *binary
	}
	if *dataDir != "" {
		topo.DataDir = *dataDir
	}
	if *logDir != "" {
		topo.LogDir = *logDir
	}

	if err := topo.Validate(); err != nil {
		log.Fatalf("Invalid topology: %v", err)
	}

	opts := harness.DefaultOptions()
	opts.Settle = *settle
	opts.ReadyTimeout = *readyTimeout
	opts.RPCTimeout = *rpcTimeout
	opts.NoColor = *noColor

	h := harness.New(topo, opts)
	if err := h.Run(context.Background()); err != nil {
		log.Printf("Smoke run failed: %v", err)
		os.Exit(1)
	}
}

func loadTopology(path string) (cluster.Topology, error) {
	if path == "" {
		return cluster.DefaultTopology(), nil
	}
	return cluster.LoadTopology(path)
}
