package cluster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeSpec identifies one member of the candidate cluster. HTTPAddr is
// the client-facing admin address, RPCAddr the inter-node address; both
// are handed verbatim to the service binary. Immutable once built.
type NodeSpec struct {
	ID       uint64 `yaml:"id" validate:"required,min=1"`
	HTTPAddr string `yaml:"http_addr" validate:"required,hostname_port"`
	RPCAddr  string `yaml:"rpc_addr" validate:"required,hostname_port"`
}

// Topology describes the whole candidate cluster plus the environment
// the nodes run in.
type Topology struct {
	// Nodes lists the cluster members in launch order. The first node
	// is the one that receives the cluster-init call.
	Nodes []NodeSpec `yaml:"nodes" validate:"required,min=1,dive"`

	// Binary is the path to the service executable under test.
	Binary string `yaml:"binary" validate:"required"`

	// DataDir is where the nodes run and persist their state files.
	DataDir string `yaml:"data_dir"`

	// LogDir receives one combined-output log file per node.
	LogDir string `yaml:"log_dir"`

	// Env holds diagnostic environment variables set for each spawned
	// node (scoped to the children, never to the harness itself).
	Env map[string]string `yaml:"env"`
}

// DefaultBinary is used when neither flag nor topology file names one.
const DefaultBinary = "./bin/kvnode"

// DefaultTopology returns the stock three-node local topology used for
// smoke runs: admin addresses 127.0.0.1:21001-21003, inter-node
// addresses 127.0.0.1:22001-22003.
func DefaultTopology() Topology {
	return Topology{
		Nodes: []NodeSpec{
			{ID: 1, HTTPAddr: "127.0.0.1:21001", RPCAddr: "127.0.0.1:22001"},
			{ID: 2, HTTPAddr: "127.0.0.1:21002", RPCAddr: "127.0.0.1:22002"},
			{ID: 3, HTTPAddr: "127.0.0.1:21003", RPCAddr: "127.0.0.1:22003"},
		},
		Binary:  DefaultBinary,
		DataDir: ".",
		LogDir:  ".",
		Env: map[string]string{
			"KV_LOG": "trace",
		},
	}
}

// LoadTopology reads a yaml topology file. Fields left empty in the
// file fall back to the defaults above. The result is not validated;
// callers run Validate once flag overrides have been applied.
func LoadTopology(path string) (Topology, error) {
	topo := DefaultTopology()

	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("read topology file: %w", err)
	}

	// Clear the fields whose defaults depend on what the file does or
	// does not say: nodes so a file that names nodes fully replaces
	// the default three rather than appending to them, and the
	// directories so an omitted log_dir is distinguishable from an
	// explicit "." and can follow data_dir.
	topo.Nodes = nil
	topo.DataDir = ""
	topo.LogDir = ""
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return Topology{}, fmt.Errorf("parse topology file %s: %w", path, err)
	}
	if len(topo.Nodes) == 0 {
		topo.Nodes = DefaultTopology().Nodes
	}
	if topo.DataDir == "" {
		topo.DataDir = "."
	}
	if topo.LogDir == "" {
		topo.LogDir = topo.DataDir
	}

	return topo, nil
}

// First returns the node that receives the cluster-init call.
func (t Topology) First() NodeSpec {
	return t.Nodes[0]
}
