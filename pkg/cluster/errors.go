package cluster

import "errors"

// Topology validation errors
var (
	ErrNoNodes          = errors.New("topology must name at least one node")
	ErrNoBinary         = errors.New("service binary path cannot be empty")
	ErrDuplicateNodeID  = errors.New("duplicate node ID in topology")
	ErrDuplicateAddress = errors.New("duplicate address in topology")
)
