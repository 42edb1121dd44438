package cluster

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance
var validate = validator.New()

// Validate checks the topology for structural problems: missing
// fields, malformed addresses, and duplicate IDs or addresses. Address
// collisions are checked across both the admin and inter-node sets,
// since two listeners can never share one host:port regardless of role.
func (t Topology) Validate() error {
	if len(t.Nodes) == 0 {
		return ErrNoNodes
	}
	if t.Binary == "" {
		return ErrNoBinary
	}

	if err := validate.Struct(t); err != nil {
		return formatValidationError(err)
	}

	seenIDs := make(map[uint64]bool, len(t.Nodes))
	seenAddrs := make(map[string]bool, 2*len(t.Nodes))
	for _, n := range t.Nodes {
		if seenIDs[n.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateNodeID, n.ID)
		}
		seenIDs[n.ID] = true

		for _, addr := range []string{n.HTTPAddr, n.RPCAddr} {
			if seenAddrs[addr] {
				return fmt.Errorf("%w: %s", ErrDuplicateAddress, addr)
			}
			seenAddrs[addr] = true
		}
	}

	return nil
}

// formatValidationError turns validator's error chain into a single
// readable message naming the first offending field.
func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s: field is required", fe.Namespace())
	case "min":
		return fmt.Errorf("%s: must be at least %s", fe.Namespace(), fe.Param())
	case "hostname_port":
		return fmt.Errorf("%s: %q is not a valid host:port", fe.Namespace(), fe.Value())
	default:
		return fmt.Errorf("%s: failed %s validation", fe.Namespace(), fe.Tag())
	}
}
