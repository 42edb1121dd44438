package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/kvgrid/kvharness/pkg/cluster"
	"github.com/kvgrid/kvharness/pkg/rpcclient"
)

// InitPath is the admin endpoint that promotes an uninitialized node
// into the sole member of a new cluster.
const InitPath = "/cluster/init"

// ErrNotReachable means the cluster-init endpoint could not be
// reached. It is the harness's sole "did the cluster come up" signal
// and is fatal for the run.
var ErrNotReachable = errors.New("cluster init endpoint not reachable")

// InitCluster promotes the given node into a single-node cluster by
// posting an empty JSON object to its admin address. An HTTP-level
// response counts as success; this is a smoke test, so the payload is
// surfaced for inspection rather than validated. A non-JSON body is
// tolerated via the raw-text fallback.
func InitCluster(ctx context.Context, client *rpcclient.Client, node cluster.NodeSpec) (*rpcclient.Response, error) {
	resp, err := client.Post(ctx, node.HTTPAddr, InitPath, map[string]any{})
	if err != nil {
		if resp != nil && errors.Is(err, rpcclient.ErrMalformedResponse) {
			return resp, nil
		}
		return nil, fmt.Errorf("%w: node %d (%s): %v", ErrNotReachable, node.ID, node.HTTPAddr, err)
	}
	return resp, nil
}
