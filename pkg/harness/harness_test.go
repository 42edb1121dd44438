package harness

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvgrid/kvharness/pkg/cluster"
	"github.com/kvgrid/kvharness/pkg/launcher"
	"github.com/kvgrid/kvharness/pkg/rpcclient"
)

func fakeBinary(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "kvnode-smoke-fake")
	script := "#!/bin/sh\nexec sleep 10\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func addrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

// listenAddr opens a listener the test keeps serving so readiness
// probes pass, and returns its address.
func listenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func testOptions(out io.Writer) Options {
	return Options{
		Settle:       10 * time.Millisecond,
		ReadyTimeout: 2 * time.Second,
		RPCTimeout:   2 * time.Second,
		NoColor:      true,
		Out:          out,
	}
}

func TestInitClusterPostsOnce(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		gotPath = r.URL.Path
		gotMethod = r.Method
		mu.Unlock()
		w.Write([]byte(`{"membership":{"voters":[[1]]}}`))
	}))
	defer srv.Close()

	client := rpcclient.New(2*time.Second, io.Discard)
	node := cluster.NodeSpec{ID: 1, HTTPAddr: addrOf(srv), RPCAddr: "127.0.0.1:22001"}

	resp, err := InitCluster(context.Background(), client, node)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	mu.Lock()
	assert.Equal(t, "/cluster/init", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	mu.Unlock()
	assert.True(t, resp.StatusAvailable)
}

func TestInitClusterToleratesNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := rpcclient.New(2*time.Second, io.Discard)
	node := cluster.NodeSpec{ID: 1, HTTPAddr: addrOf(srv), RPCAddr: "127.0.0.1:22001"}

	resp, err := InitCluster(context.Background(), client, node)
	require.NoError(t, err)
	assert.True(t, resp.StatusAvailable)
	assert.Equal(t, "ok", resp.Body)
}

func TestInitClusterNotReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := rpcclient.New(time.Second, io.Discard)
	node := cluster.NodeSpec{ID: 1, HTTPAddr: addr, RPCAddr: "127.0.0.1:22001"}

	_, err = InitCluster(context.Background(), client, node)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReachable)
}

// TestRunReachesDone drives the full sequence with a stand-in binary:
// the nodes' admin addresses point at listeners the test controls, so
// readiness passes, and node 1's address is an httptest server that
// answers the init call.
func TestRunReachesDone(t *testing.T) {
	dir := t.TempDir()

	var initCalls atomic.Int32
	initSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == InitPath {
			initCalls.Add(1)
		}
		w.Write([]byte(`{}`))
	}))
	defer initSrv.Close()

	topo := cluster.Topology{
		Nodes: []cluster.NodeSpec{
			{ID: 1, HTTPAddr: addrOf(initSrv), RPCAddr: "127.0.0.1:29001"},
			{ID: 2, HTTPAddr: listenAddr(t), RPCAddr: "127.0.0.1:29002"},
			{ID: 3, HTTPAddr: listenAddr(t), RPCAddr: "127.0.0.1:29003"},
		},
		Binary:  fakeBinary(t, dir),
		DataDir: dir,
		LogDir:  dir,
		Env:     map[string]string{"KV_LOG": "trace"},
	}
	require.NoError(t, topo.Validate())

	var out bytes.Buffer
	h := New(topo, testOptions(&out))

	require.NoError(t, h.Run(context.Background()))

	assert.Equal(t, PhaseDone, h.Phase())
	assert.Equal(t, int32(1), initCalls.Load(), "init must hit exactly once")

	// One handle and one log file per node.
	require.Len(t, h.Handles(), 3)
	for _, id := range []uint64{1, 2, 3} {
		assert.FileExists(t, filepath.Join(dir, launcher.LogFileName(id)))
	}

	resp := h.InitResponse()
	require.NotNil(t, resp)
	assert.True(t, resp.StatusAvailable)

	assert.Contains(t, out.String(), "CLUSTER UP")
}

func TestRunFailsBeforeRPCWhenBinaryMissing(t *testing.T) {
	dir := t.TempDir()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	topo := cluster.Topology{
		Nodes: []cluster.NodeSpec{
			{ID: 1, HTTPAddr: addrOf(srv), RPCAddr: "127.0.0.1:29001"},
		},
		Binary:  filepath.Join(dir, "no-such-binary"),
		DataDir: dir,
		LogDir:  dir,
	}

	var out bytes.Buffer
	h := New(topo, testOptions(&out))

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, launcher.ErrSpawnFailed)
	assert.Equal(t, PhaseFailed, h.Phase())
	assert.Equal(t, int32(0), calls.Load(), "no RPC may be attempted")
	assert.Empty(t, h.Handles())
}

func TestRunFailsWhenInitEndpointUnreachable(t *testing.T) {
	dir := t.TempDir()

	// Node 1 accepts TCP connections (readiness passes) but resets
	// every connection without speaking HTTP, standing in for a node
	// that crashed between accept and serve.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	topo := cluster.Topology{
		Nodes: []cluster.NodeSpec{
			{ID: 1, HTTPAddr: ln.Addr().String(), RPCAddr: "127.0.0.1:29001"},
		},
		Binary:  fakeBinary(t, dir),
		DataDir: dir,
		LogDir:  dir,
	}

	var out bytes.Buffer
	h := New(topo, testOptions(&out))

	err = h.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReachable)
	assert.Equal(t, PhaseFailed, h.Phase())
	assert.Contains(t, err.Error(), "initializing")
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseIdle:              "idle",
		PhaseCleaning:          "cleaning",
		PhaseLaunching:         "launching",
		PhaseAwaitingReadiness: "awaiting-readiness",
		PhaseInitializing:      "initializing",
		PhaseDone:              "done",
		PhaseFailed:            "failed",
		Phase(99):              "unknown",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
