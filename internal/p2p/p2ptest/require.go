package p2ptest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cfx-go/cfxcore/internal/p2p"
)

// RequireEmpty requires that the given nodes have no pending inbound
// envelopes.
func RequireEmpty(t *testing.T, nodes ...*Node) {
	t.Helper()
	for _, node := range nodes {
		require.Empty(t, node.In, "node %v has pending envelopes", node.NodeID)
	}
}

// RequireError requires that a peer error is reported by the node within
// timeout and returns it.
func RequireError(t *testing.T, node *Node, timeout time.Duration) p2p.PeerError {
	t.Helper()
	select {
	case pe := <-node.Errors:
		return pe
	case <-time.After(timeout):
		require.FailNow(t, "no peer error reported", "node %v", node.NodeID)
	}
	return p2p.PeerError{}
}

// RequireNoError requires that the node reports no peer error within
// timeout.
func RequireNoError(t *testing.T, node *Node, timeout time.Duration) {
	t.Helper()
	select {
	case pe := <-node.Errors:
		require.FailNow(t, "unexpected peer error", "%v", pe)
	case <-time.After(timeout):
	}
}
