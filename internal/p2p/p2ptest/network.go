package p2ptest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cfx-go/cfxcore/internal/p2p"
)

// Network is a set of nodes that exchange envelopes in memory.
type Network struct {
	mtx     sync.RWMutex
	nodes   map[p2p.NodeID]*Node
	dropped map[p2p.NodeID]bool
}

// Node is a member of a Network. Outbound envelopes sent on Channel are
// delivered to the inbound queue of the addressee with From set.
type Node struct {
	NodeID  p2p.NodeID
	Channel *p2p.Channel

	In     chan p2p.Envelope
	Out    chan p2p.Envelope
	Errors chan p2p.PeerError
}

// MakeNetwork creates numNodes connected nodes. Routing stops when ctx
// ends.
func MakeNetwork(ctx context.Context, t *testing.T, numNodes int) *Network {
	t.Helper()
	network := &Network{
		nodes:   make(map[p2p.NodeID]*Node, numNodes),
		dropped: make(map[p2p.NodeID]bool),
	}
	for i := 0; i < numNodes; i++ {
		id := p2p.NodeID(fmt.Sprintf("%040x", i+1))
		node := &Node{
			NodeID: id,
			In:     make(chan p2p.Envelope, 64),
			Out:    make(chan p2p.Envelope, 64),
			Errors: make(chan p2p.PeerError, 64),
		}
		node.Channel = p2p.NewChannel(string(id), node.In, node.Out, node.Errors)
		network.nodes[id] = node
	}

	for _, node := range network.nodes {
		go network.route(ctx, node)
	}
	return network
}

func (n *Network) route(ctx context.Context, from *Node) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-from.Out:
			n.mtx.RLock()
			to, ok := n.nodes[envelope.To]
			dropped := n.dropped[from.NodeID]
			n.mtx.RUnlock()
			if !ok || dropped {
				continue
			}

			envelope.From = from.NodeID
			envelope.To = ""
			select {
			case <-ctx.Done():
				return
			case to.In <- envelope:
			}
		}
	}
}

// NodeIDs returns the IDs of all nodes in the network.
func (n *Network) NodeIDs() []p2p.NodeID {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	ids := make([]p2p.NodeID, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Node returns the node with the given ID.
func (n *Network) Node(id p2p.NodeID) *Node {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	return n.nodes[id]
}

// Silence makes the network drop everything the node sends, as if it had
// stopped responding.
func (n *Network) Silence(id p2p.NodeID) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.dropped[id] = true
}
