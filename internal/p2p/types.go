package p2p

import (
	"errors"
	"fmt"
	"strings"
)

// NodeID is a hex-encoded identifier of a peer, as assigned by the
// transport.
type NodeID string

// Validate checks that the ID is a non-empty lowercase hex string.
func (id NodeID) Validate() error {
	if len(id) == 0 {
		return errors.New("empty node ID")
	}
	if strings.ToLower(string(id)) != string(id) {
		return fmt.Errorf("node ID %q must be lowercase", id)
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return fmt.Errorf("node ID %q contains invalid character %q", id, r)
		}
	}
	return nil
}

// Envelope contains a message with sender/receiver routing info. Message
// is a serialized, tagged message; framing is left to the transport.
type Envelope struct {
	From    NodeID // sender (empty if outbound)
	To      NodeID // receiver (empty if inbound)
	Message []byte // message payload
}

// PeerError is a peer error reported via Channel.SendError. What is done
// about the peer is up to the transport's penalty policy.
type PeerError struct {
	NodeID NodeID
	Err    error
	Fatal  bool
}

func (pe PeerError) Error() string { return fmt.Sprintf("peer=%q: %s", pe.NodeID, pe.Err.Error()) }
func (pe PeerError) Unwrap() error { return pe.Err }
