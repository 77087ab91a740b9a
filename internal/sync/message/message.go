package message

import (
	"fmt"
	"time"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/types"
)

// MsgID is the tag byte every serialized message starts with.
type MsgID uint8

const (
	GetBlockHeadersID MsgID = 0x01
	BlockHeadersID    MsgID = 0x02
	GetBlocksID       MsgID = 0x03
	BlocksID          MsgID = 0x04

	GetSnapshotManifestID MsgID = 0x40
	SnapshotManifestID    MsgID = 0x41
	GetSnapshotChunkID    MsgID = 0x42
	SnapshotChunkID       MsgID = 0x43
)

func (id MsgID) String() string {
	switch id {
	case GetBlockHeadersID:
		return "GetBlockHeaders"
	case BlockHeadersID:
		return "BlockHeaders"
	case GetBlocksID:
		return "GetBlocks"
	case BlocksID:
		return "Blocks"
	case GetSnapshotManifestID:
		return "GetSnapshotManifest"
	case SnapshotManifestID:
		return "SnapshotManifest"
	case GetSnapshotChunkID:
		return "GetSnapshotChunk"
	case SnapshotChunkID:
		return "SnapshotChunk"
	default:
		return fmt.Sprintf("MsgID(%#x)", uint8(id))
	}
}

var responseKinds = map[MsgID]MsgID{
	GetBlockHeadersID:     BlockHeadersID,
	GetBlocksID:           BlocksID,
	GetSnapshotManifestID: SnapshotManifestID,
	GetSnapshotChunkID:    SnapshotChunkID,
}

// ResponseKind returns the kind of message that answers a request of kind
// id. ok is false if id is not a request kind.
func ResponseKind(id MsgID) (kind MsgID, ok bool) {
	kind, ok = responseKinds[id]
	return kind, ok
}

// IsRequest reports whether id is a request kind.
func IsRequest(id MsgID) bool {
	_, ok := responseKinds[id]
	return ok
}

// Message is a sync protocol message. The set of messages is closed: every
// message is one of the types in this package.
type Message interface {
	MsgID() MsgID
	// GetRequestID returns the id correlating a response with its request.
	GetRequestID() uint64

	// wire returns the registered message to serialize.
	wire() Message
}

// Key identifies a resource that can be requested. While a request for a
// key is outstanding no other request for it is sent.
type Key struct {
	Kind MsgID
	Hash types.Hash
}

func (k Key) String() string {
	return fmt.Sprintf("%v/%x", k.Kind, k.Hash[:4])
}

// Request is a message sent to a peer that expects a response.
type Request interface {
	Message

	SetRequestID(id uint64)

	// Timeout is how long to wait for the response.
	Timeout(cfg *config.SyncConfig) time.Duration
	// MaxResends is how often the request is sent again after timing out
	// before it is abandoned.
	MaxResends(cfg *config.SyncConfig) int

	// InflightKeys returns the resources the request fetches.
	InflightKeys() []Key
	// Narrow restricts the request to the given subset of its keys. Keys
	// that are already being fetched by another request are dropped this
	// way.
	Narrow(keys []Key)
	// IsEmpty returns true if there is nothing left to fetch.
	IsEmpty() bool

	// Resend returns a copy of the request for another attempt, with a
	// zero request id. It returns nil if the request must not be resent.
	Resend() Request
}

func keySet(keys []Key) map[Key]struct{} {
	set := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func hashKeys(kind MsgID, hashes []types.Hash) []Key {
	keys := make([]Key, len(hashes))
	for i, h := range hashes {
		keys[i] = Key{Kind: kind, Hash: h}
	}
	return keys
}

func narrowHashes(kind MsgID, hashes []types.Hash, keys []Key) []types.Hash {
	keep := keySet(keys)
	narrowed := make([]types.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := keep[Key{Kind: kind, Hash: h}]; ok {
			narrowed = append(narrowed, h)
		}
	}
	return narrowed
}
