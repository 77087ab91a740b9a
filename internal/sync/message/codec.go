package message

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/cfx-go/cfxcore/types"
)

// MaxHashesPerMessage bounds the number of items in any single message.
const MaxHashesPerMessage = 4096

// ErrUnknownMessage is returned when decoding a message with an
// unregistered tag.
var ErrUnknownMessage = errors.New("unknown message type")

// registry maps every tag to a constructor for its message.
var registry = map[MsgID]func() Message{
	GetBlockHeadersID:     func() Message { return new(GetBlockHeaders) },
	BlockHeadersID:        func() Message { return new(BlockHeaders) },
	GetBlocksID:           func() Message { return new(GetBlocks) },
	BlocksID:              func() Message { return new(Blocks) },
	GetSnapshotManifestID: func() Message { return new(GetSnapshotManifest) },
	SnapshotManifestID:    func() Message { return new(SnapshotManifest) },
	GetSnapshotChunkID:    func() Message { return new(GetSnapshotChunk) },
	SnapshotChunkID:       func() Message { return new(SnapshotChunk) },
}

// Encode serializes msg as its tag byte followed by the rlp list of its
// fields.
func Encode(msg Message) ([]byte, error) {
	body, err := rlp.EncodeToBytes(msg.wire())
	if err != nil {
		return nil, fmt.Errorf("unable to encode %v: %w", msg.MsgID(), err)
	}
	bz := make([]byte, 0, len(body)+1)
	bz = append(bz, byte(msg.MsgID()))
	return append(bz, body...), nil
}

// Decode parses a message produced by Encode.
func Decode(bz []byte) (Message, error) {
	if len(bz) == 0 {
		return nil, errors.New("empty message")
	}
	newMsg, ok := registry[MsgID(bz[0])]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownMessage, bz[0])
	}
	msg := newMsg()
	if err := rlp.DecodeBytes(bz[1:], msg); err != nil {
		return nil, fmt.Errorf("unable to decode %v: %w", msg.MsgID(), err)
	}
	if d, ok := msg.(interface{ afterDecode() }); ok {
		d.afterDecode()
	}
	return msg, nil
}

// Validate checks the invariants of a decoded message.
func Validate(msg Message) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}
	if msg.GetRequestID() == 0 {
		return errors.New("request id cannot be 0")
	}
	switch msg := msg.wire().(type) {
	case *GetBlockHeaders:
		return validateHashList(msg.Hashes)
	case *GetBlocks:
		return validateHashList(msg.Hashes)
	case *BlockHeaders:
		if len(msg.Headers) > MaxHashesPerMessage {
			return fmt.Errorf("too many headers: %d", len(msg.Headers))
		}
	case *Blocks:
		if len(msg.Blocks) > MaxHashesPerMessage {
			return fmt.Errorf("too many blocks: %d", len(msg.Blocks))
		}
		for _, b := range msg.Blocks {
			if err := b.ValidateBasic(); err != nil {
				return err
			}
		}
	case *GetSnapshotManifest:
		if msg.Checkpoint == (types.Hash{}) {
			return errors.New("checkpoint cannot be empty")
		}
	case *SnapshotManifest:
		if len(msg.ChunkHashes) > MaxHashesPerMessage {
			return fmt.Errorf("too many chunks: %d", len(msg.ChunkHashes))
		}
		return msg.Manifest().ValidateBasic()
	case *GetSnapshotChunk:
		if msg.Checkpoint == (types.Hash{}) {
			return errors.New("checkpoint cannot be empty")
		}
		if msg.ChunkHash == (types.Hash{}) {
			return errors.New("chunk hash cannot be empty")
		}
	case *SnapshotChunk:
		if msg.Missing && len(msg.Chunk) > 0 {
			return errors.New("missing chunk cannot have contents")
		}
		if !msg.Missing && len(msg.Chunk) == 0 {
			return errors.New("chunk cannot be empty")
		}
	default:
		return fmt.Errorf("unknown message type %T", msg)
	}
	return nil
}

func validateHashList(hashes []types.Hash) error {
	if len(hashes) == 0 {
		return errors.New("no hashes requested")
	}
	if len(hashes) > MaxHashesPerMessage {
		return fmt.Errorf("too many hashes requested: %d", len(hashes))
	}
	return nil
}
