package statesync

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cfx-go/cfxcore/internal/blockdata"
	"github.com/cfx-go/cfxcore/types"
)

// chunkHeaderSize is the size of the position prefix of each chunk body.
// The prefix keeps chunks with equal contents from sharing a hash.
const chunkHeaderSize = 4

// Snapshot is a restored state snapshot: the verified chunk bodies of a
// manifest, in manifest order.
type Snapshot struct {
	Checkpoint types.Hash
	Chunks     [][]byte
}

// State reassembles the state the snapshot was created from.
func (s *Snapshot) State() ([]byte, error) {
	var state []byte
	for i, chunk := range s.Chunks {
		if len(chunk) < chunkHeaderSize {
			return nil, fmt.Errorf("chunk %d is too short", i)
		}
		if pos := binary.BigEndian.Uint32(chunk); pos != uint32(i) {
			return nil, fmt.Errorf("chunk %d has position %d", i, pos)
		}
		state = append(state, chunk[chunkHeaderSize:]...)
	}
	return state, nil
}

func makeChunk(pos int, piece []byte) []byte {
	chunk := make([]byte, chunkHeaderSize+len(piece))
	binary.BigEndian.PutUint32(chunk, uint32(pos))
	copy(chunk[chunkHeaderSize:], piece)
	return chunk
}

// CreateSnapshot splits state into chunks of at most chunkSize bytes of
// state each and stores them with their manifest at checkpoint. Chunks are
// stored before the manifest, so a node never serves a manifest whose
// chunks it lacks. Empty state gives a manifest without chunks.
func CreateSnapshot(
	db *blockdata.DBManager,
	checkpoint types.Hash,
	state []byte,
	chunkSize int,
) (*types.SnapshotManifest, error) {
	if chunkSize <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if checkpoint == (types.Hash{}) {
		return nil, errors.New("checkpoint cannot be empty")
	}

	manifest := &types.SnapshotManifest{Checkpoint: checkpoint, ChunkHashes: []types.Hash{}}
	for pos := 0; pos*chunkSize < len(state); pos++ {
		end := (pos + 1) * chunkSize
		if end > len(state) {
			end = len(state)
		}
		hash, err := db.InsertSnapshotChunk(makeChunk(pos, state[pos*chunkSize:end]))
		if err != nil {
			return nil, fmt.Errorf("failed to store chunk %d: %w", pos, err)
		}
		manifest.ChunkHashes = append(manifest.ChunkHashes, hash)
	}

	if err := db.InsertSnapshotManifest(manifest); err != nil {
		return nil, fmt.Errorf("failed to store manifest: %w", err)
	}
	return manifest, nil
}
