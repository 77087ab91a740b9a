package types

import (
	"errors"
	"fmt"
)

// SnapshotManifest lists, in order, the chunks a state snapshot at
// Checkpoint is made of.
type SnapshotManifest struct {
	Checkpoint  Hash
	ChunkHashes []Hash
}

// ChunkHash returns the hash a chunk body is identified by.
func ChunkHash(body []byte) Hash {
	return HashBytes(body)
}

// IsEmpty returns true if the snapshot has no chunks.
func (m *SnapshotManifest) IsEmpty() bool {
	return len(m.ChunkHashes) == 0
}

// Contains reports whether a chunk hash is part of the manifest.
func (m *SnapshotManifest) Contains(hash Hash) bool {
	return HashSet(m.ChunkHashes).Contains(hash)
}

// ValidateBasic checks that a checkpoint is set and no chunk is listed twice.
func (m *SnapshotManifest) ValidateBasic() error {
	if m.Checkpoint == (Hash{}) {
		return errors.New("manifest has no checkpoint")
	}
	seen := make(map[Hash]struct{}, len(m.ChunkHashes))
	for _, h := range m.ChunkHashes {
		if _, ok := seen[h]; ok {
			return fmt.Errorf("chunk %x listed twice", h)
		}
		seen[h] = struct{}{}
	}
	return nil
}
