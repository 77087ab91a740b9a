package message

import (
	"time"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/types"
)

//-----------------------------------------------------------------------------
// block headers

// GetBlockHeaders asks for the headers with the given hashes.
type GetBlockHeaders struct {
	RequestID uint64
	Hashes    []types.Hash
}

func (m *GetBlockHeaders) MsgID() MsgID           { return GetBlockHeadersID }
func (m *GetBlockHeaders) GetRequestID() uint64   { return m.RequestID }
func (m *GetBlockHeaders) SetRequestID(id uint64) { m.RequestID = id }
func (m *GetBlockHeaders) wire() Message          { return m }

func (m *GetBlockHeaders) Timeout(cfg *config.SyncConfig) time.Duration {
	return cfg.HeadersRequestTimeout
}

func (m *GetBlockHeaders) MaxResends(cfg *config.SyncConfig) int { return cfg.HeadersMaxResends }

func (m *GetBlockHeaders) InflightKeys() []Key { return hashKeys(GetBlockHeadersID, m.Hashes) }

func (m *GetBlockHeaders) Narrow(keys []Key) {
	m.Hashes = narrowHashes(GetBlockHeadersID, m.Hashes, keys)
}

func (m *GetBlockHeaders) IsEmpty() bool { return len(m.Hashes) == 0 }

func (m *GetBlockHeaders) Resend() Request {
	return &GetBlockHeaders{Hashes: append([]types.Hash(nil), m.Hashes...)}
}

// BlockHeaders answers GetBlockHeaders with the headers the peer has.
type BlockHeaders struct {
	RequestID uint64
	Headers   []*types.BlockHeader
}

func (m *BlockHeaders) MsgID() MsgID         { return BlockHeadersID }
func (m *BlockHeaders) GetRequestID() uint64 { return m.RequestID }
func (m *BlockHeaders) wire() Message        { return m }

func (m *BlockHeaders) afterDecode() {
	for _, h := range m.Headers {
		h.ComputePowQuality()
	}
}

//-----------------------------------------------------------------------------
// blocks

// GetBlocks asks for the full blocks with the given hashes.
type GetBlocks struct {
	RequestID uint64
	Hashes    []types.Hash
}

func (m *GetBlocks) MsgID() MsgID           { return GetBlocksID }
func (m *GetBlocks) GetRequestID() uint64   { return m.RequestID }
func (m *GetBlocks) SetRequestID(id uint64) { m.RequestID = id }
func (m *GetBlocks) wire() Message          { return m }

func (m *GetBlocks) Timeout(cfg *config.SyncConfig) time.Duration {
	return cfg.BlocksRequestTimeout
}

func (m *GetBlocks) MaxResends(cfg *config.SyncConfig) int { return cfg.BlocksMaxResends }

func (m *GetBlocks) InflightKeys() []Key { return hashKeys(GetBlocksID, m.Hashes) }

func (m *GetBlocks) Narrow(keys []Key) {
	m.Hashes = narrowHashes(GetBlocksID, m.Hashes, keys)
}

func (m *GetBlocks) IsEmpty() bool { return len(m.Hashes) == 0 }

func (m *GetBlocks) Resend() Request {
	return &GetBlocks{Hashes: append([]types.Hash(nil), m.Hashes...)}
}

// Blocks answers GetBlocks with the blocks the peer has.
type Blocks struct {
	RequestID uint64
	Blocks    []*types.Block
}

func (m *Blocks) MsgID() MsgID         { return BlocksID }
func (m *Blocks) GetRequestID() uint64 { return m.RequestID }
func (m *Blocks) wire() Message        { return m }

func (m *Blocks) afterDecode() {
	for _, b := range m.Blocks {
		if b.Header != nil {
			b.Header.ComputePowQuality()
		}
	}
}

//-----------------------------------------------------------------------------
// snapshot manifest

// GetSnapshotManifest asks for the manifest of the snapshot at Checkpoint.
type GetSnapshotManifest struct {
	RequestID  uint64
	Checkpoint types.Hash

	dropped bool
}

func (m *GetSnapshotManifest) MsgID() MsgID           { return GetSnapshotManifestID }
func (m *GetSnapshotManifest) GetRequestID() uint64   { return m.RequestID }
func (m *GetSnapshotManifest) SetRequestID(id uint64) { m.RequestID = id }
func (m *GetSnapshotManifest) wire() Message          { return m }

// Timeout is the headers timeout unless a manifest timeout is configured.
func (m *GetSnapshotManifest) Timeout(cfg *config.SyncConfig) time.Duration {
	if cfg.SnapshotManifestRequestTimeout > 0 {
		return cfg.SnapshotManifestRequestTimeout
	}
	return cfg.HeadersRequestTimeout
}

func (m *GetSnapshotManifest) MaxResends(cfg *config.SyncConfig) int {
	return cfg.SnapshotManifestMaxResends
}

func (m *GetSnapshotManifest) InflightKeys() []Key {
	return []Key{{Kind: GetSnapshotManifestID, Hash: m.Checkpoint}}
}

func (m *GetSnapshotManifest) Narrow(keys []Key) {
	m.dropped = len(narrowHashes(GetSnapshotManifestID, []types.Hash{m.Checkpoint}, keys)) == 0
}

func (m *GetSnapshotManifest) IsEmpty() bool { return m.dropped }

func (m *GetSnapshotManifest) Resend() Request {
	return &GetSnapshotManifest{Checkpoint: m.Checkpoint}
}

// SnapshotManifest answers GetSnapshotManifest. An empty ChunkHashes is a
// valid answer: the snapshot has no chunks or the peer doesn't know the
// checkpoint.
type SnapshotManifest struct {
	RequestID   uint64
	Checkpoint  types.Hash
	ChunkHashes []types.Hash
}

func (m *SnapshotManifest) MsgID() MsgID         { return SnapshotManifestID }
func (m *SnapshotManifest) GetRequestID() uint64 { return m.RequestID }
func (m *SnapshotManifest) wire() Message        { return m }

// Manifest returns the manifest carried by the message.
func (m *SnapshotManifest) Manifest() *types.SnapshotManifest {
	return &types.SnapshotManifest{Checkpoint: m.Checkpoint, ChunkHashes: m.ChunkHashes}
}

//-----------------------------------------------------------------------------
// snapshot chunks

// GetSnapshotChunk asks for the chunk with hash ChunkHash of the snapshot
// at Checkpoint.
type GetSnapshotChunk struct {
	RequestID  uint64
	Checkpoint types.Hash
	ChunkHash  types.Hash

	dropped bool
}

func (m *GetSnapshotChunk) MsgID() MsgID           { return GetSnapshotChunkID }
func (m *GetSnapshotChunk) GetRequestID() uint64   { return m.RequestID }
func (m *GetSnapshotChunk) SetRequestID(id uint64) { m.RequestID = id }
func (m *GetSnapshotChunk) wire() Message          { return m }

func (m *GetSnapshotChunk) Timeout(cfg *config.SyncConfig) time.Duration {
	return cfg.SnapshotChunkRequestTimeout
}

func (m *GetSnapshotChunk) MaxResends(cfg *config.SyncConfig) int {
	return cfg.SnapshotChunkMaxResends
}

func (m *GetSnapshotChunk) InflightKeys() []Key {
	return []Key{{Kind: GetSnapshotChunkID, Hash: m.ChunkHash}}
}

func (m *GetSnapshotChunk) Narrow(keys []Key) {
	m.dropped = len(narrowHashes(GetSnapshotChunkID, []types.Hash{m.ChunkHash}, keys)) == 0
}

func (m *GetSnapshotChunk) IsEmpty() bool { return m.dropped }

func (m *GetSnapshotChunk) Resend() Request {
	return &GetSnapshotChunk{Checkpoint: m.Checkpoint, ChunkHash: m.ChunkHash}
}

// SnapshotChunk answers GetSnapshotChunk. Missing is set if the peer
// doesn't have the chunk.
type SnapshotChunk struct {
	RequestID uint64
	ChunkHash types.Hash
	Chunk     []byte
	Missing   bool
}

func (m *SnapshotChunk) MsgID() MsgID         { return SnapshotChunkID }
func (m *SnapshotChunk) GetRequestID() uint64 { return m.RequestID }
func (m *SnapshotChunk) wire() Message        { return m }
