package blockdata

import (
	"github.com/cfx-go/cfxcore/types"
)

//-----------------------------------------------------------------------------
// blocks

// InsertBlockHeader stores a header under its hash.
func (m *DBManager) InsertBlockHeader(header *types.BlockHeader) error {
	hash := header.Hash()
	if err := m.insert(Blocks, blockHeaderKey(hash), header); err != nil {
		return err
	}
	if m.headerCache != nil {
		m.headerCache.Remove(hash)
	}
	return nil
}

// BlockHeader returns the header with the given hash with its pow quality
// computed, or nil if it is not stored.
func (m *DBManager) BlockHeader(hash types.Hash) *types.BlockHeader {
	if m.headerCache != nil {
		if h, ok := m.headerCache.Get(hash); ok {
			m.metrics.HeaderCacheHits.Add(1)
			return h.(*types.BlockHeader).Copy()
		}
	}

	key := blockHeaderKey(hash)
	bz := m.mustGet(Blocks, key)
	if bz == nil {
		return nil
	}
	header, err := types.DecodeBlockHeader(bz)
	if err != nil {
		m.corrupted(Blocks, key, err)
	}

	if m.headerCache != nil {
		m.headerCache.Add(hash, header.Copy())
	}
	return header
}

// RemoveBlockHeader deletes the header with the given hash.
func (m *DBManager) RemoveBlockHeader(hash types.Hash) error {
	if m.headerCache != nil {
		m.headerCache.Remove(hash)
	}
	return m.Delete(Blocks, blockHeaderKey(hash))
}

// InsertBlockBody stores the transactions of block under the block hash.
func (m *DBManager) InsertBlockBody(block *types.Block) error {
	bz, err := types.EncodeBody(block.Transactions)
	if err != nil {
		return err
	}
	return m.Put(Blocks, blockBodyKey(block.Hash()), bz)
}

// BlockBody returns the body of the block with the given hash. ok is false
// if it is not stored.
func (m *DBManager) BlockBody(hash types.Hash) (body types.BlockBody, ok bool) {
	key := blockBodyKey(hash)
	bz := m.mustGet(Blocks, key)
	if bz == nil {
		return nil, false
	}
	body, err := types.DecodeBody(bz)
	if err != nil {
		m.corrupted(Blocks, key, err)
	}
	return body, true
}

// RemoveBlockBody deletes the body of the block with the given hash.
func (m *DBManager) RemoveBlockBody(hash types.Hash) error {
	return m.Delete(Blocks, blockBodyKey(hash))
}

// InsertBlock stores the header and then the body of a block. If the body
// fails the header stays; inserting the block again is safe.
func (m *DBManager) InsertBlock(block *types.Block) error {
	if err := m.InsertBlockHeader(block.Header); err != nil {
		return err
	}
	return m.InsertBlockBody(block)
}

// Block assembles the block with the given hash from its header and body,
// or returns nil if either is missing.
func (m *DBManager) Block(hash types.Hash) *types.Block {
	header := m.BlockHeader(hash)
	if header == nil {
		return nil
	}
	body, ok := m.BlockBody(hash)
	if !ok {
		return nil
	}
	return types.NewBlock(header, body)
}

// InsertLocalBlockInfo stores node-local info next to the block.
func (m *DBManager) InsertLocalBlockInfo(hash types.Hash, info *types.LocalBlockInfo) error {
	return m.insert(Blocks, localBlockInfoKey(hash), info)
}

// LocalBlockInfo returns the local info of a block, or nil.
func (m *DBManager) LocalBlockInfo(hash types.Hash) *types.LocalBlockInfo {
	info := new(types.LocalBlockInfo)
	if !m.load(Blocks, localBlockInfoKey(hash), info) {
		return nil
	}
	return info
}

// InsertBlockExecutionResult stores the execution result of a block.
func (m *DBManager) InsertBlockExecutionResult(hash types.Hash, result *types.BlockExecutionResultWithEpoch) error {
	return m.insert(Blocks, blockExecutionResultKey(hash), result)
}

func (m *DBManager) BlockExecutionResult(hash types.Hash) *types.BlockExecutionResultWithEpoch {
	result := new(types.BlockExecutionResultWithEpoch)
	if !m.load(Blocks, blockExecutionResultKey(hash), result) {
		return nil
	}
	return result
}

// RemoveBlockExecutionResult deletes the execution result of a block.
func (m *DBManager) RemoveBlockExecutionResult(hash types.Hash) error {
	return m.Delete(Blocks, blockExecutionResultKey(hash))
}

// InsertExecutionContext stores the execution context of the epoch whose
// pivot block is hash.
func (m *DBManager) InsertExecutionContext(hash types.Hash, ctx *types.EpochExecutionContext) error {
	return m.insert(Blocks, epochExecutionContextKey(hash), ctx)
}

func (m *DBManager) ExecutionContext(hash types.Hash) *types.EpochExecutionContext {
	ctx := new(types.EpochExecutionContext)
	if !m.load(Blocks, epochExecutionContextKey(hash), ctx) {
		return nil
	}
	return ctx
}

func (m *DBManager) InsertConsensusGraphExecutionInfo(hash types.Hash, info *types.ConsensusGraphExecutionInfo) error {
	return m.insert(Blocks, consensusGraphExecutionInfoKey(hash), info)
}

func (m *DBManager) ConsensusGraphExecutionInfo(hash types.Hash) *types.ConsensusGraphExecutionInfo {
	info := new(types.ConsensusGraphExecutionInfo)
	if !m.load(Blocks, consensusGraphExecutionInfoKey(hash), info) {
		return nil
	}
	return info
}

//-----------------------------------------------------------------------------
// transactions

// InsertTransactionAddress records where a transaction was packed.
func (m *DBManager) InsertTransactionAddress(txHash types.Hash, addr *types.TransactionAddress) error {
	return m.insert(Transactions, transactionAddressKey(txHash), addr)
}

func (m *DBManager) TransactionAddress(txHash types.Hash) *types.TransactionAddress {
	addr := new(types.TransactionAddress)
	if !m.load(Transactions, transactionAddressKey(txHash), addr) {
		return nil
	}
	return addr
}

func (m *DBManager) RemoveTransactionAddress(txHash types.Hash) error {
	return m.Delete(Transactions, transactionAddressKey(txHash))
}

//-----------------------------------------------------------------------------
// epochs

// InsertEpochSetHashes stores the ordered block hashes of an epoch.
func (m *DBManager) InsertEpochSetHashes(epoch uint64, hashes []types.Hash) error {
	return m.insert(EpochNumbers, epochSetKey(epoch), hashes)
}

// EpochSetHashes returns the block hashes of an epoch. ok is false if the
// epoch is not stored.
func (m *DBManager) EpochSetHashes(epoch uint64) (hashes []types.Hash, ok bool) {
	ok = m.load(EpochNumbers, epochSetKey(epoch), &hashes)
	return hashes, ok
}

//-----------------------------------------------------------------------------
// misc

// InsertCheckpointHashes stores the previous and current checkpoint.
func (m *DBManager) InsertCheckpointHashes(prev, cur types.Hash) error {
	return m.insert(Misc, checkpointKey, &types.CheckpointHashes{PrevHash: prev, CurHash: cur})
}

func (m *DBManager) CheckpointHashes() (prev, cur types.Hash, ok bool) {
	var cp types.CheckpointHashes
	if !m.load(Misc, checkpointKey, &cp) {
		return types.Hash{}, types.Hash{}, false
	}
	return cp.PrevHash, cp.CurHash, true
}

// InsertTerminals stores the current terminal blocks of the graph.
func (m *DBManager) InsertTerminals(terminals []types.Hash) error {
	return m.insert(Misc, terminalsKey, terminals)
}

func (m *DBManager) Terminals() (terminals []types.Hash, ok bool) {
	ok = m.load(Misc, terminalsKey, &terminals)
	return terminals, ok
}

// InsertInstanceID stores the id of this node's data directory instance.
func (m *DBManager) InsertInstanceID(id uint64) error {
	return m.insert(Misc, instanceKey, id)
}

func (m *DBManager) InstanceID() (id uint64, ok bool) {
	ok = m.load(Misc, instanceKey, &id)
	return id, ok
}

//-----------------------------------------------------------------------------
// snapshots

// InsertSnapshotManifest stores the manifest of the snapshot at its
// checkpoint. Chunks should be inserted first, so that a stored manifest
// always refers to chunks this node can serve.
func (m *DBManager) InsertSnapshotManifest(manifest *types.SnapshotManifest) error {
	return m.insert(Misc, snapshotManifestKey(manifest.Checkpoint), manifest)
}

// SnapshotManifest returns the manifest of the snapshot at checkpoint, or
// nil if this node has none.
func (m *DBManager) SnapshotManifest(checkpoint types.Hash) *types.SnapshotManifest {
	manifest := new(types.SnapshotManifest)
	if !m.load(Misc, snapshotManifestKey(checkpoint), manifest) {
		return nil
	}
	return manifest
}

func (m *DBManager) RemoveSnapshotManifest(checkpoint types.Hash) error {
	return m.Delete(Misc, snapshotManifestKey(checkpoint))
}

// InsertSnapshotChunk stores a chunk body under its content hash and
// returns the hash.
func (m *DBManager) InsertSnapshotChunk(body []byte) (types.Hash, error) {
	hash := types.ChunkHash(body)
	return hash, m.Put(Misc, snapshotChunkKey(hash), body)
}

// SnapshotChunk returns the body of a stored chunk. ok is false if there is
// none.
func (m *DBManager) SnapshotChunk(hash types.Hash) (body []byte, ok bool) {
	body = m.mustGet(Misc, snapshotChunkKey(hash))
	return body, body != nil
}

func (m *DBManager) RemoveSnapshotChunk(hash types.Hash) error {
	return m.Delete(Misc, snapshotChunkKey(hash))
}
