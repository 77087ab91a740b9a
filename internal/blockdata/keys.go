package blockdata

import (
	"encoding/binary"

	"github.com/google/orderedcode"

	"github.com/cfx-go/cfxcore/types"
)

// Records read together with a block share the block hash as key prefix
// and are told apart by a trailing suffix byte, so sorted engines store
// them next to each other.
const (
	suffixBlockHeader             = byte(0)
	suffixLocalBlockInfo          = byte(1)
	suffixBlockBody               = byte(2)
	suffixBlockExecutionResult    = byte(3)
	suffixEpochExecutionContext   = byte(4)
	suffixConsensusGraphExecution = byte(5)
)

// singleton keys in the misc table
var (
	checkpointKey = []byte("checkpoint")
	terminalsKey  = []byte("terminals")
	instanceKey   = []byte("instance")
)

// orderedcode prefixes for snapshot data in the misc table. They can't
// collide with the singleton keys since an encoded int64 never starts with
// a printable byte.
const (
	prefixSnapshotManifest = int64(20)
	prefixSnapshotChunk    = int64(21)
)

func appendSuffix(hash types.Hash, suffix byte) []byte {
	key := make([]byte, types.HashLength+1)
	copy(key, hash[:])
	key[types.HashLength] = suffix
	return key
}

func blockHeaderKey(hash types.Hash) []byte {
	return appendSuffix(hash, suffixBlockHeader)
}

func localBlockInfoKey(hash types.Hash) []byte {
	return appendSuffix(hash, suffixLocalBlockInfo)
}

func blockBodyKey(hash types.Hash) []byte {
	return appendSuffix(hash, suffixBlockBody)
}

func blockExecutionResultKey(hash types.Hash) []byte {
	return appendSuffix(hash, suffixBlockExecutionResult)
}

func epochExecutionContextKey(hash types.Hash) []byte {
	return appendSuffix(hash, suffixEpochExecutionContext)
}

func consensusGraphExecutionInfoKey(hash types.Hash) []byte {
	return appendSuffix(hash, suffixConsensusGraphExecution)
}

func epochSetKey(epoch uint64) []byte {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, epoch)
	return key
}

func transactionAddressKey(hash types.Hash) []byte {
	return hash.Bytes()
}

func snapshotManifestKey(checkpoint types.Hash) []byte {
	key, err := orderedcode.Append(nil, prefixSnapshotManifest, string(checkpoint[:]))
	if err != nil {
		panic(err)
	}
	return key
}

func snapshotChunkKey(hash types.Hash) []byte {
	key, err := orderedcode.Append(nil, prefixSnapshotChunk, string(hash[:]))
	if err != nil {
		panic(err)
	}
	return key
}
