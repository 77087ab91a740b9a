package types

import "math/big"

// BlockStatus is the validity of a block as known locally.
type BlockStatus uint8

const (
	BlockStatusValid BlockStatus = iota
	BlockStatusInvalid
	BlockStatusPartialInvalid
	BlockStatusPending
)

// LocalBlockInfo is node-local metadata about a block. It is written once
// the block enters the consensus graph, after the block itself.
type LocalBlockInfo struct {
	Status               BlockStatus
	EnterConsensusSeqNum uint64
	InstanceID           uint64
}

// LogEntry is an event emitted during transaction execution.
type LogEntry struct {
	Address Address
	Topics  []Hash
	Data    []byte
}

// Receipt is the outcome of executing one transaction.
type Receipt struct {
	OutcomeStatus      uint8
	AccumulatedGasUsed uint64
	GasFee             *big.Int
	Logs               []*LogEntry
}

// BlockExecutionResult holds the receipts of a block executed in some epoch.
type BlockExecutionResult struct {
	Receipts []*Receipt
}

// BlockExecutionResultWithEpoch is a BlockExecutionResult tagged with the
// pivot hash of the epoch it was executed in.
type BlockExecutionResultWithEpoch struct {
	Epoch  Hash
	Result BlockExecutionResult
}

// EpochExecutionContext is the context an epoch was executed with.
type EpochExecutionContext struct {
	StartBlockNumber uint64
}

// ConsensusGraphExecutionInfo records the roots an epoch's execution was
// committed with, so consensus can be recovered without re-executing.
type ConsensusGraphExecutionInfo struct {
	OriginalDeferredStateRoot     Hash
	OriginalDeferredReceiptRoot   Hash
	OriginalDeferredLogsBloomHash Hash
}

// CheckpointHashes is the pair of the previous and the current checkpoint.
type CheckpointHashes struct {
	PrevHash Hash
	CurHash  Hash
}

// TransactionAddress locates a packed transaction.
type TransactionAddress struct {
	BlockHash Hash
	Index     uint64
}
