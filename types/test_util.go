package types

import (
	"math/big"
)

// MakeTx returns a deterministic transaction for tests.
func MakeTx(nonce uint64) *SignedTransaction {
	return &SignedTransaction{
		Nonce:     nonce,
		GasPrice:  big.NewInt(1),
		Gas:       21000,
		To:        Address{0x01},
		Value:     big.NewInt(int64(nonce) + 1),
		Data:      []byte{byte(nonce)},
		ChainID:   1,
		Signature: []byte{0xaa, byte(nonce)},
	}
}

// MakeBlock returns a block at height with numTxs transactions whose header
// commits to its body.
func MakeBlock(parent Hash, height uint64, numTxs int) *Block {
	txs := make(BlockBody, numTxs)
	for i := range txs {
		txs[i] = MakeTx(height*1000 + uint64(i))
	}
	header := &BlockHeader{
		ParentHash:       parent,
		Height:           height,
		Timestamp:        1600000000 + height,
		Author:           Address{0x02},
		TransactionsRoot: txs.TransactionsRoot(),
		Difficulty:       big.NewInt(1000),
		GasLimit:         30000000,
		RefereeHashes:    []Hash{HashBytes([]byte{byte(height)})},
		Nonce:            height,
	}
	return NewBlock(header, txs)
}

// MakeChain returns n linked blocks starting at height 1.
func MakeChain(n, txsPerBlock int) []*Block {
	blocks := make([]*Block, 0, n)
	parent := Hash{}
	for i := 1; i <= n; i++ {
		b := MakeBlock(parent, uint64(i), txsPerBlock)
		blocks = append(blocks, b)
		parent = b.Hash()
	}
	return blocks
}
