package types

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// SignedTransaction is a transaction together with its sender signature.
type SignedTransaction struct {
	Nonce     uint64
	GasPrice  *big.Int
	Gas       uint64
	To        Address
	Value     *big.Int
	Data      []byte
	ChainID   uint32
	Signature []byte
}

// Hash returns the transaction hash.
func (tx *SignedTransaction) Hash() Hash {
	return rlpHash(tx)
}

// BlockBody is the ordered list of transactions of a block.
type BlockBody []*SignedTransaction

// TransactionsRoot returns the hash committed to by BlockHeader.TransactionsRoot.
func (b BlockBody) TransactionsRoot() Hash {
	hashes := make([]Hash, len(b))
	for i, tx := range b {
		hashes[i] = tx.Hash()
	}
	return rlpHash(hashes)
}

// EncodeBody returns the canonical encoding of a body.
func EncodeBody(b BlockBody) ([]byte, error) {
	return rlp.EncodeToBytes([]*SignedTransaction(b))
}

// DecodeBody decodes a body produced by EncodeBody.
func DecodeBody(bz []byte) (BlockBody, error) {
	var txs []*SignedTransaction
	if err := rlp.DecodeBytes(bz, &txs); err != nil {
		return nil, err
	}
	return BlockBody(txs), nil
}

// Block is a header with its body.
type Block struct {
	Header       *BlockHeader
	Transactions BlockBody
}

// NewBlock assembles a block.
func NewBlock(header *BlockHeader, txs BlockBody) *Block {
	return &Block{Header: header, Transactions: txs}
}

// Hash returns the block hash, which is the header hash.
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// ValidateBasic checks that the body matches the header's transactions root.
func (b *Block) ValidateBasic() error {
	if b.Header == nil {
		return errors.New("block has no header")
	}
	if b.Transactions.TransactionsRoot() != b.Header.TransactionsRoot {
		return errors.New("transactions root mismatch")
	}
	return nil
}
