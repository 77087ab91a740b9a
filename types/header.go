package types

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// BlockHeader is the consensus relevant part of a block.
type BlockHeader struct {
	ParentHash           Hash
	Height               uint64
	Timestamp            uint64
	Author               Address
	TransactionsRoot     Hash
	DeferredStateRoot    Hash
	DeferredReceiptsRoot Hash
	Difficulty           *big.Int
	Adaptive             bool
	GasLimit             uint64
	RefereeHashes        []Hash
	Nonce                uint64

	// PowQuality is derived from the header hash and nonce. It is never
	// encoded and must be recomputed with ComputePowQuality after decoding.
	PowQuality *uint256.Int `rlp:"-"`
}

// Hash returns the keccak256 hash of the header's canonical encoding.
func (h *BlockHeader) Hash() Hash {
	return rlpHash(h)
}

// ComputePowQuality sets PowQuality from the current header contents.
func (h *BlockHeader) ComputePowQuality() {
	h.PowQuality = PowQuality(h.Hash(), h.Nonce)
}

// Copy returns a deep copy of h.
func (h *BlockHeader) Copy() *BlockHeader {
	cpy := *h
	if h.Difficulty != nil {
		cpy.Difficulty = new(big.Int).Set(h.Difficulty)
	}
	if h.PowQuality != nil {
		cpy.PowQuality = new(uint256.Int).Set(h.PowQuality)
	}
	if h.RefereeHashes != nil {
		cpy.RefereeHashes = make([]Hash, len(h.RefereeHashes))
		copy(cpy.RefereeHashes, h.RefereeHashes)
	}
	return &cpy
}

// PowQuality returns (2^256-1) / keccak(hash ‖ nonce), where the nonce is
// written as 8 big-endian bytes. A zero pow hash has maximal quality.
func PowQuality(hash Hash, nonce uint64) *uint256.Int {
	var buf [HashLength + 8]byte
	copy(buf[:HashLength], hash[:])
	binary.BigEndian.PutUint64(buf[HashLength:], nonce)
	return qualityOf(new(uint256.Int).SetBytes(crypto.Keccak256(buf[:])))
}

func qualityOf(powHash *uint256.Int) *uint256.Int {
	quality := new(uint256.Int).SetAllOne()
	if powHash.IsZero() {
		return quality
	}
	return quality.Div(quality, powHash)
}

// DecodeBlockHeader decodes an encoded header and computes its pow quality.
func DecodeBlockHeader(bz []byte) (*BlockHeader, error) {
	h := new(BlockHeader)
	if err := rlp.DecodeBytes(bz, h); err != nil {
		return nil, err
	}
	h.ComputePowQuality()
	return h, nil
}
