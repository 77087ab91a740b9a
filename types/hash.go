package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// HashLength is the size of a content hash in bytes.
const HashLength = common.HashLength

type (
	// Hash is a keccak256 content hash. Blocks, transactions, checkpoints and
	// snapshot chunks are all identified by one.
	Hash = common.Hash
	// Address identifies an account.
	Address = common.Address
)

// BytesToHash converts b to a Hash, left-padding or cropping as needed.
func BytesToHash(b []byte) Hash { return common.BytesToHash(b) }

// HashBytes returns the keccak256 hash of data.
func HashBytes(data []byte) Hash { return crypto.Keccak256Hash(data) }

// rlpHash returns the hash of the canonical encoding of v. It panics if v
// can't be encoded, which only happens for types rlp doesn't support.
func rlpHash(v interface{}) Hash {
	bz, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(bz)
}

// HashSet is an ordered list of hashes, as stored for terminal blocks and
// epoch sets.
type HashSet []Hash

// Contains reports whether h is part of the set.
func (s HashSet) Contains(h Hash) bool {
	for _, x := range s {
		if x == h {
			return true
		}
	}
	return false
}
