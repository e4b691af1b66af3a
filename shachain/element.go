package shachain

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// maxHeight is the number of index bits, and so the number of buckets a
	// store needs to derive every revealed secret.
	maxHeight uint8 = 48

	// rootIndex is the index of the seed itself.
	rootIndex index = 0
)

// startIndex is the index of the secret of the first commitment.
var startIndex index = (1 << maxHeight) - 1

// MaxCommitmentNumber is the commitment number of the very first commitment
// of a channel. Commitment numbers count down from here towards zero, and the
// secret for commitment number n is the shachain element at index n.
const MaxCommitmentNumber uint64 = (1 << maxHeight) - 1

// ErrCommitmentNumberRange is returned when a commitment number does not fit
// into the 48 bits addressable by the shachain.
var ErrCommitmentNumberRange = errors.New("commitment number exceeds 48 bits")

// errNotDerivable is returned when an element isn't an ancestor of the index
// asked for.
var errNotDerivable = errors.New("index isn't derivable from element")

// index is the position of a secret in the shachain tree. It counts up from
// zero while commitment numbers count down, see newIndex.
type index uint64

// newIndex maps a commitment number to its tree index.
func newIndex(v uint64) index {
	return startIndex - index(v)
}

// element is a secret together with its tree index. An element at index i
// can derive every index sharing i's bits above its lowest set bit.
type element struct {
	index index
	hash  chainhash.Hash
}

// derive returns the element at toIndex. Every bit set in toIndex below the
// trailing zeros of e.index is flipped in the secret, most significant first,
// and the result hashed.
func (e *element) derive(toIndex index) (*element, error) {
	positions, err := e.index.deriveBitTransformations(toIndex)
	if err != nil {
		return nil, err
	}

	secret := e.hash
	for _, pos := range positions {
		secret[pos/8] ^= 1 << (pos % 8)
		secret = sha256.Sum256(secret[:])
	}

	return &element{
		index: toIndex,
		hash:  secret,
	}, nil
}

// isEqual returns true if both the index and the secret match.
func (e *element) isEqual(o *element) bool {
	return e.index == o.index && e.hash.IsEqual(&o.hash)
}

// deriveBitTransformations returns the bit positions, highest first, that
// have to be flipped to get from the secret at from to the one at to. The
// bits of from above its trailing zeros must be a prefix of to.
//
// E.g. 4 (0b100) derives 4 through 7, 6 (0b110) derives 6 and 7, while 5
// (0b101) only derives itself.
func (from index) deriveBitTransformations(to index) ([]uint8, error) {
	if from == to {
		return nil, nil
	}

	zeros := countTrailingZeros(from)
	if uint64(from) != getPrefix(to, zeros) {
		return nil, errNotDerivable
	}

	var positions []uint8
	for pos := int(zeros) - 1; pos >= 0; pos-- {
		if getBit(to, uint8(pos)) == 1 {
			positions = append(positions, uint8(pos))
		}
	}

	return positions, nil
}
