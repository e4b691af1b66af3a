package lntypes

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the size of a payment hash and of its preimage.
const HashSize = 32

// Hash is the payment hash an HTLC output is locked to.
type Hash [HashSize]byte

// String returns the hex encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Preimage is the secret revealed to claim an HTLC, its sha256 is the payment
// hash.
type Preimage [HashSize]byte

// String returns the hex encoded preimage.
func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

// Hash returns the payment hash locked to this preimage.
func (p Preimage) Hash() Hash {
	return sha256.Sum256(p[:])
}
