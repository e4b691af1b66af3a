package shachain

import (
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// getBit returns bit pos of i.
func getBit(i index, pos uint8) uint8 {
	return uint8(uint64(i)>>pos) & 1
}

// getPrefix clears the lowest pos bits of i.
func getPrefix(i index, pos uint8) uint64 {
	return uint64(i) &^ (1<<pos - 1)
}

// countTrailingZeros returns the bucket of an index, which is its number of
// trailing zero bits capped at maxHeight.
func countTrailingZeros(i index) uint8 {
	return uint8(min(bits.TrailingZeros64(uint64(i)), int(maxHeight)))
}

// hashFromString decodes a hex secret in byte order, unlike
// chainhash.NewHashFromStr which reverses it.
func hashFromString(s string) (*chainhash.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != chainhash.HashSize {
		return nil, fmt.Errorf("secret must be %d bytes, got %d",
			chainhash.HashSize, len(b))
	}

	return chainhash.NewHash(b)
}
