package shachain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrSecretMismatch is returned when a secret is submitted for a
	// commitment number the store already holds a different secret for.
	ErrSecretMismatch = errors.New("secret does not match the stored one")

	// ErrOutOfOrder is returned when a secret is submitted for a commitment
	// number that skips over one or more not yet revealed secrets.
	ErrOutOfOrder = errors.New("secret revealed out of order")

	// ErrNotDerivable is returned when a new secret does not allow the
	// derivation of the previously stored ones.
	ErrNotDerivable = errors.New("hash isn't derivable from previous ones")
)

// Store is an interface which serves as an abstraction over data structure
// responsible for efficiently storing and restoring of hash secrets by given
// indexes.
//
// The counterparty reveals one unguessable 256 bit value per revoked
// commitment. We don't want to store all of them, so we only keep the ones
// from which every earlier one can be derived.
type Store interface {
	// LookUp function is used to restore/lookup/fetch the previous secret
	// by its index.
	LookUp(uint64) (*chainhash.Hash, error)

	// AddNextEntry attempts to store the given hash within its internal
	// storage in an efficient manner.
	//
	// NOTE: The hashes derived from the shachain MUST be inserted in the
	// order they're produced by a shachain.Producer.
	AddNextEntry(*chainhash.Hash) error

	// Encode writes a binary serialization of the shachain elements
	// currently saved by implementation of shachain.Store to the passed
	// io.Writer.
	Encode(io.Writer) error
}

// RevocationStore is a concrete implementation of the Store interface. The
// revocation store is able to efficiently store N derived shachain elements in
// a space efficient manner with a space complexity of O(log N).
type RevocationStore struct {
	// lenBuckets stores the number of currently active buckets.
	lenBuckets uint8

	// buckets is an array of elements from which we may derive all
	// previous elements, each bucket corresponds to the element with the
	// particular number of trailing zeros.
	buckets [maxHeight]element

	// index is an available index which will be assigned to the new
	// element.
	index index
}

// A compile time check to ensure RevocationStore implements the Store
// interface.
var _ Store = (*RevocationStore)(nil)

// NewRevocationStore creates the new shachain store.
func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		lenBuckets: 0,
		index:      startIndex,
	}
}

// NewRevocationStoreFromBytes recreates the initial store state from the given
// binary shachain store representation.
func NewRevocationStoreFromBytes(r io.Reader) (*RevocationStore, error) {
	store := &RevocationStore{}

	if err := binary.Read(r, binary.BigEndian, &store.lenBuckets); err != nil {
		return nil, err
	}
	if store.lenBuckets > maxHeight {
		return nil, fmt.Errorf("invalid number of buckets: %v",
			store.lenBuckets)
	}

	for i := uint8(0); i < store.lenBuckets; i++ {
		var hashIndex index
		err := binary.Read(r, binary.BigEndian, &hashIndex)
		if err != nil {
			return nil, err
		}

		var nextHash chainhash.Hash
		if _, err := io.ReadFull(r, nextHash[:]); err != nil {
			return nil, err
		}

		store.buckets[i] = element{
			index: hashIndex,
			hash:  nextHash,
		}
	}

	if err := binary.Read(r, binary.BigEndian, &store.index); err != nil {
		return nil, err
	}
	if store.index > startIndex {
		return nil, ErrCommitmentNumberRange
	}

	return store, nil
}

// LookUp function is used to restore/lookup/fetch the previous secret by its
// index. If secret which corresponds to given index doesn't exist than error
// is returned.
//
// NOTE: This function is part of the Store interface.
func (store *RevocationStore) LookUp(v uint64) (*chainhash.Hash, error) {
	if v > MaxCommitmentNumber {
		return nil, ErrCommitmentNumberRange
	}

	return store.LookUpCommitmentNumber(MaxCommitmentNumber - v)
}

// LookUpCommitmentNumber returns the stored secret of the given commitment
// number, deriving it from the closest stored bucket.
func (store *RevocationStore) LookUpCommitmentNumber(
	n uint64) (*chainhash.Hash, error) {

	ind := index(n)
	if ind <= store.index {
		return nil, fmt.Errorf("secret #%v not revealed yet", n)
	}

	// Trying to derive the index from one of the existing buckets elements.
	for i := uint8(0); i < store.lenBuckets; i++ {
		element, err := store.buckets[i].derive(ind)
		if err != nil {
			continue
		}

		return &element.hash, nil
	}

	return nil, fmt.Errorf("unable to derive hash #%v", ind)
}

// AddNextEntry attempts to store the given hash within its internal storage in
// an efficient manner.
//
// NOTE: The hashes derived from the shachain MUST be inserted in the order
// they're produced by a shachain.Producer.
//
// NOTE: This function is part of the Store interface.
func (store *RevocationStore) AddNextEntry(hash *chainhash.Hash) error {
	// The index wraps around once the secret of commitment zero was
	// stored.
	if store.index > startIndex {
		return ErrCommitmentNumberRange
	}

	newElement := &element{
		index: store.index,
		hash:  *hash,
	}

	bucket := countTrailingZeros(newElement.index)

	for i := uint8(0); i < bucket; i++ {
		e, err := newElement.derive(store.buckets[i].index)
		if err != nil {
			return err
		}

		if !e.isEqual(&store.buckets[i]) {
			return ErrNotDerivable
		}
	}

	store.buckets[bucket] = *newElement
	if bucket+1 > store.lenBuckets {
		store.lenBuckets = bucket + 1
	}

	store.index--
	return nil
}

// AddSecret stores the secret of the given commitment number. Secrets must be
// added in descending commitment number order without gaps. Re-adding a
// secret that is already stored succeeds if it matches the stored one.
//
// NOTE: A secret is only checked against the ones it can derive. At an odd
// commitment number there are none, so a wrong secret is accepted and only
// detected when the next secret deriving it is added. Callers must check such
// secrets against their commitment point.
func (store *RevocationStore) AddSecret(n uint64,
	secret *chainhash.Hash) error {

	switch {
	case n > MaxCommitmentNumber:
		return ErrCommitmentNumberRange

	case index(n) > store.index:
		stored, err := store.LookUpCommitmentNumber(n)
		if err != nil {
			return err
		}
		if !stored.IsEqual(secret) {
			return ErrSecretMismatch
		}

		return nil

	case index(n) < store.index:
		return fmt.Errorf("%w: expected secret #%v, got #%v",
			ErrOutOfOrder, uint64(store.index), n)
	}

	return store.AddNextEntry(secret)
}

// NextCommitmentNumber returns the commitment number whose secret the store
// expects next.
func (store *RevocationStore) NextCommitmentNumber() uint64 {
	return uint64(store.index)
}

// Revealed returns the number of secrets added to the store so far.
func (store *RevocationStore) Revealed() uint64 {
	return uint64(startIndex - store.index)
}

// Encode writes a binary serialization of the shachain elements currently
// saved by implementation of shachain.Store to the passed io.Writer.
//
// NOTE: This function is part of the Store interface.
func (store *RevocationStore) Encode(w io.Writer) error {
	err := binary.Write(w, binary.BigEndian, store.lenBuckets)
	if err != nil {
		return err
	}

	for i := uint8(0); i < store.lenBuckets; i++ {
		element := store.buckets[i]

		err := binary.Write(w, binary.BigEndian, element.index)
		if err != nil {
			return err
		}

		if _, err = w.Write(element.hash[:]); err != nil {
			return err
		}
	}

	return binary.Write(w, binary.BigEndian, store.index)
}
