package shachain

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Producer is an interface which serves as an abstraction over the data
// structure responsible for efficiently generating the secrets for a
// particular index based on a root seed. The generation of secrets should be
// made in such way that secret store might efficiently store and retrieve the
// secrets.
type Producer interface {
	// AtIndex produces a secret by evaluating using the initial seed and a
	// particular index. Indexes count up from zero.
	AtIndex(uint64) (*chainhash.Hash, error)

	// AtCommitmentNumber produces the per-commitment secret of the given
	// commitment number. Commitment numbers count down from
	// MaxCommitmentNumber.
	AtCommitmentNumber(uint64) (*chainhash.Hash, error)

	// Encode writes a binary serialization of the Producer implementation
	// to the passed io.Writer.
	Encode(io.Writer) error
}

// RevocationProducer is an implementation of Producer interface using the
// shachain PRF construct. Starting with a single 32-byte seed, shachain is able
// to efficiently generate a nearly unbounded number of secrets while
// maintaining a constant amount of storage.
type RevocationProducer struct {
	// root is the element from which we may generate all hashes which
	// corresponds to the index domain [281474976710655,0].
	root *element
}

// A compile time check to ensure RevocationProducer implements the Producer
// interface.
var _ Producer = (*RevocationProducer)(nil)

// NewRevocationProducer creates new instance of shachain producer.
func NewRevocationProducer(root chainhash.Hash) *RevocationProducer {
	return &RevocationProducer{
		root: &element{
			index: rootIndex,
			hash:  root,
		},
	}
}

// NewRevocationProducerFromBytes deserializes an instance of a
// RevocationProducer encoded in the passed byte slice, returning a fully
// initialized instance of a RevocationProducer.
func NewRevocationProducerFromBytes(data []byte) (*RevocationProducer, error) {
	root, err := chainhash.NewHash(data)
	if err != nil {
		return nil, err
	}

	return NewRevocationProducer(*root), nil
}

// AtIndex produces a secret by evaluating using the initial seed and a
// particular index.
//
// NOTE: Part of the Producer interface.
func (p *RevocationProducer) AtIndex(v uint64) (*chainhash.Hash, error) {
	if v > MaxCommitmentNumber {
		return nil, ErrCommitmentNumberRange
	}

	return p.AtCommitmentNumber(MaxCommitmentNumber - v)
}

// AtCommitmentNumber produces the secret of the commitment with the given
// number. Each set bit of the number, from the highest to the lowest, flips
// the matching bit of the running hash which is then re-hashed.
//
// NOTE: Part of the Producer interface.
func (p *RevocationProducer) AtCommitmentNumber(
	n uint64) (*chainhash.Hash, error) {

	if n > MaxCommitmentNumber {
		return nil, ErrCommitmentNumberRange
	}

	element, err := p.root.derive(index(n))
	if err != nil {
		return nil, err
	}

	return &element.hash, nil
}

// Encode writes a binary serialization of the Producer implementation to the
// passed io.Writer.
//
// NOTE: Part of the Producer interface.
func (p *RevocationProducer) Encode(w io.Writer) error {
	_, err := w.Write(p.root.hash[:])
	return err
}
