package keychain

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ErrCannotDerivePrivKey is returned when DerivePrivKey is unable to derive a
// private key for the given key descriptor.
var ErrCannotDerivePrivKey = errors.New("unable to derive private key")

// KeyFamily represents a "family" of keys that are derived from the node's
// root seed. Every family is a distinct hardened branch directly below the
// BIP32 master node:
//
//   - m/keyFamily'/index'
//
// A family only ever hands out private keys through hardened derivation, so
// leaking a child key never reveals a sibling or the master key.
type KeyFamily uint32

const (
	// KeyFamilyNodeKey holds the node's long-term identity key. Only index
	// zero is ever used.
	KeyFamilyNodeKey KeyFamily = 0

	// KeyFamilyDestination are keys that back the P2WPKH scripts handed
	// out as destinations for swept funds.
	KeyFamilyDestination KeyFamily = 1

	// KeyFamilyShutdown are keys that back the P2WPKH scripts handed out
	// for cooperative channel closes.
	KeyFamilyShutdown KeyFamily = 2

	// KeyFamilyChannel is the branch below which the material of every
	// channel is derived. The index is the channel's child number taken
	// from its ChannelKeysID.
	KeyFamilyChannel KeyFamily = 3

	// KeyFamilySecureRandom are keys mixed into the output of the secure
	// random source.
	KeyFamilySecureRandom KeyFamily = 4

	// KeyFamilyInboundPayment holds the key material used to generate and
	// verify inbound payment secrets. Only index zero is ever used.
	KeyFamilyInboundPayment KeyFamily = 5
)

// String returns a human readable name of the key family.
func (k KeyFamily) String() string {
	switch k {
	case KeyFamilyNodeKey:
		return "node"
	case KeyFamilyDestination:
		return "destination"
	case KeyFamilyShutdown:
		return "shutdown"
	case KeyFamilyChannel:
		return "channel"
	case KeyFamilySecureRandom:
		return "random"
	case KeyFamilyInboundPayment:
		return "inbound_payment"
	default:
		return "unknown"
	}
}

// KeyLocator is a two-tuple that can be used to derive *any* key that has ever
// been used under the key derivation mechanisms described in this file.
type KeyLocator struct {
	// Family is the family of key being identified.
	Family KeyFamily

	// Index is the precise index of the key being identified.
	Index uint32
}

// IsEmpty returns true if a KeyLocator is "empty". This may be the case where
// we learn of a key from a remote party for a contract, but don't know the
// precise details of its derivation (as we don't know the private key!).
func (k KeyLocator) IsEmpty() bool {
	return k.Family == 0 && k.Index == 0
}

// KeyDescriptor wraps a KeyLocator and also optionally includes a public key.
// Either the KeyLocator must be non-empty, or the public key pointer be
// non-nil.
type KeyDescriptor struct {
	// KeyLocator is the internal KeyLocator of the descriptor.
	KeyLocator

	// PubKey is an optional public key that fully describes a target key.
	// If this is nil, the KeyLocator MUST NOT be empty.
	PubKey *btcec.PublicKey
}

// KeyRing is the primary interface that will be used to derive the public
// keys of the node hierarchy.
type KeyRing interface {
	// DeriveKey attempts to derive an arbitrary key specified by the
	// passed KeyLocator.
	DeriveKey(keyLoc KeyLocator) (KeyDescriptor, error)
}

// SecretKeyRing is a ring similar to the regular KeyRing interface, but it is
// also able to derive *private keys*.
type SecretKeyRing interface {
	KeyRing

	ECDHRing

	MessageSignerRing

	// DerivePrivKey attempts to derive the private key that corresponds to
	// the passed key descriptor.
	DerivePrivKey(keyDesc KeyDescriptor) (*btcec.PrivateKey, error)
}

// MessageSignerRing is an interface that abstracts away basic low-level ECDSA
// signing on keys within a key ring.
type MessageSignerRing interface {
	// SignMessage signs the given message, single or double SHA256 hashing
	// it first, with the private key described in the key locator.
	SignMessage(keyLoc KeyLocator, msg []byte,
		doubleHash bool) (*ecdsa.Signature, error)

	// SignMessageCompact signs the given message, single or double SHA256
	// hashing it first, with the private key described in the key locator
	// and returns the signature in the compact, public key recoverable
	// format.
	SignMessageCompact(keyLoc KeyLocator, msg []byte,
		doubleHash bool) ([]byte, error)
}

// SingleKeyMessageSigner is an abstraction interface that hides the
// implementation of the low-level ECDSA signing operations by wrapping a
// single, specific private key.
type SingleKeyMessageSigner interface {
	// PubKey returns the public key of the wrapped private key.
	PubKey() *btcec.PublicKey

	// KeyLocator returns the locator that describes the wrapped private
	// key.
	KeyLocator() KeyLocator

	// SignMessage signs the given message, single or double SHA256 hashing
	// it first, with the wrapped private key.
	SignMessage(message []byte, doubleHash bool) (*ecdsa.Signature, error)

	// SignMessageCompact signs the given message, single or double SHA256
	// hashing it first, with the wrapped private key and returns the
	// signature in the compact, public key recoverable format.
	SignMessageCompact(message []byte, doubleHash bool) ([]byte, error)
}

// ECDHRing is an interface that abstracts away basic low-level ECDH shared key
// generation on keys within a key ring.
type ECDHRing interface {
	// ECDH performs a scalar multiplication (ECDH-like operation) between
	// the target key descriptor and remote public key. The output
	// returned will be the sha256 of the resulting shared point serialized
	// in compressed format. If k is our private key, and P is the public
	// key, we perform the following operation:
	//
	//  sx := k*P
	//  s := sha256(sx.SerializeCompressed())
	ECDH(keyDesc KeyDescriptor, pubKey *btcec.PublicKey) ([32]byte, error)
}

// SingleKeyECDH is an abstraction interface that hides the implementation of an
// ECDH operation by wrapping a single, specific private key.
type SingleKeyECDH interface {
	// PubKey returns the public key of the wrapped private key.
	PubKey() *btcec.PublicKey

	// ECDH performs a scalar multiplication (ECDH-like operation) between
	// the wrapped private key and remote public key. The output returned
	// will be the sha256 of the resulting shared point serialized in
	// compressed format.
	ECDH(pubKey *btcec.PublicKey) ([32]byte, error)
}
