package keychain

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const hks = hdkeychain.HardenedKeyStart

// HDKeyRing is a SecretKeyRing backed by a single BIP32 master key created
// from the node's root seed. All keys are derived along hardened paths of the
// form m/family'/index'.
type HDKeyRing struct {
	master *hdkeychain.ExtendedKey

	// families caches the hardened family nodes directly below the
	// master key.
	mu       sync.Mutex
	families map[KeyFamily]*hdkeychain.ExtendedKey
}

// A compile time check to ensure HDKeyRing implements the SecretKeyRing
// interface.
var _ SecretKeyRing = (*HDKeyRing)(nil)

// NewHDKeyRing creates a new key ring from the given root seed.
func NewHDKeyRing(seed [32]byte, net *chaincfg.Params) (*HDKeyRing, error) {
	master, err := hdkeychain.NewMaster(seed[:], net)
	if err != nil {
		return nil, fmt.Errorf("unable to create master key: %w", err)
	}

	return &HDKeyRing{
		master:   master,
		families: make(map[KeyFamily]*hdkeychain.ExtendedKey),
	}, nil
}

// familyKey returns the extended key of the given family, deriving and
// caching it on first use.
func (k *HDKeyRing) familyKey(family KeyFamily) (*hdkeychain.ExtendedKey,
	error) {

	if uint32(family) >= hks {
		return nil, fmt.Errorf("key family %d out of range", family)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.families[family]; ok {
		return key, nil
	}

	key, err := k.master.Derive(hks + uint32(family))
	if err != nil {
		return nil, err
	}
	k.families[family] = key

	return key, nil
}

// DeriveExtendedKey derives the extended private key at m/family'/index'.
func (k *HDKeyRing) DeriveExtendedKey(keyLoc KeyLocator) (
	*hdkeychain.ExtendedKey, error) {

	if keyLoc.Index >= hks {
		return nil, fmt.Errorf("key index %d out of range", keyLoc.Index)
	}

	family, err := k.familyKey(keyLoc.Family)
	if err != nil {
		return nil, err
	}

	return family.Derive(hks + keyLoc.Index)
}

// DeriveKey attempts to derive an arbitrary key specified by the passed
// KeyLocator.
//
// NOTE: This is part of the KeyRing interface.
func (k *HDKeyRing) DeriveKey(keyLoc KeyLocator) (KeyDescriptor, error) {
	privKey, err := k.DerivePrivKey(KeyDescriptor{KeyLocator: keyLoc})
	if err != nil {
		return KeyDescriptor{}, err
	}

	return KeyDescriptor{
		KeyLocator: keyLoc,
		PubKey:     privKey.PubKey(),
	}, nil
}

// DerivePrivKey attempts to derive the private key that corresponds to the
// passed key descriptor. If the descriptor carries a public key, it must
// match the key found at the locator.
//
// NOTE: This is part of the SecretKeyRing interface.
func (k *HDKeyRing) DerivePrivKey(keyDesc KeyDescriptor) (*btcec.PrivateKey,
	error) {

	extKey, err := k.DeriveExtendedKey(keyDesc.KeyLocator)
	if err != nil {
		return nil, err
	}

	privKey, err := extKey.ECPrivKey()
	if err != nil {
		return nil, err
	}

	if keyDesc.PubKey != nil && !keyDesc.PubKey.IsEqual(privKey.PubKey()) {
		return nil, ErrCannotDerivePrivKey
	}

	return privKey, nil
}

// ECDH performs a scalar multiplication (ECDH-like operation) between the
// target key descriptor and remote public key.
//
// NOTE: This is part of the ECDHRing interface.
func (k *HDKeyRing) ECDH(keyDesc KeyDescriptor,
	pub *btcec.PublicKey) ([32]byte, error) {

	privKey, err := k.DerivePrivKey(keyDesc)
	if err != nil {
		return [32]byte{}, err
	}

	return (&PrivKeyECDH{PrivKey: privKey}).ECDH(pub)
}

// SignMessage signs the given message, single or double SHA256 hashing it
// first, with the private key described in the key locator.
//
// NOTE: This is part of the MessageSignerRing interface.
func (k *HDKeyRing) SignMessage(keyLoc KeyLocator, msg []byte,
	doubleHash bool) (*ecdsa.Signature, error) {

	privKey, err := k.DerivePrivKey(KeyDescriptor{KeyLocator: keyLoc})
	if err != nil {
		return nil, err
	}

	return ecdsa.Sign(privKey, messageDigest(msg, doubleHash)), nil
}

// SignMessageCompact signs the given message, single or double SHA256 hashing
// it first, with the private key described in the key locator and returns
// the signature in the compact, public key recoverable format.
//
// NOTE: This is part of the MessageSignerRing interface.
func (k *HDKeyRing) SignMessageCompact(keyLoc KeyLocator, msg []byte,
	doubleHash bool) ([]byte, error) {

	privKey, err := k.DerivePrivKey(KeyDescriptor{KeyLocator: keyLoc})
	if err != nil {
		return nil, err
	}

	return ecdsa.SignCompact(privKey, messageDigest(msg, doubleHash), true),
		nil
}

// messageDigest returns the single or double SHA256 of the message.
func messageDigest(msg []byte, doubleHash bool) []byte {
	if doubleHash {
		return chainhash.DoubleHashB(msg)
	}

	return chainhash.HashB(msg)
}
