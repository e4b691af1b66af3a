package keychain

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// NewPubKeyMessageSigner creates a new SingleKeyMessageSigner for the key
// described by the key locator, delegating the signing to the given ring.
func NewPubKeyMessageSigner(pubKey *btcec.PublicKey, keyLoc KeyLocator,
	signer MessageSignerRing) *PubKeyMessageSigner {

	return &PubKeyMessageSigner{
		pubKey:       pubKey,
		keyLoc:       keyLoc,
		digestSigner: signer,
	}
}

// PubKeyMessageSigner is a SingleKeyMessageSigner that only knows the public
// key and the locator of its key.
type PubKeyMessageSigner struct {
	pubKey       *btcec.PublicKey
	keyLoc       KeyLocator
	digestSigner MessageSignerRing
}

// PubKey returns the public key of the wrapped private key.
func (p *PubKeyMessageSigner) PubKey() *btcec.PublicKey {
	return p.pubKey
}

// KeyLocator returns the locator that describes the wrapped private key.
func (p *PubKeyMessageSigner) KeyLocator() KeyLocator {
	return p.keyLoc
}

// SignMessage signs the given message, single or double SHA256 hashing it
// first, with the wrapped private key.
func (p *PubKeyMessageSigner) SignMessage(message []byte,
	doubleHash bool) (*ecdsa.Signature, error) {

	return p.digestSigner.SignMessage(p.keyLoc, message, doubleHash)
}

// SignMessageCompact signs the given message, single or double SHA256 hashing
// it first, with the wrapped private key and returns the signature in the
// compact, public key recoverable format.
func (p *PubKeyMessageSigner) SignMessageCompact(msg []byte,
	doubleHash bool) ([]byte, error) {

	return p.digestSigner.SignMessageCompact(p.keyLoc, msg, doubleHash)
}

// NewPrivKeyMessageSigner creates a new SingleKeyMessageSigner that holds the
// private key in memory.
func NewPrivKeyMessageSigner(privKey *btcec.PrivateKey,
	keyLoc KeyLocator) *PrivKeyMessageSigner {

	return &PrivKeyMessageSigner{
		privKey: privKey,
		keyLoc:  keyLoc,
	}
}

// PrivKeyMessageSigner is a SingleKeyMessageSigner implementation that uses an
// in-memory private key.
type PrivKeyMessageSigner struct {
	privKey *btcec.PrivateKey
	keyLoc  KeyLocator
}

// PubKey returns the public key of the wrapped private key.
func (p *PrivKeyMessageSigner) PubKey() *btcec.PublicKey {
	return p.privKey.PubKey()
}

// KeyLocator returns the locator that describes the wrapped private key.
func (p *PrivKeyMessageSigner) KeyLocator() KeyLocator {
	return p.keyLoc
}

// SignMessage signs the given message, single or double SHA256 hashing it
// first, with the wrapped private key.
func (p *PrivKeyMessageSigner) SignMessage(msg []byte,
	doubleHash bool) (*ecdsa.Signature, error) {

	return ecdsa.Sign(p.privKey, messageDigest(msg, doubleHash)), nil
}

// SignMessageCompact signs the given message, single or double SHA256 hashing
// it first, with the wrapped private key and returns the signature in the
// compact, public key recoverable format.
func (p *PrivKeyMessageSigner) SignMessageCompact(msg []byte,
	doubleHash bool) ([]byte, error) {

	return ecdsa.SignCompact(p.privKey, messageDigest(msg, doubleHash), true),
		nil
}

var _ SingleKeyMessageSigner = (*PubKeyMessageSigner)(nil)
var _ SingleKeyMessageSigner = (*PrivKeyMessageSigner)(nil)
