package input

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrUnknownSigningKey is returned when a KeySigner is asked to sign with a key
// it doesn't hold.
var ErrUnknownSigningKey = errors.New("signer does not have key")

// KeySigner is a Signer backed by a fixed set of in-memory private keys. Each
// signing request is matched against the held keys by the public key of its
// sign descriptor, and the descriptor's tweaks are applied before signing.
type KeySigner struct {
	keys []*btcec.PrivateKey
}

// A compile time check to ensure KeySigner implements the Signer interface.
var _ Signer = (*KeySigner)(nil)

// NewKeySigner creates a signer holding the given private keys.
func NewKeySigner(keys ...*btcec.PrivateKey) *KeySigner {
	return &KeySigner{
		keys: keys,
	}
}

// findKey returns the held private key of the given public key.
func (k *KeySigner) findKey(pubKey *btcec.PublicKey) *btcec.PrivateKey {
	for _, privKey := range k.keys {
		if privKey.PubKey().IsEqual(pubKey) {
			return privKey
		}
	}

	return nil
}

// signingKey returns the private key the sign descriptor describes, with its
// single or double tweak applied.
func (k *KeySigner) signingKey(signDesc *SignDescriptor) (*btcec.PrivateKey,
	error) {

	if signDesc.KeyDesc.PubKey == nil {
		return nil, fmt.Errorf("%w: no public key in sign descriptor",
			ErrUnknownSigningKey)
	}

	privKey := k.findKey(signDesc.KeyDesc.PubKey)
	if privKey == nil {
		return nil, ErrUnknownSigningKey
	}

	switch {
	case signDesc.SingleTweak != nil && signDesc.DoubleTweak != nil:
		return nil, ErrTweakOverdose

	case signDesc.SingleTweak != nil:
		return TweakPrivKey(privKey, signDesc.SingleTweak), nil

	case signDesc.DoubleTweak != nil:
		return DeriveRevocationPrivKey(privKey, signDesc.DoubleTweak), nil
	}

	return privKey, nil
}

// SignOutputRaw generates a signature for the passed transaction according to
// the data within the passed SignDescriptor.
//
// NOTE: This is part of the Signer interface.
func (k *KeySigner) SignOutputRaw(tx *wire.MsgTx,
	signDesc *SignDescriptor) (Signature, error) {

	privKey, err := k.signingKey(signDesc)
	if err != nil {
		return nil, err
	}

	if signDesc.InputIndex < 0 || signDesc.InputIndex >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range for tx "+
			"with %d inputs", signDesc.InputIndex, len(tx.TxIn))
	}

	sig, err := txscript.RawTxInWitnessSignature(
		tx, signDesc.sigHashes(tx), signDesc.InputIndex,
		signDesc.Output.Value, signDesc.WitnessScript,
		signDesc.HashType, privKey,
	)
	if err != nil {
		return nil, err
	}

	// Chop off the sighash flag at the end of the signature.
	return ecdsa.ParseDERSignature(sig[:len(sig)-1])
}

// ComputeInputScript generates a complete InputIndex for the passed
// transaction with the signature as defined within the passed SignDescriptor.
// Only p2wkh outputs paying to one of the held keys are supported.
//
// NOTE: This is part of the Signer interface.
func (k *KeySigner) ComputeInputScript(tx *wire.MsgTx,
	signDesc *SignDescriptor) (*Script, error) {

	pkScript := signDesc.Output.PkScript
	if !txscript.IsPayToWitnessPubKeyHash(pkScript) {
		return nil, fmt.Errorf("unexpected script type: %x", pkScript)
	}

	var privKey *btcec.PrivateKey
	for _, key := range k.keys {
		keyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
		if string(keyHash) == string(pkScript[2:]) {
			privKey = key
			break
		}
	}
	if privKey == nil {
		return nil, fmt.Errorf("%w for script %x", ErrUnknownSigningKey,
			pkScript)
	}

	witness, err := txscript.WitnessSignature(
		tx, signDesc.sigHashes(tx), signDesc.InputIndex,
		signDesc.Output.Value, pkScript, txscript.SigHashAll,
		privKey, true,
	)
	if err != nil {
		return nil, err
	}

	return &Script{Witness: witness}, nil
}
