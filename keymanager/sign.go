package keymanager

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/tv42/zbase32"
)

// signedMsgPrefix is prepended to every signed message, so a message signature
// can never double as a signature over a sighash.
var signedMsgPrefix = []byte("Lightning Signed Message:")

// ErrInvalidMessageSignature is returned when a message signature can't be
// decoded or a public key can't be recovered from it.
var ErrInvalidMessageSignature = errors.New("invalid message signature")

// ErrInvalidWord is returned when invoice data holds a value that isn't a
// 5-bit word.
var ErrInvalidWord = errors.New("invalid 5-bit word")

var nodeKeyLoc = keychain.KeyLocator{Family: keychain.KeyFamilyNodeKey}

// prefixed returns msg with the signed message prefix prepended.
func prefixed(msg []byte) []byte {
	b := make([]byte, 0, len(signedMsgPrefix)+len(msg))
	b = append(b, signedMsgPrefix...)

	return append(b, msg...)
}

// SignMessage signs msg with the node identity key. The signature is the
// zbase32 encoding of a compact recoverable signature over the double sha256
// of the prefixed message.
func (m *Manager) SignMessage(msg []byte) (string, error) {
	sig, err := m.ring.SignMessageCompact(nodeKeyLoc, prefixed(msg), true)
	if err != nil {
		return "", err
	}

	return zbase32.EncodeToString(sig), nil
}

// RecoverPubKey returns the key that produced the zbase32 encoded signature
// over msg.
func RecoverPubKey(msg []byte, sig string) (*btcec.PublicKey, error) {
	b, err := zbase32.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageSignature, err)
	}

	digest := chainhash.DoubleHashB(prefixed(msg))
	pubKey, _, err := ecdsa.RecoverCompact(b, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageSignature, err)
	}

	return pubKey, nil
}

// VerifyMessage checks that sig is a signature over msg by pubKey.
func VerifyMessage(msg []byte, sig string,
	pubKey *btcec.PublicKey) (bool, error) {

	recovered, err := RecoverPubKey(msg, sig)
	if err != nil {
		return false, err
	}

	return recovered.IsEqual(pubKey), nil
}

// SignInvoice signs an invoice with the node identity key. The data part is
// given as 5-bit groups, which are converted to bytes and appended to the
// human readable part. The result is a compact recoverable signature over the
// sha256 of that preimage.
func (m *Manager) SignInvoice(hrp string, data []byte) ([]byte, error) {
	for i, w := range data {
		if w > 31 {
			return nil, fmt.Errorf("%w: word %d is %d", ErrInvalidWord,
				i, w)
		}
	}

	dataBytes, err := bech32.ConvertBits(data, 5, 8, true)
	if err != nil {
		return nil, err
	}

	toSign := append([]byte(hrp), dataBytes...)

	log.Debugf("Signing invoice with hrp=%v over %d data bytes", hrp,
		len(dataBytes))

	return m.ring.SignMessageCompact(nodeKeyLoc, toSign, false)
}
