package keychain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/hkdf"
)

// ChannelKeysIDSize is the size of a ChannelKeysID in bytes.
const ChannelKeysIDSize = 32

// MaxChannelChildIndex is the highest channel child index that can be used,
// as the index is turned into a hardened BIP32 child number.
const MaxChannelChildIndex = hks - 1

// Labels that separate the keys expanded from the unique channel secret.
var (
	commitmentSeedInfo     = []byte("commitment seed")
	fundingKeyInfo         = []byte("funding key")
	revocationBaseKeyInfo  = []byte("revocation base key")
	paymentKeyInfo         = []byte("payment key")
	delayedPaymentBaseInfo = []byte("delayed payment base key")
	htlcBaseKeyInfo        = []byte("HTLC base key")
)

// ChannelKeysID uniquely names the key material of one channel. It is all
// that is needed, together with the node's root seed, to re-derive the keys of
// the channel after a restart.
//
// Identifiers allocated for new channels are laid out as follows:
//
//	[0:8]   big endian channel child index
//	[8:16]  big endian starting time nanoseconds
//	[16:24] big endian starting time seconds
//	[24:32] zero
type ChannelKeysID [ChannelKeysIDSize]byte

// NewChannelKeysID creates the identifier of the child-th channel opened by a
// process that started at the given time.
func NewChannelKeysID(child uint32, startSecs uint64,
	startNanos uint32) ChannelKeysID {

	var id ChannelKeysID
	binary.BigEndian.PutUint64(id[0:8], uint64(child))
	binary.BigEndian.PutUint64(id[8:16], uint64(startNanos))
	binary.BigEndian.PutUint64(id[16:24], startSecs)

	return id
}

// ChildIndex returns the channel child index encoded in the first eight bytes
// of the identifier.
func (c ChannelKeysID) ChildIndex() uint64 {
	return binary.BigEndian.Uint64(c[0:8])
}

// String returns the hex encoding of the identifier.
func (c ChannelKeysID) String() string {
	return hex.EncodeToString(c[:])
}

// ChannelKeys is the secret material of a single channel.
type ChannelKeys struct {
	// KeysID is the identifier the keys were derived from.
	KeysID ChannelKeysID

	// FundingKey is our key in the 2-of-2 funding output.
	FundingKey *btcec.PrivateKey

	// RevocationBaseKey is combined with the counterparty's per-commitment
	// secrets to punish them for broadcasting revoked states.
	RevocationBaseKey *btcec.PrivateKey

	// PaymentKey pays us without delay on counterparty commitments.
	PaymentKey *btcec.PrivateKey

	// DelayedPaymentBaseKey is tweaked with our per-commitment points to
	// claim our delayed outputs.
	DelayedPaymentBaseKey *btcec.PrivateKey

	// HtlcBaseKey is tweaked with per-commitment points to sign HTLC
	// transactions.
	HtlcBaseKey *btcec.PrivateKey

	// CommitmentSeed is the root of our per-commitment secret chain.
	CommitmentSeed [32]byte
}

// Zero wipes all secret material.
func (c *ChannelKeys) Zero() {
	for _, key := range []*btcec.PrivateKey{
		c.FundingKey, c.RevocationBaseKey, c.PaymentKey,
		c.DelayedPaymentBaseKey, c.HtlcBaseKey,
	} {
		if key != nil {
			key.Zero()
		}
	}

	for i := range c.CommitmentSeed {
		c.CommitmentSeed[i] = 0
	}
}

// DeriveChannelKeys derives the key material of the channel named by id. The
// channel child key m/3'/child' is hashed together with the identifier and the
// root seed into a unique channel secret, which is then expanded with
// HKDF-SHA256 under a distinct label per key.
//
// The function is deterministic. It panics if the child index of the
// identifier does not fit into a hardened child number, since such an
// identifier was never handed out by this package.
func DeriveChannelKeys(ring *HDKeyRing, seed [32]byte,
	id ChannelKeysID) *ChannelKeys {

	child := id.ChildIndex()
	if child > uint64(MaxChannelChildIndex) {
		panic(fmt.Sprintf("channel child index %d exceeds %d", child,
			MaxChannelChildIndex))
	}

	chanKey, err := ring.DerivePrivKey(KeyDescriptor{
		KeyLocator: KeyLocator{
			Family: KeyFamilyChannel,
			Index:  uint32(child),
		},
	})
	if err != nil {
		panic(fmt.Sprintf("unable to derive channel key: %v", err))
	}

	h := sha256.New()
	h.Write(id[:])
	h.Write(seed[:])
	h.Write(chanKey.Serialize())
	var unique [32]byte
	copy(unique[:], h.Sum(nil))
	chanKey.Zero()

	keys := &ChannelKeys{
		KeysID:                id,
		FundingKey:            expandKey(unique, fundingKeyInfo),
		RevocationBaseKey:     expandKey(unique, revocationBaseKeyInfo),
		PaymentKey:            expandKey(unique, paymentKeyInfo),
		DelayedPaymentBaseKey: expandKey(unique, delayedPaymentBaseInfo),
		HtlcBaseKey:           expandKey(unique, htlcBaseKeyInfo),
	}

	seedReader := hkdf.New(sha256.New, unique[:], nil, commitmentSeedInfo)
	if _, err := io.ReadFull(seedReader, keys.CommitmentSeed[:]); err != nil {
		panic(fmt.Sprintf("unable to expand commitment seed: %v", err))
	}

	log.Debugf("Derived channel keys for keys_id=%v", id)

	return keys
}

// expandKey expands a private key from the unique channel secret. Blocks that
// do not form a valid scalar are skipped.
func expandKey(secret [32]byte, info []byte) *btcec.PrivateKey {
	r := hkdf.New(sha256.New, secret[:], nil, info)

	var block [32]byte
	for {
		if _, err := io.ReadFull(r, block[:]); err != nil {
			panic(fmt.Sprintf("unable to expand %s: %v", info, err))
		}

		var scalar btcec.ModNScalar
		overflow := scalar.SetBytes(&block)
		if overflow == 0 && !scalar.IsZero() {
			break
		}
	}

	privKey, _ := btcec.PrivKeyFromBytes(block[:])

	return privKey
}
