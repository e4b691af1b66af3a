package keychain

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testSeed = [32]byte{
	0x81, 0xb6, 0x37, 0xd8, 0xfc, 0xd2, 0xc6, 0xda,
	0x63, 0x59, 0xe6, 0x96, 0x31, 0x13, 0xa1, 0x17,
	0x0d, 0xe7, 0x95, 0xe4, 0xb7, 0x25, 0xb8, 0x4d,
	0x1e, 0x0b, 0x4c, 0xfd, 0x9e, 0xc5, 0x8c, 0xe9,
}

func newTestRing(t testing.TB, seed [32]byte) *HDKeyRing {
	ring, err := NewHDKeyRing(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	return ring
}

// TestDeriveChannelKeysDeterministic checks that deriving the keys of the same
// channel twice yields identical material.
func TestDeriveChannelKeysDeterministic(t *testing.T) {
	t.Parallel()

	id := NewChannelKeysID(7, 1_700_000_000, 42)

	first := DeriveChannelKeys(newTestRing(t, testSeed), testSeed, id)
	second := DeriveChannelKeys(newTestRing(t, testSeed), testSeed, id)

	require.Equal(t, first.KeysID, second.KeysID)
	require.Equal(t, first.CommitmentSeed, second.CommitmentSeed)
	require.Equal(
		t, first.FundingKey.Serialize(), second.FundingKey.Serialize(),
	)
	require.Equal(
		t, first.RevocationBaseKey.Serialize(),
		second.RevocationBaseKey.Serialize(),
	)
	require.Equal(
		t, first.PaymentKey.Serialize(), second.PaymentKey.Serialize(),
	)
	require.Equal(
		t, first.DelayedPaymentBaseKey.Serialize(),
		second.DelayedPaymentBaseKey.Serialize(),
	)
	require.Equal(
		t, first.HtlcBaseKey.Serialize(), second.HtlcBaseKey.Serialize(),
	)
}

// TestDeriveChannelKeysIndependent checks that different identifiers, and the
// different keys of one channel, never share material.
func TestDeriveChannelKeysIndependent(t *testing.T) {
	t.Parallel()

	ring := newTestRing(t, testSeed)

	rapid.Check(t, func(t *rapid.T) {
		childA := rapid.Uint32Range(0, MaxChannelChildIndex).Draw(
			t, "childA",
		)
		childB := rapid.Uint32Range(0, MaxChannelChildIndex).Draw(
			t, "childB",
		)
		secs := rapid.Uint64().Draw(t, "secs")
		nanosA := rapid.Uint32Range(0, 999_999_999).Draw(t, "nanosA")
		nanosB := rapid.Uint32Range(0, 999_999_999).Draw(t, "nanosB")

		idA := NewChannelKeysID(childA, secs, nanosA)
		idB := NewChannelKeysID(childB, secs, nanosB)
		if idA == idB {
			t.Skip("identical identifiers")
		}

		a := DeriveChannelKeys(ring, testSeed, idA)
		b := DeriveChannelKeys(ring, testSeed, idB)

		require.NotEqual(t, a.CommitmentSeed, b.CommitmentSeed)
		require.False(t, a.FundingKey.PubKey().IsEqual(
			b.FundingKey.PubKey(),
		))

		seen := make(map[string]struct{})
		for _, key := range []*btcec.PrivateKey{
			a.FundingKey, a.RevocationBaseKey, a.PaymentKey,
			a.DelayedPaymentBaseKey, a.HtlcBaseKey,
		} {
			seen[string(key.Serialize())] = struct{}{}
		}
		seen[string(a.CommitmentSeed[:])] = struct{}{}
		require.Len(t, seen, 6)
	})
}

// TestDeriveChannelKeysSeedDependent checks that the same identifier under a
// different seed gives different keys.
func TestDeriveChannelKeysSeedDependent(t *testing.T) {
	t.Parallel()

	otherSeed := testSeed
	otherSeed[0] ^= 0x01

	id := NewChannelKeysID(1, 2, 3)
	a := DeriveChannelKeys(newTestRing(t, testSeed), testSeed, id)
	b := DeriveChannelKeys(newTestRing(t, otherSeed), otherSeed, id)

	require.NotEqual(t, a.CommitmentSeed, b.CommitmentSeed)
	require.NotEqual(t, a.PaymentKey.Serialize(), b.PaymentKey.Serialize())
}

// TestChannelKeysIDLayout checks the byte layout of freshly allocated
// identifiers.
func TestChannelKeysIDLayout(t *testing.T) {
	t.Parallel()

	id := NewChannelKeysID(0x01020304, 0x1112131415161718, 0x21222324)

	require.Equal(t, uint64(0x01020304), id.ChildIndex())
	require.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, id[0:8])
	require.Equal(t, []byte{0, 0, 0, 0, 0x21, 0x22, 0x23, 0x24}, id[8:16])
	require.Equal(
		t, []byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18},
		id[16:24],
	)
	require.Equal(t, make([]byte, 8), id[24:32])
}

// TestDeriveChannelKeysChildRange makes sure identifiers whose child index
// can't be a hardened child number are refused.
func TestDeriveChannelKeysChildRange(t *testing.T) {
	t.Parallel()

	ring := newTestRing(t, testSeed)

	var id ChannelKeysID
	id[4] = 0x80

	require.Panics(t, func() {
		DeriveChannelKeys(ring, testSeed, id)
	})
}

// TestChannelKeysZero checks that zeroing wipes all secrets.
func TestChannelKeysZero(t *testing.T) {
	t.Parallel()

	keys := DeriveChannelKeys(
		newTestRing(t, testSeed), testSeed, NewChannelKeysID(3, 4, 5),
	)
	keys.Zero()

	require.Equal(t, [32]byte{}, keys.CommitmentSeed)
	require.True(t, keys.FundingKey.Key.IsZero())
	require.True(t, keys.HtlcBaseKey.Key.IsZero())
}

// TestHDKeyRingDerivation checks the public and private derivation of the
// ring agree and that families don't overlap.
func TestHDKeyRingDerivation(t *testing.T) {
	t.Parallel()

	ring := newTestRing(t, testSeed)

	loc := KeyLocator{Family: KeyFamilyDestination, Index: 3}
	desc, err := ring.DeriveKey(loc)
	require.NoError(t, err)
	require.Equal(t, loc, desc.KeyLocator)

	privKey, err := ring.DerivePrivKey(desc)
	require.NoError(t, err)
	require.True(t, privKey.PubKey().IsEqual(desc.PubKey))

	other, err := ring.DeriveKey(KeyLocator{
		Family: KeyFamilyShutdown, Index: 3,
	})
	require.NoError(t, err)
	require.False(t, other.PubKey.IsEqual(desc.PubKey))

	// A descriptor whose public key doesn't match the locator is refused.
	_, err = ring.DerivePrivKey(KeyDescriptor{
		KeyLocator: loc,
		PubKey:     other.PubKey,
	})
	require.ErrorIs(t, err, ErrCannotDerivePrivKey)

	_, err = ring.DeriveKey(KeyLocator{Index: hks})
	require.Error(t, err)
}

// TestECDH checks that both sides of an ECDH exchange compute the same shared
// secret.
func TestECDH(t *testing.T) {
	t.Parallel()

	ring := newTestRing(t, testSeed)
	nodeDesc, err := ring.DeriveKey(KeyLocator{Family: KeyFamilyNodeKey})
	require.NoError(t, err)

	remote, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	local := NewPubKeyECDH(nodeDesc, ring)
	secretA, err := local.ECDH(remote.PubKey())
	require.NoError(t, err)

	secretB, err := (&PrivKeyECDH{PrivKey: remote}).ECDH(local.PubKey())
	require.NoError(t, err)

	require.Equal(t, secretA, secretB)

	_, err = (&PrivKeyECDH{PrivKey: remote}).ECDH(nil)
	require.ErrorIs(t, err, ErrNoRemoteKey)
}

// TestMessageSigners checks the ring based and in-memory message signers
// produce valid signatures over the expected digests.
func TestMessageSigners(t *testing.T) {
	t.Parallel()

	ring := newTestRing(t, testSeed)
	loc := KeyLocator{Family: KeyFamilyNodeKey}
	desc, err := ring.DeriveKey(loc)
	require.NoError(t, err)
	privKey, err := ring.DerivePrivKey(desc)
	require.NoError(t, err)

	msg := []byte("channel signer")
	signers := []SingleKeyMessageSigner{
		NewPubKeyMessageSigner(desc.PubKey, loc, ring),
		NewPrivKeyMessageSigner(privKey, loc),
	}

	for _, signer := range signers {
		require.Equal(t, loc, signer.KeyLocator())
		require.True(t, signer.PubKey().IsEqual(desc.PubKey))

		sig, err := signer.SignMessage(msg, true)
		require.NoError(t, err)
		require.True(t, sig.Verify(
			chainhash.DoubleHashB(msg), desc.PubKey,
		))

		sig, err = signer.SignMessage(msg, false)
		require.NoError(t, err)
		require.True(t, sig.Verify(chainhash.HashB(msg), desc.PubKey))

		compact, err := signer.SignMessageCompact(msg, true)
		require.NoError(t, err)

		pubKey, _, err := ecdsa.RecoverCompact(
			compact, chainhash.DoubleHashB(msg),
		)
		require.NoError(t, err)
		require.True(t, bytes.Equal(
			pubKey.SerializeCompressed(),
			desc.PubKey.SerializeCompressed(),
		))
	}
}
