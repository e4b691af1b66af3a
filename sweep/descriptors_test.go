package sweep

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genOutPoint() *rapid.Generator[wire.OutPoint] {
	return rapid.Custom(func(t *rapid.T) wire.OutPoint {
		hash := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "hash")

		return wire.OutPoint{
			Hash:  chainhash.Hash(hash),
			Index: rapid.Uint32().Draw(t, "index"),
		}
	})
}

func genTxOut() *rapid.Generator[*wire.TxOut] {
	return rapid.Custom(func(t *rapid.T) *wire.TxOut {
		return wire.NewTxOut(
			rapid.Int64Range(0, btcutil.MaxSatoshi).Draw(t, "value"),
			rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "pkScript"),
		)
	})
}

func genPubKey() *rapid.Generator[*btcec.PublicKey] {
	return rapid.Custom(func(t *rapid.T) *btcec.PublicKey {
		b := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "scalar")

		// Keep the scalar non-zero.
		b[31] |= 0x01
		_, pub := btcec.PrivKeyFromBytes(b)

		return pub
	})
}

func genKeysID() *rapid.Generator[keychain.ChannelKeysID] {
	return rapid.Custom(func(t *rapid.T) keychain.ChannelKeysID {
		b := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "keysID")

		return keychain.ChannelKeysID(b)
	})
}

func genDescriptor() *rapid.Generator[SpendableOutputDescriptor] {
	return rapid.Custom(func(t *rapid.T) SpendableOutputDescriptor {
		switch rapid.IntRange(0, 2).Draw(t, "variant") {
		case 0:
			return &StaticOutput{
				OutPoint: genOutPoint().Draw(t, "outpoint"),
				Output:   genTxOut().Draw(t, "output"),
			}

		case 1:
			return &DelayedPaymentOutput{
				OutPoint:           genOutPoint().Draw(t, "outpoint"),
				PerCommitmentPoint: genPubKey().Draw(t, "point"),
				ToSelfDelay:        rapid.Uint16().Draw(t, "delay"),
				Output:             genTxOut().Draw(t, "output"),
				RevocationPubkey:   genPubKey().Draw(t, "revocation"),
				ChannelKeysID:      genKeysID().Draw(t, "keysID"),
				ChannelValueSat: btcutil.Amount(
					rapid.Int64Min(0).Draw(t, "value"),
				),
			}

		default:
			return &StaticPaymentOutput{
				OutPoint:      genOutPoint().Draw(t, "outpoint"),
				Output:        genTxOut().Draw(t, "output"),
				ChannelKeysID: genKeysID().Draw(t, "keysID"),
				ChannelValueSat: btcutil.Amount(
					rapid.Int64Min(0).Draw(t, "value"),
				),
			}
		}
	})
}

// TestDescriptorRoundTrip asserts that every descriptor variant survives an
// encoding round trip, and that malformed encodings are refused.
func TestDescriptorRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		desc := genDescriptor().Draw(t, "desc")

		b, err := EncodeDescriptorBytes(desc)
		require.NoError(t, err)

		decoded, err := DecodeDescriptorBytes(b)
		require.NoError(t, err)
		require.Equal(t, desc.Type(), decoded.Type())
		require.Equal(t, desc.Outpoint(), decoded.Outpoint())
		require.Equal(t, desc.TxOut().Value, decoded.TxOut().Value)
		require.Equal(t, desc.Sequence(), decoded.Sequence())
		require.Equal(t, desc.WitnessType(), decoded.WitnessType())

		again, err := EncodeDescriptorBytes(decoded)
		require.NoError(t, err)
		require.Equal(t, b, again)

		cut := rapid.IntRange(0, len(b)-1).Draw(t, "cut")
		_, err = DecodeDescriptorBytes(b[:cut])
		require.ErrorIs(t, err, ErrDecode)

		_, err = DecodeDescriptorBytes(append(b, 0x00))
		require.ErrorIs(t, err, ErrDecode)
	})
}

// TestDescriptorUnknownType asserts that unknown variants are refused.
func TestDescriptorUnknownType(t *testing.T) {
	t.Parallel()

	desc := &StaticOutput{
		Output: wire.NewTxOut(1000, []byte{0x51}),
	}
	b, err := EncodeDescriptorBytes(desc)
	require.NoError(t, err)

	b[0] = 0x07
	_, err = DecodeDescriptorBytes(b)
	require.ErrorIs(t, err, ErrDecode)

	_, err = DecodeDescriptor(bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrDecode)
}

// TestDescriptorMissingRecord asserts that a descriptor lacking one of its
// records is refused.
func TestDescriptorMissingRecord(t *testing.T) {
	t.Parallel()

	// A StaticOutput stream decoded as a StaticPaymentOutput lacks the
	// keys id and the channel value.
	desc := &StaticOutput{
		Output: wire.NewTxOut(1000, []byte{0x51}),
	}
	b, err := EncodeDescriptorBytes(desc)
	require.NoError(t, err)

	b[0] = byte(StaticPaymentOutputType)
	_, err = DecodeDescriptorBytes(b)
	require.ErrorIs(t, err, ErrDecode)
}
