package signerdb_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/keymanager"
	"github.com/lightningnetwork/chansigner/lnwallet/chansigner"
	"github.com/lightningnetwork/chansigner/signerdb"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *signerdb.Store {
	t.Helper()

	db, cleanup, err := kvdb.GetTestBackend(t.TempDir(), "signerdb")
	require.NoError(t, err)
	t.Cleanup(cleanup)

	store, err := signerdb.New(db)
	require.NoError(t, err)

	return store
}

func newTestManager() *keymanager.Manager {
	return keymanager.New([32]byte{0x11, 0x22}, 1_700_000_000, 5)
}

// TestSignerStore asserts that stored signers are restored through the key
// manager.
func TestSignerStore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	m := newTestManager()

	s0 := m.NewChannelSigner(1_000_000)
	s1 := m.NewChannelSigner(500_000)
	require.NoError(t, store.PutSigner(s0))
	require.NoError(t, store.PutSigner(s1))

	// Storing a signer again replaces it.
	require.NoError(t, store.PutSigner(s1))

	restored, err := store.FetchSigner(s1.ChannelKeysID(), m)
	require.NoError(t, err)
	require.Equal(t, s1.ChannelValue(), restored.ChannelValue())
	require.True(t, s1.Pubkeys().IsEqual(restored.Pubkeys()))

	_, err = store.FetchSigner(keychain.NewChannelKeysID(7, 0, 0), m)
	require.ErrorIs(t, err, signerdb.ErrSignerNotFound)

	seen := make(map[keychain.ChannelKeysID]struct{})
	err = store.ForEachSigner(m, func(s *chansigner.InMemorySigner) error {
		seen[s.ChannelKeysID()] = struct{}{}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	require.Contains(t, seen, s0.ChannelKeysID())

	// Another seed can't restore our signers.
	other := keymanager.New([32]byte{0x33}, 0, 0)
	_, err = store.FetchSigner(s0.ChannelKeysID(), other)
	require.ErrorIs(t, err, chansigner.ErrDecode)
}

// TestSpendableOutputs asserts that outputs stay stored until a spend of
// them is recorded.
func TestSpendableOutputs(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	m := newTestManager()

	dest, err := m.DestinationScript()
	require.NoError(t, err)
	change, err := m.DestinationScript()
	require.NoError(t, err)

	descs := []sweep.SpendableOutputDescriptor{
		&sweep.StaticOutput{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
			Output:   wire.NewTxOut(70_000, dest),
		},
		&sweep.StaticOutput{
			OutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{0x01},
				Index: 1,
			},
			Output: wire.NewTxOut(30_000, dest),
		},
		&sweep.StaticOutput{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}},
			Output:   wire.NewTxOut(20_000, dest),
		},
	}
	require.NoError(t, store.AddSpendableOutputs(descs...))

	stored, err := store.FetchSpendableOutputs()
	require.NoError(t, err)
	require.Len(t, stored, len(descs))

	// Sweep the first two outputs only.
	spendTx, err := m.SpendSpendableOutputs(descs[:2], nil, change, 1000)
	require.NoError(t, err)
	require.NoError(t, store.RemoveSpendableOutputs(spendTx))

	stored, err = store.FetchSpendableOutputs()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, descs[2].Outpoint(), stored[0].Outpoint())
	require.Equal(t, descs[2].TxOut().Value, stored[0].TxOut().Value)

	ours, err := store.IsOurSpend(spendTx.TxHash())
	require.NoError(t, err)
	require.True(t, ours)

	ours, err = store.IsOurSpend(chainhash.Hash{0xaa})
	require.NoError(t, err)
	require.False(t, ours)

	spends, err := store.ListSpends()
	require.NoError(t, err)
	require.Equal(t, []chainhash.Hash{spendTx.TxHash()}, spends)
}

// TestNextKeyIndex asserts that the stored key index only moves forward.
func TestNextKeyIndex(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	index, err := store.NextKeyIndex()
	require.NoError(t, err)
	require.Zero(t, index)

	require.NoError(t, store.PutNextKeyIndex(7))
	require.NoError(t, store.PutNextKeyIndex(3))

	index, err = store.NextKeyIndex()
	require.NoError(t, err)
	require.Equal(t, uint32(7), index)
}
