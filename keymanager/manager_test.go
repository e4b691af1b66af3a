package keymanager_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/keymanager"
	"github.com/lightningnetwork/chansigner/lnwallet/chansigner"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var (
	testSeed = [32]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}

	testStartTime = time.Unix(1_700_000_000, 123_456_789)
)

func newTestManager() *keymanager.Manager {
	return keymanager.New(
		testSeed, uint64(testStartTime.Unix()),
		uint32(testStartTime.Nanosecond()),
	)
}

// TestNewZeroSeed asserts that a manager refuses an all-zero seed.
func TestNewZeroSeed(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		keymanager.New([32]byte{}, 0, 0)
	})
}

// TestDeterministicKeys asserts that two managers created from the same seed
// derive the same keys, regardless of their starting time.
func TestDeterministicKeys(t *testing.T) {
	t.Parallel()

	m1 := newTestManager()
	m2 := keymanager.New(testSeed, 42, 0)

	require.True(t, m1.NodePubKey().IsEqual(m2.NodePubKey()))
	require.Equal(t, m1.InboundPaymentKeyMaterial(),
		m2.InboundPaymentKeyMaterial())
	require.NotEqual(t, [32]byte{}, m1.InboundPaymentKeyMaterial())

	for i := 0; i < 3; i++ {
		s1, err := m1.DestinationScript()
		require.NoError(t, err)
		s2, err := m2.DestinationScript()
		require.NoError(t, err)
		require.Equal(t, s1, s2)
	}

	keysID := keychain.NewChannelKeysID(9, 1, 2)
	require.True(t, m1.DeriveChannelKeys(1000, keysID).Pubkeys().IsEqual(
		m2.DeriveChannelKeys(1000, keysID).Pubkeys(),
	))

	other := keymanager.New([32]byte{0xff}, 42, 0)
	require.False(t, m1.NodePubKey().IsEqual(other.NodePubKey()))
}

// TestScriptsUnique asserts that concurrently handed out destination and
// shutdown scripts are distinct P2WPKH scripts.
func TestScriptsUnique(t *testing.T) {
	t.Parallel()

	const numScripts = 20

	m := newTestManager()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		scripts = make(map[string]struct{})
	)
	for i := 0; i < numScripts; i++ {
		for _, next := range []func() ([]byte, error){
			m.DestinationScript, m.ShutdownScript,
		} {
			wg.Add(1)
			go func() {
				defer wg.Done()

				script, err := next()
				require.NoError(t, err)
				require.True(t, txscript.IsPayToWitnessPubKeyHash(
					script,
				))

				mu.Lock()
				scripts[string(script)] = struct{}{}
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	require.Len(t, scripts, 2*numScripts)
}

// TestNewChannelSigner asserts that every new channel gets a fresh keys id
// carrying the starting time of the manager.
func TestNewChannelSigner(t *testing.T) {
	t.Parallel()

	m := newTestManager()

	s0 := m.NewChannelSigner(1_000_000)
	s1 := m.NewChannelSigner(2_000_000)

	require.False(t, s0.IsReady())
	require.Equal(t, uint64(0), s0.ChannelKeysID().ChildIndex())
	require.Equal(t, uint64(1), s1.ChannelKeysID().ChildIndex())
	require.Equal(t, keychain.NewChannelKeysID(
		1, uint64(testStartTime.Unix()),
		uint32(testStartTime.Nanosecond()),
	), s1.ChannelKeysID())
	require.False(t, s0.Pubkeys().IsEqual(s1.Pubkeys()))

	// The signer of a channel can be re-derived from its keys id alone.
	again := m.DeriveChannelKeys(2_000_000, s1.ChannelKeysID())
	require.True(t, again.Pubkeys().IsEqual(s1.Pubkeys()))
}

// TestReadChanSigner asserts that serialized signers are only restored by
// the manager that derived them.
func TestReadChanSigner(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	signer := m.NewChannelSigner(1_000_000)

	b, err := signer.Serialize()
	require.NoError(t, err)

	restored, err := m.ReadChanSigner(b)
	require.NoError(t, err)
	require.Equal(t, signer.ChannelKeysID(), restored.ChannelKeysID())
	require.Equal(t, signer.ChannelValue(), restored.ChannelValue())
	require.True(t, signer.Pubkeys().IsEqual(restored.Pubkeys()))

	_, err = m.ReadChanSigner(b[:len(b)-1])
	require.ErrorIs(t, err, chansigner.ErrDecode)

	_, err = m.ReadChanSigner(append(b, 0x00))
	require.ErrorIs(t, err, chansigner.ErrDecode)

	// A signer of another seed under the same keys id is refused.
	foreign := keymanager.New([32]byte{0xff}, 0, 0).DeriveChannelKeys(
		1_000_000, signer.ChannelKeysID(),
	)
	b, err = foreign.Serialize()
	require.NoError(t, err)

	_, err = m.ReadChanSigner(b)
	require.ErrorIs(t, err, chansigner.ErrDecode)
}

// checkSpend asserts that every input of tx is validly signed.
func checkSpend(t *testing.T, tx *wire.MsgTx,
	prevOuts map[wire.OutPoint]*wire.TxOut) {

	t.Helper()

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		prevOut := prevOuts[txIn.PreviousOutPoint]
		require.NotNil(t, prevOut)

		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, hashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute())
	}
}

// TestSpendStaticOutputs asserts that outputs paying to handed out scripts
// can be swept, also by a manager restarted at a later index.
func TestSpendStaticOutputs(t *testing.T) {
	t.Parallel()

	m := newTestManager()

	dest, err := m.DestinationScript()
	require.NoError(t, err)
	shutdown, err := m.ShutdownScript()
	require.NoError(t, err)
	change, err := m.DestinationScript()
	require.NoError(t, err)

	descs := []sweep.SpendableOutputDescriptor{
		&sweep.StaticOutput{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
			Output:   wire.NewTxOut(60_000, dest),
		},
		&sweep.StaticOutput{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}},
			Output:   wire.NewTxOut(40_000, shutdown),
		},
	}
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for _, desc := range descs {
		prevOuts[desc.Outpoint()] = desc.TxOut()
	}

	tx, err := m.SpendSpendableOutputs(descs, nil, change, 2500)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, change, tx.TxOut[0].PkScript)
	checkSpend(t, tx, prevOuts)

	// A manager restarted above the issued indices still finds the keys.
	restarted, err := keymanager.NewFromConfig(&keymanager.Config{
		Seed:          hex.EncodeToString(testSeed[:]),
		StartingIndex: 2,
	}, clock.NewTestClock(testStartTime))
	require.NoError(t, err)

	tx, err = restarted.SpendSpendableOutputs(descs, nil, change, 2500)
	require.NoError(t, err)
	checkSpend(t, tx, prevOuts)

	// A fresh manager that never issued the scripts doesn't know them.
	fresh := keymanager.New(testSeed, 1, 1)
	_, err = fresh.SpendSpendableOutputs(descs, nil, change, 2500)
	require.ErrorIs(t, err, keymanager.ErrUnknownStaticOutput)

	packet, err := m.BuildSpendPacket(descs, nil, change, 2500)
	require.NoError(t, err)
	require.Len(t, packet.Inputs, 2)
}

// TestMessageSigning asserts that signed messages verify against the node
// key only.
func TestMessageSigning(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	msg := []byte("hello lightning")

	sig, err := m.SignMessage(msg)
	require.NoError(t, err)

	pubKey, err := keymanager.RecoverPubKey(msg, sig)
	require.NoError(t, err)
	require.True(t, pubKey.IsEqual(m.NodePubKey()))

	ok, err := keymanager.VerifyMessage(msg, sig, m.NodePubKey())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = keymanager.VerifyMessage([]byte("other"), sig, m.NodePubKey())
	require.NoError(t, err)
	require.False(t, ok)

	_, err = keymanager.RecoverPubKey(msg, "not zbase32!")
	require.ErrorIs(t, err, keymanager.ErrInvalidMessageSignature)
}

// TestSignInvoice asserts that invoice signatures recover to the node key.
func TestSignInvoice(t *testing.T) {
	t.Parallel()

	m := newTestManager()

	data := make([]byte, 52)
	for i := range data {
		data[i] = byte(i % 32)
	}

	sig, err := m.SignInvoice("lnbc", data)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	dataBytes, err := bech32.ConvertBits(data, 5, 8, true)
	require.NoError(t, err)
	digest := sha256.Sum256(append([]byte("lnbc"), dataBytes...))

	pubKey, _, err := ecdsa.RecoverCompact(sig, digest[:])
	require.NoError(t, err)
	require.True(t, pubKey.IsEqual(m.NodePubKey()))

	_, err = m.SignInvoice("lnbc", []byte{32})
	require.ErrorIs(t, err, keymanager.ErrInvalidWord)

	// A bad word anywhere in the data is refused, not truncated.
	bad := append([]byte{}, data...)
	bad[len(bad)-1] = 0xff
	_, err = m.SignInvoice("lnbc", bad)
	require.ErrorIs(t, err, keymanager.ErrInvalidWord)
}

// TestECDH asserts that both sides of an ECDH arrive at the same secret.
func TestECDH(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	remote, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ours, err := m.ECDH(remote.PubKey())
	require.NoError(t, err)

	theirs, err := (&keychain.PrivKeyECDH{PrivKey: remote}).ECDH(
		m.NodePubKey(),
	)
	require.NoError(t, err)
	require.Equal(t, ours, theirs)
}

// TestSecureRandomBytes asserts that no two outputs repeat.
func TestSecureRandomBytes(t *testing.T) {
	t.Parallel()

	m := newTestManager()

	seen := make(map[[32]byte]struct{})
	for i := 0; i < 100; i++ {
		b := m.SecureRandomBytes()
		require.NotContains(t, seen, b)
		seen[b] = struct{}{}
	}
}

// TestNewFromConfig asserts that the config is validated and applied.
func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	clk := clock.NewTestClock(testStartTime)
	seedHex := hex.EncodeToString(testSeed[:])

	seedFile := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, os.WriteFile(seedFile, []byte(seedHex+"\n"), 0600))

	testCases := []struct {
		name string
		cfg  keymanager.Config
		err  error
	}{{
		name: "no seed",
		cfg:  keymanager.Config{},
		err:  keymanager.ErrNoSeed,
	}, {
		name: "short seed",
		cfg:  keymanager.Config{Seed: "abcd"},
		err:  keymanager.ErrInvalidSeed,
	}, {
		name: "zero seed",
		cfg: keymanager.Config{
			Seed: hex.EncodeToString(make([]byte, 32)),
		},
		err: keymanager.ErrInvalidSeed,
	}, {
		name: "hex seed",
		cfg:  keymanager.Config{Seed: seedHex},
	}, {
		name: "seed file",
		cfg: keymanager.Config{
			SeedFile: seedFile,
			Network:  "regtest",
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := keymanager.NewFromConfig(&tc.cfg, clk)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.True(t, m.NodePubKey().IsEqual(
				newTestManager().NodePubKey(),
			))
		})
	}

	_, err := keymanager.NewFromConfig(&keymanager.Config{
		Seed:     seedHex,
		SeedFile: seedFile,
	}, clk)
	require.Error(t, err)

	_, err = keymanager.NewFromConfig(&keymanager.Config{
		Seed:    seedHex,
		Network: "moonnet",
	}, clk)
	require.Error(t, err)
}

// TestConfigStartingIndex asserts that a configured manager takes its start
// time from the clock and skips the indices below the starting index.
func TestConfigStartingIndex(t *testing.T) {
	t.Parallel()

	const startingIndex = 5

	cfg := keymanager.DefaultConfig()
	cfg.Seed = hex.EncodeToString(testSeed[:])
	cfg.Network = "regtest"
	cfg.StartingIndex = startingIndex

	m, err := keymanager.NewFromConfig(cfg, clock.NewTestClock(testStartTime))
	require.NoError(t, err)
	require.Equal(t, &chaincfg.RegressionNetParams, m.ChainParams())

	ref := newTestManager()
	var want []byte
	for i := 0; i <= startingIndex; i++ {
		want, err = ref.ShutdownScript()
		require.NoError(t, err)
	}

	got, err := m.ShutdownScript()
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.Equal(t, ref.NewChannelSigner(1).ChannelKeysID(),
		m.NewChannelSigner(1).ChannelKeysID())
}
