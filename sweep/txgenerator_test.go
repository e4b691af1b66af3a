package sweep_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lntypes"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/lightningnetwork/chansigner/lnwallet/chainfee"
	"github.com/lightningnetwork/chansigner/lnwallet/chansigner"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/stretchr/testify/require"
)

// testSource derives channel signers from a fixed seed and signs static
// outputs paying to a single key.
type testSource struct {
	seed      [32]byte
	ring      *keychain.HDKeyRing
	staticKey *btcec.PrivateKey
	derived   map[keychain.ChannelKeysID]int
}

func newTestSource(t *testing.T) *testSource {
	seed := [32]byte{0x42}

	ring, err := keychain.NewHDKeyRing(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	staticKey, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x09}, 32))

	return &testSource{
		seed:      seed,
		ring:      ring,
		staticKey: staticKey,
		derived:   make(map[keychain.ChannelKeysID]int),
	}
}

func (s *testSource) DeriveChannelSigner(value btcutil.Amount,
	keysID keychain.ChannelKeysID) sweep.OutputSigner {

	s.derived[keysID]++

	return chansigner.NewInMemorySigner(
		keychain.DeriveChannelKeys(s.ring, s.seed, keysID), value,
	)
}

func (s *testSource) SignStaticOutput(tx *wire.MsgTx, inputIndex int,
	desc *sweep.StaticOutput) (wire.TxWitness, error) {

	script, err := input.NewKeySigner(s.staticKey).ComputeInputScript(
		tx, &input.SignDescriptor{
			Output:     desc.Output,
			HashType:   txscript.SigHashAll,
			InputIndex: inputIndex,
		},
	)
	if err != nil {
		return nil, err
	}

	return script.Witness, nil
}

// pubkeys returns the basepoints of the channel with the given keys id.
func (s *testSource) pubkeys(
	keysID keychain.ChannelKeysID) *lnwallet.ChannelPublicKeys {

	keys := keychain.DeriveChannelKeys(s.ring, s.seed, keysID)

	return chansigner.NewInMemorySigner(keys, 0).Pubkeys()
}

var (
	testKeysID = keychain.NewChannelKeysID(3, 1_700_000_000, 7)

	// changeScript is a P2WPKH change script.
	changeScript = append([]byte{0x00, 0x14}, bytes.Repeat(
		[]byte{0xcc}, 20,
	)...)

	// payScript is a P2WPKH script of the requested output.
	payScript = append([]byte{0x00, 0x14}, bytes.Repeat(
		[]byte{0xdd}, 20,
	)...)
)

// staticPayment returns a to_remote descriptor of the test channel.
func (s *testSource) staticPayment(t *testing.T, anchors bool,
	value int64, index uint32) *sweep.StaticPaymentOutput {

	desc := &sweep.StaticPaymentOutput{
		OutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x01},
			Index: index,
		},
		ChannelKeysID:   testKeysID,
		ChannelValueSat: 1_000_000,
	}

	// The variant is picked by the output script, so we start from a
	// placeholder of the right kind.
	placeholder := append([]byte{0x00, 0x14}, make([]byte, 20)...)
	if anchors {
		placeholder = append([]byte{0x00, 0x20}, make([]byte, 32)...)
	}
	desc.Output = wire.NewTxOut(value, placeholder)

	_, pkScript, err := desc.Scripts(s.pubkeys(testKeysID))
	require.NoError(t, err)
	desc.Output.PkScript = pkScript
	require.Equal(t, anchors, desc.Anchors())

	return desc
}

// delayedPayment returns a to_local descriptor of the test channel.
func (s *testSource) delayedPayment(t *testing.T, value int64,
	delay uint16) *sweep.DelayedPaymentOutput {

	_, point := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x0a}, 32))
	_, revocation := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x0b}, 32))

	desc := &sweep.DelayedPaymentOutput{
		OutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x02},
			Index: 1,
		},
		PerCommitmentPoint: point,
		ToSelfDelay:        delay,
		RevocationPubkey:   revocation,
		ChannelKeysID:      testKeysID,
		ChannelValueSat:    1_000_000,
	}

	_, pkScript, err := desc.Scripts(s.pubkeys(testKeysID))
	require.NoError(t, err)
	desc.Output = wire.NewTxOut(value, pkScript)

	return desc
}

// staticOutput returns a descriptor of an output paying to the static key.
func (s *testSource) staticOutput(t *testing.T,
	value int64) *sweep.StaticOutput {

	pkScript, err := input.WitnessPubKeyHash(
		s.staticKey.PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)

	return &sweep.StaticOutput{
		OutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x03},
			Index: 0,
		},
		Output: wire.NewTxOut(value, pkScript),
	}
}

// checkWitnesses runs the script engine over all inputs of tx.
func checkWitnesses(t *testing.T, tx *wire.MsgTx,
	descs []sweep.SpendableOutputDescriptor) {

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(descs))
	for _, desc := range descs {
		prevOuts[desc.Outpoint()] = desc.TxOut()
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, desc := range descs {
		vm, err := txscript.NewEngine(
			desc.TxOut().PkScript, tx, i,
			txscript.StandardVerifyFlags, nil, sigHashes,
			desc.TxOut().Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

// expectedWeight returns the weight of a spend of descs to outputs, with a
// P2WPKH change output if change is set.
func expectedWeight(t *testing.T, descs []sweep.SpendableOutputDescriptor,
	outputs []*wire.TxOut, change bool) int64 {

	var e input.TxWeightEstimator
	for _, desc := range descs {
		require.NoError(t, desc.WitnessType().AddWeightEstimation(&e))
	}
	for _, o := range outputs {
		e.AddTxOutput(o)
	}
	if change {
		e.AddP2WKHOutput()
	}

	return int64(e.Weight())
}

// TestSpendBalance asserts that the change of a spend is what's left after
// the requested outputs and the fee.
func TestSpendBalance(t *testing.T) {
	t.Parallel()

	source := newTestSource(t)
	descs := []sweep.SpendableOutputDescriptor{
		source.staticPayment(t, false, 100_000, 0),
	}
	outputs := []*wire.TxOut{wire.NewTxOut(50_000, payScript)}
	feeRate := chainfee.SatPerKWeight(2_500)

	tx, err := sweep.SpendSpendableOutputs(
		descs, outputs, changeScript, feeRate, source,
	)
	require.NoError(t, err)

	weight := expectedWeight(t, descs, outputs, true)
	fee := feeRate * chainfee.SatPerKWeight(weight) / 1000

	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 2)
	require.EqualValues(t, 2, tx.Version)
	require.Equal(t, payScript, tx.TxOut[0].PkScript)
	require.Equal(t, changeScript, tx.TxOut[1].PkScript)
	require.EqualValues(t, 100_000-50_000-int64(fee), tx.TxOut[1].Value)

	checkWitnesses(t, tx, descs)

	// The witness estimate is an upper bound of the actual weight.
	actual := int64(tx.SerializeSizeStripped())*3 +
		int64(tx.SerializeSize())
	require.LessOrEqual(t, actual, weight)

	// A fee rate resulting in a fee of exactly 500 sat leaves 49500 sat
	// of change.
	feeRate = chainfee.SatPerKWeight((500_000 + weight - 1) / weight)
	require.EqualValues(t, 500, feeRate.FeeForWeight(
		lntypes.WeightUnit(weight),
	))

	tx, err = sweep.SpendSpendableOutputs(
		descs, outputs, changeScript, feeRate, source,
	)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 2)
	require.EqualValues(t, 49_500, tx.TxOut[1].Value)
}

// TestSpendAllVariants asserts that a spend of every descriptor variant is
// fully signed, and that channel signers are derived once per channel.
func TestSpendAllVariants(t *testing.T) {
	t.Parallel()

	source := newTestSource(t)
	descs := []sweep.SpendableOutputDescriptor{
		source.delayedPayment(t, 200_000, 144),
		source.staticPayment(t, true, 100_000, 0),
		source.staticOutput(t, 30_000),
		source.staticPayment(t, true, 70_000, 5),
	}

	tx, err := sweep.SpendSpendableOutputs(
		descs, nil, changeScript, chainfee.FeePerKwFloor, source,
	)
	require.NoError(t, err)

	require.Len(t, tx.TxIn, len(descs))
	for i, desc := range descs {
		require.Equal(t, desc.Outpoint(), tx.TxIn[i].PreviousOutPoint)
		require.Equal(t, desc.Sequence(), tx.TxIn[i].Sequence)
	}
	require.EqualValues(t, 144, tx.TxIn[0].Sequence)
	require.EqualValues(t, 1, tx.TxIn[1].Sequence)
	require.EqualValues(t, 0, tx.TxIn[2].Sequence)
	require.Len(t, tx.TxOut, 1)

	checkWitnesses(t, tx, descs)

	// All channel descriptors share one signer.
	require.Equal(t, 1, source.derived[testKeysID])
}

// TestSpendDustChange asserts that change below the dust limit is added to
// the fee, and that spends not covering their fee are refused.
func TestSpendDustChange(t *testing.T) {
	t.Parallel()

	source := newTestSource(t)
	outputs := []*wire.TxOut{wire.NewTxOut(50_000, payScript)}
	feeRate := chainfee.SatPerKWeight(1_000)
	dustLimit := int64(lnwallet.DustLimitForSize(len(changeScript)))

	probe := []sweep.SpendableOutputDescriptor{
		source.staticPayment(t, false, 0, 0),
	}
	feeWithChange := int64(feeRate) *
		expectedWeight(t, probe, outputs, true) / 1000
	feeNoChange := int64(feeRate) *
		expectedWeight(t, probe, outputs, false) / 1000

	spend := func(value int64) (*wire.MsgTx, error) {
		descs := []sweep.SpendableOutputDescriptor{
			source.staticPayment(t, false, value, 0),
		}

		return sweep.SpendSpendableOutputs(
			descs, outputs, changeScript, feeRate, source,
		)
	}

	// Exactly the dust limit is left as change.
	tx, err := spend(50_000 + feeWithChange + dustLimit)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, dustLimit, tx.TxOut[1].Value)

	// One sat less and the change goes to the fee.
	tx, err = spend(50_000 + feeWithChange + dustLimit - 1)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)

	// Without change the fee is lower, so the spend still succeeds.
	tx, err = spend(50_000 + feeNoChange)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)

	_, err = spend(50_000 + feeNoChange - 1)
	require.ErrorIs(t, err, sweep.ErrInsufficientFunds)
}

// TestSpendDustOutputs asserts that requested outputs below the dust limit
// are spent to as asked, and that no change script is needed when the spend
// has no change.
func TestSpendDustOutputs(t *testing.T) {
	t.Parallel()

	source := newTestSource(t)
	feeRate := chainfee.SatPerKWeight(1_000)

	desc := source.staticPayment(t, false, 100_000, 0)
	descs := []sweep.SpendableOutputDescriptor{desc}
	dust := []*wire.TxOut{wire.NewTxOut(100, payScript)}

	tx, err := sweep.SpendSpendableOutputs(
		descs, dust, changeScript, feeRate, source,
	)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 2)
	require.EqualValues(t, 100, tx.TxOut[0].Value)
	require.Equal(t, changeScript, tx.TxOut[1].PkScript)
	checkWitnesses(t, tx, descs)

	// The remainder after the fee is dust, so it goes to the fee and the
	// missing change script doesn't matter.
	outputs := []*wire.TxOut{wire.NewTxOut(50_000, payScript)}
	feeNoChange := int64(feeRate) *
		expectedWeight(t, descs, outputs, false) / 1000
	exact := []sweep.SpendableOutputDescriptor{
		source.staticPayment(t, false, 50_000+feeNoChange+10, 0),
	}

	tx, err = sweep.SpendSpendableOutputs(
		exact, outputs, nil, feeRate, source,
	)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)
	require.EqualValues(t, 50_000, tx.TxOut[0].Value)
}

// TestSpendInvalidRequests asserts that malformed spend requests are refused
// without a transaction.
func TestSpendInvalidRequests(t *testing.T) {
	t.Parallel()

	source := newTestSource(t)
	feeRate := chainfee.FeePerKwFloor

	_, err := sweep.SpendSpendableOutputs(
		nil, nil, changeScript, feeRate, source,
	)
	require.ErrorIs(t, err, sweep.ErrEmptyDescriptors)

	desc := source.staticPayment(t, false, 100_000, 0)
	tx, err := sweep.SpendSpendableOutputs(
		[]sweep.SpendableOutputDescriptor{desc, desc}, nil,
		changeScript, feeRate, source,
	)
	require.ErrorIs(t, err, sweep.ErrDuplicateOutpoint)
	require.Nil(t, tx)

	_, err = sweep.SpendSpendableOutputs(
		[]sweep.SpendableOutputDescriptor{desc}, nil, nil, feeRate,
		source,
	)
	require.ErrorIs(t, err, sweep.ErrNoChangeScript)

	// A static output paying to an unknown key fails the whole spend.
	foreign := source.staticOutput(t, 10_000)
	foreign.Output.PkScript = payScript
	tx, err = sweep.SpendSpendableOutputs(
		[]sweep.SpendableOutputDescriptor{desc, foreign}, nil,
		changeScript, feeRate, source,
	)
	require.ErrorIs(t, err, input.ErrUnknownSigningKey)
	require.Nil(t, tx)

	// A channel descriptor not derivable from its keys is a broken
	// precondition.
	broken := source.staticPayment(t, false, 100_000, 1)
	broken.Output.PkScript = payScript
	require.Panics(t, func() {
		_, _ = sweep.SpendSpendableOutputs(
			[]sweep.SpendableOutputDescriptor{broken}, nil,
			changeScript, feeRate, source,
		)
	})
}

// TestBuildSpendPacket asserts that the exported packet carries the unsigned
// spend and the data needed to sign it.
func TestBuildSpendPacket(t *testing.T) {
	t.Parallel()

	source := newTestSource(t)
	descs := []sweep.SpendableOutputDescriptor{
		source.delayedPayment(t, 200_000, 144),
		source.staticPayment(t, true, 100_000, 0),
		source.staticPayment(t, false, 60_000, 1),
	}
	outputs := []*wire.TxOut{wire.NewTxOut(50_000, payScript)}
	feeRate := chainfee.SatPerKWeight(500)

	packet, err := sweep.BuildSpendPacket(
		descs, outputs, changeScript, feeRate, source,
	)
	require.NoError(t, err)

	signed, err := sweep.SpendSpendableOutputs(
		descs, outputs, changeScript, feeRate, source,
	)
	require.NoError(t, err)
	require.Equal(t, signed.TxHash(), packet.UnsignedTx.TxHash())

	require.Len(t, packet.Inputs, len(descs))
	for i, desc := range descs {
		pIn := packet.Inputs[i]
		require.Equal(t, desc.TxOut(), pIn.WitnessUtxo)
		require.Equal(t, txscript.SigHashAll, pIn.SighashType)

		if txscript.IsPayToWitnessScriptHash(desc.TxOut().PkScript) {
			pkScript, err := input.WitnessScriptHash(
				pIn.WitnessScript,
			)
			require.NoError(t, err)
			require.Equal(t, desc.TxOut().PkScript, pkScript)
		} else {
			require.Nil(t, pIn.WitnessScript)
		}
	}
}
