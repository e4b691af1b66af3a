package chansigner

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/stretchr/testify/require"
)

// commitOutputs returns the descriptors of alice's to_local output and of
// bob's to_remote output of alice's first commitment.
func (c *testChannel) commitOutputs(t testing.TB) (*sweep.DelayedPaymentOutput,
	*sweep.StaticPaymentOutput) {

	commit := commitment(t, c.alice, c.aliceParams, maxNum, nil)
	tx := commit.Tx()
	keys := commit.Keys()
	delay := c.alice.CounterpartySelectedContestDelay()

	toLocalScript, err := input.CommitScriptToSelf(
		uint32(delay), keys.BroadcasterDelayedPaymentKey,
		keys.RevocationKey,
	)
	require.NoError(t, err)
	toLocalIdx := findOutput(t, tx, toLocalScript)

	delayed := &sweep.DelayedPaymentOutput{
		OutPoint: wire.OutPoint{
			Hash:  commit.Txid(),
			Index: toLocalIdx,
		},
		PerCommitmentPoint: c.alice.PerCommitmentPoint(maxNum),
		ToSelfDelay:        delay,
		Output:             tx.TxOut[toLocalIdx],
		RevocationPubkey:   keys.RevocationKey,
		ChannelKeysID:      c.alice.ChannelKeysID(),
		ChannelValueSat:    c.alice.ChannelValue(),
	}

	paymentPoint := c.bob.Pubkeys().PaymentPoint
	var toRemotePkScript []byte
	if c.anchors {
		script, err := input.CommitScriptToRemoteConfirmed(paymentPoint)
		require.NoError(t, err)

		toRemotePkScript, err = input.WitnessScriptHash(script)
		require.NoError(t, err)
	} else {
		toRemotePkScript, err = input.WitnessPubKeyHash(
			paymentPoint.SerializeCompressed(),
		)
		require.NoError(t, err)
	}

	toRemoteIdx := -1
	for i, txOut := range tx.TxOut {
		if string(txOut.PkScript) == string(toRemotePkScript) {
			toRemoteIdx = i
		}
	}
	require.NotEqual(t, -1, toRemoteIdx)

	static := &sweep.StaticPaymentOutput{
		OutPoint: wire.OutPoint{
			Hash:  commit.Txid(),
			Index: uint32(toRemoteIdx),
		},
		Output:          tx.TxOut[toRemoteIdx],
		ChannelKeysID:   c.bob.ChannelKeysID(),
		ChannelValueSat: c.bob.ChannelValue(),
	}

	return delayed, static
}

// spendingTx returns a transaction spending the given descriptors.
func spendingTx(descs ...sweep.SpendableOutputDescriptor) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	for _, desc := range descs {
		outpoint := desc.Outpoint()
		txIn := wire.NewTxIn(&outpoint, nil, nil)
		txIn.Sequence = desc.Sequence()
		tx.AddTxIn(txIn)
	}
	tx.AddTxOut(wire.NewTxOut(100_000, []byte{0x00, 0x14,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14,
	}))

	return tx
}

// TestSpendCommitmentOutputs asserts that the witnesses of to_local and
// to_remote outputs pass the script engine.
func TestSpendCommitmentOutputs(t *testing.T) {
	t.Parallel()

	for _, anchors := range []bool{false, true} {
		c := newTestChannel(t, anchors)
		delayed, static := c.commitOutputs(t)
		require.Equal(t, anchors, static.Anchors())

		tx := spendingTx(delayed, static)

		witness, err := c.alice.SignDynamicP2WSHInput(tx, 0, delayed)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		witness, err = c.bob.SignCounterpartyPaymentInput(tx, 1, static)
		require.NoError(t, err)
		tx.TxIn[1].Witness = witness

		checkWitness(t, tx, 0, delayed.Output)
		checkWitness(t, tx, 1, static.Output)
	}
}

// TestSpendForeignOutputs asserts that signers refuse outputs they can't
// derive and inputs not matching the descriptor.
func TestSpendForeignOutputs(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, true)
	delayed, static := c.commitOutputs(t)
	tx := spendingTx(delayed, static)

	// The outputs belong to the other side.
	_, err := c.bob.SignDynamicP2WSHInput(tx, 0, delayed)
	require.ErrorIs(t, err, sweep.ErrForeignDescriptor)

	_, err = c.alice.SignCounterpartyPaymentInput(tx, 1, static)
	require.ErrorIs(t, err, sweep.ErrForeignDescriptor)

	// The input index doesn't spend the described output.
	_, err = c.alice.SignDynamicP2WSHInput(tx, 1, delayed)
	require.ErrorIs(t, err, ErrInputMismatch)

	_, err = c.bob.SignCounterpartyPaymentInput(tx, 2, static)
	require.ErrorIs(t, err, ErrInputMismatch)

	// The sequence doesn't satisfy the relative delay.
	tx.TxIn[0].Sequence = uint32(delayed.ToSelfDelay) - 1
	_, err = c.alice.SignDynamicP2WSHInput(tx, 0, delayed)
	require.ErrorIs(t, err, ErrInputMismatch)

	tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum
	_, err = c.alice.SignDynamicP2WSHInput(tx, 0, delayed)
	require.ErrorIs(t, err, ErrInputMismatch)

	// Spending a different outpoint is refused as well.
	other := spendingTx(delayed)
	other.TxIn[0].PreviousOutPoint.Hash = chainhash.Hash{0x99}
	_, err = c.alice.SignDynamicP2WSHInput(other, 0, delayed)
	require.ErrorIs(t, err, ErrInputMismatch)
}
