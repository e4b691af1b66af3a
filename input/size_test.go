package input_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lntypes"
	"github.com/stretchr/testify/require"
)

const (
	testCSVDelay = (1 << 31) - 1

	testCLTVExpiry = 500000000

	// maxDERSignatureSize is the largest possible DER-encoded signature
	// without the trailing sighash flag.
	maxDERSignatureSize = 72
)

var (
	testPrivkey, testPubkey = btcec.PrivKeyFromBytes(
		bytes.Repeat([]byte{0x01}, 32),
	)

	testHash160 = make([]byte, 20)

	testTx = wire.NewMsgTx(2)
)

type maxDERSignature struct{}

func (s *maxDERSignature) Serialize() []byte {
	// Always return worst-case signature length, excluding the one byte
	// sighash flag.
	return make([]byte, maxDERSignatureSize)
}

func (s *maxDERSignature) Verify(_ []byte, _ *btcec.PublicKey) bool {
	return true
}

// dummySigner is a fake signer used for size (upper bound) calculations.
type dummySigner struct {
	input.Signer
}

// SignOutputRaw returns a worst-case signature.
func (s *dummySigner) SignOutputRaw(*wire.MsgTx,
	*input.SignDescriptor) (input.Signature, error) {

	return &maxDERSignature{}, nil
}

// TestTxWeightEstimator tests that transaction weight estimates are calculated
// correctly by comparing against an actual (though invalid) transaction
// matching the template.
func TestTxWeightEstimator(t *testing.T) {
	t.Parallel()

	p2wkhScript, err := input.WitnessPubKeyHash(
		testPubkey.SerializeCompressed(),
	)
	require.NoError(t, err)

	toLocalScript, err := input.CommitScriptToSelf(
		testCSVDelay, testPubkey, testPubkey,
	)
	require.NoError(t, err)
	p2wshScript, err := input.WitnessScriptHash(toLocalScript)
	require.NoError(t, err)

	p2pkhScript := append(
		[]byte{0x76, 0xa9, 0x14}, append(testHash160, 0x88, 0xac)...,
	)
	p2trScript := append([]byte{0x51, 0x20}, make([]byte, 32)...)

	testCases := []struct {
		numP2WKHInputs   int
		numToLocalInputs int
		numP2PKHOutputs  int
		numP2WKHOutputs  int
		numP2WSHOutputs  int
		numP2TROutputs   int
		changeScript     []byte
	}{
		// Assert base txn size.
		{},
		{
			numP2WKHInputs: 1,
		},
		{
			numToLocalInputs: 1,
		},
		{
			numP2WKHOutputs: 1,
		},
		{
			numP2PKHOutputs: 1,
		},
		{
			numP2WSHOutputs: 1,
		},
		{
			numP2TROutputs: 1,
		},

		// Assert the var int of the input and output counts grows.
		{
			numP2WKHInputs: 253,
		},
		{
			numP2WKHOutputs: 253,
		},
		{
			numP2WKHInputs:   2,
			numToLocalInputs: 3,
			numP2WSHOutputs:  1,
			changeScript:     p2wkhScript,
		},
		{
			numToLocalInputs: 1,
			changeScript:     p2trScript,
		},
		{
			numP2WKHInputs: 1,
			changeScript:   p2pkhScript,
		},
	}

	for i, test := range testCases {
		var weightEstimate input.TxWeightEstimator
		tx := wire.NewMsgTx(2)

		for j := 0; j < test.numP2WKHInputs; j++ {
			weightEstimate.AddP2WKHInput()

			tx.AddTxIn(&wire.TxIn{
				Witness: wire.TxWitness{
					make([]byte, maxDERSignatureSize+1),
					testPubkey.SerializeCompressed(),
				},
			})
		}
		for j := 0; j < test.numToLocalInputs; j++ {
			err := input.CommitmentTimeLock.AddWeightEstimation(
				&weightEstimate,
			)
			require.NoError(t, err)

			tx.AddTxIn(&wire.TxIn{
				Witness: wire.TxWitness{
					make([]byte, maxDERSignatureSize+1),
					nil,
					toLocalScript,
				},
			})
		}
		for j := 0; j < test.numP2PKHOutputs; j++ {
			weightEstimate.AddP2PKHOutput()
			tx.AddTxOut(&wire.TxOut{PkScript: p2pkhScript})
		}
		for j := 0; j < test.numP2WKHOutputs; j++ {
			weightEstimate.AddP2WKHOutput()
			tx.AddTxOut(&wire.TxOut{PkScript: p2wkhScript})
		}
		for j := 0; j < test.numP2WSHOutputs; j++ {
			weightEstimate.AddP2WSHOutput()
			tx.AddTxOut(&wire.TxOut{PkScript: p2wshScript})
		}
		for j := 0; j < test.numP2TROutputs; j++ {
			weightEstimate.AddP2TROutput()
			tx.AddTxOut(&wire.TxOut{PkScript: p2trScript})
		}
		if test.changeScript != nil {
			weightEstimate.AddChangeOutput(test.changeScript)
			tx.AddTxOut(&wire.TxOut{PkScript: test.changeScript})
		}

		expectedWeight := blockchain.GetTransactionWeight(
			btcutil.NewTx(tx),
		)
		require.EqualValues(
			t, expectedWeight, weightEstimate.Weight(),
			"case %d", i,
		)
	}
}

// TestEstimateCommitTxWeight asserts the commitment weight grows by one HTLC
// output weight per HTLC.
func TestEstimateCommitTxWeight(t *testing.T) {
	t.Parallel()

	require.Equal(
		t, lntypes.WeightUnit(724), input.EstimateCommitTxWeight(0, false),
	)
	require.Equal(
		t, lntypes.WeightUnit(1124), input.EstimateCommitTxWeight(0, true),
	)
	require.Equal(
		t, lntypes.WeightUnit(724+3*172),
		input.EstimateCommitTxWeight(3, false),
	)
}

type witnessSizeTest struct {
	name       string
	expSize    int
	genWitness func(t *testing.T) wire.TxWitness
}

var witnessSizeTests = []witnessSizeTest{
	{
		name:    "funding",
		expSize: input.MultiSigWitnessSize,
		genWitness: func(t *testing.T) wire.TxWitness {
			pub := testPubkey.SerializeCompressed()
			witnessScript, _, err := input.GenFundingPkScript(
				pub, pub, 1,
			)
			require.NoError(t, err)

			return input.SpendMultiSig(
				witnessScript,
				pub, &maxDERSignature{},
				pub, &maxDERSignature{},
			)
		},
	},
	{
		name:    "to local timeout",
		expSize: input.ToLocalTimeoutWitnessSize,
		genWitness: func(t *testing.T) wire.TxWitness {
			witnessScript, err := input.CommitScriptToSelf(
				testCSVDelay, testPubkey, testPubkey,
			)
			require.NoError(t, err)

			signDesc := &input.SignDescriptor{
				WitnessScript: witnessScript,
			}

			witness, err := input.CommitSpendTimeout(
				&dummySigner{}, signDesc, testTx,
			)
			require.NoError(t, err)

			return witness
		},
	},
	{
		name:    "to local revoke",
		expSize: input.ToLocalPenaltyWitnessSize,
		genWitness: func(t *testing.T) wire.TxWitness {
			witnessScript, err := input.CommitScriptToSelf(
				testCSVDelay, testPubkey, testPubkey,
			)
			require.NoError(t, err)

			signDesc := &input.SignDescriptor{
				WitnessScript: witnessScript,
			}

			witness, err := input.CommitSpendRevoke(
				&dummySigner{}, signDesc, testTx,
			)
			require.NoError(t, err)

			return witness
		},
	},
	{
		name:    "to remote",
		expSize: input.P2WKHWitnessSize,
		genWitness: func(t *testing.T) wire.TxWitness {
			signDesc := &input.SignDescriptor{
				KeyDesc: keychain.KeyDescriptor{
					PubKey: testPubkey,
				},
			}

			witness, err := input.CommitSpendNoDelay(
				&dummySigner{}, signDesc, testTx,
			)
			require.NoError(t, err)

			return witness
		},
	},
	{
		name:    "to remote confirmed",
		expSize: input.ToRemoteConfirmedWitnessSize,
		genWitness: func(t *testing.T) wire.TxWitness {
			witScript, err := input.CommitScriptToRemoteConfirmed(
				testPubkey,
			)
			require.NoError(t, err)

			signDesc := &input.SignDescriptor{
				WitnessScript: witScript,
				KeyDesc: keychain.KeyDescriptor{
					PubKey: testPubkey,
				},
			}

			witness, err := input.CommitSpendToRemoteConfirmed(
				&dummySigner{}, signDesc, testTx,
			)
			require.NoError(t, err)

			return witness
		},
	},
	{
		name:    "offered htlc revoke",
		expSize: input.OfferedHtlcPenaltyWitnessSize,
		genWitness: func(t *testing.T) wire.TxWitness {
			witScript, err := input.SenderHTLCScript(
				testPubkey, testPubkey, testPubkey,
				testHash160, false,
			)
			require.NoError(t, err)

			signDesc := &input.SignDescriptor{
				WitnessScript: witScript,
				KeyDesc: keychain.KeyDescriptor{
					PubKey: testPubkey,
				},
				DoubleTweak: testPrivkey,
			}

			witness, err := input.SenderHtlcSpendRevoke(
				&dummySigner{}, signDesc, testTx,
			)
			require.NoError(t, err)

			return witness
		},
	},
	{
		name:    "offered htlc revoke confirmed",
		expSize: input.OfferedHtlcPenaltyWitnessSizeConfirmed,
		genWitness: func(t *testing.T) wire.TxWitness {
			witScript, err := input.SenderHTLCScript(
				testPubkey, testPubkey, testPubkey,
				testHash160, true,
			)
			require.NoError(t, err)

			signDesc := &input.SignDescriptor{
				WitnessScript: witScript,
				KeyDesc: keychain.KeyDescriptor{
					PubKey: testPubkey,
				},
				DoubleTweak: testPrivkey,
			}

			witness, err := input.SenderHtlcSpendRevoke(
				&dummySigner{}, signDesc, testTx,
			)
			require.NoError(t, err)

			return witness
		},
	},
	{
		name:    "accepted htlc revoke",
		expSize: input.AcceptedHtlcPenaltyWitnessSize,
		genWitness: func(t *testing.T) wire.TxWitness {
			witScript, err := input.ReceiverHTLCScript(
				testCLTVExpiry, testPubkey, testPubkey,
				testPubkey, testHash160, false,
			)
			require.NoError(t, err)

			signDesc := &input.SignDescriptor{
				WitnessScript: witScript,
				KeyDesc: keychain.KeyDescriptor{
					PubKey: testPubkey,
				},
				DoubleTweak: testPrivkey,
			}

			witness, err := input.ReceiverHtlcSpendRevoke(
				&dummySigner{}, signDesc, testTx,
			)
			require.NoError(t, err)

			return witness
		},
	},
	{
		name:    "accepted htlc revoke confirmed",
		expSize: input.AcceptedHtlcPenaltyWitnessSizeConfirmed,
		genWitness: func(t *testing.T) wire.TxWitness {
			witScript, err := input.ReceiverHTLCScript(
				testCLTVExpiry, testPubkey, testPubkey,
				testPubkey, testHash160, true,
			)
			require.NoError(t, err)

			signDesc := &input.SignDescriptor{
				WitnessScript: witScript,
				KeyDesc: keychain.KeyDescriptor{
					PubKey: testPubkey,
				},
				DoubleTweak: testPrivkey,
			}

			witness, err := input.ReceiverHtlcSpendRevoke(
				&dummySigner{}, signDesc, testTx,
			)
			require.NoError(t, err)

			return witness
		},
	},
}

// TestWitnessSizes asserts the correctness of our magic witness constants.
// Witnesses involving signatures will have maxDERSignatures injected so that we
// can determine upper bounds for the witness sizes. These constants are
// predominately used for fee estimation, so we want to be certain that we
// aren't under estimating or our transactions could get stuck.
func TestWitnessSizes(t *testing.T) {
	for _, test := range witnessSizeTests {
		t.Run(test.name, func(t *testing.T) {
			size := test.genWitness(t).SerializeSize()
			require.Equal(t, test.expSize, size)
		})
	}
}

// TestScriptSizes asserts the script size constants match the scripts we
// build.
func TestScriptSizes(t *testing.T) {
	t.Parallel()

	multiSig, err := input.GenMultiSigScript(
		testPubkey.SerializeCompressed(),
		testPubkey.SerializeCompressed(),
	)
	require.NoError(t, err)
	require.Len(t, multiSig, input.MultiSigSize)

	toLocal, err := input.CommitScriptToSelf(
		testCSVDelay, testPubkey, testPubkey,
	)
	require.NoError(t, err)
	require.Len(t, toLocal, input.ToLocalScriptSize)

	toRemote, err := input.CommitScriptToRemoteConfirmed(testPubkey)
	require.NoError(t, err)
	require.Len(t, toRemote, input.ToRemoteConfirmedScriptSize)

	anchor, err := input.CommitScriptAnchor(testPubkey)
	require.NoError(t, err)
	require.Len(t, anchor, input.AnchorScriptSize)

	for _, confirmed := range []bool{false, true} {
		offered, err := input.SenderHTLCScript(
			testPubkey, testPubkey, testPubkey, testHash160,
			confirmed,
		)
		require.NoError(t, err)

		accepted, err := input.ReceiverHTLCScript(
			testCLTVExpiry, testPubkey, testPubkey, testPubkey,
			testHash160, confirmed,
		)
		require.NoError(t, err)

		if confirmed {
			require.Len(t, offered, input.OfferedHtlcScriptSizeConfirmed)
			require.Len(t, accepted, input.AcceptedHtlcScriptSizeConfirmed)
		} else {
			require.Len(t, offered, input.OfferedHtlcScriptSize)
			require.Len(t, accepted, input.AcceptedHtlcScriptSize)
		}
	}
}

// TestWitnessTypeSizeUpperBound checks every witness type maps to a size and
// unknown ones are rejected.
func TestWitnessTypeSizeUpperBound(t *testing.T) {
	t.Parallel()

	known := []input.WitnessType{
		input.CommitmentTimeLock,
		input.CommitmentNoDelay,
		input.CommitmentRevoke,
		input.HtlcOfferedRevoke,
		input.HtlcAcceptedRevoke,
		input.WitnessKeyHash,
		input.CommitmentToRemoteConfirmed,
	}
	for _, wt := range known {
		size, err := wt.SizeUpperBound()
		require.NoError(t, err, wt.String())
		require.Positive(t, size)
	}

	_, err := input.WitnessType(99).SizeUpperBound()
	require.Error(t, err)
	require.Equal(t, "Unknown WitnessType: 99", input.WitnessType(99).String())
}
