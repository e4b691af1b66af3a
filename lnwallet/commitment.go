package lnwallet

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/lntypes"
	"github.com/lightningnetwork/chansigner/lnwallet/chainfee"
	"github.com/lightningnetwork/chansigner/lnutils"
	"github.com/lightningnetwork/chansigner/shachain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// MaxHTLCNumber is the maximum number of HTLCs a single commitment
	// transaction may carry, counting the HTLCs offered by both sides.
	MaxHTLCNumber = 483

	// AnchorSize is the value of each anchor output.
	AnchorSize = btcutil.Amount(330)
)

var (
	// ErrCommitmentMismatch is returned when a commitment transaction
	// doesn't match the one built from the channel parameters.
	ErrCommitmentMismatch = errors.New("commitment transaction doesn't " +
		"match channel parameters")

	// ErrHTLCValueBelowFee is returned when the value of an HTLC doesn't
	// cover the fee of its second level transaction.
	ErrHTLCValueBelowFee = errors.New("htlc value below second level fee")

	// ErrNoOutputIndex is returned when a second level transaction is
	// requested for an HTLC that isn't part of a commitment.
	ErrNoOutputIndex = errors.New("htlc has no commitment output index")
)

// HTLCOutputInCommitment is an HTLC output of a commitment transaction. The
// direction is seen from the broadcaster of the commitment.
type HTLCOutputInCommitment struct {
	// Offered is true if the broadcaster offered the HTLC.
	Offered bool

	// Amount is the value of the HTLC output.
	Amount btcutil.Amount

	// CltvExpiry is the absolute timeout of the HTLC.
	CltvExpiry uint32

	// PaymentHash is the hash the HTLC is locked to.
	PaymentHash lntypes.Hash

	// OutputIndex is the index of the HTLC output within the commitment.
	// It is set when the HTLC is part of a built commitment transaction.
	OutputIndex fn.Option[uint32]
}

// WitnessScript returns the witness script of the HTLC output given the keys
// of the commitment it's part of.
func (h *HTLCOutputInCommitment) WitnessScript(keys *TxCreationKeys,
	anchors bool) ([]byte, error) {

	if h.Offered {
		return input.SenderHTLCScript(
			keys.BroadcasterHtlcKey, keys.CountersignatoryHtlcKey,
			keys.RevocationKey, h.PaymentHash[:], anchors,
		)
	}

	return input.ReceiverHTLCScript(
		h.CltvExpiry, keys.CountersignatoryHtlcKey,
		keys.BroadcasterHtlcKey, keys.RevocationKey, h.PaymentHash[:],
		anchors,
	)
}

// isEqual returns true if both HTLCs describe the same output.
func (h *HTLCOutputInCommitment) isEqual(o *HTLCOutputInCommitment) bool {
	return h.Offered == o.Offered && h.Amount == o.Amount &&
		h.CltvExpiry == o.CltvExpiry &&
		h.PaymentHash == o.PaymentHash &&
		h.OutputIndex.UnwrapOr(0) == o.OutputIndex.UnwrapOr(0) &&
		h.OutputIndex.IsSome() == o.OutputIndex.IsSome()
}

// HtlcTimeoutFee returns the fee of the timeout transaction of an offered
// HTLC. Anchor channels use zero fee second level transactions.
func HtlcTimeoutFee(anchors bool,
	feePerKw chainfee.SatPerKWeight) btcutil.Amount {

	if anchors {
		return 0
	}

	return feePerKw.FeeForWeight(input.HtlcTimeoutWeight)
}

// HtlcSuccessFee returns the fee of the success transaction of a received
// HTLC. Anchor channels use zero fee second level transactions.
func HtlcSuccessFee(anchors bool,
	feePerKw chainfee.SatPerKWeight) btcutil.Amount {

	if anchors {
		return 0
	}

	return feePerKw.FeeForWeight(input.HtlcSuccessWeight)
}

// BuildHtlcTransaction builds the second level transaction spending the given
// HTLC output of the commitment with the passed txid. Offered HTLCs are spent
// by a timeout transaction, received ones by a success transaction.
func BuildHtlcTransaction(commitTxid chainhash.Hash,
	feePerKw chainfee.SatPerKWeight, contestDelay uint16,
	htlc *HTLCOutputInCommitment, anchors bool,
	broadcasterDelayedKey, revocationKey *btcec.PublicKey) (*wire.MsgTx,
	error) {

	outputIndex, err := htlc.OutputIndex.UnwrapOrErr(ErrNoOutputIndex)
	if err != nil {
		return nil, err
	}

	op := wire.OutPoint{
		Hash:  commitTxid,
		Index: outputIndex,
	}

	if htlc.Offered {
		amt := htlc.Amount - HtlcTimeoutFee(anchors, feePerKw)
		if amt <= 0 {
			return nil, fmt.Errorf("%w: htlc %v of %v",
				ErrHTLCValueBelowFee, op, htlc.Amount)
		}

		return CreateHtlcTimeoutTx(
			anchors, op, amt, htlc.CltvExpiry, uint32(contestDelay),
			revocationKey, broadcasterDelayedKey,
		)
	}

	amt := htlc.Amount - HtlcSuccessFee(anchors, feePerKw)
	if amt <= 0 {
		return nil, fmt.Errorf("%w: htlc %v of %v", ErrHTLCValueBelowFee,
			op, htlc.Amount)
	}

	return CreateHtlcSuccessTx(
		anchors, op, amt, uint32(contestDelay), revocationKey,
		broadcasterDelayedKey,
	)
}

// commitOutput is an output of a commitment transaction before sorting.
type commitOutput struct {
	txOut *wire.TxOut

	// cltv breaks ties between HTLC outputs of equal value and script.
	cltv uint32

	// htlc is set for HTLC outputs.
	htlc *HTLCOutputInCommitment
}

// CommitmentTransaction is a BOLT 3 commitment transaction together with the
// data it was built from. It can only be created by NewCommitmentTransaction,
// so the transaction always matches its data.
type CommitmentTransaction struct {
	commitmentNumber        uint64
	toBroadcasterValue      btcutil.Amount
	toCountersignatoryValue btcutil.Amount
	feePerKw                chainfee.SatPerKWeight
	keys                    TxCreationKeys
	anchors                 bool

	// htlcs are sorted by their output index.
	htlcs []HTLCOutputInCommitment

	tx   *wire.MsgTx
	txid chainhash.Hash
}

// NewCommitmentTransaction builds the commitment transaction of the given
// commitment number. The values of the to_local and to_remote outputs are
// passed after fees and anchors were deducted, outputs of zero value are
// omitted. HTLCs below the dust limit must already be trimmed by the caller.
//
// The commitment number counts down from shachain.MaxCommitmentNumber, the
// obscured number encoded into the transaction counts up from zero.
func NewCommitmentTransaction(commitmentNumber uint64, toBroadcasterValue,
	toCountersignatoryValue btcutil.Amount, feePerKw chainfee.SatPerKWeight,
	keys *TxCreationKeys, htlcs []HTLCOutputInCommitment,
	params *DirectedChannelTransactionParameters) (*CommitmentTransaction,
	error) {

	if commitmentNumber > shachain.MaxCommitmentNumber {
		return nil, fmt.Errorf("%w: %d", shachain.ErrCommitmentNumberRange,
			commitmentNumber)
	}
	if toBroadcasterValue < 0 || toCountersignatoryValue < 0 {
		return nil, fmt.Errorf("negative commitment output value")
	}

	anchors := params.OptAnchors()
	broadcaster := params.BroadcasterPubkeys()
	countersignatory := params.CountersignatoryPubkeys()

	var outputs []*commitOutput
	addP2WSH := func(witnessScript []byte, value btcutil.Amount,
		htlc *HTLCOutputInCommitment) error {

		pkScript, err := input.WitnessScriptHash(witnessScript)
		if err != nil {
			return err
		}

		out := &commitOutput{
			txOut: wire.NewTxOut(int64(value), pkScript),
			htlc:  htlc,
		}
		if htlc != nil {
			out.cltv = htlc.CltvExpiry
		}
		outputs = append(outputs, out)

		return nil
	}

	if toBroadcasterValue > 0 {
		toLocalScript, err := input.CommitScriptToSelf(
			uint32(params.ContestDelay()),
			keys.BroadcasterDelayedPaymentKey, keys.RevocationKey,
		)
		if err != nil {
			return nil, err
		}

		err = addP2WSH(toLocalScript, toBroadcasterValue, nil)
		if err != nil {
			return nil, err
		}
	}

	if toCountersignatoryValue > 0 {
		// The to_remote output pays to the untweaked payment point of
		// the countersignatory. With anchors it's locked for one block.
		if anchors {
			toRemoteScript, err := input.CommitScriptToRemoteConfirmed(
				countersignatory.PaymentPoint,
			)
			if err != nil {
				return nil, err
			}

			err = addP2WSH(
				toRemoteScript, toCountersignatoryValue, nil,
			)
			if err != nil {
				return nil, err
			}
		} else {
			pkScript, err := input.WitnessPubKeyHash(
				countersignatory.PaymentPoint.SerializeCompressed(),
			)
			if err != nil {
				return nil, err
			}

			outputs = append(outputs, &commitOutput{
				txOut: wire.NewTxOut(
					int64(toCountersignatoryValue), pkScript,
				),
			})
		}
	}

	if anchors {
		hasHtlcs := len(htlcs) > 0

		if toBroadcasterValue > 0 || hasHtlcs {
			anchorScript, err := input.CommitScriptAnchor(
				broadcaster.FundingPubkey,
			)
			if err != nil {
				return nil, err
			}

			err = addP2WSH(anchorScript, AnchorSize, nil)
			if err != nil {
				return nil, err
			}
		}

		if toCountersignatoryValue > 0 || hasHtlcs {
			anchorScript, err := input.CommitScriptAnchor(
				countersignatory.FundingPubkey,
			)
			if err != nil {
				return nil, err
			}

			err = addP2WSH(anchorScript, AnchorSize, nil)
			if err != nil {
				return nil, err
			}
		}
	}

	for i := range htlcs {
		htlc := htlcs[i]
		htlc.OutputIndex = fn.None[uint32]()

		if htlc.Amount <= 0 {
			return nil, fmt.Errorf("htlc %x has no value",
				htlc.PaymentHash[:])
		}

		witnessScript, err := htlc.WitnessScript(keys, anchors)
		if err != nil {
			return nil, err
		}

		if err := addP2WSH(witnessScript, htlc.Amount, &htlc); err != nil {
			return nil, err
		}
	}

	// Order the outputs according to BIP 69, HTLC outputs that are
	// otherwise identical are ordered by their expiry.
	sort.SliceStable(outputs, func(i, j int) bool {
		a, b := outputs[i], outputs[j]
		if a.txOut.Value != b.txOut.Value {
			return a.txOut.Value < b.txOut.Value
		}

		cmp := bytes.Compare(a.txOut.PkScript, b.txOut.PkScript)
		if cmp != 0 {
			return cmp < 0
		}

		return a.cltv < b.cltv
	})

	commitTx := wire.NewMsgTx(2)
	commitTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: params.FundingOutpoint(),
	})

	sortedHtlcs := make([]HTLCOutputInCommitment, 0, len(htlcs))
	for i, out := range outputs {
		commitTx.AddTxOut(out.txOut)

		if out.htlc != nil {
			out.htlc.OutputIndex = fn.Some(uint32(i))
			sortedHtlcs = append(sortedHtlcs, *out.htlc)
		}
	}

	err := SetStateNumHint(
		commitTx, shachain.MaxCommitmentNumber-commitmentNumber,
		params.StateHintObfuscator(),
	)
	if err != nil {
		return nil, err
	}

	commit := &CommitmentTransaction{
		commitmentNumber:        commitmentNumber,
		toBroadcasterValue:      toBroadcasterValue,
		toCountersignatoryValue: toCountersignatoryValue,
		feePerKw:                feePerKw,
		keys:                    *keys,
		anchors:                 anchors,
		htlcs:                   sortedHtlcs,
		tx:                      commitTx,
		txid:                    commitTx.TxHash(),
	}

	walletLog.Tracef("Built commitment #%d: %v", commitmentNumber,
		lnutils.SpewLogClosure(commitTx))

	return commit, nil
}

// CommitmentNumber returns the commitment number of the transaction.
func (c *CommitmentTransaction) CommitmentNumber() uint64 {
	return c.commitmentNumber
}

// ToBroadcasterValue returns the value of the to_local output.
func (c *CommitmentTransaction) ToBroadcasterValue() btcutil.Amount {
	return c.toBroadcasterValue
}

// ToCountersignatoryValue returns the value of the to_remote output.
func (c *CommitmentTransaction) ToCountersignatoryValue() btcutil.Amount {
	return c.toCountersignatoryValue
}

// FeePerKw returns the fee rate the commitment and its second level
// transactions were built with.
func (c *CommitmentTransaction) FeePerKw() chainfee.SatPerKWeight {
	return c.feePerKw
}

// Keys returns the per-commitment keys of the transaction.
func (c *CommitmentTransaction) Keys() TxCreationKeys {
	return c.keys
}

// PerCommitmentPoint returns the per-commitment point of the broadcaster.
func (c *CommitmentTransaction) PerCommitmentPoint() *btcec.PublicKey {
	return c.keys.PerCommitmentPoint
}

// OptAnchors returns true if the commitment has anchor outputs.
func (c *CommitmentTransaction) OptAnchors() bool {
	return c.anchors
}

// Htlcs returns the HTLC outputs of the commitment in output order.
func (c *CommitmentTransaction) Htlcs() []HTLCOutputInCommitment {
	htlcs := make([]HTLCOutputInCommitment, len(c.htlcs))
	copy(htlcs, c.htlcs)

	return htlcs
}

// Tx returns a copy of the unsigned commitment transaction.
func (c *CommitmentTransaction) Tx() *wire.MsgTx {
	return c.tx.Copy()
}

// Txid returns the txid of the commitment transaction.
func (c *CommitmentTransaction) Txid() chainhash.Hash {
	return c.txid
}

// HtlcTransaction builds the second level transaction of one of the HTLCs of
// the commitment. The contest delay is the to_self_delay of the broadcaster.
func (c *CommitmentTransaction) HtlcTransaction(htlc *HTLCOutputInCommitment,
	contestDelay uint16) (*wire.MsgTx, error) {

	return BuildHtlcTransaction(
		c.txid, c.feePerKw, contestDelay, htlc, c.anchors,
		c.keys.BroadcasterDelayedPaymentKey, c.keys.RevocationKey,
	)
}

// Verify checks that the commitment was built from the given channel
// parameters. The per-commitment keys are re-derived from the per-commitment
// point and the basepoints, then the transaction is rebuilt and compared.
func (c *CommitmentTransaction) Verify(
	params *DirectedChannelTransactionParameters) error {

	keys := NewTxCreationKeysFromChannelStaticKeys(
		c.keys.PerCommitmentPoint, params.BroadcasterPubkeys(),
		params.CountersignatoryPubkeys(),
	)
	if !keys.IsEqual(&c.keys) {
		return ErrKeysMismatch
	}

	rebuilt, err := NewCommitmentTransaction(
		c.commitmentNumber, c.toBroadcasterValue,
		c.toCountersignatoryValue, c.feePerKw, keys, c.htlcs, params,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitmentMismatch, err)
	}

	if rebuilt.txid != c.txid || len(rebuilt.htlcs) != len(c.htlcs) {
		return fmt.Errorf("%w: expected txid %v, got %v",
			ErrCommitmentMismatch, rebuilt.txid, c.txid)
	}

	for i := range c.htlcs {
		if !rebuilt.htlcs[i].isEqual(&c.htlcs[i]) {
			return fmt.Errorf("%w: htlc %d differs",
				ErrCommitmentMismatch, i)
		}
	}

	walletLog.Tracef("Verified commitment %d, txid=%v, num_htlcs=%d",
		c.commitmentNumber, c.txid, len(c.htlcs))

	return nil
}

// HolderCommitmentTransaction is one of our own commitment transactions
// together with the signatures of the counterparty.
type HolderCommitmentTransaction struct {
	*CommitmentTransaction

	// CounterpartySig is the counterparty's signature of the funding
	// input.
	CounterpartySig *ecdsa.Signature

	// CounterpartyHtlcSigs are the counterparty's signatures of our
	// second level HTLC transactions, in commitment output order.
	CounterpartyHtlcSigs []*ecdsa.Signature
}

// NewHolderCommitmentTransaction wraps one of our commitments with the
// signatures the counterparty sent for it.
func NewHolderCommitmentTransaction(commit *CommitmentTransaction,
	counterpartySig *ecdsa.Signature,
	counterpartyHtlcSigs []*ecdsa.Signature) *HolderCommitmentTransaction {

	return &HolderCommitmentTransaction{
		CommitmentTransaction: commit,
		CounterpartySig:       counterpartySig,
		CounterpartyHtlcSigs:  counterpartyHtlcSigs,
	}
}
