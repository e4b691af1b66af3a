package sweep

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/lightningnetwork/chansigner/lnwallet/chainfee"
)

var (
	// ErrEmptyDescriptors is returned when a spend is requested without
	// any outputs to spend.
	ErrEmptyDescriptors = errors.New("no spendable outputs given")

	// ErrDuplicateOutpoint is returned when the same outpoint is described
	// more than once.
	ErrDuplicateOutpoint = errors.New("duplicate outpoint")

	// ErrInsufficientFunds is returned when the spent outputs don't cover
	// the requested outputs and the fee.
	ErrInsufficientFunds = errors.New("insufficient input to create " +
		"spend tx")

	// ErrNoChangeScript is returned when a change output is needed but no
	// change script is given.
	ErrNoChangeScript = errors.New("no change script given")
)

// signerCache derives each channel signer needed for a spend only once.
type signerCache struct {
	source  SignerSource
	signers map[keychain.ChannelKeysID]OutputSigner
}

func newSignerCache(source SignerSource) *signerCache {
	return &signerCache{
		source:  source,
		signers: make(map[keychain.ChannelKeysID]OutputSigner),
	}
}

// signer returns the signer of the channel with the given keys id.
func (c *signerCache) signer(value btcutil.Amount,
	keysID keychain.ChannelKeysID) OutputSigner {

	if s, ok := c.signers[keysID]; ok {
		return s
	}

	s := c.source.DeriveChannelSigner(value, keysID)
	c.signers[keysID] = s

	return s
}

// SpendSpendableOutputs creates a signed transaction spending the described
// outputs to the given outputs. Whatever is left after paying the fee at
// feeRate goes to changeScript, unless it would be dust, in which case it's
// added to the fee. Either a fully signed transaction or an error is returned.
//
// NOTE: The descriptors must be derivable from the key material of signers,
// a descriptor paying to foreign keys causes a panic.
func SpendSpendableOutputs(descs []SpendableOutputDescriptor,
	outputs []*wire.TxOut, changeScript []byte,
	feeRate chainfee.SatPerKWeight, signers SignerSource) (*wire.MsgTx,
	error) {

	spendTx, txFee, err := createSpendTx(
		descs, outputs, changeScript, feeRate,
	)
	if err != nil {
		return nil, err
	}

	cache := newSignerCache(signers)
	for idx, desc := range descs {
		witness, err := signInput(spendTx, idx, desc, cache)
		if err != nil {
			return nil, fmt.Errorf("unable to sign input %d "+
				"spending %v: %w", idx, desc.Outpoint(), err)
		}

		spendTx.TxIn[idx].Witness = witness
	}

	log.Infof("Created spend transaction %v for %v inputs (%s), "+
		"fee_rate=%v, tx_fee=%v", spendTx.TxHash(), len(descs),
		inputTypeSummary(descs), feeRate, txFee)

	return spendTx, nil
}

// signInput returns the witness of input idx of tx, which spends the output
// described by desc.
func signInput(tx *wire.MsgTx, idx int, desc SpendableOutputDescriptor,
	cache *signerCache) (wire.TxWitness, error) {

	var (
		witness wire.TxWitness
		err     error
	)
	switch d := desc.(type) {
	case *StaticOutput:
		return cache.source.SignStaticOutput(tx, idx, d)

	case *DelayedPaymentOutput:
		signer := cache.signer(d.ChannelValueSat, d.ChannelKeysID)
		witness, err = signer.SignDynamicP2WSHInput(tx, idx, d)

	case *StaticPaymentOutput:
		signer := cache.signer(d.ChannelValueSat, d.ChannelKeysID)
		witness, err = signer.SignCounterpartyPaymentInput(tx, idx, d)

	default:
		return nil, fmt.Errorf("unknown descriptor type %T", desc)
	}

	if errors.Is(err, ErrForeignDescriptor) {
		panic(fmt.Sprintf("descriptor of %v doesn't match its channel "+
			"keys: %v", desc.Outpoint(), err))
	}

	return witness, err
}

// createSpendTx builds the unsigned transaction spending descs to outputs and
// returns it along with its fee.
func createSpendTx(descs []SpendableOutputDescriptor, outputs []*wire.TxOut,
	changeScript []byte, feeRate chainfee.SatPerKWeight) (*wire.MsgTx,
	btcutil.Amount, error) {

	if len(descs) == 0 {
		return nil, 0, ErrEmptyDescriptors
	}

	var (
		// We use version 2 as it is required for CSV.
		spendTx = wire.NewMsgTx(2)

		estimator = newWeightEstimator(feeRate)
		seen      = make(map[wire.OutPoint]struct{}, len(descs))

		totalInput     btcutil.Amount
		requiredOutput btcutil.Amount
	)
	for _, desc := range descs {
		outpoint := desc.Outpoint()
		if _, ok := seen[outpoint]; ok {
			return nil, 0, fmt.Errorf("%w: %v", ErrDuplicateOutpoint,
				outpoint)
		}
		seen[outpoint] = struct{}{}

		if err := estimator.add(desc); err != nil {
			return nil, 0, err
		}

		spendTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: outpoint,
			Sequence:         desc.Sequence(),
		})
		totalInput += btcutil.Amount(desc.TxOut().Value)
	}

	// Dust and standardness of the requested outputs are up to the
	// caller, a dust output is only logged.
	for i, o := range outputs {
		if txrules.IsDustOutput(o, txrules.DefaultRelayFeePerKb) {
			log.Warnf("Requested output %d of %v is dust, the "+
				"spend tx may not relay", i,
				btcutil.Amount(o.Value))
		}

		spendTx.AddTxOut(o)
		estimator.addOutput(o)
		requiredOutput += btcutil.Amount(o.Value)
	}

	// The fee is what we'd pay with a change output. If the change
	// remaining at that fee isn't dust, it's added.
	txFee := estimator.withChange(changeScript).fee()
	changeAmt := totalInput - requiredOutput - txFee
	changeLimit := lnwallet.DustLimitForSize(len(changeScript))

	if changeAmt >= changeLimit {
		if len(changeScript) == 0 {
			return nil, 0, ErrNoChangeScript
		}

		spendTx.AddTxOut(&wire.TxOut{
			PkScript: changeScript,
			Value:    int64(changeAmt),
		})
	} else {
		txFee = estimator.fee()
		if totalInput < requiredOutput+txFee {
			return nil, 0, fmt.Errorf("%w: input_sum=%v, "+
				"output_sum=%v, fee=%v", ErrInsufficientFunds,
				totalInput, requiredOutput, txFee)
		}

		log.Debugf("Change amt %v below dust limit %v, not adding "+
			"change output", changeAmt, changeLimit)

		// The dust amount is added to the fee as the miner will
		// collect it.
		txFee = totalInput - requiredOutput
	}

	btx := btcutil.NewTx(spendTx)
	if err := blockchain.CheckTransactionSanity(btx); err != nil {
		return nil, 0, err
	}

	log.Debugf("Spend tx weight estimate %v for %v inputs and %v outputs",
		estimator.weight(), len(spendTx.TxIn), len(spendTx.TxOut))

	return spendTx, txFee, nil
}

// BuildSpendPacket creates the transaction SpendSpendableOutputs would sign as
// an unsigned PSBT, for signing by an external signer. Every input carries the
// output it spends and, if it's a P2WSH, its witness script.
func BuildSpendPacket(descs []SpendableOutputDescriptor,
	outputs []*wire.TxOut, changeScript []byte,
	feeRate chainfee.SatPerKWeight, signers SignerSource) (*psbt.Packet,
	error) {

	spendTx, _, err := createSpendTx(descs, outputs, changeScript, feeRate)
	if err != nil {
		return nil, err
	}

	packet, err := psbt.NewFromUnsignedTx(spendTx)
	if err != nil {
		return nil, err
	}

	cache := newSignerCache(signers)
	for idx, desc := range descs {
		var (
			witnessScript, pkScript []byte
			err                     error
		)
		switch d := desc.(type) {
		case *DelayedPaymentOutput:
			signer := cache.signer(d.ChannelValueSat, d.ChannelKeysID)
			witnessScript, pkScript, err = d.Scripts(signer.Pubkeys())

		case *StaticPaymentOutput:
			signer := cache.signer(d.ChannelValueSat, d.ChannelKeysID)
			witnessScript, pkScript, err = d.Scripts(signer.Pubkeys())

		default:
			pkScript = desc.TxOut().PkScript
		}
		if err != nil {
			return nil, err
		}
		if string(pkScript) != string(desc.TxOut().PkScript) {
			return nil, fmt.Errorf("%w: %v", ErrForeignDescriptor,
				desc.Outpoint())
		}

		pIn := &packet.Inputs[idx]
		pIn.WitnessUtxo = desc.TxOut()
		pIn.WitnessScript = witnessScript
		pIn.SighashType = txscript.SigHashAll
	}

	if err := packet.SanityCheck(); err != nil {
		return nil, err
	}

	return packet, nil
}

// inputTypeSummary returns a string containing a human readable summary about
// the witness types of a list of descriptors.
func inputTypeSummary(descs []SpendableOutputDescriptor) string {
	// Sort descriptors by witness type.
	sorted := make([]SpendableOutputDescriptor, len(descs))
	copy(sorted, descs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].WitnessType().String() <
			sorted[j].WitnessType().String()
	})

	var parts []string
	for _, d := range sorted {
		part := fmt.Sprintf("%v (%v)", d.Outpoint(), d.WitnessType())
		parts = append(parts, part)
	}

	return strings.Join(parts, "\n")
}
