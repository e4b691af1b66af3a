package chansigner

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/sweep"
)

// checkSpendingInput checks that input inputIndex of tx spends the given
// outpoint.
func checkSpendingInput(tx *wire.MsgTx, inputIndex int,
	outpoint wire.OutPoint) error {

	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return fmt.Errorf("%w: input index %d out of range for tx "+
			"with %d inputs", ErrInputMismatch, inputIndex,
			len(tx.TxIn))
	}

	if tx.TxIn[inputIndex].PreviousOutPoint != outpoint {
		return fmt.Errorf("%w: input %d spends %v, not %v",
			ErrInputMismatch, inputIndex,
			tx.TxIn[inputIndex].PreviousOutPoint, outpoint)
	}

	return nil
}

// SignCounterpartyPaymentInput returns the witness of input inputIndex of tx,
// which spends the to_remote output of a counterparty commitment paying to our
// payment key.
func (s *InMemorySigner) SignCounterpartyPaymentInput(tx *wire.MsgTx,
	inputIndex int,
	desc *sweep.StaticPaymentOutput) (wire.TxWitness, error) {

	if err := checkSpendingInput(tx, inputIndex, desc.OutPoint); err != nil {
		return nil, err
	}

	paymentPoint := s.Pubkeys().PaymentPoint
	witnessScript, pkScript, err := desc.Scripts(s.Pubkeys())
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pkScript, desc.Output.PkScript) {
		return nil, fmt.Errorf("%w: to_remote output %v of keys_id=%v",
			sweep.ErrForeignDescriptor, desc.OutPoint,
			s.keys.KeysID)
	}

	// A P2WPKH signature commits to the pkScript.
	if witnessScript == nil {
		witnessScript = pkScript
	}
	signDesc := &input.SignDescriptor{
		KeyDesc: keychain.KeyDescriptor{
			PubKey: paymentPoint,
		},
		WitnessScript: witnessScript,
		Output:        desc.Output,
		HashType:      txscript.SigHashAll,
		InputIndex:    inputIndex,
	}

	var witness wire.TxWitness
	if desc.Anchors() {
		witness, err = input.CommitSpendToRemoteConfirmed(
			s.signer, signDesc, tx,
		)
	} else {
		witness, err = input.CommitSpendNoDelay(s.signer, signDesc, tx)
	}
	if err != nil {
		return nil, err
	}

	countSignature(opSweep)

	return witness, nil
}

// SignDynamicP2WSHInput returns the witness of input inputIndex of tx, which
// spends the delayed to_local output of one of our commitments. The input must
// carry a sequence satisfying the to_self_delay of the output.
func (s *InMemorySigner) SignDynamicP2WSHInput(tx *wire.MsgTx,
	inputIndex int,
	desc *sweep.DelayedPaymentOutput) (wire.TxWitness, error) {

	if err := checkSpendingInput(tx, inputIndex, desc.OutPoint); err != nil {
		return nil, err
	}

	sequence := tx.TxIn[inputIndex].Sequence
	if sequence&wire.SequenceLockTimeDisabled != 0 ||
		sequence&wire.SequenceLockTimeIsSeconds != 0 ||
		sequence&wire.SequenceLockTimeMask < uint32(desc.ToSelfDelay) {

		return nil, fmt.Errorf("%w: sequence %d of input %d doesn't "+
			"satisfy to_self_delay %d", ErrInputMismatch, sequence,
			inputIndex, desc.ToSelfDelay)
	}

	delayedBase := s.Pubkeys().DelayedPaymentBasepoint
	witnessScript, pkScript, err := desc.Scripts(s.Pubkeys())
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pkScript, desc.Output.PkScript) {
		return nil, fmt.Errorf("%w: to_local output %v of keys_id=%v",
			sweep.ErrForeignDescriptor, desc.OutPoint,
			s.keys.KeysID)
	}

	witness, err := input.CommitSpendTimeout(s.signer, &input.SignDescriptor{
		KeyDesc: keychain.KeyDescriptor{
			PubKey: delayedBase,
		},
		SingleTweak: input.SingleTweakBytes(
			desc.PerCommitmentPoint, delayedBase,
		),
		WitnessScript: witnessScript,
		Output:        desc.Output,
		HashType:      txscript.SigHashAll,
		InputIndex:    inputIndex,
	}, tx)
	if err != nil {
		return nil, err
	}

	countSignature(opSweep)

	return witness, nil
}
