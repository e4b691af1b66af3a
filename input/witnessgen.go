package input

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// WitnessType determines how an output's witness will be generated. The
// default commitmentTimeLock type will generate a witness that will allow
// spending of a time-locked transaction enforced by CheckSequenceVerify.
type WitnessType uint16

const (
	// CommitmentTimeLock is a witness that allows us to spend our output
	// on our local commitment transaction after a relative lock-time
	// lockout.
	CommitmentTimeLock WitnessType = 0

	// CommitmentNoDelay is a witness that allows us to spend a settled
	// no-delay output immediately on a counterparty's commitment
	// transaction. The output pays to our untweaked payment key.
	CommitmentNoDelay WitnessType = 1

	// CommitmentRevoke is a witness that allows us to sweep the settled
	// output of a malicious counterparty's who broadcasts a revoked
	// commitment transaction.
	CommitmentRevoke WitnessType = 2

	// HtlcOfferedRevoke is a witness that allows us to sweep an HTLC which
	// we offered to the remote party in the case that they broadcast a
	// revoked commitment state.
	HtlcOfferedRevoke WitnessType = 3

	// HtlcAcceptedRevoke is a witness that allows us to sweep an HTLC
	// output sent to us in the case that the remote party broadcasts a
	// revoked commitment state.
	HtlcAcceptedRevoke WitnessType = 4

	// WitnessKeyHash is a witness type that allows us to spend a regular
	// p2wkh output that's sent to an output which is under complete
	// control of the backing wallet.
	WitnessKeyHash WitnessType = 5

	// CommitmentToRemoteConfirmed is a witness that allows us to spend our
	// output on the counterparty's commitment transaction after a
	// confirmation. This is the to_remote output of anchor channels.
	CommitmentToRemoteConfirmed WitnessType = 6
)

// String returns a human readable version of the target WitnessType.
func (wt WitnessType) String() string {
	switch wt {
	case CommitmentTimeLock:
		return "CommitmentTimeLock"

	case CommitmentNoDelay:
		return "CommitmentNoDelay"

	case CommitmentRevoke:
		return "CommitmentRevoke"

	case HtlcOfferedRevoke:
		return "HtlcOfferedRevoke"

	case HtlcAcceptedRevoke:
		return "HtlcAcceptedRevoke"

	case WitnessKeyHash:
		return "WitnessKeyHash"

	case CommitmentToRemoteConfirmed:
		return "CommitmentToRemoteConfirmed"

	default:
		return fmt.Sprintf("Unknown WitnessType: %v", uint32(wt))
	}
}

// WitnessGenerator represents a function which is able to generate the final
// witness for a particular public key script. This function acts as an
// abstraction layer, hiding the details of the underlying script.
type WitnessGenerator func(tx *wire.MsgTx, hc *txscript.TxSigHashes,
	inputIndex int) (*Script, error)

// GenWitnessFunc will return a WitnessGenerator function that an output uses
// to generate the witness for a sweep transaction.
func (wt WitnessType) GenWitnessFunc(signer Signer,
	descriptor *SignDescriptor) WitnessGenerator {

	return func(tx *wire.MsgTx, hc *txscript.TxSigHashes,
		inputIndex int) (*Script, error) {

		desc := *descriptor
		desc.SigHashes = hc
		desc.InputIndex = inputIndex

		var (
			witness wire.TxWitness
			err     error
		)
		switch wt {
		case CommitmentTimeLock:
			witness, err = CommitSpendTimeout(signer, &desc, tx)

		case CommitmentNoDelay:
			witness, err = CommitSpendNoDelay(signer, &desc, tx)

		case CommitmentToRemoteConfirmed:
			witness, err = CommitSpendToRemoteConfirmed(
				signer, &desc, tx,
			)

		case CommitmentRevoke:
			witness, err = CommitSpendRevoke(signer, &desc, tx)

		case HtlcOfferedRevoke:
			witness, err = ReceiverHtlcSpendRevoke(signer, &desc, tx)

		case HtlcAcceptedRevoke:
			witness, err = SenderHtlcSpendRevoke(signer, &desc, tx)

		case WitnessKeyHash:
			return signer.ComputeInputScript(tx, &desc)

		default:
			return nil, fmt.Errorf("unknown witness type: %v", wt)
		}
		if err != nil {
			return nil, err
		}

		return &Script{
			Witness: witness,
		}, nil
	}
}

// SizeUpperBound returns the maximum length of the witness of this witness
// type if it would be included in a tx. An error is returned if the witness
// type is unknown.
func (wt WitnessType) SizeUpperBound() (int, error) {
	switch wt {
	case CommitmentTimeLock:
		return ToLocalTimeoutWitnessSize, nil

	case CommitmentNoDelay, WitnessKeyHash:
		return P2WKHWitnessSize, nil

	case CommitmentToRemoteConfirmed:
		return ToRemoteConfirmedWitnessSize, nil

	case CommitmentRevoke:
		return ToLocalPenaltyWitnessSize, nil

	// The offered and accepted HTLC scripts of anchor channels are three
	// bytes longer, so we use those as the upper bound.
	case HtlcOfferedRevoke:
		return OfferedHtlcPenaltyWitnessSizeConfirmed, nil

	case HtlcAcceptedRevoke:
		return AcceptedHtlcPenaltyWitnessSizeConfirmed, nil
	}

	return 0, fmt.Errorf("unexpected witness type: %v", wt)
}

// AddWeightEstimation adds the estimated size of the witness in bytes to the
// given weight estimator.
func (wt WitnessType) AddWeightEstimation(e *TxWeightEstimator) error {
	size, err := wt.SizeUpperBound()
	if err != nil {
		return err
	}

	e.AddWitnessInput(size)

	return nil
}
