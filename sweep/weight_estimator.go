package sweep

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/lntypes"
	"github.com/lightningnetwork/chansigner/lnwallet/chainfee"
)

// weightEstimator wraps a standard weight estimator instance and tracks the
// weight of a spend with and without its change output.
type weightEstimator struct {
	estimator input.TxWeightEstimator
	feeRate   chainfee.SatPerKWeight
}

// newWeightEstimator instantiates a new spend weight estimator.
func newWeightEstimator(feeRate chainfee.SatPerKWeight) *weightEstimator {
	return &weightEstimator{
		feeRate: feeRate,
	}
}

// add adds the weight of the input spending the described output.
func (w *weightEstimator) add(desc SpendableOutputDescriptor) error {
	return desc.WitnessType().AddWeightEstimation(&w.estimator)
}

// addOutput updates the weight estimate to account for the known output
// given.
func (w *weightEstimator) addOutput(txOut *wire.TxOut) {
	w.estimator.AddTxOutput(txOut)
}

// weight gets the estimated weight of the transaction.
func (w *weightEstimator) weight() lntypes.WeightUnit {
	return w.estimator.Weight()
}

// fee returns the fee of the transaction as estimated so far.
func (w *weightEstimator) fee() btcutil.Amount {
	return w.feeRate.FeeForWeight(w.estimator.Weight())
}

// withChange returns a copy of the estimate with a change output paying to
// pkScript.
func (w *weightEstimator) withChange(pkScript []byte) *weightEstimator {
	c := *w
	c.estimator.AddChangeOutput(pkScript)

	return &c
}
