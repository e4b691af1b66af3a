package lnwallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ClosingTransaction is a cooperative closing transaction of a channel. It
// spends the funding output to the shutdown scripts of both sides after the
// agreed fee was deducted from the opener's balance.
type ClosingTransaction struct {
	toHolderValue        btcutil.Amount
	toCounterpartyValue  btcutil.Amount
	toHolderScript       []byte
	toCounterpartyScript []byte
	fee                  btcutil.Amount
	fundingOutpoint      wire.OutPoint

	tx   *wire.MsgTx
	txid chainhash.Hash
}

// NewClosingTransaction builds the closing transaction spending the given
// funding outpoint. Outputs without value are omitted, the remaining ones are
// sorted according to BIP 69.
func NewClosingTransaction(toHolderValue, toCounterpartyValue,
	fee btcutil.Amount, toHolderScript, toCounterpartyScript []byte,
	fundingOutpoint wire.OutPoint) *ClosingTransaction {

	closeTx := wire.NewMsgTx(2)
	closeTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: fundingOutpoint,
		Sequence:         wire.MaxTxInSequenceNum,
	})

	if toHolderValue > 0 {
		closeTx.AddTxOut(wire.NewTxOut(
			int64(toHolderValue), toHolderScript,
		))
	}
	if toCounterpartyValue > 0 {
		closeTx.AddTxOut(wire.NewTxOut(
			int64(toCounterpartyValue), toCounterpartyScript,
		))
	}

	txsort.InPlaceSort(closeTx)

	return &ClosingTransaction{
		toHolderValue:        toHolderValue,
		toCounterpartyValue:  toCounterpartyValue,
		toHolderScript:       toHolderScript,
		toCounterpartyScript: toCounterpartyScript,
		fee:                  fee,
		fundingOutpoint:      fundingOutpoint,
		tx:                   closeTx,
		txid:                 closeTx.TxHash(),
	}
}

// ToHolderValue returns the value paid to our shutdown script.
func (c *ClosingTransaction) ToHolderValue() btcutil.Amount {
	return c.toHolderValue
}

// ToCounterpartyValue returns the value paid to the counterparty's shutdown
// script.
func (c *ClosingTransaction) ToCounterpartyValue() btcutil.Amount {
	return c.toCounterpartyValue
}

// ToHolderScript returns our shutdown script.
func (c *ClosingTransaction) ToHolderScript() []byte {
	return c.toHolderScript
}

// ToCounterpartyScript returns the counterparty's shutdown script.
func (c *ClosingTransaction) ToCounterpartyScript() []byte {
	return c.toCounterpartyScript
}

// Fee returns the agreed closing fee.
func (c *ClosingTransaction) Fee() btcutil.Amount {
	return c.fee
}

// FundingOutpoint returns the outpoint spent by the transaction.
func (c *ClosingTransaction) FundingOutpoint() wire.OutPoint {
	return c.fundingOutpoint
}

// Tx returns a copy of the unsigned closing transaction.
func (c *ClosingTransaction) Tx() *wire.MsgTx {
	return c.tx.Copy()
}

// Txid returns the txid of the closing transaction.
func (c *ClosingTransaction) Txid() chainhash.Hash {
	return c.txid
}

// Verify checks that the closing transaction spends the given funding
// outpoint and matches its values.
func (c *ClosingTransaction) Verify(fundingOutpoint wire.OutPoint) error {
	if c.fundingOutpoint != fundingOutpoint {
		return fmt.Errorf("closing tx spends %v, channel funded by %v",
			c.fundingOutpoint, fundingOutpoint)
	}

	rebuilt := NewClosingTransaction(
		c.toHolderValue, c.toCounterpartyValue, c.fee, c.toHolderScript,
		c.toCounterpartyScript, fundingOutpoint,
	)
	if rebuilt.txid != c.txid {
		return fmt.Errorf("closing tx %v doesn't match its values",
			c.txid)
	}

	if len(c.tx.TxOut) == 0 {
		return fmt.Errorf("closing tx has no outputs")
	}

	for _, txOut := range c.tx.TxOut {
		if len(txOut.PkScript) == 0 ||
			(!bytes.Equal(txOut.PkScript, c.toHolderScript) &&
				!bytes.Equal(txOut.PkScript, c.toCounterpartyScript)) {

			return fmt.Errorf("closing tx pays to unknown script %x",
				txOut.PkScript)
		}
	}

	return nil
}
