package lnwallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
)

// templateScript returns a script of the standard type with the given size,
// or a non-witness script of that size. Only the type and size of a script
// matter to its dust limit.
func templateScript(scriptSize int) []byte {
	hash := make([]byte, 20)

	var (
		script []byte
		err    error
	)
	switch scriptSize {
	case input.P2WPKHSize:
		script, err = input.WitnessPubKeyHash(nil)

	case input.P2WSHSize:
		script, err = input.WitnessScriptHash(nil)

	case input.P2SHSize:
		script, err = txscript.NewScriptBuilder().
			AddOp(txscript.OP_HASH160).AddData(hash).
			AddOp(txscript.OP_EQUAL).Script()

	case input.P2PKHSize:
		script, err = txscript.NewScriptBuilder().
			AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
			AddData(hash).AddOp(txscript.OP_EQUALVERIFY).
			AddOp(txscript.OP_CHECKSIG).Script()
	}
	if err != nil || script == nil {
		return make([]byte, scriptSize)
	}

	return script
}

// DustLimitForSize returns the dust limit of an output whose pkScript has the
// given size, by btcd's relay policy. P2WPKH and P2WSH sized scripts are
// treated as witness programs, any other size as a legacy script.
func DustLimitForSize(scriptSize int) btcutil.Amount {
	txOut := &wire.TxOut{PkScript: templateScript(scriptSize)}

	return btcutil.Amount(mempool.GetDustThreshold(txOut))
}
