package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/lnwallet/chainfee"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/urfave/cli"
)

var sweepCommand = cli.Command{
	Name:  "sweep",
	Usage: "Sweep stored channel outputs to the wallet.",
	Description: `
	Create a transaction spending the spendable outputs stored in the signer
	database. Without --outputs all stored outputs are swept. The funds go to
	--change, or to a fresh destination address of the node.

	By default the transaction is signed and the swept outputs are removed
	from the database. With --psbt an unsigned PSBT is printed instead and
	the database is left unchanged.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name: "db",
			Usage: "the directory of the signer database, if " +
				"not the data directory",
		},
		cli.StringSliceFlag{
			Name: "outputs",
			Usage: "an outpoint (txid:index) of a stored output " +
				"to sweep, can be given multiple times",
		},
		cli.StringFlag{
			Name:  "change",
			Usage: "the address to sweep the funds to",
		},
		cli.Uint64Flag{
			Name:  "feerate",
			Usage: "the fee rate in sat/kw",
		},
		cli.BoolFlag{
			Name:  "psbt",
			Usage: "print an unsigned PSBT instead of signing",
		},
	},
	Action: sweepOutputs,
}

// selectOutputs returns the stored outputs named by outpoints, or all of them
// if none are named.
func selectOutputs(stored []sweep.SpendableOutputDescriptor,
	outpoints []string) ([]sweep.SpendableOutputDescriptor, error) {

	if len(outpoints) == 0 {
		return stored, nil
	}

	byOutpoint := make(map[wire.OutPoint]sweep.SpendableOutputDescriptor,
		len(stored))
	for _, desc := range stored {
		byOutpoint[desc.Outpoint()] = desc
	}

	descs := make([]sweep.SpendableOutputDescriptor, 0, len(outpoints))
	for _, s := range outpoints {
		op, err := wire.NewOutPointFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid outpoint %v: %w", s, err)
		}

		desc, ok := byOutpoint[*op]
		if !ok {
			return nil, fmt.Errorf("output %v isn't stored", op)
		}
		descs = append(descs, desc)
	}

	return descs, nil
}

func sweepOutputs(ctx *cli.Context) error {
	if ctx.IsSet("db") {
		theEnv.cfg.DBDir = ctx.String("db")
	}

	feeRate := chainfee.SatPerKWeight(ctx.Uint64("feerate"))
	if feeRate < chainfee.FeePerKwFloor {
		return fmt.Errorf("fee rate must be at least %v",
			chainfee.FeePerKwFloor)
	}

	mgr, err := theEnv.manager()
	if err != nil {
		return err
	}
	store := theEnv.store

	stored, err := store.FetchSpendableOutputs()
	if err != nil {
		return err
	}
	descs, err := selectOutputs(stored, ctx.StringSlice("outputs"))
	if err != nil {
		return err
	}
	if len(descs) == 0 {
		return errors.New("no outputs to sweep")
	}

	var changeScript []byte
	if ctx.IsSet("change") {
		addr, err := btcutil.DecodeAddress(
			ctx.String("change"), mgr.ChainParams(),
		)
		if err != nil {
			return fmt.Errorf("invalid change address: %w", err)
		}

		changeScript, err = txscript.PayToAddrScript(addr)
		if err != nil {
			return err
		}
	} else {
		changeScript, err = theEnv.nextScript(false)
		if err != nil {
			return err
		}
	}

	if ctx.Bool("psbt") {
		packet, err := mgr.BuildSpendPacket(
			descs, nil, changeScript, feeRate,
		)
		if err != nil {
			return err
		}

		b64, err := packet.B64Encode()
		if err != nil {
			return err
		}

		printJSON(struct {
			Psbt string `json:"psbt"`
		}{
			Psbt: b64,
		})

		return nil
	}

	spendTx, err := mgr.SpendSpendableOutputs(
		descs, nil, changeScript, feeRate,
	)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := spendTx.Serialize(&buf); err != nil {
		return err
	}

	if err := store.RemoveSpendableOutputs(spendTx); err != nil {
		return err
	}

	log.Infof("Swept %d outputs in tx %v", len(descs), spendTx.TxHash())

	printJSON(struct {
		TxID   string `json:"txid"`
		RawTx  string `json:"raw_tx"`
		Inputs int    `json:"num_inputs"`
	}{
		TxID:   spendTx.TxHash().String(),
		RawTx:  hex.EncodeToString(buf.Bytes()),
		Inputs: len(spendTx.TxIn),
	})

	return nil
}
