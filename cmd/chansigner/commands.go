package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/keymanager"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/lightningnetwork/chansigner/lnwallet/chansigner"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/urfave/cli"
)

func printJSON(resp interface{}) {
	b, err := json.Marshal(resp)
	if err != nil {
		fatal(err)
	}

	var out bytes.Buffer
	_ = json.Indent(&out, b, "", "\t")
	out.WriteString("\n")
	_, _ = out.WriteTo(os.Stdout)
}

func pubKeyHex(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// argOrFlag returns the named flag, or the first positional argument if the
// flag isn't set.
func argOrFlag(ctx *cli.Context, name string) (string, error) {
	switch {
	case ctx.IsSet(name):
		return ctx.String(name), nil

	case ctx.Args().Present():
		return ctx.Args().First(), nil

	default:
		return "", fmt.Errorf("%s argument missing", name)
	}
}

var nodeInfoCommand = cli.Command{
	Name:   "nodeinfo",
	Usage:  "Print the node identity key.",
	Action: nodeInfo,
}

func nodeInfo(_ *cli.Context) error {
	mgr, err := theEnv.manager()
	if err != nil {
		return err
	}

	printJSON(struct {
		NodeKey string `json:"node_key"`
		Network string `json:"network"`
	}{
		NodeKey: pubKeyHex(mgr.NodePubKey()),
		Network: mgr.ChainParams().Name,
	})

	return nil
}

var signMessageCommand = cli.Command{
	Name:      "signmessage",
	Usage:     "Sign a message with the node identity key.",
	ArgsUsage: "msg",
	Description: `
	Sign msg with the node identity key. The signature is zbase32 encoded
	and can be checked with verifymessage.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "msg",
			Usage: "the message to sign",
		},
	},
	Action: signMessage,
}

func signMessage(ctx *cli.Context) error {
	msg, err := argOrFlag(ctx, "msg")
	if err != nil {
		return err
	}

	mgr, err := theEnv.manager()
	if err != nil {
		return err
	}

	sig, err := mgr.SignMessage([]byte(msg))
	if err != nil {
		return err
	}

	printJSON(struct {
		Signature string `json:"signature"`
	}{
		Signature: sig,
	})

	return nil
}

var verifyMessageCommand = cli.Command{
	Name:      "verifymessage",
	Usage:     "Verify a message signature.",
	ArgsUsage: "msg signature",
	Description: `
	Recover the key that signed msg. If --pubkey is given, the signature is
	only valid if it was made by that key.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "msg",
			Usage: "the message that was signed",
		},
		cli.StringFlag{
			Name:  "sig",
			Usage: "the zbase32 encoded signature",
		},
		cli.StringFlag{
			Name:  "pubkey",
			Usage: "the hex encoded key expected to have signed",
		},
	},
	Action: verifyMessage,
}

func verifyMessage(ctx *cli.Context) error {
	args := ctx.Args()

	msg := ctx.String("msg")
	if !ctx.IsSet("msg") {
		if !args.Present() {
			return errors.New("msg argument missing")
		}
		msg = args.First()
		args = args.Tail()
	}

	sig := ctx.String("sig")
	if !ctx.IsSet("sig") {
		if !args.Present() {
			return errors.New("sig argument missing")
		}
		sig = args.First()
	}

	pubKey, err := keymanager.RecoverPubKey([]byte(msg), sig)
	if err != nil {
		return err
	}

	valid := true
	if ctx.IsSet("pubkey") {
		b, err := hex.DecodeString(ctx.String("pubkey"))
		if err != nil {
			return fmt.Errorf("invalid pubkey: %w", err)
		}
		expected, err := btcec.ParsePubKey(b)
		if err != nil {
			return fmt.Errorf("invalid pubkey: %w", err)
		}

		valid, err = keymanager.VerifyMessage([]byte(msg), sig, expected)
		if err != nil {
			return err
		}
	}

	printJSON(struct {
		Valid  bool   `json:"valid"`
		PubKey string `json:"pubkey"`
	}{
		Valid:  valid,
		PubKey: pubKeyHex(pubKey),
	})

	return nil
}

var deriveChannelCommand = cli.Command{
	Name:  "derivechannel",
	Usage: "Derive the keys of a channel.",
	Description: `
	Print the basepoints of the channel named by --keysid. Without
	--keysid, a fresh keys id is allocated for a new channel. With --save
	the signer is stored in the signer database.`,
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  "value",
			Usage: "the channel capacity in satoshis",
		},
		cli.StringFlag{
			Name:  "keysid",
			Usage: "the hex encoded 32 byte channel keys id",
		},
		cli.BoolFlag{
			Name:  "save",
			Usage: "store the signer in the signer database",
		},
	},
	Action: deriveChannel,
}

// channelKeysResp is the output of derivechannel.
type channelKeysResp struct {
	KeysID                  string `json:"keys_id"`
	ChannelValue            int64  `json:"channel_value_sat"`
	FundingPubkey           string `json:"funding_pubkey"`
	RevocationBasepoint     string `json:"revocation_basepoint"`
	PaymentPoint            string `json:"payment_point"`
	DelayedPaymentBasepoint string `json:"delayed_payment_basepoint"`
	HtlcBasepoint           string `json:"htlc_basepoint"`
}

func newChannelKeysResp(keysID keychain.ChannelKeysID, value btcutil.Amount,
	keys *lnwallet.ChannelPublicKeys) *channelKeysResp {

	return &channelKeysResp{
		KeysID:                  keysID.String(),
		ChannelValue:            int64(value),
		FundingPubkey:           pubKeyHex(keys.FundingPubkey),
		RevocationBasepoint:     pubKeyHex(keys.RevocationBasepoint),
		PaymentPoint:            pubKeyHex(keys.PaymentPoint),
		DelayedPaymentBasepoint: pubKeyHex(keys.DelayedPaymentBasepoint),
		HtlcBasepoint:           pubKeyHex(keys.HtlcBasepoint),
	}
}

func deriveChannel(ctx *cli.Context) error {
	value := btcutil.Amount(ctx.Int64("value"))
	if value <= 0 {
		return errors.New("channel value must be positive")
	}

	mgr, err := theEnv.manager()
	if err != nil {
		return err
	}

	var signer *chansigner.InMemorySigner
	if ctx.IsSet("keysid") {
		b, err := hex.DecodeString(ctx.String("keysid"))
		if err != nil || len(b) != keychain.ChannelKeysIDSize {
			return fmt.Errorf("keys id must be %d hex encoded "+
				"bytes", keychain.ChannelKeysIDSize)
		}

		keysID := keychain.ChannelKeysID(b)
		if keysID.ChildIndex() > uint64(keychain.MaxChannelChildIndex) {
			return fmt.Errorf("child index of keys id %v out of "+
				"range", keysID)
		}

		signer = mgr.DeriveChannelKeys(value, keysID)
	} else {
		signer = mgr.NewChannelSigner(value)
	}

	if ctx.Bool("save") {
		if err := theEnv.store.PutSigner(signer); err != nil {
			return err
		}
	}

	log.Infof("Derived keys of channel keys_id=%v", signer.ChannelKeysID())

	printJSON(newChannelKeysResp(
		signer.ChannelKeysID(), value, signer.Pubkeys(),
	))

	return nil
}

var newAddressCommand = cli.Command{
	Name:  "newaddress",
	Usage: "Generate a fresh P2WPKH address of the node.",
	Description: `
	Hand out a fresh destination address to sweep funds to, or with
	--shutdown an address for cooperative channel closes. Addresses are
	never handed out twice, outputs paying to them can be swept with the
	sweep command.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "shutdown",
			Usage: "generate a shutdown instead of a destination address",
		},
	},
	Action: newAddress,
}

func newAddress(ctx *cli.Context) error {
	script, err := theEnv.nextScript(ctx.Bool("shutdown"))
	if err != nil {
		return err
	}

	// The script is a P2WPKH, the witness program follows OP_0 and the
	// push opcode.
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		script[2:], theEnv.mgr.ChainParams(),
	)
	if err != nil {
		return err
	}

	printJSON(struct {
		Address  string `json:"address"`
		PkScript string `json:"pk_script"`
	}{
		Address:  addr.EncodeAddress(),
		PkScript: hex.EncodeToString(script),
	})

	return nil
}

var decodeDescriptorCommand = cli.Command{
	Name:      "decodedescriptor",
	Usage:     "Decode a spendable output descriptor.",
	ArgsUsage: "hex",
	Description: `
	Decode a hex encoded spendable output descriptor. With --store the
	output is added to the outputs swept by the sweep command.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "store",
			Usage: "store the output in the signer database",
		},
	},
	Action: decodeDescriptor,
}

// descriptorResp is the JSON form of a spendable output descriptor.
type descriptorResp struct {
	Type        string `json:"type"`
	Outpoint    string `json:"outpoint"`
	Value       int64  `json:"value_sat"`
	PkScript    string `json:"pk_script"`
	Sequence    uint32 `json:"sequence"`
	WitnessType string `json:"witness_type"`
	KeysID      string `json:"keys_id,omitempty"`
}

func newDescriptorResp(desc sweep.SpendableOutputDescriptor) *descriptorResp {
	resp := &descriptorResp{
		Type:        desc.Type().String(),
		Outpoint:    desc.Outpoint().String(),
		Value:       desc.TxOut().Value,
		PkScript:    hex.EncodeToString(desc.TxOut().PkScript),
		Sequence:    desc.Sequence(),
		WitnessType: desc.WitnessType().String(),
	}

	switch d := desc.(type) {
	case *sweep.DelayedPaymentOutput:
		resp.KeysID = d.ChannelKeysID.String()

	case *sweep.StaticPaymentOutput:
		resp.KeysID = d.ChannelKeysID.String()
	}

	return resp
}

func decodeDescriptor(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return errors.New("descriptor argument missing")
	}

	b, err := hex.DecodeString(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	desc, err := sweep.DecodeDescriptorBytes(b)
	if err != nil {
		return err
	}

	if ctx.Bool("store") {
		store, err := theEnv.signerStore()
		if err != nil {
			return err
		}

		if err := store.AddSpendableOutputs(desc); err != nil {
			return err
		}

		log.Infof("Stored spendable output %v", desc.Outpoint())
	}

	printJSON(newDescriptorResp(desc))

	return nil
}
