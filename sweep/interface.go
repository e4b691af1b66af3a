package sweep

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lnwallet"
)

// OutputSigner signs the inputs of a spend that claim outputs of one channel.
type OutputSigner interface {
	// Pubkeys returns the basepoints of our side of the channel.
	Pubkeys() *lnwallet.ChannelPublicKeys

	// SignCounterpartyPaymentInput returns the witness of the input at
	// inputIndex which spends the described to_remote output of a
	// counterparty commitment.
	SignCounterpartyPaymentInput(tx *wire.MsgTx, inputIndex int,
		desc *StaticPaymentOutput) (wire.TxWitness, error)

	// SignDynamicP2WSHInput returns the witness of the input at
	// inputIndex which spends the described delayed to_local output of
	// one of our commitments.
	SignDynamicP2WSHInput(tx *wire.MsgTx, inputIndex int,
		desc *DelayedPaymentOutput) (wire.TxWitness, error)
}

// SignerSource hands out the signers needed to spend a set of descriptors.
type SignerSource interface {
	// DeriveChannelSigner returns the signer of the channel with the
	// given keys id.
	DeriveChannelSigner(channelValue btcutil.Amount,
		keysID keychain.ChannelKeysID) OutputSigner

	// SignStaticOutput returns the witness of the input at inputIndex
	// which spends the described static output.
	SignStaticOutput(tx *wire.MsgTx, inputIndex int,
		desc *StaticOutput) (wire.TxWitness, error)
}
