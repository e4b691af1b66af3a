package chansigner

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/lightningnetwork/chansigner/sweep"
)

// ChannelSigner holds the secrets of a single channel and produces every
// signature the channel needs. Implementations enforce that revoked states
// are never signed.
//
// A signer starts out unready. ReadyChannel must be called once the channel
// parameters are known, before any method depending on them is used.
type ChannelSigner interface {
	sweep.OutputSigner

	// PerCommitmentPoint returns the per-commitment point of the holder
	// commitment with the given number.
	PerCommitmentPoint(idx uint64) *btcec.PublicKey

	// ReleaseCommitmentSecret revokes the holder commitment with the
	// given number, returning its per-commitment secret.
	ReleaseCommitmentSecret(idx uint64) ([32]byte, error)

	// ValidateHolderCommitment checks a holder commitment and the
	// counterparty's signatures of it.
	ValidateHolderCommitment(
		commit *lnwallet.HolderCommitmentTransaction) error

	// SignCounterpartyCommitment signs a counterparty commitment and its
	// second level HTLC transactions. The HTLC signatures are returned in
	// commitment output order.
	SignCounterpartyCommitment(
		commit *lnwallet.CommitmentTransaction) (input.Signature,
		[]input.Signature, error)

	// ValidateCounterpartyRevocation checks the revocation secret of a
	// counterparty commitment.
	ValidateCounterpartyRevocation(idx uint64, secret [32]byte) error

	// SignHolderCommitmentAndHTLCs signs a validated holder commitment and
	// our side of its second level HTLC transactions, so they can be
	// broadcast.
	SignHolderCommitmentAndHTLCs(
		commit *lnwallet.HolderCommitmentTransaction) (input.Signature,
		[]input.Signature, error)

	// SignJusticeRevokedOutput signs the input of a justice transaction
	// which spends the to_local output of a revoked counterparty
	// commitment.
	SignJusticeRevokedOutput(tx *wire.MsgTx, inputIndex int,
		amount btcutil.Amount,
		perCommitmentKey *btcec.PrivateKey) (input.Signature, error)

	// SignJusticeRevokedHTLC signs the input of a justice transaction
	// which spends an HTLC output of a revoked counterparty commitment.
	SignJusticeRevokedHTLC(tx *wire.MsgTx, inputIndex int,
		amount btcutil.Amount, perCommitmentKey *btcec.PrivateKey,
		htlc *lnwallet.HTLCOutputInCommitment) (input.Signature, error)

	// SignCounterpartyHTLCTransaction signs the input of a transaction
	// which claims an HTLC output of a counterparty commitment directly.
	SignCounterpartyHTLCTransaction(tx *wire.MsgTx, inputIndex int,
		amount btcutil.Amount, perCommitmentPoint *btcec.PublicKey,
		htlc *lnwallet.HTLCOutputInCommitment) (input.Signature, error)

	// SignClosingTransaction signs the funding input of a cooperative
	// closing transaction.
	SignClosingTransaction(
		closing *lnwallet.ClosingTransaction) (input.Signature, error)

	// SignChannelAnnouncement signs the announcement with our funding
	// key.
	SignChannelAnnouncement(
		ann *lnwallet.UnsignedChannelAnnouncement) (input.Signature,
		error)

	// ChannelKeysID returns the identifier the keys were derived from.
	ChannelKeysID() keychain.ChannelKeysID

	// Pubkeys returns our basepoints.
	Pubkeys() *lnwallet.ChannelPublicKeys

	// ReadyChannel hands the signer the parameters of the channel.
	ReadyChannel(params *lnwallet.ChannelTransactionParameters)
}
