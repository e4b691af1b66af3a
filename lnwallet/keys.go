package lnwallet

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/chansigner/input"
)

// ErrKeysMismatch is returned when the keys of a commitment don't match the
// ones derived from the channel's basepoints.
var ErrKeysMismatch = errors.New("commitment keys don't match channel " +
	"basepoints")

// TxCreationKeys are the per-commitment keys of one commitment transaction.
// They are derived from the basepoints of both sides and the per-commitment
// point of the broadcaster.
type TxCreationKeys struct {
	// PerCommitmentPoint is the point of the broadcaster for this
	// commitment.
	PerCommitmentPoint *btcec.PublicKey

	// RevocationKey is the key the countersignatory can sweep the
	// broadcaster's outputs with once this commitment was revoked.
	RevocationKey *btcec.PublicKey

	// BroadcasterHtlcKey is the HTLC key of the broadcaster.
	BroadcasterHtlcKey *btcec.PublicKey

	// CountersignatoryHtlcKey is the HTLC key of the countersignatory.
	CountersignatoryHtlcKey *btcec.PublicKey

	// BroadcasterDelayedPaymentKey is the key of the delayed to_local
	// output and of the second level HTLC outputs.
	BroadcasterDelayedPaymentKey *btcec.PublicKey
}

// DeriveTxCreationKeys derives the keys of a commitment from the broadcaster's
// per-commitment point and the basepoints of both sides.
func DeriveTxCreationKeys(perCommitmentPoint, broadcasterDelayedPaymentBase,
	broadcasterHtlcBase, countersignatoryRevocationBase,
	countersignatoryHtlcBase *btcec.PublicKey) *TxCreationKeys {

	return &TxCreationKeys{
		PerCommitmentPoint: perCommitmentPoint,
		RevocationKey: input.DeriveRevocationPubkey(
			countersignatoryRevocationBase, perCommitmentPoint,
		),
		BroadcasterHtlcKey: input.TweakPubKey(
			broadcasterHtlcBase, perCommitmentPoint,
		),
		CountersignatoryHtlcKey: input.TweakPubKey(
			countersignatoryHtlcBase, perCommitmentPoint,
		),
		BroadcasterDelayedPaymentKey: input.TweakPubKey(
			broadcasterDelayedPaymentBase, perCommitmentPoint,
		),
	}
}

// NewTxCreationKeysFromChannelStaticKeys derives the keys of a commitment from
// the broadcaster's per-commitment point and the static keys of both sides.
func NewTxCreationKeysFromChannelStaticKeys(perCommitmentPoint *btcec.PublicKey,
	broadcaster, countersignatory *ChannelPublicKeys) *TxCreationKeys {

	return DeriveTxCreationKeys(
		perCommitmentPoint, broadcaster.DelayedPaymentBasepoint,
		broadcaster.HtlcBasepoint, countersignatory.RevocationBasepoint,
		countersignatory.HtlcBasepoint,
	)
}

// IsEqual returns true if both sets hold the same keys.
func (k *TxCreationKeys) IsEqual(other *TxCreationKeys) bool {
	return k.PerCommitmentPoint.IsEqual(other.PerCommitmentPoint) &&
		k.RevocationKey.IsEqual(other.RevocationKey) &&
		k.BroadcasterHtlcKey.IsEqual(other.BroadcasterHtlcKey) &&
		k.CountersignatoryHtlcKey.IsEqual(
			other.CountersignatoryHtlcKey,
		) &&
		k.BroadcasterDelayedPaymentKey.IsEqual(
			other.BroadcasterDelayedPaymentKey,
		)
}
