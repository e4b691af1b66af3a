package lnwallet

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChannelPublicKeys holds the public basepoints of one side of a channel. The
// per-commitment keys of each commitment transaction are derived from them.
type ChannelPublicKeys struct {
	// FundingPubkey is the key of this side in the 2-of-2 funding output.
	FundingPubkey *btcec.PublicKey

	// RevocationBasepoint is combined with the other side's
	// per-commitment point to derive the revocation key of the other
	// side's commitments.
	RevocationBasepoint *btcec.PublicKey

	// PaymentPoint is the untweaked key the to_remote output of the other
	// side's commitments pays to.
	PaymentPoint *btcec.PublicKey

	// DelayedPaymentBasepoint is tweaked into the key of the delayed
	// to_local output of this side's commitments.
	DelayedPaymentBasepoint *btcec.PublicKey

	// HtlcBasepoint is tweaked into the HTLC key of this side in every
	// commitment.
	HtlcBasepoint *btcec.PublicKey
}

// keys returns the basepoints in a fixed order.
func (c *ChannelPublicKeys) keys() []*btcec.PublicKey {
	return []*btcec.PublicKey{
		c.FundingPubkey, c.RevocationBasepoint, c.PaymentPoint,
		c.DelayedPaymentBasepoint, c.HtlcBasepoint,
	}
}

// IsComplete returns true if all basepoints are set.
func (c *ChannelPublicKeys) IsComplete() bool {
	for _, key := range c.keys() {
		if key == nil {
			return false
		}
	}

	return true
}

// IsEqual returns true if both sets hold the same basepoints.
func (c *ChannelPublicKeys) IsEqual(other *ChannelPublicKeys) bool {
	if !c.IsComplete() || !other.IsComplete() {
		return false
	}

	otherKeys := other.keys()
	for i, key := range c.keys() {
		if !key.IsEqual(otherKeys[i]) {
			return false
		}
	}

	return true
}

// CounterpartyChannelTransactionParameters are the parameters the
// counterparty contributes to the channel.
type CounterpartyChannelTransactionParameters struct {
	// Pubkeys are the basepoints of the counterparty.
	Pubkeys ChannelPublicKeys

	// SelectedContestDelay is the to_self_delay the counterparty requires
	// on the to_local output of our commitments.
	SelectedContestDelay uint16
}

// ChannelTransactionParameters are the static parameters of a channel that
// every commitment, HTLC and closing transaction is built from.
type ChannelTransactionParameters struct {
	// HolderPubkeys are our own basepoints.
	HolderPubkeys ChannelPublicKeys

	// HolderSelectedContestDelay is the to_self_delay we require on the
	// to_local output of the counterparty's commitments.
	HolderSelectedContestDelay uint16

	// IsOutboundFromHolder is true if we opened the channel.
	IsOutboundFromHolder bool

	// CounterpartyParameters are set once the counterparty's parameters
	// are known.
	CounterpartyParameters fn.Option[CounterpartyChannelTransactionParameters]

	// FundingOutpoint is set once the funding transaction is known.
	FundingOutpoint fn.Option[wire.OutPoint]

	// OptAnchors is true for channels using anchor outputs.
	OptAnchors bool
}

// IsPopulated returns true once both the counterparty parameters and the
// funding outpoint are known.
func (p *ChannelTransactionParameters) IsPopulated() bool {
	return p.CounterpartyParameters.IsSome() &&
		p.FundingOutpoint.IsSome() && p.HolderPubkeys.IsComplete()
}

// counterparty returns the counterparty parameters, panicking if they are not
// set.
func (p *ChannelTransactionParameters) counterparty() *CounterpartyChannelTransactionParameters {
	if !p.IsPopulated() {
		panic("channel transaction parameters are not populated")
	}

	cp := p.CounterpartyParameters.UnsafeFromSome()
	return &cp
}

// CounterpartyPubkeys returns the basepoints of the counterparty. It panics if
// the parameters are not populated.
func (p *ChannelTransactionParameters) CounterpartyPubkeys() *ChannelPublicKeys {
	return &p.counterparty().Pubkeys
}

// CounterpartySelectedContestDelay returns the to_self_delay the counterparty
// requires on our commitments. It panics if the parameters are not populated.
func (p *ChannelTransactionParameters) CounterpartySelectedContestDelay() uint16 {
	return p.counterparty().SelectedContestDelay
}

// Outpoint returns the funding outpoint. It panics if the parameters are not
// populated.
func (p *ChannelTransactionParameters) Outpoint() wire.OutPoint {
	if !p.IsPopulated() {
		panic("channel transaction parameters are not populated")
	}

	return p.FundingOutpoint.UnsafeFromSome()
}

// FundingScript returns the 2-of-2 witness script of the funding output.
func (p *ChannelTransactionParameters) FundingScript() ([]byte, error) {
	return input.GenMultiSigScript(
		p.HolderPubkeys.FundingPubkey.SerializeCompressed(),
		p.CounterpartyPubkeys().FundingPubkey.SerializeCompressed(),
	)
}

// AsHolderBroadcastable returns the parameters from the point of view of our
// own commitments.
func (p *ChannelTransactionParameters) AsHolderBroadcastable() *DirectedChannelTransactionParameters {
	// Panic early rather than on first use.
	p.counterparty()

	return &DirectedChannelTransactionParameters{
		inner:               p,
		holderIsBroadcaster: true,
	}
}

// AsCounterpartyBroadcastable returns the parameters from the point of view
// of the counterparty's commitments.
func (p *ChannelTransactionParameters) AsCounterpartyBroadcastable() *DirectedChannelTransactionParameters {
	p.counterparty()

	return &DirectedChannelTransactionParameters{
		inner:               p,
		holderIsBroadcaster: false,
	}
}

// DirectedChannelTransactionParameters are the channel parameters seen from
// the side that broadcasts a given commitment.
type DirectedChannelTransactionParameters struct {
	inner               *ChannelTransactionParameters
	holderIsBroadcaster bool
}

// HolderIsBroadcaster returns true if these are the parameters of our own
// commitments.
func (d *DirectedChannelTransactionParameters) HolderIsBroadcaster() bool {
	return d.holderIsBroadcaster
}

// BroadcasterPubkeys returns the basepoints of the broadcasting side.
func (d *DirectedChannelTransactionParameters) BroadcasterPubkeys() *ChannelPublicKeys {
	if d.holderIsBroadcaster {
		return &d.inner.HolderPubkeys
	}

	return d.inner.CounterpartyPubkeys()
}

// CountersignatoryPubkeys returns the basepoints of the side that signs the
// broadcaster's commitment.
func (d *DirectedChannelTransactionParameters) CountersignatoryPubkeys() *ChannelPublicKeys {
	if d.holderIsBroadcaster {
		return d.inner.CounterpartyPubkeys()
	}

	return &d.inner.HolderPubkeys
}

// ContestDelay returns the relative delay on the broadcaster's to_local
// output. It is the delay the countersignatory selected.
func (d *DirectedChannelTransactionParameters) ContestDelay() uint16 {
	if d.holderIsBroadcaster {
		return d.inner.CounterpartySelectedContestDelay()
	}

	return d.inner.HolderSelectedContestDelay
}

// IsOutbound returns true if the broadcaster opened the channel.
func (d *DirectedChannelTransactionParameters) IsOutbound() bool {
	if d.holderIsBroadcaster {
		return d.inner.IsOutboundFromHolder
	}

	return !d.inner.IsOutboundFromHolder
}

// FundingOutpoint returns the funding outpoint of the channel.
func (d *DirectedChannelTransactionParameters) FundingOutpoint() wire.OutPoint {
	return d.inner.Outpoint()
}

// OptAnchors returns true if the channel uses anchor outputs.
func (d *DirectedChannelTransactionParameters) OptAnchors() bool {
	return d.inner.OptAnchors
}

// StateHintObfuscator returns the obfuscator of the commitment numbers
// encoded into this channel's commitments. It is derived from the payment
// basepoints with the opener's first.
func (d *DirectedChannelTransactionParameters) StateHintObfuscator() [StateHintSize]byte {
	broadcaster := d.BroadcasterPubkeys().PaymentPoint
	countersignatory := d.CountersignatoryPubkeys().PaymentPoint

	if d.IsOutbound() {
		return DeriveStateHintObfuscator(broadcaster, countersignatory)
	}

	return DeriveStateHintObfuscator(countersignatory, broadcaster)
}

// DeriveStateHintObfuscator derives the bytes to be used for obfuscating the
// state hints from the payment basepoints of the opener and the accepter. The
// obfuscator is the lower 48 bits of:
//
//	sha256(openerPaymentBasepoint || accepterPaymentBasepoint)
func DeriveStateHintObfuscator(key1, key2 *btcec.PublicKey) [StateHintSize]byte {
	h := sha256.New()
	h.Write(key1.SerializeCompressed())
	h.Write(key2.SerializeCompressed())

	sha := h.Sum(nil)

	var obfuscator [StateHintSize]byte
	copy(obfuscator[:], sha[26:])

	return obfuscator
}
