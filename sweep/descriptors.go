package sweep

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrDecode is returned when a serialized descriptor is malformed.
	ErrDecode = errors.New("unable to decode spendable output descriptor")

	// ErrForeignDescriptor is returned by signers when the output of a
	// descriptor doesn't pay to keys derivable from their key material.
	ErrForeignDescriptor = errors.New("descriptor output not derivable " +
		"from channel keys")
)

// DescriptorType identifies the variant of a serialized descriptor.
type DescriptorType uint8

const (
	// StaticOutputType is the type of StaticOutput descriptors.
	StaticOutputType DescriptorType = 0

	// DelayedPaymentOutputType is the type of DelayedPaymentOutput
	// descriptors.
	DelayedPaymentOutputType DescriptorType = 1

	// StaticPaymentOutputType is the type of StaticPaymentOutput
	// descriptors.
	StaticPaymentOutputType DescriptorType = 2
)

// String returns a human readable name of the descriptor type.
func (d DescriptorType) String() string {
	switch d {
	case StaticOutputType:
		return "StaticOutput"

	case DelayedPaymentOutputType:
		return "DelayedPaymentOutput"

	case StaticPaymentOutputType:
		return "StaticPaymentOutput"

	default:
		return fmt.Sprintf("Unknown DescriptorType: %d", uint8(d))
	}
}

// SpendableOutputDescriptor describes an on-chain output we're able to spend
// once a channel was closed. The set of variants is closed, it consists of
// StaticOutput, DelayedPaymentOutput and StaticPaymentOutput.
type SpendableOutputDescriptor interface {
	// Outpoint returns the outpoint of the described output.
	Outpoint() wire.OutPoint

	// TxOut returns the described output.
	TxOut() *wire.TxOut

	// Type returns the variant of the descriptor.
	Type() DescriptorType

	// WitnessType returns the witness type used to spend the output.
	WitnessType() input.WitnessType

	// Sequence returns the sequence the spending input must carry.
	Sequence() uint32

	// records returns the TLV records of the descriptor.
	records() []tlv.Record
}

// StaticOutput is an output that pays to a script the node's key manager
// handed out, like a destination or shutdown script.
type StaticOutput struct {
	// OutPoint is the location of the output.
	OutPoint wire.OutPoint

	// Output is the output itself.
	Output *wire.TxOut
}

// Outpoint returns the outpoint of the described output.
func (s *StaticOutput) Outpoint() wire.OutPoint {
	return s.OutPoint
}

// TxOut returns the described output.
func (s *StaticOutput) TxOut() *wire.TxOut {
	return s.Output
}

// Type returns the variant of the descriptor.
func (s *StaticOutput) Type() DescriptorType {
	return StaticOutputType
}

// WitnessType returns the witness type used to spend the output.
func (s *StaticOutput) WitnessType() input.WitnessType {
	return input.WitnessKeyHash
}

// Sequence returns the sequence the spending input must carry.
func (s *StaticOutput) Sequence() uint32 {
	return 0
}

func (s *StaticOutput) records() []tlv.Record {
	return []tlv.Record{
		input.NewOutPointRecord(0, &s.OutPoint),
		input.NewTxOutRecord(2, &s.Output),
	}
}

// DelayedPaymentOutput is the to_local output of one of our own commitment
// transactions. It can be spent with our delayed payment key once ToSelfDelay
// blocks passed since the commitment confirmed.
type DelayedPaymentOutput struct {
	// OutPoint is the location of the output.
	OutPoint wire.OutPoint

	// PerCommitmentPoint is our per-commitment point of the commitment
	// transaction.
	PerCommitmentPoint *btcec.PublicKey

	// ToSelfDelay is the relative delay of the output.
	ToSelfDelay uint16

	// Output is the output itself.
	Output *wire.TxOut

	// RevocationPubkey is the revocation key of the commitment, it's part
	// of the output script.
	RevocationPubkey *btcec.PublicKey

	// ChannelKeysID names the key material of the channel.
	ChannelKeysID keychain.ChannelKeysID

	// ChannelValueSat is the capacity of the channel.
	ChannelValueSat btcutil.Amount
}

// Outpoint returns the outpoint of the described output.
func (d *DelayedPaymentOutput) Outpoint() wire.OutPoint {
	return d.OutPoint
}

// TxOut returns the described output.
func (d *DelayedPaymentOutput) TxOut() *wire.TxOut {
	return d.Output
}

// Type returns the variant of the descriptor.
func (d *DelayedPaymentOutput) Type() DescriptorType {
	return DelayedPaymentOutputType
}

// WitnessType returns the witness type used to spend the output.
func (d *DelayedPaymentOutput) WitnessType() input.WitnessType {
	return input.CommitmentTimeLock
}

// Sequence returns the sequence the spending input must carry.
func (d *DelayedPaymentOutput) Sequence() uint32 {
	return input.LockTimeToSequence(false, uint32(d.ToSelfDelay))
}

// Scripts returns the witness script and the pkScript the output has when it
// pays to the delayed payment basepoint of keys.
func (d *DelayedPaymentOutput) Scripts(
	keys *lnwallet.ChannelPublicKeys) ([]byte, []byte, error) {

	delayedKey := input.TweakPubKey(
		keys.DelayedPaymentBasepoint, d.PerCommitmentPoint,
	)
	witnessScript, err := input.CommitScriptToSelf(
		uint32(d.ToSelfDelay), delayedKey, d.RevocationPubkey,
	)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	return witnessScript, pkScript, nil
}

func (d *DelayedPaymentOutput) records() []tlv.Record {
	value := uint64(d.ChannelValueSat)
	keysID := [32]byte(d.ChannelKeysID)

	return []tlv.Record{
		input.NewOutPointRecord(0, &d.OutPoint),
		tlv.MakePrimitiveRecord(2, &d.PerCommitmentPoint),
		tlv.MakePrimitiveRecord(4, &d.ToSelfDelay),
		input.NewTxOutRecord(6, &d.Output),
		tlv.MakePrimitiveRecord(8, &d.RevocationPubkey),
		tlv.MakePrimitiveRecord(10, &keysID),
		tlv.MakePrimitiveRecord(12, &value),
	}
}

// StaticPaymentOutput is the to_remote output of a counterparty commitment
// transaction. It pays to our untweaked payment key. With anchors the output
// can only be spent after one confirmation.
type StaticPaymentOutput struct {
	// OutPoint is the location of the output.
	OutPoint wire.OutPoint

	// Output is the output itself.
	Output *wire.TxOut

	// ChannelKeysID names the key material of the channel.
	ChannelKeysID keychain.ChannelKeysID

	// ChannelValueSat is the capacity of the channel.
	ChannelValueSat btcutil.Amount
}

// Outpoint returns the outpoint of the described output.
func (s *StaticPaymentOutput) Outpoint() wire.OutPoint {
	return s.OutPoint
}

// TxOut returns the described output.
func (s *StaticPaymentOutput) TxOut() *wire.TxOut {
	return s.Output
}

// Type returns the variant of the descriptor.
func (s *StaticPaymentOutput) Type() DescriptorType {
	return StaticPaymentOutputType
}

// Anchors returns true if the output is the delayed to_remote output of an
// anchor channel.
func (s *StaticPaymentOutput) Anchors() bool {
	return s.Output != nil &&
		txscript.IsPayToWitnessScriptHash(s.Output.PkScript)
}

// WitnessType returns the witness type used to spend the output.
func (s *StaticPaymentOutput) WitnessType() input.WitnessType {
	if s.Anchors() {
		return input.CommitmentToRemoteConfirmed
	}

	return input.CommitmentNoDelay
}

// Sequence returns the sequence the spending input must carry.
func (s *StaticPaymentOutput) Sequence() uint32 {
	if s.Anchors() {
		return 1
	}

	return 0
}

// Scripts returns the witness script and the pkScript the output has when it
// pays to the payment point of keys. Without anchors the output is a P2WPKH
// and the witness script is nil.
func (s *StaticPaymentOutput) Scripts(
	keys *lnwallet.ChannelPublicKeys) ([]byte, []byte, error) {

	if !s.Anchors() {
		pkScript, err := input.WitnessPubKeyHash(
			keys.PaymentPoint.SerializeCompressed(),
		)

		return nil, pkScript, err
	}

	witnessScript, err := input.CommitScriptToRemoteConfirmed(
		keys.PaymentPoint,
	)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	return witnessScript, pkScript, nil
}

func (s *StaticPaymentOutput) records() []tlv.Record {
	value := uint64(s.ChannelValueSat)
	keysID := [32]byte(s.ChannelKeysID)

	return []tlv.Record{
		input.NewOutPointRecord(0, &s.OutPoint),
		input.NewTxOutRecord(2, &s.Output),
		tlv.MakePrimitiveRecord(4, &keysID),
		tlv.MakePrimitiveRecord(6, &value),
	}
}

// A compile time check to ensure all variants implement the descriptor
// interface.
var (
	_ SpendableOutputDescriptor = (*StaticOutput)(nil)
	_ SpendableOutputDescriptor = (*DelayedPaymentOutput)(nil)
	_ SpendableOutputDescriptor = (*StaticPaymentOutput)(nil)
)

// EncodeDescriptor writes the descriptor as its type byte followed by a length
// prefixed TLV stream.
func EncodeDescriptor(w io.Writer, desc SpendableOutputDescriptor) error {
	if _, err := w.Write([]byte{byte(desc.Type())}); err != nil {
		return err
	}

	stream, err := tlv.NewStream(desc.records()...)
	if err != nil {
		return err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return err
	}

	var buf [8]byte
	if err := tlv.WriteVarInt(w, uint64(b.Len()), &buf); err != nil {
		return err
	}

	_, err = w.Write(b.Bytes())

	return err
}

// maxDescriptorSize bounds the length of the TLV stream of a descriptor.
const maxDescriptorSize = 64 * 1024

// DecodeDescriptor reads a descriptor written by EncodeDescriptor. Unknown
// types, missing records, truncated streams and trailing bytes are rejected
// with ErrDecode.
func DecodeDescriptor(r io.Reader) (SpendableOutputDescriptor, error) {
	var typ [1]byte
	if _, err := io.ReadFull(r, typ[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var buf [8]byte
	length, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if length > maxDescriptorSize {
		return nil, fmt.Errorf("%w: stream of %d bytes", ErrDecode,
			length)
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var (
		desc       SpendableOutputDescriptor
		keysID     [32]byte
		channelVal uint64
		records    []tlv.Record
	)
	switch DescriptorType(typ[0]) {
	case StaticOutputType:
		d := &StaticOutput{}
		desc, records = d, d.records()

	case DelayedPaymentOutputType:
		d := &DelayedPaymentOutput{}
		desc = d
		records = []tlv.Record{
			input.NewOutPointRecord(0, &d.OutPoint),
			tlv.MakePrimitiveRecord(2, &d.PerCommitmentPoint),
			tlv.MakePrimitiveRecord(4, &d.ToSelfDelay),
			input.NewTxOutRecord(6, &d.Output),
			tlv.MakePrimitiveRecord(8, &d.RevocationPubkey),
			tlv.MakePrimitiveRecord(10, &keysID),
			tlv.MakePrimitiveRecord(12, &channelVal),
		}

	case StaticPaymentOutputType:
		d := &StaticPaymentOutput{}
		desc = d
		records = []tlv.Record{
			input.NewOutPointRecord(0, &d.OutPoint),
			input.NewTxOutRecord(2, &d.Output),
			tlv.MakePrimitiveRecord(4, &keysID),
			tlv.MakePrimitiveRecord(6, &channelVal),
		}

	default:
		return nil, fmt.Errorf("%w: unknown descriptor type %d",
			ErrDecode, typ[0])
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// Every record of a descriptor is required.
	for _, record := range records {
		if _, ok := parsed[record.Type()]; !ok {
			return nil, fmt.Errorf("%w: %v missing record %d",
				ErrDecode, DescriptorType(typ[0]),
				record.Type())
		}
	}

	switch d := desc.(type) {
	case *DelayedPaymentOutput:
		d.ChannelKeysID = keychain.ChannelKeysID(keysID)
		d.ChannelValueSat = btcutil.Amount(channelVal)

	case *StaticPaymentOutput:
		d.ChannelKeysID = keychain.ChannelKeysID(keysID)
		d.ChannelValueSat = btcutil.Amount(channelVal)
	}

	return desc, nil
}

// DecodeDescriptorBytes decodes a single descriptor that must span all of b.
func DecodeDescriptorBytes(b []byte) (SpendableOutputDescriptor, error) {
	r := bytes.NewReader(b)

	desc, err := DecodeDescriptor(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDecode,
			r.Len())
	}

	return desc, nil
}

// EncodeDescriptorBytes returns the serialized descriptor.
func EncodeDescriptorBytes(desc SpendableOutputDescriptor) ([]byte, error) {
	var b bytes.Buffer
	if err := EncodeDescriptor(&b, desc); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}
