package chansigner

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/lightningnetwork/chansigner/shachain"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// serializationVersion is the version of the signer encoding.
	serializationVersion uint8 = 0

	// maxStreamSize bounds the TLV part of a serialized signer.
	maxStreamSize = 1 << 16
)

// TLV types of the signer stream.
const (
	typeChannelValue     tlv.Type = 0
	typeKeysID           tlv.Type = 2
	typeParams           tlv.Type = 4
	typeHolderFloor      tlv.Type = 6
	typeLastValidated    tlv.Type = 8
	typeLastCounterparty tlv.Type = 10
	typeCounterpartyPts  tlv.Type = 12
	typeRevocationStore  tlv.Type = 14
)

// TLV types of the channel parameters record. Holder basepoints use types
// 0 to 4 and counterparty basepoints types 8 to 12.
const (
	paramHolderKeys       tlv.Type = 0
	paramHolderDelay      tlv.Type = 5
	paramOutbound         tlv.Type = 6
	paramAnchors          tlv.Type = 7
	paramCounterpartyKeys tlv.Type = 8
	paramCounterpartyDly  tlv.Type = 13
	paramFundingOutpoint  tlv.Type = 14

	numParamRecords = 15
)

// decodeErr wraps an error as a decoding error.
func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrDecode, fmt.Sprintf(format, args...))
}

// secretKeys returns the base secrets in their serialization order.
func (s *InMemorySigner) secretKeys() []*btcec.PrivateKey {
	return []*btcec.PrivateKey{
		s.keys.FundingKey, s.keys.RevocationBaseKey, s.keys.PaymentKey,
		s.keys.DelayedPaymentBaseKey, s.keys.HtlcBaseKey,
	}
}

// Encode writes the signer, its channel parameters and its revocation state
// to w.
func (s *InMemorySigner) Encode(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := w.Write([]byte{serializationVersion}); err != nil {
		return err
	}

	for _, key := range s.secretKeys() {
		if _, err := w.Write(key.Serialize()); err != nil {
			return err
		}
	}
	if _, err := w.Write(s.keys.CommitmentSeed[:]); err != nil {
		return err
	}

	records, err := s.records()
	if err != nil {
		return err
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return err
	}

	var scratch [8]byte
	if err := tlv.WriteVarInt(w, uint64(b.Len()), &scratch); err != nil {
		return err
	}

	_, err = w.Write(b.Bytes())
	return err
}

// Serialize returns the encoding of the signer.
func (s *InMemorySigner) Serialize() ([]byte, error) {
	var b bytes.Buffer
	if err := s.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// records returns the TLV records of the signer. The caller must hold mu.
func (s *InMemorySigner) records() ([]tlv.Record, error) {
	value := uint64(s.channelValue)
	keysID := [32]byte(s.keys.KeysID)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeChannelValue, &value),
		tlv.MakePrimitiveRecord(typeKeysID, &keysID),
	}

	if s.params.IsSome() {
		params, err := encodeParams(s.params.UnsafeFromSome())
		if err != nil {
			return nil, err
		}

		records = append(
			records, tlv.MakePrimitiveRecord(typeParams, &params),
		)
	}

	optRecord := func(typ tlv.Type, opt fn.Option[uint64]) {
		opt.WhenSome(func(n uint64) {
			records = append(records, tlv.MakePrimitiveRecord(typ, &n))
		})
	}
	optRecord(typeHolderFloor, s.guard.holderRevokedFloor)
	optRecord(typeLastValidated, s.guard.lastValidatedHolder)
	optRecord(typeLastCounterparty, s.guard.lastCounterparty)

	points, err := encodePoints(s.guard.counterpartyPoints)
	if err != nil {
		return nil, err
	}

	var store bytes.Buffer
	if err := s.guard.store.Encode(&store); err != nil {
		return nil, err
	}
	storeBytes := store.Bytes()

	records = append(records,
		tlv.MakePrimitiveRecord(typeCounterpartyPts, &points),
		tlv.MakePrimitiveRecord(typeRevocationStore, &storeBytes),
	)

	return records, nil
}

// DecodeInMemorySigner reads a signer written by Encode from r.
func DecodeInMemorySigner(r io.Reader) (*InMemorySigner, error) {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, decodeErr("version: %v", err)
	}
	if version[0] != serializationVersion {
		return nil, decodeErr("unknown version %d", version[0])
	}

	var secrets [5]*btcec.PrivateKey
	for i := range secrets {
		var b [32]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, decodeErr("secret %d: %v", i, err)
		}

		var scalar btcec.ModNScalar
		if overflow := scalar.SetBytes(&b); overflow != 0 {
			return nil, decodeErr("secret %d isn't below the "+
				"group order", i)
		}
		if scalar.IsZero() {
			return nil, decodeErr("secret %d is zero", i)
		}
		secrets[i], _ = btcec.PrivKeyFromBytes(b[:])
	}

	keys := &keychain.ChannelKeys{
		FundingKey:            secrets[0],
		RevocationBaseKey:     secrets[1],
		PaymentKey:            secrets[2],
		DelayedPaymentBaseKey: secrets[3],
		HtlcBaseKey:           secrets[4],
	}
	if _, err := io.ReadFull(r, keys.CommitmentSeed[:]); err != nil {
		return nil, decodeErr("commitment seed: %v", err)
	}

	var scratch [8]byte
	streamLen, err := tlv.ReadVarInt(r, &scratch)
	if err != nil {
		return nil, decodeErr("stream length: %v", err)
	}
	if streamLen > maxStreamSize {
		return nil, decodeErr("stream of %d bytes too large", streamLen)
	}

	streamBytes := make([]byte, streamLen)
	if _, err := io.ReadFull(r, streamBytes); err != nil {
		return nil, decodeErr("stream: %v", err)
	}

	var (
		value, holderFloor, lastValidated, lastCounterparty uint64
		keysID                                              [32]byte
		params, points, store                               []byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeChannelValue, &value),
		tlv.MakePrimitiveRecord(typeKeysID, &keysID),
		tlv.MakePrimitiveRecord(typeParams, &params),
		tlv.MakePrimitiveRecord(typeHolderFloor, &holderFloor),
		tlv.MakePrimitiveRecord(typeLastValidated, &lastValidated),
		tlv.MakePrimitiveRecord(typeLastCounterparty, &lastCounterparty),
		tlv.MakePrimitiveRecord(typeCounterpartyPts, &points),
		tlv.MakePrimitiveRecord(typeRevocationStore, &store),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(
		bytes.NewReader(streamBytes),
	)
	if err != nil {
		return nil, decodeErr("stream: %v", err)
	}

	for _, typ := range []tlv.Type{
		typeChannelValue, typeKeysID, typeCounterpartyPts,
		typeRevocationStore,
	} {
		if _, ok := parsed[typ]; !ok {
			return nil, decodeErr("missing record %d", typ)
		}
	}

	keys.KeysID = keychain.ChannelKeysID(keysID)
	signer := NewInMemorySigner(keys, btcutil.Amount(value))

	if _, ok := parsed[typeParams]; ok {
		p, err := decodeParams(params)
		if err != nil {
			return nil, err
		}
		if !p.HolderPubkeys.IsEqual(signer.Pubkeys()) {
			return nil, decodeErr("channel parameters don't carry " +
				"the signer's basepoints")
		}

		signer.params = fn.Some(p)
	}

	optValue := func(typ tlv.Type, n uint64) fn.Option[uint64] {
		if _, ok := parsed[typ]; ok {
			return fn.Some(n)
		}

		return fn.None[uint64]()
	}
	signer.guard.holderRevokedFloor = optValue(typeHolderFloor, holderFloor)
	signer.guard.lastValidatedHolder = optValue(
		typeLastValidated, lastValidated,
	)
	signer.guard.lastCounterparty = optValue(
		typeLastCounterparty, lastCounterparty,
	)

	signer.guard.counterpartyPoints, err = decodePoints(points)
	if err != nil {
		return nil, err
	}

	storeReader := bytes.NewReader(store)
	signer.guard.store, err = shachain.NewRevocationStoreFromBytes(
		storeReader,
	)
	if err != nil {
		return nil, decodeErr("revocation store: %v", err)
	}
	if storeReader.Len() != 0 {
		return nil, decodeErr("%d trailing bytes after revocation "+
			"store", storeReader.Len())
	}

	return signer, nil
}

// DeserializeInMemorySigner decodes a signer from b, which must hold exactly
// one encoded signer.
func DeserializeInMemorySigner(b []byte) (*InMemorySigner, error) {
	r := bytes.NewReader(b)

	signer, err := DecodeInMemorySigner(r)
	if err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, decodeErr("%d trailing bytes after signer", r.Len())
	}

	return signer, nil
}

// pubkeyRecords returns the records of a set of basepoints, using the five
// types starting at base.
func pubkeyRecords(base tlv.Type,
	keys *lnwallet.ChannelPublicKeys) []tlv.Record {

	return []tlv.Record{
		tlv.MakePrimitiveRecord(base, &keys.FundingPubkey),
		tlv.MakePrimitiveRecord(base+1, &keys.RevocationBasepoint),
		tlv.MakePrimitiveRecord(base+2, &keys.PaymentPoint),
		tlv.MakePrimitiveRecord(base+3, &keys.DelayedPaymentBasepoint),
		tlv.MakePrimitiveRecord(base+4, &keys.HtlcBasepoint),
	}
}

// paramsStream returns the TLV stream of the channel parameters record.
func paramsStream(holder, counterparty *lnwallet.ChannelPublicKeys,
	holderDelay, counterpartyDelay *uint16, outbound, anchors *uint8,
	outpoint *wire.OutPoint) (*tlv.Stream, error) {

	records := pubkeyRecords(paramHolderKeys, holder)
	records = append(records,
		tlv.MakePrimitiveRecord(paramHolderDelay, holderDelay),
		tlv.MakePrimitiveRecord(paramOutbound, outbound),
		tlv.MakePrimitiveRecord(paramAnchors, anchors),
	)
	records = append(
		records, pubkeyRecords(paramCounterpartyKeys, counterparty)...,
	)
	records = append(records,
		tlv.MakePrimitiveRecord(paramCounterpartyDly, counterpartyDelay),
		input.NewOutPointRecord(paramFundingOutpoint, outpoint),
	)

	return tlv.NewStream(records...)
}

// boolByte encodes a flag as a single byte.
func boolByte(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

// encodeParams serializes populated channel parameters.
func encodeParams(p *lnwallet.ChannelTransactionParameters) ([]byte, error) {
	counterparty := p.CounterpartyParameters.UnsafeFromSome()
	holder := p.HolderPubkeys
	outpoint := p.Outpoint()
	holderDelay := p.HolderSelectedContestDelay
	outbound := boolByte(p.IsOutboundFromHolder)
	anchors := boolByte(p.OptAnchors)

	stream, err := paramsStream(
		&holder, &counterparty.Pubkeys, &holderDelay,
		&counterparty.SelectedContestDelay, &outbound, &anchors,
		&outpoint,
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeParams deserializes channel parameters written by encodeParams.
func decodeParams(b []byte) (*lnwallet.ChannelTransactionParameters, error) {
	var (
		holder, counterparty           lnwallet.ChannelPublicKeys
		holderDelay, counterpartyDelay uint16
		outbound, anchors              uint8
		outpoint                       wire.OutPoint
	)

	stream, err := paramsStream(
		&holder, &counterparty, &holderDelay, &counterpartyDelay,
		&outbound, &anchors, &outpoint,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(b))
	if err != nil {
		return nil, decodeErr("channel parameters: %v", err)
	}
	for typ := tlv.Type(0); typ < numParamRecords; typ++ {
		if _, ok := parsed[typ]; !ok {
			return nil, decodeErr("channel parameters: missing "+
				"record %d", typ)
		}
	}
	if outbound > 1 || anchors > 1 {
		return nil, decodeErr("channel parameters: invalid flag")
	}

	return &lnwallet.ChannelTransactionParameters{
		HolderPubkeys:              holder,
		HolderSelectedContestDelay: holderDelay,
		IsOutboundFromHolder:       outbound == 1,
		CounterpartyParameters: fn.Some(
			lnwallet.CounterpartyChannelTransactionParameters{
				Pubkeys:              counterparty,
				SelectedContestDelay: counterpartyDelay,
			},
		),
		FundingOutpoint: fn.Some(outpoint),
		OptAnchors:      anchors == 1,
	}, nil
}

// pointEntrySize is the size of an encoded commitment number and point.
const pointEntrySize = 8 + btcec.PubKeyBytesLenCompressed

// encodePoints serializes the points of unrevoked counterparty commitments
// ordered by commitment number.
func encodePoints(points map[uint64]*btcec.PublicKey) ([]byte, error) {
	var (
		b       bytes.Buffer
		scratch [8]byte
	)
	err := tlv.WriteVarInt(&b, uint64(len(points)), &scratch)
	if err != nil {
		return nil, err
	}

	for _, n := range slices.Sorted(maps.Keys(points)) {
		if err := tlv.EUint64T(&b, n, &scratch); err != nil {
			return nil, err
		}
		b.Write(points[n].SerializeCompressed())
	}

	return b.Bytes(), nil
}

// decodePoints deserializes points written by encodePoints.
func decodePoints(b []byte) (map[uint64]*btcec.PublicKey, error) {
	var scratch [8]byte
	r := bytes.NewReader(b)

	count, err := tlv.ReadVarInt(r, &scratch)
	if err != nil {
		return nil, decodeErr("point count: %v", err)
	}
	if count > uint64(r.Len()/pointEntrySize) {
		return nil, decodeErr("%d points don't fit into %d bytes",
			count, r.Len())
	}

	points := make(map[uint64]*btcec.PublicKey, count)
	for i := uint64(0); i < count; i++ {
		var n uint64
		if err := tlv.DUint64(r, &n, &scratch, 8); err != nil {
			return nil, decodeErr("point number: %v", err)
		}

		var key [btcec.PubKeyBytesLenCompressed]byte
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return nil, decodeErr("point: %v", err)
		}

		point, err := btcec.ParsePubKey(key[:])
		if err != nil {
			return nil, decodeErr("point #%d: %v", n, err)
		}
		points[n] = point
	}

	if r.Len() != 0 {
		return nil, decodeErr("%d trailing bytes after points", r.Len())
	}

	return points, nil
}
