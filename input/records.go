package input

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

// outPointSize is the size of an outpoint within a TLV record.
const outPointSize = chainhash.HashSize + 4

// NewOutPointRecord returns a TLV record of an outpoint, encoded as the txid
// followed by the big endian output index.
func NewOutPointRecord(typ tlv.Type, op *wire.OutPoint) tlv.Record {
	return tlv.MakeStaticRecord(
		typ, op, outPointSize, OutPointEncoder, OutPointDecoder,
	)
}

// OutPointEncoder is a TLV encoder for wire.OutPoint values.
func OutPointEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*wire.OutPoint); ok {
		hash := [32]byte(t.Hash)
		if err := tlv.EBytes32(w, &hash, buf); err != nil {
			return err
		}

		return tlv.EUint32T(w, t.Index, buf)
	}

	return tlv.NewTypeForEncodingErr(val, "wire.OutPoint")
}

// OutPointDecoder is a TLV decoder for wire.OutPoint values.
func OutPointDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*wire.OutPoint); ok && l == outPointSize {
		var hash [32]byte
		if err := tlv.DBytes32(r, &hash, buf, 32); err != nil {
			return err
		}

		var index uint32
		if err := tlv.DUint32(r, &index, buf, 4); err != nil {
			return err
		}

		*typ = wire.OutPoint{Hash: chainhash.Hash(hash), Index: index}

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "wire.OutPoint", l, outPointSize)
}

// txOutSize returns the size of a serialized output.
func txOutSize(txo *wire.TxOut) uint64 {
	return uint64(8 + wire.VarIntSerializeSize(uint64(len(txo.PkScript))) +
		len(txo.PkScript))
}

// NewTxOutRecord returns a TLV record of an output, serialized by WriteTxOut.
func NewTxOutRecord(typ tlv.Type, txo **wire.TxOut) tlv.Record {
	sizeFunc := func() uint64 {
		if *txo == nil {
			return 0
		}

		return txOutSize(*txo)
	}

	return tlv.MakeDynamicRecord(
		typ, txo, sizeFunc, TxOutEncoder, TxOutDecoder,
	)
}

// TxOutEncoder is a TLV encoder for *wire.TxOut values.
func TxOutEncoder(w io.Writer, val any, _ *[8]byte) error {
	if t, ok := val.(**wire.TxOut); ok && *t != nil {
		return WriteTxOut(w, *t)
	}

	return tlv.NewTypeForEncodingErr(val, "*wire.TxOut")
}

// TxOutDecoder is a TLV decoder for *wire.TxOut values. The record must hold
// exactly one output.
func TxOutDecoder(r io.Reader, val any, _ *[8]byte, l uint64) error {
	typ, ok := val.(**wire.TxOut)
	if !ok || l > 8+9+maxPkScriptSize {
		return tlv.NewTypeForDecodingErr(val, "*wire.TxOut", l, l)
	}

	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}

	br := bytes.NewReader(b)
	txo := &wire.TxOut{}
	if err := ReadTxOut(br, txo); err != nil {
		return err
	}
	if br.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after output", br.Len())
	}

	*typ = txo

	return nil
}
