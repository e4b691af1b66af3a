package lnwallet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrFeaturesTooLong is returned when the feature bits of an announcement
// don't fit their length prefix.
var ErrFeaturesTooLong = errors.New("announcement features too long")

// UnsignedChannelAnnouncement is the part of a BOLT 7 channel_announcement
// that is covered by its four signatures.
type UnsignedChannelAnnouncement struct {
	// Features are the serialized feature bits of the channel.
	Features []byte

	// ChainHash is the genesis hash of the chain the channel lives on.
	ChainHash chainhash.Hash

	// ShortChannelID locates the funding output on chain.
	ShortChannelID uint64

	// NodeID1 is the lexicographically lesser node key of both peers.
	NodeID1 [33]byte

	// NodeID2 is the greater node key.
	NodeID2 [33]byte

	// BitcoinKey1 is the funding key of the first node.
	BitcoinKey1 [33]byte

	// BitcoinKey2 is the funding key of the second node.
	BitcoinKey2 [33]byte

	// ExtraOpaqueData is the trailing data of the message, it's covered by
	// the signatures as well.
	ExtraOpaqueData []byte
}

// NewUnsignedChannelAnnouncement creates the announcement of a channel between
// our node and a peer. The node and funding keys of both sides are ordered by
// the node keys.
func NewUnsignedChannelAnnouncement(chainHash chainhash.Hash, scid uint64,
	localNode, remoteNode, localFunding,
	remoteFunding *btcec.PublicKey) *UnsignedChannelAnnouncement {

	ann := &UnsignedChannelAnnouncement{
		ChainHash:      chainHash,
		ShortChannelID: scid,
	}

	localKey := localNode.SerializeCompressed()
	remoteKey := remoteNode.SerializeCompressed()

	if bytes.Compare(localKey, remoteKey) < 0 {
		copy(ann.NodeID1[:], localKey)
		copy(ann.NodeID2[:], remoteKey)
		copy(ann.BitcoinKey1[:], localFunding.SerializeCompressed())
		copy(ann.BitcoinKey2[:], remoteFunding.SerializeCompressed())
	} else {
		copy(ann.NodeID1[:], remoteKey)
		copy(ann.NodeID2[:], localKey)
		copy(ann.BitcoinKey1[:], remoteFunding.SerializeCompressed())
		copy(ann.BitcoinKey2[:], localFunding.SerializeCompressed())
	}

	return ann
}

// DataToSign returns the part of the message that should be signed.
func (a *UnsignedChannelAnnouncement) DataToSign() ([]byte, error) {
	if len(a.Features) > math.MaxUint16 {
		return nil, ErrFeaturesTooLong
	}

	var buf bytes.Buffer

	var featLen [2]byte
	binary.BigEndian.PutUint16(featLen[:], uint16(len(a.Features)))
	buf.Write(featLen[:])
	buf.Write(a.Features)

	buf.Write(a.ChainHash[:])

	var scid [8]byte
	binary.BigEndian.PutUint64(scid[:], a.ShortChannelID)
	buf.Write(scid[:])

	buf.Write(a.NodeID1[:])
	buf.Write(a.NodeID2[:])
	buf.Write(a.BitcoinKey1[:])
	buf.Write(a.BitcoinKey2[:])
	buf.Write(a.ExtraOpaqueData)

	return buf.Bytes(), nil
}

// DigestToSign returns the double sha256 of the signed data.
func (a *UnsignedChannelAnnouncement) DigestToSign() ([]byte, error) {
	data, err := a.DataToSign()
	if err != nil {
		return nil, err
	}

	return chainhash.DoubleHashB(data), nil
}
