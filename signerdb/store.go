package signerdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lnwallet/chansigner"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// signersBucketKey is the key of the bucket holding the serialized
	// channel signers.
	//
	// maps: channelKeysID -> serialized_signer
	signersBucketKey = []byte("chansigner-signers")

	// outputsBucketKey is the key of the bucket holding the spendable
	// outputs that weren't spent yet.
	//
	// maps: outpoint -> serialized_descriptor
	outputsBucketKey = []byte("chansigner-spendable-outputs")

	// spendsBucketKey is the key of the bucket holding the hashes of all
	// spend transactions that claimed stored outputs.
	//
	// maps: txHash -> empty slice
	spendsBucketKey = []byte("chansigner-spend-tx-hashes")

	// metaBucketKey is the key of the bucket holding the counters that
	// must survive restarts.
	//
	// maps: nextKeyIndexKey -> uint32
	metaBucketKey = []byte("chansigner-meta")

	nextKeyIndexKey = []byte("next-key-index")

	byteOrder = binary.BigEndian

	// ErrSignerNotFound is returned when no signer is stored under the
	// requested keys id.
	ErrSignerNotFound = errors.New("channel signer not found")

	errNoSignersBucket = errors.New("signers bucket does not exist")
	errNoOutputsBucket = errors.New("spendable outputs bucket does not " +
		"exist")
	errNoSpendsBucket = errors.New("spends bucket does not exist")
	errNoMetaBucket   = errors.New("meta bucket does not exist")
)

// SignerReader restores signers from their serialization, checking them
// against the key material they were derived from.
type SignerReader interface {
	// ReadChanSigner decodes a serialized channel signer.
	ReadChanSigner(b []byte) (*chansigner.InMemorySigner, error)
}

// Store persists channel signers and the outputs they can spend.
type Store struct {
	db kvdb.Backend
}

// New returns a store backed by db, creating its buckets if needed.
func New(db kvdb.Backend) (*Store, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		for _, key := range [][]byte{
			signersBucketKey, outputsBucketKey, spendsBucketKey,
			metaBucketKey,
		} {
			if _, err := tx.CreateTopLevelBucket(key); err != nil {
				return err
			}
		}

		return nil
	}, func() {})
	if err != nil {
		return nil, err
	}

	return &Store{
		db: db,
	}, nil
}

// Open opens or creates the bolt database fileName in dbPath and returns a
// store on top of it.
func Open(dbPath, fileName string) (*Store, error) {
	db, err := kvdb.GetBoltBackend(&kvdb.BoltBackendConfig{
		DBPath:            dbPath,
		DBFileName:        fileName,
		AutoCompactMinAge: kvdb.DefaultBoltAutoCompactMinAge,
		DBTimeout:         kvdb.DefaultDBTimeout,
	})
	if err != nil {
		return nil, err
	}

	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutSigner stores the signer under its keys id, replacing a stored version
// of it.
func (s *Store) PutSigner(signer *chansigner.InMemorySigner) error {
	b, err := signer.Serialize()
	if err != nil {
		return err
	}

	keysID := signer.ChannelKeysID()

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		signers := tx.ReadWriteBucket(signersBucketKey)
		if signers == nil {
			return errNoSignersBucket
		}

		return signers.Put(keysID[:], b)
	}, func() {})
}

// FetchSigner restores the signer stored under keysID.
func (s *Store) FetchSigner(keysID keychain.ChannelKeysID,
	reader SignerReader) (*chansigner.InMemorySigner, error) {

	var b []byte
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		signers := tx.ReadBucket(signersBucketKey)
		if signers == nil {
			return errNoSignersBucket
		}

		v := signers.Get(keysID[:])
		if v == nil {
			return fmt.Errorf("%w: keys_id=%v", ErrSignerNotFound,
				keysID)
		}
		b = bytes.Clone(v)

		return nil
	}, func() {
		b = nil
	})
	if err != nil {
		return nil, err
	}

	return reader.ReadChanSigner(b)
}

// ForEachSigner restores every stored signer and calls cb with it.
func (s *Store) ForEachSigner(reader SignerReader,
	cb func(*chansigner.InMemorySigner) error) error {

	return kvdb.View(s.db, func(tx kvdb.RTx) error {
		signers := tx.ReadBucket(signersBucketKey)
		if signers == nil {
			return errNoSignersBucket
		}

		return signers.ForEach(func(k, v []byte) error {
			signer, err := reader.ReadChanSigner(v)
			if err != nil {
				return fmt.Errorf("signer %x: %w", k, err)
			}

			return cb(signer)
		})
	}, func() {})
}

// outpointKey returns the key of an outpoint in the outputs bucket.
func outpointKey(op wire.OutPoint) []byte {
	key := make([]byte, chainhash.HashSize+4)
	copy(key, op.Hash[:])
	byteOrder.PutUint32(key[chainhash.HashSize:], op.Index)

	return key
}

// AddSpendableOutputs stores the descriptors until they're spent.
func (s *Store) AddSpendableOutputs(
	descs ...sweep.SpendableOutputDescriptor) error {

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		outputs := tx.ReadWriteBucket(outputsBucketKey)
		if outputs == nil {
			return errNoOutputsBucket
		}

		for _, desc := range descs {
			b, err := sweep.EncodeDescriptorBytes(desc)
			if err != nil {
				return err
			}

			err = outputs.Put(outpointKey(desc.Outpoint()), b)
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {})
}

// FetchSpendableOutputs returns all stored descriptors.
func (s *Store) FetchSpendableOutputs() ([]sweep.SpendableOutputDescriptor,
	error) {

	var descs []sweep.SpendableOutputDescriptor
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		outputs := tx.ReadBucket(outputsBucketKey)
		if outputs == nil {
			return errNoOutputsBucket
		}

		return outputs.ForEach(func(k, v []byte) error {
			desc, err := sweep.DecodeDescriptorBytes(v)
			if err != nil {
				return fmt.Errorf("output %x: %w", k, err)
			}

			descs = append(descs, desc)

			return nil
		})
	}, func() {
		descs = nil
	})
	if err != nil {
		return nil, err
	}

	return descs, nil
}

// RemoveSpendableOutputs removes the outputs spent by spendTx and records the
// transaction as one of ours.
func (s *Store) RemoveSpendableOutputs(spendTx *wire.MsgTx) error {
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		outputs := tx.ReadWriteBucket(outputsBucketKey)
		if outputs == nil {
			return errNoOutputsBucket
		}

		spends := tx.ReadWriteBucket(spendsBucketKey)
		if spends == nil {
			return errNoSpendsBucket
		}

		for _, txIn := range spendTx.TxIn {
			key := outpointKey(txIn.PreviousOutPoint)
			if err := outputs.Delete(key); err != nil {
				return err
			}
		}

		hash := spendTx.TxHash()
		log.Debugf("Recorded spend tx %v of %v outputs", hash,
			len(spendTx.TxIn))

		return spends.Put(hash[:], []byte{})
	}, func() {})
}

// IsOurSpend determines whether a tx is a spend we recorded, based on its
// hash.
func (s *Store) IsOurSpend(hash chainhash.Hash) (bool, error) {
	var ours bool

	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		spends := tx.ReadBucket(spendsBucketKey)
		if spends == nil {
			return errNoSpendsBucket
		}

		ours = spends.Get(hash[:]) != nil

		return nil
	}, func() {
		ours = false
	})
	if err != nil {
		return false, err
	}

	return ours, nil
}

// ListSpends lists the hashes of all recorded spend transactions.
func (s *Store) ListSpends() ([]chainhash.Hash, error) {
	var spendTxns []chainhash.Hash

	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		spends := tx.ReadBucket(spendsBucketKey)
		if spends == nil {
			return errNoSpendsBucket
		}

		return spends.ForEach(func(k, _ []byte) error {
			txid, err := chainhash.NewHash(k)
			if err != nil {
				return err
			}

			spendTxns = append(spendTxns, *txid)

			return nil
		})
	}, func() {
		spendTxns = nil
	})
	if err != nil {
		return nil, err
	}

	return spendTxns, nil
}

// NextKeyIndex returns the first destination and shutdown key index that
// wasn't handed out yet.
func (s *Store) NextKeyIndex() (uint32, error) {
	var index uint32

	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		meta := tx.ReadBucket(metaBucketKey)
		if meta == nil {
			return errNoMetaBucket
		}

		v := meta.Get(nextKeyIndexKey)
		switch {
		case v == nil:
			index = 0

		case len(v) != 4:
			return fmt.Errorf("invalid key index of %d bytes",
				len(v))

		default:
			index = byteOrder.Uint32(v)
		}

		return nil
	}, func() {
		index = 0
	})
	if err != nil {
		return 0, err
	}

	return index, nil
}

// PutNextKeyIndex records that every key index below index was handed out.
// The stored index never decreases.
func (s *Store) PutNextKeyIndex(index uint32) error {
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		meta := tx.ReadWriteBucket(metaBucketKey)
		if meta == nil {
			return errNoMetaBucket
		}

		if v := meta.Get(nextKeyIndexKey); len(v) == 4 &&
			byteOrder.Uint32(v) >= index {

			return nil
		}

		var b [4]byte
		byteOrder.PutUint32(b[:], index)

		return meta.Put(nextKeyIndexKey, b[:])
	}, func() {})
}
