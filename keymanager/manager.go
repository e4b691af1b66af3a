package keymanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lnutils"
	"github.com/lightningnetwork/chansigner/lnwallet/chainfee"
	"github.com/lightningnetwork/chansigner/lnwallet/chansigner"
	"github.com/lightningnetwork/chansigner/shachain"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/lightningnetwork/lnd/clock"
)

// secureRandomSalt is mixed into every output of SecureRandomBytes.
var secureRandomSalt = []byte("Unique Secure Random Bytes Salt")

// staticLookback is how many indices below the next unused one are searched
// per family when a static output pays to a script we don't remember.
const staticLookback = 2500

// ErrUnknownStaticOutput is returned when a static output doesn't pay to any
// destination or shutdown script of the manager.
var ErrUnknownStaticOutput = errors.New("static output doesn't pay to a " +
	"known script")

// Manager derives all keys of a node from a single root seed. It hands out
// channel signers, destination and shutdown scripts, and signs on behalf of
// the node identity key.
type Manager struct {
	seed [32]byte
	net  *chaincfg.Params
	ring *keychain.HDKeyRing

	nodeSecret        *btcec.PrivateKey
	inboundPaymentKey [32]byte

	startSecs  uint64
	startNanos uint32

	channelChild  atomic.Uint32
	destIndex     atomic.Uint32
	shutdownIndex atomic.Uint32
	randCounter   atomic.Uint32

	// issuedMtx guards issued.
	issuedMtx sync.Mutex
	issued    map[string]keychain.KeyLocator
}

// A compile time check to ensure Manager can sign spends of its outputs.
var _ sweep.SignerSource = (*Manager)(nil)

// New creates a manager from the root seed. The starting time must be unique
// per process run, as it's part of the identifier of every channel created
// by this manager. New panics on an all-zero seed.
func New(seed [32]byte, startSecs uint64, startNanos uint32) *Manager {
	return newManager(seed, &chaincfg.MainNetParams, startSecs, startNanos)
}

func newManager(seed [32]byte, net *chaincfg.Params, startSecs uint64,
	startNanos uint32) *Manager {

	if seed == [32]byte{} {
		panic("all-zero root seed")
	}

	ring, err := keychain.NewHDKeyRing(seed, net)
	if err != nil {
		panic(fmt.Sprintf("unable to create key ring: %v", err))
	}

	m := &Manager{
		seed:       seed,
		net:        net,
		ring:       ring,
		startSecs:  startSecs,
		startNanos: startNanos,
		issued:     make(map[string]keychain.KeyLocator),
	}

	m.nodeSecret = m.mustDerive(keychain.KeyLocator{
		Family: keychain.KeyFamilyNodeKey,
	})

	inboundKey := m.mustDerive(keychain.KeyLocator{
		Family: keychain.KeyFamilyInboundPayment,
	})
	copy(m.inboundPaymentKey[:], inboundKey.Serialize())
	inboundKey.Zero()

	log.InfoS(context.Background(), "Key manager created",
		lnutils.LogPubKey("node_key", m.NodePubKey()),
		"network", net.Name)

	return m
}

// NewFromConfig creates a manager from the given config, taking the starting
// time from clk.
func NewFromConfig(cfg *Config, clk clock.Clock) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed, err := cfg.ReadSeed()
	if err != nil {
		return nil, err
	}
	if seed == [32]byte{} {
		return nil, ErrInvalidSeed
	}

	net, err := ChainParams(cfg.Network)
	if err != nil {
		return nil, err
	}

	now := clk.Now()
	m := newManager(
		seed, net, uint64(now.Unix()), uint32(now.Nanosecond()),
	)
	m.destIndex.Store(cfg.StartingIndex)
	m.shutdownIndex.Store(cfg.StartingIndex)

	return m, nil
}

// mustDerive derives the private key at keyLoc. Every locator the manager
// uses is in range, so a failure is a bug.
func (m *Manager) mustDerive(keyLoc keychain.KeyLocator) *btcec.PrivateKey {
	privKey, err := m.ring.DerivePrivKey(keychain.KeyDescriptor{
		KeyLocator: keyLoc,
	})
	if err != nil {
		panic(fmt.Sprintf("unable to derive key %v/%d: %v",
			keyLoc.Family, keyLoc.Index, err))
	}

	return privKey
}

// ChainParams returns the network the manager encodes addresses for.
func (m *Manager) ChainParams() *chaincfg.Params {
	return m.net
}

// NodeSecret returns the node identity key.
func (m *Manager) NodeSecret() *btcec.PrivateKey {
	return m.nodeSecret
}

// NodePubKey returns the public node identity key.
func (m *Manager) NodePubKey() *btcec.PublicKey {
	return m.nodeSecret.PubKey()
}

// ECDH performs a scalar multiplication between the node identity key and
// pub, returning the sha256 of the compressed result.
func (m *Manager) ECDH(pub *btcec.PublicKey) ([32]byte, error) {
	return (&keychain.PrivKeyECDH{PrivKey: m.nodeSecret}).ECDH(pub)
}

// InboundPaymentKeyMaterial returns the secret used to create and verify
// inbound payment secrets without storing them.
func (m *Manager) InboundPaymentKeyMaterial() [32]byte {
	return m.inboundPaymentKey
}

// DeriveChannelKeys returns an unready signer of the channel named by keysID.
func (m *Manager) DeriveChannelKeys(channelValue btcutil.Amount,
	keysID keychain.ChannelKeysID) *chansigner.InMemorySigner {

	keys := keychain.DeriveChannelKeys(m.ring, m.seed, keysID)

	return chansigner.NewInMemorySigner(keys, channelValue)
}

// NewChannelSigner returns the signer of a new channel, allocating a fresh
// keys id for it.
func (m *Manager) NewChannelSigner(
	channelValue btcutil.Amount) *chansigner.InMemorySigner {

	child := m.channelChild.Add(1) - 1
	if child > keychain.MaxChannelChildIndex {
		panic(fmt.Sprintf("channel child index %d exhausted", child))
	}

	keysID := keychain.NewChannelKeysID(child, m.startSecs, m.startNanos)

	log.Debugf("Allocated keys_id=%v for new channel of %v", keysID,
		channelValue)

	return m.DeriveChannelKeys(channelValue, keysID)
}

// DeriveChannelSigner returns the signer of the channel named by keysID.
//
// NOTE: This is part of the sweep.SignerSource interface.
func (m *Manager) DeriveChannelSigner(channelValue btcutil.Amount,
	keysID keychain.ChannelKeysID) sweep.OutputSigner {

	return m.DeriveChannelKeys(channelValue, keysID)
}

// ReadChanSigner restores a serialized channel signer. The keys of the
// signer are re-derived from its keys id, and a signer whose key material
// wasn't derived by this manager is refused.
func (m *Manager) ReadChanSigner(b []byte) (*chansigner.InMemorySigner,
	error) {

	signer, err := chansigner.DeserializeInMemorySigner(b)
	if err != nil {
		return nil, err
	}

	keysID := signer.ChannelKeysID()
	if keysID.ChildIndex() > uint64(keychain.MaxChannelChildIndex) {
		return nil, fmt.Errorf("%w: child index of keys_id=%v out of "+
			"range", chansigner.ErrDecode, keysID)
	}

	expected := m.DeriveChannelKeys(signer.ChannelValue(), keysID)
	defer expected.Zero()

	top := uint64(shachain.MaxCommitmentNumber)
	switch {
	case !expected.Pubkeys().IsEqual(signer.Pubkeys()):
		return nil, fmt.Errorf("%w: keys of keys_id=%v weren't "+
			"derived from our seed", chansigner.ErrDecode, keysID)

	case !expected.PerCommitmentPoint(top).IsEqual(
		signer.PerCommitmentPoint(top),
	):
		return nil, fmt.Errorf("%w: commitment seed of keys_id=%v "+
			"wasn't derived from our seed", chansigner.ErrDecode,
			keysID)
	}

	log.Tracef("Read channel signer: %v", lnutils.SpewLogClosure(
		signer.Pubkeys(),
	))

	return signer, nil
}

// scriptForKey returns the P2WPKH script paying to the key at keyLoc.
func (m *Manager) scriptForKey(keyLoc keychain.KeyLocator) ([]byte, error) {
	keyDesc, err := m.ring.DeriveKey(keyLoc)
	if err != nil {
		return nil, err
	}

	return input.WitnessPubKeyHash(keyDesc.PubKey.SerializeCompressed())
}

// nextScript hands out the script of the next unused index of family and
// remembers it.
func (m *Manager) nextScript(family keychain.KeyFamily,
	index *atomic.Uint32) ([]byte, error) {

	keyLoc := keychain.KeyLocator{
		Family: family,
		Index:  index.Add(1) - 1,
	}

	script, err := m.scriptForKey(keyLoc)
	if err != nil {
		return nil, err
	}

	m.issuedMtx.Lock()
	m.issued[string(script)] = keyLoc
	m.issuedMtx.Unlock()

	log.Debugf("Issued %v script %x at index %d", family, script,
		keyLoc.Index)

	return script, nil
}

// DestinationScript returns a fresh P2WPKH script to sweep funds to.
func (m *Manager) DestinationScript() ([]byte, error) {
	return m.nextScript(keychain.KeyFamilyDestination, &m.destIndex)
}

// ShutdownScript returns a fresh P2WPKH script for a cooperative close.
func (m *Manager) ShutdownScript() ([]byte, error) {
	return m.nextScript(keychain.KeyFamilyShutdown, &m.shutdownIndex)
}

// lookupStaticKey returns the locator of the key pkScript pays to. Scripts
// issued before a restart are found by searching below the next unused
// index of each family.
func (m *Manager) lookupStaticKey(pkScript []byte) (keychain.KeyLocator,
	bool) {

	m.issuedMtx.Lock()
	keyLoc, ok := m.issued[string(pkScript)]
	m.issuedMtx.Unlock()
	if ok {
		return keyLoc, true
	}

	for _, f := range []struct {
		family keychain.KeyFamily
		index  *atomic.Uint32
	}{
		{keychain.KeyFamilyDestination, &m.destIndex},
		{keychain.KeyFamilyShutdown, &m.shutdownIndex},
	} {
		next := f.index.Load()
		low := uint32(0)
		if next > staticLookback {
			low = next - staticLookback
		}

		for i := next; i > low; i-- {
			keyLoc := keychain.KeyLocator{
				Family: f.family,
				Index:  i - 1,
			}
			script, err := m.scriptForKey(keyLoc)
			if err != nil {
				continue
			}
			if string(script) != string(pkScript) {
				continue
			}

			m.issuedMtx.Lock()
			m.issued[string(script)] = keyLoc
			m.issuedMtx.Unlock()

			return keyLoc, true
		}
	}

	return keychain.KeyLocator{}, false
}

// SignStaticOutput returns the witness of the input at inputIndex which
// spends an output paying to one of our destination or shutdown scripts.
//
// NOTE: This is part of the sweep.SignerSource interface.
func (m *Manager) SignStaticOutput(tx *wire.MsgTx, inputIndex int,
	desc *sweep.StaticOutput) (wire.TxWitness, error) {

	keyLoc, ok := m.lookupStaticKey(desc.Output.PkScript)
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownStaticOutput,
			desc.Output.PkScript)
	}

	privKey := m.mustDerive(keyLoc)
	defer privKey.Zero()

	script, err := input.NewKeySigner(privKey).ComputeInputScript(
		tx, &input.SignDescriptor{
			Output:     desc.Output,
			HashType:   txscript.SigHashAll,
			InputIndex: inputIndex,
		},
	)
	if err != nil {
		return nil, err
	}

	return script.Witness, nil
}

// SpendSpendableOutputs creates a signed transaction spending the described
// outputs, see sweep.SpendSpendableOutputs.
func (m *Manager) SpendSpendableOutputs(
	descs []sweep.SpendableOutputDescriptor, outputs []*wire.TxOut,
	changeScript []byte, feeRate chainfee.SatPerKWeight) (*wire.MsgTx,
	error) {

	return sweep.SpendSpendableOutputs(
		descs, outputs, changeScript, feeRate, m,
	)
}

// BuildSpendPacket creates the spend SpendSpendableOutputs would sign as an
// unsigned PSBT.
func (m *Manager) BuildSpendPacket(descs []sweep.SpendableOutputDescriptor,
	outputs []*wire.TxOut, changeScript []byte,
	feeRate chainfee.SatPerKWeight) (*psbt.Packet, error) {

	return sweep.BuildSpendPacket(descs, outputs, changeScript, feeRate, m)
}

// SecureRandomBytes returns 32 bytes that are unpredictable even if the
// system's random source is weak, as they also depend on a secret key.
func (m *Manager) SecureRandomBytes() [32]byte {
	var entropy [32]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		panic(fmt.Sprintf("unable to read random bytes: %v", err))
	}

	ctr := m.randCounter.Add(1) - 1
	privKey := m.mustDerive(keychain.KeyLocator{
		Family: keychain.KeyFamilySecureRandom,
		Index:  ctr % keychain.MaxChannelChildIndex,
	})
	defer privKey.Zero()

	var startTime [12]byte
	binary.BigEndian.PutUint64(startTime[:8], m.startSecs)
	binary.BigEndian.PutUint32(startTime[8:], m.startNanos)

	h := sha256.New()
	h.Write(entropy[:])
	h.Write(privKey.Serialize())
	h.Write(startTime[:])
	h.Write(secureRandomSalt)

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out
}
