package chansigner

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/lnutils"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/lightningnetwork/chansigner/shachain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// closingSlack is the difference between the channel value and the sum of
// the closing outputs and fee we tolerate. It covers rounding of the fee
// split.
const closingSlack = btcutil.Amount(1)

// InMemorySigner is a ChannelSigner holding the channel secrets in memory.
type InMemorySigner struct {
	keys         *keychain.ChannelKeys
	channelValue btcutil.Amount

	producer *shachain.RevocationProducer
	signer   *input.KeySigner

	// params is set once by ReadyChannel.
	params fn.Option[*lnwallet.ChannelTransactionParameters]

	pubkeysOnce sync.Once
	pubkeys     *lnwallet.ChannelPublicKeys

	// mu guards the revocation guard.
	mu    sync.Mutex
	guard *revocationGuard
}

// A compile time check to ensure InMemorySigner implements the ChannelSigner
// interface.
var _ ChannelSigner = (*InMemorySigner)(nil)

// NewInMemorySigner creates an unready signer of a channel with the given
// capacity from its key material.
func NewInMemorySigner(keys *keychain.ChannelKeys,
	channelValue btcutil.Amount) *InMemorySigner {

	return &InMemorySigner{
		keys:         keys,
		channelValue: channelValue,
		producer: shachain.NewRevocationProducer(
			chainhash.Hash(keys.CommitmentSeed),
		),
		signer: input.NewKeySigner(
			keys.FundingKey, keys.RevocationBaseKey, keys.PaymentKey,
			keys.DelayedPaymentBaseKey, keys.HtlcBaseKey,
		),
		guard: newRevocationGuard(),
	}
}

// ChannelKeysID returns the identifier the keys were derived from.
func (s *InMemorySigner) ChannelKeysID() keychain.ChannelKeysID {
	return s.keys.KeysID
}

// ChannelValue returns the capacity of the channel.
func (s *InMemorySigner) ChannelValue() btcutil.Amount {
	return s.channelValue
}

// Pubkeys returns our basepoints.
func (s *InMemorySigner) Pubkeys() *lnwallet.ChannelPublicKeys {
	s.pubkeysOnce.Do(func() {
		s.pubkeys = &lnwallet.ChannelPublicKeys{
			FundingPubkey:           s.keys.FundingKey.PubKey(),
			RevocationBasepoint:     s.keys.RevocationBaseKey.PubKey(),
			PaymentPoint:            s.keys.PaymentKey.PubKey(),
			DelayedPaymentBasepoint: s.keys.DelayedPaymentBaseKey.PubKey(),
			HtlcBasepoint:           s.keys.HtlcBaseKey.PubKey(),
		}
	})

	pubkeys := *s.pubkeys
	return &pubkeys
}

// ReadyChannel hands the signer the parameters of the channel. It panics if
// the signer is already ready, if the parameters are incomplete or if they
// carry basepoints other than ours.
func (s *InMemorySigner) ReadyChannel(
	params *lnwallet.ChannelTransactionParameters) {

	if s.params.IsSome() {
		panic(fmt.Sprintf("signer of keys_id=%v is already ready",
			s.keys.KeysID))
	}
	if params == nil || !params.IsPopulated() {
		panic("channel transaction parameters are not populated")
	}
	if !params.HolderPubkeys.IsEqual(s.Pubkeys()) {
		panic("channel transaction parameters don't carry our " +
			"basepoints")
	}

	p := *params
	s.params = fn.Some(&p)

	log.Debugf("Signer of keys_id=%v ready for channel %v", s.keys.KeysID,
		p.Outpoint())
}

// IsReady returns true once ReadyChannel was called.
func (s *InMemorySigner) IsReady() bool {
	return s.params.IsSome()
}

// readyParams returns the channel parameters, panicking if the signer isn't
// ready.
func (s *InMemorySigner) readyParams() *lnwallet.ChannelTransactionParameters {
	if s.params.IsNone() {
		panic(fmt.Sprintf("signer of keys_id=%v is not ready",
			s.keys.KeysID))
	}

	return s.params.UnsafeFromSome()
}

// ChannelParameters returns a copy of the channel parameters.
func (s *InMemorySigner) ChannelParameters() *lnwallet.ChannelTransactionParameters {
	p := *s.readyParams()
	return &p
}

// CounterpartyPubkeys returns the basepoints of the counterparty.
func (s *InMemorySigner) CounterpartyPubkeys() *lnwallet.ChannelPublicKeys {
	return s.readyParams().CounterpartyPubkeys()
}

// CounterpartySelectedContestDelay returns the to_self_delay the counterparty
// requires on our commitments.
func (s *InMemorySigner) CounterpartySelectedContestDelay() uint16 {
	return s.readyParams().CounterpartySelectedContestDelay()
}

// HolderSelectedContestDelay returns the to_self_delay we require on the
// counterparty's commitments.
func (s *InMemorySigner) HolderSelectedContestDelay() uint16 {
	return s.readyParams().HolderSelectedContestDelay
}

// IsOutbound returns true if we opened the channel.
func (s *InMemorySigner) IsOutbound() bool {
	return s.readyParams().IsOutboundFromHolder
}

// FundingOutpoint returns the funding outpoint of the channel.
func (s *InMemorySigner) FundingOutpoint() wire.OutPoint {
	return s.readyParams().Outpoint()
}

// OptAnchors returns true if the channel uses anchor outputs.
func (s *InMemorySigner) OptAnchors() bool {
	return s.readyParams().OptAnchors
}

// Zero wipes the secrets of the signer. It must not be used afterwards.
func (s *InMemorySigner) Zero() {
	s.keys.Zero()
}

// commitmentSecret returns the per-commitment secret of holder commitment
// idx.
func (s *InMemorySigner) commitmentSecret(idx uint64) ([32]byte, error) {
	secret, err := s.producer.AtCommitmentNumber(idx)
	if err != nil {
		return [32]byte{}, err
	}

	return [32]byte(*secret), nil
}

// PerCommitmentPoint returns the per-commitment point of the holder
// commitment with the given number. It panics if idx exceeds
// shachain.MaxCommitmentNumber.
func (s *InMemorySigner) PerCommitmentPoint(idx uint64) *btcec.PublicKey {
	secret, err := s.commitmentSecret(idx)
	if err != nil {
		panic(fmt.Sprintf("per-commitment point #%d: %v", idx, err))
	}

	return input.ComputeCommitmentPoint(secret[:])
}

// ReleaseCommitmentSecret revokes the holder commitment idx and returns its
// secret. Releasing a secret again returns the same secret.
func (s *InMemorySigner) ReleaseCommitmentSecret(idx uint64) ([32]byte,
	error) {

	secret, err := s.commitmentSecret(idx)
	if err != nil {
		return [32]byte{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard.releaseHolder(idx); err != nil {
		countRejection(err)
		log.Warnf("Refused to release secret for keys_id=%v: %v",
			s.keys.KeysID, err)

		return [32]byte{}, err
	}

	log.Debugf("Released secret of holder commitment #%d for keys_id=%v",
		idx, s.keys.KeysID)

	return secret, nil
}

// signScript signs input inputIndex of tx which spends a p2wsh output of the
// given value and witness script.
func (s *InMemorySigner) signScript(tx *wire.MsgTx, inputIndex int,
	pubKey *btcec.PublicKey, singleTweak []byte,
	doubleTweak *btcec.PrivateKey, witnessScript []byte,
	amount btcutil.Amount, hashType txscript.SigHashType) (input.Signature,
	error) {

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}

	return s.signer.SignOutputRaw(tx, &input.SignDescriptor{
		KeyDesc: keychain.KeyDescriptor{
			PubKey: pubKey,
		},
		SingleTweak:   singleTweak,
		DoubleTweak:   doubleTweak,
		WitnessScript: witnessScript,
		Output:        wire.NewTxOut(int64(amount), pkScript),
		HashType:      hashType,
		InputIndex:    inputIndex,
	})
}

// signFunding signs the funding input of a commitment or closing
// transaction.
func (s *InMemorySigner) signFunding(tx *wire.MsgTx,
	params *lnwallet.ChannelTransactionParameters) (input.Signature,
	error) {

	fundingScript, err := params.FundingScript()
	if err != nil {
		return nil, err
	}

	return s.signScript(
		tx, 0, s.Pubkeys().FundingPubkey, nil, nil, fundingScript,
		s.channelValue, txscript.SigHashAll,
	)
}

// witnessSigHash returns the segwit v0 sighash of the first input of tx,
// which spends a p2wsh output with the given script and value.
func witnessSigHash(tx *wire.MsgTx, witnessScript []byte,
	amount btcutil.Amount, hashType txscript.SigHashType) ([]byte, error) {

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}

	hashes := txscript.NewTxSigHashes(
		tx, txscript.NewCannedPrevOutputFetcher(pkScript, int64(amount)),
	)

	return txscript.CalcWitnessSigHash(
		witnessScript, hashes, hashType, tx, 0, int64(amount),
	)
}

// checkHolderKeys checks that a holder commitment uses our per-commitment
// point of its number and was built from the channel parameters.
func (s *InMemorySigner) checkHolderKeys(commit *lnwallet.CommitmentTransaction,
	directed *lnwallet.DirectedChannelTransactionParameters) error {

	n := commit.CommitmentNumber()
	if !s.PerCommitmentPoint(n).IsEqual(commit.PerCommitmentPoint()) {
		return fmt.Errorf("%w: per-commitment point of holder "+
			"commitment #%d", lnwallet.ErrKeysMismatch, n)
	}

	return commit.Verify(directed)
}

// verifyCounterpartySigs checks the counterparty's signatures of a holder
// commitment and its second level HTLC transactions.
func (s *InMemorySigner) verifyCounterpartySigs(
	commit *lnwallet.HolderCommitmentTransaction,
	params *lnwallet.ChannelTransactionParameters,
	directed *lnwallet.DirectedChannelTransactionParameters) error {

	if commit.CounterpartySig == nil {
		return fmt.Errorf("%w: missing commitment signature",
			ErrInvalidSignature)
	}

	fundingScript, err := params.FundingScript()
	if err != nil {
		return err
	}
	sigHash, err := witnessSigHash(
		commit.Tx(), fundingScript, s.channelValue, txscript.SigHashAll,
	)
	if err != nil {
		return err
	}

	counterpartyFunding := params.CounterpartyPubkeys().FundingPubkey
	if !commit.CounterpartySig.Verify(sigHash, counterpartyFunding) {
		return fmt.Errorf("%w: commitment #%d", ErrInvalidSignature,
			commit.CommitmentNumber())
	}

	htlcs := commit.Htlcs()
	if len(commit.CounterpartyHtlcSigs) != len(htlcs) {
		return fmt.Errorf("%w: got %d htlc signatures for %d htlcs",
			ErrInvalidSignature, len(commit.CounterpartyHtlcSigs),
			len(htlcs))
	}

	keys := commit.Keys()
	anchors := commit.OptAnchors()
	for i, htlc := range htlcs {
		htlcTx, err := commit.HtlcTransaction(
			&htlc, directed.ContestDelay(),
		)
		if err != nil {
			return err
		}

		witnessScript, err := htlc.WitnessScript(&keys, anchors)
		if err != nil {
			return err
		}

		sigHash, err := witnessSigHash(
			htlcTx, witnessScript, htlc.Amount,
			lnwallet.HtlcSigHashType(anchors),
		)
		if err != nil {
			return err
		}

		sig := commit.CounterpartyHtlcSigs[i]
		if sig == nil || !sig.Verify(sigHash, keys.CountersignatoryHtlcKey) {
			return fmt.Errorf("%w: htlc %d of commitment #%d",
				ErrInvalidSignature, i,
				commit.CommitmentNumber())
		}
	}

	return nil
}

// ValidateHolderCommitment checks that a holder commitment was built from the
// channel parameters and our per-commitment point, that the counterparty's
// signatures are valid and that the commitment isn't revoked or older than
// the latest validated one. On success the commitment becomes the latest
// validated one.
func (s *InMemorySigner) ValidateHolderCommitment(
	commit *lnwallet.HolderCommitmentTransaction) error {

	params := s.readyParams()
	directed := params.AsHolderBroadcastable()

	if err := s.checkHolderKeys(commit.CommitmentTransaction, directed); err != nil {
		return err
	}

	if len(commit.Htlcs()) > lnwallet.MaxHTLCNumber {
		err := fmt.Errorf("%w: %d", ErrTooManyHTLCs, len(commit.Htlcs()))
		countRejection(err)

		return err
	}

	if err := s.verifyCounterpartySigs(commit, params, directed); err != nil {
		countRejection(err)
		return err
	}

	n := commit.CommitmentNumber()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard.validateHolder(n); err != nil {
		countRejection(err)
		log.Warnf("Refused holder commitment for keys_id=%v: %v",
			s.keys.KeysID, err)

		return err
	}

	s.guard.recordValidatedHolder(n)

	log.Debugf("Validated holder commitment #%d (txid=%v) for keys_id=%v",
		n, commit.Txid(), s.keys.KeysID)

	return nil
}

// SignCounterpartyCommitment signs a counterparty commitment after checking
// that it was built from the channel parameters and that signing it can't
// leave two counterparty commitments unrevoked.
func (s *InMemorySigner) SignCounterpartyCommitment(
	commit *lnwallet.CommitmentTransaction) (input.Signature,
	[]input.Signature, error) {

	params := s.readyParams()
	directed := params.AsCounterpartyBroadcastable()

	if err := commit.Verify(directed); err != nil {
		return nil, nil, err
	}

	n := commit.CommitmentNumber()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard.signCounterparty(n); err != nil {
		countRejection(err)
		log.Warnf("Refused to sign counterparty commitment for "+
			"keys_id=%v: %v", s.keys.KeysID, err)

		return nil, nil, err
	}

	sig, err := s.signFunding(commit.Tx(), params)
	if err != nil {
		return nil, nil, err
	}

	keys := commit.Keys()
	anchors := commit.OptAnchors()
	htlcBase := s.Pubkeys().HtlcBasepoint
	tweak := input.SingleTweakBytes(keys.PerCommitmentPoint, htlcBase)

	htlcs := commit.Htlcs()
	htlcSigs := make([]input.Signature, 0, len(htlcs))
	for _, htlc := range htlcs {
		htlcTx, err := commit.HtlcTransaction(
			&htlc, directed.ContestDelay(),
		)
		if err != nil {
			return nil, nil, err
		}

		witnessScript, err := htlc.WitnessScript(&keys, anchors)
		if err != nil {
			return nil, nil, err
		}

		htlcSig, err := s.signScript(
			htlcTx, 0, htlcBase, tweak, nil, witnessScript,
			htlc.Amount, lnwallet.HtlcSigHashType(anchors),
		)
		if err != nil {
			return nil, nil, err
		}

		htlcSigs = append(htlcSigs, htlcSig)
		countSignature(opCounterpartyHtlc)
	}

	s.guard.recordCounterparty(n, keys.PerCommitmentPoint)
	countSignature(opCounterpartyCommitment)

	log.Debugf("Signed counterparty commitment #%d (txid=%v) with %d "+
		"htlcs for keys_id=%v", n, commit.Txid(), len(htlcSigs),
		s.keys.KeysID)
	log.Tracef("Counterparty commitment #%d: %v", n,
		lnutils.SpewLogClosure(commit.Tx()))

	return sig, htlcSigs, nil
}

// ValidateCounterpartyRevocation checks the revocation secret of the
// counterparty commitment idx against the point of the commitment we signed
// and the secrets received so far.
func (s *InMemorySigner) ValidateCounterpartyRevocation(idx uint64,
	secret [32]byte) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard.revokeCounterparty(idx, secret); err != nil {
		countRejection(err)
		log.Warnf("Invalid revocation for keys_id=%v: %v",
			s.keys.KeysID, err)

		return err
	}

	log.Debugf("Counterparty revoked commitment #%d for keys_id=%v", idx,
		s.keys.KeysID)

	return nil
}

// SignHolderCommitmentAndHTLCs signs a holder commitment and our side of its
// second level HTLC transactions. Only the latest validated commitment and
// its predecessor are signed, as long as they are not revoked.
func (s *InMemorySigner) SignHolderCommitmentAndHTLCs(
	commit *lnwallet.HolderCommitmentTransaction) (input.Signature,
	[]input.Signature, error) {

	params := s.readyParams()
	directed := params.AsHolderBroadcastable()

	if err := s.checkHolderKeys(commit.CommitmentTransaction, directed); err != nil {
		return nil, nil, err
	}

	n := commit.CommitmentNumber()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard.signHolder(n); err != nil {
		countRejection(err)
		log.Warnf("Refused to sign holder commitment for keys_id=%v: "+
			"%v", s.keys.KeysID, err)

		return nil, nil, err
	}

	sig, err := s.signFunding(commit.Tx(), params)
	if err != nil {
		return nil, nil, err
	}

	keys := commit.Keys()
	anchors := commit.OptAnchors()
	htlcBase := s.Pubkeys().HtlcBasepoint
	tweak := input.SingleTweakBytes(keys.PerCommitmentPoint, htlcBase)

	htlcs := commit.Htlcs()
	htlcSigs := make([]input.Signature, 0, len(htlcs))
	for _, htlc := range htlcs {
		htlcTx, err := commit.HtlcTransaction(
			&htlc, directed.ContestDelay(),
		)
		if err != nil {
			return nil, nil, err
		}

		witnessScript, err := htlc.WitnessScript(&keys, anchors)
		if err != nil {
			return nil, nil, err
		}

		htlcSig, err := s.signScript(
			htlcTx, 0, htlcBase, tweak, nil, witnessScript,
			htlc.Amount, txscript.SigHashAll,
		)
		if err != nil {
			return nil, nil, err
		}

		htlcSigs = append(htlcSigs, htlcSig)
		countSignature(opHolderHtlc)
	}

	countSignature(opHolderCommitment)

	log.Infof("Signed holder commitment #%d (txid=%v) for broadcast, "+
		"keys_id=%v", n, commit.Txid(), s.keys.KeysID)

	return sig, htlcSigs, nil
}

// counterpartyKeys returns the keys of the counterparty commitment with the
// given per-commitment point.
func (s *InMemorySigner) counterpartyKeys(
	perCommitmentPoint *btcec.PublicKey) *lnwallet.TxCreationKeys {

	params := s.readyParams()

	return lnwallet.NewTxCreationKeysFromChannelStaticKeys(
		perCommitmentPoint, params.CounterpartyPubkeys(), s.Pubkeys(),
	)
}

// SignJusticeRevokedOutput signs input inputIndex of a justice transaction
// spending the to_local output of the revoked counterparty commitment with
// the given per-commitment secret.
func (s *InMemorySigner) SignJusticeRevokedOutput(tx *wire.MsgTx,
	inputIndex int, amount btcutil.Amount,
	perCommitmentKey *btcec.PrivateKey) (input.Signature, error) {

	keys := s.counterpartyKeys(perCommitmentKey.PubKey())
	witnessScript, err := input.CommitScriptToSelf(
		uint32(s.HolderSelectedContestDelay()),
		keys.BroadcasterDelayedPaymentKey, keys.RevocationKey,
	)
	if err != nil {
		return nil, err
	}

	sig, err := s.signScript(
		tx, inputIndex, s.Pubkeys().RevocationBasepoint, nil,
		perCommitmentKey, witnessScript, amount, txscript.SigHashAll,
	)
	if err != nil {
		return nil, err
	}

	countSignature(opJusticeOutput)

	return sig, nil
}

// SignJusticeRevokedHTLC signs input inputIndex of a justice transaction
// spending an HTLC output of the revoked counterparty commitment with the
// given per-commitment secret.
func (s *InMemorySigner) SignJusticeRevokedHTLC(tx *wire.MsgTx,
	inputIndex int, amount btcutil.Amount,
	perCommitmentKey *btcec.PrivateKey,
	htlc *lnwallet.HTLCOutputInCommitment) (input.Signature, error) {

	keys := s.counterpartyKeys(perCommitmentKey.PubKey())
	witnessScript, err := htlc.WitnessScript(keys, s.OptAnchors())
	if err != nil {
		return nil, err
	}

	sig, err := s.signScript(
		tx, inputIndex, s.Pubkeys().RevocationBasepoint, nil,
		perCommitmentKey, witnessScript, amount, txscript.SigHashAll,
	)
	if err != nil {
		return nil, err
	}

	countSignature(opJusticeHtlc)

	return sig, nil
}

// SignCounterpartyHTLCTransaction signs input inputIndex of a transaction
// claiming an HTLC output of the counterparty commitment with the given
// per-commitment point, by preimage or by timeout.
func (s *InMemorySigner) SignCounterpartyHTLCTransaction(tx *wire.MsgTx,
	inputIndex int, amount btcutil.Amount,
	perCommitmentPoint *btcec.PublicKey,
	htlc *lnwallet.HTLCOutputInCommitment) (input.Signature, error) {

	keys := s.counterpartyKeys(perCommitmentPoint)
	witnessScript, err := htlc.WitnessScript(keys, s.OptAnchors())
	if err != nil {
		return nil, err
	}

	htlcBase := s.Pubkeys().HtlcBasepoint
	sig, err := s.signScript(
		tx, inputIndex, htlcBase,
		input.SingleTweakBytes(perCommitmentPoint, htlcBase), nil,
		witnessScript, amount, txscript.SigHashAll,
	)
	if err != nil {
		return nil, err
	}

	countSignature(opCounterpartyHtlcTx)

	return sig, nil
}

// SignClosingTransaction signs a cooperative closing transaction once it's
// checked to spend the funding output and to account for the channel value.
func (s *InMemorySigner) SignClosingTransaction(
	closing *lnwallet.ClosingTransaction) (input.Signature, error) {

	params := s.readyParams()
	if err := closing.Verify(params.Outpoint()); err != nil {
		return nil, err
	}

	total := closing.ToHolderValue() + closing.ToCounterpartyValue() +
		closing.Fee()
	diff := s.channelValue - total
	if diff < 0 {
		diff = -diff
	}
	if diff > closingSlack {
		err := fmt.Errorf("%w: outputs and fee sum to %v, channel "+
			"value is %v", ErrClosingAccounting, total,
			s.channelValue)
		countRejection(err)

		return nil, err
	}

	sig, err := s.signFunding(closing.Tx(), params)
	if err != nil {
		return nil, err
	}

	countSignature(opClosing)

	log.Infof("Signed closing transaction %v for keys_id=%v",
		closing.Txid(), s.keys.KeysID)

	return sig, nil
}

// SignChannelAnnouncement signs the announcement with our funding key.
func (s *InMemorySigner) SignChannelAnnouncement(
	ann *lnwallet.UnsignedChannelAnnouncement) (input.Signature, error) {

	ourKey := s.Pubkeys().FundingPubkey.SerializeCompressed()
	if !bytes.Equal(ann.BitcoinKey1[:], ourKey) &&
		!bytes.Equal(ann.BitcoinKey2[:], ourKey) {

		return nil, ErrForeignAnnouncement
	}

	digest, err := ann.DigestToSign()
	if err != nil {
		return nil, err
	}

	countSignature(opAnnouncement)

	return ecdsa.Sign(s.keys.FundingKey, digest), nil
}
