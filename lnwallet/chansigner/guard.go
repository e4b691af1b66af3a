package chansigner

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/shachain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// revocationGuard tracks which commitments of both sides were revoked and
// refuses requests that would sign a revoked state. Commitment numbers count
// down, so a larger number is an older commitment.
type revocationGuard struct {
	// holderRevokedFloor is the lowest holder commitment number whose
	// secret was released. Every holder commitment with a number at or
	// above it is revoked.
	holderRevokedFloor fn.Option[uint64]

	// lastValidatedHolder is the number of the latest holder commitment
	// that passed validation.
	lastValidatedHolder fn.Option[uint64]

	// lastCounterparty is the number of the latest counterparty
	// commitment we signed.
	lastCounterparty fn.Option[uint64]

	// counterpartyPoints are the per-commitment points of the
	// counterparty commitments we signed that were not revoked yet.
	counterpartyPoints map[uint64]*btcec.PublicKey

	// store holds the revocation secrets the counterparty sent.
	store *shachain.RevocationStore
}

// newRevocationGuard returns the guard of a channel with no state.
func newRevocationGuard() *revocationGuard {
	return &revocationGuard{
		counterpartyPoints: make(map[uint64]*btcec.PublicKey),
		store:              shachain.NewRevocationStore(),
	}
}

// holderRevoked returns true if we released the secret of the holder
// commitment n or of one of its successors.
func (g *revocationGuard) holderRevoked(n uint64) bool {
	return fn.MapOptionZ(g.holderRevokedFloor, func(floor uint64) bool {
		return n >= floor
	})
}

// releaseHolder records the release of the secret of holder commitment n. The
// secret may only be released once the successor of the commitment was
// validated.
func (g *revocationGuard) releaseHolder(n uint64) error {
	if g.holderRevoked(n) {
		return nil
	}

	validated := fn.MapOptionZ(g.lastValidatedHolder, func(last uint64) bool {
		return last < n
	})
	if !validated {
		return fmt.Errorf("%w: release of #%d", ErrUnvalidatedSuccessor,
			n)
	}

	g.holderRevokedFloor = fn.Some(n)

	return nil
}

// validateHolder checks that the holder commitment n may be accepted, without
// recording it.
func (g *revocationGuard) validateHolder(n uint64) error {
	if g.holderRevoked(n) {
		return fmt.Errorf("%w: holder commitment #%d",
			ErrRevokedCommitment, n)
	}

	stale := fn.MapOptionZ(g.lastValidatedHolder, func(last uint64) bool {
		return n > last
	})
	if stale {
		return fmt.Errorf("%w: holder commitment #%d older than #%d",
			ErrStaleCommitment, n,
			g.lastValidatedHolder.UnsafeFromSome())
	}

	return nil
}

// recordValidatedHolder records n as the latest validated holder commitment.
func (g *revocationGuard) recordValidatedHolder(n uint64) {
	g.lastValidatedHolder = fn.Some(n)
}

// signHolder checks that the holder commitment n may be signed for
// broadcast. Only the latest validated commitment and its predecessor are
// signed, and only while they are not revoked.
func (g *revocationGuard) signHolder(n uint64) error {
	if g.holderRevoked(n) {
		return fmt.Errorf("%w: holder commitment #%d",
			ErrRevokedCommitment, n)
	}

	last, err := g.lastValidatedHolder.UnwrapOrErr(
		fmt.Errorf("%w: no holder commitment validated",
			ErrStaleCommitment),
	)
	if err != nil {
		return err
	}

	if n != last && n != last+1 {
		return fmt.Errorf("%w: holder commitment #%d, latest is #%d",
			ErrStaleCommitment, n, last)
	}

	return nil
}

// counterpartyRevoked returns true if the counterparty revealed the secret of
// their commitment n.
func (g *revocationGuard) counterpartyRevoked(n uint64) bool {
	return n > g.store.NextCommitmentNumber()
}

// signCounterparty checks that the counterparty commitment n may be signed.
// We sign the latest commitment again, or its successor once the commitment
// before the latest was revoked.
func (g *revocationGuard) signCounterparty(n uint64) error {
	if g.counterpartyRevoked(n) {
		return fmt.Errorf("%w: counterparty commitment #%d",
			ErrRevokedCommitment, n)
	}

	if g.lastCounterparty.IsNone() {
		return nil
	}
	last := g.lastCounterparty.UnsafeFromSome()

	switch {
	case n == last:
		return nil

	case n+1 == last:
		if last == shachain.MaxCommitmentNumber ||
			g.counterpartyRevoked(last+1) {

			return nil
		}

		return fmt.Errorf("%w: #%d still unrevoked",
			ErrUnrevokedPredecessor, last+1)

	default:
		return fmt.Errorf("%w: counterparty commitment #%d, latest "+
			"is #%d", ErrStaleCommitment, n, last)
	}
}

// recordCounterparty records the signature of counterparty commitment n.
func (g *revocationGuard) recordCounterparty(n uint64,
	point *btcec.PublicKey) {

	g.lastCounterparty = fn.Some(n)
	g.counterpartyPoints[n] = point
}

// revokeCounterparty checks the revocation secret of counterparty commitment
// n and stores it. A new secret must match the point of a commitment we
// signed, as the store can't check secrets at odd indices on insertion. A
// secret that is already stored may be sent again.
func (g *revocationGuard) revokeCounterparty(n uint64, secret [32]byte) error {
	if !g.counterpartyRevoked(n) {
		point, ok := g.counterpartyPoints[n]
		if !ok {
			return fmt.Errorf("%w: counterparty commitment #%d "+
				"wasn't signed", ErrInvalidRevocation, n)
		}

		if !input.ComputeCommitmentPoint(secret[:]).IsEqual(point) {
			return fmt.Errorf("%w: secret of #%d doesn't match "+
				"its point", ErrInvalidRevocation, n)
		}
	}

	hash := chainhash.Hash(secret)
	if err := g.store.AddSecret(n, &hash); err != nil {
		return fmt.Errorf("%w: secret of #%d: %w", ErrInvalidRevocation,
			n, err)
	}

	for num := range g.counterpartyPoints {
		if num >= n {
			delete(g.counterpartyPoints, num)
		}
	}

	return nil
}
