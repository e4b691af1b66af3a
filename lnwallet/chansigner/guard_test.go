package chansigner

import (
	"testing"

	"github.com/lightningnetwork/chansigner/input"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestHolderRevocationGuard asserts that holder secrets are only released
// once the successor was validated, and that revoked commitments are neither
// validated nor signed afterwards.
func TestHolderRevocationGuard(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, false)

	// Nothing was validated yet, so not even the initial commitment can
	// be revoked.
	_, err := c.alice.ReleaseCommitmentSecret(maxNum)
	require.ErrorIs(t, err, ErrUnvalidatedSuccessor)

	// Holder commitments can't be signed before they were validated.
	first := c.aliceHolderCommitment(t, maxNum)
	_, _, err = c.alice.SignHolderCommitmentAndHTLCs(first)
	require.ErrorIs(t, err, ErrStaleCommitment)

	require.NoError(t, c.alice.ValidateHolderCommitment(first))

	// The successor of the initial commitment isn't validated yet.
	_, err = c.alice.ReleaseCommitmentSecret(maxNum)
	require.ErrorIs(t, err, ErrUnvalidatedSuccessor)

	second := c.aliceHolderCommitment(t, maxNum-1)
	require.NoError(t, c.alice.ValidateHolderCommitment(second))

	// The predecessor of the latest validated commitment is still
	// signable while it isn't revoked.
	_, _, err = c.alice.SignHolderCommitmentAndHTLCs(first)
	require.NoError(t, err)

	// An older commitment than the latest validated one is stale.
	require.ErrorIs(
		t, c.alice.ValidateHolderCommitment(first), ErrStaleCommitment,
	)

	secret, err := c.alice.ReleaseCommitmentSecret(maxNum)
	require.NoError(t, err)
	require.True(t, input.ComputeCommitmentPoint(secret[:]).IsEqual(
		c.alice.PerCommitmentPoint(maxNum),
	))

	// Releasing the secret again is idempotent.
	again, err := c.alice.ReleaseCommitmentSecret(maxNum)
	require.NoError(t, err)
	require.Equal(t, secret, again)

	// The revoked commitment is neither validated nor signed anymore.
	require.ErrorIs(
		t, c.alice.ValidateHolderCommitment(first), ErrRevokedCommitment,
	)
	_, _, err = c.alice.SignHolderCommitmentAndHTLCs(first)
	require.ErrorIs(t, err, ErrRevokedCommitment)

	// The current commitment is validated and signed again.
	require.NoError(t, c.alice.ValidateHolderCommitment(second))
	_, _, err = c.alice.SignHolderCommitmentAndHTLCs(second)
	require.NoError(t, err)

	// Its secret can't be released before its successor is validated.
	_, err = c.alice.ReleaseCommitmentSecret(maxNum - 1)
	require.ErrorIs(t, err, ErrUnvalidatedSuccessor)
}

// TestCounterpartySignPolicy asserts that a counterparty commitment is only
// signed once its predecessor's predecessor was revoked.
func TestCounterpartySignPolicy(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, false)

	sign := func(n uint64) error {
		commit := commitment(t, c.alice, c.aliceParams, n, testHtlcs())
		_, _, err := c.bob.SignCounterpartyCommitment(commit)

		return err
	}
	secret := func(n uint64) [32]byte {
		s, err := c.alice.commitmentSecret(n)
		require.NoError(t, err)

		return s
	}

	require.NoError(t, sign(maxNum))
	require.NoError(t, sign(maxNum))
	require.NoError(t, sign(maxNum-1))

	// Two commitments are unrevoked, a third one isn't signed.
	require.ErrorIs(t, sign(maxNum-2), ErrUnrevokedPredecessor)

	// Skipping commitments isn't allowed either.
	require.ErrorIs(t, sign(maxNum-3), ErrStaleCommitment)

	// A secret not matching the recorded point is refused.
	err := c.bob.ValidateCounterpartyRevocation(maxNum, secret(maxNum-1))
	require.ErrorIs(t, err, ErrInvalidRevocation)

	require.NoError(t, c.bob.ValidateCounterpartyRevocation(
		maxNum, secret(maxNum),
	))

	// Re-sending a stored secret is accepted.
	require.NoError(t, c.bob.ValidateCounterpartyRevocation(
		maxNum, secret(maxNum),
	))

	require.NoError(t, sign(maxNum-2))

	// Revoked commitments are never signed again.
	require.ErrorIs(t, sign(maxNum), ErrRevokedCommitment)

	// Secrets must arrive in order.
	err = c.bob.ValidateCounterpartyRevocation(
		maxNum-2, secret(maxNum-2),
	)
	require.ErrorIs(t, err, ErrInvalidRevocation)
	require.NoError(t, c.bob.ValidateCounterpartyRevocation(
		maxNum-1, secret(maxNum-1),
	))
}

// TestRevokeUnsignedCommitment asserts that secrets of counterparty
// commitments we never signed are refused without touching the stored
// secrets, so the genuine secret is still accepted later.
func TestRevokeUnsignedCommitment(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, false)

	bogus := [32]byte{0xde, 0xad, 0xbe, 0xef}
	err := c.bob.ValidateCounterpartyRevocation(maxNum, bogus)
	require.ErrorIs(t, err, ErrInvalidRevocation)

	right, err := c.alice.commitmentSecret(maxNum)
	require.NoError(t, err)

	// Without a signed commitment there's no point to check the secret
	// against, even the right one.
	err = c.bob.ValidateCounterpartyRevocation(maxNum, right)
	require.ErrorIs(t, err, ErrInvalidRevocation)

	for _, n := range []uint64{maxNum, maxNum - 1} {
		commit := commitment(t, c.alice, c.aliceParams, n, nil)
		_, _, err := c.bob.SignCounterpartyCommitment(commit)
		require.NoError(t, err)
	}

	err = c.bob.ValidateCounterpartyRevocation(maxNum, bogus)
	require.ErrorIs(t, err, ErrInvalidRevocation)
	require.NoError(t, c.bob.ValidateCounterpartyRevocation(maxNum, right))

	// Once stored, a wrong secret for the same number is still refused.
	err = c.bob.ValidateCounterpartyRevocation(maxNum, bogus)
	require.ErrorIs(t, err, ErrInvalidRevocation)
}

// TestTooManyHTLCs asserts that holder commitments carrying more HTLCs than
// allowed are refused.
func TestTooManyHTLCs(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, true)

	htlcs := make([]lnwallet.HTLCOutputInCommitment, 0, 484)
	for i := 0; i < 484; i++ {
		htlc := testHtlcs()[0]
		htlc.Amount = 1_000
		htlc.CltvExpiry = uint32(500 + i)
		htlcs = append(htlcs, htlc)
	}

	commit := commitment(t, c.alice, c.aliceParams, maxNum, htlcs)
	holderCommit := &lnwallet.HolderCommitmentTransaction{
		CommitmentTransaction: commit,
	}

	err := c.alice.ValidateHolderCommitment(holderCommit)
	require.ErrorIs(t, err, ErrTooManyHTLCs)
}

// TestRevocationCorrectness asserts that for any sequence of signed
// counterparty commitments only the matching secrets are accepted.
func TestRevocationCorrectness(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		c := newTestChannel(t, rapid.Bool().Draw(rt, "anchors"))
		states := rapid.IntRange(1, 4).Draw(rt, "states")

		for i := 0; i < states; i++ {
			n := maxNum - uint64(i)

			commit := commitment(t, c.alice, c.aliceParams, n, nil)
			_, _, err := c.bob.SignCounterpartyCommitment(commit)
			require.NoError(rt, err)

			if i == 0 {
				continue
			}

			// The previous commitment is revoked now. A random
			// secret is refused, the right one accepted.
			prev := n + 1
			bogus := [32]byte(rapid.SliceOfN(
				rapid.Byte(), 32, 32,
			).Draw(rt, "bogus"))

			right, err := c.alice.commitmentSecret(prev)
			require.NoError(rt, err)

			if bogus != right {
				err = c.bob.ValidateCounterpartyRevocation(
					prev, bogus,
				)
				require.ErrorIs(rt, err, ErrInvalidRevocation)
			}

			require.NoError(rt, c.bob.ValidateCounterpartyRevocation(
				prev, right,
			))
		}
	})
}
