package chansigner

import "errors"

var (
	// ErrDecode is returned when a serialized signer is malformed.
	ErrDecode = errors.New("unable to decode channel signer")

	// ErrUnvalidatedSuccessor is returned when the secret of a holder
	// commitment is requested before its successor was validated.
	ErrUnvalidatedSuccessor = errors.New("successor of holder commitment " +
		"not validated")

	// ErrRevokedCommitment is returned when asked to sign or validate a
	// commitment that was already revoked.
	ErrRevokedCommitment = errors.New("commitment already revoked")

	// ErrStaleCommitment is returned when a commitment is older than the
	// ones we may still sign.
	ErrStaleCommitment = errors.New("stale commitment")

	// ErrUnrevokedPredecessor is returned when asked to sign a new
	// counterparty commitment while two of their commitments are still
	// unrevoked.
	ErrUnrevokedPredecessor = errors.New("previous counterparty commitment " +
		"not revoked")

	// ErrTooManyHTLCs is returned when a commitment carries more than
	// lnwallet.MaxHTLCNumber HTLCs.
	ErrTooManyHTLCs = errors.New("too many htlcs")

	// ErrInvalidSignature is returned when a counterparty signature
	// doesn't verify.
	ErrInvalidSignature = errors.New("invalid counterparty signature")

	// ErrInvalidRevocation is returned when a revocation secret doesn't
	// match the per-commitment point or the secrets received before.
	ErrInvalidRevocation = errors.New("invalid revocation secret")

	// ErrClosingAccounting is returned when the outputs and fee of a
	// closing transaction don't add up to the channel value.
	ErrClosingAccounting = errors.New("closing transaction doesn't spend " +
		"channel value")

	// ErrForeignAnnouncement is returned when asked to sign an
	// announcement of a channel not funded with our key.
	ErrForeignAnnouncement = errors.New("announcement doesn't contain our " +
		"funding key")

	// ErrInputMismatch is returned when the input to sign doesn't spend
	// the described output.
	ErrInputMismatch = errors.New("input doesn't spend described output")
)
