package chansigner

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// signaturesTotal counts the signatures produced per operation.
	signaturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chansigner",
			Name:      "signatures_total",
			Help:      "Number of signatures produced by channel signers.",
		},
		[]string{"op"},
	)

	// policyRejectionsTotal counts the requests refused by the signing
	// policy per reason.
	policyRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chansigner",
			Name:      "policy_rejections_total",
			Help:      "Number of signing requests refused by policy.",
		},
		[]string{"reason"},
	)
)

// RegisterMetrics registers the signer metrics with the given registerer.
// Registering them twice with the same registerer is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		signaturesTotal, policyRejectionsTotal,
	} {
		err := reg.Register(c)

		var are prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &are) {
			return err
		}
	}

	return nil
}

// Operation labels of the signature counter.
const (
	opCounterpartyCommitment = "counterparty_commitment"
	opCounterpartyHtlc       = "counterparty_htlc"
	opHolderCommitment       = "holder_commitment"
	opHolderHtlc             = "holder_htlc"
	opJusticeOutput          = "justice_output"
	opJusticeHtlc            = "justice_htlc"
	opCounterpartyHtlcTx     = "counterparty_htlc_tx"
	opClosing                = "closing"
	opAnnouncement           = "announcement"
	opSweep                  = "sweep"
)

// countSignature increments the signature counter of the operation.
func countSignature(op string) {
	signaturesTotal.WithLabelValues(op).Inc()
}

// rejectionReason maps policy errors to metric labels.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrRevokedCommitment):
		return "revoked"

	case errors.Is(err, ErrStaleCommitment):
		return "stale"

	case errors.Is(err, ErrUnrevokedPredecessor):
		return "unrevoked_predecessor"

	case errors.Is(err, ErrUnvalidatedSuccessor):
		return "unvalidated_successor"

	case errors.Is(err, ErrTooManyHTLCs):
		return "too_many_htlcs"

	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"

	case errors.Is(err, ErrInvalidRevocation):
		return "invalid_revocation"

	case errors.Is(err, ErrClosingAccounting):
		return "closing_accounting"

	default:
		return "other"
	}
}

// countRejection increments the rejection counter for the given error.
func countRejection(err error) {
	policyRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
}
