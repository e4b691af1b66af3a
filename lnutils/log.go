package lnutils

import (
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btclog/v2"
	"github.com/davecgh/go-spew/spew"
)

// LogClosure defers building a log message until a handler formats it.
type LogClosure func() string

// String implements fmt.Stringer.
func (c LogClosure) String() string {
	return c()
}

// SpewLogClosure dumps a with spew, only if the message is actually logged.
func SpewLogClosure(a any) LogClosure {
	return func() string {
		return spew.Sdump(a)
	}
}

// LogPubKey is a structured log attribute holding the short hex form of a
// compressed public key.
func LogPubKey(key string, pubKey *btcec.PublicKey) slog.Attr {
	if pubKey == nil {
		return btclog.Fmt(key, "<nil>")
	}

	return btclog.Hex6(key, pubKey.SerializeCompressed())
}
