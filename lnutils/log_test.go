package lnutils

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// TestSpewLogClosure asserts that the closure only dumps its value when it's
// formatted.
func TestSpewLogClosure(t *testing.T) {
	t.Parallel()

	value := &struct{ Field int }{Field: 42}
	closure := SpewLogClosure(value)

	value.Field = 7
	require.Contains(t, closure.String(), "Field: (int) 7")
}

// TestLogPubKey asserts that keys are logged by their compressed encoding.
func TestLogPubKey(t *testing.T) {
	t.Parallel()

	privKey, _ := btcec.PrivKeyFromBytes([]byte{0x01})

	attr := LogPubKey("key", privKey.PubKey())
	require.Equal(t, "key", attr.Key)

	require.Equal(t, "nil", LogPubKey("nil", nil).Key)
}
