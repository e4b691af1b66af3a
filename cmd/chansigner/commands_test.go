package main

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chansigner/sweep"
	"github.com/stretchr/testify/require"
)

// TestSelectOutputs asserts that outputs are picked by outpoint.
func TestSelectOutputs(t *testing.T) {
	t.Parallel()

	stored := []sweep.SpendableOutputDescriptor{
		&sweep.StaticOutput{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
			Output:   wire.NewTxOut(1000, []byte{0x51}),
		},
		&sweep.StaticOutput{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 3},
			Output:   wire.NewTxOut(2000, []byte{0x51}),
		},
	}

	all, err := selectOutputs(stored, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	picked, err := selectOutputs(
		stored, []string{stored[1].Outpoint().String()},
	)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	require.Equal(t, stored[1].Outpoint(), picked[0].Outpoint())

	_, err = selectOutputs(stored, []string{"nonsense"})
	require.Error(t, err)

	missing := wire.OutPoint{Hash: chainhash.Hash{0x03}}
	_, err = selectOutputs(stored, []string{missing.String()})
	require.Error(t, err)
}

// TestValidateConfig asserts that the push gateway options are checked and
// turned into a push URL.
func TestValidateConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.DataDir = t.TempDir()
	require.NoError(t, validateConfig(cfg))
	require.Equal(t, cfg.DataDir, cfg.dbPath())

	cfg.DBDir = t.TempDir()
	require.Equal(t, cfg.DBDir, cfg.dbPath())

	cfg.PrometheusGateway.Enabled = true
	require.Error(t, validateConfig(cfg))

	cfg.PrometheusGateway.Host = "localhost"
	require.Error(t, validateConfig(cfg))

	cfg.PrometheusGateway.Port = 9091
	require.NoError(t, validateConfig(cfg))
	require.Equal(t, "localhost:9091", cfg.PrometheusGateway.PushURL)

	cfg.DataDir = ""
	require.Error(t, validateConfig(cfg))
}
