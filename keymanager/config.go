package keymanager

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// DefaultNetwork is the network used when none is configured.
	DefaultNetwork = "mainnet"
)

var (
	// ErrNoSeed is returned when the config names neither a seed nor a
	// seed file.
	ErrNoSeed = errors.New("either seed or seedfile must be set")

	// ErrInvalidSeed is returned when the configured seed isn't 32 hex
	// encoded bytes.
	ErrInvalidSeed = errors.New("seed must be 32 hex encoded bytes")
)

// Config holds the options of a key manager.
//
//nolint:ll
type Config struct {
	Seed          string `long:"seed" description:"The hex encoded 32 byte root seed. Prefer seedfile, as the seed is visible in the process list."`
	SeedFile      string `long:"seedfile" description:"Path to a file holding the hex encoded 32 byte root seed."`
	Network       string `long:"network" description:"The network addresses are encoded for." choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet" choice:"signet"`
	StartingIndex uint32 `long:"startingindex" description:"The first index of handed out destination and shutdown keys. Set it above every index issued before a restart."`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Network: DefaultNetwork,
	}
}

// Validate checks the config for consistency.
func (c *Config) Validate() error {
	if c.Seed == "" && c.SeedFile == "" {
		return ErrNoSeed
	}
	if c.Seed != "" && c.SeedFile != "" {
		return errors.New("seed and seedfile are mutually exclusive")
	}

	if _, err := ChainParams(c.Network); err != nil {
		return err
	}

	return nil
}

// ReadSeed returns the configured root seed.
func (c *Config) ReadSeed() ([32]byte, error) {
	var seed [32]byte

	seedHex := c.Seed
	if c.SeedFile != "" {
		b, err := os.ReadFile(c.SeedFile)
		if err != nil {
			return seed, fmt.Errorf("unable to read seed file: %w",
				err)
		}
		seedHex = string(bytes.TrimSpace(b))
	}

	b, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil || len(b) != len(seed) {
		return seed, ErrInvalidSeed
	}
	copy(seed[:], b)

	return seed, nil
}

// ChainParams returns the parameters of the named network. An empty name
// selects the default network.
func ChainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", DefaultNetwork:
		return &chaincfg.MainNetParams, nil

	case "testnet":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}
