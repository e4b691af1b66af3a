package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/chansigner/build"
	"github.com/lightningnetwork/chansigner/keymanager"
	"github.com/urfave/cli"
)

const (
	defaultConfigFilename = "chansigner.conf"
	defaultDBFilename     = "signer.db"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "chansigner.log"
	defaultLogLevel       = "info"
)

var (
	defaultDataDir    = btcutil.AppDataDir("chansigner", false)
	defaultConfigFile = filepath.Join(defaultDataDir, defaultConfigFilename)
)

// prometheusGatewayConfig defines the options for pushing metrics to a
// Prometheus PushGateway after a command ran.
//
//nolint:lll
type prometheusGatewayConfig struct {
	Enabled bool   `long:"enabled" description:"Enable pushing metrics to Prometheus PushGateway"`
	Host    string `long:"host" description:"Prometheus PushGateway host address"`
	Port    int    `long:"port" description:"Prometheus PushGateway port"`
	PushURL string
}

// config is the configuration of the signer tool. It's read from an ini file
// and overridden by the global command line flags.
//
//nolint:lll
type config struct {
	DataDir    string `long:"datadir" description:"The directory holding the signer's database and logs."`
	DBDir      string `long:"dbdir" description:"The directory of the signer database, if not the data directory."`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical, off} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems."`

	KeyManager *keymanager.Config `group:"keymanager" namespace:"keymanager"`

	Logging *build.LogConfig `group:"logging" namespace:"logging"`

	PrometheusGateway *prometheusGatewayConfig `group:"prometheus-gateway" namespace:"prometheus-gateway" description:"Prometheus PushGateway configuration"`
}

// defaultConfig returns a config with default values. Console logging is off
// by default, since the commands print their results to stdout.
func defaultConfig() *config {
	logCfg := build.DefaultLogConfig()
	logCfg.Console.Disable = true

	return &config{
		DataDir:           defaultDataDir,
		DebugLevel:        defaultLogLevel,
		KeyManager:        keymanager.DefaultConfig(),
		Logging:           logCfg,
		PrometheusGateway: &prometheusGatewayConfig{},
	}
}

// dbPath returns the directory of the signer database.
func (c *config) dbPath() string {
	if c.DBDir != "" {
		return c.DBDir
	}

	return c.DataDir
}

// logFile returns the path of the log file.
func (c *config) logFile() string {
	return filepath.Join(c.DataDir, defaultLogDirname, defaultLogFilename)
}

// loadConfig builds the config from the defaults, the config file and the
// global flags, in that order of precedence.
func loadConfig(ctx *cli.Context) (*config, error) {
	cfg := defaultConfig()

	configFile := ctx.GlobalString("configfile")
	fileParser := flags.NewParser(cfg, flags.IgnoreUnknown)
	err := flags.NewIniParser(fileParser).ParseFile(configFile)
	if err != nil {
		// A missing default config file is fine, an explicitly
		// requested one must exist.
		var iniErr *flags.IniError
		switch {
		case errors.As(err, &iniErr):
			return nil, err

		case ctx.GlobalIsSet("configfile"):
			return nil, fmt.Errorf("unable to read config file: %w",
				err)
		}
	}

	if ctx.GlobalIsSet("datadir") {
		cfg.DataDir = ctx.GlobalString("datadir")
	}
	if ctx.GlobalIsSet("debuglevel") {
		cfg.DebugLevel = ctx.GlobalString("debuglevel")
	}

	// A seed given on the command line replaces the one of the file,
	// whichever way either is given.
	if ctx.GlobalIsSet("seed") {
		cfg.KeyManager.Seed = ctx.GlobalString("seed")
		cfg.KeyManager.SeedFile = ""
	}
	if ctx.GlobalIsSet("seedfile") {
		cfg.KeyManager.SeedFile = ctx.GlobalString("seedfile")
		cfg.KeyManager.Seed = ""
	}
	if ctx.GlobalIsSet("network") {
		cfg.KeyManager.Network = ctx.GlobalString("network")
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks the config for consistency. The key manager options
// are checked when a command first needs the keys, as not every command
// does.
func validateConfig(cfg *config) error {
	if cfg.DataDir == "" {
		return errors.New("datadir may not be empty")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("unable to create datadir: %w", err)
	}

	if err := cfg.Logging.Validate(); err != nil {
		return err
	}

	if cfg.PrometheusGateway.Enabled {
		gatewayHost := cfg.PrometheusGateway.Host
		gatewayPort := cfg.PrometheusGateway.Port

		if gatewayHost == "" {
			return errors.New("gateway hostname may not be empty")
		}

		if gatewayPort == 0 {
			return errors.New("gateway port is not set")
		}

		// Construct the endpoint for Prometheus PushGateway.
		cfg.PrometheusGateway.PushURL = fmt.Sprintf(
			"%s:%d", gatewayHost, gatewayPort,
		)
	}

	return nil
}
