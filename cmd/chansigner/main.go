package main

import (
	"fmt"
	"os"

	"github.com/lightningnetwork/chansigner/build"
	"github.com/lightningnetwork/chansigner/keymanager"
	"github.com/lightningnetwork/chansigner/lnwallet/chansigner"
	"github.com/lightningnetwork/chansigner/signerdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/urfave/cli"
)

const metricsJobName = "chansigner"

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[chansigner] %v\n", err)
	os.Exit(1)
}

// env is what a command runs against. It's created lazily, as not every
// command needs the keys or the database.
type env struct {
	cfg     *config
	rotator *build.RotatingLogWriter
	reg     *prometheus.Registry

	mgr   *keymanager.Manager
	store *signerdb.Store

	// keyIndex is the next destination and shutdown key index.
	keyIndex uint32
}

// manager returns the key manager, creating it on first use. The starting
// key index is taken from the database, so indices handed out by earlier
// runs are never reused.
func (e *env) manager() (*keymanager.Manager, error) {
	if e.mgr != nil {
		return e.mgr, nil
	}

	store, err := e.signerStore()
	if err != nil {
		return nil, err
	}

	next, err := store.NextKeyIndex()
	if err != nil {
		return nil, err
	}

	kmCfg := *e.cfg.KeyManager
	kmCfg.StartingIndex = max(kmCfg.StartingIndex, next)
	e.keyIndex = kmCfg.StartingIndex

	e.mgr, err = keymanager.NewFromConfig(&kmCfg, clock.NewDefaultClock())
	if err != nil {
		return nil, err
	}

	return e.mgr, nil
}

// nextScript hands out a fresh destination or shutdown script and records
// its index as used.
func (e *env) nextScript(shutdown bool) ([]byte, error) {
	mgr, err := e.manager()
	if err != nil {
		return nil, err
	}

	var script []byte
	if shutdown {
		script, err = mgr.ShutdownScript()
	} else {
		script, err = mgr.DestinationScript()
	}
	if err != nil {
		return nil, err
	}

	e.keyIndex++
	if err := e.store.PutNextKeyIndex(e.keyIndex); err != nil {
		return nil, err
	}

	return script, nil
}

// signerStore returns the signer database, opening it on first use.
func (e *env) signerStore() (*signerdb.Store, error) {
	if e.store != nil {
		return e.store, nil
	}

	store, err := signerdb.Open(e.cfg.dbPath(), defaultDBFilename)
	if err != nil {
		return nil, fmt.Errorf("unable to open signer db: %w", err)
	}
	e.store = store

	return e.store, nil
}

// close releases everything the commands opened and pushes the metrics they
// recorded, if enabled.
func (e *env) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Errorf("Unable to close signer db: %v", err)
		}
	}

	if e.cfg.PrometheusGateway.Enabled {
		err := push.New(e.cfg.PrometheusGateway.PushURL, metricsJobName).
			Gatherer(e.reg).
			Push()
		if err != nil {
			log.Errorf("Unable to push metrics: %v", err)
		}
	}

	if err := e.rotator.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "unable to close log: %v\n", err)
	}
}

// theEnv is set up by the Before hook of the app.
var theEnv *env

func setupEnv(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	rotator, err := setupLoggers(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if err := chansigner.RegisterMetrics(reg); err != nil {
		_ = rotator.Close()
		return err
	}

	theEnv = &env{
		cfg:     cfg,
		rotator: rotator,
		reg:     reg,
	}

	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "chansigner"
	app.Usage = "derive node and channel keys and sweep channel outputs"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "configfile",
			Value:     defaultConfigFile,
			Usage:     "The path to the configuration file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "datadir",
			Value:     defaultDataDir,
			Usage:     "The directory of the signer database and logs.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Value: defaultLogLevel,
			Usage: "The logging level of all subsystems, or " +
				"<subsystem>=<level> pairs.",
		},
		cli.StringFlag{
			Name: "seed",
			Usage: "The hex encoded 32 byte root seed. Prefer " +
				"--seedfile.",
		},
		cli.StringFlag{
			Name:      "seedfile",
			Usage:     "A file holding the hex encoded root seed.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network addresses are encoded for, e.g. " +
				"mainnet, testnet, regtest.",
			Value: keymanager.DefaultNetwork,
		},
	}
	app.Commands = []cli.Command{
		nodeInfoCommand,
		signMessageCommand,
		verifyMessageCommand,
		deriveChannelCommand,
		newAddressCommand,
		decodeDescriptorCommand,
		sweepCommand,
	}
	app.Before = setupEnv
	app.After = func(_ *cli.Context) error {
		if theEnv != nil {
			theEnv.close()
		}

		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
