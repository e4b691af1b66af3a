package main

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/chansigner/build"
	"github.com/lightningnetwork/chansigner/keychain"
	"github.com/lightningnetwork/chansigner/keymanager"
	"github.com/lightningnetwork/chansigner/lnwallet"
	"github.com/lightningnetwork/chansigner/lnwallet/chansigner"
	"github.com/lightningnetwork/chansigner/signerdb"
	"github.com/lightningnetwork/chansigner/sweep"
)

// Subsystem defines the logging code of the command line tool.
const Subsystem = "CSCL"

var log = btclog.Disabled

// setupLoggers wires every package logger to the console and file handlers
// configured in cfg. The returned writer must be closed on exit.
func setupLoggers(cfg *config) (*build.RotatingLogWriter, error) {
	rotator := build.NewRotatingLogWriter()
	if !cfg.Logging.File.Disable {
		err := rotator.InitLogRotator(cfg.Logging.File, cfg.logFile())
		if err != nil {
			return nil, err
		}
	}

	consoleHandler, fileHandler := build.NewDefaultLoggers(
		cfg.Logging, rotator,
	)
	logMgr := build.NewSubLoggerManager(consoleHandler, fileHandler)

	log = build.NewSubLogger(Subsystem, logMgr.GenSubLogger)
	logMgr.RegisterSubLogger(keychain.Subsystem, keychain.UseLogger)
	logMgr.RegisterSubLogger(lnwallet.Subsystem, lnwallet.UseLogger)
	logMgr.RegisterSubLogger(chansigner.Subsystem, chansigner.UseLogger)
	logMgr.RegisterSubLogger(sweep.Subsystem, sweep.UseLogger)
	logMgr.RegisterSubLogger(keymanager.Subsystem, keymanager.UseLogger)
	logMgr.RegisterSubLogger(signerdb.Subsystem, signerdb.UseLogger)

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, logMgr)
	if err != nil {
		_ = rotator.Close()
		return nil, err
	}

	return rotator, nil
}
