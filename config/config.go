// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config parses razed's command-line and INI configuration surface
// using go-flags, the way the teacher's config package does.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "razed.log"
	defaultErrLogFilename = "razed_err.log"

	// DefaultIOThreads is the default size of the shared I/O executor.
	DefaultIOThreads = 4

	// DefaultWorkThreads is the default size of the local PoW worker pool.
	DefaultWorkThreads = 1

	defaultBootstrapFractionNumerator = 16
	defaultReceiveMinimum             = uint64(1000000)
	defaultPasswordFanout             = 1024
	defaultLMDBMaxDBs                 = 30
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true,
	"error": true, "critical": true, "off": true,
}

// DefaultHomeDir is razed's default per-OS application data directory.
var DefaultHomeDir = appDataDir("razed")

func appDataDir(appName string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		switch runtime.GOOS {
		case "windows":
			appData := os.Getenv("LOCALAPPDATA")
			if appData == "" {
				appData = filepath.Join(home, "AppData", "Local")
			}
			return filepath.Join(appData, appName)
		case "darwin":
			return filepath.Join(home, "Library", "Application Support", appName)
		default:
			return filepath.Join(home, "."+strings.ToLower(appName))
		}
	}
	return "."
}

// Flags defines razed's full command-line/INI configuration surface: the
// ambient options (data/log directories, version, log level) plus the
// domain surface named in the spec (peering, voting, work distribution,
// bootstrap, callback).
type Flags struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	LogLevel    string `short:"d" long:"loglevel" description:"Logging level for all subsystems"`

	TestNet bool `long:"testnet" description:"Use the test network"`
	BetaNet bool `long:"betanet" description:"Use the beta network"`

	PeeringPort uint16 `long:"listen" description:"UDP port to listen for peering traffic on"`
	Profile     string `long:"profile" description:"Enable HTTP profiling server on the given port"`
	IOThreads   int    `long:"iothreads" description:"Number of shared I/O executor worker threads"`
	WorkThreads int    `long:"workthreads" description:"Number of local proof-of-work worker threads"`

	EnableVoting bool `long:"enablevoting" description:"Emit confirm_ack votes for representative keys this node holds"`

	BootstrapFractionNumerator uint64 `long:"bootstrapfractionnumerator" description:"Numerator (over 256) of gap-cache vote weight that triggers a bootstrap attempt"`

	ReceiveMinimum uint64 `long:"receiveminimum" description:"Minimum pending amount the wallet will auto-receive"`
	PasswordFanout uint64 `long:"passwordfanout" description:"Wallet KDF fanout parameter"`

	PreconfiguredPeers           []string `long:"peer" description:"Seed hostname to contact at startup"`
	PreconfiguredRepresentatives []string `long:"preconfiguredrep" description:"Trusted default representative account, used on an empty ledger"`
	WorkPeers                    []string `long:"workpeer" description:"host:port of an external distributed-work HTTP peer"`

	CallbackAddress string `long:"callbackaddress" description:"HTTP host to POST block-accepted events to"`
	CallbackPort    string `long:"callbackport" description:"HTTP port to POST block-accepted events to"`
	CallbackTarget  string `long:"callbacktarget" description:"HTTP path to POST block-accepted events to"`

	LMDBMaxDBs int `long:"lmdbmaxdbs" description:"Store capacity hint (retained for on-disk layout compatibility)"`
}

// Config is the resolved, validated configuration razed runs with. It is
// derived from Flags by LoadConfig.
type Config struct {
	Flags

	Network          Network
	HomeDir          string
	LogFile          string
	ErrLogFile       string
	AnnounceInterval time.Duration
}

var active *Config

// ActiveConfig returns the process-wide Config set up by LoadConfig, mirroring
// the teacher's config.ActiveConfig() accessor.
func ActiveConfig() *Config {
	return active
}

// LoadConfig parses command-line arguments into a validated Config, applying
// defaults the way the teacher's loadConfig does.
func LoadConfig(args []string) (*Config, error) {
	preCfg := Flags{
		DataDir:                    filepath.Join(DefaultHomeDir, defaultDataDirname),
		LogDir:                     filepath.Join(DefaultHomeDir, defaultLogDirname),
		LogLevel:                   defaultLogLevel,
		IOThreads:                  DefaultIOThreads,
		WorkThreads:                DefaultWorkThreads,
		BootstrapFractionNumerator: defaultBootstrapFractionNumerator,
		ReceiveMinimum:             defaultReceiveMinimum,
		PasswordFanout:             defaultPasswordFanout,
		LMDBMaxDBs:                 defaultLMDBMaxDBs,
	}

	parser := flags.NewParser(&preCfg, flags.Default)
	remaining, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, errors.Wrap(err, "failed to parse flags")
	}
	if len(remaining) > 0 {
		return nil, errors.Errorf("unexpected arguments: %v", remaining)
	}

	if preCfg.TestNet && preCfg.BetaNet {
		return nil, errors.New("testnet and betanet cannot both be selected")
	}

	network := NetworkLive
	if preCfg.TestNet {
		network = NetworkTest
	} else if preCfg.BetaNet {
		network = NetworkBeta
	}

	if preCfg.PeeringPort == 0 {
		preCfg.PeeringPort = defaultPeeringPort(network)
	}

	if !validLogLevels[strings.ToLower(preCfg.LogLevel)] {
		return nil, errors.Errorf("invalid loglevel %q", preCfg.LogLevel)
	}

	cfg := &Config{
		Flags:            preCfg,
		Network:          network,
		HomeDir:          DefaultHomeDir,
		LogFile:          filepath.Join(preCfg.LogDir, defaultLogFilename),
		ErrLogFile:       filepath.Join(preCfg.LogDir, defaultErrLogFilename),
		AnnounceInterval: 16 * time.Second,
	}

	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}

	active = cfg
	return cfg, nil
}
