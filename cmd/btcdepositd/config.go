// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcdeposit/claim"
	"github.com/btcsuite/btcdeposit/coinselect"
	"github.com/btcsuite/btcdeposit/internal/cfgutil"
	"github.com/btcsuite/btcdeposit/netparams"
	"github.com/btcsuite/btcdeposit/notify"
	"github.com/btcsuite/btcdeposit/reconcile"
	"github.com/btcsuite/btcdeposit/store"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	defaultConfigFilename = "btcdepositd.conf"
	defaultEnvFilename    = ".env"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcdepositd.log"
	defaultDBDriver       = "sqlite"
	defaultSQLiteFilename = "deposits.db"
	defaultAddressLabel   = "deposit"
	defaultNotifyTrip     = 5
)

var (
	defaultAppDataDir = btcutil.AppDataDir("btcdepositd", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile     string `short:"C" long:"configfile" description:"Path to configuration file"`
	EnvFile        string `long:"envfile" description:"Path to a .env file loaded into the environment before parsing (default: .env in the working directory, if present)"`
	ShowVersion    bool   `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir     string `short:"A" long:"appdata" description:"Application data directory for the default SQLite database"`
	TestNet3       bool   `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	RegressionNet  bool   `long:"regtest" description:"Use the regression test network (default mainnet)"`
	SigNet         bool   `long:"signet" description:"Use the default signet (default mainnet)"`
	SimNet         bool   `long:"simnet" description:"Use the simulation test network (default mainnet)"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical} or SUBSYSTEM=level pairs separated by commas; use show to list subsystems"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum log file size in KiB"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum number of rolled log files to keep"`

	// Chain node options
	RPCConnect   *cfgutil.ExplicitString `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the node RPC server (default: localhost:<network port>)"`
	RPCUser      string                  `short:"u" long:"rpcuser" env:"BTCDEPOSIT_RPCUSER" description:"Node RPC username"`
	RPCPass      string                  `short:"P" long:"rpcpass" env:"BTCDEPOSIT_RPCPASS" default-mask:"-" description:"Node RPC password"`
	RPCWallet    string                  `long:"rpcwallet" description:"Name of the node wallet that receives deposits"`
	RPCTLS       bool                    `long:"rpctls" description:"Connect to the node RPC server using TLS"`
	RPCCert      string                  `long:"rpccert" description:"File containing the certificate authority of the node RPC server, used with --rpctls"`
	AddressLabel string                  `long:"addresslabel" description:"Label attached to every deposit address"`

	// Datastore options
	DBDriver string `long:"dbdriver" choice:"postgres" choice:"sqlite" description:"Database driver"`
	DBDSN    string `long:"dbdsn" env:"BTCDEPOSIT_DBDSN" default-mask:"-" description:"Database connection string (default for sqlite: deposits.db in the network data directory)"`

	// Reconciliation options
	SweepInterval     time.Duration `long:"sweepinterval" description:"Interval between reconciliation sweeps"`
	Workers           int           `long:"workers" description:"Number of requests processed concurrently within a sweep"`
	BatchSize         int           `long:"batchsize" description:"Maximum number of requests of one status handled per sweep"`
	MinDepth          int32         `long:"mindepth" description:"Confirmations a chain-included output needs before it counts"`
	MinBroadcastPeers int32         `long:"minbroadcastpeers" description:"Peers a self-originated unconfirmed transaction must reach before its outputs count"`

	// Notification options
	NotifyHost      string        `long:"notifyhost" description:"host:port of the notification service; notifications are only logged when unset"`
	NotifyTimeout   time.Duration `long:"notifytimeout" description:"Timeout of a single notification"`
	NotifyTripAfter uint32        `long:"notifytripafter" description:"Consecutive notification failures after which the notifier backs off"`

	// Claim options
	RedisAddr string        `long:"redisaddr" description:"host:port of a redis server used to coordinate several instances"`
	RedisPass string        `long:"redispass" env:"BTCDEPOSIT_REDISPASS" default-mask:"-" description:"Redis password"`
	RedisDB   int           `long:"redisdb" description:"Redis database number"`
	ClaimTTL  time.Duration `long:"claimttl" description:"Lifetime of a redis claim on a request"`

	// HTTP options
	HTTPListen *cfgutil.ExplicitString `long:"httplisten" description:"Listen address of the HTTP interface (default: localhost:<network port>)"`
	NoHTTP     bool                    `long:"nohttp" description:"Disable the HTTP interface"`
	MaxSend    *cfgutil.AmountFlag     `long:"maxsend" description:"Largest amount in BTC accepted by /send; 0 disables the limit"`
	RelayFee   *cfgutil.AmountFlag     `long:"relayfee" description:"Minimum relay fee per kB in BTC used for the dust check of /send"`

	// Derived from the options above.
	activeNet *netparams.Params
	dialect   store.Dialect
	policy    coinselect.Policy
}

// defaultConfig returns a config with every default set.
func defaultConfig() config {
	return config{
		ConfigFile:        defaultConfigFile,
		AppDataDir:        defaultAppDataDir,
		DebugLevel:        defaultLogLevel,
		LogDir:            defaultLogDir,
		MaxLogFileSize:    defaultMaxLogFileSize,
		MaxLogFiles:       defaultMaxLogFiles,
		RPCConnect:        cfgutil.NewExplicitString(""),
		AddressLabel:      defaultAddressLabel,
		DBDriver:          defaultDBDriver,
		SweepInterval:     reconcile.DefaultSweepInterval,
		Workers:           reconcile.DefaultWorkers,
		BatchSize:         reconcile.DefaultBatchSize,
		MinDepth:          coinselect.DefaultMinDepth,
		MinBroadcastPeers: coinselect.DefaultMinBroadcastPeers,
		NotifyTimeout:     notify.DefaultTimeout,
		NotifyTripAfter:   defaultNotifyTrip,
		ClaimTTL:          claim.DefaultTTL,
		HTTPListen:        cfgutil.NewExplicitString(""),
		MaxSend:           cfgutil.NewAmountFlag(0),
		RelayFee:          cfgutil.NewAmountFlag(txrules.DefaultRelayFeePerKb),
		activeNet:         &netparams.MainNetParams,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file and
//     env file
//  3. Load the env file so env tagged options resolve
//  4. Load configuration file overwriting defaults with any specified options
//  5. Parse CLI options and overwrite/add any specified options
//
// The above results in btcdepositd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(args []string) (*config, error) {
	cfg := defaultConfig()

	// A config file in the current directory takes precedence.
	exists, err := cfgutil.FileExists(defaultConfigFilename)
	if err != nil {
		return nil, err
	}
	if exists {
		cfg.ConfigFile = defaultConfigFilename
	}

	// Pre-parse the command line options to see if an alternative config
	// file, an env file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.ParseArgs(args); err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	if err := loadEnvFile(preCfg.EnvFile); err != nil {
		return nil, err
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cfgutil.CleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.ParseArgs(args); err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil && preCfg.ConfigFile != defaultConfigFile {
		log.Warnf("%v", configFileError)
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", logWriter.SupportedSubsystems())
		os.Exit(0)
	}

	if err := cfg.validate(); err != nil {
		err = fmt.Errorf("loadConfig: %w", err)
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFile loads the named env file, or .env in the working directory when
// none is named and it exists. Variables already in the environment win.
func loadEnvFile(envFile string) error {
	if envFile == "" {
		exists, err := cfgutil.FileExists(defaultEnvFilename)
		if err != nil || !exists {
			return err
		}
		envFile = defaultEnvFilename
	}

	if err := godotenv.Load(cfgutil.CleanAndExpandPath(envFile)); err != nil {
		return fmt.Errorf("unable to load env file %s: %w", envFile, err)
	}
	return nil
}

// validate checks the parsed options and fills in the derived and network
// dependent values.
func (cfg *config) validate() error {
	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		cfg.activeNet = &netparams.TestNet3Params
		numNets++
	}
	if cfg.RegressionNet {
		cfg.activeNet = &netparams.RegressionNetParams
		numNets++
	}
	if cfg.SigNet {
		cfg.activeNet = &netparams.SigNetParams
		numNets++
	}
	if cfg.SimNet {
		cfg.activeNet = &netparams.SimNetParams
		numNets++
	}
	if numNets > 1 {
		return errors.New("the testnet, regtest, signet and simnet " +
			"params can't be used together -- choose one")
	}

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return err
	}

	cfg.AppDataDir = cfgutil.CleanAndExpandPath(cfg.AppDataDir)

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cfgutil.CleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.activeNet.Name)

	if cfg.MaxLogFileSize <= 0 || cfg.MaxLogFiles <= 0 {
		return errors.New("maxlogfilesize and maxlogfiles must be " +
			"positive")
	}

	// Fill in the network dependent defaults, then normalize.
	cfg.RPCConnect.SetDefault("localhost")
	rpcConnect, err := cfgutil.NormalizeAddress(
		cfg.RPCConnect.Value, cfg.activeNet.NodeRPCPort,
	)
	if err != nil {
		return fmt.Errorf("invalid rpcconnect: %w", err)
	}
	cfg.RPCConnect.Value = rpcConnect

	if cfg.RPCTLS && cfg.RPCCert != "" {
		cfg.RPCCert = cfgutil.CleanAndExpandPath(cfg.RPCCert)
	}

	cfg.HTTPListen.SetDefault("localhost")
	httpListen, err := cfgutil.NormalizeAddress(
		cfg.HTTPListen.Value, cfg.activeNet.HTTPPort,
	)
	if err != nil {
		return fmt.Errorf("invalid httplisten: %w", err)
	}
	cfg.HTTPListen.Value = httpListen

	cfg.dialect, err = store.ParseDialect(cfg.DBDriver)
	if err != nil {
		return err
	}
	if cfg.DBDSN == "" {
		if cfg.dialect != store.SQLite {
			return fmt.Errorf("dbdsn is required for the %v driver",
				cfg.dialect)
		}
		netDir := filepath.Join(cfg.AppDataDir, cfg.activeNet.Name)
		if err := os.MkdirAll(netDir, 0700); err != nil {
			return err
		}
		cfg.DBDSN = store.SQLiteDSN(
			filepath.Join(netDir, defaultSQLiteFilename),
		)
	}

	if cfg.SweepInterval <= 0 {
		return errors.New("sweepinterval must be positive")
	}
	if cfg.Workers <= 0 || cfg.BatchSize <= 0 {
		return errors.New("workers and batchsize must be positive")
	}

	cfg.policy = coinselect.Policy{
		MinDepth:          cfg.MinDepth,
		MinBroadcastPeers: cfg.MinBroadcastPeers,
	}
	if err := cfg.policy.Validate(); err != nil {
		return err
	}

	if cfg.NotifyHost != "" {
		if _, _, err := net.SplitHostPort(cfg.NotifyHost); err != nil {
			return fmt.Errorf("invalid notifyhost: %w", err)
		}
	}
	if cfg.NotifyTimeout <= 0 || cfg.ClaimTTL <= 0 {
		return errors.New("notifytimeout and claimttl must be positive")
	}

	return nil
}
