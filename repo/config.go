package repo

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/cpacia/xmrescrow/version"
	"github.com/jessevdk/go-flags"
	"github.com/natefinch/lumberjack"
	"github.com/op/go-logging"
)

const (
	defaultConfigFilename = "xmrescrow.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "xmrescrow.log"

	DefaultTradeTimeout      = time.Second * 60
	DefaultMaxDeferral       = time.Minute * 10
	DefaultRepublishInterval = time.Minute * 30
	DefaultRefreshInterval   = time.Minute * 6
)

var (
	// DefaultHomeDir is the data directory used when none is configured.
	DefaultHomeDir = btcutil.AppDataDir("xmrescrow", false)

	defaultHomeDir    = DefaultHomeDir
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)

	fileLogFormat   = logging.MustStringFormatter(`%{time:2006-01-02T15:04:05} [%{level}] [%{module}] %{message}`)
	stdoutLogFormat = logging.MustStringFormatter(`%{color:reset}%{color}%{time:15:04:05.000} [%{level}] [%{module}] %{message}`)
)

// LogLevelMap maps the config strings to log levels.
var LogLevelMap = map[string]logging.Level{
	"debug":    logging.DEBUG,
	"info":     logging.INFO,
	"notice":   logging.NOTICE,
	"warning":  logging.WARNING,
	"error":    logging.ERROR,
	"critical": logging.CRITICAL,
}

// Config defines the configuration options for the node.
//
// See LoadConfig for details on the configuration load process.
type Config struct {
	ShowVersion bool   `short:"v" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	LogLevel    string `short:"l" long:"loglevel" description:"set the logging level [debug, info, notice, warning, error, critical]" default:"info"`

	BootstrapAddrs []string `long:"bootstrapaddr" description:"Override the default bootstrap addresses with the provided values"`
	SwarmAddrs     []string `long:"swarmaddr" description:"Override the default swarm addresses with the provided values"`
	GatewayAddr    string   `long:"gatewayaddr" description:"Override the default gateway address with the provided value" default:"/ip4/127.0.0.1/tcp/4002"`
	Testnet        bool     `short:"t" long:"testnet" description:"Use the test network"`

	StoreAndForwardServers []string `long:"snfserver" description:"Peer IDs of the store and forward servers to use for our mailbox"`
	EnableSNFServer        bool     `long:"enablesnfserver" description:"Run a store and forward server for other peers"`

	Arbitrator     bool   `long:"arbitrator" description:"Run as an arbitrator. Arbitrators sign offers and relay trade setup."`
	ArbitratorPeer string `long:"arbitratorpeer" description:"Peer ID of the arbitrator used to sign our offers"`

	TradeTimeout      time.Duration `long:"tradetimeout" description:"How long to wait for a response to a trade initiating message" default:"60s"`
	MaxDeferral       time.Duration `long:"maxdeferral" description:"How long an early trade message is held before it is rejected" default:"10m"`
	RepublishInterval time.Duration `long:"republishinterval" description:"How often to republish our offers to the offer book" default:"30m"`
	RefreshInterval   time.Duration `long:"refreshinterval" description:"How often to refresh our offers in the offer book" default:"6m"`

	ExchangeRateURL string   `long:"exchangerateurl" description:"URL of the exchange rate API used to price offers"`
	BannedPeers     []string `long:"bannedpeer" description:"Peer IDs to refuse to trade with"`
	BannedCurrency  []string `long:"bannedcurrency" description:"Counter currencies to refuse"`
	BannedMethod    []string `long:"bannedmethod" description:"Payment methods to refuse"`

	APIUsername    string `long:"apiusername" description:"Username for basic authentication on the API"`
	APIPassword    string `long:"apipassword" description:"Hex encoded sha256 of the password for basic authentication on the API"`
	DisableMetrics bool   `long:"disablemetrics" description:"Do not serve prometheus metrics on the gateway"`
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// The above results in the node functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options. Command line options always take precedence.
func LoadConfig() (*Config, []string, error) {
	// Default config.
	cfg := Config{
		DataDir:    defaultHomeDir,
		ConfigFile: defaultConfigFile,
		LogDir:     defaultLogDir,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.IgnoreUnknown)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// A custom data dir moves the default config file with it.
	if preCfg.DataDir != defaultHomeDir && preCfg.ConfigFile == defaultConfigFile {
		preCfg.ConfigFile = filepath.Join(preCfg.DataDir, defaultConfigFilename)
	}
	if preCfg.DataDir != defaultHomeDir && preCfg.LogDir == defaultLogDir {
		cfg.LogDir = filepath.Join(preCfg.DataDir, defaultLogDirname)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default|flags.IgnoreUnknown)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a "+
				"default config file: %v\n", err)
		}
	}

	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.ConfigFile = preCfg.ConfigFile

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	setupLogging(cfg.LogDir, cfg.LogLevel)

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		log.Warningf("%v", configFileError)
	}
	return &cfg, remainingArgs, nil
}

// Validate checks the option values for consistency and fills in
// defaults for zero durations.
func (cfg *Config) Validate() error {
	if _, ok := LogLevelMap[strings.ToLower(cfg.LogLevel)]; !ok {
		return fmt.Errorf("invalid log level %s", cfg.LogLevel)
	}
	if cfg.TradeTimeout == 0 {
		cfg.TradeTimeout = DefaultTradeTimeout
	}
	if cfg.MaxDeferral == 0 {
		cfg.MaxDeferral = DefaultMaxDeferral
	}
	if cfg.RepublishInterval == 0 {
		cfg.RepublishInterval = DefaultRepublishInterval
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RefreshInterval > cfg.RepublishInterval {
		return fmt.Errorf("refresh interval %s must not exceed republish interval %s", cfg.RefreshInterval, cfg.RepublishInterval)
	}
	if !cfg.Arbitrator && cfg.ArbitratorPeer == "" {
		log.Warning("No arbitrator peer configured. Offers cannot be posted.")
	}
	return nil
}

// sampleConfig is written to disk the first time the node starts.
const sampleConfig = `[Application Options]

; Directory to store data
; datadir=

; Set the logging level [debug, info, notice, warning, error, critical]
; loglevel=info

; Use the test network
; testnet=1

; Addresses to listen on for peer connections
; swarmaddr=/ip4/0.0.0.0/tcp/4101
; swarmaddr=/ip6/::/tcp/4101

; Address of the HTTP API
; gatewayaddr=/ip4/127.0.0.1/tcp/4002

; Basic authentication for the HTTP API
; apiusername=
; apipassword=

; Peer ID of the arbitrator that signs our offers
; arbitratorpeer=

; Run as an arbitrator
; arbitrator=1

; Store and forward servers used as our mailbox
; snfserver=

; Trade protocol timing
; tradetimeout=60s
; maxdeferral=10m
; republishinterval=30m
; refreshinterval=6m
`

// createDefaultConfigFile writes the sample config to the given
// destination path.
func createDefaultConfigFile(destinationPath string) error {
	// Create the destination directory if it does not exists
	err := os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(destinationPath, []byte(sampleConfig), 0600)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func setupLogging(logDir, logLevel string) {
	backendStdout := logging.NewLogBackend(os.Stdout, "", 0)
	backendStdoutFormatter := logging.NewBackendFormatter(backendStdout, stdoutLogFormat)

	if logDir != "" {
		rotator := &lumberjack.Logger{
			Filename:   path.Join(logDir, defaultLogFilename),
			MaxSize:    10, // Megabytes
			MaxBackups: 3,
			MaxAge:     30, // Days
		}

		backendFile := logging.NewLogBackend(rotator, "", 0)
		backendFileFormatter := logging.NewBackendFormatter(backendFile, fileLogFormat)
		logging.SetBackend(backendStdoutFormatter, backendFileFormatter)
	} else {
		logging.SetBackend(backendStdoutFormatter)
	}

	level, ok := LogLevelMap[strings.ToLower(logLevel)]
	if !ok {
		level = logging.INFO
	}
	logging.SetLevel(level, "")
}
