// Package config handles the daemon's command line and config file options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultConfigFilename   = "bookchaind.conf"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "bookchaind.log"
	defaultKeyFilename      = "keys.json"
	defaultLogLevel         = "info"
	defaultDifficulty       = 16
	defaultSealInterval     = 30 * time.Second
	defaultContractBudget   = 5 * time.Second
	defaultMaxTimestampSkew = 10 * time.Minute
	defaultGenesisMessage   = "bookchaind audit ledger"
)

// DefaultAppDir is the default directory for the chain store, keyfile and
// logs.
var DefaultAppDir = appDataDir("bookchaind")

// Flags holds the daemon's parsed options.
//
// See LoadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion      bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile       string        `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDir           string        `short:"b" long:"appdir" description:"Directory to store data"`
	LogLevel         string        `short:"d" long:"loglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	KeyFile          string        `long:"keyfile" description:"Path to the node's keyfile"`
	Difficulty       uint32        `long:"difficulty" description:"Number of leading zero bits required of every block hash"`
	SealInterval     time.Duration `long:"sealinterval" description:"How often the sealing loop tries to mine the pending pool"`
	ContractBudget   time.Duration `long:"contractbudget" description:"Wall-clock budget for a single contract execution"`
	MaxTimestampSkew time.Duration `long:"maxtimeskew" description:"Maximum allowed future skew of transaction timestamps"`
	GenesisMessage   string        `long:"genesismessage" description:"Message recorded in the genesis block of a fresh chain"`
	Jurisdiction     string        `long:"jurisdiction" description:"Tax jurisdiction for the withholding contract {US, CA}"`
	HomeState        string        `long:"homestate" description:"Home state for US tax computations"`
	NoWithholding    bool          `long:"nowithholding" description:"Do not register the tax withholding contract"`
	NoAudit          bool          `long:"noaudit" description:"Do not register the audit enforcement contract"`
	NoPaymentTerms   bool          `long:"nopaymentterms" description:"Do not register the payment terms contract"`
	LateFeeBP        int64         `long:"latefee" description:"Late fee in basis points assessed on overdue invoices"`
	GraceDays        int           `long:"gracedays" description:"Days past due before a late fee is assessed"`
	MineOnce         bool          `long:"mineonce" description:"Seal a single block and exit"`
}

// Config is the daemon's fully resolved configuration.
type Config struct {
	*Flags
}

func defaultFlags() *Flags {
	return &Flags{
		AppDir:           DefaultAppDir,
		LogLevel:         defaultLogLevel,
		Difficulty:       defaultDifficulty,
		SealInterval:     defaultSealInterval,
		ContractBudget:   defaultContractBudget,
		MaxTimestampSkew: defaultMaxTimestampSkew,
		GenesisMessage:   defaultGenesisMessage,
		Jurisdiction:     "US",
		HomeState:        "FL",
		LateFeeBP:        150,
		GraceDays:        5,
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options. Command line options always take precedence.
func LoadConfig() (*Config, error) {
	cfgFlags := defaultFlags()
	parser := flags.NewParser(cfgFlags, flags.HelpFlag)
	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil, err
		}
		return nil, errors.WithStack(err)
	}

	if cfgFlags.ConfigFile == "" {
		cfgFlags.ConfigFile = filepath.Join(cfgFlags.AppDir, defaultConfigFilename)
	}
	if fileExists(cfgFlags.ConfigFile) {
		err := flags.NewIniParser(parser).ParseFile(cfgFlags.ConfigFile)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing config file %s", cfgFlags.ConfigFile)
		}
		// Parse command line options again to ensure they take precedence.
		if _, err := parser.Parse(); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	cfg := &Config{Flags: cfgFlags}
	cfg.AppDir = cleanAndExpandPath(cfg.AppDir)
	if err := os.MkdirAll(cfg.AppDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create app directory %s", cfg.AppDir)
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(cfg.AppDir, defaultKeyFilename)
	}
	if cfg.Difficulty == 0 {
		return nil, errors.New("difficulty must be at least 1")
	}
	if cfg.SealInterval <= 0 {
		return nil, errors.Errorf("seal interval must be positive, got %s", cfg.SealInterval)
	}
	return cfg, nil
}

// LogDir returns the directory log files are rotated in.
func (cfg *Config) LogDir() string {
	return filepath.Join(cfg.AppDir, defaultLogDirname)
}

// LogFile returns the path of the daemon's log file.
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.LogDir(), defaultLogFilename)
}

func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(appDataDir("bookchaind"))
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// appDataDir returns an operating system specific data directory for the
// application.
func appDataDir(appName string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "."
	}
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(appData, strings.Title(appName))
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", strings.Title(appName))
	default:
		return filepath.Join(homeDir, fmt.Sprintf(".%s", appName))
	}
}
