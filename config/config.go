// Package config loads the lending bot configuration from a YAML file,
// a .env file and the process environment.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	LedgerGraphQL = "graphql"
	LedgerSQLite  = "sqlite"

	GeneratedConfigFile = "config.gen.yaml"
)

var (
	defaultMinAcceptableRate = decimal.RequireFromString("3.65")
	defaultMaxPeriodRate     = decimal.NewFromInt(100)
	defaultFrontRunMargin    = decimal.RequireFromString("0.01825")
	defaultBookThreshold     = decimal.NewFromInt(300000)
	defaultSizeFraction      = decimal.NewFromInt(1)
	defaultMinOfferSize      = decimal.NewFromInt(50)
)

const (
	defaultCurrency           = "USD"
	defaultLendingPeriod      = 2
	defaultMaxPeriod          = 30
	defaultTickInterval       = 10 * time.Second
	defaultWalletPollInterval = 5 * time.Minute
	defaultRateLimit          = 1.0
	defaultPort               = "3000"
	defaultDataDir            = "data"
	defaultLogLevel           = "info"
)

// Config is the validated runtime configuration.
type Config struct {
	AccountID string
	Currency  string

	APIKey    string
	APISecret string
	// RESTURL, WSURL and StatusWSURL override the Bitfinex endpoints.
	RESTURL     string
	WSURL       string
	StatusWSURL string
	// RateLimit is the REST request budget per second.
	RateLimit float64

	MinAcceptableRate decimal.Decimal
	MaxPeriodRate     decimal.Decimal
	FrontRunMargin    decimal.Decimal
	BookThreshold     decimal.Decimal
	SizeFraction      decimal.Decimal
	LendingPeriod     int
	MaxPeriod         int
	MinOfferSize      decimal.Decimal

	TickInterval       time.Duration
	WalletPollInterval time.Duration

	Ledger Ledger

	SlackToken string
	Addr       string
	TLSDomain  string
	TLSCache   string

	DataDir string
	Log     Log
}

type Ledger struct {
	Backend    string
	GraphQLURL string
	Token      string
	SQLitePath string
}

type Log struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ConfigTmp is the YAML shape of Config. Decimals are kept as strings.
type ConfigTmp struct {
	AccountID string `yaml:"account_id,omitempty"`
	Currency  string `yaml:"currency,omitempty"`

	APIKey      string  `yaml:"api_key,omitempty"`
	APISecret   string  `yaml:"api_secret,omitempty"`
	RESTURL     string  `yaml:"rest_url,omitempty"`
	WSURL       string  `yaml:"ws_url,omitempty"`
	StatusWSURL string  `yaml:"status_ws_url,omitempty"`
	RateLimit   float64 `yaml:"rate_limit,omitempty"`

	MinAcceptableRateStr string `yaml:"min_acceptable_rate,omitempty"`
	MaxPeriodRateStr     string `yaml:"max_period_rate,omitempty"`
	FrontRunMarginStr    string `yaml:"front_run_margin,omitempty"`
	BookThresholdStr     string `yaml:"book_threshold,omitempty"`
	SizeFractionStr      string `yaml:"size,omitempty"`
	LendingPeriod        int    `yaml:"lending_period,omitempty"`
	MaxPeriod            int    `yaml:"max_period,omitempty"`
	MinOfferSizeStr      string `yaml:"min_offer_size,omitempty"`

	TickInterval       time.Duration `yaml:"tick_interval,omitempty"`
	WalletPollInterval time.Duration `yaml:"wallet_poll_interval,omitempty"`

	Ledger LedgerTmp `yaml:"ledger,omitempty"`

	SlackToken string `yaml:"slack_token,omitempty"`
	Port       string `yaml:"port,omitempty"`
	TLSDomain  string `yaml:"tls_domain,omitempty"`
	TLSCache   string `yaml:"tls_cache,omitempty"`

	DataDir string `yaml:"data_dir,omitempty"`
	Log     LogTmp `yaml:"log,omitempty"`
}

type LedgerTmp struct {
	Backend    string `yaml:"backend,omitempty"`
	GraphQLURL string `yaml:"graphql_url,omitempty"`
	Token      string `yaml:"token,omitempty"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

type LogTmp struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// Flags are the command line options.
type Flags struct {
	ConfigPath string
	EnvFile    string
	Setup      bool
}

// ParseFlags parses the process arguments.
func ParseFlags() Flags {
	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	flag.StringVar(&f.EnvFile, "env", ".env", "path to .env file, ignored when missing")
	flag.BoolVar(&f.Setup, "setup", false, "run the interactive setup wizard")
	flag.Parse()
	return f
}

// Load reads the YAML file at path (optional), then the .env file (optional),
// then applies environment overrides and defaults.
func Load(path, envFile string) (Config, error) {
	var tmp ConfigTmp
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			return Config{}, errors.Wrap(err, "parse config")
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "load %s", envFile)
		}
	}

	applyEnv(&tmp, os.LookupEnv)
	return tmp.Build()
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides YAML values with the service's environment variables.
func applyEnv(t *ConfigTmp, lookup lookupFunc) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&t.APIKey, "API_KEY", "PUBLIC_KEY")
	str(&t.APISecret, "API_SECRET", "PRIVATE_KEY")
	str(&t.SlackToken, "SLACK_VERIFICATION_TOKEN")
	str(&t.Ledger.GraphQLURL, "GCOOL_URL")
	str(&t.Ledger.Token, "GCOOL_TOKEN")
	str(&t.AccountID, "IBB_ACCOUNT_ID")
	str(&t.Port, "PORT")
	str(&t.MinAcceptableRateStr, "MIN_ACCEPTABLE_RATE")
	str(&t.MaxPeriodRateStr, "MAX_PERIOD_RATE")
	str(&t.FrontRunMarginStr, "FRONT_RUN_MARGIN")
	str(&t.BookThresholdStr, "BOOK_THRESHOLD")

	var period string
	str(&period, "LENDING_PERIOD")
	if n, err := strconv.Atoi(period); err == nil {
		t.LendingPeriod = n
	}
}

// Build validates the raw values and fills in defaults.
func (t ConfigTmp) Build() (Config, error) {
	c := Config{
		AccountID:          t.AccountID,
		Currency:           strings.ToUpper(t.Currency),
		APIKey:             t.APIKey,
		APISecret:          t.APISecret,
		RESTURL:            t.RESTURL,
		WSURL:              t.WSURL,
		StatusWSURL:        t.StatusWSURL,
		RateLimit:          t.RateLimit,
		LendingPeriod:      t.LendingPeriod,
		MaxPeriod:          t.MaxPeriod,
		TickInterval:       t.TickInterval,
		WalletPollInterval: t.WalletPollInterval,
		Ledger: Ledger{
			Backend:    strings.ToLower(t.Ledger.Backend),
			GraphQLURL: t.Ledger.GraphQLURL,
			Token:      t.Ledger.Token,
			SQLitePath: t.Ledger.SQLitePath,
		},
		SlackToken: t.SlackToken,
		TLSDomain:  t.TLSDomain,
		TLSCache:   t.TLSCache,
		DataDir:    t.DataDir,
		Log: Log{
			Level:      t.Log.Level,
			File:       t.Log.File,
			MaxSizeMB:  t.Log.MaxSizeMB,
			MaxBackups: t.Log.MaxBackups,
			MaxAgeDays: t.Log.MaxAgeDays,
		},
	}

	var err error
	decimals := []struct {
		name string
		raw  string
		def  decimal.Decimal
		dst  *decimal.Decimal
	}{
		{"min_acceptable_rate", t.MinAcceptableRateStr, defaultMinAcceptableRate, &c.MinAcceptableRate},
		{"max_period_rate", t.MaxPeriodRateStr, defaultMaxPeriodRate, &c.MaxPeriodRate},
		{"front_run_margin", t.FrontRunMarginStr, defaultFrontRunMargin, &c.FrontRunMargin},
		{"book_threshold", t.BookThresholdStr, defaultBookThreshold, &c.BookThreshold},
		{"size", t.SizeFractionStr, defaultSizeFraction, &c.SizeFraction},
		{"min_offer_size", t.MinOfferSizeStr, defaultMinOfferSize, &c.MinOfferSize},
	}
	for _, d := range decimals {
		if d.raw == "" {
			*d.dst = d.def
			continue
		}
		if *d.dst, err = decimal.NewFromString(d.raw); err != nil {
			return Config{}, fmt.Errorf("incorrect '%s' param in config (must be a decimal), error: %w", d.name, err)
		}
	}

	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.LendingPeriod == 0 {
		c.LendingPeriod = defaultLendingPeriod
	}
	if c.MaxPeriod == 0 {
		c.MaxPeriod = defaultMaxPeriod
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.TickInterval == 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.WalletPollInterval == 0 {
		c.WalletPollInterval = defaultWalletPollInterval
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = LedgerGraphQL
		if c.Ledger.GraphQLURL == "" {
			c.Ledger.Backend = LedgerSQLite
		}
	}
	if c.Ledger.Backend == LedgerSQLite && c.Ledger.SQLitePath == "" {
		c.Ledger.SQLitePath = c.DataDir + "/ledger.db"
	}

	port := t.Port
	if port == "" {
		port = defaultPort
	}
	c.Addr = ":" + strings.TrimPrefix(port, ":")

	return c, c.validate()
}

func (c Config) validate() error {
	switch {
	case c.AccountID == "":
		return errors.New("account id is required (IBB_ACCOUNT_ID)")
	case c.APIKey == "" || c.APISecret == "":
		return errors.New("exchange api key and secret are required (API_KEY, API_SECRET)")
	case c.SizeFraction.LessThanOrEqual(decimal.Zero) || c.SizeFraction.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("size must be in (0, 1], got %s", c.SizeFraction)
	case c.LendingPeriod < 2 || c.MaxPeriod < c.LendingPeriod:
		return fmt.Errorf("lending period %d and max period %d are out of range", c.LendingPeriod, c.MaxPeriod)
	case c.BookThreshold.LessThanOrEqual(decimal.Zero):
		return errors.New("book_threshold must be positive")
	case c.RateLimit < 0:
		return errors.New("rate_limit must not be negative")
	}

	switch c.Ledger.Backend {
	case LedgerGraphQL:
		if c.Ledger.GraphQLURL == "" {
			return errors.New("graphql ledger requires an url (GCOOL_URL)")
		}
	case LedgerSQLite:
	default:
		return fmt.Errorf("unsupported ledger backend: %s", c.Ledger.Backend)
	}

	return nil
}
