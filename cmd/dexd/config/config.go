package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"

	DefaultListenAddr  = "127.0.0.1:8645"
	DefaultMetricsAddr = "127.0.0.1:9645"
	DefaultLogLevel    = "info"
	DefaultSQLiteDSN   = "file:dex.db?_pragma=busy_timeout(5000)"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// GenesisBalance mints Amount of Asset to Account in the asset ledger the first time the
// store is used.
type GenesisBalance struct {
	Asset   engine.AssetID `yaml:"asset"`
	Account string         `yaml:"account"`
	Amount  string         `yaml:"amount"`
}

type GenesisConfig struct {
	Balances []GenesisBalance `yaml:"balances"`
}

type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ModuleID       string        `yaml:"module_id"`
	LogLevel       string        `yaml:"log_level"`
	Store          StoreConfig   `yaml:"store"`
	Genesis        GenesisConfig `yaml:"genesis"`
}

// LoadConfig reads a configuration file from the given path, fills in defaults and
// validates the result.
func LoadConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ServerConfig) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.ModuleID == "" {
		c.ModuleID = ledger.DefaultModuleID.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.Driver == DriverSQLite && c.Store.DSN == "" {
		c.Store.DSN = DefaultSQLiteDSN
	}
}

func (c *ServerConfig) Validate() error {
	if _, err := ledger.ParseModuleID(c.ModuleID); err != nil {
		return fmt.Errorf("config: module_id: %w", err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	for i, b := range c.Genesis.Balances {
		if _, _, err := b.Parse(); err != nil {
			return fmt.Errorf("config: genesis.balances[%d]: %w", i, err)
		}
	}
	return nil
}

// Parse decodes the account and amount of a genesis entry.
func (b GenesisBalance) Parse() (engine.AccountID, *uint256.Int, error) {
	if !common.IsHexAddress(b.Account) {
		return engine.AccountID{}, nil, fmt.Errorf("invalid account %q", b.Account)
	}
	amount, err := uint256.FromDecimal(b.Amount)
	if err != nil {
		return engine.AccountID{}, nil, fmt.Errorf("invalid amount %q: %w", b.Amount, err)
	}
	return common.HexToAddress(b.Account), amount, nil
}
