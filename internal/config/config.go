package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	defaultInitialCredit = "1800000"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Prices   PricesConfig   `yaml:"prices"`
}

type ServerConfig struct {
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`
}

type DatabaseConfig struct {
	Store        string `yaml:"store"`
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	QuoteTTL time.Duration `yaml:"quote_ttl"`
}

// LedgerConfig holds money settings as decimal strings.
type LedgerConfig struct {
	InitialCredit  string `yaml:"initial_credit"`
	DefaultDeposit string `yaml:"default_deposit"`
	Currency       string `yaml:"currency"`
}

type PricesConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Store: StorePostgres, MaxOpenConns: 10, MaxIdleConns: 5},
		Redis:    RedisConfig{QuoteTTL: 15 * time.Minute},
		Ledger:   LedgerConfig{InitialCredit: defaultInitialCredit, Currency: "INR"},
		Prices:   PricesConfig{UpdateInterval: time.Hour},
	}
}

// Load reads .env if present, then the YAML file at path (optional), then
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q", port)
		}
		c.Server.Port = p
	}
	if v := os.Getenv("DEBUG_MODE"); v != "" {
		c.Server.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if url := os.Getenv("POSTGRES_URL"); url != "" {
		c.Database.URL = url
	}
	if store := os.Getenv("STORE"); store != "" {
		c.Database.Store = strings.ToLower(store)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if v := os.Getenv("QUOTE_TTL"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid QUOTE_TTL %q", v)
		}
		c.Redis.QuoteTTL = d
	}
	if v := os.Getenv("PRICE_UPDATE_INTERVAL"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PRICE_UPDATE_INTERVAL %q", v)
		}
		c.Prices.UpdateInterval = d
	}
	if v := os.Getenv("LEDGER_INITIAL_CREDIT"); v != "" {
		c.Ledger.InitialCredit = v
	}
	if v := os.Getenv("LEDGER_DEFAULT_DEPOSIT"); v != "" {
		c.Ledger.DefaultDeposit = v
	}
	if v := os.Getenv("CURRENCY"); v != "" {
		c.Ledger.Currency = strings.ToUpper(v)
	}
	return nil
}

// parseDuration accepts Go durations or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Server.Port)
	}
	switch c.Database.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("POSTGRES_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Database.Store)
	}
	if c.Prices.UpdateInterval <= 0 {
		return fmt.Errorf("price update interval must be positive")
	}
	if _, _, err := c.Ledger.Amounts(); err != nil {
		return err
	}
	return nil
}

// Amounts parses the initial credit and the default deposit baseline. An
// unset default deposit falls back to the initial credit.
func (l LedgerConfig) Amounts() (initial, deposit decimal.Decimal, err error) {
	initial, err = decimal.NewFromString(l.InitialCredit)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid initial credit %q", l.InitialCredit)
	}
	if initial.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("initial credit must not be negative")
	}
	if l.DefaultDeposit == "" {
		return initial, initial, nil
	}
	deposit, err = decimal.NewFromString(l.DefaultDeposit)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid default deposit %q", l.DefaultDeposit)
	}
	if deposit.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("default deposit must not be negative")
	}
	return initial, deposit, nil
}
