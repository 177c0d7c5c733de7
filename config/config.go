// Package config loads run configuration from a YAML file, an optional .env
// file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/backtest"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/indicator"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/reconcile"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/strategy"
)

// Reconcile configures trade ledger comparison.
type Reconcile struct {
	// MatchToleranceWindow is a Go duration string, e.g. "2h" or "90m".
	MatchToleranceWindow string `yaml:"match_tolerance_window"`
}

// Config holds all application configuration. Exit thresholds sit at the top
// level of the YAML document.
type Config struct {
	portfolio.ExitRules `yaml:",inline"`

	Entry          strategy.Params    `yaml:"entry"`
	SizingFraction float64            `yaml:"position_sizing_fraction"`
	InitialCapital float64            `yaml:"initial_capital"`
	EndPolicy      backtest.EndPolicy `yaml:"end_of_sequence_policy"`
	Reconcile      Reconcile          `yaml:"reconcile"`

	// Derive lists indicator readings computed from price for sources that
	// don't carry them.
	Derive []indicator.Config `yaml:"derive"`

	// Infrastructure
	Instrument    string `yaml:"instrument"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`
	JournalPath   string `yaml:"journal_path"`
	MetricsAddr   string `yaml:"metrics_addr"`
	HTTPAddr      string `yaml:"http_addr"`
	LogLevel      string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	p := backtest.DefaultParams()
	return &Config{
		ExitRules:      p.Exit,
		SizingFraction: p.SizingFraction,
		InitialCapital: p.InitialCapital,
		EndPolicy:      p.EndPolicy,
		Reconcile:      Reconcile{MatchToleranceWindow: reconcile.DefaultTolerance.String()},
		Instrument:     "default",
		RedisAddr:      "localhost:6379",
		SQLitePath:     "data/snapshots.db",
		JournalPath:    "data/journal.db",
		MetricsAddr:    ":9090",
		HTTPAddr:       ":8080",
		LogLevel:       "info",
	}
}

// Load reads .env (if present), the YAML file at path (if non-empty), then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("[config] could not read .env")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Instrument = getEnv("INSTRUMENT", c.Instrument)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			log.Warn().Str("value", v).Msg("[config] skipping invalid REDIS_DB")
		} else {
			c.RedisDB = n
		}
	}
}

// BacktestParams assembles simulator parameters from the configuration.
func (c *Config) BacktestParams() backtest.Params {
	return backtest.Params{
		Entry:          c.Entry,
		Exit:           c.ExitRules,
		SizingFraction: c.SizingFraction,
		InitialCapital: c.InitialCapital,
		EndPolicy:      c.EndPolicy,
	}
}

// Tolerance returns the reconcile match window.
func (c *Config) Tolerance() (time.Duration, error) {
	if c.Reconcile.MatchToleranceWindow == "" {
		return reconcile.DefaultTolerance, nil
	}
	d, err := time.ParseDuration(c.Reconcile.MatchToleranceWindow)
	if err != nil {
		return 0, fmt.Errorf("reconcile.match_tolerance_window: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("reconcile.match_tolerance_window: %w", reconcile.ErrNegativeTolerance)
	}
	return d, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if err := c.BacktestParams().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Tolerance(); err != nil {
		errs = append(errs, err)
	}
	if _, err := indicator.NewEngine(c.Derive); err != nil {
		errs = append(errs, err)
	}
	if c.Instrument == "" {
		errs = append(errs, errors.New("instrument must not be empty"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
