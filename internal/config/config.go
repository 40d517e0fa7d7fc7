// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tradecore/internal/costs"
	"tradecore/internal/domain"
	"tradecore/internal/entry"
	"tradecore/internal/governor"
)

// Config represents the complete engine configuration.
type Config struct {
	Costs    CostsConfig     `json:"costs" yaml:"costs"`
	Entry    EntryConfig     `json:"entry" yaml:"entry"`
	Governor governor.Limits `json:"governor" yaml:"governor"`
	Candles  CandlesConfig   `json:"candles" yaml:"candles"`
	Book     BookConfig      `json:"book" yaml:"book"`
	Journal  JournalConfig   `json:"journal" yaml:"journal"`
	Storage  StorageConfig   `json:"storage" yaml:"storage"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`

	// ProfilesFile points at the exit-parameter table. Empty uses the
	// built-in defaults.
	ProfilesFile string `json:"profiles_file,omitempty" yaml:"profiles_file,omitempty"`

	Verbose bool `json:"verbose" yaml:"verbose"`
}

// CostsConfig contains friction parameters in basis points.
type CostsConfig struct {
	FeeBps      float64 `json:"fee_bps" yaml:"fee_bps"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`
	SpreadBps   float64 `json:"spread_bps" yaml:"spread_bps"`
}

// Rates converts the section into the cost model's parameter set.
func (c CostsConfig) Rates() costs.Rates {
	return costs.Rates{
		FeeBps:      c.FeeBps,
		SlippageBps: c.SlippageBps,
		SpreadBps:   c.SpreadBps,
	}
}

// EntryConfig contains fill-resolution bounds. Zero values take the entry
// package defaults.
type EntryConfig struct {
	MaxEntryDeviation float64 `json:"max_entry_deviation,omitempty" yaml:"max_entry_deviation,omitempty"`
	MaxAgeBars        int     `json:"max_age_bars,omitempty" yaml:"max_age_bars,omitempty"`
	LimitTTLBars      int     `json:"limit_ttl_bars,omitempty" yaml:"limit_ttl_bars,omitempty"`
}

// Options converts the section into resolver options.
func (c EntryConfig) Options() entry.Options {
	return entry.Options{
		MaxEntryDeviation: c.MaxEntryDeviation,
		MaxAgeBars:        c.MaxAgeBars,
		LimitTTLBars:      c.LimitTTLBars,
	}
}

// CandlesConfig contains candle store retention, keyed by timeframe.
// Timeframes not listed use the store default.
type CandlesConfig struct {
	Retention map[string]int `json:"retention,omitempty" yaml:"retention,omitempty"`
}

// RetentionMap converts the string-keyed section into store retention.
func (c CandlesConfig) RetentionMap() map[domain.Timeframe]int {
	if len(c.Retention) == 0 {
		return nil
	}
	out := make(map[domain.Timeframe]int, len(c.Retention))
	for tf, n := range c.Retention {
		out[domain.Timeframe(tf)] = n
	}
	return out
}

// BookConfig contains trade book parameters.
type BookConfig struct {
	CompletedCap int    `json:"completed_cap,omitempty" yaml:"completed_cap,omitempty"`
	Debounce     string `json:"debounce,omitempty" yaml:"debounce,omitempty"`       // e.g. "2s"
	StaleAfter   string `json:"stale_after,omitempty" yaml:"stale_after,omitempty"` // pending-order cleanup horizon
}

// ParseDebounce converts the debounce string to a duration. Empty uses the
// book default.
func (c BookConfig) ParseDebounce() (time.Duration, error) {
	if c.Debounce == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Debounce)
}

// ParseStaleAfter converts the cleanup horizon to a duration. Empty
// disables stale cleanup.
func (c BookConfig) ParseStaleAfter() (time.Duration, error) {
	if c.StaleAfter == "" {
		return 0, nil
	}
	return time.ParseDuration(c.StaleAfter)
}

// JournalConfig contains completed-trade journaling parameters.
type JournalConfig struct {
	Type string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// StorageConfig selects the durable state backend.
type StorageConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // "memory", "sqlite" or "postgres"
	SQLitePath    string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	PostgresDSN   string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`
	ClickhouseDSN string `json:"clickhouse_dsn,omitempty" yaml:"clickhouse_dsn,omitempty"` // optional candle archive
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen,omitempty" yaml:"listen,omitempty"` // e.g. ":9100"
}

// LoadFromFile loads and validates configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Costs.FeeBps < 0 || c.Costs.SlippageBps < 0 || c.Costs.SpreadBps < 0 {
		return fmt.Errorf("costs rates must be non-negative")
	}
	if c.Entry.MaxEntryDeviation < 0 || c.Entry.MaxEntryDeviation > 1 {
		return fmt.Errorf("entry.max_entry_deviation must be within [0, 1]")
	}
	if c.Entry.MaxAgeBars < 0 || c.Entry.LimitTTLBars < 0 {
		return fmt.Errorf("entry bar counts must be non-negative")
	}
	if c.Governor.GlobalDaily < 0 || c.Governor.PerKeyTarget < 0 || c.Governor.CooldownBars < 0 {
		return fmt.Errorf("governor limits must be non-negative")
	}
	for cat, budget := range c.Governor.CategoryDaily {
		if budget < 0 {
			return fmt.Errorf("governor.category_daily[%s] must be non-negative", cat)
		}
	}
	for tf, n := range c.Candles.Retention {
		if !domain.Timeframe(tf).IsValid() {
			return fmt.Errorf("candles.retention: unknown timeframe %q", tf)
		}
		if n <= 0 {
			return fmt.Errorf("candles.retention[%s] must be positive", tf)
		}
	}
	if c.Book.CompletedCap < 0 {
		return fmt.Errorf("book.completed_cap must be non-negative")
	}
	if _, err := c.Book.ParseDebounce(); err != nil {
		return fmt.Errorf("book.debounce: %w", err)
	}
	if _, err := c.Book.ParseStaleAfter(); err != nil {
		return fmt.Errorf("book.stale_after: %w", err)
	}
	switch c.Journal.Type {
	case "csv", "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for type %q", c.Journal.Type)
		}
	case "none":
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path required for sqlite backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'memory', 'sqlite' or 'postgres'")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen required when metrics are enabled")
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Costs: CostsConfig{
			FeeBps:      costs.DefaultRates.FeeBps,
			SlippageBps: costs.DefaultRates.SlippageBps,
			SpreadBps:   costs.DefaultRates.SpreadBps,
		},
		Governor: governor.DefaultLimits(),
		Book: BookConfig{
			CompletedCap: 100,
			Debounce:     "2s",
			StaleAfter:   "48h",
		},
		Journal: JournalConfig{
			Type: "csv",
			Path: "./trades.csv",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9100",
		},
	}
}
