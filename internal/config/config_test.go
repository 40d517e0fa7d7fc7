package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, 4.0, cfg.Costs.FeeBps)
	assert.Equal(t, 10, cfg.Governor.GlobalDaily)
	assert.Equal(t, 100, cfg.Book.CompletedCap)
	assert.Equal(t, "csv", cfg.Journal.Type)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:   "negative fee",
			mutate: func(c *Config) { c.Costs.FeeBps = -1 },
			errMsg: "costs rates must be non-negative",
		},
		{
			name:   "deviation above one",
			mutate: func(c *Config) { c.Entry.MaxEntryDeviation = 1.5 },
			errMsg: "entry.max_entry_deviation",
		},
		{
			name:   "negative category budget",
			mutate: func(c *Config) { c.Governor.CategoryDaily[domain.CategoryShort] = -1 },
			errMsg: "governor.category_daily",
		},
		{
			name:   "unknown retention timeframe",
			mutate: func(c *Config) { c.Candles.Retention = map[string]int{"7m": 100} },
			errMsg: `unknown timeframe "7m"`,
		},
		{
			name:   "non-positive retention",
			mutate: func(c *Config) { c.Candles.Retention = map[string]int{"15m": 0} },
			errMsg: "candles.retention[15m] must be positive",
		},
		{
			name:   "bad debounce",
			mutate: func(c *Config) { c.Book.Debounce = "soon" },
			errMsg: "book.debounce",
		},
		{
			name:   "unknown journal type",
			mutate: func(c *Config) { c.Journal.Type = "parquet" },
			errMsg: "journal.type",
		},
		{
			name:   "journal path missing",
			mutate: func(c *Config) { c.Journal.Path = "" },
			errMsg: "journal.path required",
		},
		{
			name: "sqlite backend without path",
			mutate: func(c *Config) {
				c.Storage.Backend = "sqlite"
				c.Storage.SQLitePath = ""
			},
			errMsg: "storage.sqlite_path required",
		},
		{
			name: "postgres backend without dsn",
			mutate: func(c *Config) {
				c.Storage.Backend = "postgres"
			},
			errMsg: "storage.postgres_dsn required",
		},
		{
			name:   "unknown storage backend",
			mutate: func(c *Config) { c.Storage.Backend = "redis" },
			errMsg: "storage.backend",
		},
		{
			name: "metrics enabled without listen",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ""
			},
			errMsg: "metrics.listen required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFileMergesDefaults(t *testing.T) {
	raw := `
costs:
  fee_bps: 5
  slippage_bps: 1
governor:
  global_daily: 12
candles:
  retention:
    15m: 600
book:
  debounce: 500ms
journal:
  type: sqlite
  path: ./journal.db
storage:
  backend: sqlite
  sqlite_path: ./state.db
verbose: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Costs.FeeBps)
	assert.Equal(t, 12, cfg.Governor.GlobalDaily)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 3, cfg.Governor.PerKeyTarget)
	assert.Equal(t, 100, cfg.Book.CompletedCap)

	assert.Equal(t, "sqlite", cfg.Journal.Type)
	assert.Equal(t, "./journal.db", cfg.Journal.Path)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.True(t, cfg.Verbose)

	retention := cfg.Candles.RetentionMap()
	assert.Equal(t, 600, retention[domain.Timeframe15m])

	debounce, err := cfg.Book.ParseDebounce()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, debounce)
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	raw := `
journal:
  type: parquet
  path: ./journal.db
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal.type")
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Entry = EntryConfig{MaxEntryDeviation: 0.02, MaxAgeBars: 8, LimitTTLBars: 4}

	rates := cfg.Costs.Rates()
	assert.Equal(t, cfg.Costs.FeeBps, rates.FeeBps)
	assert.Equal(t, cfg.Costs.SlippageBps, rates.SlippageBps)

	opts := cfg.Entry.Options()
	assert.Equal(t, 0.02, opts.MaxEntryDeviation)
	assert.Equal(t, 8, opts.MaxAgeBars)
	assert.Equal(t, 4, opts.LimitTTLBars)

	assert.Nil(t, CandlesConfig{}.RetentionMap())
}
