package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PERP_PERP_ADMIN", "GADMIN")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.App.Listen)
	assert.Equal(t, DefaultLogLevel, cfg.App.LogLevel)
	assert.Equal(t, "GADMIN", cfg.Perp.Admin)
	assert.Equal(t, DefaultCollateralToken, cfg.Perp.CollateralToken)
	assert.Empty(t, cfg.Perp.Markets)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, DefaultCacheTTL, cfg.Store.CacheTTL)
	assert.Equal(t, DefaultFundingInterval, cfg.Keeper.FundingInterval)
	assert.Equal(t, DefaultTickerInterval, cfg.Keeper.TickerInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	require.Len(t, cfg.Oracle.Prices, 3)
	assert.Equal(t, PriceConfig{Asset: "XLM", Price: 100_000}, cfg.Oracle.Prices[0])
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
app:
  listen: ":9000"
  log_level: debug
  node_id: 7
perp:
  admin: GADMIN
  collateral_token: GUSDC
  markets:
    - symbol: XLM
      skew_scale: 10000000000
    - symbol: SOL
      oracle_asset: SOLUSD
      skew_scale: 50000000
store:
  backend: mysql
  cache: true
  cache_ttl: 30s
keeper:
  liquidator_enabled: true
  liquidator_principal: GKEEPER
  scan_interval: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.App.Listen)
	assert.Equal(t, int64(7), cfg.App.NodeID)
	assert.Equal(t, "GUSDC", cfg.Perp.CollateralToken)
	require.Len(t, cfg.Perp.Markets, 2)
	assert.Equal(t, MarketConfig{Symbol: "SOL", OracleAsset: "SOLUSD", SkewScale: 50_000_000}, cfg.Perp.Markets[1])
	assert.Equal(t, "mysql", cfg.Store.Backend)
	assert.True(t, cfg.Store.Cache)
	assert.Equal(t, 30*time.Second, cfg.Store.CacheTTL)
	assert.True(t, cfg.Keeper.LiquidatorEnabled)
	assert.Equal(t, 5*time.Second, cfg.Keeper.ScanInterval)
	assert.Equal(t, DefaultKeeperWorkers, cfg.Keeper.Workers)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
perp:
  admin: GFILE
redis:
  addr: "file:6379"
`)
	t.Setenv("PERP_PERP_ADMIN", "GENV")
	t.Setenv("PERP_REDIS_ADDR", "env:6379")
	t.Setenv("PERP_KEEPER_FUNDING_INTERVAL", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "GENV", cfg.Perp.Admin)
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Keeper.FundingInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:     AppConfig{LogLevel: "info", Listen: ":8080", NodeID: 1},
			Perp:    PerpConfig{Admin: "GADMIN", CollateralToken: "USDC"},
			Store:   StoreConfig{Backend: "memory"},
			Oracle:  OracleConfig{Source: "static", Prices: []PriceConfig{{Asset: "XLM", Price: 1}}},
			Custody: CustodyConfig{Backend: "memory"},
			Keeper:  KeeperConfig{FundingEnabled: true, FundingInterval: time.Minute},
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"log level", func(c *Config) { c.App.LogLevel = "trace" }},
		{"node id", func(c *Config) { c.App.NodeID = 1024 }},
		{"admin", func(c *Config) { c.Perp.Admin = "" }},
		{"market skew", func(c *Config) { c.Perp.Markets = []MarketConfig{{Symbol: "XLM"}} }},
		{"duplicate market", func(c *Config) {
			c.Perp.Markets = []MarketConfig{{Symbol: "XLM", SkewScale: 1}, {Symbol: "XLM", SkewScale: 1}}
		}},
		{"store backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"mysql dsn", func(c *Config) { c.Store.Backend = "mysql" }},
		{"custody backend", func(c *Config) { c.Custody.Backend = "chain" }},
		{"static prices", func(c *Config) { c.Oracle.Prices = nil }},
		{"bad price", func(c *Config) { c.Oracle.Prices = []PriceConfig{{Asset: "XLM"}} }},
		{"nats oracle", func(c *Config) { c.Oracle.Source = "nats" }},
		{"kafka brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "t" }},
		{"journal without kafka", func(c *Config) { c.Kafka.Journal = true }},
		{"ticker interval", func(c *Config) { c.Keeper.TickerInterval = -time.Second }},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"liquidator principal", func(c *Config) {
			c.Keeper.LiquidatorEnabled = true
			c.Keeper.ScanInterval = time.Second
			c.Keeper.Workers = 1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
