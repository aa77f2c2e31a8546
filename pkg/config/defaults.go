package config

import (
	"time"

	"github.com/spf13/viper"
)

// 默认值
const (
	DefaultAppName         = "perpd"
	DefaultLogLevel        = "info"
	DefaultListen          = ":8080"
	DefaultCollateralToken = "USDC"
	DefaultStoreBackend    = "memory"
	DefaultCacheTTL        = 10 * time.Minute
	DefaultRedisAddr       = "localhost:6379"
	DefaultRedisNamespace  = "perp"
	DefaultMySQLDSN        = "root:123456@tcp(127.0.0.1:3307)/perp?charset=utf8mb4&parseTime=True&loc=Local"
	DefaultMaxOpenConns    = 20
	DefaultMaxIdleConns    = 5
	DefaultNATSURL         = "nats://127.0.0.1:4222"
	DefaultKafkaTopic      = "perp.events"
	DefaultKafkaGroupID    = "perp_journal"
	DefaultOracleSource    = "static"
	DefaultCustodyBackend  = "memory"
	DefaultIssuer          = "perpd"
	DefaultTokenTTL        = 24 * time.Hour
	DefaultFundingInterval = 60 * time.Second
	DefaultScanInterval    = 10 * time.Second
	DefaultKeeperWorkers   = 4
	DefaultTickerInterval  = 5 * time.Second
	DefaultMetricsNS       = "perp"
)

// 每个键都注册默认值, 环境变量才能在没有配置文件时生效
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", DefaultAppName)
	v.SetDefault("app.log_level", DefaultLogLevel)
	v.SetDefault("app.listen", DefaultListen)
	v.SetDefault("app.node_id", 1)

	v.SetDefault("perp.admin", "")
	v.SetDefault("perp.collateral_token", DefaultCollateralToken)

	v.SetDefault("store.backend", DefaultStoreBackend)
	v.SetDefault("store.cache", false)
	v.SetDefault("store.cache_ttl", DefaultCacheTTL)

	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.namespace", DefaultRedisNamespace)

	v.SetDefault("mysql.dsn", DefaultMySQLDSN)
	v.SetDefault("mysql.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("mysql.max_idle_conns", DefaultMaxIdleConns)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", DefaultNATSURL)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", DefaultKafkaTopic)
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)
	v.SetDefault("kafka.journal", false)

	v.SetDefault("oracle.source", DefaultOracleSource)
	v.SetDefault("oracle.prices", []map[string]any{
		{"asset": "XLM", "price": 100_000},
		{"asset": "BTC", "price": 100_000_000_000},
		{"asset": "ETH", "price": 4_000_000_000},
	})

	v.SetDefault("custody.backend", DefaultCustodyBackend)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", DefaultIssuer)
	v.SetDefault("auth.token_ttl", DefaultTokenTTL)

	v.SetDefault("keeper.funding_enabled", true)
	v.SetDefault("keeper.funding_interval", DefaultFundingInterval)
	v.SetDefault("keeper.liquidator_enabled", false)
	v.SetDefault("keeper.liquidator_principal", "")
	v.SetDefault("keeper.scan_interval", DefaultScanInterval)
	v.SetDefault("keeper.workers", DefaultKeeperWorkers)
	v.SetDefault("keeper.ticker_interval", DefaultTickerInterval)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", DefaultMetricsNS)
}
