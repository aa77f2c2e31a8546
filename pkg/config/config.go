// 文件: pkg/config/config.go
// 服务配置
//
// 来源 (后者覆盖前者):
// 1. defaults.go 中的默认值
// 2. YAML 配置文件 (--config)
// 3. 环境变量, 前缀 PERP_, 层级用 _ 连接: PERP_REDIS_ADDR, PERP_KAFKA_BROKERS=a:9092,b:9092

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "PERP"

// Config 根配置
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Perp    PerpConfig    `mapstructure:"perp"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Custody CustodyConfig `mapstructure:"custody"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Keeper  KeeperConfig  `mapstructure:"keeper"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`
	NodeID   int64  `mapstructure:"node_id"` // 雪花 ID 节点号
}

type PerpConfig struct {
	Admin           string         `mapstructure:"admin"`
	CollateralToken string         `mapstructure:"collateral_token"`
	Markets         []MarketConfig `mapstructure:"markets"` // 为空时使用 XLM / BTC / ETH
}

type MarketConfig struct {
	Symbol      string `mapstructure:"symbol"`
	OracleAsset string `mapstructure:"oracle_asset"`
	SkewScale   int64  `mapstructure:"skew_scale"`
}

type StoreConfig struct {
	Backend  string        `mapstructure:"backend"` // memory | redis | mysql
	Cache    bool          `mapstructure:"cache"`   // mysql 之前加 redis 缓存
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Journal bool     `mapstructure:"journal"` // 本进程同时运行流水写入器
}

type OracleConfig struct {
	Source string        `mapstructure:"source"` // nats | static
	Prices []PriceConfig `mapstructure:"prices"` // static 报价
}

type PriceConfig struct {
	Asset string `mapstructure:"asset"`
	Price int64  `mapstructure:"price"` // 6 位小数
}

type CustodyConfig struct {
	Backend string `mapstructure:"backend"` // memory | mysql
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type KeeperConfig struct {
	FundingEnabled      bool          `mapstructure:"funding_enabled"`
	FundingInterval     time.Duration `mapstructure:"funding_interval"`
	LiquidatorEnabled   bool          `mapstructure:"liquidator_enabled"`
	LiquidatorPrincipal string        `mapstructure:"liquidator_principal"`
	ScanInterval        time.Duration `mapstructure:"scan_interval"`
	Workers             int           `mapstructure:"workers"`
	TickerInterval      time.Duration `mapstructure:"ticker_interval"` // 行情快照间隔, 0 关闭
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load 读取配置, path 为空时只用默认值与环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
