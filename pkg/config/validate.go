package config

import (
	"errors"
	"fmt"
)

// Validate 检查必填项与取值范围
func (c *Config) Validate() error {
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level %q must be one of debug, info, warn, error", c.App.LogLevel)
	}
	if c.App.Listen == "" {
		return errors.New("app.listen is required")
	}
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		return fmt.Errorf("app.node_id %d must be in [0, 1023]", c.App.NodeID)
	}

	if c.Perp.Admin == "" {
		return errors.New("perp.admin is required")
	}
	if c.Perp.CollateralToken == "" {
		return errors.New("perp.collateral_token is required")
	}
	seen := make(map[string]bool, len(c.Perp.Markets))
	for i, m := range c.Perp.Markets {
		if m.Symbol == "" {
			return fmt.Errorf("perp.markets[%d].symbol is required", i)
		}
		if m.SkewScale <= 0 {
			return fmt.Errorf("perp.markets[%d].skew_scale must be > 0", i)
		}
		if seen[m.Symbol] {
			return fmt.Errorf("perp.markets[%d]: duplicate symbol %s", i, m.Symbol)
		}
		seen[m.Symbol] = true
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis store")
		}
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("mysql.dsn is required for the mysql store")
		}
		if c.Store.Cache && c.Redis.Addr == "" {
			return errors.New("redis.addr is required when store.cache is enabled")
		}
	default:
		return fmt.Errorf("store.backend %q must be one of memory, redis, mysql", c.Store.Backend)
	}

	switch c.Custody.Backend {
	case "memory":
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("mysql.dsn is required for the mysql custody ledger")
		}
	default:
		return fmt.Errorf("custody.backend %q must be one of memory, mysql", c.Custody.Backend)
	}

	switch c.Oracle.Source {
	case "static":
		if len(c.Oracle.Prices) == 0 {
			return errors.New("oracle.prices is required for the static oracle")
		}
		for i, p := range c.Oracle.Prices {
			if p.Asset == "" || p.Price <= 0 {
				return fmt.Errorf("oracle.prices[%d] needs an asset and a positive price", i)
			}
		}
	case "nats":
		if !c.NATS.Enabled {
			return errors.New("nats.enabled must be true for the nats oracle")
		}
	default:
		return fmt.Errorf("oracle.source %q must be one of static, nats", c.Oracle.Source)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka.topic is required when kafka is enabled")
		}
	}
	if c.Kafka.Journal && !c.Kafka.Enabled {
		return errors.New("kafka.journal requires kafka.enabled")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 bytes")
	}

	if c.Keeper.FundingEnabled && c.Keeper.FundingInterval <= 0 {
		return errors.New("keeper.funding_interval must be > 0")
	}
	if c.Keeper.TickerInterval < 0 {
		return errors.New("keeper.ticker_interval must be >= 0")
	}
	if c.Keeper.LiquidatorEnabled {
		if c.Keeper.LiquidatorPrincipal == "" {
			return errors.New("keeper.liquidator_principal is required when the liquidator is enabled")
		}
		if c.Keeper.ScanInterval <= 0 {
			return errors.New("keeper.scan_interval must be > 0")
		}
		if c.Keeper.Workers < 1 {
			return errors.New("keeper.workers must be >= 1")
		}
	}
	return nil
}
