package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"flash.com/pkg/auth"
	"flash.com/pkg/config"
	"flash.com/pkg/custody"
	"flash.com/pkg/event"
	"flash.com/pkg/journal"
	"flash.com/pkg/kafka"
	"flash.com/pkg/keeper"
	"flash.com/pkg/market"
	"flash.com/pkg/metrics"
	pnats "flash.com/pkg/nats"
	"flash.com/pkg/oracle"
	"flash.com/pkg/perp"
	"flash.com/pkg/store"
)

// =============================================================================
// app 组件装配
// =============================================================================

type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db   *gorm.DB
	rds  *redis.Client
	conn *nats.Conn

	metrics  *metrics.Metrics
	static   *oracle.Static
	feed     *oracle.Feed
	engine   *perp.Engine
	verifier *auth.JWTVerifier

	funding    *keeper.FundingKeeper
	liquidator *keeper.Liquidator
	writer     *journal.Writer
	ticker     *market.Ticker
	snapshots  *market.Broadcaster

	closers []func() error
}

func openMySQL(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rds := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rds.Ping(ctx).Err(); err != nil {
		_ = rds.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return rds, nil
}

func (a *app) needMySQL() bool {
	return a.cfg.Store.Backend == "mysql" || a.cfg.Custody.Backend == "mysql" || a.cfg.Kafka.Journal
}

func (a *app) needRedis() bool {
	return a.cfg.Store.Backend == "redis" || (a.cfg.Store.Backend == "mysql" && a.cfg.Store.Cache)
}

// connect 按配置打开外部连接
func (a *app) connect(ctx context.Context) error {
	if a.needMySQL() {
		db, err := openMySQL(a.cfg.MySQL)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}
	if a.needRedis() {
		rds, err := openRedis(ctx, a.cfg.Redis)
		if err != nil {
			return err
		}
		a.rds = rds
		a.closers = append(a.closers, rds.Close)
	}
	if a.cfg.NATS.Enabled {
		conn, err := pnats.Connect(a.cfg.NATS.URL, a.cfg.App.Name)
		if err != nil {
			return err
		}
		a.conn = conn
		a.closers = append(a.closers, func() error { conn.Close(); return nil })
	}
	return nil
}

func (a *app) buildStore() store.Store {
	switch a.cfg.Store.Backend {
	case "redis":
		return store.NewRedisStore(a.rds, a.cfg.Redis.Namespace)
	case "mysql":
		var s store.Store = store.NewGormStore(a.db)
		if a.cfg.Store.Cache {
			s = store.NewCachedStore(s, a.rds, a.cfg.Store.CacheTTL)
		}
		return s
	default:
		return store.NewMemoryStore()
	}
}

func (a *app) buildCustody() custody.Custodian {
	if a.cfg.Custody.Backend == "mysql" {
		return custody.NewLedger(a.db, custody.DefaultVault)
	}
	a.logger.Warn("using in-memory custody, balances are lost on restart")
	return custody.NewMemory()
}

func (a *app) buildOracle() (oracle.Source, error) {
	if a.cfg.Oracle.Source == "nats" {
		a.feed = oracle.NewFeed(a.logger)
		sub := pnats.NewSubscriber(a.conn, a.feed.HandleMessage, a.logger)
		if err := sub.Subscribe(oracle.SubjectPrefix + "*"); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sub.Close)
		return a.feed, nil
	}
	a.static = oracle.NewStatic()
	a.refreshStatic()
	return a.static, nil
}

// refreshStatic 静态报价按当前时间重新打戳, 避免过期
func (a *app) refreshStatic() {
	ts := uint64(time.Now().Unix())
	for _, p := range a.cfg.Oracle.Prices {
		a.static.SetMicro(p.Asset, p.Price, ts)
	}
}

func (a *app) buildEvents() (event.Publisher, error) {
	var sinks event.Multi
	if a.conn != nil {
		sinks = append(sinks, event.NewNATSSink(pnats.NewPublisher(a.conn)))
	}
	if a.cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(a.cfg.Kafka.Brokers), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		sinks = append(sinks, event.NewKafkaSink(producer, a.cfg.Kafka.Topic))
	}
	if len(sinks) == 0 {
		return event.Nop{}, nil
	}
	return sinks, nil
}

func (a *app) markets() []perp.Market {
	out := make([]perp.Market, 0, len(a.cfg.Perp.Markets))
	for _, m := range a.cfg.Perp.Markets {
		out = append(out, perp.Market{Symbol: m.Symbol, OracleAsset: m.OracleAsset, SkewScale: m.SkewScale})
	}
	return out
}

// newApp 装配引擎及其依赖, 不启动后台任务
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := event.InitNode(cfg.App.NodeID); err != nil {
		return nil, fmt.Errorf("init snowflake node: %w", err)
	}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
	}

	src, err := a.buildOracle()
	if err != nil {
		return nil, err
	}
	events, err := a.buildEvents()
	if err != nil {
		return nil, err
	}

	var authorizer auth.Authorizer = auth.ContextAuthorizer{}
	if cfg.Auth.JWTSecret != "" {
		if a.verifier, err = auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("auth.jwt_secret is empty, identity checks are disabled")
		authorizer = auth.AllowAll{}
	}

	a.engine, err = perp.NewEngine(perp.Deps{
		Store:   a.buildStore(),
		Oracle:  src,
		Custody: a.buildCustody(),
		Auth:    authorizer,
		Events:  events,
		Logger:  logger,
		Metrics: a.metrics,
		Markets: a.markets(),
	})
	if err != nil {
		return nil, err
	}
	if err := a.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	if cfg.Keeper.FundingEnabled {
		a.funding = keeper.NewFundingKeeper(a.engine, cfg.Keeper.FundingInterval, logger, a.metrics)
	}
	if cfg.Keeper.LiquidatorEnabled {
		if err := a.buildLiquidator(); err != nil {
			return nil, err
		}
	}
	if cfg.Keeper.TickerInterval > 0 {
		a.snapshots = market.NewBroadcaster()
		a.ticker = market.NewTicker(a.engine, cfg.Keeper.TickerInterval, a.snapshots, logger)
		if a.conn != nil {
			go a.forwardSnapshots(pnats.NewPublisher(a.conn), a.snapshots.Subscribe(256))
		}
	}
	if cfg.Kafka.Journal {
		jc := journal.DefaultConfig(cfg.Kafka.Brokers)
		jc.GroupID = cfg.Kafka.GroupID
		jc.Topic = cfg.Kafka.Topic
		if a.writer, err = journal.NewWriter(jc, journal.NewRepo(a.db), logger); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ensureInitialized 首次启动时以配置的管理员身份初始化
func (a *app) ensureInitialized(ctx context.Context) error {
	admin, err := a.engine.Admin(ctx)
	if err == nil {
		if admin != a.cfg.Perp.Admin {
			a.logger.Warn("stored admin differs from config",
				zap.String("stored", admin),
				zap.String("config", a.cfg.Perp.Admin))
		}
		return nil
	}
	if !errors.Is(err, perp.ErrNotInitialized) {
		return err
	}
	actx := auth.WithPrincipal(ctx, a.cfg.Perp.Admin)
	if err := a.engine.Initialize(actx, a.cfg.Perp.Admin, a.cfg.Perp.CollateralToken); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	a.logger.Info("engine initialized",
		zap.String("admin", a.cfg.Perp.Admin),
		zap.String("collateral", a.cfg.Perp.CollateralToken))
	return nil
}

func (a *app) buildLiquidator() error {
	liq, err := keeper.NewLiquidator(a.engine, keeper.LiquidatorConfig{
		Principal:    a.cfg.Keeper.LiquidatorPrincipal,
		ScanInterval: a.cfg.Keeper.ScanInterval,
		Workers:      a.cfg.Keeper.Workers,
	}, a.logger, a.metrics)
	if err != nil {
		return err
	}
	a.liquidator = liq

	// 持仓变化即时入队
	if a.conn != nil {
		sub := pnats.NewSubscriber(a.conn, liq.HandleMessage, a.logger)
		if err := sub.Subscribe(event.Subject(event.TypeOpen), event.Subject(event.TypeClose)); err != nil {
			return err
		}
		a.closers = append(a.closers, sub.Close)
	}
	// 价格变化触发全量扫描
	if a.feed != nil {
		a.feed.OnUpdate(func(string, oracle.PriceData) { liq.Trigger() })
	}
	return nil
}

// MarketSubjectPrefix 行情快照的 NATS 主题前缀
const MarketSubjectPrefix = "market."

// forwardSnapshots 行情快照转发到 NATS, channel 关闭时退出
func (a *app) forwardSnapshots(pub *pnats.Publisher, ch <-chan market.Snapshot) {
	for snap := range ch {
		if err := pub.Publish(MarketSubjectPrefix+snap.Symbol, snap); err != nil {
			a.logger.Warn("publish snapshot failed", zap.String("symbol", snap.Symbol), zap.Error(err))
		}
	}
}

// Start 启动后台任务
func (a *app) Start(ctx context.Context) {
	if a.funding != nil {
		a.funding.Start(ctx)
	}
	if a.liquidator != nil {
		a.liquidator.Start(ctx)
	}
	if a.writer != nil {
		a.writer.Start()
	}
	if a.ticker != nil {
		a.ticker.Start(ctx)
	}
}

// Stop 停止后台任务
func (a *app) Stop() {
	if a.ticker != nil {
		a.ticker.Stop()
		a.snapshots.Close()
	}
	if a.funding != nil {
		a.funding.Stop()
	}
	if a.liquidator != nil {
		a.liquidator.Stop()
	}
	if a.writer != nil {
		if err := a.writer.Stop(); err != nil {
			a.logger.Warn("stop journal writer", zap.Error(err))
		}
	}
}

// Close 按打开的逆序关闭连接
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
