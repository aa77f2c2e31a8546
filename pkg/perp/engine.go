// 文件: pkg/perp/engine.go
// 永续合约引擎
//
// 【执行模型】
// 每个公开操作是一个原子单元:
//
//	身份校验 -> 加锁 -> 读时钟(一次) -> 校验 -> 计算 -> 缓冲写入 -> 一次提交 -> 发布事件
//
// 所有写入先进 store.Txn 缓冲区，任何一步出错直接返回，底层状态不变。
// 引擎内部一把互斥锁串行化全部操作 (包括只读视图)。
//
// 【依赖】全部通过接口注入
// - store.Store:       状态
// - oracle.Source:     参考价格
// - custody.Custodian: 抵押品转账
// - auth.Authorizer:   调用方身份
// - event.Publisher:   领域事件

package perp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flash.com/pkg/auth"
	"flash.com/pkg/custody"
	"flash.com/pkg/event"
	"flash.com/pkg/metrics"
	"flash.com/pkg/oracle"
	"flash.com/pkg/store"
)

// =============================================================================
// Clock
// =============================================================================

// Clock 时间来源
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock 手动推进的时钟 (测试 / 模拟)
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 从 t 开始
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 前进 d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set 设为 t
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// =============================================================================
// Engine
// =============================================================================

// Deps 引擎依赖
type Deps struct {
	Store   store.Store
	Oracle  oracle.Source
	Custody custody.Custodian
	Auth    auth.Authorizer
	Events  event.Publisher
	Clock   Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics // 可为 nil
	Markets []Market         // 为空时使用 DefaultMarkets
}

// Engine 永续合约引擎
type Engine struct {
	mu sync.Mutex

	store   store.Store
	oracle  oracle.Source
	custody custody.Custodian
	auth    auth.Authorizer
	events  event.Publisher
	clock   Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	markets map[string]Market
	symbols []string
}

// NewEngine 创建引擎
func NewEngine(d Deps) (*Engine, error) {
	if d.Store == nil || d.Oracle == nil || d.Custody == nil {
		return nil, errors.New("perp: store, oracle and custody are required")
	}
	if d.Auth == nil {
		d.Auth = auth.ContextAuthorizer{}
	}
	if d.Events == nil {
		d.Events = event.Nop{}
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if len(d.Markets) == 0 {
		d.Markets = DefaultMarkets()
	}

	e := &Engine{
		store:   d.Store,
		oracle:  d.Oracle,
		custody: d.Custody,
		auth:    d.Auth,
		events:  d.Events,
		clock:   d.Clock,
		logger:  d.Logger.Named("engine"),
		metrics: d.Metrics,
		markets: make(map[string]Market, len(d.Markets)),
	}
	for _, m := range d.Markets {
		if m.Symbol == "" || m.SkewScale <= 0 {
			return nil, fmt.Errorf("perp: invalid market %+v", m)
		}
		if m.OracleAsset == "" {
			m.OracleAsset = m.Symbol
		}
		if _, dup := e.markets[m.Symbol]; dup {
			return nil, fmt.Errorf("perp: duplicate market %s", m.Symbol)
		}
		e.markets[m.Symbol] = m
		e.symbols = append(e.symbols, m.Symbol)
	}
	return e, nil
}

// Symbols 支持的合约
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.symbols...)
}

// =============================================================================
// 操作骨架
// =============================================================================

// opTx 单次操作的上下文
type opTx struct {
	*store.Txn
	now    int64
	events []*event.Event

	// onAbort 提交失败时执行 (补偿已发生的外部副作用)
	onAbort []func()
	// afterCommit 提交成功后执行的外部副作用, 出错时由它自己负责补偿
	afterCommit func() error
}

func (tx *opTx) emit(ev *event.Event) {
	ev.Timestamp = tx.now
	tx.events = append(tx.events, ev)
}

// exec 执行一次操作
//
// principal 为空表示无需身份校验 (permissionless)
func (e *Engine) exec(ctx context.Context, op, principal string, fn func(tx *opTx) error) (err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveOp(op, start, resultLabel(err))
		if err != nil {
			e.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
		}
	}()

	if principal != "" {
		if aerr := e.auth.Authorize(ctx, principal); aerr != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, aerr)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := &opTx{Txn: store.Begin(e.store), now: e.clock.Now().Unix()}
	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		for _, undo := range tx.onAbort {
			undo()
		}
		return err
	}

	if tx.afterCommit != nil {
		if err := tx.afterCommit(); err != nil {
			return err
		}
	}

	for _, ev := range tx.events {
		e.publish(ctx, ev)
	}
	return nil
}

// adminExec 管理员操作: 先读管理员身份, 再校验
func (e *Engine) adminExec(ctx context.Context, op string, fn func(tx *opTx, admin string) error) error {
	admin, err := e.Admin(ctx)
	if err != nil {
		return err
	}
	return e.exec(ctx, op, admin, func(tx *opTx) error {
		// 加锁后再确认一次, 防止管理员在校验与加锁之间被替换
		cur, err := requireInitialized(ctx, tx)
		if err != nil {
			return err
		}
		if cur != admin {
			return ErrUnauthorized
		}
		return fn(tx, admin)
	})
}

func (e *Engine) publish(ctx context.Context, ev *event.Event) {
	ev.ID = event.NextID()
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish event failed",
			zap.String("type", string(ev.Type)),
			zap.Int64("id", ev.ID),
			zap.Error(err))
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return ClassOf(err).String()
}

// =============================================================================
// 全局配置
// =============================================================================

// Initialize 初始化: 设置管理员与抵押品代币, 建立各合约的初始池子
//
// 只能执行一次。调用方需证明自己是 admin。
func (e *Engine) Initialize(ctx context.Context, admin, collateralToken string) error {
	if admin == "" || collateralToken == "" {
		return fmt.Errorf("%w: admin and collateral token are required", ErrInvalidAmount)
	}
	return e.exec(ctx, "initialize", admin, func(tx *opTx) error {
		if _, ok, err := tx.Get(ctx, store.AdminKey()); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}

		if err := tx.PutJSON(store.AdminKey(), admin); err != nil {
			return err
		}
		if err := tx.PutJSON(store.PausedKey(), false); err != nil {
			return err
		}
		if err := tx.PutJSON(store.CollateralTokenKey(), collateralToken); err != nil {
			return err
		}

		for _, sym := range e.symbols {
			m := e.markets[sym]
			if err := tx.PutJSON(store.ReserveKey(sym), Reserve{Base: InitialBaseReserve, Quote: InitialQuoteReserve}); err != nil {
				return err
			}
			if err := tx.PutJSON(store.FundingKey(sym), FundingState{LastUpdate: tx.now}); err != nil {
				return err
			}
			if err := tx.PutJSON(store.SkewScaleKey(sym), m.SkewScale); err != nil {
				return err
			}
			if err := tx.PutJSON(store.NetOIKey(sym), int64(0)); err != nil {
				return err
			}
		}

		tx.emit(&event.Event{Type: event.TypeInitialize, Counterparty: admin})
		return nil
	})
}

// Pause 暂停交易 (管理员)
func (e *Engine) Pause(ctx context.Context) error {
	return e.adminExec(ctx, "pause", func(tx *opTx, admin string) error {
		if err := tx.PutJSON(store.PausedKey(), true); err != nil {
			return err
		}
		tx.emit(&event.Event{Type: event.TypePause, Counterparty: admin})
		return nil
	})
}

// Unpause 恢复交易 (管理员)
func (e *Engine) Unpause(ctx context.Context) error {
	return e.adminExec(ctx, "unpause", func(tx *opTx, admin string) error {
		if err := tx.PutJSON(store.PausedKey(), false); err != nil {
			return err
		}
		tx.emit(&event.Event{Type: event.TypeUnpause, Counterparty: admin})
		return nil
	})
}

// SetSkewScale 调整合约的 skewScale (管理员)
func (e *Engine) SetSkewScale(ctx context.Context, symbol string, scale int64) error {
	return e.adminExec(ctx, "set_skew_scale", func(tx *opTx, admin string) error {
		if _, err := e.market(symbol); err != nil {
			return err
		}
		if scale <= 0 {
			return fmt.Errorf("%w: skew scale must be positive", ErrInvalidAmount)
		}
		if err := tx.PutJSON(store.SkewScaleKey(symbol), scale); err != nil {
			return err
		}
		tx.emit(&event.Event{Type: event.TypeSkewScale, Symbol: symbol, Counterparty: admin, Amount: scale})
		return nil
	})
}

// =============================================================================
// 校验辅助
// =============================================================================

func (e *Engine) market(symbol string) (Market, error) {
	m, ok := e.markets[symbol]
	if !ok {
		return Market{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return m, nil
}

func requireInitialized(ctx context.Context, r store.Reader) (string, error) {
	admin, ok, err := store.Load[string](ctx, r, store.AdminKey())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}
	return admin, nil
}

func requireActive(ctx context.Context, r store.Reader) error {
	if _, err := requireInitialized(ctx, r); err != nil {
		return err
	}
	paused, _, err := store.Load[bool](ctx, r, store.PausedKey())
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

// loadInt 读取整数, 不存在返回 0
func loadInt(ctx context.Context, r store.Reader, key store.Key) (int64, error) {
	v, _, err := store.Load[int64](ctx, r, key)
	return v, err
}
