// 文件: pkg/keeper/liquidator.go
// 清算机器人
//
// 【候选来源】
// 1. 事件: perp.open / perp.close 触及的 (trader, symbol) 立即复查
// 2. 价格: 预言机价格更新时调用 Trigger, 提前一次全量扫描
// 3. 兜底: 定时全量扫描 Engine.Positions
//
// 【执行】
// 候选进入队列，由固定数量的 worker 执行:
//
//	MarginRatio < MMR -> Liquidate(清算人身份)
//
// 扫描与执行之间价格可能回升，此时引擎返回 BelowMaintenanceMargin，
// 视为正常跳过。同一候选在队列中只保留一份。

package keeper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"flash.com/pkg/auth"
	"flash.com/pkg/event"
	"flash.com/pkg/metrics"
	"flash.com/pkg/perp"
)

const (
	DefaultScanInterval = 10 * time.Second
	DefaultWorkers      = 4
	DefaultQueueSize    = 256
)

// LiquidationEngine 清算机器人依赖的引擎能力
type LiquidationEngine interface {
	Positions(ctx context.Context) ([]perp.PositionView, error)
	MarginRatio(ctx context.Context, trader, symbol string) (int64, error)
	Liquidate(ctx context.Context, liquidator, trader, symbol string) error
}

// Candidate 待检查的持仓
type Candidate struct {
	Trader string
	Symbol string
}

// LiquidatorConfig 清算机器人配置
type LiquidatorConfig struct {
	Principal    string        // 清算人身份, 奖励记入该账户
	ScanInterval time.Duration // 全量扫描间隔
	Workers      int
	QueueSize    int
}

// LiquidatorStats 统计
type LiquidatorStats struct {
	Checked    int64
	Liquidated int64
	Skipped    int64
	Failed     int64
	Dropped    int64
}

// Liquidator 清算机器人
type Liquidator struct {
	engine  LiquidationEngine
	cfg     LiquidatorConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue   chan Candidate
	trigger chan struct{}

	pendingMu sync.Mutex
	pending   map[Candidate]struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	checked    atomic.Int64
	liquidated atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
}

// NewLiquidator 创建清算机器人
func NewLiquidator(engine LiquidationEngine, cfg LiquidatorConfig, logger *zap.Logger, m *metrics.Metrics) (*Liquidator, error) {
	if cfg.Principal == "" {
		return nil, errors.New("keeper: liquidator principal is required")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Liquidator{
		engine:  engine,
		cfg:     cfg,
		logger:  logger.Named("liquidator"),
		metrics: m,
		queue:   make(chan Candidate, cfg.QueueSize),
		trigger: make(chan struct{}, 1),
		pending: make(map[Candidate]struct{}),
	}, nil
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动 worker 与扫描循环
func (l *Liquidator) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})

	for i := 0; i < l.cfg.Workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.worker(ctx)
		}()
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.scanLoop(ctx)
	}()

	l.logger.Info("liquidator started",
		zap.String("principal", l.cfg.Principal),
		zap.Duration("scan_interval", l.cfg.ScanInterval),
		zap.Int("workers", l.cfg.Workers))
}

// Stop 停止, 队列中剩余的候选被丢弃
func (l *Liquidator) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	close(l.stopCh)
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("liquidator stopped", zap.Any("stats", l.Stats()))
}

func (l *Liquidator) scanLoop(ctx context.Context) {
	l.Scan(ctx)

	ticker := time.NewTicker(l.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Scan(ctx)
		case <-l.trigger:
			l.Scan(ctx)
		}
	}
}

func (l *Liquidator) worker(ctx context.Context) {
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case c := <-l.queue:
			l.done(c)
			if _, err := l.Check(ctx, c); err != nil {
				l.logger.Warn("liquidation failed",
					zap.String("trader", c.Trader),
					zap.String("symbol", c.Symbol),
					zap.Error(err))
			}
		}
	}
}

// =============================================================================
// 候选
// =============================================================================

// Enqueue 加入候选队列, 已在队列中或队列已满时返回 false
func (l *Liquidator) Enqueue(c Candidate) bool {
	l.pendingMu.Lock()
	if _, dup := l.pending[c]; dup {
		l.pendingMu.Unlock()
		return false
	}
	l.pending[c] = struct{}{}
	l.pendingMu.Unlock()

	select {
	case l.queue <- c:
		return true
	default:
		l.done(c)
		l.dropped.Add(1)
		l.logger.Warn("liquidation queue full, candidate dropped",
			zap.String("trader", c.Trader),
			zap.String("symbol", c.Symbol))
		return false
	}
}

func (l *Liquidator) done(c Candidate) {
	l.pendingMu.Lock()
	delete(l.pending, c)
	l.pendingMu.Unlock()
}

// Trigger 请求尽快做一次全量扫描 (非阻塞)
func (l *Liquidator) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// HandleMessage NATS 回调: perp.open / perp.close 事件触及的持仓入队
func (l *Liquidator) HandleMessage(subject string, data []byte) error {
	if !strings.HasPrefix(subject, event.SubjectPrefix) {
		return nil
	}
	ev, err := event.Decode(data)
	if err != nil {
		return err
	}
	if ev.Type != event.TypeOpen && ev.Type != event.TypeClose {
		return nil
	}
	if ev.Trader == "" || ev.Symbol == "" {
		return nil
	}
	l.Enqueue(Candidate{Trader: ev.Trader, Symbol: ev.Symbol})
	return nil
}

// Scan 全量扫描, 低于维持保证金的持仓入队, 返回入队数量
func (l *Liquidator) Scan(ctx context.Context) int {
	positions, err := l.engine.Positions(ctx)
	if err != nil {
		l.logger.Warn("scan positions failed", zap.Error(err))
		return 0
	}

	queued := 0
	for _, p := range positions {
		ratio, err := l.engine.MarginRatio(ctx, p.Trader, p.Symbol)
		if err != nil {
			l.logger.Debug("margin ratio unavailable",
				zap.String("trader", p.Trader),
				zap.String("symbol", p.Symbol),
				zap.Error(err))
			continue
		}
		if ratio >= perp.MMRBp {
			continue
		}
		if l.Enqueue(Candidate{Trader: p.Trader, Symbol: p.Symbol}) {
			queued++
		}
	}
	l.logger.Debug("scan completed", zap.Int("positions", len(positions)), zap.Int("queued", queued))
	return queued
}

// =============================================================================
// 执行
// =============================================================================

// Check 复查并在需要时强平, 返回是否执行了强平
func (l *Liquidator) Check(ctx context.Context, c Candidate) (bool, error) {
	l.checked.Add(1)
	if c.Trader == l.cfg.Principal {
		l.skipped.Add(1)
		return false, nil
	}

	ratio, err := l.engine.MarginRatio(ctx, c.Trader, c.Symbol)
	if errors.Is(err, perp.ErrPositionNotFound) {
		l.skipped.Add(1)
		return false, nil
	}
	if err != nil {
		l.failed.Add(1)
		l.metrics.KeeperAction("liquidator", "error")
		return false, err
	}
	if ratio >= perp.MMRBp {
		l.skipped.Add(1)
		return false, nil
	}

	err = l.engine.Liquidate(auth.WithPrincipal(ctx, l.cfg.Principal), l.cfg.Principal, c.Trader, c.Symbol)
	switch {
	case err == nil:
		l.liquidated.Add(1)
		l.metrics.KeeperAction("liquidator", "liquidated")
		l.logger.Info("position liquidated",
			zap.String("trader", c.Trader),
			zap.String("symbol", c.Symbol),
			zap.Int64("margin_ratio_bp", ratio))
		return true, nil
	case errors.Is(err, perp.ErrBelowMaintenanceMargin), errors.Is(err, perp.ErrPositionNotFound):
		// 价格回升或已被别人清算
		l.skipped.Add(1)
		l.metrics.KeeperAction("liquidator", "skipped")
		return false, nil
	default:
		l.failed.Add(1)
		l.metrics.KeeperAction("liquidator", "error")
		return false, err
	}
}

// Stats 统计快照
func (l *Liquidator) Stats() LiquidatorStats {
	return LiquidatorStats{
		Checked:    l.checked.Load(),
		Liquidated: l.liquidated.Load(),
		Skipped:    l.skipped.Load(),
		Failed:     l.failed.Load(),
		Dropped:    l.dropped.Load(),
	}
}
