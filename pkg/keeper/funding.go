// 文件: pkg/keeper/funding.go
// 资金费率机器人
//
// 定时对每个合约调用 PokeFunding。未到周期的 poke 是无操作，
// 所以这里不需要记录上次执行时间，频率高于周期也没关系。
// 单个合约失败只记日志，不影响其它合约和下一轮。

package keeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"flash.com/pkg/metrics"
	"flash.com/pkg/perp"
)

// DefaultFundingInterval 默认 poke 间隔
const DefaultFundingInterval = 60 * time.Second

// FundingEngine 资金费率机器人依赖的引擎能力
type FundingEngine interface {
	Symbols() []string
	PokeFunding(ctx context.Context, symbol string) error
	Market(ctx context.Context, symbol string) (*perp.MarketState, error)
}

// FundingKeeper 资金费率机器人
type FundingKeeper struct {
	engine   FundingEngine
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFundingKeeper 创建资金费率机器人, interval <= 0 时取默认值
func NewFundingKeeper(engine FundingEngine, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *FundingKeeper {
	if interval <= 0 {
		interval = DefaultFundingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FundingKeeper{
		engine:   engine,
		interval: interval,
		logger:   logger.Named("funding"),
		metrics:  m,
	}
}

// Start 后台运行, 启动时立即执行一轮
func (k *FundingKeeper) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return
	}
	k.running = true
	k.stopCh = make(chan struct{})

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.runLoop(ctx)
	}()
	k.logger.Info("funding keeper started", zap.Duration("interval", k.interval))
}

// Stop 停止并等待当前一轮结束
func (k *FundingKeeper) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	close(k.stopCh)
	k.running = false
	k.mu.Unlock()

	k.wg.Wait()
	k.logger.Info("funding keeper stopped")
}

func (k *FundingKeeper) runLoop(ctx context.Context) {
	k.Tick(ctx)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick 对全部合约 poke 一次, 返回失败的合约数
func (k *FundingKeeper) Tick(ctx context.Context) int {
	failed := 0
	for _, symbol := range k.engine.Symbols() {
		if err := k.engine.PokeFunding(ctx, symbol); err != nil {
			failed++
			k.metrics.KeeperAction("funding", "error")
			k.logger.Warn("poke funding failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		k.metrics.KeeperAction("funding", "ok")

		// 顺带刷新合约指标
		if st, err := k.engine.Market(ctx, symbol); err == nil {
			k.logger.Debug("funding state",
				zap.String("symbol", symbol),
				zap.Stringer("rate", st.Funding.Rate),
				zap.Int64("last_update", st.Funding.LastUpdate),
				zap.Int64("mark", st.MarkPrice))
		}
	}
	return failed
}
