// 文件: pkg/market/ticker.go
// 行情快照定时器
//
// 按固定间隔读取每个合约的 MarketState 并广播。
// 读取 Market 视图的同时会刷新 prometheus 里的标记价 / 预言机价 / 净持仓 gauge。

package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"flash.com/pkg/perp"
)

// DefaultInterval 默认快照间隔
const DefaultInterval = 5 * time.Second

// Source 快照来源
type Source interface {
	Symbols() []string
	Market(ctx context.Context, symbol string) (*perp.MarketState, error)
}

// Ticker 快照定时器
type Ticker struct {
	src      Source
	interval time.Duration
	out      *Broadcaster
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTicker 创建定时器, 快照写入 out
func NewTicker(src Source, interval time.Duration, out *Broadcaster, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{
		src:      src,
		interval: interval,
		out:      out,
		logger:   logger.Named("ticker"),
		now:      time.Now,
	}
}

// Start 启动, 立即执行一次
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})

	t.wg.Add(1)
	go t.loop(ctx)
}

// Stop 停止并等待循环退出
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *Ticker) loop(ctx context.Context) {
	defer t.wg.Done()

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	t.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-tk.C:
			t.Tick(ctx)
		}
	}
}

// Tick 对每个合约取一次快照并广播, 返回成功的数量
//
// 单个合约失败 (如报价过期) 只记日志, 不影响其他合约。
func (t *Ticker) Tick(ctx context.Context) int {
	ts := t.now()
	ok := 0
	for _, sym := range t.src.Symbols() {
		st, err := t.src.Market(ctx, sym)
		if err != nil {
			t.logger.Debug("snapshot failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		t.out.Broadcast(Snapshot{MarketState: *st, Time: ts})
		ok++
	}
	return ok
}
