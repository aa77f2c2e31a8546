package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"flash.com/pkg/auth"
	"flash.com/pkg/custody"
	"flash.com/pkg/event"
	"flash.com/pkg/keeper"
	"flash.com/pkg/market"
	"flash.com/pkg/metrics"
	"flash.com/pkg/oracle"
	"flash.com/pkg/perp"
	"flash.com/pkg/store"
)

// =============================================================================
// 模拟参数
// =============================================================================

const (
	admin      = "GADMIN"
	liqBot     = "GLIQBOT"
	token      = "USDC"
	unit       = int64(1_000_000)
	numTraders = 8
	steps      = 240
	stepSim    = time.Hour             // 每步推进的模拟时间
	stepReal   = 20 * time.Millisecond // 每步的真实间隔, 让机器人有机会运行
	volatility = 1.5                   // 年化波动率
	// 保证金率按当前名义价值计算, 价格上行时所有持仓的保证金率一起下降;
	// 强上行漂移让 10 天的模拟期内出现强平
	drift = 25.0
)

var startPrices = map[string]int64{
	"XLM": 100_000,
	"BTC": 100_000_000_000,
	"ETH": 4_000_000_000,
}

// =============================================================================
// 进程内事件总线 (代替 NATS)
// =============================================================================

// localBus 把事件按 NATS 主题转发给订阅方, 并统计各类事件数量
type localBus struct {
	mu       sync.Mutex
	counts   map[event.Type]int
	handlers []func(subject string, data []byte) error
}

func newLocalBus() *localBus {
	return &localBus{counts: make(map[event.Type]int)}
}

func (b *localBus) Subscribe(h func(subject string, data []byte) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *localBus) Publish(_ context.Context, e *event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.counts[e.Type]++
	handlers := append([]func(string, []byte) error(nil), b.handlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(e.Subject(), data); err != nil {
			return err
		}
	}
	return nil
}

func (b *localBus) Counts() map[event.Type]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[event.Type]int, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

func publishPrices(src *oracle.Static, prices map[string]int64, now time.Time) {
	ts := uint64(now.Unix())
	for sym, p := range prices {
		src.SetMicro(sym, p, ts)
	}
}

// markRange 记录每个合约标记价的最高 / 最低值
type markRange struct {
	mu   sync.Mutex
	low  map[string]int64
	high map[string]int64
}

func (r *markRange) track(ch <-chan market.Snapshot) {
	for s := range ch {
		r.mu.Lock()
		if lo, ok := r.low[s.Symbol]; !ok || s.MarkPrice < lo {
			r.low[s.Symbol] = s.MarkPrice
		}
		if s.MarkPrice > r.high[s.Symbol] {
			r.high[s.Symbol] = s.MarkPrice
		}
		r.mu.Unlock()
	}
}

// =============================================================================
// 交易员
// =============================================================================

type trader struct {
	id  string
	ctx context.Context
}

func (t *trader) act(ctx context.Context, engine *perp.Engine, rng *rand.Rand, logger *zap.Logger) {
	symbols := engine.Symbols()
	symbol := symbols[rng.Intn(len(symbols))]

	pos, err := engine.Position(ctx, t.id, symbol)
	if err != nil {
		return
	}
	if pos != nil && rng.Intn(3) == 0 {
		limit := int64(0)
		if !pos.IsLong() {
			limit = math.MaxInt64
		}
		if err := engine.Close(t.ctx, t.id, symbol, pos.Size, limit); err != nil {
			logger.Debug("close rejected", zap.String("trader", t.id), zap.Error(err))
		}
		return
	}

	mark, err := engine.MarkPrice(ctx, symbol)
	if err != nil || mark <= 0 {
		return
	}
	// 目标名义价值 50-300 USDC, 保证金取 IMR 的 1.0-1.5 倍
	notional := (50 + rng.Int63n(250)) * unit
	size := notional * unit / mark
	if size == 0 {
		return
	}
	margin := notional * perp.IMRBp / perp.BasisPoints
	margin += margin * rng.Int63n(50) / 100
	margin += margin / 100 // 覆盖开仓后标记价上移带来的取整误差

	limit := int64(math.MaxInt64)
	if rng.Intn(2) == 0 {
		size = -size
		limit = 0
	}
	if err := engine.Open(t.ctx, t.id, symbol, size, margin, limit); err != nil {
		logger.Debug("open rejected", zap.String("trader", t.id), zap.String("symbol", symbol), zap.Error(err))
	}
}

// =============================================================================
// 主程序
// =============================================================================

func main() {
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting perpetual engine simulation")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 引擎
	// -------------------------------------------------------------------------
	clock := perp.NewManualClock(time.Now())
	walk := market.NewPriceWalk(startPrices, volatility, 42)
	walk.Drift = drift
	src := oracle.NewStatic()
	publishPrices(src, walk.Prices(), clock.Now())

	cust := custody.NewMemory()
	bus := newLocalBus()
	m := metrics.New("perp_sim")

	engine, err := perp.NewEngine(perp.Deps{
		Store:   store.NewMemoryStore(),
		Oracle:  src,
		Custody: cust,
		Auth:    auth.ContextAuthorizer{},
		Events:  bus,
		Clock:   clock,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		logger.Fatal("create engine", zap.Error(err))
	}
	if err := engine.Initialize(auth.WithPrincipal(ctx, admin), admin, token); err != nil {
		logger.Fatal("initialize", zap.Error(err))
	}

	// 2. 机器人
	// -------------------------------------------------------------------------
	funding := keeper.NewFundingKeeper(engine, 50*time.Millisecond, logger, m)
	liquidator, err := keeper.NewLiquidator(engine, keeper.LiquidatorConfig{
		Principal:    liqBot,
		ScanInterval: 100 * time.Millisecond,
		Workers:      2,
	}, logger, m)
	if err != nil {
		logger.Fatal("create liquidator", zap.Error(err))
	}
	bus.Subscribe(liquidator.HandleMessage)

	snapshots := market.NewBroadcaster()
	marks := &markRange{low: make(map[string]int64), high: make(map[string]int64)}
	trackDone := make(chan struct{})
	go func() {
		marks.track(snapshots.Subscribe(1024))
		close(trackDone)
	}()
	ticker := market.NewTicker(engine, 40*time.Millisecond, snapshots, logger)

	funding.Start(ctx)
	liquidator.Start(ctx)
	ticker.Start(ctx)

	// 3. 交易员入金
	// -------------------------------------------------------------------------
	rng := rand.New(rand.NewSource(7))
	traders := make([]*trader, 0, numTraders)
	for i := 0; i < numTraders; i++ {
		id := fmt.Sprintf("GTRADER%02d", i)
		cust.Mint(token, id, 10_000*unit)
		t := &trader{id: id, ctx: auth.WithPrincipal(ctx, id)}
		if err := engine.Deposit(t.ctx, id, 1_000*unit); err != nil {
			logger.Fatal("deposit", zap.String("trader", id), zap.Error(err))
		}
		traders = append(traders, t)
	}

	// 4. 主循环
	// -------------------------------------------------------------------------
	step := time.NewTicker(stepReal)
	defer step.Stop()

loop:
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			logger.Info("interrupted", zap.Int("step", i))
			break loop
		case <-step.C:
		}

		clock.Advance(stepSim)
		publishPrices(src, walk.Step(stepSim), clock.Now())
		liquidator.Trigger()

		for _, t := range traders {
			if rng.Intn(4) == 0 {
				t.act(ctx, engine, rng, logger)
			}
		}
	}

	ticker.Stop()
	snapshots.Close()
	<-trackDone
	funding.Stop()
	liquidator.Stop()

	printSummary(context.Background(), engine, cust, bus, liquidator, marks, traders)
}

func printSummary(ctx context.Context, engine *perp.Engine, cust *custody.Memory, bus *localBus,
	liquidator *keeper.Liquidator, marks *markRange, traders []*trader) {

	fmt.Println()
	fmt.Println("================ simulation summary ================")

	fmt.Println("markets:")
	for _, sym := range engine.Symbols() {
		st, err := engine.Market(ctx, sym)
		if err != nil {
			fmt.Printf("  %-4s unavailable: %v\n", sym, err)
			continue
		}
		fmt.Printf("  %-4s oracle=%-14d mark=%-14d netOI=%-16d funding=%s\n",
			sym, st.OraclePrice, st.MarkPrice, st.NetOI, st.Funding.Rate)
		fmt.Printf("       mark range [%d, %d]\n", marks.low[sym], marks.high[sym])
	}

	fmt.Println("events:")
	counts := bus.Counts()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-16s %d\n", t, counts[event.Type(t)])
	}

	s := liquidator.Stats()
	fmt.Printf("liquidator: checked=%d liquidated=%d skipped=%d failed=%d dropped=%d\n",
		s.Checked, s.Liquidated, s.Skipped, s.Failed, s.Dropped)

	fmt.Println("traders:")
	for _, t := range traders {
		bal, err := engine.Collateral(ctx, t.id)
		if err != nil {
			continue
		}
		free, _ := engine.FreeCollateral(ctx, t.id)
		fmt.Printf("  %s collateral=%-14d free=%d\n", t.id, bal, free)
	}
	bonus, _ := engine.Collateral(ctx, liqBot)
	fmt.Printf("liquidator bonus collateral: %d\n", bonus)
	fmt.Printf("vault balance: %d\n", cust.VaultBalance(token))
}
