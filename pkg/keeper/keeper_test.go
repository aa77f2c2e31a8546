package keeper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flash.com/pkg/auth"
	"flash.com/pkg/custody"
	"flash.com/pkg/event"
	"flash.com/pkg/metrics"
	"flash.com/pkg/oracle"
	"flash.com/pkg/perp"
	"flash.com/pkg/store"
)

const (
	admin     = "GADMIN"
	trader    = "GTRADER"
	liqBot    = "GLIQBOT"
	token     = "USDC"
	xlmPrice  = int64(100_000)
	ethPrice  = int64(4_000_000_000)
	btcPrice  = int64(100_000_000_000)
	unitValue = int64(1_000_000)
)

type harness struct {
	engine *perp.Engine
	oracle *oracle.Static
	clock  *perp.ManualClock
	events *event.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		oracle: oracle.NewStatic(),
		clock:  perp.NewManualClock(time.Unix(1_700_000_000, 0)),
		events: &event.Recorder{},
	}
	h.refresh(xlmPrice)

	cust := custody.NewMemory()
	cust.Mint(token, trader, 1_000*unitValue)

	engine, err := perp.NewEngine(perp.Deps{
		Store:   store.NewMemoryStore(),
		Oracle:  h.oracle,
		Custody: cust,
		Auth:    auth.ContextAuthorizer{},
		Events:  h.events,
		Clock:   h.clock,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	h.engine = engine

	require.NoError(t, engine.Initialize(auth.WithPrincipal(context.Background(), admin), admin, token))
	return h
}

func (h *harness) refresh(xlm int64) {
	ts := uint64(h.clock.Now().Unix())
	h.oracle.SetMicro("XLM", xlm, ts)
	h.oracle.SetMicro("BTC", btcPrice, ts)
	h.oracle.SetMicro("ETH", ethPrice, ts)
}

// openAtIMR 以恰好 20% 保证金开 100 XLM 多单
func (h *harness) openAtIMR(t *testing.T) {
	t.Helper()
	ctx := auth.WithPrincipal(context.Background(), trader)
	require.NoError(t, h.engine.Deposit(ctx, trader, 10*unitValue))
	require.NoError(t, h.engine.Open(ctx, trader, "XLM", 100_000_000, 2_000_000, xlmPrice))
}

// =============================================================================
// FundingKeeper
// =============================================================================

func TestFundingKeeper_Tick(t *testing.T) {
	h := newHarness(t)
	h.openAtIMR(t)
	m := metrics.New("keeper_test")
	k := NewFundingKeeper(h.engine, time.Minute, zap.NewNop(), m)

	// 未到周期: 无操作但不算失败
	assert.Zero(t, k.Tick(context.Background()))
	assert.Empty(t, h.events.OfType(event.TypeFundingPoke))

	h.clock.Advance(perp.FundingPeriod)
	h.refresh(xlmPrice)
	assert.Zero(t, k.Tick(context.Background()))

	pokes := h.events.OfType(event.TypeFundingPoke)
	require.Len(t, pokes, 3)
	fs, err := h.engine.Funding(context.Background(), "XLM")
	require.NoError(t, err)
	assert.True(t, fs.Rate.IsPositive(), fs.Rate.String())
}

func TestFundingKeeper_CountsFailures(t *testing.T) {
	h := newHarness(t)
	k := NewFundingKeeper(h.engine, 0, nil, nil)
	assert.Equal(t, DefaultFundingInterval, k.interval)

	// 报价过期, 全部失败
	h.clock.Advance(perp.FundingPeriod)
	assert.Equal(t, 3, k.Tick(context.Background()))
}

func TestFundingKeeper_StartStop(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(perp.FundingPeriod)
	h.refresh(xlmPrice)

	k := NewFundingKeeper(h.engine, time.Hour, zap.NewNop(), nil)
	k.Start(context.Background())
	k.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(h.events.OfType(event.TypeFundingPoke)) == 3
	}, time.Second, 10*time.Millisecond)

	k.Stop()
	k.Stop()
}

// =============================================================================
// Liquidator
// =============================================================================

func newLiquidator(t *testing.T, h *harness) *Liquidator {
	t.Helper()
	l, err := NewLiquidator(h.engine, LiquidatorConfig{Principal: liqBot, QueueSize: 4}, zap.NewNop(), nil)
	require.NoError(t, err)
	return l
}

func TestNewLiquidator_RequiresPrincipal(t *testing.T) {
	_, err := NewLiquidator(nil, LiquidatorConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestLiquidator_Check(t *testing.T) {
	h := newHarness(t)
	h.openAtIMR(t)
	l := newLiquidator(t, h)
	ctx := context.Background()
	c := Candidate{Trader: trader, Symbol: "XLM"}

	done, err := l.Check(ctx, c)
	require.NoError(t, err)
	assert.False(t, done)

	h.refresh(210_000)
	done, err = l.Check(ctx, c)
	require.NoError(t, err)
	assert.True(t, done)

	bonus, err := h.engine.Collateral(ctx, liqBot)
	require.NoError(t, err)
	assert.Positive(t, bonus)

	ev := h.events.Last()
	require.NotNil(t, ev)
	assert.Equal(t, event.TypeLiquidate, ev.Type)
	assert.Equal(t, liqBot, ev.Counterparty)

	// 已被清算
	done, err = l.Check(ctx, c)
	require.NoError(t, err)
	assert.False(t, done)

	stats := l.Stats()
	assert.Equal(t, int64(3), stats.Checked)
	assert.Equal(t, int64(1), stats.Liquidated)
	assert.Equal(t, int64(2), stats.Skipped)
}

func TestLiquidator_CheckOracleDown(t *testing.T) {
	h := newHarness(t)
	h.openAtIMR(t)
	l := newLiquidator(t, h)

	h.oracle.Remove("XLM")
	_, err := l.Check(context.Background(), Candidate{Trader: trader, Symbol: "XLM"})
	assert.ErrorIs(t, err, perp.ErrOracleUnavailable)
	assert.Equal(t, int64(1), l.Stats().Failed)
}

func TestLiquidator_ScanAndEnqueue(t *testing.T) {
	h := newHarness(t)
	h.openAtIMR(t)
	l := newLiquidator(t, h)
	ctx := context.Background()

	assert.Zero(t, l.Scan(ctx))

	h.refresh(210_000)
	assert.Equal(t, 1, l.Scan(ctx))
	// 已在队列中
	assert.Zero(t, l.Scan(ctx))
	assert.Len(t, l.queue, 1)

	// 队列满时丢弃
	for i := 0; i < 3; i++ {
		assert.True(t, l.Enqueue(Candidate{Trader: "T" + string(rune('A'+i)), Symbol: "XLM"}))
	}
	assert.False(t, l.Enqueue(Candidate{Trader: "TZ", Symbol: "XLM"}))
	assert.Equal(t, int64(1), l.Stats().Dropped)
}

func TestLiquidator_HandleMessage(t *testing.T) {
	h := newHarness(t)
	l := newLiquidator(t, h)

	encode := func(e event.Event) []byte {
		data, err := json.Marshal(e)
		require.NoError(t, err)
		return data
	}

	require.NoError(t, l.HandleMessage(event.Subject(event.TypeOpen),
		encode(event.Event{ID: 1, Type: event.TypeOpen, Trader: trader, Symbol: "XLM"})))
	require.NoError(t, l.HandleMessage(event.Subject(event.TypeDeposit),
		encode(event.Event{ID: 2, Type: event.TypeDeposit, Trader: trader})))
	require.NoError(t, l.HandleMessage("oracle.price.XLM", []byte(`{"asset":"XLM"}`)))
	assert.Error(t, l.HandleMessage(event.Subject(event.TypeClose), []byte("not json")))

	require.Len(t, l.queue, 1)
	assert.Equal(t, Candidate{Trader: trader, Symbol: "XLM"}, <-l.queue)
}

func TestLiquidator_StartLiquidatesOnTrigger(t *testing.T) {
	h := newHarness(t)
	h.openAtIMR(t)
	l, err := NewLiquidator(h.engine, LiquidatorConfig{Principal: liqBot, ScanInterval: time.Hour, Workers: 2}, zap.NewNop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)
	defer l.Stop()

	h.refresh(210_000)
	l.Trigger()

	require.Eventually(t, func() bool {
		return l.Stats().Liquidated == 1
	}, 2*time.Second, 10*time.Millisecond)

	pos, err := h.engine.Position(ctx, trader, "XLM")
	require.NoError(t, err)
	assert.Nil(t, pos)
}
