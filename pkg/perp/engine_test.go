// 文件: pkg/perp/engine_test.go
// 引擎测试辅助 + 初始化 / 管理员 / 身份校验

package perp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flash.com/pkg/auth"
	"flash.com/pkg/custody"
	"flash.com/pkg/event"
	"flash.com/pkg/oracle"
	"flash.com/pkg/store"
)

// =============================================================================
// 测试辅助
// =============================================================================

const (
	testAdmin = "GADMIN"
	alice     = "GALICE"
	bob       = "GBOB"
	keeper    = "GKEEPER"
	testToken = "USDC"

	xlmPrice int64 = 100_000         // $0.10
	btcPrice int64 = 100_000_000_000 // $100,000
	ethPrice int64 = 4_000_000_000   // $4,000

	unit int64 = 1_000_000
)

var genesis = time.Unix(1_700_000_000, 0)

type fixture struct {
	ctx     context.Context
	engine  *Engine
	store   *store.MemoryStore
	oracle  *oracle.Static
	custody *custody.Memory
	clock   *ManualClock
	events  *event.Recorder
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, auth.AllowAll{}, true)
}

func newFixtureWith(t *testing.T, authorizer auth.Authorizer, initialize bool) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		store:   store.NewMemoryStore(),
		oracle:  oracle.NewStatic(),
		custody: custody.NewMemory(),
		clock:   NewManualClock(genesis),
		events:  &event.Recorder{},
	}
	f.setPrices()
	for _, who := range []string{alice, bob, keeper} {
		f.custody.Mint(testToken, who, 1_000_000*unit)
	}

	engine, err := NewEngine(Deps{
		Store:   f.store,
		Oracle:  f.oracle,
		Custody: f.custody,
		Auth:    authorizer,
		Events:  f.events,
		Clock:   f.clock,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	f.engine = engine

	if initialize {
		ctx := auth.WithPrincipal(f.ctx, testAdmin)
		require.NoError(t, engine.Initialize(ctx, testAdmin, testToken))
		f.events.Reset()
	}
	return f
}

// setPrices 以当前时钟时间刷新三个合约的报价
func (f *fixture) setPrices() {
	ts := uint64(f.clock.Now().Unix())
	f.oracle.SetMicro("XLM", xlmPrice, ts)
	f.oracle.SetMicro("BTC", btcPrice, ts)
	f.oracle.SetMicro("ETH", ethPrice, ts)
}

func (f *fixture) setPrice(symbol string, price int64) {
	f.oracle.SetMicro(symbol, price, uint64(f.clock.Now().Unix()))
}

func (f *fixture) deposit(t *testing.T, trader string, amount int64) {
	t.Helper()
	require.NoError(t, f.engine.Deposit(f.ctx, trader, amount))
}

func (f *fixture) mark(t *testing.T, symbol string) int64 {
	t.Helper()
	m, err := f.engine.MarkPrice(f.ctx, symbol)
	require.NoError(t, err)
	return m
}

func (f *fixture) position(t *testing.T, trader, symbol string) *Position {
	t.Helper()
	p, err := f.engine.Position(f.ctx, trader, symbol)
	require.NoError(t, err)
	return p
}

// =============================================================================
// 初始化
// =============================================================================

func TestInitialize(t *testing.T) {
	f := newFixture(t)

	admin, err := f.engine.Admin(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, testAdmin, admin)

	token, err := f.engine.CollateralToken(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, testToken, token)

	paused, err := f.engine.Paused(f.ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	for _, m := range DefaultMarkets() {
		r, err := f.engine.Reserve(f.ctx, m.Symbol)
		require.NoError(t, err)
		assert.Equal(t, Reserve{Base: InitialBaseReserve, Quote: InitialQuoteReserve}, r)

		fs, err := f.engine.Funding(f.ctx, m.Symbol)
		require.NoError(t, err)
		assert.True(t, fs.Rate.IsZero())
		assert.Equal(t, genesis.Unix(), fs.LastUpdate)

		scale, err := f.engine.SkewScale(f.ctx, m.Symbol)
		require.NoError(t, err)
		assert.Equal(t, m.SkewScale, scale)

		oi, err := f.engine.NetOpenInterest(f.ctx, m.Symbol)
		require.NoError(t, err)
		assert.Zero(t, oi)
	}

	err = f.engine.Initialize(f.ctx, "GOTHER", testToken)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, ClassPrecondition, ClassOf(err))
}

func TestNotInitialized(t *testing.T) {
	f := newFixtureWith(t, auth.AllowAll{}, false)

	assert.ErrorIs(t, f.engine.Deposit(f.ctx, alice, unit), ErrNotInitialized)
	assert.ErrorIs(t, f.engine.Open(f.ctx, alice, "XLM", unit, unit, xlmPrice), ErrNotInitialized)
	assert.ErrorIs(t, f.engine.PokeFunding(f.ctx, "XLM"), ErrNotInitialized)
	assert.ErrorIs(t, f.engine.Pause(f.ctx), ErrNotInitialized)

	_, err := f.engine.Admin(f.ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Deps{})
	assert.Error(t, err)

	_, err = NewEngine(Deps{
		Store:   store.NewMemoryStore(),
		Oracle:  oracle.NewStatic(),
		Custody: custody.NewMemory(),
		Markets: []Market{{Symbol: "XLM", SkewScale: 0}},
	})
	assert.Error(t, err)

	_, err = NewEngine(Deps{
		Store:   store.NewMemoryStore(),
		Oracle:  oracle.NewStatic(),
		Custody: custody.NewMemory(),
		Markets: []Market{{Symbol: "XLM", SkewScale: 1}, {Symbol: "XLM", SkewScale: 2}},
	})
	assert.Error(t, err)

	e, err := NewEngine(Deps{
		Store:   store.NewMemoryStore(),
		Oracle:  oracle.NewStatic(),
		Custody: custody.NewMemory(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"XLM", "BTC", "ETH"}, e.Symbols())
}

// =============================================================================
// 管理员
// =============================================================================

func TestPauseUnpause(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 100*unit)

	require.NoError(t, f.engine.Pause(f.ctx))
	paused, _ := f.engine.Paused(f.ctx)
	assert.True(t, paused)

	err := f.engine.Deposit(f.ctx, alice, unit)
	assert.ErrorIs(t, err, ErrPaused)
	assert.Equal(t, ClassState, ClassOf(err))
	assert.ErrorIs(t, f.engine.Withdraw(f.ctx, alice, unit), ErrPaused)
	assert.ErrorIs(t, f.engine.Open(f.ctx, alice, "XLM", unit, unit, xlmPrice), ErrPaused)
	assert.ErrorIs(t, f.engine.Close(f.ctx, alice, "XLM", unit, 0), ErrPaused)
	assert.ErrorIs(t, f.engine.Liquidate(f.ctx, bob, alice, "XLM"), ErrPaused)
	assert.ErrorIs(t, f.engine.PokeFunding(f.ctx, "XLM"), ErrPaused)
	assert.ErrorIs(t, f.engine.UpdateFunding(f.ctx, "XLM", xlmPrice), ErrPaused)

	// 视图不受暂停影响
	_, err = f.engine.MarkPrice(f.ctx, "XLM")
	assert.NoError(t, err)

	require.NoError(t, f.engine.Unpause(f.ctx))
	assert.NoError(t, f.engine.Deposit(f.ctx, alice, unit))

	types := []event.Type{}
	for _, e := range f.events.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []event.Type{event.TypeDeposit, event.TypePause, event.TypeUnpause, event.TypeDeposit}, types)
}

func TestSetSkewScale(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.SetSkewScale(f.ctx, "XLM", 1_000_000_000))
	scale, err := f.engine.SkewScale(f.ctx, "XLM")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), scale)

	assert.ErrorIs(t, f.engine.SetSkewScale(f.ctx, "XLM", 0), ErrInvalidAmount)
	assert.ErrorIs(t, f.engine.SetSkewScale(f.ctx, "DOGE", 1), ErrInvalidSymbol)
}

// =============================================================================
// 身份校验
// =============================================================================

func TestAuthorization(t *testing.T) {
	f := newFixtureWith(t, auth.ContextAuthorizer{}, true)
	asAlice := auth.WithPrincipal(f.ctx, alice)
	asAdmin := auth.WithPrincipal(f.ctx, testAdmin)

	// 无身份
	err := f.engine.Deposit(f.ctx, alice, unit)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, ClassAuthorization, ClassOf(err))

	// 代他人操作
	assert.ErrorIs(t, f.engine.Deposit(asAlice, bob, unit), ErrUnauthorized)
	assert.ErrorIs(t, f.engine.Liquidate(asAlice, bob, testAdmin, "XLM"), ErrUnauthorized)

	// 非管理员
	assert.ErrorIs(t, f.engine.Pause(asAlice), ErrUnauthorized)
	assert.ErrorIs(t, f.engine.UpdateFunding(asAlice, "XLM", xlmPrice), ErrUnauthorized)
	assert.ErrorIs(t, f.engine.SetSkewScale(asAlice, "XLM", 1), ErrUnauthorized)

	require.NoError(t, f.engine.Deposit(asAlice, alice, unit))
	require.NoError(t, f.engine.Pause(asAdmin))
	require.NoError(t, f.engine.Unpause(asAdmin))

	// poke 无需身份
	assert.NoError(t, f.engine.PokeFunding(f.ctx, "XLM"))

	// 失败的校验没有任何写入
	bal, err := f.engine.Collateral(f.ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.store.FailApply = errors.New("disk full")

	err := f.engine.Deposit(f.ctx, alice, unit)
	require.Error(t, err)
	assert.Empty(t, f.events.Events())

	f.store.FailApply = nil
	f.deposit(t, alice, unit)
	ev := f.events.Last()
	require.NotNil(t, ev)
	assert.Equal(t, event.TypeDeposit, ev.Type)
	assert.NotZero(t, ev.ID)
	assert.Equal(t, genesis.Unix(), ev.Timestamp)
}
