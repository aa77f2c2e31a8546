package perp

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flash.com/pkg/event"
)

func TestPokeFunding_BeforePeriodIsNoop(t *testing.T) {
	f := newFixture(t)

	f.clock.Advance(FundingPeriod - time.Second)
	f.setPrices()
	require.NoError(t, f.engine.PokeFunding(f.ctx, "XLM"))

	fs, err := f.engine.Funding(f.ctx, "XLM")
	require.NoError(t, err)
	assert.True(t, fs.Rate.IsZero())
	assert.Equal(t, genesis.Unix(), fs.LastUpdate)
	assert.Empty(t, f.events.Events())
}

func TestPokeFunding_LongSkew(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 10*unit)
	require.NoError(t, f.engine.Open(f.ctx, alice, "XLM", 10_000_000, 200_000, xlmPrice))

	f.clock.Advance(FundingPeriod)
	f.setPrices()
	require.NoError(t, f.engine.PokeFunding(f.ctx, "XLM"))

	// 溢价 10bp, 10 * 1000 * 1800 / (100 * 86400) = 2.08
	fs, err := f.engine.Funding(f.ctx, "XLM")
	require.NoError(t, err)
	assert.Equal(t, "2", fs.Rate.String())
	assert.Equal(t, genesis.Add(FundingPeriod).Unix(), fs.LastUpdate)

	poke := f.events.Last()
	require.NotNil(t, poke)
	assert.Equal(t, event.TypeFundingPoke, poke.Type)
	assert.Equal(t, int64(100_100), poke.Price)
	assert.Equal(t, xlmPrice, poke.Amount)
	require.NotNil(t, poke.Rate)
	assert.Equal(t, "2", poke.Rate.String())

	// 同一周期内再次调用不变
	require.NoError(t, f.engine.PokeFunding(f.ctx, "XLM"))
	again, err := f.engine.Funding(f.ctx, "XLM")
	require.NoError(t, err)
	assert.Equal(t, fs, again)
}

func TestPokeFunding_ShortSkewAndCap(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, bob, 500_000*unit)

	// 10 BTC 空头, 偏离被截断在 -1%
	require.NoError(t, f.engine.Open(f.ctx, bob, "BTC", -10_000_000, 250_000*unit, btcPrice))
	assert.Equal(t, btcPrice*99/100, f.mark(t, "BTC"))

	f.clock.Advance(2 * FundingPeriod)
	f.setPrices()
	require.NoError(t, f.engine.PokeFunding(f.ctx, "BTC"))

	// -100 * 1000 * 3600 / (100 * 86400) = -41.67
	fs, err := f.engine.Funding(f.ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "-41", fs.Rate.String())
}

func TestPokeFunding_Errors(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(FundingPeriod)

	assert.ErrorIs(t, f.engine.PokeFunding(f.ctx, "DOGE"), ErrInvalidSymbol)
	// 报价已过期
	assert.ErrorIs(t, f.engine.PokeFunding(f.ctx, "XLM"), ErrOracleStale)

	fs, err := f.engine.Funding(f.ctx, "XLM")
	require.NoError(t, err)
	assert.Equal(t, genesis.Unix(), fs.LastUpdate)
}

func TestUpdateFunding(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 10*unit)
	require.NoError(t, f.engine.Open(f.ctx, alice, "XLM", 10_000_000, 200_000, xlmPrice))

	// (100_100 - 100_000) * 1e11 / 100_000
	require.NoError(t, f.engine.UpdateFunding(f.ctx, "XLM", xlmPrice))
	fs, err := f.engine.Funding(f.ctx, "XLM")
	require.NoError(t, err)
	assert.Equal(t, "100000000", fs.Rate.String())
	assert.Equal(t, genesis.Unix(), fs.LastUpdate)

	ev := f.events.Last()
	require.NotNil(t, ev)
	assert.Equal(t, event.TypeFundingUpdate, ev.Type)
	assert.Equal(t, testAdmin, ev.Counterparty)
	require.NotNil(t, ev.Rate)
	assert.Equal(t, "100000000", ev.Rate.String())

	// 参考价高于标记价时指数回落
	require.NoError(t, f.engine.UpdateFunding(f.ctx, "XLM", 100_200))
	fs, err = f.engine.Funding(f.ctx, "XLM")
	require.NoError(t, err)
	assert.Equal(t, "199601", fs.Rate.String())

	assert.ErrorIs(t, f.engine.UpdateFunding(f.ctx, "XLM", 0), ErrInvalidAmount)
	assert.ErrorIs(t, f.engine.UpdateFunding(f.ctx, "XLM", -1), ErrInvalidAmount)
	assert.ErrorIs(t, f.engine.UpdateFunding(f.ctx, "DOGE", xlmPrice), ErrInvalidSymbol)
}

// 正资金费率时多头平仓支付资金费
func TestClose_SettlesFunding(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 10*unit)
	require.NoError(t, f.engine.Open(f.ctx, alice, "XLM", 10_000_000, 200_000, xlmPrice))

	// 参考价 1 使指数大幅上升: (100_100 - 1) * 1e11
	require.NoError(t, f.engine.UpdateFunding(f.ctx, "XLM", 1))
	fs, err := f.engine.Funding(f.ctx, "XLM")
	require.NoError(t, err)
	require.Equal(t, "10009900000000000", fs.Rate.String())

	require.NoError(t, f.engine.Close(f.ctx, alice, "XLM", 10_000_000, 0))

	closed := f.events.Last()
	require.NotNil(t, closed)
	// 1e7 * 1.00099e16 / 1e18
	assert.Equal(t, int64(100_099), closed.Funding)
	assert.Equal(t, int64(1_000), closed.PnL)

	bal, err := f.engine.Collateral(f.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 10*unit+200_000+1_000-100_099, bal)
}

// 加仓时资金费率快照重置为当前指数
func TestOpen_ResetsFundingSnapshot(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 10*unit)
	require.NoError(t, f.engine.Open(f.ctx, alice, "XLM", 10_000_000, 200_000, xlmPrice))
	require.NoError(t, f.engine.UpdateFunding(f.ctx, "XLM", xlmPrice))

	require.NoError(t, f.engine.Open(f.ctx, alice, "XLM", 1_000_000, 100_000, 200_000))
	pos := f.position(t, alice, "XLM")
	require.NotNil(t, pos)
	assert.Equal(t, "100000000", pos.FundingIndex.String())
	assert.Equal(t, int64(11_000_000), pos.Size)
}

// 资金费率指数超出 int64 后仍可继续推进与结算
func TestFunding_IndexBeyondInt64(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 1_000*unit)
	require.NoError(t, f.engine.Open(f.ctx, alice, "BTC", 1_000, 50*unit, 2*btcPrice))

	// (mark - 1) * 1e11 约 1e22, 一次更新即超过 int64
	require.NoError(t, f.engine.UpdateFunding(f.ctx, "BTC", 1))
	fs, err := f.engine.Funding(f.ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, fs.Rate.GreaterThan(decimal.NewFromInt(math.MaxInt64)), fs.Rate.String())

	// 继续累加, 管理员更新与 poke 都不再溢出
	for i := 0; i < 5; i++ {
		require.NoError(t, f.engine.UpdateFunding(f.ctx, "BTC", 1))
	}
	f.clock.Advance(FundingPeriod)
	f.setPrices()
	require.NoError(t, f.engine.PokeFunding(f.ctx, "BTC"))

	fs, err = f.engine.Funding(f.ctx, "BTC")
	require.NoError(t, err)
	require.NoError(t, f.engine.Close(f.ctx, alice, "BTC", 1_000, 0))

	closed := f.events.Last()
	require.NotNil(t, closed)
	require.Equal(t, event.TypeClose, closed.Type)

	// 结算金额 = size * (指数 - 0) / 1e18, 只有这一步收窄
	want, _ := fs.Rate.Mul(decimal.NewFromInt(1_000)).QuoRem(decimal.NewFromInt(FundingPrecision), 0)
	assert.Equal(t, want.IntPart(), closed.Funding)
	assert.Positive(t, closed.Funding)
}
