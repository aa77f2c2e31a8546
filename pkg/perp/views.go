// 文件: pkg/perp/views.go
// 只读视图
//
// 视图不需要身份校验，同样在引擎锁内执行，读到的一定是已提交状态。

package perp

import (
	"context"

	"flash.com/pkg/store"
)

func (e *Engine) view(fn func(now int64) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.clock.Now().Unix())
}

// Admin 管理员身份
func (e *Engine) Admin(ctx context.Context) (admin string, err error) {
	err = e.view(func(int64) error {
		admin, err = requireInitialized(ctx, e.store)
		return err
	})
	return admin, err
}

// Paused 是否暂停
func (e *Engine) Paused(ctx context.Context) (paused bool, err error) {
	err = e.view(func(int64) error {
		paused, _, err = store.Load[bool](ctx, e.store, store.PausedKey())
		return err
	})
	return paused, err
}

// CollateralToken 抵押品代币地址
func (e *Engine) CollateralToken(ctx context.Context) (token string, err error) {
	err = e.view(func(int64) error {
		if _, err := requireInitialized(ctx, e.store); err != nil {
			return err
		}
		token, _, err = store.Load[string](ctx, e.store, store.CollateralTokenKey())
		return err
	})
	return token, err
}

// Position 查询持仓, 不存在返回 nil
func (e *Engine) Position(ctx context.Context, trader, symbol string) (*Position, error) {
	var out *Position
	err := e.view(func(int64) error {
		pos, ok, err := store.Load[Position](ctx, e.store, store.PositionKey(symbol, trader))
		if err != nil || !ok {
			return err
		}
		out = &pos
		return nil
	})
	return out, err
}

// Positions 全部持仓
func (e *Engine) Positions(ctx context.Context) ([]PositionView, error) {
	var out []PositionView
	err := e.view(func(int64) error {
		entries, err := e.store.Scan(ctx, store.TagPosition)
		if err != nil {
			return err
		}
		out = make([]PositionView, 0, len(entries))
		for _, ent := range entries {
			pos, err := store.Decode[Position](ent)
			if err != nil {
				return err
			}
			out = append(out, PositionView{Trader: ent.Key.Trader, Symbol: ent.Key.Symbol, Position: pos})
		}
		return nil
	})
	return out, err
}

// Collateral 抵押品余额
func (e *Engine) Collateral(ctx context.Context, trader string) (bal int64, err error) {
	err = e.view(func(int64) error {
		bal, err = loadInt(ctx, e.store, store.CollateralKey(trader))
		return err
	})
	return bal, err
}

// FreeCollateral 可用保证金
func (e *Engine) FreeCollateral(ctx context.Context, trader string) (free int64, err error) {
	err = e.view(func(int64) error {
		free, err = e.freeCollateral(ctx, e.store, trader)
		return err
	})
	return free, err
}

// MarkPrice 标记价格
func (e *Engine) MarkPrice(ctx context.Context, symbol string) (mark int64, err error) {
	err = e.view(func(now int64) error {
		m, err := e.market(symbol)
		if err != nil {
			return err
		}
		mark, _, err = e.markPrice(ctx, e.store, m, now)
		return err
	})
	return mark, err
}

// OraclePrice 预言机价格 (6 位小数)
func (e *Engine) OraclePrice(ctx context.Context, symbol string) (price int64, err error) {
	err = e.view(func(now int64) error {
		m, err := e.market(symbol)
		if err != nil {
			return err
		}
		price, err = e.oraclePrice(ctx, m, now)
		return err
	})
	return price, err
}

// Reserve 池子
func (e *Engine) Reserve(ctx context.Context, symbol string) (r Reserve, err error) {
	err = e.view(func(int64) error {
		if _, err := e.market(symbol); err != nil {
			return err
		}
		r, _, err = store.Load[Reserve](ctx, e.store, store.ReserveKey(symbol))
		return err
	})
	return r, err
}

// Funding 资金费率状态, 从未更新过返回零值
func (e *Engine) Funding(ctx context.Context, symbol string) (f FundingState, err error) {
	err = e.view(func(int64) error {
		if _, err := e.market(symbol); err != nil {
			return err
		}
		f, _, err = store.Load[FundingState](ctx, e.store, store.FundingKey(symbol))
		return err
	})
	return f, err
}

// NetOpenInterest 净持仓
func (e *Engine) NetOpenInterest(ctx context.Context, symbol string) (oi int64, err error) {
	err = e.view(func(int64) error {
		if _, err := e.market(symbol); err != nil {
			return err
		}
		oi, err = loadInt(ctx, e.store, store.NetOIKey(symbol))
		return err
	})
	return oi, err
}

// SkewScale 当前 skewScale
func (e *Engine) SkewScale(ctx context.Context, symbol string) (scale int64, err error) {
	err = e.view(func(int64) error {
		m, err := e.market(symbol)
		if err != nil {
			return err
		}
		scale, err = e.skewScale(ctx, e.store, m)
		return err
	})
	return scale, err
}

// MarginRatio 按当前标记价格计算的保证金率 (bp)
func (e *Engine) MarginRatio(ctx context.Context, trader, symbol string) (ratio int64, err error) {
	err = e.view(func(now int64) error {
		m, err := e.market(symbol)
		if err != nil {
			return err
		}
		pos, ok, err := store.Load[Position](ctx, e.store, store.PositionKey(symbol, trader))
		if err != nil {
			return err
		}
		if !ok {
			return ErrPositionNotFound
		}
		mark, _, err := e.markPrice(ctx, e.store, m, now)
		if err != nil {
			return err
		}
		ratio, err = marginRatio(pos, mark)
		return err
	})
	return ratio, err
}

// Market 合约状态快照
func (e *Engine) Market(ctx context.Context, symbol string) (*MarketState, error) {
	var out *MarketState
	err := e.view(func(now int64) error {
		m, err := e.market(symbol)
		if err != nil {
			return err
		}
		st := &MarketState{Symbol: symbol}
		if st.MarkPrice, st.OraclePrice, err = e.markPrice(ctx, e.store, m, now); err != nil {
			return err
		}
		if st.Reserve, _, err = store.Load[Reserve](ctx, e.store, store.ReserveKey(symbol)); err != nil {
			return err
		}
		if st.Funding, _, err = store.Load[FundingState](ctx, e.store, store.FundingKey(symbol)); err != nil {
			return err
		}
		if st.NetOI, err = loadInt(ctx, e.store, store.NetOIKey(symbol)); err != nil {
			return err
		}
		if st.SkewScale, err = e.skewScale(ctx, e.store, m); err != nil {
			return err
		}
		out = st
		e.metrics.SetMarket(symbol, st.MarkPrice, st.OraclePrice, st.NetOI, st.Funding.Rate.InexactFloat64())
		return nil
	})
	return out, err
}
