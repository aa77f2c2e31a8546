// 文件: pkg/perp/position.go
// 开仓 / 平仓
//
// 【开仓】
// 1. 标记价格 + 滑点检查 (多: 标记价 <= limit; 空: 标记价 >= limit)
// 2. 名义价值 = |size| * 标记价 / 1e6
// 3. 保证金 >= 名义价值 * 20%, 且 <= 可用保证金
// 4. 池子 +size, 净持仓 +size
// 5. 合并到已有持仓, 资金费率快照重置为当前指数
//
// 【平仓】
// 只能减仓，不能一次穿过 0 反向开仓。
// 减多 = 卖出: 标记价 >= limit; 减空 = 买入: 标记价 <= limit
//
//	盈亏 = 平仓名义价值 - 按比例开仓成本 (空头取反)
//	资金费 = 持仓 size * (当前指数 - 快照) / 1e18
//	释放保证金 = 保证金 * |size| / |持仓 size|
//	抵押品 += 释放保证金 + 盈亏 - 资金费

package perp

import (
	"context"
	"fmt"

	"flash.com/pkg/event"
	"flash.com/pkg/store"
)

// Open 开仓 / 加仓
func (e *Engine) Open(ctx context.Context, trader, symbol string, size, margin, limitPrice int64) error {
	return e.exec(ctx, "open", trader, func(tx *opTx) error {
		if size == 0 || margin <= 0 {
			return fmt.Errorf("%w: size %d, margin %d", ErrInvalidAmount, size, margin)
		}
		if err := requireActive(ctx, tx); err != nil {
			return err
		}
		m, err := e.market(symbol)
		if err != nil {
			return err
		}

		mark, _, err := e.markPrice(ctx, tx, m, tx.now)
		if err != nil {
			return err
		}
		if size > 0 && mark > limitPrice {
			return fmt.Errorf("%w: buy at %d above limit %d", ErrSlippageExceeded, mark, limitPrice)
		}
		if size < 0 && mark < limitPrice {
			return fmt.Errorf("%w: sell at %d below limit %d", ErrSlippageExceeded, mark, limitPrice)
		}

		var c calc
		notional := c.notional(size, mark)
		required := c.bps(notional, IMRBp)
		if c.err != nil {
			return c.err
		}
		if margin < required {
			return fmt.Errorf("%w: margin %d below initial requirement %d", ErrInsufficientCollateral, margin, required)
		}

		free, err := e.freeCollateral(ctx, tx, trader)
		if err != nil {
			return err
		}
		if margin > free {
			return fmt.Errorf("%w: margin %d exceeds free collateral %d", ErrInsufficientCollateral, margin, free)
		}

		if err := updateReserve(ctx, tx, symbol, size); err != nil {
			return err
		}
		if err := updateNetOI(ctx, tx, symbol, size); err != nil {
			return err
		}

		funding, _, err := store.Load[FundingState](ctx, tx, store.FundingKey(symbol))
		if err != nil {
			return err
		}
		pos, _, err := store.Load[Position](ctx, tx, store.PositionKey(symbol, trader))
		if err != nil {
			return err
		}
		pos.Size = c.add(pos.Size, size)
		pos.Notional = c.add(pos.Notional, notional)
		pos.Margin = c.add(pos.Margin, margin)
		pos.FundingIndex = funding.Rate
		if c.err != nil {
			return c.err
		}

		key := store.PositionKey(symbol, trader)
		if pos.Size == 0 {
			// 反向开仓恰好抵消
			tx.Delete(key)
		} else if err := tx.PutJSON(key, pos); err != nil {
			return err
		}

		tx.emit(&event.Event{
			Type:   event.TypeOpen,
			Symbol: symbol,
			Trader: trader,
			Size:   size,
			Margin: margin,
			Price:  mark,
		})
		return nil
	})
}

// Close 平仓 / 减仓
//
// size 与持仓同号: 平多传正数, 平空传负数
func (e *Engine) Close(ctx context.Context, trader, symbol string, size, limitPrice int64) error {
	return e.exec(ctx, "close", trader, func(tx *opTx) error {
		if size == 0 {
			return fmt.Errorf("%w: size is zero", ErrInvalidAmount)
		}
		if err := requireActive(ctx, tx); err != nil {
			return err
		}
		m, err := e.market(symbol)
		if err != nil {
			return err
		}

		key := store.PositionKey(symbol, trader)
		pos, ok, err := store.Load[Position](ctx, tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s", ErrPositionNotFound, trader, symbol)
		}

		var c calc
		absSize, absPos := c.abs(size), c.abs(pos.Size)
		if c.err != nil {
			return c.err
		}
		if absSize > absPos {
			return fmt.Errorf("%w: close %d exceeds position %d", ErrInvalidAmount, size, pos.Size)
		}
		if (size > 0) != (pos.Size > 0) {
			return fmt.Errorf("%w: close %d against position %d would flip direction", ErrInvalidAmount, size, pos.Size)
		}

		mark, _, err := e.markPrice(ctx, tx, m, tx.now)
		if err != nil {
			return err
		}
		if pos.IsLong() && mark < limitPrice {
			return fmt.Errorf("%w: sell at %d below limit %d", ErrSlippageExceeded, mark, limitPrice)
		}
		if !pos.IsLong() && mark > limitPrice {
			return fmt.Errorf("%w: buy at %d above limit %d", ErrSlippageExceeded, mark, limitPrice)
		}

		closingNotional := c.notional(size, mark)
		entryNotional := c.mulDiv(pos.Notional, absSize, absPos)
		pnl := c.sub(closingNotional, entryNotional)
		if !pos.IsLong() {
			pnl = c.neg(pnl)
		}
		if c.err != nil {
			return c.err
		}

		if err := updateReserve(ctx, tx, symbol, -size); err != nil {
			return err
		}
		if err := updateNetOI(ctx, tx, symbol, -size); err != nil {
			return err
		}

		funding, _, err := store.Load[FundingState](ctx, tx, store.FundingKey(symbol))
		if err != nil {
			return err
		}
		fundingPayment := c.narrow(c.wide(funding.Rate.Sub(pos.FundingIndex), pos.Size, FundingPrecision))
		released := c.mulDiv(pos.Margin, absSize, absPos)

		pos.Size = c.sub(pos.Size, size)
		pos.Notional = c.sub(pos.Notional, entryNotional)
		pos.Margin = c.sub(pos.Margin, released)

		bal, err := loadInt(ctx, tx, store.CollateralKey(trader))
		if err != nil {
			return err
		}
		bal = c.sub(c.add(c.add(bal, released), pnl), fundingPayment)
		if c.err != nil {
			return c.err
		}

		if pos.Size == 0 {
			tx.Delete(key)
		} else {
			pos.FundingIndex = funding.Rate
			if err := tx.PutJSON(key, pos); err != nil {
				return err
			}
		}
		if err := tx.PutJSON(store.CollateralKey(trader), bal); err != nil {
			return err
		}

		tx.emit(&event.Event{
			Type:    event.TypeClose,
			Symbol:  symbol,
			Trader:  trader,
			Size:    size,
			Margin:  released,
			Price:   mark,
			PnL:     pnl,
			Funding: fundingPayment,
		})
		return nil
	})
}
