// 文件: pkg/perp/liquidation.go
// 强平
//
//	保证金率 = 保证金 * 10000 / 当前名义价值  (名义价值为 0 时视为 10000)
//	保证金率 < MMRBp 才可强平
//	清算奖励 = 当前名义价值 * BonusBp / 10000, 记入清算人抵押品
//
// 持仓整体平掉并删除，原持仓人的保证金不退还。

package perp

import (
	"context"
	"fmt"

	"flash.com/pkg/event"
	"flash.com/pkg/store"
)

// marginRatio 保证金率 (bp)
func marginRatio(pos Position, mark int64) (int64, error) {
	var c calc
	notional := c.notional(pos.Size, mark)
	if c.err != nil {
		return 0, c.err
	}
	if notional == 0 {
		return BasisPoints, nil
	}
	ratio := c.mulDiv(pos.Margin, BasisPoints, notional)
	return ratio, c.err
}

// Liquidate 强平 trader 在 symbol 上的持仓
func (e *Engine) Liquidate(ctx context.Context, liquidator, trader, symbol string) error {
	return e.exec(ctx, "liquidate", liquidator, func(tx *opTx) error {
		if liquidator == trader {
			return ErrSelfLiquidation
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

		mark, _, err := e.markPrice(ctx, tx, m, tx.now)
		if err != nil {
			return err
		}
		ratio, err := marginRatio(pos, mark)
		if err != nil {
			return err
		}
		if ratio >= MMRBp {
			return fmt.Errorf("%w: margin ratio %dbp", ErrBelowMaintenanceMargin, ratio)
		}

		var c calc
		notional := c.notional(pos.Size, mark)
		bonus := c.bps(notional, BonusBp)
		if c.err != nil {
			return c.err
		}

		if err := updateReserve(ctx, tx, symbol, -pos.Size); err != nil {
			return err
		}
		if err := updateNetOI(ctx, tx, symbol, -pos.Size); err != nil {
			return err
		}
		tx.Delete(key)

		bal, err := loadInt(ctx, tx, store.CollateralKey(liquidator))
		if err != nil {
			return err
		}
		bal = c.add(bal, bonus)
		if c.err != nil {
			return c.err
		}
		if err := tx.PutJSON(store.CollateralKey(liquidator), bal); err != nil {
			return err
		}

		tx.emit(&event.Event{
			Type:         event.TypeLiquidate,
			Symbol:       symbol,
			Trader:       trader,
			Counterparty: liquidator,
			Size:         pos.Size,
			Margin:       pos.Margin,
			Price:        mark,
			Amount:       bonus,
		})
		return nil
	})
}
