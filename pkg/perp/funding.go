// 文件: pkg/perp/funding.go
// 资金费率
//
// 【累计指数】
// Rate 只累加不重置。每个持仓保存上次结算时的指数快照，
// 平仓时只结算 "当前指数 - 快照" 部分，无需遍历全部持仓。
//
// 【两种推进方式】
// 1. 管理员更新 (一次性):
//      rate += (标记价 - 参考价) * Kappa / 参考价
// 2. poke (任何人可调, 每 30 分钟最多生效一次):
//      premiumBp = clamp((标记价 - 预言机价) * 10000 / 预言机价, ±MaxDriftBp)
//      Δrate = premiumBp * MaxFundingVelBp * elapsed / (MaxDriftBp * 86400)
//    未到周期的调用直接返回 nil, 不报错。

package perp

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"flash.com/pkg/event"
	"flash.com/pkg/fixed"
	"flash.com/pkg/store"
)

// UpdateFunding 管理员按参考价格推进资金费率
func (e *Engine) UpdateFunding(ctx context.Context, symbol string, referencePrice int64) error {
	return e.adminExec(ctx, "update_funding", func(tx *opTx, admin string) error {
		if err := requireActive(ctx, tx); err != nil {
			return err
		}
		m, err := e.market(symbol)
		if err != nil {
			return err
		}
		if referencePrice <= 0 {
			return fmt.Errorf("%w: reference price %d", ErrInvalidAmount, referencePrice)
		}

		mark, _, err := e.markPrice(ctx, tx, m, tx.now)
		if err != nil {
			return err
		}

		var c calc
		delta := c.wide(decimal.NewFromInt(c.sub(mark, referencePrice)), Kappa, referencePrice)

		funding, _, err := store.Load[FundingState](ctx, tx, store.FundingKey(symbol))
		if err != nil {
			return err
		}
		if c.err != nil {
			return c.err
		}
		funding.Rate = funding.Rate.Add(delta)
		funding.LastUpdate = tx.now
		if err := tx.PutJSON(store.FundingKey(symbol), funding); err != nil {
			return err
		}

		tx.emit(&event.Event{
			Type:         event.TypeFundingUpdate,
			Symbol:       symbol,
			Counterparty: admin,
			Price:        mark,
			Amount:       referencePrice,
			Rate:         &delta,
		})
		return nil
	})
}

// PokeFunding 任何人可调用的资金费率推进
//
// 距上次更新不足 FundingPeriod 时是无操作 (返回 nil, 不发事件)。
func (e *Engine) PokeFunding(ctx context.Context, symbol string) error {
	return e.exec(ctx, "poke_funding", "", func(tx *opTx) error {
		if err := requireActive(ctx, tx); err != nil {
			return err
		}
		m, err := e.market(symbol)
		if err != nil {
			return err
		}

		funding, _, err := store.Load[FundingState](ctx, tx, store.FundingKey(symbol))
		if err != nil {
			return err
		}
		elapsed := tx.now - funding.LastUpdate
		if elapsed < int64(FundingPeriod.Seconds()) {
			return nil
		}

		mark, ref, err := e.markPrice(ctx, tx, m, tx.now)
		if err != nil {
			return err
		}

		var c calc
		premiumBp := c.mulDiv(c.sub(mark, ref), BasisPoints, ref)
		capped := fixed.Clamp(premiumBp, -MaxDriftBp, MaxDriftBp)
		delta := c.wide(decimal.NewFromInt(c.mulDiv(capped, MaxFundingVelBp, 1)), elapsed, MaxDriftBp*SecondsPerDay)
		if c.err != nil {
			return c.err
		}
		funding.Rate = funding.Rate.Add(delta)
		funding.LastUpdate = tx.now
		if err := tx.PutJSON(store.FundingKey(symbol), funding); err != nil {
			return err
		}

		tx.emit(&event.Event{
			Type:   event.TypeFundingPoke,
			Symbol: symbol,
			Price:  mark,
			Amount: ref,
			Rate:   &delta,
		})
		return nil
	})
}
