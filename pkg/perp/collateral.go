// 文件: pkg/perp/collateral.go
// 抵押品账户
//
// 可用保证金 = 抵押品余额 - Σ 各合约持仓占用的保证金
//
// 入金: 先从用户转入金库，再记账; 记账提交失败则把钱退回。
// 出金: 先扣账并提交，再从金库转出; 转出失败则把账加回来。

package perp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"flash.com/pkg/event"
	"flash.com/pkg/store"
)

func checkAmount(amount int64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return nil
}

// Deposit 存入抵押品
func (e *Engine) Deposit(ctx context.Context, trader string, amount int64) error {
	return e.exec(ctx, "deposit", trader, func(tx *opTx) error {
		if err := checkAmount(amount); err != nil {
			return err
		}
		if err := requireActive(ctx, tx); err != nil {
			return err
		}
		token, _, err := store.Load[string](ctx, tx, store.CollateralTokenKey())
		if err != nil {
			return err
		}

		bal, err := loadInt(ctx, tx, store.CollateralKey(trader))
		if err != nil {
			return err
		}
		var c calc
		next := c.add(bal, amount)
		if c.err != nil {
			return c.err
		}
		if err := tx.PutJSON(store.CollateralKey(trader), next); err != nil {
			return err
		}

		// 最后一步才动外部资金
		if err := e.custody.TransferFrom(ctx, token, trader, amount); err != nil {
			return fmt.Errorf("transfer collateral in: %w", err)
		}
		tx.onAbort = append(tx.onAbort, func() {
			if rerr := e.custody.Transfer(ctx, token, trader, amount); rerr != nil {
				e.logger.Error("refund after failed deposit commit",
					zap.String("trader", trader),
					zap.Int64("amount", amount),
					zap.Error(rerr))
			}
		})

		tx.emit(&event.Event{Type: event.TypeDeposit, Trader: trader, Amount: amount})
		return nil
	})
}

// Withdraw 取出抵押品, 不得超过可用保证金
func (e *Engine) Withdraw(ctx context.Context, trader string, amount int64) error {
	return e.exec(ctx, "withdraw", trader, func(tx *opTx) error {
		if err := checkAmount(amount); err != nil {
			return err
		}
		if err := requireActive(ctx, tx); err != nil {
			return err
		}
		token, _, err := store.Load[string](ctx, tx, store.CollateralTokenKey())
		if err != nil {
			return err
		}

		free, err := e.freeCollateral(ctx, tx, trader)
		if err != nil {
			return err
		}
		if amount > free {
			return fmt.Errorf("%w: withdraw %d, free %d", ErrInsufficientCollateral, amount, free)
		}

		bal, err := loadInt(ctx, tx, store.CollateralKey(trader))
		if err != nil {
			return err
		}
		var c calc
		next := c.sub(bal, amount)
		if c.err != nil {
			return c.err
		}
		if err := tx.PutJSON(store.CollateralKey(trader), next); err != nil {
			return err
		}

		tx.afterCommit = func() error {
			terr := e.custody.Transfer(ctx, token, trader, amount)
			if terr == nil {
				return nil
			}
			if cerr := e.recredit(ctx, trader, amount); cerr != nil {
				e.logger.Error("re-credit after failed withdrawal",
					zap.String("trader", trader),
					zap.Int64("amount", amount),
					zap.Error(cerr))
			}
			return fmt.Errorf("transfer collateral out: %w", terr)
		}

		tx.emit(&event.Event{Type: event.TypeWithdraw, Trader: trader, Amount: amount})
		return nil
	})
}

// recredit 出金转账失败后把余额加回 (调用方持有锁)
func (e *Engine) recredit(ctx context.Context, trader string, amount int64) error {
	tx := store.Begin(e.store)
	bal, err := loadInt(ctx, tx, store.CollateralKey(trader))
	if err != nil {
		return err
	}
	var c calc
	next := c.add(bal, amount)
	if c.err != nil {
		return c.err
	}
	if err := tx.PutJSON(store.CollateralKey(trader), next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// freeCollateral 抵押品余额 - Σ 持仓保证金
func (e *Engine) freeCollateral(ctx context.Context, r store.Reader, trader string) (int64, error) {
	bal, err := loadInt(ctx, r, store.CollateralKey(trader))
	if err != nil {
		return 0, err
	}

	var c calc
	used := int64(0)
	for _, sym := range e.symbols {
		pos, ok, err := store.Load[Position](ctx, r, store.PositionKey(sym, trader))
		if err != nil {
			return 0, err
		}
		if ok {
			used = c.add(used, pos.Margin)
		}
	}
	free := c.sub(bal, used)
	return free, c.err
}
