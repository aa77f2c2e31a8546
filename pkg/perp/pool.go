// 文件: pkg/perp/pool.go
// 池子 与 标记价格
//
// 【标记价格】
//
//	偏离(bp) = clamp(净持仓 * 10000 / skewScale, ±MaxDriftBp)
//	标记价格 = 预言机价格 * (10000 + 偏离) / 10000
//
// 两段截断: 先把净持仓截断到 ±ceil(skewScale*MaxDriftBp/10000) 再做除法,
// 然后对 bp 结果再截断一次。第一段只防止乘法溢出, 向上取整保证它不会比
// 第二段更紧。标记价格与预言机价格的偏离永远不超过 1%。
//
// 【池子更新】恒定乘积
//
//	k = base * quote
//	newBase = base - delta  (必须 > 0)
//	newQuote = k / newBase
//	fee = |newQuote - quote| * FeeBp / 10000, 计入 newQuote

package perp

import (
	"context"
	"fmt"

	"flash.com/pkg/fixed"
	"flash.com/pkg/store"
)

// oraclePrice 读取预言机价格并换算为 6 位小数
//
// 报价时间戳晚于当前时间视为新鲜。
func (e *Engine) oraclePrice(ctx context.Context, m Market, now int64) (int64, error) {
	pd, err := e.oracle.LastPrice(ctx, m.OracleAsset)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if pd == nil || pd.Price == nil {
		return 0, ErrOracleUnavailable
	}

	if now > 0 && pd.Timestamp < uint64(now) {
		age := uint64(now) - pd.Timestamp
		if age > uint64(OracleStaleness.Seconds()) {
			return 0, fmt.Errorf("%w: %s price is %ds old", ErrOracleStale, m.Symbol, age)
		}
	}

	price, err := fixed.Rescale(pd.Price, OracleRescale)
	if err != nil {
		return 0, arith(err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: %s price is zero", ErrOracleUnavailable, m.Symbol)
	}
	return price, nil
}

// markPrice 返回 (标记价格, 预言机价格)
func (e *Engine) markPrice(ctx context.Context, r store.Reader, m Market, now int64) (int64, int64, error) {
	ref, err := e.oraclePrice(ctx, m, now)
	if err != nil {
		return 0, 0, err
	}

	oi, err := loadInt(ctx, r, store.NetOIKey(m.Symbol))
	if err != nil {
		return 0, 0, err
	}
	skew, err := e.skewScale(ctx, r, m)
	if err != nil {
		return 0, 0, err
	}
	mark, err := skewAdjust(ref, oi, skew)
	if err != nil {
		return 0, 0, err
	}
	return mark, ref, nil
}

// skewAdjust 按净持仓调整参考价格
func skewAdjust(ref, netOI, skew int64) (int64, error) {
	if skew <= 0 {
		return ref, nil
	}
	var c calc
	bound := c.add(c.bps(skew, MaxDriftBp), 1)
	clamped := fixed.Clamp(netOI, -bound, bound)
	dev := fixed.Clamp(c.mulDiv(clamped, BasisPoints, skew), -MaxDriftBp, MaxDriftBp)
	mark := c.mulDiv(ref, BasisPoints+dev, BasisPoints)
	return mark, c.err
}

// skewScale 已存储的 skewScale, 未存储时取合约默认值
func (e *Engine) skewScale(ctx context.Context, r store.Reader, m Market) (int64, error) {
	v, ok, err := store.Load[int64](ctx, r, store.SkewScaleKey(m.Symbol))
	if err != nil {
		return 0, err
	}
	if !ok {
		return m.SkewScale, nil
	}
	return v, nil
}

// applyReserveDelta 按 delta 更新池子, 不写存储
func applyReserveDelta(r Reserve, delta int64) (Reserve, error) {
	var c calc
	newBase := c.sub(r.Base, delta)
	if c.err != nil {
		return r, c.err
	}
	if newBase <= 0 {
		return r, fmt.Errorf("%w: trade of %d would drain the pool", ErrInvalidAmount, delta)
	}

	newQuote, err := fixed.ConstantProductQuote(r.Base, r.Quote, newBase)
	if err != nil {
		return r, arith(err)
	}

	fee := c.bps(c.abs(c.sub(newQuote, r.Quote)), FeeBp)
	newQuote = c.add(newQuote, fee)
	if c.err != nil {
		return r, c.err
	}
	return Reserve{Base: newBase, Quote: newQuote}, nil
}

// updateReserve 读取池子, 应用 delta, 缓冲写入
func updateReserve(ctx context.Context, tx *opTx, symbol string, delta int64) error {
	r, _, err := store.Load[Reserve](ctx, tx, store.ReserveKey(symbol))
	if err != nil {
		return err
	}
	next, err := applyReserveDelta(r, delta)
	if err != nil {
		return err
	}
	return tx.PutJSON(store.ReserveKey(symbol), next)
}

// updateNetOI 净持仓 += delta
func updateNetOI(ctx context.Context, tx *opTx, symbol string, delta int64) error {
	oi, err := loadInt(ctx, tx, store.NetOIKey(symbol))
	if err != nil {
		return err
	}
	var c calc
	next := c.add(oi, delta)
	if c.err != nil {
		return c.err
	}
	return tx.PutJSON(store.NetOIKey(symbol), next)
}
