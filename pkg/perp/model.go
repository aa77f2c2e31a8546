// 文件: pkg/perp/model.go
// 持久化数据结构

package perp

import (
	"github.com/shopspring/decimal"

	"flash.com/pkg/fixed"
)

// Reserve 恒定乘积池子 (虚拟储备)
//
// 【不变量】Base > 0; Base*Quote 只因手续费增加
type Reserve struct {
	Base  int64 `json:"base"`
	Quote int64 `json:"quote"`
}

// FundingState 累计资金费率
//
// Rate 是累计指数, 永不重置也没有上界; 持仓只结算 "当前指数 - 快照" 的差值
type FundingState struct {
	Rate       decimal.Decimal `json:"rate"`        // 18 位小数, 整数形式
	LastUpdate int64           `json:"last_update"` // Unix 秒
}

// Position 持仓
//
// 【不变量】Size != 0; Size 归零时记录删除
type Position struct {
	Size         int64           `json:"size"`          // 正=多, 负=空
	Notional     int64           `json:"notional"`      // 开仓成本
	Margin       int64           `json:"margin"`        // 占用保证金
	FundingIndex decimal.Decimal `json:"funding_index"` // 上次结算时的资金费率指数
}

// IsLong 是否多头
func (p *Position) IsLong() bool {
	return p.Size > 0
}

// PositionView 带 Key 的持仓 (扫描结果)
type PositionView struct {
	Trader string
	Symbol string
	Position
}

// MarketState 合约当前状态快照
type MarketState struct {
	Symbol      string
	MarkPrice   int64
	OraclePrice int64
	Reserve     Reserve
	Funding     FundingState
	NetOI       int64
	SkewScale   int64
}

// =============================================================================
// calc 带粘滞错误的算术
// =============================================================================

// calc 连续计算, 第一次出错后后续操作全部短路, 最后统一检查 err
type calc struct {
	err error
}

func (c *calc) add(a, b int64) int64 {
	return c.do(func() (int64, error) { return fixed.Add(a, b) })
}

func (c *calc) sub(a, b int64) int64 {
	return c.do(func() (int64, error) { return fixed.Sub(a, b) })
}

func (c *calc) neg(a int64) int64 {
	return c.do(func() (int64, error) { return fixed.Neg(a) })
}

func (c *calc) abs(a int64) int64 {
	return c.do(func() (int64, error) { return fixed.Abs(a) })
}

func (c *calc) mulDiv(a, b, d int64) int64 {
	return c.do(func() (int64, error) { return fixed.MulDiv(a, b, d) })
}

// wide a * b / d, 不收窄
func (c *calc) wide(a decimal.Decimal, b, d int64) decimal.Decimal {
	if c.err != nil {
		return decimal.Decimal{}
	}
	v, err := fixed.MulDivWide(a, b, d)
	if err != nil {
		c.err = arith(err)
	}
	return v
}

// narrow 宽整数收窄到 int64
func (c *calc) narrow(v decimal.Decimal) int64 {
	return c.do(func() (int64, error) { return fixed.Narrow(v) })
}

func (c *calc) do(f func() (int64, error)) int64 {
	if c.err != nil {
		return 0
	}
	v, err := f()
	if err != nil {
		c.err = arith(err)
		return 0
	}
	return v
}

// notional |size| * price / PricePrecision
func (c *calc) notional(size, price int64) int64 {
	return c.mulDiv(c.abs(size), price, PricePrecision)
}

// bps v * bp / 10000
func (c *calc) bps(v, bp int64) int64 {
	return c.mulDiv(v, bp, BasisPoints)
}
