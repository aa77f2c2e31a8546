// 文件: pkg/fixed/fixed.go
// 定点数运算 (带溢出检查)
//
// 【精度约定】
// - 价格 / 数量 / 金额: 6 位小数 (1_000_000 = 1.0)
// - 资金费率指数: 18 位小数
// - 比例: 万分比 (basis points)
//
// 【规则】
// 所有乘除先在任意精度下完成，最后收窄回 int64。
// 结果超出 int64 返回 ErrOverflow，绝不静默回绕。
// 除法向零截断。

package fixed

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrOverflow   = errors.New("fixed: arithmetic overflow")
	ErrDivByZero  = errors.New("fixed: division by zero")
	ErrOutOfRange = errors.New("fixed: value out of range")
)

// =============================================================================
// 基础运算
// =============================================================================

// Add a + b
func Add(a, b int64) (int64, error) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, ErrOverflow
	}
	return c, nil
}

// Sub a - b
func Sub(a, b int64) (int64, error) {
	c := a - b
	if (b > 0 && c > a) || (b < 0 && c < a) {
		return 0, ErrOverflow
	}
	return c, nil
}

// Neg -a
func Neg(a int64) (int64, error) {
	if a == math.MinInt64 {
		return 0, ErrOverflow
	}
	return -a, nil
}

// Abs |a|
func Abs(a int64) (int64, error) {
	if a < 0 {
		return Neg(a)
	}
	return a, nil
}

// Mul a * b
func Mul(a, b int64) (int64, error) {
	return narrow(decimal.NewFromInt(a).Mul(decimal.NewFromInt(b)))
}

// Div a / b, 向零截断
func Div(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrDivByZero
	}
	if a == math.MinInt64 && b == -1 {
		return 0, ErrOverflow
	}
	return a / b, nil
}

// MulDiv a * b / c
//
// 中间乘积不受 int64 限制，只有最终商需要落在 int64 内。
// 这是所有价格、名义价值、比例计算的核心。
func MulDiv(a, b, c int64) (int64, error) {
	if c == 0 {
		return 0, ErrDivByZero
	}
	product := decimal.NewFromInt(a).Mul(decimal.NewFromInt(b))
	q, _ := product.QuoRem(decimal.NewFromInt(c), 0)
	return narrow(q)
}

// MulDivWide a * b / c, 结果保留任意精度整数, 不收窄
//
// 资金费率指数是无上界的累加器, 只有最终结算金额才需要收窄。
func MulDivWide(a decimal.Decimal, b, c int64) (decimal.Decimal, error) {
	if c == 0 {
		return decimal.Decimal{}, ErrDivByZero
	}
	q, _ := a.Mul(decimal.NewFromInt(b)).QuoRem(decimal.NewFromInt(c), 0)
	return q, nil
}

// Narrow 整数 decimal 收窄到 int64, 小数部分向零截断
func Narrow(d decimal.Decimal) (int64, error) {
	return narrow(d)
}

// Clamp 限制在 [lo, hi]
func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// narrow 把整数 decimal 收窄到 int64
func narrow(d decimal.Decimal) (int64, error) {
	if !d.IsInteger() {
		d = d.Truncate(0)
	}
	n := d.BigInt()
	if !n.IsInt64() {
		return 0, ErrOverflow
	}
	return n.Int64(), nil
}
