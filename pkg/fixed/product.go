// 文件: pkg/fixed/product.go
// 恒定乘积 与 无符号大数换算 (uint256)

package fixed

import (
	"math"

	"github.com/holiman/uint256"
)

// ConstantProductQuote 恒定乘积下的新报价储备
//
//	k = base * quote
//	newQuote = k / newBase
//
// 三个输入都必须为正。k 用 256 位计算，结果需落回 int64。
func ConstantProductQuote(base, quote, newBase int64) (int64, error) {
	if base <= 0 || quote <= 0 || newBase <= 0 {
		return 0, ErrOutOfRange
	}
	k, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(uint64(base)), uint256.NewInt(uint64(quote)))
	if overflow {
		return 0, ErrOverflow
	}
	q := new(uint256.Int).Div(k, uint256.NewInt(uint64(newBase)))
	return ToInt64(q)
}

// Rescale 无符号大数按 10^n 缩小精度 (向下取整)
//
// 例: 预言机 14 位小数价格 -> 6 位小数, divisor = 1e8
func Rescale(v *uint256.Int, divisor uint64) (int64, error) {
	if v == nil {
		return 0, ErrOutOfRange
	}
	if divisor == 0 {
		return 0, ErrDivByZero
	}
	q := new(uint256.Int).Div(v, uint256.NewInt(divisor))
	return ToInt64(q)
}

// ToInt64 uint256 -> int64
func ToInt64(v *uint256.Int) (int64, error) {
	if !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(v.Uint64()), nil
}
