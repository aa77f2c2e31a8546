// 文件: pkg/oracle/oracle.go
// 价格预言机接口
//
// 【价格格式】
// Price: 14 位小数的无符号整数 (uint256)
// Timestamp: 报价时间 (Unix 秒)
//
// LastPrice 返回 (nil, nil) 表示该资产暂无报价。

package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

// Decimals 预言机价格精度
const Decimals = 14

var ErrSourceDown = errors.New("oracle: source unavailable")

// PriceData 一条报价
type PriceData struct {
	Price     *uint256.Int
	Timestamp uint64
}

// Source 价格来源
type Source interface {
	LastPrice(ctx context.Context, asset string) (*PriceData, error)
}

// =============================================================================
// Static - 手动设置价格 (测试 / 模拟)
// =============================================================================

// Static 静态价格源
type Static struct {
	mu     sync.RWMutex
	prices map[string]PriceData
	err    error
}

var _ Source = (*Static)(nil)

// NewStatic 创建静态价格源
func NewStatic() *Static {
	return &Static{prices: make(map[string]PriceData)}
}

// Set 设置 14 位小数价格
func (s *Static) Set(asset string, price *uint256.Int, ts uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = PriceData{Price: new(uint256.Int).Set(price), Timestamp: ts}
}

// SetMicro 按 6 位小数价格设置 (内部乘 1e8)
func (s *Static) SetMicro(asset string, price int64, ts uint64) {
	p := new(uint256.Int).Mul(uint256.NewInt(uint64(price)), uint256.NewInt(100_000_000))
	s.Set(asset, p, ts)
}

// Remove 删除报价
func (s *Static) Remove(asset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, asset)
}

// Fail 之后的查询都返回 err, 传 nil 恢复
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) LastPrice(_ context.Context, asset string) (*PriceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.prices[asset]
	if !ok {
		return nil, nil
	}
	return &PriceData{Price: new(uint256.Int).Set(p.Price), Timestamp: p.Timestamp}, nil
}
