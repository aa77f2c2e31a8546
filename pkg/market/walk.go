package market

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// PriceWalk 几何布朗运动 (GBM) 价格生成器, 价格为 6 位小数整数
//
// 模拟器用它驱动预言机报价。时间步长由调用方给出, 与墙钟无关。
type PriceWalk struct {
	Volatility float64 // 年化波动率, 0.5 即 50%
	Drift      float64 // 年化漂移

	rng    *rand.Rand
	prices map[string]float64
}

// NewPriceWalk 创建生成器, seed 固定时结果可复现
func NewPriceWalk(start map[string]int64, volatility float64, seed int64) *PriceWalk {
	w := &PriceWalk{
		Volatility: volatility,
		rng:        rand.New(rand.NewSource(seed)),
		prices:     make(map[string]float64, len(start)),
	}
	for k, v := range start {
		w.prices[k] = float64(v)
	}
	return w
}

// Step 推进 dt, 返回新价格
//
// S(t+dt) = S(t) * exp((mu - sigma^2/2)dt + sigma*sqrt(dt)*Z)
func (w *PriceWalk) Step(dt time.Duration) map[string]int64 {
	years := dt.Hours() / 24 / 365
	if years <= 0 {
		years = 1e-9
	}
	sigma := w.Volatility

	// 按资产名顺序取随机数, 保证同一 seed 的结果稳定
	assets := make([]string, 0, len(w.prices))
	for a := range w.prices {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	for _, a := range assets {
		z := w.rng.NormFloat64()
		w.prices[a] *= math.Exp((w.Drift-0.5*sigma*sigma)*years + sigma*math.Sqrt(years)*z)
	}
	return w.Prices()
}

// Prices 当前价格, 最小为 1
func (w *PriceWalk) Prices() map[string]int64 {
	out := make(map[string]int64, len(w.prices))
	for a, p := range w.prices {
		v := int64(p)
		if v < 1 {
			v = 1
		}
		out[a] = v
	}
	return out
}
