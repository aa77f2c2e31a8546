// 文件: pkg/perp/params.go
// 合约参数

package perp

import "time"

// =============================================================================
// 精度
// =============================================================================

const (
	PricePrecision   int64 = 1_000_000                 // 价格 / 数量 / 金额: 6 位小数
	FundingPrecision int64 = 1_000_000_000_000_000_000 // 资金费率指数: 18 位小数
	BasisPoints      int64 = 10_000                    // 万分比
)

// OracleRescale 预言机 14 位小数 -> 6 位小数
const OracleRescale uint64 = 100_000_000

// =============================================================================
// 风控参数
// =============================================================================

const (
	IMRBp      int64 = 2000 // 初始保证金率 20%
	MMRBp      int64 = 1000 // 维持保证金率 10%
	BonusBp    int64 = 200  // 清算奖励 2%
	MaxDriftBp int64 = 100  // 标记价格最大偏离 1%
	FeeBp      int64 = 5    // 池子手续费 0.05%

	// Kappa 管理员资金费更新的灵敏度
	Kappa int64 = 100_000_000_000

	MaxFundingVelBp int64 = 1000 // 资金费率最大速度: 每天 10%
	SecondsPerDay   int64 = 86_400

	// FundingPeriod 两次 poke 之间的最短间隔
	FundingPeriod = 1800 * time.Second

	// OracleStaleness 预言机报价最长有效期
	OracleStaleness = 900 * time.Second
)

// =============================================================================
// 初始池子
// =============================================================================

const (
	InitialBaseReserve  int64 = 1_000_000_000     // 1000 单位
	InitialQuoteReserve int64 = 1_000_000_000_000 // 100 万
)

// Market 一个可交易合约
type Market struct {
	Symbol      string
	OracleAsset string // 预言机资产 ID
	SkewScale   int64  // 产生 1bp 偏离所需的净持仓
}

// DefaultMarkets XLM / BTC / ETH
func DefaultMarkets() []Market {
	return []Market{
		{Symbol: "XLM", OracleAsset: "XLM", SkewScale: 10_000_000_000}, // 1000 万 XLM
		{Symbol: "BTC", OracleAsset: "BTC", SkewScale: 1_000_000},      // 1 BTC
		{Symbol: "ETH", OracleAsset: "ETH", SkewScale: 100_000_000},    // 100 ETH
	}
}
