// 文件: pkg/metrics/metrics.go
// Prometheus 指标
//
// 所有方法对 nil 接收者安全: 不需要指标的地方 (测试) 直接传 nil。

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 价格 / 数量均为 6 位小数, 导出为浮点时除以此值
const scale = 1e6

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	markPrice   *prometheus.GaugeVec
	oraclePrice *prometheus.GaugeVec
	netOI       *prometheus.GaugeVec
	fundingRate *prometheus.GaugeVec
	keeperRuns  *prometheus.CounterVec
}

// New 创建独立 registry 上的指标
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and result class",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		markPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mark_price",
			Help:      "Mark price per market",
		}, []string{"symbol"}),
		oraclePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oracle_price",
			Help:      "Oracle reference price per market",
		}, []string{"symbol"}),
		netOI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "net_open_interest",
			Help:      "Net open interest (longs minus shorts) per market",
		}, []string{"symbol"}),
		fundingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "funding_rate_index",
			Help:      "Cumulative funding index per market (raw 18-decimal units)",
		}, []string{"symbol"}),
		keeperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keeper_actions_total",
			Help:      "Keeper actions by keeper and result",
		}, []string{"keeper", "result"}),
	}

	reg.MustRegister(
		m.operations, m.latency,
		m.markPrice, m.oraclePrice, m.netOI, m.fundingRate,
		m.keeperRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOp 记录一次引擎操作
func (m *Metrics) ObserveOp(op string, start time.Time, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetMarket 更新合约状态指标
func (m *Metrics) SetMarket(symbol string, mark, oracle, netOI int64, fundingRate float64) {
	if m == nil {
		return
	}
	m.markPrice.WithLabelValues(symbol).Set(float64(mark) / scale)
	m.oraclePrice.WithLabelValues(symbol).Set(float64(oracle) / scale)
	m.netOI.WithLabelValues(symbol).Set(float64(netOI) / scale)
	m.fundingRate.WithLabelValues(symbol).Set(fundingRate)
}

// KeeperAction 记录一次机器人动作
func (m *Metrics) KeeperAction(keeper, result string) {
	if m == nil {
		return
	}
	m.keeperRuns.WithLabelValues(keeper, result).Inc()
}

// Registry 底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
