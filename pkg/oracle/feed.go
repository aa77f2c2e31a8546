// 文件: pkg/oracle/feed.go
// 推送式价格缓存
//
// 【职责】
// 1. 接收外部推送的最新报价 (NATS: oracle.price.{ASSET})
// 2. 提供 Source 接口给引擎查询
// 3. 价格更新回调 (用于触发强平检查)
//
// 只保留每个资产时间戳最新的一条报价，乱序到达的旧报价被丢弃。

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// SubjectPrefix NATS 主题前缀
const SubjectPrefix = "oracle.price."

// PriceMessage 推送消息体
//
//	{"asset":"XLM","price":"10000000000000","timestamp":1700000000}
type PriceMessage struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"` // 14 位小数整数, 十进制字符串
	Timestamp uint64 `json:"timestamp"`
}

// Feed 推送价格缓存
type Feed struct {
	mu       sync.RWMutex
	prices   map[string]PriceData
	onUpdate func(asset string, p PriceData) // 受 mu 保护

	logger *zap.Logger
}

var _ Source = (*Feed)(nil)

// NewFeed 创建价格缓存
func NewFeed(logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		prices: make(map[string]PriceData),
		logger: logger.Named("oracle"),
	}
}

// OnUpdate 设置价格更新回调, 订阅开始后也可以安全调用
func (f *Feed) OnUpdate(callback func(asset string, p PriceData)) {
	f.mu.Lock()
	f.onUpdate = callback
	f.mu.Unlock()
}

// Update 写入一条报价, 返回是否被采用
func (f *Feed) Update(asset string, p PriceData) bool {
	if p.Price == nil {
		return false
	}

	f.mu.Lock()
	if cur, ok := f.prices[asset]; ok && cur.Timestamp > p.Timestamp {
		f.mu.Unlock()
		return false
	}
	stored := PriceData{Price: new(uint256.Int).Set(p.Price), Timestamp: p.Timestamp}
	f.prices[asset] = stored
	callback := f.onUpdate
	f.mu.Unlock()

	// 回调在锁外执行, 回调里可以再读价格
	if callback != nil {
		callback(asset, stored)
	}
	return true
}

func (f *Feed) LastPrice(_ context.Context, asset string) (*PriceData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.prices[asset]
	if !ok {
		return nil, nil
	}
	return &PriceData{Price: new(uint256.Int).Set(p.Price), Timestamp: p.Timestamp}, nil
}

// HandleMessage NATS 消息处理 (签名与 nats.MessageHandler 一致)
func (f *Feed) HandleMessage(subject string, data []byte) error {
	var msg PriceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode price message: %w", err)
	}
	if msg.Asset == "" {
		msg.Asset = strings.TrimPrefix(subject, SubjectPrefix)
	}

	price, err := uint256.FromDecimal(msg.Price)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", msg.Price, err)
	}

	if !f.Update(msg.Asset, PriceData{Price: price, Timestamp: msg.Timestamp}) {
		f.logger.Debug("stale price dropped",
			zap.String("asset", msg.Asset),
			zap.Uint64("timestamp", msg.Timestamp))
	}
	return nil
}

// Subject 某资产的推送主题
func Subject(asset string) string {
	return SubjectPrefix + asset
}
