// 文件: pkg/event/event.go
// 领域事件
//
// 每个成功提交的操作发布一条事件。事件在状态提交之后发布，
// 发布失败不回滚状态。

package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// Type 事件类型
type Type string

const (
	TypeInitialize    Type = "initialize"
	TypeDeposit       Type = "deposit"
	TypeWithdraw      Type = "withdraw"
	TypeOpen          Type = "open"
	TypeClose         Type = "close"
	TypeLiquidate     Type = "liquidate"
	TypeFundingUpdate Type = "funding_update"
	TypeFundingPoke   Type = "funding_poke"
	TypePause         Type = "pause"
	TypeUnpause       Type = "unpause"
	TypeSkewScale     Type = "skew_scale"
)

// SubjectPrefix NATS 主题前缀: perp.open / perp.close ...
const SubjectPrefix = "perp."

// Event 领域事件
//
// 未用到的字段为 0 / 空串。金额类字段 6 位小数。
// Rate 是资金费率指数增量 (18 位小数), 没有上界, 只有资金费事件携带。
type Event struct {
	ID           int64            `json:"id,string"`
	Type         Type             `json:"type"`
	Symbol       string           `json:"symbol,omitempty"`
	Trader       string           `json:"trader,omitempty"`
	Counterparty string           `json:"counterparty,omitempty"` // 清算人 / 管理员
	Size         int64            `json:"size,omitempty"`
	Margin       int64            `json:"margin,omitempty"`
	Price        int64            `json:"price,omitempty"`
	PnL          int64            `json:"pnl,omitempty"`
	Funding      int64            `json:"funding,omitempty"`
	Amount       int64            `json:"amount,omitempty"`
	Rate         *decimal.Decimal `json:"rate,omitempty"`
	Timestamp    int64            `json:"timestamp"`
}

// Subject NATS 主题
func (e *Event) Subject() string {
	return SubjectPrefix + string(e.Type)
}

// PartitionKey 同一交易员的事件落在同一分区
func (e *Event) PartitionKey() string {
	if e.Trader != "" {
		return e.Trader
	}
	return e.Symbol
}

// Subject 某类事件的 NATS 主题
func Subject(t Type) string {
	return SubjectPrefix + string(t)
}

// Decode 反序列化
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// Publisher
// =============================================================================

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }

// Multi 同时发布到多个下游, 任一失败都会汇总返回
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e *Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder 内存记录 (测试用)
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *Recorder) Publish(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

// Events 全部已记录事件
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// OfType 某类事件
func (r *Recorder) OfType(t Type) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Last 最后一条事件, 没有返回 nil
func (r *Recorder) Last() *Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// Reset 清空
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
