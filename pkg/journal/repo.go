// 文件: pkg/journal/repo.go
// 事件流水仓库 (GORM 实现)
//
// 表 perp_events: 每条领域事件一行, 事件 ID 为主键。
// 批量写入使用 INSERT IGNORE 语义 (ON CONFLICT DO NOTHING)，
// Kafka 重复投递不会产生重复行。

package journal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flash.com/pkg/event"
)

// EventRecord perp_events 表
type EventRecord struct {
	ID           int64            `gorm:"column:id;primaryKey;autoIncrement:false"`
	Type         string           `gorm:"column:type;size:32;not null;index:idx_type"`
	Symbol       string           `gorm:"column:symbol;size:16;index:idx_trader_symbol,priority:2"`
	Trader       string           `gorm:"column:trader;size:128;index:idx_trader_symbol,priority:1"`
	Counterparty string           `gorm:"column:counterparty;size:128"`
	Size         int64            `gorm:"column:size"`
	Margin       int64            `gorm:"column:margin"`
	Price        int64            `gorm:"column:price"`
	PnL          int64            `gorm:"column:pnl"`
	Funding      int64            `gorm:"column:funding"`
	Amount       int64            `gorm:"column:amount"`
	Rate         *decimal.Decimal `gorm:"column:rate;type:decimal(65,0)"`
	Timestamp    int64            `gorm:"column:ts;not null"`
	CreatedAt    time.Time        `gorm:"column:created_at"`
}

func (EventRecord) TableName() string { return "perp_events" }

// FromEvent 领域事件 -> 表记录
func FromEvent(e *event.Event) *EventRecord {
	return &EventRecord{
		ID:           e.ID,
		Type:         string(e.Type),
		Symbol:       e.Symbol,
		Trader:       e.Trader,
		Counterparty: e.Counterparty,
		Size:         e.Size,
		Margin:       e.Margin,
		Price:        e.Price,
		PnL:          e.PnL,
		Funding:      e.Funding,
		Amount:       e.Amount,
		Rate:         e.Rate,
		Timestamp:    e.Timestamp,
	}
}

// ToEvent 表记录 -> 领域事件
func (r *EventRecord) ToEvent() *event.Event {
	return &event.Event{
		ID:           r.ID,
		Type:         event.Type(r.Type),
		Symbol:       r.Symbol,
		Trader:       r.Trader,
		Counterparty: r.Counterparty,
		Size:         r.Size,
		Margin:       r.Margin,
		Price:        r.Price,
		PnL:          r.PnL,
		Funding:      r.Funding,
		Amount:       r.Amount,
		Rate:         r.Rate,
		Timestamp:    r.Timestamp,
	}
}

// Repo 事件仓库
type Repo struct {
	db *gorm.DB
}

// NewRepo 创建仓库
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate 建表
func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&EventRecord{})
}

// BatchInsert 批量写入, 已存在的 ID 忽略
func (r *Repo) BatchInsert(ctx context.Context, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*EventRecord, 0, len(events))
	for _, e := range events {
		records = append(records, FromEvent(e))
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, 500).Error
}

// ListByTrader 按时间倒序查询交易员的事件
func (r *Repo) ListByTrader(ctx context.Context, trader string, limit int) ([]*event.Event, error) {
	var records []EventRecord
	err := r.db.WithContext(ctx).
		Where("trader = ?", trader).
		Order("ts DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]*event.Event, 0, len(records))
	for i := range records {
		out = append(out, records[i].ToEvent())
	}
	return out, nil
}

// Count 某类事件数量, t 为空时统计全部
func (r *Repo) Count(ctx context.Context, t event.Type) (int64, error) {
	q := r.db.WithContext(ctx).Model(&EventRecord{})
	if t != "" {
		q = q.Where("type = ?", string(t))
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
