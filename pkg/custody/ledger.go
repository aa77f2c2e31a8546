// 文件: pkg/custody/ledger.go
// 托管账本 (GORM 实现)
//
// 表:
// - custody_balances: 每个 (owner, token) 一行余额
// - custody_journals: 每笔转账一条流水
//
// 一笔转账 = 扣减 + 增加 + 流水, 在同一个数据库事务里完成。
// 扣减用 "amount >= ?" 条件更新，RowsAffected 为 0 即余额不足。

package custody

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BalanceRecord custody_balances 表
type BalanceRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Owner     string    `gorm:"column:owner;size:128;not null;uniqueIndex:uk_owner_token"`
	Token     string    `gorm:"column:token;size:128;not null;uniqueIndex:uk_owner_token"`
	Amount    int64     `gorm:"column:amount;not null;default:0"`
	Version   int64     `gorm:"column:version;not null;default:1"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (BalanceRecord) TableName() string { return "custody_balances" }

// JournalRecord custody_journals 表
type JournalRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Token     string    `gorm:"column:token;size:128;not null;index:idx_token"`
	FromAddr  string    `gorm:"column:from_addr;size:128;not null"`
	ToAddr    string    `gorm:"column:to_addr;size:128;not null"`
	Amount    int64     `gorm:"column:amount;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (JournalRecord) TableName() string { return "custody_journals" }

// Ledger 数据库托管账本
type Ledger struct {
	db    *gorm.DB
	vault string
}

var _ Custodian = (*Ledger)(nil)

// NewLedger 创建账本, vault 为空时使用 DefaultVault
func NewLedger(db *gorm.DB, vault string) *Ledger {
	if vault == "" {
		vault = DefaultVault
	}
	return &Ledger{db: db, vault: vault}
}

// AutoMigrate 建表
func (l *Ledger) AutoMigrate() error {
	return l.db.AutoMigrate(&BalanceRecord{}, &JournalRecord{})
}

func (l *Ledger) TransferFrom(ctx context.Context, token, owner string, amount int64) error {
	return l.move(ctx, token, owner, l.vault, amount)
}

func (l *Ledger) Transfer(ctx context.Context, token, recipient string, amount int64) error {
	return l.move(ctx, token, l.vault, recipient, amount)
}

// Credit 外部入账 (链上充值到账)
func (l *Ledger) Credit(ctx context.Context, token, owner string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return credit(tx, token, owner, amount)
	})
}

// Balance 查询余额, 无记录返回 0
func (l *Ledger) Balance(ctx context.Context, token, owner string) (int64, error) {
	var rec BalanceRecord
	err := l.db.WithContext(ctx).
		Where("owner = ? AND token = ?", owner, token).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Amount, nil
}

func (l *Ledger) move(ctx context.Context, token, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	now := time.Now()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 扣减
		result := tx.Model(&BalanceRecord{}).
			Where("owner = ? AND token = ? AND amount >= ?", from, token, amount).
			Updates(map[string]interface{}{
				"amount":     gorm.Expr("amount - ?", amount),
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInsufficientFunds
		}

		// 2. 增加
		if err := credit(tx, token, to, amount); err != nil {
			return err
		}

		// 3. 流水
		return tx.Create(&JournalRecord{
			Token:     token,
			FromAddr:  from,
			ToAddr:    to,
			Amount:    amount,
			CreatedAt: now,
		}).Error
	})
}

func credit(tx *gorm.DB, token, owner string, amount int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner"}, {Name: "token"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"amount":     gorm.Expr("amount + ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&BalanceRecord{
		Owner:     owner,
		Token:     token,
		Amount:    amount,
		Version:   1,
		UpdatedAt: time.Now(),
	}).Error
}
