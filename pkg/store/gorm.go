// 文件: pkg/store/gorm.go
// MySQL 存储实现 (GORM)
//
// 单表 perp_state:
//
//	state_key (PK) | tag | value | version | updated_at
//
// Apply 在一个数据库事务里完成，upsert 用 ON DUPLICATE KEY UPDATE。

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ Store = (*GormStore)(nil)

// StateRecord perp_state 表
type StateRecord struct {
	StateKey  string    `gorm:"column:state_key;primaryKey;size:191"`
	Tag       string    `gorm:"column:tag;size:32;index:idx_tag"`
	Value     []byte    `gorm:"column:value;type:blob;not null"`
	Version   int64     `gorm:"column:version;not null;default:1"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (StateRecord) TableName() string {
	return "perp_state"
}

// GormStore GORM 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建 MySQL 存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate 建表
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&StateRecord{})
}

func (s *GormStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var rec StateRecord
	err := s.db.WithContext(ctx).
		Where("state_key = ?", key.String()).
		First(&rec).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mysql get %s: %w", key, err)
	}
	return rec.Value, true, nil
}

func (s *GormStore) Apply(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	now := time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range writes {
			if w.Delete {
				if err := tx.Where("state_key = ?", w.Key.String()).Delete(&StateRecord{}).Error; err != nil {
					return fmt.Errorf("delete %s: %w", w.Key, err)
				}
				continue
			}

			rec := &StateRecord{
				StateKey:  w.Key.String(),
				Tag:       w.Key.Tag.String(),
				Value:     w.Value,
				Version:   1,
				UpdatedAt: now,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "state_key"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"value":      w.Value,
					"version":    gorm.Expr("version + 1"),
					"updated_at": now,
				}),
			}).Create(rec).Error
			if err != nil {
				return fmt.Errorf("upsert %s: %w", w.Key, err)
			}
		}
		return nil
	})
}

func (s *GormStore) Scan(ctx context.Context, tag Tag) ([]Entry, error) {
	var records []StateRecord
	err := s.db.WithContext(ctx).
		Where("tag = ?", tag.String()).
		Order("state_key").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("mysql scan %s: %w", tag, err)
	}

	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		key, err := ParseKey(rec.StateKey)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: key, Value: rec.Value})
	}
	return out, nil
}
