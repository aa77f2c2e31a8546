// 文件: pkg/store/store.go
// 状态存储接口
//
// 【设计】
// 引擎只依赖 Store 接口:
// - MemoryStore: 单元测试 / 模拟
// - RedisStore:  热数据
// - GormStore:   MySQL 持久化
// - CachedStore: Redis 缓存装饰器, 包在 GormStore 外面
//
// 写入只有一个入口 Apply，一批写入要么全部生效要么全部不生效。

package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Write 一条写操作
type Write struct {
	Key    Key
	Value  []byte
	Delete bool
}

// Entry 扫描结果
type Entry struct {
	Key   Key
	Value []byte
}

// Reader 只读接口
type Reader interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
}

// Store 状态存储
type Store interface {
	Reader

	// Apply 原子写入一批变更
	Apply(ctx context.Context, writes []Write) error

	// Scan 列出某一类 Key 的全部记录
	Scan(ctx context.Context, tag Tag) ([]Entry, error)
}

// =============================================================================
// JSON 便捷方法
// =============================================================================

// Load 读取并反序列化, 不存在返回 (零值, false, nil)
func Load[T any](ctx context.Context, r Reader, key Key) (T, bool, error) {
	var v T
	data, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

// Decode 反序列化扫描结果
func Decode[T any](e Entry) (T, error) {
	var v T
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", e.Key, err)
	}
	return v, nil
}
