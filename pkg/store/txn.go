// 文件: pkg/store/txn.go
// 事务写缓冲
//
// 读: 先查本事务已缓冲的写入，再查底层 Store
// 写: 只进缓冲区，Commit 时一次性 Apply
//
// 校验失败直接丢弃 Txn 即可，底层状态不受影响。

package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Txn 写缓冲事务
type Txn struct {
	base   Store
	writes map[string]Write
	order  []string
}

// Begin 开启事务
func Begin(base Store) *Txn {
	return &Txn{
		base:   base,
		writes: make(map[string]Write),
	}
}

// Get 读取 (包含本事务未提交的写入)
func (t *Txn) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if w, ok := t.writes[key.String()]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return w.Value, true, nil
	}
	return t.base.Get(ctx, key)
}

// Put 缓冲写入
func (t *Txn) Put(key Key, value []byte) {
	t.stage(Write{Key: key, Value: value})
}

// PutJSON 序列化后缓冲写入
func (t *Txn) PutJSON(key Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	t.Put(key, data)
	return nil
}

// Delete 缓冲删除
func (t *Txn) Delete(key Key) {
	t.stage(Write{Key: key, Delete: true})
}

func (t *Txn) stage(w Write) {
	k := w.Key.String()
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = w
}

// Pending 缓冲的写入条数
func (t *Txn) Pending() int {
	return len(t.order)
}

// Commit 一次性提交全部写入
func (t *Txn) Commit(ctx context.Context) error {
	if len(t.order) == 0 {
		return nil
	}
	writes := make([]Write, 0, len(t.order))
	for _, k := range t.order {
		writes = append(writes, t.writes[k])
	}
	if err := t.base.Apply(ctx, writes); err != nil {
		return fmt.Errorf("commit %d writes: %w", len(writes), err)
	}
	t.writes = make(map[string]Write)
	t.order = nil
	return nil
}
