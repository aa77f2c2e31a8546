// 文件: pkg/store/memory.go
// 内存存储 (测试 / 模拟用)

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore 内存实现
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// 测试钩子: 非 nil 时 Apply 直接返回该错误
	FailApply error
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key.String()]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Apply(_ context.Context, writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailApply != nil {
		return s.FailApply
	}
	for _, w := range writes {
		if w.Delete {
			delete(s.data, w.Key.String())
			continue
		}
		s.data[w.Key.String()] = append([]byte(nil), w.Value...)
	}
	return nil
}

func (s *MemoryStore) Scan(_ context.Context, tag Tag) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := tag.Prefix()
	var keys []string
	for k := range s.data {
		if (tag.Global() && k == prefix) || (!tag.Global() && strings.HasPrefix(k, prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		key, err := ParseKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: key, Value: append([]byte(nil), s.data[k]...)})
	}
	return out, nil
}

// Len 记录数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
