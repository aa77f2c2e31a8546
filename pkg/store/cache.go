// 文件: pkg/store/cache.go
// Redis 缓存装饰器
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查底层并回填
// - 写: 先写底层，成功后删除缓存 (Cache Aside)
// - 扫描: 不缓存，直接走底层
//
// 不存在的 Key 不回填，避免把 "空" 缓存下来。
//
// 【删除失败】
// 底层已提交但 DEL 失败时, 缓存里还是提交前的旧值。这些 Key 记入 stale,
// 之后的读取先重试 DEL, 成功前一律读穿透到底层且不回填。
// 底层提交已生效, Apply 返回 nil。

package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*CachedStore)(nil)

const (
	cacheKeyPrefix  = "perp:cache:"
	defaultCacheTTL = 10 * time.Minute
)

// CachedStore 带 Redis 缓存的 Store
type CachedStore struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration

	mu    sync.Mutex
	stale map[string]struct{}
}

// NewCachedStore 包装底层 Store
//
// 用法:
//
//	mysqlStore := NewGormStore(db)
//	cached := NewCachedStore(mysqlStore, redisClient, 0)
//	engine := perp.NewEngine(cached, ...)
func NewCachedStore(base Store, rds *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{base: base, redis: rds, ttl: ttl, stale: make(map[string]struct{})}
}

func cacheKey(k Key) string {
	return cacheKeyPrefix + k.String()
}

func (s *CachedStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	ck := cacheKey(key)
	if s.isStale(ctx, ck) {
		return s.base.Get(ctx, key)
	}

	// 1. 查缓存
	if data, err := s.redis.Get(ctx, ck).Bytes(); err == nil {
		return data, true, nil
	}

	// 2. Cache miss, 查底层
	data, ok, err := s.base.Get(ctx, key)
	if err != nil || !ok {
		return data, ok, err
	}

	// 3. 回填 (失败不影响读)
	s.redis.Set(ctx, ck, data, s.ttl)
	return data, true, nil
}

func (s *CachedStore) Apply(ctx context.Context, writes []Write) error {
	if err := s.base.Apply(ctx, writes); err != nil {
		return err
	}
	s.invalidate(ctx, writes)
	return nil
}

func (s *CachedStore) Scan(ctx context.Context, tag Tag) ([]Entry, error) {
	return s.base.Scan(ctx, tag)
}

func (s *CachedStore) invalidate(ctx context.Context, writes []Write) {
	if len(writes) == 0 {
		return
	}
	keys := make([]string, 0, len(writes))
	for _, w := range writes {
		keys = append(keys, cacheKey(w.Key))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		s.mu.Lock()
		for _, k := range keys {
			s.stale[k] = struct{}{}
		}
		s.mu.Unlock()
	}
}

// isStale 缓存 Key 是否仍可能是旧值; 重试删除成功后恢复正常读缓存
func (s *CachedStore) isStale(ctx context.Context, ck string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stale[ck]; !ok {
		return false
	}
	if err := s.redis.Del(ctx, ck).Err(); err != nil {
		return true
	}
	delete(s.stale, ck)
	return false
}

// Stale 删除失败、尚未清理的缓存 Key 数量
func (s *CachedStore) Stale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stale)
}
