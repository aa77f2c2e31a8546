// 文件: pkg/store/redis.go
// Redis 存储实现
//
// 【Key 格式】 {namespace}:{key}, 例: perp:position/XLM/GABC
// 【原子性】   Apply 用 MULTI/EXEC (TxPipelined)

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

const defaultNamespace = "perp"

// RedisStore Redis 实现
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore 创建 Redis 存储, namespace 为空时使用 "perp"
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) redisKey(k Key) string {
	return s.namespace + ":" + k.String()
}

func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

func (s *RedisStore) Apply(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			if w.Delete {
				pipe.Del(ctx, s.redisKey(w.Key))
				continue
			}
			pipe.Set(ctx, s.redisKey(w.Key), w.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis apply: %w", err)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, tag Tag) ([]Entry, error) {
	pattern := s.namespace + ":" + tag.Prefix()
	if !tag.Global() {
		pattern += "*"
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", tag, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]Entry, 0, len(keys))
	for i, rk := range keys {
		str, ok := values[i].(string)
		if !ok {
			continue // 扫描与读取之间被删除
		}
		key, err := ParseKey(strings.TrimPrefix(rk, s.namespace+":"))
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: key, Value: []byte(str)})
	}
	return out, nil
}
