package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookRedis 用 go-redis Hook 拦截命令, 在内存里实现 GET / SET / DEL
//
// failDel 打开时 DEL 返回错误, 模拟底层提交之后 Redis 不可用。
type hookRedis struct {
	mu      sync.Mutex
	data    map[string]string
	failDel bool
	dels    int
}

func newHookRedis(t *testing.T) (*redis.Client, *hookRedis) {
	h := &hookRedis{data: make(map[string]string)}
	rdb := redis.NewClient(&redis.Options{Addr: "hook:0"})
	rdb.AddHook(h)
	t.Cleanup(func() { rdb.Close() })
	return rdb, h
}

func (h *hookRedis) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("hookRedis: no network")
	}
}

func (h *hookRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if err := h.process(cmd); err != nil {
				return err
			}
		}
		return nil
	}
}

func (h *hookRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		return h.process(cmd)
	}
}

func (h *hookRedis) process(cmd redis.Cmder) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	args := cmd.Args()
	switch c := cmd.(type) {
	case *redis.StringCmd: // GET
		v, ok := h.data[argString(args[1])]
		if !ok {
			c.SetErr(redis.Nil)
			return redis.Nil
		}
		c.SetVal(v)
	case *redis.StatusCmd: // SET
		h.data[argString(args[1])] = argString(args[2])
		c.SetVal("OK")
	case *redis.IntCmd: // DEL
		h.dels++
		if h.failDel {
			err := errors.New("hookRedis: connection refused")
			c.SetErr(err)
			return err
		}
		var n int64
		for _, a := range args[1:] {
			k := argString(a)
			if _, ok := h.data[k]; ok {
				delete(h.data, k)
				n++
			}
		}
		c.SetVal(n)
	default:
		err := errors.New("hookRedis: unsupported " + strings.ToUpper(cmd.Name()))
		cmd.SetErr(err)
		return err
	}
	return nil
}

func (h *hookRedis) cached(key Key) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.data[cacheKey(key)]
	return v, ok
}

func (h *hookRedis) setFailDel(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failDel = v
}

func argString(a interface{}) string {
	switch v := a.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	rdb, h := newHookRedis(t)
	cs := NewCachedStore(NewMemoryStore(), rdb, 0)
	key := CollateralKey("alice")

	require.NoError(t, cs.Apply(ctx, []Write{{Key: key, Value: []byte("100")}}))
	_, ok := h.cached(key)
	assert.False(t, ok)

	// miss 后回填
	v, ok, err := cs.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100", string(v))
	cached, ok := h.cached(key)
	require.True(t, ok)
	assert.Equal(t, "100", cached)

	// 写入后缓存被删除
	require.NoError(t, cs.Apply(ctx, []Write{{Key: key, Value: []byte("40")}}))
	_, ok = h.cached(key)
	assert.False(t, ok)

	v, _, err = cs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "40", string(v))

	// 不存在的 Key 不回填
	_, ok, err = cs.Get(ctx, CollateralKey("nobody"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = h.cached(CollateralKey("nobody"))
	assert.False(t, ok)
}

// 提交后 DEL 失败, 读取不能返回缓存里的旧余额
func TestCachedStore_FailedInvalidationBypassesCache(t *testing.T) {
	ctx := context.Background()
	rdb, h := newHookRedis(t)
	cs := NewCachedStore(NewMemoryStore(), rdb, 0)
	key := CollateralKey("alice")

	require.NoError(t, cs.Apply(ctx, []Write{{Key: key, Value: []byte("100")}}))
	_, _, err := cs.Get(ctx, key)
	require.NoError(t, err)

	h.setFailDel(true)
	require.NoError(t, cs.Apply(ctx, []Write{{Key: key, Value: []byte("40")}}))
	assert.Equal(t, 1, cs.Stale())

	// Redis 里仍是旧值, 读取绕过它
	cached, ok := h.cached(key)
	require.True(t, ok)
	assert.Equal(t, "100", cached)

	for i := 0; i < 3; i++ {
		v, ok, err := cs.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "40", string(v))
	}
	// 绕过期间不回填
	cached, _ = h.cached(key)
	assert.Equal(t, "100", cached)

	// Redis 恢复后重试删除成功, 恢复正常缓存
	h.setFailDel(false)
	v, _, err := cs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "40", string(v))
	assert.Zero(t, cs.Stale())

	cached, ok = h.cached(key)
	require.True(t, ok)
	assert.Equal(t, "40", cached)
}

func TestCachedStore_DeleteWrite(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newHookRedis(t)
	cs := NewCachedStore(NewMemoryStore(), rdb, 0)
	key := PositionKey("XLM", "alice")

	require.NoError(t, cs.Apply(ctx, []Write{{Key: key, Value: []byte(`{"size":1}`)}}))
	_, ok, err := cs.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cs.Apply(ctx, []Write{{Key: key, Delete: true}}))
	_, ok, err = cs.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
