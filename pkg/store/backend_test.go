// 文件: pkg/store/backend_test.go
// Redis / MySQL 集成测试 (服务不可用时跳过)

package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testDSN      = "root:123456@tcp(127.0.0.1:3307)/perp_test?charset=utf8mb4&parseTime=True&loc=Local"
	testRedisURL = "localhost:6379"
)

func setupRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: testRedisURL, DB: 9})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}
	rdb.FlushDB(context.Background())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func setupMySQL(t *testing.T) *gorm.DB {
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("skipping test; mysql not available: %v", err)
	}
	require.NoError(t, db.AutoMigrate(&StateRecord{}))
	db.Exec("DELETE FROM perp_state")
	return db
}

// exerciseStore 所有实现共用的行为检查
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, ok, err := s.Get(ctx, ReserveKey("XLM"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Apply(ctx, []Write{
		{Key: ReserveKey("XLM"), Value: []byte(`{"base":1}`)},
		{Key: PositionKey("XLM", "A"), Value: []byte(`{"size":1}`)},
		{Key: PositionKey("XLM", "B"), Value: []byte(`{"size":2}`)},
	}))

	v, ok, err := s.Get(ctx, ReserveKey("XLM"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"base":1}`, string(v))

	require.NoError(t, s.Apply(ctx, []Write{
		{Key: ReserveKey("XLM"), Value: []byte(`{"base":2}`)},
		{Key: PositionKey("XLM", "A"), Delete: true},
	}))

	v, _, err = s.Get(ctx, ReserveKey("XLM"))
	require.NoError(t, err)
	assert.Equal(t, `{"base":2}`, string(v))

	entries, err := s.Scan(ctx, TagPosition)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, PositionKey("XLM", "B"), entries[0].Key)
}

func TestRedisStore(t *testing.T) {
	rdb := setupRedis(t)
	exerciseStore(t, NewRedisStore(rdb, "perp_test"))
}

func TestGormStore(t *testing.T) {
	db := setupMySQL(t)
	exerciseStore(t, NewGormStore(db))
}

func TestCachedStore(t *testing.T) {
	rdb := setupRedis(t)
	base := NewMemoryStore()
	cached := NewCachedStore(base, rdb, time.Minute)
	exerciseStore(t, cached)

	// 读取后缓存命中
	ctx := context.Background()
	_, ok, err := cached.Get(ctx, ReserveKey("XLM"))
	require.NoError(t, err)
	require.True(t, ok)
	n, err := rdb.Exists(ctx, cacheKey(ReserveKey("XLM"))).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 写入后缓存失效
	require.NoError(t, cached.Apply(ctx, []Write{{Key: ReserveKey("XLM"), Value: []byte(`{"base":3}`)}}))
	n, err = rdb.Exists(ctx, cacheKey(ReserveKey("XLM"))).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
