package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss 表示缓存不存在
var ErrCacheMiss = errors.New("cache miss")

// KVStore 抽象的 KV 存储（用于在单元测试中替换 Redis）
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisKVStore 基于 go-redis 的 KV 实现
// 摘要写入在后台循环中执行，每次操作都带超时，Redis 卡顿时不拖住写入循环
type RedisKVStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// DefaultOpTimeout 单次 KV 操作超时
const DefaultOpTimeout = 2 * time.Second

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client, opTimeout: DefaultOpTimeout}
}

// WithTimeout 设置单次操作超时，<= 0 表示只用调用方的 ctx
func (r *RedisKVStore) WithTimeout(d time.Duration) *RedisKVStore {
	r.opTimeout = d
	return r
}

func (r *RedisKVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Del 删除一个或多个键；键不存在不算错误
func (r *RedisKVStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Del(ctx, keys...).Err()
}
