package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Anniext/bqlens/core"

	"github.com/go-redis/redis/v8"
)

// RedisCache Redis 缓存实现
type RedisCache struct {
	client *redis.Client
	logger core.Logger
}

// NewRedisCache 创建 Redis 缓存并验证连接
func NewRedisCache(config *core.CacheConfig, logger core.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.Database,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.ErrCacheConnection.WithCause(err)
	}

	if logger != nil {
		logger.Info("redis cache initialized",
			"host", config.Host,
			"port", config.Port,
			"database", config.Database)
	}

	return &RedisCache{client: client, logger: logger}, nil
}

// Get 获取缓存值
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, core.ErrCacheKeyNotFound
		}
		if r.logger != nil {
			r.logger.Error("redis get error", "key", key, "error", err)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return result, nil
}

// Set 设置缓存值
func (r *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		if r.logger != nil {
			r.logger.Error("redis set error", "key", key, "error", err)
		}
		return fmt.Errorf("failed to set to redis: %w", err)
	}
	return nil
}

// Delete 删除缓存键
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	result, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	if result == 0 {
		return core.ErrCacheKeyNotFound
	}
	return nil
}

// Clear 清空当前数据库
func (r *RedisCache) Clear(ctx context.Context) error {
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("failed to clear redis: %w", err)
	}
	return nil
}

// Ping 测试连接
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭连接
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
