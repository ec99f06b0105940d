package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"turtle-trader/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisConfig 配置 Redis 缓存
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache 把价格序列以 JSON 存入 Redis，多个进程可共享
type RedisCache struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache 创建 Redis 缓存并 ping 服务器
func NewRedisCache(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis cache connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return newRedisCache(client, cfg, logger), nil
}

func newRedisCache(client *goredis.Client, cfg RedisConfig, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Get(ctx context.Context, key string) (model.PriceSeries, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.logger.Warn("Redis cache read failed", zap.String("key", key), zap.Error(err))
		}
		return model.PriceSeries{}, false
	}
	var series model.PriceSeries
	if err := json.Unmarshal(raw, &series); err != nil {
		c.logger.Warn("Corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, c.key(key))
		return model.PriceSeries{}, false
	}
	return series, true
}

func (c *RedisCache) Set(ctx context.Context, key string, series model.PriceSeries) error {
	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Clear 删除所有带前缀的键
func (c *RedisCache) Clear(ctx context.Context) error {
	keys, err := c.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *RedisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, c.prefix)
	}
	return keys, nil
}

func (c *RedisCache) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// Close 关闭连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}
