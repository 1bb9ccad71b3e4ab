// Package cache 提供 Redis 操作的封装
// 会话消息以 Redis List 存储，每个会话一个 key
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aaronaludo/chat-system/internal/config"
)

// RedisCache 封装 Redis 客户端，提供会话日志需要的列表操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例
// 设置了 redis.url 时优先使用连接串，否则使用 host/port
// 参数:
//   - cfg: 应用配置（包含 Redis 连接信息）
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg *config.Config) (*RedisCache, error) {
	opts, err := redisOptions(cfg.Redis)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient 使用已有客户端创建实例
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if timeout := cfg.Timeout(); timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return opts, nil
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ==================== 会话日志 ====================

// AppendWithTTL 追加一条记录并重置整个列表的过期时间
// RPUSH 和 EXPIRE 在同一个 MULTI/EXEC 事务中执行，不会出现追加成功但过期时间未刷新的情况
// 参数:
//   - ctx: 上下文
//   - key: 列表 key
//   - value: 序列化后的记录
//   - ttl: 从本次追加开始计算的过期时间
//
// 返回:
//   - int64: 追加后的列表长度
//   - error: Redis 操作错误
func (c *RedisCache) AppendWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	var push *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.RPush(ctx, key, value)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return push.Val(), nil
}

// Range 读取列表全部记录，key 不存在时返回空切片
func (c *RedisCache) Range(ctx context.Context, key string) ([]string, error) {
	values, err := c.client.LRange(ctx, key, 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return values, err
}

// Delete 删除 key，key 不存在时不报错
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// ScanLengths 按前缀增量遍历所有列表并返回各自长度
// 使用 SCAN 而不是 KEYS，不会长时间阻塞 Redis
// 每批 key 的 LLEN 通过一次 pipeline 查询；遍历期间被删除的 key 长度为 0，
// 非列表类型的 key 会被跳过
// 参数:
//   - ctx: 上下文
//   - prefix: key 前缀
//   - count: 每批数量提示
//   - fn: 每个 key 的回调，同一个 key 只回调一次
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) ScanLengths(ctx context.Context, prefix string, count int64, fn func(key string, length int64)) error {
	match := escapeGlob(prefix) + "*"
	seen := make(map[string]struct{})

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return err
		}

		// SCAN 可能返回重复的 key
		batch := keys[:0]
		for _, key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			batch = append(batch, key)
		}

		if len(batch) > 0 {
			cmds, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, key := range batch {
					pipe.LLen(ctx, key)
				}
				return nil
			})
			if err != nil && !isWrongType(err) {
				return err
			}
			for i, cmd := range cmds {
				n, err := cmd.(*redis.IntCmd).Result()
				if err != nil {
					if isWrongType(err) {
						continue
					}
					return err
				}
				fn(batch[i], n)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// isWrongType 判断是否为类型不匹配错误（同前缀下存在非列表 key）
func isWrongType(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}

// escapeGlob 转义 SCAN MATCH 中的通配字符
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
