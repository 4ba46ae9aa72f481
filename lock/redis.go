package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 释放/续期必须校验 token，防止误删其他实例持有的锁
const (
	releaseScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	extendScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// 抢锁失败后的重试间隔
const retryInterval = 100 * time.Millisecond

// RedisLock Redis 品种互斥锁（多实例部署时保证跨进程串行）
type RedisLock struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string // 持有的锁 key -> token
}

// NewRedisLock 创建 Redis 品种锁
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: prefix,
		tokens: make(map[string]string),
	}
}

func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Lock 获取锁，先立即尝试一次，失败后按固定间隔重试直到 ctx 超时
// 信号执行对延迟敏感，首次尝试不等待
func (r *RedisLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	if ok, err := r.TryLock(ctx, key, ttl); err != nil {
		return err
	} else if ok {
		return nil
	}

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ok, err := r.TryLock(ctx, key, ttl)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}

// TryLock 尝试获取锁，立即返回
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := newToken()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis 抢锁失败: %w", err)
	}
	if ok {
		r.mu.Lock()
		r.tokens[key] = token
		r.mu.Unlock()
	}
	return ok, nil
}

// Unlock 释放锁，只有持有对应 token 的实例能释放
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	token, held := r.takeToken(key)
	if !held {
		return fmt.Errorf("未持有锁: %s", key)
	}

	result, err := r.client.Eval(ctx, releaseScript, []string{r.prefix + key}, token).Result()
	if err != nil {
		return fmt.Errorf("redis 释放锁失败: %w", err)
	}
	if n, _ := result.(int64); n == 0 {
		return fmt.Errorf("锁已过期或被他人持有: %s", key)
	}
	return nil
}

// Extend 延长锁的过期时间
func (r *RedisLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	r.mu.Lock()
	token, held := r.tokens[key]
	r.mu.Unlock()
	if !held {
		return fmt.Errorf("未持有锁: %s", key)
	}

	result, err := r.client.Eval(ctx, extendScript, []string{r.prefix + key}, token, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("redis 续期失败: %w", err)
	}
	if n, _ := result.(int64); n == 0 {
		return fmt.Errorf("锁已过期或被他人持有: %s", key)
	}
	return nil
}

// takeToken 取出并移除本地 token 记录
func (r *RedisLock) takeToken(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, held := r.tokens[key]
	if held {
		delete(r.tokens, key)
	}
	return token, held
}

// Close 关闭连接
func (r *RedisLock) Close() error {
	return r.client.Close()
}

// Ping 检查连接
func (r *RedisLock) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
