package lock

import (
	"context"
	"time"
)

// DistributedLock 按品种互斥锁接口
// 同一品种的信号串行处理；单实例用内存锁，多实例用 Redis 锁
type DistributedLock interface {
	// Lock 获取锁，阻塞直到成功或上下文超时
	Lock(ctx context.Context, key string, ttl time.Duration) error

	// TryLock 尝试获取锁，立即返回
	// 返回 true 表示成功获取锁，false 表示锁已被占用
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Extend 延长锁的过期时间
	Extend(ctx context.Context, key string, ttl time.Duration) error

	// Close 关闭连接
	Close() error
}
