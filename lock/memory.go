package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryEntry 单个键的锁状态
type memoryEntry struct {
	held      bool
	expiresAt time.Time
}

// MemoryLock 进程内按键互斥锁（单实例模式）
// 语义与 Redis 锁一致：带 TTL，过期视为已释放
type MemoryLock struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryLock 创建进程内锁
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		entries: make(map[string]*memoryEntry),
	}
}

// TTL 非法时的兜底过期时间：写入即过期的锁等于没有互斥
const fallbackTTL = 30 * time.Second

// tryAcquire 尝试获取，调用方不持有 m.mu
func (m *MemoryLock) tryAcquire(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = fallbackTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entries[key]
	if ok && entry.held && now.Before(entry.expiresAt) {
		return false
	}
	m.entries[key] = &memoryEntry{held: true, expiresAt: now.Add(ttl)}
	return true
}

// Lock 获取锁，阻塞直到成功或上下文超时
func (m *MemoryLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	if m.tryAcquire(key, ttl) {
		return nil
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.tryAcquire(key, ttl) {
				return nil
			}
		}
	}
}

// TryLock 尝试获取锁，立即返回
func (m *MemoryLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.tryAcquire(key, ttl), nil
}

// Unlock 释放锁
func (m *MemoryLock) Unlock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || !entry.held {
		return fmt.Errorf("lock not held: %s", key)
	}
	entry.held = false
	return nil
}

// Extend 延长锁的过期时间
func (m *MemoryLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || !entry.held || time.Now().After(entry.expiresAt) {
		return fmt.Errorf("lock not held or expired: %s", key)
	}
	entry.expiresAt = time.Now().Add(ttl)
	return nil
}

// Close 关闭
func (m *MemoryLock) Close() error {
	return nil
}
