package lock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLockTryLock(t *testing.T) {
	m := NewMemoryLock()
	ctx := context.Background()

	ok, err := m.TryLock(ctx, "BTCUSDT", time.Second)
	if err != nil || !ok {
		t.Fatalf("首次加锁应成功: ok=%v err=%v", ok, err)
	}

	ok, _ = m.TryLock(ctx, "BTCUSDT", time.Second)
	if ok {
		t.Error("锁被占用时 TryLock 应返回 false")
	}

	// 不同键互不影响
	ok, _ = m.TryLock(ctx, "ETHUSDT", time.Second)
	if !ok {
		t.Error("不同键的锁应相互独立")
	}

	if err := m.Unlock(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}

	ok, _ = m.TryLock(ctx, "BTCUSDT", time.Second)
	if !ok {
		t.Error("释放后应可重新加锁")
	}
}

func TestMemoryLockTTLExpiry(t *testing.T) {
	m := NewMemoryLock()
	ctx := context.Background()

	ok, _ := m.TryLock(ctx, "key", 20*time.Millisecond)
	if !ok {
		t.Fatal("首次加锁应成功")
	}

	time.Sleep(50 * time.Millisecond)

	// TTL 过期后视为已释放
	ok, _ = m.TryLock(ctx, "key", time.Second)
	if !ok {
		t.Error("TTL 过期后应可重新加锁")
	}
}

func TestMemoryLockZeroTTLStillExclusive(t *testing.T) {
	m := NewMemoryLock()
	ctx := context.Background()

	if err := m.Lock(ctx, "binance:BTCUSDT", 0); err != nil {
		t.Fatalf("首次加锁应成功: %v", err)
	}

	// TTL 为 0 不能等于写入即过期：持有者未释放前其他人不得取锁
	ok, _ := m.TryLock(ctx, "binance:BTCUSDT", 0)
	if ok {
		t.Error("持有者未释放时 TTL=0 的锁不应被抢走")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := m.Lock(timeoutCtx, "binance:BTCUSDT", 0); err == nil {
		t.Error("持有者未释放时阻塞加锁应超时")
	}

	if err := m.Unlock(ctx, "binance:BTCUSDT"); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}
	if ok, _ := m.TryLock(ctx, "binance:BTCUSDT", 0); !ok {
		t.Error("释放后应可重新加锁")
	}
}

func TestMemoryLockBlockingLock(t *testing.T) {
	m := NewMemoryLock()
	ctx := context.Background()

	if err := m.Lock(ctx, "key", time.Second); err != nil {
		t.Fatalf("加锁失败: %v", err)
	}

	// 持锁状态下 Lock 应阻塞到上下文超时
	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := m.Lock(timeoutCtx, "key", time.Second); err == nil {
		t.Error("锁被占用时应阻塞到超时")
	}

	m.Unlock(ctx, "key")
	if err := m.Lock(ctx, "key", time.Second); err != nil {
		t.Errorf("释放后加锁应成功: %v", err)
	}
}

func TestMemoryLockConcurrentMutex(t *testing.T) {
	m := NewMemoryLock()
	ctx := context.Background()

	var counter, active int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Lock(ctx, "shared", time.Second); err != nil {
				t.Errorf("加锁失败: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > 1 {
				t.Error("同一键不应有多个持有者")
			}
			counter++
			active--
			mu.Unlock()
			m.Unlock(ctx, "shared")
		}()
	}
	wg.Wait()

	if counter != 10 {
		t.Errorf("期望 10 次临界区执行, 实际 %d", counter)
	}
}

func TestFactoryDisabledReturnsMemory(t *testing.T) {
	l, err := NewDistributedLock(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("创建锁失败: %v", err)
	}
	if _, ok := l.(*MemoryLock); !ok {
		t.Errorf("未启用跨进程锁时应返回进程内锁, 实际 %T", l)
	}
}
