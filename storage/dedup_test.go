package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *DedupStore {
	t.Helper()
	store, err := NewDedupStore(filepath.Join(t.TempDir(), "dedup.db"))
	if err != nil {
		t.Fatalf("创建去重存储失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSignalDedup(t *testing.T) {
	store := newTestStore(t)

	key := "binance:BTCUSDT.P:long:15:1700000000000"

	processed, err := store.IsSignalProcessed(key)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if processed {
		t.Error("新键不应存在记录")
	}

	rec := &SignalRecord{
		Key:          key,
		Venue:        "binance",
		Instrument:   "BTCUSDT.P",
		Side:         "long",
		Timeframe:    "15",
		BarTimeMs:    1700000000000,
		ResultStatus: "ok",
	}
	if err := store.MarkSignalProcessed(rec); err != nil {
		t.Fatalf("标记失败: %v", err)
	}

	processed, err = store.IsSignalProcessed(key)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if !processed {
		t.Error("标记后应存在记录")
	}

	// 重复标记应幂等（INSERT OR REPLACE），不应报错
	rec.ResultStatus = "simulated_ok"
	if err := store.MarkSignalProcessed(rec); err != nil {
		t.Errorf("重复标记应幂等: %v", err)
	}

	got, err := store.GetSignalRecord(key)
	if err != nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if got == nil {
		t.Fatal("记录不应为空")
	}
	if got.ResultStatus != "simulated_ok" {
		t.Errorf("重复标记应覆盖状态, 期望 simulated_ok 实际 %s", got.ResultStatus)
	}
	if got.BarTimeMs != 1700000000000 {
		t.Errorf("K线时间不一致: %d", got.BarTimeMs)
	}
}

func TestSignalCount(t *testing.T) {
	store := newTestStore(t)

	for i, key := range []string{"a:1", "b:2", "c:3"} {
		if err := store.MarkSignalProcessed(&SignalRecord{Key: key, BarTimeMs: int64(i)}); err != nil {
			t.Fatalf("标记失败: %v", err)
		}
	}

	count, err := store.SignalCount()
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if count != 3 {
		t.Errorf("期望 3 条记录, 实际 %d", count)
	}
}

func TestEmailDedup(t *testing.T) {
	store := newTestStore(t)

	msgID := "<alert-123@tradingview.com>"

	processed, err := store.IsEmailProcessed(msgID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if processed {
		t.Error("新 Message-ID 不应存在记录")
	}

	if err := store.MarkEmailProcessed(msgID, "2026-01-01T00:00:00Z", "BTCUSDT", "long", "ok"); err != nil {
		t.Fatalf("标记失败: %v", err)
	}

	processed, err = store.IsEmailProcessed(msgID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if !processed {
		t.Error("标记后应存在记录")
	}
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)

	// 一条过期记录，一条新记录
	old := &SignalRecord{
		Key:         "old:key",
		ProcessedAt: time.Now().UTC().AddDate(0, 0, -40),
	}
	fresh := &SignalRecord{
		Key:         "fresh:key",
		ProcessedAt: time.Now().UTC(),
	}
	if err := store.MarkSignalProcessed(old); err != nil {
		t.Fatalf("标记失败: %v", err)
	}
	if err := store.MarkSignalProcessed(fresh); err != nil {
		t.Fatalf("标记失败: %v", err)
	}

	deleted, err := store.Prune(30)
	if err != nil {
		t.Fatalf("清理失败: %v", err)
	}
	if deleted != 1 {
		t.Errorf("期望清理 1 条, 实际 %d", deleted)
	}

	processed, _ := store.IsSignalProcessed("old:key")
	if processed {
		t.Error("过期记录应被清理")
	}
	processed, _ = store.IsSignalProcessed("fresh:key")
	if !processed {
		t.Error("未过期记录不应被清理")
	}
}
