package database

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestJournal(t *testing.T) Journal {
	t.Helper()
	j, err := NewJournal(&Config{
		Type:     "sqlite",
		DSN:      filepath.Join(t.TempDir(), "journal.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("创建执行流水失败: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSaveAndGetExecutions(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	recs := []*Execution{
		{SignalKey: "binance:BTCUSDT:long:15:1", Venue: "binance", Symbol: "BTCUSDT", Side: "long", Status: "ok", Contracts: 2, FillPrice: 60000},
		{SignalKey: "binance:BTCUSDT:short:15:2", Venue: "binance", Symbol: "BTCUSDT", Side: "short", Status: "rejected", RejectReason: "cooldown"},
		{SignalKey: "binance:ETHUSDT:long:15:3", Venue: "binance", Symbol: "ETHUSDT", Side: "long", Status: "simulated_ok", DryRun: true},
	}
	for _, rec := range recs {
		if err := j.SaveExecution(ctx, rec); err != nil {
			t.Fatalf("保存执行记录失败: %v", err)
		}
	}

	got, err := j.GetExecutions(ctx, &ExecutionFilter{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("查询执行记录失败: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("期望 2 条记录, 实际 %d", len(got))
	}

	got, err = j.GetExecutions(ctx, &ExecutionFilter{Status: "rejected"})
	if err != nil {
		t.Fatalf("查询执行记录失败: %v", err)
	}
	if len(got) != 1 || got[0].RejectReason != "cooldown" {
		t.Errorf("拒绝记录查询结果不符: %+v", got)
	}
}

func TestExecutionStats(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for _, rec := range []*Execution{
		{SignalKey: "a", Symbol: "BTCUSDT", Status: "ok"},
		{SignalKey: "b", Symbol: "BTCUSDT", Status: "simulated_ok"},
		{SignalKey: "c", Symbol: "ETHUSDT", Status: "rejected", RejectReason: "duplicate_signal"},
		{SignalKey: "d", Symbol: "ETHUSDT", Status: "rejected", RejectReason: "duplicate_signal"},
	} {
		if err := j.SaveExecution(ctx, rec); err != nil {
			t.Fatalf("保存执行记录失败: %v", err)
		}
	}

	stats, err := j.GetExecutionStats(ctx)
	if err != nil {
		t.Fatalf("获取统计失败: %v", err)
	}
	if stats.TotalCount != 4 {
		t.Errorf("总数期望 4, 实际 %d", stats.TotalCount)
	}
	if stats.FilledCount != 2 {
		t.Errorf("成交数期望 2, 实际 %d", stats.FilledCount)
	}
	if stats.RejectedCount != 2 {
		t.Errorf("拒绝数期望 2, 实际 %d", stats.RejectedCount)
	}
	if stats.CountByReason["duplicate_signal"] != 2 {
		t.Errorf("重复信号拒绝数期望 2, 实际 %d", stats.CountByReason["duplicate_signal"])
	}
}

func TestSaveReconciliation(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	recon := &Reconciliation{
		Venue:       "binance",
		Symbol:      "BTCUSDT",
		LocalValue:  "flat",
		RemoteValue: "short 3",
		Adopted:     true,
	}
	if err := j.SaveReconciliation(ctx, recon); err != nil {
		t.Fatalf("保存对账记录失败: %v", err)
	}

	got, err := j.GetReconciliations(ctx, &ReconciliationFilter{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("查询对账记录失败: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("期望 1 条记录, 实际 %d", len(got))
	}
	if got[0].RemoteValue != "short 3" || !got[0].Adopted {
		t.Errorf("对账记录内容不符: %+v", got[0])
	}
}

func TestUnsupportedDatabaseType(t *testing.T) {
	_, err := NewJournal(&Config{Type: "mongodb"})
	if err == nil {
		t.Error("不支持的数据库类型应返回错误")
	}
}
