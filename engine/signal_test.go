package engine

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseSide(t *testing.T) {
	cases := []struct {
		raw     string
		want    Side
		wantErr bool
	}{
		{"long", SideLong, false},
		{"LONG", SideLong, false},
		{"buy", SideLong, false},
		{"short", SideShort, false},
		{"sell", SideShort, false},
		{" Short ", SideShort, false},
		{"hold", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseSide(c.raw)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseSide(%q) 应该返回错误", c.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSide(%q) 失败: %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseSide(%q) = %s, 期望 %s", c.raw, got, c.want)
		}
	}
}

func TestParseBarTimeEncodings(t *testing.T) {
	want := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// ISO-8601 字符串
	got, err := ParseBarTime("2026-08-25T12:00:00Z")
	if err != nil {
		t.Fatalf("ISO 格式解析失败: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("ISO 格式解析结果 %v, 期望 %v", got, want)
	}

	// 毫秒时间戳（> 1e12）
	got, err = ParseBarTime(float64(want.UnixMilli()))
	if err != nil {
		t.Fatalf("毫秒时间戳解析失败: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("毫秒时间戳解析结果 %v, 期望 %v", got, want)
	}

	// 秒时间戳
	got, err = ParseBarTime(want.Unix())
	if err != nil {
		t.Fatalf("秒时间戳解析失败: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("秒时间戳解析结果 %v, 期望 %v", got, want)
	}

	// json.Number（gin 绑定 interface{} 时的常见形态）
	got, err = ParseBarTime(json.Number("1787745600000"))
	if err != nil {
		t.Fatalf("json.Number 解析失败: %v", err)
	}
	if got.UnixMilli() != 1787745600000 {
		t.Errorf("json.Number 解析结果 %d, 期望 1787745600000", got.UnixMilli())
	}

	// 数字字符串
	got, err = ParseBarTime("1787745600")
	if err != nil {
		t.Fatalf("数字字符串解析失败: %v", err)
	}
	if got.Unix() != 1787745600 {
		t.Errorf("数字字符串解析结果 %d, 期望 1787745600", got.Unix())
	}

	if _, err := ParseBarTime(nil); err == nil {
		t.Error("nil 应该返回错误")
	}
	if _, err := ParseBarTime("not-a-time"); err == nil {
		t.Error("无法解析的字符串应该返回错误")
	}
}

func TestDedupKey(t *testing.T) {
	sig := &Signal{
		Side:      SideLong,
		RawSymbol: "BTCUSDT.P",
		BarTime:   time.UnixMilli(1787745600000).UTC(),
		Timeframe: "3m",
	}
	want := "binance:BTCUSDT.P:long:3m:1787745600000"
	if got := sig.DedupKey("binance"); got != want {
		t.Errorf("去重键 = %s, 期望 %s", got, want)
	}

	// 周期缺失时用 unknown 占位
	sig.Timeframe = ""
	want = "binance:BTCUSDT.P:long:unknown:1787745600000"
	if got := sig.DedupKey("binance"); got != want {
		t.Errorf("去重键 = %s, 期望 %s", got, want)
	}
}

func TestSignalValidate(t *testing.T) {
	valid := &Signal{Side: SideLong, RawSymbol: "BTCUSDT", BarTime: time.Now()}
	if err := valid.Validate(); err != nil {
		t.Errorf("合法信号不应校验失败: %v", err)
	}
	if err := (&Signal{RawSymbol: "BTCUSDT", BarTime: time.Now()}).Validate(); err == nil {
		t.Error("缺少方向应校验失败")
	}
	if err := (&Signal{Side: SideLong, BarTime: time.Now()}).Validate(); err == nil {
		t.Error("缺少合约符号应校验失败")
	}
	if err := (&Signal{Side: SideLong, RawSymbol: "  ", BarTime: time.Now()}).Validate(); err == nil {
		t.Error("纯空白的合约符号应校验失败")
	}
	if err := (&Signal{Side: SideShort, RawSymbol: "BTCUSDT"}).Validate(); err == nil {
		t.Error("缺少 K 线时间应校验失败")
	}
}

func TestSideOpposite(t *testing.T) {
	if SideLong.Opposite() != SideShort || SideShort.Opposite() != SideLong {
		t.Error("方向取反不正确")
	}
}
