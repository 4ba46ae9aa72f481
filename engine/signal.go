package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Side 信号方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// ParseSide 解析信号方向（兼容 buy/sell 写法）
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return SideLong, nil
	case "short", "sell":
		return SideShort, nil
	default:
		return "", fmt.Errorf("无效的信号方向: %q", raw)
	}
}

// Signal 一条归一化后的交易信号（对应一根已收盘的K线）
// 信号一经接收即不可变，除去重记录外不做持久化
type Signal struct {
	Side       Side      // long / short
	RawSymbol  string    // 信号源原始品种符号（映射前）
	BarTime    time.Time // K线收盘时间
	Timeframe  string    // 周期，未知时为 "unknown"
	Source     string    // webhook / email
	Secret     string    // 传输层携带的共享密钥（可选）
	Notional   float64   // 名义金额 USDT（可选，0 表示用配置默认值）
	Leverage   int       // 杠杆（可选）
	MarginMode string    // 保证金模式（可选）
	TakeProfit float64   // 止盈绝对价格（可选）
	StopLoss   float64   // 止损绝对价格（可选）
	TPPct      float64   // 止盈百分比（可选，如 1.5 表示 1.5%）
	SLPct      float64   // 止损百分比（可选）
}

// ParseBarTime 解析K线时间，接受三种编码：
// ISO-8601 字符串、unix 秒、unix 毫秒（数值大于 1e12 视为毫秒）
func ParseBarTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("K线时间缺失")
	case string:
		return parseBarTimeString(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("无效的K线时间: %q", t.String())
		}
		return epochToTime(f), nil
	case float64:
		return epochToTime(t), nil
	case int64:
		return epochToTime(float64(t)), nil
	case int:
		return epochToTime(float64(t)), nil
	default:
		return time.Time{}, fmt.Errorf("不支持的K线时间类型: %T", v)
	}
}

// parseBarTimeString 解析字符串形式的K线时间
func parseBarTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("K线时间为空")
	}

	// 数值字符串按时间戳处理
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToTime(f), nil
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("无法解析K线时间: %q", s)
}

// epochToTime 按数值大小区分秒/毫秒时间戳
func epochToTime(f float64) time.Time {
	if f > 1e12 {
		ms := int64(f)
		return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
	}
	sec := int64(f)
	frac := f - float64(sec)
	return time.Unix(sec, int64(frac*float64(time.Second))).UTC()
}

// Validate 校验信号的必备字段
func (s *Signal) Validate() error {
	if s.Side != SideLong && s.Side != SideShort {
		return fmt.Errorf("无效的信号方向: %q", s.Side)
	}
	if strings.TrimSpace(s.RawSymbol) == "" {
		return fmt.Errorf("合约符号缺失")
	}
	if s.BarTime.IsZero() {
		return fmt.Errorf("K线时间缺失")
	}
	return nil
}

// BarTimeMs K线收盘时间（毫秒）
func (s *Signal) BarTimeMs() int64 {
	return s.BarTime.UnixMilli()
}

// TimeframeOrDefault 周期，未提供时返回 "unknown"
func (s *Signal) TimeframeOrDefault() string {
	if s.Timeframe == "" {
		return "unknown"
	}
	return s.Timeframe
}

// DedupKey 去重键：同一交易所、同一原始品种、同一方向、同一周期、同一根K线
// 的信号无论从哪个通道送达多少次，都视为同一逻辑事件
func (s *Signal) DedupKey(venue string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d",
		venue, s.RawSymbol, s.Side, s.TimeframeOrDefault(), s.BarTimeMs())
}

// Age 信号相对当前时间的年龄
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.BarTime)
}
