package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// SignalFromPayload 从松散的键值载荷解析信号
// webhook 请求体和邮件正文共用同一套字段别名，信号源字段命名不受控，
// 常见别名都要认
func SignalFromPayload(payload map[string]interface{}, source string) (*Signal, error) {
	sig := &Signal{Source: source}

	rawSide := firstString(payload, "side", "action", "signal", "direction")
	if rawSide == "" {
		return nil, fmt.Errorf("载荷缺少方向字段")
	}
	side, err := ParseSide(rawSide)
	if err != nil {
		return nil, err
	}
	sig.Side = side

	sig.RawSymbol = firstString(payload, "symbol", "ticker", "instrument")

	barRaw, ok := firstValue(payload, "bar_ts", "bar_time", "time", "time_unix_ms", "timestamp")
	if !ok {
		return nil, fmt.Errorf("载荷缺少 K 线时间字段")
	}
	barTime, err := ParseBarTime(barRaw)
	if err != nil {
		return nil, fmt.Errorf("K 线时间解析失败: %w", err)
	}
	sig.BarTime = barTime

	sig.Timeframe = firstString(payload, "timeframe", "interval", "tf")
	sig.Secret = firstString(payload, "secret", "passphrase")
	sig.MarginMode = firstString(payload, "margin_mode", "margin")

	sig.Notional = firstFloat(payload, "notional", "notional_usdt", "amount")
	sig.Leverage = int(firstFloat(payload, "leverage", "lev"))
	sig.TakeProfit = firstFloat(payload, "tp", "take_profit")
	sig.StopLoss = firstFloat(payload, "sl", "stop_loss")
	sig.TPPct = firstFloat(payload, "tp_pct", "take_profit_pct")
	sig.SLPct = firstFloat(payload, "sl_pct", "stop_loss_pct")

	return sig, nil
}

// firstValue 按别名优先级取第一个存在的字段
func firstValue(payload map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(payload map[string]interface{}, keys ...string) string {
	v, ok := firstValue(payload, keys...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func firstFloat(payload map[string]interface{}, keys ...string) float64 {
	v, ok := firstValue(payload, keys...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		if s, ok := v.(fmt.Stringer); ok {
			f, err := strconv.ParseFloat(s.String(), 64)
			if err == nil {
				return f
			}
		}
		return 0
	}
}
