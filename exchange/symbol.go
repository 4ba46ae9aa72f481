package exchange

import (
	"strings"
)

// SymbolMapper 信号品种符号到交易所合约符号的映射
// TradingView 等信号源的符号形如 "BINANCE:BTCUSDT.P"、"BTCUSDT.P"、"BTC"，
// 交易所需要裸合约符号 "BTCUSDT"
type SymbolMapper struct {
	overrides     map[string]string // 配置的显式映射（原始符号 → 合约符号）
	defaultSymbol string            // 信号未携带符号时的默认合约
}

// NewSymbolMapper 创建符号映射器
func NewSymbolMapper(overrides map[string]string, defaultSymbol string) *SymbolMapper {
	normalized := make(map[string]string, len(overrides))
	for k, v := range overrides {
		normalized[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	return &SymbolMapper{
		overrides:     normalized,
		defaultSymbol: strings.ToUpper(strings.TrimSpace(defaultSymbol)),
	}
}

// 常见计价币种后缀，用于判断裸基础币符号
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD"}

// Resolve 将原始信号符号解析为交易所合约符号
// 解析顺序：显式映射 → 去交易所前缀 → 去永续后缀 → 裸基础币补计价币
func (m *SymbolMapper) Resolve(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return m.defaultSymbol
	}

	// 显式映射优先（按原始形态匹配）
	if mapped, ok := m.overrides[s]; ok {
		return mapped
	}

	// 去交易所前缀: "BINANCE:BTCUSDT.P" → "BTCUSDT.P"
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}

	// 去永续合约后缀: "BTCUSDT.P" → "BTCUSDT", "BTCUSDTPERP" → "BTCUSDT"
	s = strings.TrimSuffix(s, ".P")
	s = strings.TrimSuffix(s, "PERP")
	s = strings.TrimSuffix(s, "_")
	s = strings.TrimSuffix(s, "-")

	// 规整后再查一次映射
	if mapped, ok := m.overrides[s]; ok {
		return mapped
	}

	if s == "" {
		return m.defaultSymbol
	}

	// 裸基础币: "BTC" → "BTCUSDT"
	if !hasQuoteSuffix(s) {
		s += "USDT"
	}

	return s
}

// hasQuoteSuffix 判断符号是否已带计价币种后缀
func hasQuoteSuffix(s string) bool {
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return true
		}
	}
	return false
}
