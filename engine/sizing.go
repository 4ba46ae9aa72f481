package engine

import "math"

// Contracts 名义金额换算合约张数
// raw = notional / (price × contractSize)，向下取整后钳制为至少 1 张：
// 通过了所有前置检查的信号不允许被静默缩到 0
func Contracts(notionalUSD, lastPrice, contractSize float64) int {
	if lastPrice <= 0 || contractSize <= 0 {
		return 1
	}

	raw := notionalUSD / (lastPrice * contractSize)
	n := int(math.Floor(raw))
	if n < 1 {
		return 1
	}
	return n
}
