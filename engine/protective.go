package engine

import "sigbridge/exchange"

// ProtectiveTargets 保护单目标价
// 0 表示该侧未配置，不挂对应保护单
type ProtectiveTargets struct {
	TakeProfit float64
	StopLoss   float64
}

// ResolveTargets 解析止盈/止损目标价
// 优先级：信号中的绝对价格 > 信号中的百分比 > 配置默认百分比
// 百分比从入场价向方向适配的一侧偏移：多头止盈在上止损在下，空头相反
func ResolveTargets(side Side, entryPrice float64, sig *Signal, defaultTPPct, defaultSLPct float64) ProtectiveTargets {
	var targets ProtectiveTargets

	tpPct := sig.TPPct
	if tpPct == 0 {
		tpPct = defaultTPPct
	}
	slPct := sig.SLPct
	if slPct == 0 {
		slPct = defaultSLPct
	}

	switch {
	case sig.TakeProfit > 0:
		targets.TakeProfit = sig.TakeProfit
	case tpPct > 0:
		if side == SideLong {
			targets.TakeProfit = entryPrice * (1 + tpPct/100)
		} else {
			targets.TakeProfit = entryPrice * (1 - tpPct/100)
		}
	}

	switch {
	case sig.StopLoss > 0:
		targets.StopLoss = sig.StopLoss
	case slPct > 0:
		if side == SideLong {
			targets.StopLoss = entryPrice * (1 - slPct/100)
		} else {
			targets.StopLoss = entryPrice * (1 + slPct/100)
		}
	}

	return targets
}

// TriggerDirectionFor 计算止损单触发方向
// 必须相对当前市价判断而不是只看持仓方向：止损价已被穿越（配置错位）时
// 方向会反转，算错会导致条件单立即触发或永不触发
func TriggerDirectionFor(stopPrice, currentPrice float64) exchange.TriggerDirection {
	if stopPrice < currentPrice {
		return exchange.TriggerDescending
	}
	return exchange.TriggerAscending
}

// closeSide 持仓方向对应的平仓下单方向
func closeSide(side Side) exchange.Side {
	if side == SideLong {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

// openSide 信号方向对应的开仓下单方向
func openSide(side Side) exchange.Side {
	if side == SideLong {
		return exchange.SideBuy
	}
	return exchange.SideSell
}
