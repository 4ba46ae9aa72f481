package binance

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
)

func TestStopOrderType(t *testing.T) {
	cases := []struct {
		name      string
		side      Side
		direction TriggerDirection
		want      futures.OrderType
	}{
		{"平多止损（下穿触发）", SideSell, TriggerDescending, futures.OrderTypeStopMarket},
		{"平多触发价在上方", SideSell, TriggerAscending, futures.OrderTypeTakeProfitMarket},
		{"平空止损（上穿触发）", SideBuy, TriggerAscending, futures.OrderTypeStopMarket},
		{"平空触发价在下方", SideBuy, TriggerDescending, futures.OrderTypeTakeProfitMarket},
	}
	for _, c := range cases {
		if got := stopOrderType(c.side, c.direction); got != c.want {
			t.Errorf("%s: 期望 %s 实际 %s", c.name, c.want, got)
		}
	}
}

func TestNewBinanceAdapterIncompleteConfig(t *testing.T) {
	_, err := NewBinanceAdapter(map[string]string{"api_key": "only-key"})
	if err == nil {
		t.Error("缺少 secret_key 应返回错误")
	}
}
