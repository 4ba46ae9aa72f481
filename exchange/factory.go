package exchange

import (
	"fmt"

	"sigbridge/config"
	"sigbridge/exchange/binance"
)

// NewGateway 创建交易所网关实例
// venue 允许覆盖配置中的当前交易所，便于多交易所场景
func NewGateway(cfg *config.Config, venue string) (Gateway, error) {
	if venue == "" {
		venue = cfg.App.Venue
	}

	switch venue {
	case "binance":
		exchangeCfg, exists := cfg.Exchanges["binance"]
		if !exists {
			return nil, fmt.Errorf("binance 配置不存在")
		}
		cfgMap := map[string]string{
			"api_key":    exchangeCfg.APIKey,
			"secret_key": exchangeCfg.SecretKey,
			"testnet":    fmt.Sprintf("%v", exchangeCfg.Testnet),
		}
		adapter, err := binance.NewBinanceAdapter(cfgMap)
		if err != nil {
			return nil, err
		}
		return &binanceWrapper{adapter: adapter}, nil

	default:
		return nil, fmt.Errorf("不支持的交易所: %s", venue)
	}
}
