package exchange

import (
	"context"

	"sigbridge/exchange/binance"
)

// binanceWrapper 币安包装器
type binanceWrapper struct {
	adapter *binance.BinanceAdapter
}

// Name 交易所名称
func (w *binanceWrapper) Name() string {
	return w.adapter.GetName()
}

// GetLastPrice 获取最新成交价
func (w *binanceWrapper) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	return w.adapter.GetLastPrice(ctx, symbol)
}

// SetLeverage 设置杠杆倍数
func (w *binanceWrapper) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return w.adapter.SetLeverage(ctx, symbol, leverage)
}

// SetMarginMode 设置保证金模式
func (w *binanceWrapper) SetMarginMode(ctx context.Context, symbol string, mode string) error {
	return w.adapter.SetMarginMode(ctx, symbol, mode)
}

// CreateMarketOrder 市价下单
func (w *binanceWrapper) CreateMarketOrder(ctx context.Context, req *MarketOrderRequest) (*Order, error) {
	order, err := w.adapter.CreateMarketOrder(ctx, &binance.MarketOrderRequest{
		Symbol:        req.Symbol,
		Side:          binance.Side(req.Side),
		Quantity:      req.Quantity,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, err
	}

	return convertBinanceOrder(order), nil
}

// CreateConditionalOrder 挂条件单
func (w *binanceWrapper) CreateConditionalOrder(ctx context.Context, req *ConditionalOrderRequest) (*Order, error) {
	order, err := w.adapter.CreateConditionalOrder(ctx, &binance.ConditionalOrderRequest{
		Symbol:       req.Symbol,
		Side:         binance.Side(req.Side),
		Quantity:     req.Quantity,
		Kind:         binance.ProtectiveKind(req.Kind),
		TriggerPrice: req.TriggerPrice,
		Direction:    binance.TriggerDirection(req.Direction),
		LimitPrice:   req.LimitPrice,
		ReduceOnly:   req.ReduceOnly,
	})
	if err != nil {
		return nil, err
	}

	return convertBinanceOrder(order), nil
}

// ListPositions 查询持仓
func (w *binanceWrapper) ListPositions(ctx context.Context, symbol string) ([]*Position, error) {
	positions, err := w.adapter.ListPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}

	result := make([]*Position, len(positions))
	for i, pos := range positions {
		result[i] = &Position{
			Symbol:        pos.Symbol,
			Size:          pos.Size,
			EntryPrice:    pos.EntryPrice,
			MarkPrice:     pos.MarkPrice,
			UnrealizedPNL: pos.UnrealizedPNL,
			Leverage:      pos.Leverage,
			MarginType:    pos.MarginType,
		}
	}
	return result, nil
}

// GetInstrumentMeta 获取合约元信息
func (w *binanceWrapper) GetInstrumentMeta(ctx context.Context, symbol string) (*InstrumentMeta, error) {
	meta, err := w.adapter.GetInstrumentMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}

	return &InstrumentMeta{
		Symbol:            meta.Symbol,
		ContractSize:      meta.ContractSize,
		PricePrecision:    meta.PricePrecision,
		QuantityPrecision: meta.QuantityPrecision,
		MinQuantity:       meta.MinQuantity,
	}, nil
}

// convertBinanceOrder 转换订单结构
func convertBinanceOrder(order *binance.Order) *Order {
	return &Order{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          Side(order.Side),
		Type:          order.Type,
		Price:         order.Price,
		Quantity:      order.Quantity,
		ExecutedQty:   order.ExecutedQty,
		AvgPrice:      order.AvgPrice,
		Status:        order.Status,
		CreatedAt:     order.CreatedAt,
	}
}
