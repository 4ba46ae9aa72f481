package exchange

import (
	"context"
	"time"
)

// Side 下单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ProtectiveKind 保护单种类
type ProtectiveKind string

const (
	KindTakeProfit ProtectiveKind = "take_profit"
	KindStopLoss   ProtectiveKind = "stop_loss"
)

// TriggerDirection 触发方向
// Ascending: 价格上穿触发价时触发；Descending: 价格下穿触发价时触发
type TriggerDirection string

const (
	TriggerAscending  TriggerDirection = "ascending"
	TriggerDescending TriggerDirection = "descending"
)

// MarketOrderRequest 市价单请求
type MarketOrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      float64
	ReduceOnly    bool
	ClientOrderID string
}

// ConditionalOrderRequest 条件单请求（止盈/止损）
type ConditionalOrderRequest struct {
	Symbol       string
	Side         Side // 平仓方向（与持仓方向相反）
	Quantity     float64
	Kind         ProtectiveKind
	TriggerPrice float64
	Direction    TriggerDirection // 止损单的触发方向
	LimitPrice   float64          // 止盈限价单的挂单价
	ReduceOnly   bool
}

// Order 订单
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          string
	Price         float64
	Quantity      float64
	ExecutedQty   float64
	AvgPrice      float64
	Status        string
	CreatedAt     time.Time
}

// Position 持仓（Size 带符号：正为多，负为空）
type Position struct {
	Symbol        string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPNL float64
	Leverage      int
	MarginType    string
}

// InstrumentMeta 合约元信息
type InstrumentMeta struct {
	Symbol            string
	ContractSize      float64 // 一张合约对应的标的数量
	PricePrecision    int
	QuantityPrecision int
	MinQuantity       float64
}

// Gateway 交易所网关接口
// 所有阻塞调用必须尊重 ctx；执行器按配置的网关超时传入带时限的 ctx
type Gateway interface {
	// Name 交易所名称
	Name() string

	// GetLastPrice 获取最新成交价
	GetLastPrice(ctx context.Context, symbol string) (float64, error)

	// SetLeverage 设置杠杆倍数
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetMarginMode 设置保证金模式（cross / isolated）
	SetMarginMode(ctx context.Context, symbol string, mode string) error

	// CreateMarketOrder 市价下单
	CreateMarketOrder(ctx context.Context, req *MarketOrderRequest) (*Order, error)

	// CreateConditionalOrder 挂条件单（止盈/止损）
	CreateConditionalOrder(ctx context.Context, req *ConditionalOrderRequest) (*Order, error)

	// ListPositions 查询持仓（带符号数量）
	ListPositions(ctx context.Context, symbol string) ([]*Position, error)

	// GetInstrumentMeta 获取合约元信息
	GetInstrumentMeta(ctx context.Context, symbol string) (*InstrumentMeta, error)
}
