package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"sigbridge/logger"

	"github.com/adshao/go-binance/v2/futures"
)

// 为了避免循环导入，在这里定义需要的类型
type Side string
type ProtectiveKind string
type TriggerDirection string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	KindTakeProfit ProtectiveKind = "take_profit"
	KindStopLoss   ProtectiveKind = "stop_loss"
)

const (
	TriggerAscending  TriggerDirection = "ascending"
	TriggerDescending TriggerDirection = "descending"
)

type MarketOrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      float64
	ReduceOnly    bool
	ClientOrderID string
}

type ConditionalOrderRequest struct {
	Symbol       string
	Side         Side
	Quantity     float64
	Kind         ProtectiveKind
	TriggerPrice float64
	Direction    TriggerDirection
	LimitPrice   float64
	ReduceOnly   bool
}

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

type Position struct {
	Symbol        string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPNL float64
	Leverage      int
	MarginType    string
}

type InstrumentMeta struct {
	Symbol            string
	ContractSize      float64
	PricePrecision    int
	QuantityPrecision int
	MinQuantity       float64
}

// BinanceAdapter 币安 USDT 永续合约适配器
type BinanceAdapter struct {
	client     *futures.Client
	useTestnet bool

	// 合约元信息缓存（symbol → meta）
	metaMu    sync.RWMutex
	metaCache map[string]*InstrumentMeta

	// 速率限制相关
	lastAPICallTime time.Time
	apiCallMu       sync.Mutex
	minAPIInterval  time.Duration
}

// NewBinanceAdapter 创建币安适配器
func NewBinanceAdapter(cfg map[string]string) (*BinanceAdapter, error) {
	apiKey := cfg["api_key"]
	secretKey := cfg["secret_key"]

	// 解析测试网配置
	useTestnet := cfg["testnet"] == "true"
	if useTestnet {
		logger.Info("🌐 [Binance] 使用测试网模式")
	}

	// 设置测试网模式（必须在创建客户端之前设置）
	futures.UseTestnet = useTestnet

	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("Binance API 配置不完整")
	}

	client := futures.NewClient(apiKey, secretKey)

	// 同步服务器时间
	client.NewSetServerTimeService().Do(context.Background())

	return &BinanceAdapter{
		client:         client,
		useTestnet:     useTestnet,
		metaCache:      make(map[string]*InstrumentMeta),
		minAPIInterval: 200 * time.Millisecond, // 最小API调用间隔200ms，避免触发限流
	}, nil
}

// GetName 获取交易所名称
func (b *BinanceAdapter) GetName() string {
	return "binance"
}

// throttle 保证最小API调用间隔
func (b *BinanceAdapter) throttle() {
	b.apiCallMu.Lock()
	elapsed := time.Since(b.lastAPICallTime)
	if elapsed < b.minAPIInterval {
		wait := b.minAPIInterval - elapsed
		b.apiCallMu.Unlock()
		time.Sleep(wait)
		b.apiCallMu.Lock()
	}
	b.lastAPICallTime = time.Now()
	b.apiCallMu.Unlock()
}

// GetLastPrice 获取最新成交价
func (b *BinanceAdapter) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	b.throttle()

	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取最新价格失败: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("未找到交易对 %s 的价格", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("解析价格失败: %w", err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("无效的价格: %.8f", price)
	}

	return price, nil
}

// SetLeverage 设置杠杆倍数
func (b *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	b.throttle()

	_, err := b.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("设置杠杆失败: %w", err)
	}

	logger.Info("✅ [Binance] %s 杠杆已设置为 %dx", symbol, leverage)
	return nil
}

// SetMarginMode 设置保证金模式
func (b *BinanceAdapter) SetMarginMode(ctx context.Context, symbol string, mode string) error {
	b.throttle()

	marginType := futures.MarginTypeCrossed
	if strings.EqualFold(mode, "isolated") {
		marginType = futures.MarginTypeIsolated
	}

	err := b.client.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(marginType).
		Do(ctx)
	if err != nil {
		// -4046: No need to change margin type，模式已一致
		if strings.Contains(err.Error(), "-4046") || strings.Contains(err.Error(), "No need to change margin type") {
			return nil
		}
		return fmt.Errorf("设置保证金模式失败: %w", err)
	}

	logger.Info("✅ [Binance] %s 保证金模式已设置为 %s", symbol, mode)
	return nil
}

// CreateMarketOrder 市价下单
func (b *BinanceAdapter) CreateMarketOrder(ctx context.Context, req *MarketOrderRequest) (*Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("无效的下单数量: %.8f（数量必须大于0）", req.Quantity)
	}

	quantityStr, err := b.formatQuantity(ctx, req.Symbol, req.Quantity)
	if err != nil {
		return nil, err
	}

	b.throttle()

	orderService := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantityStr)

	if req.ClientOrderID != "" {
		orderService = orderService.NewClientOrderID(req.ClientOrderID)
	}

	// 单向持仓模式下平仓单需要 ReduceOnly
	if req.ReduceOnly {
		orderService = orderService.ReduceOnly(true)
	}

	resp, err := orderService.Do(ctx)
	if err != nil {
		return nil, err
	}

	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)

	return &Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          string(futures.OrderTypeMarket),
		Quantity:      req.Quantity,
		ExecutedQty:   executedQty,
		AvgPrice:      avgPrice,
		Status:        string(resp.Status),
		CreatedAt:     time.Now(),
	}, nil
}

// CreateConditionalOrder 挂条件单（止盈/止损）
// 止盈使用 reduce-only 限价单；止损根据触发方向与平仓方向选择
// STOP_MARKET 或 TAKE_PROFIT_MARKET（币安不允许挂出会立即触发的 STOP_MARKET）
func (b *BinanceAdapter) CreateConditionalOrder(ctx context.Context, req *ConditionalOrderRequest) (*Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("无效的下单数量: %.8f（数量必须大于0）", req.Quantity)
	}

	quantityStr, err := b.formatQuantity(ctx, req.Symbol, req.Quantity)
	if err != nil {
		return nil, err
	}

	b.throttle()

	var orderService *futures.CreateOrderService

	switch req.Kind {
	case KindTakeProfit:
		if req.LimitPrice <= 0 {
			return nil, fmt.Errorf("无效的止盈价格: %.8f", req.LimitPrice)
		}
		priceStr, perr := b.formatPrice(ctx, req.Symbol, req.LimitPrice)
		if perr != nil {
			return nil, perr
		}
		orderService = b.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(futures.SideType(req.Side)).
			Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(quantityStr).
			Price(priceStr)

	case KindStopLoss:
		if req.TriggerPrice <= 0 {
			return nil, fmt.Errorf("无效的触发价格: %.8f", req.TriggerPrice)
		}
		triggerStr, perr := b.formatPrice(ctx, req.Symbol, req.TriggerPrice)
		if perr != nil {
			return nil, perr
		}
		orderService = b.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(futures.SideType(req.Side)).
			Type(stopOrderType(req.Side, req.Direction)).
			Quantity(quantityStr).
			StopPrice(triggerStr)

	default:
		return nil, fmt.Errorf("不支持的条件单种类: %s", req.Kind)
	}

	if req.ReduceOnly {
		orderService = orderService.ReduceOnly(true)
	}

	resp, err := orderService.Do(ctx)
	if err != nil {
		return nil, err
	}

	return &Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          string(resp.Type),
		Price:         req.LimitPrice,
		Quantity:      req.Quantity,
		Status:        string(resp.Status),
		CreatedAt:     time.Now(),
	}, nil
}

// stopOrderType 根据平仓方向与触发方向选择币安订单类型
// 卖出平多 + 下穿触发 → STOP_MARKET；卖出平多 + 上穿触发 → TAKE_PROFIT_MARKET
// 买入平空 + 上穿触发 → STOP_MARKET；买入平空 + 下穿触发 → TAKE_PROFIT_MARKET
func stopOrderType(side Side, direction TriggerDirection) futures.OrderType {
	if (side == SideSell && direction == TriggerDescending) ||
		(side == SideBuy && direction == TriggerAscending) {
		return futures.OrderTypeStopMarket
	}
	return futures.OrderTypeTakeProfitMarket
}

// ListPositions 查询持仓（带符号数量，使用 PositionRisk API）
func (b *BinanceAdapter) ListPositions(ctx context.Context, symbol string) ([]*Position, error) {
	const maxRetries = 3
	var lastErr error

	for retry := 0; retry < maxRetries; retry++ {
		b.throttle()

		positionRisks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		if err == nil {
			result := make([]*Position, 0)
			for _, pos := range positionRisks {
				posAmt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
				if posAmt == 0 {
					continue
				}

				entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
				unrealizedPNL, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
				markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
				leverage, _ := strconv.Atoi(pos.Leverage)

				result = append(result, &Position{
					Symbol:        pos.Symbol,
					Size:          posAmt,
					EntryPrice:    entryPrice,
					MarkPrice:     markPrice,
					UnrealizedPNL: unrealizedPNL,
					Leverage:      leverage,
					MarginType:    pos.MarginType,
				})
			}
			return result, nil
		}

		lastErr = err
		errStr := err.Error()

		// 限流错误退避重试，其他错误直接返回
		if strings.Contains(errStr, "-1003") || strings.Contains(errStr, "Way too many requests") ||
			strings.Contains(errStr, "rate limit") {
			backoff := time.Duration(1<<uint(retry)) * time.Second
			logger.Warn("⚠️ [Binance] 触发速率限制，等待 %v 后重试 (第%d次)", backoff, retry+1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-time.After(backoff):
			}
			continue
		}

		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}

	return nil, fmt.Errorf("查询持仓失败（重试%d次）: %w", maxRetries, lastErr)
}

// GetInstrumentMeta 获取合约元信息（带缓存）
func (b *BinanceAdapter) GetInstrumentMeta(ctx context.Context, symbol string) (*InstrumentMeta, error) {
	b.metaMu.RLock()
	if meta, ok := b.metaCache[symbol]; ok {
		b.metaMu.RUnlock()
		return meta, nil
	}
	b.metaMu.RUnlock()

	b.throttle()

	exchangeInfo, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取交易所信息失败: %w", err)
	}

	for _, s := range exchangeInfo.Symbols {
		if s.Symbol != symbol {
			continue
		}

		meta := &InstrumentMeta{
			Symbol:            s.Symbol,
			ContractSize:      1.0, // USDT 永续一张合约即一个标的单位
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		if lotSize := s.LotSizeFilter(); lotSize != nil {
			meta.MinQuantity, _ = strconv.ParseFloat(lotSize.MinQuantity, 64)
		}

		b.metaMu.Lock()
		b.metaCache[symbol] = meta
		b.metaMu.Unlock()

		logger.Info("ℹ️ [Binance 合约信息] %s - 数量精度:%d, 价格精度:%d, 最小数量:%.8f",
			symbol, meta.QuantityPrecision, meta.PricePrecision, meta.MinQuantity)
		return meta, nil
	}

	return nil, fmt.Errorf("未找到合约信息: %s", symbol)
}

// formatQuantity 按合约精度格式化数量
func (b *BinanceAdapter) formatQuantity(ctx context.Context, symbol string, quantity float64) (string, error) {
	qDec := 3 // 元信息不可用时的默认精度
	if meta, err := b.GetInstrumentMeta(ctx, symbol); err == nil {
		qDec = meta.QuantityPrecision
	} else {
		logger.Warn("⚠️ [Binance] 获取合约信息失败: %v，使用默认精度", err)
	}

	quantityStr := fmt.Sprintf("%.*f", qDec, quantity)
	if q, _ := strconv.ParseFloat(quantityStr, 64); q <= 0 {
		return "", fmt.Errorf("下单数量 %.8f 在精度 %d 下格式化后为 0", quantity, qDec)
	}
	return quantityStr, nil
}

// formatPrice 按合约精度格式化价格
func (b *BinanceAdapter) formatPrice(ctx context.Context, symbol string, price float64) (string, error) {
	if price <= 0 {
		return "", fmt.Errorf("无效的价格: %.8f（价格必须大于0）", price)
	}

	pDec := 2 // 元信息不可用时的默认精度
	if meta, err := b.GetInstrumentMeta(ctx, symbol); err == nil {
		pDec = meta.PricePrecision
	}

	return fmt.Sprintf("%.*f", pDec, price), nil
}
