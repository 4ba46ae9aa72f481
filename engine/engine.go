package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"sigbridge/config"
	"sigbridge/database"
	"sigbridge/event"
	"sigbridge/exchange"
	"sigbridge/lock"
	"sigbridge/logger"
	"sigbridge/metrics"
	"sigbridge/storage"
	"sigbridge/utils"
)

// 执行结果状态
const (
	StatusOK        = "ok"
	StatusSimulated = "simulated_ok"
	StatusRejected  = "rejected"
	StatusError     = "error"
)

// RejectReason 拒绝原因
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonInvalidSignal     RejectReason = "invalid_signal"
	ReasonStaleSignal       RejectReason = "stale_signal"
	ReasonBadSecret         RejectReason = "bad_secret"
	ReasonDuplicateSignal   RejectReason = "duplicate_signal"
	ReasonTradingDisabled   RejectReason = "trading_disabled"
	ReasonCooldown          RejectReason = "cooldown"
	ReasonAlreadyInPosition RejectReason = "already_in_position"
)

// Result 单个信号的执行终态
type Result struct {
	Status         string       `json:"status"`
	Reason         RejectReason `json:"reason,omitempty"`
	Detail         string       `json:"detail,omitempty"`
	Venue          string       `json:"venue"`
	Symbol         string       `json:"symbol,omitempty"`
	Side           string       `json:"side,omitempty"`
	Contracts      int          `json:"contracts,omitempty"`
	OrderID        string       `json:"order_id,omitempty"`
	FillPrice      float64      `json:"fill_price,omitempty"`
	FlippedFrom    string       `json:"flipped_from,omitempty"`
	TPOrderID      string       `json:"tp_order_id,omitempty"`
	SLOrderID      string       `json:"sl_order_id,omitempty"`
	ProtectiveNote string       `json:"protective_note,omitempty"`
	DryRun         bool         `json:"dry_run"`
}

// Rejected 是否为策略拒绝（非错误）
func (r *Result) Rejected() bool {
	return r.Status == StatusRejected
}

// Engine 信号执行器
// 串起去重、品种锁、持仓对账、开平仓决策、下单与保护单的完整链路
type Engine struct {
	cfg     func() *config.Config
	gateway exchange.Gateway
	store   *storage.DedupStore
	journal database.Journal
	locker  lock.DistributedLock
	tracker *Tracker
	bus     *event.EventBus
	metrics *metrics.PrometheusMetrics

	mu       sync.Mutex
	inflight map[string]struct{} // 进程内同键并发保护
}

// NewEngine 创建信号执行器
// cfg 取自配置热加载器，每次执行读取最新配置
func NewEngine(cfg func() *config.Config, gw exchange.Gateway, store *storage.DedupStore,
	journal database.Journal, locker lock.DistributedLock, bus *event.EventBus) *Engine {
	return &Engine{
		cfg:      cfg,
		gateway:  gw,
		store:    store,
		journal:  journal,
		locker:   locker,
		tracker:  NewTracker(),
		bus:      bus,
		metrics:  metrics.GetPrometheusMetrics(),
		inflight: make(map[string]struct{}),
	}
}

// Tracker 暴露持仓缓存（状态接口用）
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Execute 执行一个交易信号，返回终态结果
// 同一 K 线的信号至多执行一次：成交和策略拒绝写入去重库，
// 网关瞬时错误不写入，重投递可以重试
func (e *Engine) Execute(ctx context.Context, sig *Signal) *Result {
	start := utils.NowUTC()
	cfg := e.cfg()
	venue := cfg.App.Venue

	e.metrics.RecordSignalReceived(sig.Source, venue, sig.RawSymbol, string(sig.Side))

	// 1. 基础校验
	if err := sig.Validate(); err != nil {
		return e.reject(sig, venue, sig.RawSymbol, ReasonInvalidSignal, err.Error(), start, false)
	}

	// 2. 密钥校验（只约束 webhook 来源，邮件通道靠邮箱凭据鉴权）
	if secret := cfg.Webhook.Secret; secret != "" && sig.Source == "webhook" && sig.Secret != secret {
		logger.Warn("🔒 [执行器] 信号密钥不匹配: source=%s symbol=%s", sig.Source, sig.RawSymbol)
		return e.reject(sig, venue, sig.RawSymbol, ReasonBadSecret, "密钥不匹配", start, false)
	}

	// 3. 新鲜度：过期信号不标记去重（不是本 K 线的终态）
	staleness := time.Duration(cfg.Trading.StalenessHours) * time.Hour
	if age := sig.Age(utils.NowUTC()); age > staleness {
		detail := fmt.Sprintf("信号已过期: age=%s 阈值=%s", age.Round(time.Second), staleness)
		logger.Warn("⏰ [执行器] %s symbol=%s", detail, sig.RawSymbol)
		return e.reject(sig, venue, sig.RawSymbol, ReasonStaleSignal, detail, start, false)
	}

	// 4. 交易开关
	if !cfg.Trading.Enabled {
		return e.reject(sig, venue, sig.RawSymbol, ReasonTradingDisabled, "交易已关闭", start, false)
	}

	key := sig.DedupKey(venue)

	// 5. 进程内同键并发保护：同一信号的并发投递只放行一个
	e.mu.Lock()
	if _, busy := e.inflight[key]; busy {
		e.mu.Unlock()
		e.metrics.RecordSignalDuplicate(venue, sig.RawSymbol)
		return e.reject(sig, venue, sig.RawSymbol, ReasonDuplicateSignal, "同键信号正在处理中", start, false)
	}
	e.inflight[key] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}()

	// 6. 持久化去重：读失败时拒绝执行，宁可漏单不可重复下单
	done, err := e.store.IsSignalProcessed(key)
	if err != nil {
		return e.errorResult(sig, venue, sig.RawSymbol, fmt.Sprintf("去重库查询失败: %v", err), start)
	}
	if done {
		logger.Info("[执行器] 忽略重复信号: key=%s", key)
		e.metrics.RecordSignalDuplicate(venue, sig.RawSymbol)
		return e.reject(sig, venue, sig.RawSymbol, ReasonDuplicateSignal, "信号已处理过", start, false)
	}

	// 7. 品种符号映射：解析不出合约符号且没有默认合约时拒绝
	symbol := exchange.NewSymbolMapper(cfg.Trading.SymbolMap, cfg.Trading.DefaultSymbol).Resolve(sig.RawSymbol)
	if symbol == "" {
		return e.reject(sig, venue, sig.RawSymbol, ReasonInvalidSignal,
			fmt.Sprintf("无法解析合约符号: %q", sig.RawSymbol), start, false)
	}

	// 8. 品种互斥锁：同一品种的信号串行处理
	lockKey := fmt.Sprintf("%s:%s", venue, symbol)
	lockTTL := time.Duration(cfg.DistributedLock.DefaultTTL) * time.Second
	if lockTTL <= 0 {
		// TTL 为 0 的锁写入即过期，互斥完全失效
		lockTTL = 30 * time.Second
	}
	gwTimeout := time.Duration(cfg.Trading.GatewayTimeoutSec) * time.Second

	lockCtx, cancelLock := context.WithTimeout(ctx, gwTimeout)
	err = e.locker.Lock(lockCtx, lockKey, lockTTL)
	cancelLock()
	if err != nil {
		e.metrics.RecordLockConflict(lockKey)
		return e.errorResult(sig, venue, symbol, fmt.Sprintf("获取品种锁失败: %v", err), start)
	}
	defer func() {
		if err := e.locker.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
			logger.Warn("[执行器] 释放品种锁失败: key=%s err=%v", lockKey, err)
		}
	}()

	// 锁内复查：等锁期间可能有并发投递已经完成
	if done, err := e.store.IsSignalProcessed(key); err == nil && done {
		e.metrics.RecordSignalDuplicate(venue, sig.RawSymbol)
		return e.reject(sig, venue, symbol, ReasonDuplicateSignal, "信号已处理过", start, false)
	}

	return e.executeLocked(ctx, cfg, sig, venue, symbol, key, gwTimeout, start)
}

// executeLocked 持有品种锁后的执行主体
func (e *Engine) executeLocked(ctx context.Context, cfg *config.Config, sig *Signal,
	venue, symbol, key string, gwTimeout time.Duration, start time.Time) *Result {

	callCtx := func(parent context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(parent, gwTimeout)
	}

	// 杠杆/保证金模式尽力设置，失败不阻断下单
	leverage := sig.Leverage
	if leverage <= 0 {
		leverage = cfg.Trading.DefaultLeverage
	}
	if leverage > 0 {
		lctx, cancel := callCtx(ctx)
		if err := e.gateway.SetLeverage(lctx, symbol, leverage); err != nil {
			logger.Warn("[执行器] 设置杠杆失败: symbol=%s leverage=%d err=%v", symbol, leverage, err)
		}
		cancel()
	}
	marginMode := sig.MarginMode
	if marginMode == "" {
		marginMode = cfg.Trading.MarginMode
	}
	if marginMode != "" {
		mctx, cancel := callCtx(ctx)
		if err := e.gateway.SetMarginMode(mctx, symbol, marginMode); err != nil {
			logger.Warn("[执行器] 设置保证金模式失败: symbol=%s mode=%s err=%v", symbol, marginMode, err)
		}
		cancel()
	}

	// 最新成交价
	pctx, cancelPrice := callCtx(ctx)
	price, err := e.gateway.GetLastPrice(pctx, symbol)
	cancelPrice()
	if err != nil {
		return e.errorResult(sig, venue, symbol, fmt.Sprintf("获取最新价失败: %v", err), start)
	}

	// 持仓对账：每次决策前以交易所实际持仓为准
	prev := e.tracker.CurrentState(symbol)
	rctx, cancelRecon := callCtx(ctx)
	rec, err := e.tracker.Reconcile(rctx, e.gateway, symbol)
	cancelRecon()
	if err != nil {
		return e.errorResult(sig, venue, symbol, fmt.Sprintf("持仓对账失败: %v", err), start)
	}
	if prev.State != rec.State || prev.Size != rec.Size {
		e.recordReconciliation(venue, symbol, prev, rec)
	}
	e.metrics.SetPositionSize(venue, symbol, signedPositionSize(rec))

	// 开平仓决策
	decision, reason := e.tracker.Decide(symbol, sig.Side, utils.NowUTC())
	if decision == DecisionReject {
		// 冷却/同向拒绝是本 K 线的确定终态，写入去重库防止重投递晚开仓
		logger.Info("🚫 [执行器] 信号被拒绝: symbol=%s side=%s reason=%s", symbol, sig.Side, reason)
		return e.reject(sig, venue, symbol, reason, "", start, true)
	}

	// 反手：尽力平掉反向仓位，平仓失败不阻断开仓
	flippedFrom := ""
	closeNote := ""
	if decision == DecisionFlip {
		flippedFrom = string(rec.State)
		logger.Info("🔄 [执行器] 反手: symbol=%s %s -> %s size=%.4f", symbol, rec.State, sig.Side, rec.Size)
		if !cfg.Trading.DryRun && rec.Size > 0 {
			cctx, cancel := callCtx(ctx)
			_, err := e.gateway.CreateMarketOrder(cctx, &exchange.MarketOrderRequest{
				Symbol:        symbol,
				Side:          openSide(sig.Side),
				Quantity:      rec.Size,
				ReduceOnly:    true,
				ClientOrderID: "sb-close-" + uuid.New().String()[:8],
			})
			cancel()
			if err != nil {
				closeNote = fmt.Sprintf("反手平仓失败: %v", err)
				logger.Error("⚠️ [执行器] 反手平仓失败（继续开仓）: symbol=%s err=%v", symbol, err)
				e.bus.PublishData(event.EventTypeOrderFailed, map[string]interface{}{
					"venue": venue, "symbol": symbol, "phase": "flip_close", "error": err.Error(),
				})
			}
		}
		e.metrics.RecordPositionFlip(venue, symbol)
	}

	// 仓位规模
	notional := sig.Notional
	if notional <= 0 {
		notional = cfg.Trading.DefaultNotionalUSDT
	}
	contractSize := e.contractSize(ctx, cfg, symbol, gwTimeout)
	qty := Contracts(notional, price, contractSize)

	// 开仓
	res := &Result{
		Venue:          venue,
		Symbol:         symbol,
		Side:           string(sig.Side),
		Contracts:      qty,
		FlippedFrom:    flippedFrom,
		ProtectiveNote: closeNote,
		DryRun:         cfg.Trading.DryRun,
	}
	if cfg.Trading.DryRun {
		res.Status = StatusSimulated
		res.OrderID = "sim-" + uuid.New().String()
		res.FillPrice = price
		logger.Info("🧪 [执行器] 模拟开仓: symbol=%s side=%s 张数=%d 价格=%.4f", symbol, sig.Side, qty, price)
	} else {
		octx, cancel := callCtx(ctx)
		order, err := e.gateway.CreateMarketOrder(octx, &exchange.MarketOrderRequest{
			Symbol:        symbol,
			Side:          openSide(sig.Side),
			Quantity:      float64(qty) * contractSize,
			ClientOrderID: "sb-" + uuid.New().String()[:16],
		})
		cancel()
		if err != nil {
			// 下单失败不写去重库，重投递可以重试
			e.metrics.RecordOrderFailed(venue, symbol, string(sig.Side))
			e.bus.PublishData(event.EventTypeOrderFailed, map[string]interface{}{
				"venue": venue, "symbol": symbol, "side": string(sig.Side), "error": err.Error(),
			})
			return e.errorResult(sig, venue, symbol, fmt.Sprintf("市价开仓失败: %v", err), start)
		}
		res.Status = StatusOK
		res.OrderID = strconv.FormatInt(order.OrderID, 10)
		res.FillPrice = order.AvgPrice
		if res.FillPrice <= 0 {
			res.FillPrice = price
		}
		e.metrics.RecordOrderPlaced(venue, symbol, string(sig.Side))
		logger.Info("✅ [执行器] 开仓成交: symbol=%s side=%s 张数=%d 均价=%.4f orderID=%s",
			symbol, sig.Side, qty, res.FillPrice, res.OrderID)
	}

	// 成交后的账务必须完成，即使请求方已断开
	bctx := context.WithoutCancel(ctx)

	// 本地缓存与对账同单位：记标的数量而非张数
	cooldown := time.Duration(cfg.Trading.CooldownSeconds) * time.Second
	e.tracker.ApplyFill(symbol, sig.Side, res.FillPrice, float64(qty)*contractSize, cooldown)
	e.metrics.SetPositionSize(venue, symbol, signedPositionSize(e.tracker.CurrentState(symbol)))

	if err := e.markProcessed(sig, venue, res.Status); err != nil {
		logger.Error("⚠️ [执行器] 写入去重库失败: key=%s err=%v", key, err)
	}

	// 保护单：止盈/止损各自独立，失败不回滚已成交的开仓
	if !cfg.Trading.DryRun {
		e.placeProtective(bctx, cfg, sig, res, price, float64(qty)*contractSize, gwTimeout)
	}

	e.saveJournal(sig, res, start)

	e.bus.PublishData(event.EventTypeOrderFilled, map[string]interface{}{
		"venue": venue, "symbol": symbol, "side": string(sig.Side),
		"contracts": qty, "fill_price": res.FillPrice,
		"order_id": res.OrderID, "dry_run": res.DryRun,
	})
	if flippedFrom != "" {
		e.bus.PublishData(event.EventTypePositionFlipped, map[string]interface{}{
			"venue": venue, "symbol": symbol, "from": flippedFrom, "to": string(sig.Side),
		})
	}
	e.metrics.RecordSignalLatency(venue, symbol, time.Since(start))
	return res
}

// placeProtective 挂止盈/止损保护单，结果写入 res
func (e *Engine) placeProtective(ctx context.Context, cfg *config.Config, sig *Signal,
	res *Result, currentPrice, quantity float64, gwTimeout time.Duration) {

	targets := ResolveTargets(sig.Side, res.FillPrice, sig, cfg.Trading.TakeProfitPct, cfg.Trading.StopLossPct)
	cs := closeSide(sig.Side)

	if targets.TakeProfit > 0 {
		tctx, cancel := context.WithTimeout(ctx, gwTimeout)
		order, err := e.gateway.CreateConditionalOrder(tctx, &exchange.ConditionalOrderRequest{
			Symbol:       res.Symbol,
			Side:         cs,
			Quantity:     quantity,
			Kind:         exchange.KindTakeProfit,
			TriggerPrice: targets.TakeProfit,
			LimitPrice:   targets.TakeProfit,
			ReduceOnly:   true,
		})
		cancel()
		if err != nil {
			e.protectiveFailed(res, "take_profit", err)
		} else {
			res.TPOrderID = strconv.FormatInt(order.OrderID, 10)
			logger.Info("🎯 [执行器] 止盈单已挂: symbol=%s 价格=%.4f orderID=%s", res.Symbol, targets.TakeProfit, res.TPOrderID)
			e.bus.PublishData(event.EventTypeProtectivePlaced, map[string]interface{}{
				"venue": res.Venue, "symbol": res.Symbol, "kind": "take_profit",
				"trigger_price": targets.TakeProfit, "order_id": res.TPOrderID,
			})
		}
	}

	if targets.StopLoss > 0 {
		sctx, cancel := context.WithTimeout(ctx, gwTimeout)
		order, err := e.gateway.CreateConditionalOrder(sctx, &exchange.ConditionalOrderRequest{
			Symbol:       res.Symbol,
			Side:         cs,
			Quantity:     quantity,
			Kind:         exchange.KindStopLoss,
			TriggerPrice: targets.StopLoss,
			Direction:    TriggerDirectionFor(targets.StopLoss, currentPrice),
			ReduceOnly:   true,
		})
		cancel()
		if err != nil {
			e.protectiveFailed(res, "stop_loss", err)
		} else {
			res.SLOrderID = strconv.FormatInt(order.OrderID, 10)
			logger.Info("🛡️ [执行器] 止损单已挂: symbol=%s 触发价=%.4f orderID=%s", res.Symbol, targets.StopLoss, res.SLOrderID)
			e.bus.PublishData(event.EventTypeProtectivePlaced, map[string]interface{}{
				"venue": res.Venue, "symbol": res.Symbol, "kind": "stop_loss",
				"trigger_price": targets.StopLoss, "order_id": res.SLOrderID,
			})
		}
	}
}

func (e *Engine) protectiveFailed(res *Result, kind string, err error) {
	note := fmt.Sprintf("%s 挂单失败: %v", kind, err)
	if res.ProtectiveNote != "" {
		res.ProtectiveNote += "; " + note
	} else {
		res.ProtectiveNote = note
	}
	logger.Error("🚨 [执行器] 保护单失败（持仓无保护）: symbol=%s kind=%s err=%v", res.Symbol, kind, err)
	e.metrics.RecordProtectiveFailed(res.Venue, res.Symbol, kind)
	e.bus.PublishData(event.EventTypeProtectiveFailed, map[string]interface{}{
		"venue": res.Venue, "symbol": res.Symbol, "kind": kind, "error": err.Error(),
	})
}

// recordReconciliation 本地缓存与交易所持仓不一致时记录差异快照
// 差异一律以交易所侧为准（对账已覆盖本地缓存）
func (e *Engine) recordReconciliation(venue, symbol string, local, remote PositionRecord) {
	logger.Warn("⚖️ [执行器] 持仓对账不一致，采用交易所侧: symbol=%s 本地=%s/%.4f 交易所=%s/%.4f",
		symbol, local.State, local.Size, remote.State, remote.Size)
	e.bus.PublishData(event.EventTypeReconciliation, map[string]interface{}{
		"venue": venue, "symbol": symbol,
		"local_state": string(local.State), "local_size": local.Size,
		"remote_state": string(remote.State), "remote_size": remote.Size,
	})
	if e.journal == nil {
		return
	}
	localJSON, _ := json.Marshal(local)
	remoteJSON, _ := json.Marshal(remote)
	err := e.journal.SaveReconciliation(context.Background(), &database.Reconciliation{
		Venue:       venue,
		Symbol:      symbol,
		LocalValue:  string(localJSON),
		RemoteValue: string(remoteJSON),
		Adopted:     true,
	})
	if err != nil {
		logger.Error("⚠️ [执行器] 对账记录落库失败: err=%v", err)
	}
}

// contractSize 合约面值：交易所元信息 > 配置覆盖 > 1.0
func (e *Engine) contractSize(ctx context.Context, cfg *config.Config, symbol string, gwTimeout time.Duration) float64 {
	mctx, cancel := context.WithTimeout(ctx, gwTimeout)
	defer cancel()
	if meta, err := e.gateway.GetInstrumentMeta(mctx, symbol); err == nil && meta.ContractSize > 0 {
		return meta.ContractSize
	}
	if size, ok := cfg.Trading.ContractSizes[symbol]; ok && size > 0 {
		return size
	}
	return 1.0
}

// reject 策略/校验拒绝
// mark=true 时写入去重库（冷却、同向等确定终态），重投递直接命中去重
func (e *Engine) reject(sig *Signal, venue, symbol string, reason RejectReason, detail string, start time.Time, mark bool) *Result {
	e.metrics.RecordSignalRejected(venue, symbol, string(reason))
	if mark {
		if err := e.markProcessed(sig, venue, string(reason)); err != nil {
			logger.Error("⚠️ [执行器] 拒绝终态写入去重库失败: err=%v", err)
		}
	}
	res := &Result{
		Status: StatusRejected,
		Reason: reason,
		Detail: detail,
		Venue:  venue,
		Symbol: symbol,
		Side:   string(sig.Side),
	}
	e.saveJournal(sig, res, start)
	e.bus.PublishData(event.EventTypeSignalRejected, map[string]interface{}{
		"venue": venue, "symbol": symbol, "side": string(sig.Side),
		"reason": string(reason), "detail": detail,
	})
	return res
}

// errorResult 执行错误（网关超时、下单失败等瞬时故障），不写去重库
func (e *Engine) errorResult(sig *Signal, venue, symbol, detail string, start time.Time) *Result {
	logger.Error("❌ [执行器] 执行失败: symbol=%s side=%s %s", symbol, sig.Side, detail)
	res := &Result{
		Status: StatusError,
		Detail: detail,
		Venue:  venue,
		Symbol: symbol,
		Side:   string(sig.Side),
	}
	e.saveJournal(sig, res, start)
	e.bus.PublishData(event.EventTypeError, map[string]interface{}{
		"venue": venue, "symbol": symbol, "detail": detail,
	})
	return res
}

func (e *Engine) markProcessed(sig *Signal, venue, status string) error {
	return e.store.MarkSignalProcessed(&storage.SignalRecord{
		Key:          sig.DedupKey(venue),
		Venue:        venue,
		Instrument:   sig.RawSymbol,
		Side:         string(sig.Side),
		Timeframe:    sig.TimeframeOrDefault(),
		BarTimeMs:    sig.BarTimeMs(),
		ResultStatus: status,
	})
}

// saveJournal 执行流水落库，失败只记日志
func (e *Engine) saveJournal(sig *Signal, res *Result, start time.Time) {
	if e.journal == nil {
		return
	}
	rejectReason := string(res.Reason)
	if res.Status == StatusError {
		rejectReason = "execution_error"
	}
	err := e.journal.SaveExecution(context.Background(), &database.Execution{
		SignalKey:      sig.DedupKey(res.Venue),
		Source:         sig.Source,
		Venue:          res.Venue,
		Symbol:         res.Symbol,
		Side:           string(sig.Side),
		Status:         res.Status,
		RejectReason:   rejectReason,
		Contracts:      float64(res.Contracts),
		FillPrice:      res.FillPrice,
		OrderID:        res.OrderID,
		TPOrderID:      res.TPOrderID,
		SLOrderID:      res.SLOrderID,
		FlippedFrom:    res.FlippedFrom,
		DryRun:         res.DryRun,
		BarTimeMs:      sig.BarTimeMs(),
		LatencyMs:      time.Since(start).Milliseconds(),
		ProtectiveNote: res.ProtectiveNote,
	})
	if err != nil {
		logger.Error("⚠️ [执行器] 执行流水落库失败: err=%v", err)
	}
}

// signedPositionSize 带符号持仓（多为正，空为负）
func signedPositionSize(rec PositionRecord) float64 {
	switch rec.State {
	case StateLong:
		return rec.Size
	case StateShort:
		return -rec.Size
	default:
		return 0
	}
}
