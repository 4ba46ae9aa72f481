package engine

import (
	"context"
	"sync"
	"time"

	"sigbridge/exchange"
)

// PositionState 持仓方向状态
type PositionState string

const (
	StateFlat  PositionState = "flat"
	StateLong  PositionState = "long"
	StateShort PositionState = "short"
)

// sideToState 信号方向对应的持仓状态
func sideToState(s Side) PositionState {
	if s == SideLong {
		return StateLong
	}
	return StateShort
}

// PositionRecord 单品种持仓记录
// 方向/数量/入场价以交易所为准，每次决策前被对账覆盖；
// cooldown_until 是引擎唯一自有的状态，交易所没有对应概念，对账不会覆盖它
type PositionRecord struct {
	State         PositionState `json:"state"`
	EntryPrice    float64       `json:"entry_price"`
	Size          float64       `json:"size"` // 标的数量（与交易所持仓同单位），非负
	CooldownUntil time.Time     `json:"cooldown_until"`
}

// Decision 状态机决策
type Decision int

const (
	DecisionReject Decision = iota
	DecisionOpen
	DecisionFlip
)

// Tracker 持仓状态机
// 内存缓存只是交易所持仓的读穿视图，不是独立账本
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*PositionRecord
}

// NewTracker 创建持仓状态机
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*PositionRecord),
	}
}

// get 获取记录，首次引用时惰性创建
func (t *Tracker) get(symbol string) *PositionRecord {
	rec, ok := t.records[symbol]
	if !ok {
		rec = &PositionRecord{State: StateFlat}
		t.records[symbol] = rec
	}
	return rec
}

// Reconcile 对账：用交易所实际持仓覆盖本地缓存的方向/数量/入场价
// 带符号数量：正为多、负为空、零为平。返回覆盖后的记录快照
func (t *Tracker) Reconcile(ctx context.Context, gw exchange.Gateway, symbol string) (PositionRecord, error) {
	positions, err := gw.ListPositions(ctx, symbol)
	if err != nil {
		return PositionRecord{}, err
	}

	var signedSize float64
	var entryPrice float64
	for _, pos := range positions {
		if pos.Symbol == symbol && pos.Size != 0 {
			signedSize = pos.Size
			entryPrice = pos.EntryPrice
			break
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.get(symbol)
	switch {
	case signedSize > 0:
		rec.State = StateLong
		rec.Size = signedSize
		rec.EntryPrice = entryPrice
	case signedSize < 0:
		rec.State = StateShort
		rec.Size = -signedSize
		rec.EntryPrice = entryPrice
	default:
		rec.State = StateFlat
		rec.Size = 0
		rec.EntryPrice = 0
	}

	return *rec, nil
}

// Decide 状态机转移决策
// 同向判定先于冷却：持有同向仓位时无论冷却与否都按同向拒绝，
// 冷却只约束会改变方向的信号；平仓态开仓；反向翻转
func (t *Tracker) Decide(symbol string, signalSide Side, now time.Time) (Decision, RejectReason) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[symbol]
	if !ok {
		return DecisionOpen, ""
	}

	if rec.State != StateFlat && rec.State == sideToState(signalSide) {
		return DecisionReject, ReasonAlreadyInPosition
	}

	if now.Before(rec.CooldownUntil) {
		return DecisionReject, ReasonCooldown
	}

	if rec.State == StateFlat {
		return DecisionOpen, ""
	}
	return DecisionFlip, ""
}

// CurrentState 当前缓存的持仓状态（用于翻转时记录来源方向）
func (t *Tracker) CurrentState(symbol string) PositionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if rec, ok := t.records[symbol]; ok {
		return *rec
	}
	return PositionRecord{State: StateFlat}
}

// ApplyFill 入场成交后更新持仓并（重新）武装冷却
// 无论保护单后续是否成功，冷却都必须武装：保护单失败不能让账户
// 在已有持仓成本的情况下被快速重复信号打穿
func (t *Tracker) ApplyFill(symbol string, side Side, entryPrice, size float64, cooldown time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.get(symbol)
	rec.State = sideToState(side)
	rec.EntryPrice = entryPrice
	rec.Size = size
	rec.CooldownUntil = time.Now().Add(cooldown)
}

// Snapshot 所有品种持仓记录的只读快照（状态接口用）
func (t *Tracker) Snapshot() map[string]PositionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]PositionRecord, len(t.records))
	for symbol, rec := range t.records {
		snapshot[symbol] = *rec
	}
	return snapshot
}
