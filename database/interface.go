package database

import (
	"context"
	"time"
)

// Journal 执行流水接口
// 每个被接受处理的信号（包括被拒绝的）写一条执行流水，供状态查询与事后审计
type Journal interface {
	// 执行记录
	SaveExecution(ctx context.Context, rec *Execution) error
	GetExecutions(ctx context.Context, filter *ExecutionFilter) ([]*Execution, error)
	GetExecutionStats(ctx context.Context) (*ExecutionStats, error)

	// 对账记录
	SaveReconciliation(ctx context.Context, recon *Reconciliation) error
	GetReconciliations(ctx context.Context, filter *ReconciliationFilter) ([]*Reconciliation, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 数据模型

// Execution 信号执行记录
type Execution struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SignalKey      string    `gorm:"index;size:200" json:"signal_key"`
	Source         string    `gorm:"size:20" json:"source"` // webhook, email
	Venue          string    `gorm:"index:idx_venue_symbol;size:50" json:"venue"`
	Symbol         string    `gorm:"index:idx_venue_symbol;size:50" json:"symbol"`
	Side           string    `gorm:"size:10" json:"side"` // long, short
	Status         string    `gorm:"index;size:30" json:"status"`
	RejectReason   string    `gorm:"size:50" json:"reject_reason"`
	Contracts      float64   `json:"contracts"`
	FillPrice      float64   `json:"fill_price"`
	OrderID        string    `gorm:"size:100" json:"order_id"`
	TPOrderID      string    `gorm:"size:100" json:"tp_order_id"`
	SLOrderID      string    `gorm:"size:100" json:"sl_order_id"`
	FlippedFrom    string    `gorm:"size:10" json:"flipped_from"`
	DryRun         bool      `json:"dry_run"`
	BarTimeMs      int64     `json:"bar_time_ms"`
	LatencyMs      int64     `json:"latency_ms"`
	ProtectiveNote string    `gorm:"type:text" json:"protective_note"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// Reconciliation 持仓对账记录
// 启动或周期对账时，本地缓存与交易所实际持仓不一致的差异快照
type Reconciliation struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Venue       string    `gorm:"index:idx_recon_venue_symbol;size:50" json:"venue"`
	Symbol      string    `gorm:"index:idx_recon_venue_symbol;size:50" json:"symbol"`
	LocalValue  string    `gorm:"type:text" json:"local_value"`
	RemoteValue string    `gorm:"type:text" json:"remote_value"`
	Adopted     bool      `json:"adopted"` // 是否已采用交易所侧为准
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// ExecutionStats 执行统计
type ExecutionStats struct {
	TotalCount       int            `json:"total_count"`
	FilledCount      int            `json:"filled_count"`
	RejectedCount    int            `json:"rejected_count"`
	Last24HoursCount int            `json:"last_24h_count"`
	CountByReason    map[string]int `json:"count_by_reason"`
	CountBySymbol    map[string]int `json:"count_by_symbol"`
}

// 过滤器

// ExecutionFilter 执行记录过滤器
type ExecutionFilter struct {
	Venue     string
	Symbol    string
	Side      string
	Status    string
	Source    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// ReconciliationFilter 对账记录过滤器
type ReconciliationFilter struct {
	Venue     string
	Symbol    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
