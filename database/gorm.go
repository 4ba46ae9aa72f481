package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormJournal GORM 执行流水实现
type GormJournal struct {
	db *gorm.DB
}

// Config 数据库配置
type Config struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// NewJournal 根据配置创建执行流水实例
func NewJournal(config *Config) (Journal, error) {
	j, err := newGormJournal(config)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func newGormJournal(config *Config) (*GormJournal, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	// 日志级别
	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	// 打开数据库
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 获取底层 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&Execution{},
		&Reconciliation{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormJournal{db: db}, nil
}

// SaveExecution 保存执行记录
func (g *GormJournal) SaveExecution(ctx context.Context, rec *Execution) error {
	return g.db.WithContext(ctx).Create(rec).Error
}

// GetExecutions 获取执行记录
func (g *GormJournal) GetExecutions(ctx context.Context, filter *ExecutionFilter) ([]*Execution, error) {
	query := g.db.WithContext(ctx).Model(&Execution{})

	if filter.Venue != "" {
		query = query.Where("venue = ?", filter.Venue)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Side != "" {
		query = query.Where("side = ?", filter.Side)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("created_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var recs []*Execution
	if err := query.Find(&recs).Error; err != nil {
		return nil, err
	}

	return recs, nil
}

// GetExecutionStats 获取执行统计
func (g *GormJournal) GetExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	stats := &ExecutionStats{
		CountByReason: make(map[string]int),
		CountBySymbol: make(map[string]int),
	}

	// 总数
	var totalCount int64
	g.db.WithContext(ctx).Model(&Execution{}).Count(&totalCount)
	stats.TotalCount = int(totalCount)

	// 成交与拒绝
	var filledCount, rejectedCount int64
	g.db.WithContext(ctx).Model(&Execution{}).Where("status IN ?", []string{"ok", "simulated_ok"}).Count(&filledCount)
	g.db.WithContext(ctx).Model(&Execution{}).Where("reject_reason <> ''").Count(&rejectedCount)
	stats.FilledCount = int(filledCount)
	stats.RejectedCount = int(rejectedCount)

	// 最近24小时
	last24h := time.Now().Add(-24 * time.Hour)
	var last24hCount int64
	g.db.WithContext(ctx).Model(&Execution{}).Where("created_at >= ?", last24h).Count(&last24hCount)
	stats.Last24HoursCount = int(last24hCount)

	// 按拒绝原因统计
	var reasonStats []struct {
		RejectReason string
		Count        int
	}
	g.db.WithContext(ctx).Model(&Execution{}).
		Select("reject_reason, COUNT(*) as count").
		Where("reject_reason <> ''").
		Group("reject_reason").
		Order("count DESC").
		Scan(&reasonStats)
	for _, rs := range reasonStats {
		stats.CountByReason[rs.RejectReason] = rs.Count
	}

	// 按品种统计
	var symbolStats []struct {
		Symbol string
		Count  int
	}
	g.db.WithContext(ctx).Model(&Execution{}).
		Select("symbol, COUNT(*) as count").
		Group("symbol").
		Order("count DESC").
		Limit(20).
		Scan(&symbolStats)
	for _, ss := range symbolStats {
		stats.CountBySymbol[ss.Symbol] = ss.Count
	}

	return stats, nil
}

// SaveReconciliation 保存对账记录
func (g *GormJournal) SaveReconciliation(ctx context.Context, recon *Reconciliation) error {
	return g.db.WithContext(ctx).Create(recon).Error
}

// GetReconciliations 获取对账记录
func (g *GormJournal) GetReconciliations(ctx context.Context, filter *ReconciliationFilter) ([]*Reconciliation, error) {
	query := g.db.WithContext(ctx).Model(&Reconciliation{})

	if filter.Venue != "" {
		query = query.Where("venue = ?", filter.Venue)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("created_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var recons []*Reconciliation
	if err := query.Find(&recons).Error; err != nil {
		return nil, err
	}

	return recons, nil
}

// Ping 健康检查
func (g *GormJournal) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormJournal) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
