package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"sigbridge/utils"
)

// SignalRecord 信号去重记录
// 同一逻辑信号（同一根K线、同一方向）无论从哪个通道送达多少次，只会存在一条记录
type SignalRecord struct {
	Key          string    // 去重键: venue:instrument:side:timeframe:bar_time_ms
	Venue        string    // 交易所标识
	Instrument   string    // 原始品种符号（映射前）
	Side         string    // long / short
	Timeframe    string    // 周期（未知时为 "unknown"）
	BarTimeMs    int64     // K线收盘时间（毫秒）
	ProcessedAt  time.Time // 处理时间（UTC）
	ResultStatus string    // 终态: ok / simulated_ok / invalid / ...
}

// DedupStore 信号/邮件去重持久化存储（SQLite）
// 重启后以持久化记录为准，进程内缓存只是加速路径
type DedupStore struct {
	db *sql.DB
}

// NewDedupStore 创建去重存储
func NewDedupStore(path string) (*DedupStore, error) {
	// 使用 WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 并发限制
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}

	return &DedupStore{db: db}, nil
}

// createTables 创建表
func createTables(db *sql.DB) error {
	// K线级信号去重表（webhook + 邮件共用）
	signalsSQL := `
	CREATE TABLE IF NOT EXISTS processed_signals (
		signal_key TEXT PRIMARY KEY,
		venue TEXT,
		instrument TEXT,
		side TEXT,
		timeframe TEXT,
		bar_time_ms BIGINT,
		processed_at TIMESTAMP,
		result_status TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_signals_processed_at ON processed_signals(processed_at);`

	// 邮件传输层去重表（Message-ID 级，独立于K线级去重键）
	emailsSQL := `
	CREATE TABLE IF NOT EXISTS processed_emails (
		message_id TEXT PRIMARY KEY,
		bar_ts TEXT,
		instrument TEXT,
		side TEXT,
		processed_at TIMESTAMP,
		result_status TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_emails_processed_at ON processed_emails(processed_at);`

	for _, sqlStmt := range []string{signalsSQL, emailsSQL} {
		if _, err := db.Exec(sqlStmt); err != nil {
			return err
		}
	}
	return nil
}

// IsSignalProcessed 检查信号是否已处理（持久化存储为权威来源）
func (s *DedupStore) IsSignalProcessed(key string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM processed_signals WHERE signal_key = ?", key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询信号去重记录失败: %w", err)
	}
	return true, nil
}

// MarkSignalProcessed 标记信号已处理（幂等 upsert：重复标记只覆盖元数据）
func (s *DedupStore) MarkSignalProcessed(rec *SignalRecord) error {
	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = utils.NowUTC()
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO processed_signals
		 (signal_key, venue, instrument, side, timeframe, bar_time_ms, processed_at, result_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.Venue, rec.Instrument, rec.Side, rec.Timeframe, rec.BarTimeMs,
		processedAt.Format(time.RFC3339Nano), rec.ResultStatus,
	)
	if err != nil {
		return fmt.Errorf("写入信号去重记录失败: %w", err)
	}
	return nil
}

// GetSignalRecord 读取单条信号记录（状态查询用）
func (s *DedupStore) GetSignalRecord(key string) (*SignalRecord, error) {
	var rec SignalRecord
	var processedAt string
	err := s.db.QueryRow(
		`SELECT signal_key, venue, instrument, side, timeframe, bar_time_ms, processed_at, result_status
		 FROM processed_signals WHERE signal_key = ?`, key,
	).Scan(&rec.Key, &rec.Venue, &rec.Instrument, &rec.Side, &rec.Timeframe, &rec.BarTimeMs, &processedAt, &rec.ResultStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询信号去重记录失败: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, processedAt); perr == nil {
		rec.ProcessedAt = t
	}
	return &rec, nil
}

// SignalCount 获取已处理信号总数
func (s *DedupStore) SignalCount() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM processed_signals").Scan(&count); err != nil {
		return 0, fmt.Errorf("统计信号去重记录失败: %w", err)
	}
	return count, nil
}

// IsEmailProcessed 检查邮件是否已处理（Message-ID 级去重）
func (s *DedupStore) IsEmailProcessed(messageID string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM processed_emails WHERE message_id = ?", messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询邮件去重记录失败: %w", err)
	}
	return true, nil
}

// MarkEmailProcessed 标记邮件已处理
func (s *DedupStore) MarkEmailProcessed(messageID, barTS, instrument, side, resultStatus string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO processed_emails
		 (message_id, bar_ts, instrument, side, processed_at, result_status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		messageID, barTS, instrument, side, utils.NowUTC().Format(time.RFC3339Nano), resultStatus,
	)
	if err != nil {
		return fmt.Errorf("写入邮件去重记录失败: %w", err)
	}
	return nil
}

// Prune 删除超过保留期的记录（去重只需覆盖现实的重投递窗口）
func (s *DedupStore) Prune(retentionDays int) (int64, error) {
	cutoff := utils.NowUTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339Nano)

	var total int64
	res, err := s.db.Exec("DELETE FROM processed_signals WHERE processed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理信号去重记录失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.Exec("DELETE FROM processed_emails WHERE processed_at < ?", cutoff)
	if err != nil {
		return total, fmt.Errorf("清理邮件去重记录失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// Close 关闭存储
func (s *DedupStore) Close() error {
	return s.db.Close()
}
