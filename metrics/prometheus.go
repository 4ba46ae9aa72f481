package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 信号指标
	signalReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_signal_received_total",
			Help: "Total number of signals received",
		},
		[]string{"source", "venue", "symbol", "side"},
	)

	signalRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_signal_rejected_total",
			Help: "Total number of signals rejected",
		},
		[]string{"venue", "symbol", "reason"},
	)

	signalDuplicateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_signal_duplicate_total",
			Help: "Total number of duplicate signals suppressed",
		},
		[]string{"venue", "symbol"},
	)

	signalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sigbridge_signal_latency_seconds",
			Help:    "End-to-end signal processing latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"venue", "symbol"},
	)

	// 订单指标
	orderPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_order_placed_total",
			Help: "Total number of entry orders placed",
		},
		[]string{"venue", "symbol", "side"},
	)

	orderFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_order_failed_total",
			Help: "Total number of entry orders that failed at the venue",
		},
		[]string{"venue", "symbol", "side"},
	)

	positionFlipTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_position_flip_total",
			Help: "Total number of position flips (close + reopen)",
		},
		[]string{"venue", "symbol"},
	)

	protectiveFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_protective_failed_total",
			Help: "Total number of protective order placement failures",
		},
		[]string{"venue", "symbol", "kind"}, // kind: take_profit, stop_loss
	)

	// 持仓指标
	positionSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sigbridge_position_size",
			Help: "Current tracked position size in contracts (signed)",
		},
		[]string{"venue", "symbol"},
	)

	// 锁指标
	lockConflictTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_lock_conflict_total",
			Help: "Total number of per-symbol lock conflicts",
		},
		[]string{"key"},
	)

	// 交易所指标
	gatewayCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_gateway_call_total",
			Help: "Total number of exchange gateway calls",
		},
		[]string{"venue", "endpoint", "status"},
	)

	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sigbridge_gateway_call_duration_seconds",
			Help:    "Exchange gateway call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"venue", "endpoint"},
	)

	// 邮件通道指标
	mailProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigbridge_mail_processed_total",
			Help: "Total number of alert emails processed",
		},
		[]string{"status"}, // status: ok, stale, duplicate, failed
	)

	mailReconnectTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sigbridge_mail_reconnect_total",
			Help: "Total number of IMAP reconnections",
		},
	)

	// 去重存储指标
	dedupRecordCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigbridge_dedup_record_count",
			Help: "Number of persisted dedup records",
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct{}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// 信号相关指标记录

// RecordSignalReceived 记录信号接收
func (pm *PrometheusMetrics) RecordSignalReceived(source, venue, symbol, side string) {
	signalReceivedTotal.WithLabelValues(source, venue, symbol, side).Inc()
}

// RecordSignalRejected 记录信号拒绝
func (pm *PrometheusMetrics) RecordSignalRejected(venue, symbol, reason string) {
	signalRejectedTotal.WithLabelValues(venue, symbol, reason).Inc()
}

// RecordSignalDuplicate 记录重复信号
func (pm *PrometheusMetrics) RecordSignalDuplicate(venue, symbol string) {
	signalDuplicateTotal.WithLabelValues(venue, symbol).Inc()
}

// RecordSignalLatency 记录信号端到端耗时
func (pm *PrometheusMetrics) RecordSignalLatency(venue, symbol string, duration time.Duration) {
	signalLatency.WithLabelValues(venue, symbol).Observe(duration.Seconds())
}

// 订单相关指标记录

// RecordOrderPlaced 记录入场下单
func (pm *PrometheusMetrics) RecordOrderPlaced(venue, symbol, side string) {
	orderPlacedTotal.WithLabelValues(venue, symbol, side).Inc()
}

// RecordOrderFailed 记录下单失败
func (pm *PrometheusMetrics) RecordOrderFailed(venue, symbol, side string) {
	orderFailedTotal.WithLabelValues(venue, symbol, side).Inc()
}

// RecordPositionFlip 记录持仓翻转
func (pm *PrometheusMetrics) RecordPositionFlip(venue, symbol string) {
	positionFlipTotal.WithLabelValues(venue, symbol).Inc()
}

// RecordProtectiveFailed 记录保护单失败
func (pm *PrometheusMetrics) RecordProtectiveFailed(venue, symbol, kind string) {
	protectiveFailedTotal.WithLabelValues(venue, symbol, kind).Inc()
}

// SetPositionSize 设置持仓大小（带符号）
func (pm *PrometheusMetrics) SetPositionSize(venue, symbol string, size float64) {
	positionSize.WithLabelValues(venue, symbol).Set(size)
}

// 锁相关指标记录

// RecordLockConflict 记录锁冲突
func (pm *PrometheusMetrics) RecordLockConflict(key string) {
	lockConflictTotal.WithLabelValues(key).Inc()
}

// 交易所相关指标记录

// RecordGatewayCall 记录交易所调用
func (pm *PrometheusMetrics) RecordGatewayCall(venue, endpoint, status string, duration time.Duration) {
	gatewayCallTotal.WithLabelValues(venue, endpoint, status).Inc()
	gatewayCallDuration.WithLabelValues(venue, endpoint).Observe(duration.Seconds())
}

// 邮件通道相关指标记录

// RecordMailProcessed 记录邮件处理
func (pm *PrometheusMetrics) RecordMailProcessed(status string) {
	mailProcessedTotal.WithLabelValues(status).Inc()
}

// RecordMailReconnect 记录 IMAP 重连
func (pm *PrometheusMetrics) RecordMailReconnect() {
	mailReconnectTotal.Inc()
}

// 去重存储相关指标记录

// SetDedupRecordCount 设置去重记录数
func (pm *PrometheusMetrics) SetDedupRecordCount(count int) {
	dedupRecordCount.Set(float64(count))
}

// 全局实例
var globalPrometheusMetrics *PrometheusMetrics

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = NewPrometheusMetrics()
	})
	return globalPrometheusMetrics
}
