package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sigbridge/database"
	"sigbridge/engine"
	"sigbridge/logger"
)

// handleWebhook 接收信号源的 Webhook 投递
// 响应码约定：解析失败 400、密钥错误 401、执行故障 502，
// 其余策略拒绝（判重/冷却/同向/过期）返回 200，避免信号源无意义重试
func (s *Server) handleWebhook(c *gin.Context) {
	payload := make(map[string]interface{})
	decoder := json.NewDecoder(c.Request.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "rejected",
			"reason": string(engine.ReasonInvalidSignal),
			"detail": "请求体不是合法 JSON",
		})
		return
	}

	sig, err := engine.SignalFromPayload(payload, "webhook")
	if err != nil {
		logger.Warn("🌐 [Web] 信号解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "rejected",
			"reason": string(engine.ReasonInvalidSignal),
			"detail": err.Error(),
		})
		return
	}

	res := s.executor.Execute(c.Request.Context(), sig)
	c.JSON(httpStatusFor(res), res)
}

// httpStatusFor 执行结果到 HTTP 状态码的映射
func httpStatusFor(res *engine.Result) int {
	switch res.Status {
	case engine.StatusOK, engine.StatusSimulated:
		return http.StatusOK
	case engine.StatusError:
		// 瞬时故障未写去重库，5xx 让信号源触发重投递
		return http.StatusBadGateway
	}
	switch res.Reason {
	case engine.ReasonInvalidSignal:
		return http.StatusBadRequest
	case engine.ReasonBadSecret:
		return http.StatusUnauthorized
	default:
		// 判重/冷却/同向/过期是确定终态，200 让信号源停止重试
		return http.StatusOK
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(c *gin.Context) {
	cfg := s.cfg()
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"venue":         cfg.App.Venue,
		"trading":       cfg.Trading.Enabled,
		"dry_run":       cfg.Trading.DryRun,
		"secret_loaded": cfg.Webhook.Secret != "",
	})
}

// handleStatus 系统状态：持仓快照、去重记录数、执行统计
func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.cfg()

	dedupCount, err := s.store.SignalCount()
	if err != nil {
		logger.Warn("🌐 [Web] 查询去重记录数失败: %v", err)
	}

	var stats *database.ExecutionStats
	if s.journal != nil {
		stats, err = s.journal.GetExecutionStats(c.Request.Context())
		if err != nil {
			logger.Warn("🌐 [Web] 查询执行统计失败: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"venue":          cfg.App.Venue,
		"trading":        cfg.Trading.Enabled,
		"dry_run":        cfg.Trading.DryRun,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"positions":      s.executor.Tracker().Snapshot(),
		"dedup_records":  dedupCount,
		"stats":          stats,
	})
}

// handleExecutions 执行流水查询
func (s *Server) handleExecutions(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "执行流水数据库未启用"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	filter := &database.ExecutionFilter{
		Symbol: c.Query("symbol"),
		Side:   c.Query("side"),
		Status: c.Query("status"),
		Source: c.Query("source"),
		Limit:  limit,
	}
	executions, err := s.journal.GetExecutions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions, "count": len(executions)})
}
