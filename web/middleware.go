package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"sigbridge/logger"
)

// GinLoggerMiddleware 自定义 Gin 日志中间件
// logAll=true 时全量输出；否则仅记录错误请求 (状态码 >= 400)
func GinLoggerMiddleware(logAll bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		statusCode := c.Writer.Status()
		if !logAll && statusCode < 400 {
			return
		}

		latency := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()
		logMessage := fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s",
			statusCode, latency, c.ClientIP(), c.Request.Method, path)
		if errorMessage != "" {
			logMessage += " | Error: " + errorMessage
		}
		logger.WriteWebLog(logMessage)
	}
}

// RateLimitMiddleware 入口限流
// 信号源重试风暴时保护执行链路，限流以去重为兜底不会丢成交
func RateLimitMiddleware(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		perMinute = 60
	}
	limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "rejected",
				"reason": "rate_limited",
			})
			return
		}
		c.Next()
	}
}
