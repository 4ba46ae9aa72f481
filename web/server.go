package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sigbridge/config"
	"sigbridge/database"
	"sigbridge/engine"
	"sigbridge/event"
	"sigbridge/logger"
	"sigbridge/storage"
)

// Executor 信号执行接口（测试时可替换）
type Executor interface {
	Execute(ctx context.Context, sig *engine.Signal) *engine.Result
	Tracker() *engine.Tracker
}

// Server Webhook 入口服务器
type Server struct {
	cfg       func() *config.Config
	executor  Executor
	store     *storage.DedupStore
	journal   database.Journal
	hub       *Hub
	server    *http.Server
	startedAt time.Time
}

// NewServer 创建 Webhook 服务器
func NewServer(cfg func() *config.Config, executor Executor, store *storage.DedupStore,
	journal database.Journal, bus *event.EventBus) *Server {

	current := cfg()
	if current.System.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		executor:  executor,
		store:     store,
		journal:   journal,
		hub:       NewHub(bus),
		startedAt: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(current.System.LogLevel == "debug"))
	s.setupRoutes(r, current)

	addr := fmt.Sprintf("%s:%d", current.Webhook.Host, current.Webhook.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 执行链路含交易所调用，留足余量
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(r *gin.Engine, cfg *config.Config) {
	// Prometheus 抓取端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/webhook", RateLimitMiddleware(cfg.Webhook.RatePerMinute), s.handleWebhook)
	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.hub.HandleWebSocket)

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/executions", s.handleExecutions)
	}
}

// Start 启动服务器，在后台监听并随 ctx 取消优雅关闭
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)

	go func() {
		logger.Info("🌐 [Web] Webhook 服务器启动在 http://%s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ [Web] Webhook 服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("❌ [Web] Webhook 服务器关闭失败: %v", err)
		} else {
			logger.Info("✅ [Web] Webhook 服务器已关闭")
		}
	}()
}
