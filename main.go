package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sigbridge/config"
	"sigbridge/database"
	"sigbridge/engine"
	"sigbridge/event"
	"sigbridge/exchange"
	"sigbridge/lock"
	"sigbridge/logger"
	"sigbridge/mail"
	"sigbridge/metrics"
	"sigbridge/notify"
	"sigbridge/storage"
	"sigbridge/utils"
	"sigbridge/web"
)

// Version 版本号
var Version = "1.2.0"

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("version", false, "显示版本号")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SigBridge Signal Executor\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}

	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if cfg.System.Timezone != "" {
		if err := utils.SetLocation(cfg.System.Timezone); err != nil {
			logger.Warn("⚠️ 设置时区失败: %v，继续使用 UTC", err)
		}
	}
	if err := logger.InitWebLogger(); err != nil {
		logger.Warn("⚠️ 初始化 Web 日志失败: %v", err)
	}
	defer logger.Close()

	logger.Info("🚀 SigBridge v%s 启动, venue=%s dry_run=%v", Version, cfg.App.Venue, cfg.Trading.DryRun)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 配置热加载：交易开关、金额、冷却等参数改动无需重启
	watcher, err := config.NewConfigWatcher(*configPath, cfg)
	if err != nil {
		logger.Fatal("❌ 创建配置监听器失败: %v", err)
	}
	watcher.RegisterCallback(func(oldCfg, newCfg *config.Config) {
		if oldCfg.Trading.Enabled != newCfg.Trading.Enabled {
			logger.Warn("🔧 [配置] 交易开关: %v -> %v", oldCfg.Trading.Enabled, newCfg.Trading.Enabled)
		}
		if oldCfg.Trading.DryRun != newCfg.Trading.DryRun {
			logger.Warn("🔧 [配置] 干跑模式: %v -> %v", oldCfg.Trading.DryRun, newCfg.Trading.DryRun)
		}
		if oldCfg.Trading.DefaultNotionalUSDT != newCfg.Trading.DefaultNotionalUSDT {
			logger.Info("🔧 [配置] 默认名义金额: %.2f -> %.2f",
				oldCfg.Trading.DefaultNotionalUSDT, newCfg.Trading.DefaultNotionalUSDT)
		}
		if oldCfg.Trading.CooldownSeconds != newCfg.Trading.CooldownSeconds {
			logger.Info("🔧 [配置] 冷却时间: %ds -> %ds",
				oldCfg.Trading.CooldownSeconds, newCfg.Trading.CooldownSeconds)
		}
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 配置热加载不可用: %v", err)
	}
	defer watcher.Stop()
	cfgFn := watcher.Current

	// 去重存储
	dedupPath := cfg.Dedup.Path
	if dedupPath == "" {
		dedupPath = "./data/signals.db"
	}
	if err := os.MkdirAll(filepath.Dir(dedupPath), 0o755); err != nil {
		logger.Fatal("❌ 创建数据目录失败: %v", err)
	}
	store, err := storage.NewDedupStore(dedupPath)
	if err != nil {
		logger.Fatal("❌ 初始化去重存储失败: %v", err)
	}
	defer store.Close()
	go runDedupMaintenance(ctx, store, cfgFn)

	// 执行流水数据库
	journal, err := database.NewJournal(&database.Config{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		logger.Fatal("❌ 初始化执行流水数据库失败: %v", err)
	}
	defer journal.Close()

	// 品种互斥锁
	locker, err := lock.NewDistributedLock(&lock.Config{
		Enabled:    cfg.DistributedLock.Enabled,
		Type:       cfg.DistributedLock.Type,
		Prefix:     cfg.DistributedLock.Prefix,
		DefaultTTL: time.Duration(cfg.DistributedLock.DefaultTTL) * time.Second,
		Redis: lock.RedisConfig{
			Addr:     cfg.DistributedLock.Redis.Addr,
			Password: cfg.DistributedLock.Redis.Password,
			DB:       cfg.DistributedLock.Redis.DB,
			PoolSize: cfg.DistributedLock.Redis.PoolSize,
		},
	})
	if err != nil {
		logger.Fatal("❌ 初始化品种锁失败: %v", err)
	}
	defer locker.Close()

	// 交易所网关
	gateway, err := exchange.NewGateway(cfg, cfg.App.Venue)
	if err != nil {
		logger.Fatal("❌ 初始化交易所网关失败: %v", err)
	}
	logger.Info("🔗 交易所网关就绪: %s", gateway.Name())

	// 事件总线与通知
	bus := event.NewEventBus(256)
	defer bus.Close()
	notifyService := notify.NewNotificationService(cfg)
	go notifyService.Run(bus)

	// 信号执行器
	executor := engine.NewEngine(cfgFn, gateway, store, journal, locker, bus)

	// Webhook 入口
	if cfg.Webhook.Enabled {
		server := web.NewServer(cfgFn, executor, store, journal, bus)
		server.Start(ctx)
	}

	// 邮箱入口
	if cfg.Mail.Enabled {
		listener := mail.NewListener(cfgFn, executor, store, bus)
		go listener.Run(ctx)
		logger.Info("📧 邮箱监听已启动: %s", cfg.Mail.IMAPHost)
	}

	if !cfg.Webhook.Enabled && !cfg.Mail.Enabled {
		logger.Fatal("❌ Webhook 和邮箱入口都未启用，无信号来源")
	}

	bus.PublishData(event.EventTypeSystemStart, map[string]interface{}{
		"version": Version,
		"venue":   cfg.App.Venue,
		"dry_run": cfg.Trading.DryRun,
	})

	<-ctx.Done()
	logger.Info("🛑 收到退出信号，开始优雅关闭...")
	bus.PublishData(event.EventTypeSystemStop, map[string]interface{}{"version": Version})
	// 给通知通道一点时间送出关闭事件
	time.Sleep(500 * time.Millisecond)
	logger.Info("✅ SigBridge 已退出")
}

// runDedupMaintenance 每日清理过期去重记录并上报记录数
func runDedupMaintenance(ctx context.Context, store *storage.DedupStore, cfgFn func() *config.Config) {
	pm := metrics.GetPrometheusMetrics()

	maintain := func() {
		retention := cfgFn().Dedup.RetentionDays
		if retention <= 0 {
			retention = 30
		}
		pruned, err := store.Prune(retention)
		if err != nil {
			logger.Warn("🧹 [去重] 清理过期记录失败: %v", err)
		} else if pruned > 0 {
			logger.Info("🧹 [去重] 已清理 %d 条超过 %d 天的记录", pruned, retention)
		}
		if count, err := store.SignalCount(); err == nil {
			pm.SetDedupRecordCount(count)
		}
	}

	maintain()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maintain()
		}
	}
}
