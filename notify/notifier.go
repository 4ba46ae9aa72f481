package notify

import (
	"sync"

	"sigbridge/config"
	"sigbridge/event"
	"sigbridge/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
type NotificationService struct {
	notifiers []Notifier
	cfg       *config.Config
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{
		cfg: cfg,
	}

	// 初始化启用的通知渠道
	if cfg.Notifications.Enabled {
		if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
			telegramNotifier, err := NewTelegramNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, telegramNotifier)
				logger.Info("✅ Telegram 通知已启用")
			}
		}

		if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
			webhookNotifier, err := NewWebhookNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, webhookNotifier)
				logger.Info("✅ Webhook 通知已启用")
			}
		}
	}

	return ns
}

// shouldNotify 检查是否需要通知
func (ns *NotificationService) shouldNotify(eventType event.EventType) bool {
	if !ns.cfg.Notifications.Enabled {
		return false
	}

	rules := ns.cfg.Notifications.Rules
	switch eventType {
	case event.EventTypeOrderFilled, event.EventTypePositionFlipped, event.EventTypeProtectivePlaced:
		return rules.OrderFilled
	case event.EventTypeSignalRejected:
		return rules.OrderRejected
	case event.EventTypeOrderFailed:
		return rules.OrderRejected || rules.Error
	case event.EventTypeProtectiveFailed:
		// 保护单失败意味着裸持仓，只要任一规则开启就通知
		return rules.ProtectiveFailed || rules.Error
	case event.EventTypeError, event.EventTypeMailError, event.EventTypeReconciliation:
		return rules.Error
	case event.EventTypeSystemStart, event.EventTypeSystemStop:
		return true
	default:
		return false
	}
}

// Send 发送通知（异步，不阻塞）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil {
		return
	}

	// 检查是否需要通知
	if !ns.shouldNotify(evt.Type) {
		return
	}

	// 异步发送，不阻塞
	go func() {
		// 并发发送到所有启用的通知渠道
		var wg sync.WaitGroup
		for _, notifier := range ns.notifiers {
			wg.Add(1)
			go func(n Notifier) {
				defer wg.Done()
				if err := n.Send(evt); err != nil {
					logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
				}
			}(notifier)
		}
		wg.Wait()
	}()
}

// Run 订阅事件总线并分发通知，阻塞直到总线关闭
func (ns *NotificationService) Run(bus *event.EventBus) {
	for evt := range bus.Subscribe() {
		ns.Send(evt)
	}
}
