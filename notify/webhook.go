package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sigbridge/config"
	"sigbridge/event"
)

// WebhookNotifier 把事件转发到外部 Webhook（告警聚合、飞书/Slack 桥接等）
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.Config) (*WebhookNotifier, error) {
	if cfg.Notifications.Webhook.URL == "" {
		return nil, fmt.Errorf("Webhook URL 未配置")
	}

	timeout := time.Duration(cfg.Notifications.Webhook.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &WebhookNotifier{
		url:     cfg.Notifications.Webhook.URL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name 返回通知器名称
func (wn *WebhookNotifier) Name() string {
	return "Webhook"
}

// Send 发送通知
// 接收端按 severity 字段路由告警级别
func (wn *WebhookNotifier) Send(evt *event.Event) error {
	body, err := json.Marshal(map[string]interface{}{
		"type":      string(evt.Type),
		"severity":  string(event.GetEventSeverity(evt.Type)),
		"timestamp": evt.Timestamp.Format(time.RFC3339),
		"data":      evt.Data,
	})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}
	return wn.post(body)
}

func (wn *WebhookNotifier) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), wn.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}
	return nil
}
