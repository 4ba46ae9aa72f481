package event

import (
	"sync"
	"time"

	"sigbridge/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeSignalReceived   EventType = "signal_received"
	EventTypeSignalRejected   EventType = "signal_rejected"
	EventTypeOrderFilled      EventType = "order_filled"
	EventTypeOrderFailed      EventType = "order_failed"
	EventTypePositionFlipped  EventType = "position_flipped"
	EventTypeProtectivePlaced EventType = "protective_placed"
	EventTypeProtectiveFailed EventType = "protective_failed"
	EventTypeReconciliation   EventType = "reconciliation"
	EventTypeMailError        EventType = "mail_error"
	EventTypeError            EventType = "error"
	EventTypeSystemStart      EventType = "system_start"
	EventTypeSystemStop       EventType = "system_stop"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// GetEventSeverity 获取事件类型对应的严重程度
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypeOrderFailed, EventTypeProtectiveFailed, EventTypeError:
		return SeverityCritical
	case EventTypeSignalRejected, EventTypeReconciliation, EventTypeMailError:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Event 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// EventBus 事件总线（多订阅者扇出）
// 通知服务与 WebSocket 推送各自订阅一份，互不阻塞
type EventBus struct {
	mu         sync.RWMutex
	subs       []chan *Event
	bufferSize int
	closed     bool
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &EventBus{
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞）
func (eb *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}

	// 设置时间戳
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}

	for _, ch := range eb.subs {
		select {
		case ch <- event:
			// 成功发布
		default:
			// Channel 满了，记录警告但不阻塞
			logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
		}
	}
}

// PublishData 构造并发布事件（便捷方法）
func (eb *EventBus) PublishData(t EventType, data map[string]interface{}) {
	eb.Publish(&Event{Type: t, Timestamp: time.Now(), Data: data})
}

// Subscribe 订阅事件（每次调用返回独立 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subs = append(eb.subs, ch)
	return ch
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, ch := range eb.subs {
		close(ch)
	}
	eb.subs = nil
}
