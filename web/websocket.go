package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sigbridge/event"
	"sigbridge/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源（生产环境应该限制）
	},
}

// Hub WebSocket 中心：把事件总线的事件实时推送给所有连接
type Hub struct {
	bus     *event.EventBus
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewHub 创建 WebSocket 中心
func NewHub(bus *event.EventBus) *Hub {
	return &Hub{
		bus:     bus,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Run 消费事件总线并广播，随 ctx 取消退出
func (h *Hub) Run(ctx context.Context) {
	events := h.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev *event.Event) {
	data, err := json.Marshal(map[string]interface{}{
		"type":      ev.Type,
		"severity":  event.GetEventSeverity(ev.Type),
		"timestamp": ev.Timestamp,
		"data":      ev.Data,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// HandleWebSocket 升级连接并保持到对端关闭
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("🌐 [Web] WebSocket 升级失败: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// 读循环只用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
			return
		}
	}
}
