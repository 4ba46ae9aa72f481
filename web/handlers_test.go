package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"sigbridge/config"
	"sigbridge/engine"
	"sigbridge/event"
	"sigbridge/storage"
)

// mockExecutor 返回固定结果的执行器
type mockExecutor struct {
	result  *engine.Result
	lastSig *engine.Signal
	tracker *engine.Tracker
}

func (m *mockExecutor) Execute(ctx context.Context, sig *engine.Signal) *engine.Result {
	m.lastSig = sig
	return m.result
}

func (m *mockExecutor) Tracker() *engine.Tracker {
	return m.tracker
}

func newTestServer(t *testing.T, exec *mockExecutor) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Venue = "binance"
	cfg.Trading.Enabled = true
	cfg.Webhook.RatePerMinute = 600

	store, err := storage.NewDedupStore(filepath.Join(t.TempDir(), "dedup.db"))
	if err != nil {
		t.Fatalf("创建去重库失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := event.NewEventBus(16)
	t.Cleanup(func() { bus.Close() })

	if exec.tracker == nil {
		exec.tracker = engine.NewTracker()
	}
	return NewServer(func() *config.Config { return cfg }, exec, store, nil, bus)
}

func postWebhook(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	return w
}

func TestWebhookAcceptsSignal(t *testing.T) {
	exec := &mockExecutor{result: &engine.Result{Status: engine.StatusOK, Symbol: "BTCUSDT", Contracts: 10}}
	s := newTestServer(t, exec)

	w := postWebhook(s, `{"side":"long","symbol":"BTCUSDT","bar_ts":"2026-08-25T12:00:00Z","timeframe":"3m"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, 期望 200: %s", w.Code, w.Body.String())
	}
	if exec.lastSig == nil || exec.lastSig.Side != engine.SideLong || exec.lastSig.Source != "webhook" {
		t.Errorf("传给执行器的信号不正确: %+v", exec.lastSig)
	}

	var res engine.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("响应体解析失败: %v", err)
	}
	if res.Status != engine.StatusOK || res.Contracts != 10 {
		t.Errorf("响应内容不正确: %+v", res)
	}
}

func TestWebhookRejectsBadJSON(t *testing.T) {
	s := newTestServer(t, &mockExecutor{})
	if w := postWebhook(s, `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("非法 JSON 状态码 = %d, 期望 400", w.Code)
	}
	if w := postWebhook(s, `{"symbol":"BTCUSDT"}`); w.Code != http.StatusBadRequest {
		t.Errorf("缺字段状态码 = %d, 期望 400", w.Code)
	}
}

func TestWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		result *engine.Result
		want   int
	}{
		{"成交", &engine.Result{Status: engine.StatusOK}, http.StatusOK},
		{"模拟成交", &engine.Result{Status: engine.StatusSimulated}, http.StatusOK},
		{"判重", &engine.Result{Status: engine.StatusRejected, Reason: engine.ReasonDuplicateSignal}, http.StatusOK},
		{"冷却", &engine.Result{Status: engine.StatusRejected, Reason: engine.ReasonCooldown}, http.StatusOK},
		{"过期", &engine.Result{Status: engine.StatusRejected, Reason: engine.ReasonStaleSignal}, http.StatusOK},
		{"密钥错误", &engine.Result{Status: engine.StatusRejected, Reason: engine.ReasonBadSecret}, http.StatusUnauthorized},
		{"执行故障需重试", &engine.Result{Status: engine.StatusError}, http.StatusBadGateway},
	}
	body := `{"side":"long","symbol":"BTCUSDT","bar_ts":1787745600}`
	for _, c := range cases {
		s := newTestServer(t, &mockExecutor{result: c.result})
		if w := postWebhook(s, body); w.Code != c.want {
			t.Errorf("%s: 状态码 = %d, 期望 %d", c.name, w.Code, c.want)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &mockExecutor{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, 期望 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应体解析失败: %v", err)
	}
	if body["ok"] != true || body["venue"] != "binance" || body["secret_loaded"] != false {
		t.Errorf("健康检查响应不正确: %+v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	exec := &mockExecutor{tracker: engine.NewTracker()}
	s := newTestServer(t, exec)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, 期望 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应体解析失败: %v", err)
	}
	if body["venue"] != "binance" {
		t.Errorf("状态响应不正确: %+v", body)
	}
}

func TestRateLimit(t *testing.T) {
	exec := &mockExecutor{result: &engine.Result{Status: engine.StatusOK}}
	cfg := &config.Config{}
	cfg.App.Venue = "binance"
	cfg.Webhook.RatePerMinute = 1 // 突发容量 1

	store, err := storage.NewDedupStore(filepath.Join(t.TempDir(), "dedup.db"))
	if err != nil {
		t.Fatalf("创建去重库失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bus := event.NewEventBus(16)
	t.Cleanup(func() { bus.Close() })
	exec.tracker = engine.NewTracker()
	s := NewServer(func() *config.Config { return cfg }, exec, store, nil, bus)

	body := `{"side":"long","symbol":"BTCUSDT","bar_ts":1787745600}`
	if w := postWebhook(s, body); w.Code != http.StatusOK {
		t.Fatalf("首个请求应放行: %d", w.Code)
	}
	if w := postWebhook(s, body); w.Code != http.StatusTooManyRequests {
		t.Errorf("超额请求应被限流: %d", w.Code)
	}
}
