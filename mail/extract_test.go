package mail

import "testing"

func TestExtractPayloadFromSubject(t *testing.T) {
	payload, err := ExtractPayload(`Alert: {"side":"long","symbol":"BTCUSDT","bar_ts":"2026-08-25T12:00:00Z"}`, "")
	if err != nil {
		t.Fatalf("主题中的 JSON 应能解析: %v", err)
	}
	if payload["side"] != "long" || payload["symbol"] != "BTCUSDT" {
		t.Errorf("载荷内容不正确: %+v", payload)
	}
}

func TestExtractPayloadFromBodyLine(t *testing.T) {
	body := "您有一条新的提醒\n\n{\"side\": \"short\", \"ticker\": \"ETHUSDT.P\", \"time\": 1787745600000}\n\n-- 此邮件由系统自动发送"
	payload, err := ExtractPayload("TradingView Alert", body)
	if err != nil {
		t.Fatalf("正文中的 JSON 应能解析: %v", err)
	}
	if payload["ticker"] != "ETHUSDT.P" {
		t.Errorf("载荷内容不正确: %+v", payload)
	}
}

func TestExtractPayloadMultiline(t *testing.T) {
	body := "{\n  \"side\": \"long\",\n  \"symbol\": \"BTCUSDT\",\n  \"bar_ts\": 1787745600\n}"
	payload, err := ExtractPayload("", body)
	if err != nil {
		t.Fatalf("跨行 JSON 应能解析: %v", err)
	}
	if payload["side"] != "long" {
		t.Errorf("载荷内容不正确: %+v", payload)
	}
}

func TestExtractPayloadRepairsCurlyQuotes(t *testing.T) {
	// 邮件客户端常把直引号渲染成弯引号
	body := "{“side”: “long”, “symbol”: “BTCUSDT”, “bar_ts”: 1787745600}"
	payload, err := ExtractPayload("", body)
	if err != nil {
		t.Fatalf("弯引号应被修复: %v", err)
	}
	if payload["side"] != "long" {
		t.Errorf("载荷内容不正确: %+v", payload)
	}
}

func TestExtractPayloadRepairsSemicolons(t *testing.T) {
	body := `{"side":"long"; "symbol":"BTCUSDT"; "bar_ts":1787745600}`
	payload, err := ExtractPayload("", body)
	if err != nil {
		t.Fatalf("分号应被修复为逗号: %v", err)
	}
	if payload["symbol"] != "BTCUSDT" {
		t.Errorf("载荷内容不正确: %+v", payload)
	}
}

func TestExtractPayloadPythonDict(t *testing.T) {
	body := `{'side': 'short', 'symbol': 'BTCUSDT', 'bar_ts': 1787745600, 'reduce': True, 'tp': None}`
	payload, err := ExtractPayload("", body)
	if err != nil {
		t.Fatalf("Python 字典字面量应能解析: %v", err)
	}
	if payload["side"] != "short" {
		t.Errorf("载荷内容不正确: %+v", payload)
	}
	if payload["reduce"] != true {
		t.Errorf("True 应转换为 true: %+v", payload)
	}
	if v, ok := payload["tp"]; !ok || v != nil {
		t.Errorf("None 应转换为 null: %+v", payload)
	}
}

func TestExtractPayloadNoJSON(t *testing.T) {
	if _, err := ExtractPayload("普通邮件", "没有任何信号内容"); err == nil {
		t.Error("无载荷时应返回错误")
	}
}
