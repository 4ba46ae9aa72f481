package mail

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractPayload 从邮件主题和正文中提取信号载荷
// 信号 JSON 可能出现在主题或正文的任意一行，且经常被邮件客户端
// 破坏：弯引号、分号代替逗号、甚至是 Python 字典字面量
func ExtractPayload(subject, body string) (map[string]interface{}, error) {
	candidates := make([]string, 0, 8)
	if span := braceSpan(subject); span != "" {
		candidates = append(candidates, span)
	}
	for _, line := range strings.Split(body, "\n") {
		if span := braceSpan(line); span != "" {
			candidates = append(candidates, span)
		}
	}
	// 单行没找到时，尝试跨行的整体括号范围（格式化过的 JSON）
	if len(candidates) == 0 {
		if span := braceSpan(body); span != "" {
			candidates = append(candidates, span)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("邮件中未找到信号载荷")
	}

	var lastErr error
	for _, candidate := range candidates {
		payload, err := parseCandidate(candidate)
		if err == nil {
			return payload, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("信号载荷解析失败: %w", lastErr)
}

// braceSpan 截取首个 '{' 到末个 '}' 的范围
func braceSpan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, '}')
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

// parseCandidate 尝试把一个括号范围解析成载荷
// 依次应用修复：弯引号转直引号 -> 分号转逗号 -> Python 字典字面量转 JSON
func parseCandidate(raw string) (map[string]interface{}, error) {
	text := normalizeQuotes(raw)

	if payload, err := decodeJSON(text); err == nil {
		return payload, nil
	}

	// 某些邮件客户端把逗号渲染成分号
	repaired := strings.ReplaceAll(text, ";", ",")
	if payload, err := decodeJSON(repaired); err == nil {
		return payload, nil
	}

	// Python 字典字面量：单引号键值、True/False/None
	pythonish := pythonToJSON(repaired)
	payload, err := decodeJSON(pythonish)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeJSON(text string) (map[string]interface{}, error) {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	var payload map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

var quoteReplacer = strings.NewReplacer(
	"“", `"`, // “
	"”", `"`, // ”
	"‘", "'", // ‘
	"’", "'", // ’
)

func normalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

// pythonToJSON 把 Python 字典字面量近似转成 JSON
// 只处理信号载荷这种扁平结构，不追求通用性
func pythonToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '\'' && !inDouble:
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	out := b.String()
	out = strings.ReplaceAll(out, "True", "true")
	out = strings.ReplaceAll(out, "False", "false")
	out = strings.ReplaceAll(out, "None", "null")
	return out
}
