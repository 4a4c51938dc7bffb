package insight

import (
	"encoding/json"
	"strings"

	"github.com/Anniext/bqlens/analyzer"
	"github.com/Anniext/bqlens/core"
)

// llmOptimization 优化请求期望的响应形状。
type llmOptimization struct {
	OptimizedQuery string          `json:"optimized_query"`
	Analysis       json.RawMessage `json:"analysis"`
}

// extractJSON 从模型响应中提取 JSON 对象文本。
// 依次尝试 ```json 代码块和首个平衡的大括号片段。
func extractJSON(text string) (string, bool) {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if candidate != "" {
				return candidate, true
			}
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}

// parseFindings 解析并校验检测结果 JSON。
// 键集合必须恰好等于模式目录的全集，值必须是严格布尔，
// 任何偏差都视为模型响应无效。
func parseFindings(data []byte) (core.Findings, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, core.ErrLLMInvalidResponse.WithCause(err)
	}

	if len(raw) != len(analyzer.PatternIDs()) {
		return nil, core.ErrLLMInvalidResponse.WithDetails(map[string]any{
			"reason":    "unexpected key count",
			"key_count": len(raw),
		})
	}

	findings := make(core.Findings, len(raw))
	for key, value := range raw {
		id := core.PatternID(key)
		if !analyzer.IsKnownPattern(id) {
			return nil, core.ErrLLMInvalidResponse.WithDetails(map[string]any{
				"reason": "unknown pattern id",
				"key":    key,
			})
		}

		var detected bool
		if err := json.Unmarshal(value, &detected); err != nil {
			return nil, core.ErrLLMInvalidResponse.WithDetails(map[string]any{
				"reason": "non-boolean value",
				"key":    key,
			})
		}
		findings[id] = detected
	}

	return findings, nil
}

// parseAnalysisResponse 解析分析请求的模型响应。
func parseAnalysisResponse(text string) (core.Findings, error) {
	payload, ok := extractJSON(text)
	if !ok {
		return nil, core.ErrLLMInvalidResponse.WithDetails(map[string]any{
			"reason": "no JSON object in response",
		})
	}
	return parseFindings([]byte(payload))
}

// parseOptimizationResponse 解析优化请求的模型响应。
// 返回改写后的查询与检测结果；optimized_query 为空时由调用方回退为原查询。
func parseOptimizationResponse(text string) (string, core.Findings, error) {
	payload, ok := extractJSON(text)
	if !ok {
		return "", nil, core.ErrLLMInvalidResponse.WithDetails(map[string]any{
			"reason": "no JSON object in response",
		})
	}

	var parsed llmOptimization
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", nil, core.ErrLLMInvalidResponse.WithCause(err)
	}
	if len(parsed.Analysis) == 0 {
		return "", nil, core.ErrLLMInvalidResponse.WithDetails(map[string]any{
			"reason": "missing analysis object",
		})
	}

	findings, err := parseFindings(parsed.Analysis)
	if err != nil {
		return "", nil, err
	}

	return parsed.OptimizedQuery, findings, nil
}
