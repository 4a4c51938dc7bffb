package insight

import (
	"strings"
	"testing"

	"github.com/Anniext/bqlens/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Run("代码块优先", func(t *testing.T) {
		text := "Here is the result:\n```json\n{\"a\": 1}\n```\nDone."
		payload, ok := extractJSON(text)
		require.True(t, ok)
		assert.Equal(t, `{"a": 1}`, payload)
	})

	t.Run("裸 JSON 对象", func(t *testing.T) {
		text := `The analysis is {"select_star": true, "nested": {"x": 1}} as shown.`
		payload, ok := extractJSON(text)
		require.True(t, ok)
		assert.Equal(t, `{"select_star": true, "nested": {"x": 1}}`, payload)
	})

	t.Run("字符串内的大括号不干扰扫描", func(t *testing.T) {
		text := `{"query": "SELECT '{' FROM t"}`
		payload, ok := extractJSON(text)
		require.True(t, ok)
		assert.Equal(t, text, payload)
	})

	t.Run("没有 JSON 时返回失败", func(t *testing.T) {
		_, ok := extractJSON("no structured content here")
		assert.False(t, ok)
	})
}

func TestParseFindings(t *testing.T) {
	t.Run("合法响应", func(t *testing.T) {
		findings, err := parseFindings([]byte(allFalseFindingsJSON()))
		require.NoError(t, err)
		assert.Len(t, findings, 6)
		assert.False(t, findings.HasIssues())
	})

	t.Run("缺少键被拒绝", func(t *testing.T) {
		_, err := parseFindings([]byte(`{"select_star": true}`))
		require.Error(t, err)

		bqErr := core.GetBQError(err)
		require.NotNil(t, bqErr)
		assert.Equal(t, "LLM_INVALID_RESPONSE", bqErr.Code)
	})

	t.Run("未知键被拒绝", func(t *testing.T) {
		payload := strings.Replace(allFalseFindingsJSON(), "select_star", "select_all", 1)
		_, err := parseFindings([]byte(payload))
		require.Error(t, err)
	})

	t.Run("非布尔值被拒绝", func(t *testing.T) {
		payload := strings.Replace(allFalseFindingsJSON(), `"select_star": false`, `"select_star": 1`, 1)
		_, err := parseFindings([]byte(payload))
		require.Error(t, err)
	})
}

func TestParseOptimizationResponse(t *testing.T) {
	t.Run("合法响应", func(t *testing.T) {
		payload := `{"optimized_query": "SELECT id FROM t", "analysis": ` + allFalseFindingsJSON() + `}`
		optimized, findings, err := parseOptimizationResponse(payload)
		require.NoError(t, err)
		assert.Equal(t, "SELECT id FROM t", optimized)
		assert.Len(t, findings, 6)
	})

	t.Run("缺少 analysis 被拒绝", func(t *testing.T) {
		_, _, err := parseOptimizationResponse(`{"optimized_query": "SELECT id FROM t"}`)
		require.Error(t, err)
	})
}

func TestPrompts(t *testing.T) {
	query := "SELECT * FROM orders"

	analysis := analysisPrompt(query)
	assert.Contains(t, analysis, query)
	assert.Contains(t, analysis, "select_star")
	assert.Contains(t, analysis, "order_by_without_limit")

	optimization := optimizationPrompt(query)
	assert.Contains(t, optimization, query)
	assert.Contains(t, optimization, "optimized_query")
}
