// Package insight 封装外部大模型的分析路径，失败时整体回退到规则引擎。
package insight

import (
	"context"
	"fmt"
	"strings"

	"github.com/Anniext/bqlens/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// createLLMClient 根据配置创建 LLM 客户端。
// api_key 为空时返回 (nil, nil)，表示外部模型路径未启用。
func createLLMClient(config *core.LLMConfig) (llms.Model, error) {
	if config == nil || config.APIKey == "" {
		return nil, nil
	}

	switch config.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithModel(config.Model),
			openai.WithToken(config.APIKey),
		}

		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}

		return openai.New(opts...)

	case "mock", "local":
		// 测试和本地开发使用的模拟实现
		return &mockLLM{}, nil

	default:
		return nil, fmt.Errorf("不支持的 LLM 服务商: %s", config.Provider)
	}
}

// mockLLM 模拟 LLM 实现（用于测试）
type mockLLM struct {
	response string // 固定响应内容
	err      error  // 固定错误
}

// GenerateContent 生成内容（模拟实现）
func (m *mockLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}

	response := m.response
	if response == "" {
		response = defaultMockResponse(messages)
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content: response,
			},
		},
	}, nil
}

// Call 调用（模拟实现）
func (m *mockLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.response != "" {
		return m.response, nil
	}
	return allFalseFindingsJSON(), nil
}

// defaultMockResponse 根据请求内容返回形状合法的默认响应。
func defaultMockResponse(messages []llms.MessageContent) string {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok && strings.Contains(text.Text, "optimized_query") {
				return `{"optimized_query": "", "analysis": ` + allFalseFindingsJSON() + `}`
			}
		}
	}
	return allFalseFindingsJSON()
}

func allFalseFindingsJSON() string {
	return `{"select_star": false, "multiple_with_clauses": false, "subquery_with_aggregation": false, ` +
		`"subquery_with_distinct": false, "too_many_joins": false, "order_by_without_limit": false}`
}
