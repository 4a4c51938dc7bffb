package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Anniext/bqlens/analyzer"
	"github.com/Anniext/bqlens/core"
	"github.com/Anniext/bqlens/security"
	"github.com/Anniext/bqlens/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestToolSet(t *testing.T) *ToolSet {
	t.Helper()

	engine := analyzer.NewEngine(core.DefaultJoinThreshold, core.DefaultRewriteLimit, nil)
	repository := store.NewMemoryStore(nil)
	guard := security.NewQueryGuard(core.DefaultMaxQueryLength, nil)

	return NewToolSet(engine, repository, nil, guard, nil)
}

func newTestRegistry(t *testing.T) *HandlerRegistry {
	t.Helper()

	registry := NewHandlerRegistry(nil)
	require.NoError(t, newTestToolSet(t).RegisterAll(registry))
	return registry
}

// call 通过注册表直接调用工具。
func call(t *testing.T, registry *HandlerRegistry, method string, params any) *core.MCPResponse {
	t.Helper()

	handler, exists := registry.Get(method)
	require.True(t, exists, "方法 %s 应该已注册", method)

	response, err := handler.Handle(context.Background(), &core.MCPRequest{
		ID:     "req-1",
		Method: method,
		Params: params,
	})
	require.NoError(t, err)
	require.NotNil(t, response)
	return response
}

func TestRegisterAll(t *testing.T) {
	registry := newTestRegistry(t)
	assert.Len(t, registry.Methods(), 6)

	// 重复注册被拒绝
	err := newTestToolSet(t).RegisterAll(registry)
	require.Error(t, err)
}

func TestListTools(t *testing.T) {
	response := call(t, newTestRegistry(t), MethodListTools, nil)
	require.Nil(t, response.Error)

	result, ok := response.Result.(map[string]any)
	require.True(t, ok)
	tools, ok := result["tools"].([]toolDescriptor)
	require.True(t, ok)
	assert.Len(t, tools, 5)
}

func TestGetSlowQueriesTool(t *testing.T) {
	registry := newTestRegistry(t)

	t.Run("无过滤条件返回全部", func(t *testing.T) {
		response := call(t, registry, MethodGetSlowQueries, nil)
		require.Nil(t, response.Error)

		result := response.Result.(map[string]any)
		assert.Equal(t, 6, result["count"])
	})

	t.Run("按运行时长过滤", func(t *testing.T) {
		response := call(t, registry, MethodGetSlowQueries, map[string]any{
			"min_runtime_ms": 60000,
		})
		require.Nil(t, response.Error)

		result := response.Result.(map[string]any)
		assert.Equal(t, 3, result["count"])
	})
}

func TestGetQueryByIDTool(t *testing.T) {
	registry := newTestRegistry(t)

	t.Run("存在的查询", func(t *testing.T) {
		response := call(t, registry, MethodGetQueryByID, map[string]any{"query_id": "q-001"})
		require.Nil(t, response.Error)

		query, ok := response.Result.(*core.SlowQuery)
		require.True(t, ok)
		assert.Equal(t, "q-001", query.QueryID)
	})

	t.Run("不存在的查询返回错误", func(t *testing.T) {
		response := call(t, registry, MethodGetQueryByID, map[string]any{"query_id": "q-999"})
		require.NotNil(t, response.Error)
		assert.Equal(t, ErrCodeInvalidParams, response.Error.Code)
	})

	t.Run("缺少 query_id 返回错误", func(t *testing.T) {
		response := call(t, registry, MethodGetQueryByID, map[string]any{})
		require.NotNil(t, response.Error)
		assert.Equal(t, ErrCodeInvalidParams, response.Error.Code)
	})
}

func TestAnalyzeQueryTool(t *testing.T) {
	registry := newTestRegistry(t)

	t.Run("检出反模式", func(t *testing.T) {
		response := call(t, registry, MethodAnalyzeQuery, map[string]any{
			"query": "SELECT * FROM orders ORDER BY created_at",
		})
		require.Nil(t, response.Error)

		result, ok := response.Result.(*core.AnalysisResult)
		require.True(t, ok)
		assert.True(t, result.IssuesFound)
		assert.True(t, result.Analysis[core.PatternSelectStar])
		assert.True(t, result.Analysis[core.PatternOrderByWithoutLimit])
		assert.Equal(t, core.SourceRuleBased, result.Source)
	})

	t.Run("空查询被守卫拒绝", func(t *testing.T) {
		response := call(t, registry, MethodAnalyzeQuery, map[string]any{"query": "  "})
		require.NotNil(t, response.Error)
		assert.Equal(t, ErrCodeInvalidParams, response.Error.Code)
	})
}

func TestOptimizeQueryTool(t *testing.T) {
	registry := newTestRegistry(t)

	response := call(t, registry, MethodOptimizeQuery, map[string]any{
		"query": "SELECT id FROM orders ORDER BY created_at",
	})
	require.Nil(t, response.Error)

	result, ok := response.Result.(*core.OptimizationResult)
	require.True(t, ok)
	assert.Contains(t, result.OptimizedQuery, "LIMIT 1000")
	assert.True(t, result.Analysis[core.PatternOrderByWithoutLimit])
}

func TestAnalyzeSlowQueryTool(t *testing.T) {
	registry := newTestRegistry(t)

	response := call(t, registry, MethodAnalyzeSlowQuery, map[string]any{"query_id": "q-001"})
	require.Nil(t, response.Error)

	result := response.Result.(map[string]any)
	query := result["query"].(*core.SlowQuery)
	analysis := result["analysis"].(*core.AnalysisResult)

	assert.Equal(t, "q-001", query.QueryID)
	assert.True(t, analysis.IssuesFound)
}

func TestDecodeParams(t *testing.T) {
	var params analyzeParams
	require.NoError(t, decodeParams(map[string]any{"query": "SELECT 1", "session_id": "s-1"}, &params))
	assert.Equal(t, "SELECT 1", params.Query)
	assert.Equal(t, "s-1", params.SessionID)

	// nil 参数不报错
	var empty analyzeParams
	require.NoError(t, decodeParams(nil, &empty))
	assert.Empty(t, empty.Query)
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		request *core.MCPRequest
		wantErr bool
	}{
		{"合法请求", &core.MCPRequest{ID: "1", Method: "list_tools"}, false},
		{"空请求", nil, true},
		{"缺少ID", &core.MCPRequest{Method: "list_tools"}, true},
		{"缺少方法", &core.MCPRequest{ID: "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(tt.request)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBQErrorResponse(t *testing.T) {
	response := bqErrorResponse("req-1", core.ErrQueryNotFound)
	require.NotNil(t, response.Error)
	assert.Equal(t, ErrCodeInvalidParams, response.Error.Code)

	data, err := json.Marshal(response)
	require.NoError(t, err)
	assert.Contains(t, string(data), "QUERY_NOT_FOUND")
}
