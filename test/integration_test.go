// 本文件提供端到端集成测试，组装慢查询仓库、规则引擎、分析网关、
// 会话管理、MCP 服务器和 Web 服务器，验证各组件协同工作。
package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anniext/bqlens/analyzer"
	"github.com/Anniext/bqlens/cache"
	"github.com/Anniext/bqlens/core"
	"github.com/Anniext/bqlens/insight"
	"github.com/Anniext/bqlens/mcp"
	"github.com/Anniext/bqlens/security"
	"github.com/Anniext/bqlens/server"
	"github.com/Anniext/bqlens/session"
	"github.com/Anniext/bqlens/store"
)

// stack 集成测试用的完整服务栈。
type stack struct {
	store     core.QueryStore
	gateway   *insight.Gateway
	sessions  *session.Manager
	mcpServer *mcp.Server
	webServer *httptest.Server
	client    *http.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()

	queryStore := store.NewMemoryStore(nil)
	engine := analyzer.NewEngine(core.DefaultJoinThreshold, core.DefaultRewriteLimit, nil)

	memoryCache := cache.NewMemoryCache(128, nil)
	cacheManager := cache.NewManagerWithBackend(memoryCache, time.Minute, nil, nil)

	gateway, err := insight.NewGateway(&core.LLMConfig{}, engine, cacheManager, nil, nil)
	require.NoError(t, err)

	sessions := session.NewManager(time.Hour, cacheManager, nil, nil)
	t.Cleanup(sessions.Stop)

	guard := security.NewQueryGuard(core.DefaultMaxQueryLength, nil)
	tokens, err := security.NewTokenManager(&core.SecurityConfig{JWTSecret: "integration-secret"}, nil)
	require.NoError(t, err)

	// MCP 服务器
	registry := mcp.NewHandlerRegistry(nil)
	toolSet := mcp.NewToolSet(gateway, queryStore, sessions, guard, nil)
	require.NoError(t, toolSet.RegisterAll(registry))

	mcpServer := mcp.NewServer(&core.MCPConfig{Timeout: 5 * time.Second, MaxConnections: 8}, registry, nil, nil)
	require.NoError(t, mcpServer.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { _ = mcpServer.Stop(context.Background()) })

	// Web 服务器
	webSrv, err := server.NewServer(
		&core.ServerConfig{Host: "127.0.0.1", Port: 0},
		gateway, queryStore, sessions, tokens, guard, nil, nil,
	)
	require.NoError(t, err)

	webServer := httptest.NewServer(webSrv.Handler())
	t.Cleanup(webServer.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &stack{
		store:     queryStore,
		gateway:   gateway,
		sessions:  sessions,
		mcpServer: mcpServer,
		webServer: webServer,
		client:    &http.Client{Jar: jar},
	}
}

func (s *stack) dialMCP(t *testing.T) *websocket.Conn {
	t.Helper()

	url := fmt.Sprintf("ws://%s/mcp", s.mcpServer.Addr())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mcpCall(t *testing.T, conn *websocket.Conn, id, method string, params any) *core.MCPMessage {
	t.Helper()

	require.NoError(t, conn.WriteJSON(&core.MCPMessage{
		Type:   "request",
		ID:     id,
		Method: method,
		Params: params,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var response core.MCPMessage
	require.NoError(t, conn.ReadJSON(&response))
	return &response
}

func decodeResult(t *testing.T, result any, target any) {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target))
}

func TestMCPSlowQueryWorkflow(t *testing.T) {
	s := newStack(t)
	conn := s.dialMCP(t)

	// 列出慢查询
	response := mcpCall(t, conn, "1", "get_slow_queries", map[string]any{"min_runtime_ms": 60000})
	require.Nil(t, response.Error)

	var queries []*core.SlowQuery
	decodeResult(t, response.Result, &queries)
	require.Len(t, queries, 3)

	// 分析排名第一的慢查询
	response = mcpCall(t, conn, "2", "analyze_slow_query", map[string]any{"query_id": queries[0].QueryID})
	require.Nil(t, response.Error)

	var combined struct {
		Query    *core.SlowQuery      `json:"query"`
		Analysis *core.AnalysisResult `json:"analysis"`
	}
	decodeResult(t, response.Result, &combined)
	assert.Equal(t, queries[0].QueryID, combined.Query.QueryID)
	assert.True(t, combined.Analysis.IssuesFound)
	assert.Equal(t, core.SourceRuleBased, combined.Analysis.Source)
	assert.Len(t, combined.Analysis.Analysis, 6)
}

func TestMCPAnalyzeAndOptimize(t *testing.T) {
	s := newStack(t)
	conn := s.dialMCP(t)

	query := "SELECT * FROM dataset.events ORDER BY created_at"

	response := mcpCall(t, conn, "1", "analyze_query", map[string]any{"query": query})
	require.Nil(t, response.Error)

	var analysis core.AnalysisResult
	decodeResult(t, response.Result, &analysis)
	assert.True(t, analysis.Analysis[core.PatternSelectStar])
	assert.True(t, analysis.Analysis[core.PatternOrderByWithoutLimit])

	response = mcpCall(t, conn, "2", "optimize_query", map[string]any{"query": query})
	require.Nil(t, response.Error)

	var optimization core.OptimizationResult
	decodeResult(t, response.Result, &optimization)
	assert.Contains(t, optimization.OptimizedQuery, "LIMIT 1000")
}

func TestMCPSessionHistoryAcrossCalls(t *testing.T) {
	s := newStack(t)
	conn := s.dialMCP(t)

	memory, err := s.sessions.CreateSession(context.Background(), "integration@bq.internal")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		response := mcpCall(t, conn, fmt.Sprintf("h-%d", i), "analyze_query", map[string]any{
			"query":      fmt.Sprintf("SELECT col_%d FROM dataset.t", i),
			"session_id": memory.SessionID,
		})
		require.Nil(t, response.Error)
	}

	restored, err := s.sessions.GetSession(context.Background(), memory.SessionID)
	require.NoError(t, err)
	assert.Len(t, restored.History, 2)
}

func TestMCPValidationErrors(t *testing.T) {
	s := newStack(t)
	conn := s.dialMCP(t)

	// 空查询被守卫拦截
	response := mcpCall(t, conn, "1", "analyze_query", map[string]any{"query": "   "})
	require.NotNil(t, response.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, response.Error.Code)

	// 未知方法
	response = mcpCall(t, conn, "2", "no_such_method", nil)
	require.NotNil(t, response.Error)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, response.Error.Code)

	// 不存在的查询
	response = mcpCall(t, conn, "3", "get_query_by_id", map[string]any{"query_id": "q-999"})
	require.NotNil(t, response.Error)
}

func TestWebAndMCPShareStore(t *testing.T) {
	s := newStack(t)

	// Web API 与 MCP 工具看到同一份慢查询数据
	resp, err := s.client.Get(s.webServer.URL + "/api/queries")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var apiQueries []*core.SlowQuery
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiQueries))

	conn := s.dialMCP(t)
	response := mcpCall(t, conn, "1", "get_slow_queries", nil)
	require.Nil(t, response.Error)

	var mcpQueries []*core.SlowQuery
	decodeResult(t, response.Result, &mcpQueries)
	assert.Equal(t, len(apiQueries), len(mcpQueries))
}

func TestWebAnalyzeAPICachesResults(t *testing.T) {
	s := newStack(t)

	body, err := json.Marshal(map[string]string{"query": "SELECT * FROM dataset.events"})
	require.NoError(t, err)

	var first, second core.AnalysisResult
	for i, target := range []*core.AnalysisResult{&first, &second} {
		resp, err := s.client.Post(s.webServer.URL+"/api/analyze", "application/json", bytes.NewReader(body))
		require.NoError(t, err, "第 %d 次请求", i+1)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
		resp.Body.Close()
	}

	assert.Equal(t, first.Analysis, second.Analysis)
	assert.Equal(t, core.SourceRuleBased, second.Source)
}

func TestWebSessionHistoryPage(t *testing.T) {
	s := newStack(t)

	form := strings.NewReader("query=" + strings.ReplaceAll("SELECT * FROM dataset.events", " ", "+"))
	resp, err := s.client.Post(s.webServer.URL+"/analyze", "application/x-www-form-urlencoded", form)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = s.client.Get(s.webServer.URL + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "SELECT * FROM dataset.events")
}
