package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Anniext/bqlens/analyzer"
	"github.com/Anniext/bqlens/core"
	"github.com/Anniext/bqlens/monitor"
	"github.com/Anniext/bqlens/security"
	"github.com/Anniext/bqlens/session"
	"github.com/Anniext/bqlens/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestServer 组装一个内存栈的 Web 服务器。
func buildTestServer(t *testing.T) *Server {
	t.Helper()

	engine := analyzer.NewEngine(core.DefaultJoinThreshold, core.DefaultRewriteLimit, nil)
	repository := store.NewMemoryStore(nil)
	sessionManager := session.NewManager(time.Hour, nil, nil, nil)
	t.Cleanup(sessionManager.Stop)

	tokenManager, err := security.NewTokenManager(&core.SecurityConfig{
		JWTSecret:   "test-secret",
		TokenExpiry: time.Hour,
	}, nil)
	require.NoError(t, err)

	guard := security.NewQueryGuard(core.DefaultMaxQueryLength, nil)

	srv, err := NewServer(
		&core.ServerConfig{Host: "127.0.0.1", Port: 0},
		engine, repository, sessionManager, tokenManager, guard, nil, nil,
	)
	require.NoError(t, err)
	return srv
}

// newTestServer 启动测试服务器并返回带 Cookie 的客户端。
func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	return startTestServer(t, buildTestServer(t))
}

func startTestServer(t *testing.T, srv *Server) (*httptest.Server, *http.Client) {
	t.Helper()

	testServer := httptest.NewServer(srv.Handler())
	t.Cleanup(testServer.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	return testServer, client
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHealthEndpoint(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.Get(testServer.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, core.Version, payload["version"])
}

func TestHealthEndpointWithManager(t *testing.T) {
	t.Run("检查通过时输出完整报告", func(t *testing.T) {
		srv := buildTestServer(t)
		health := monitor.NewHealthManager(nil)
		require.NoError(t, health.RegisterCheck("store", func(ctx context.Context) error { return nil }))
		srv.SetHealthManager(health)
		testServer, client := startTestServer(t, srv)

		resp, err := client.Get(testServer.URL + "/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := readBody(t, resp)
		assert.Contains(t, body, `"overall_status":"healthy"`)
		assert.Contains(t, body, `"component_name":"store"`)
	})

	t.Run("全部失败时返回503", func(t *testing.T) {
		srv := buildTestServer(t)
		health := monitor.NewHealthManager(nil)
		require.NoError(t, health.RegisterCheck("store", func(ctx context.Context) error {
			return errors.New("存储不可用")
		}))
		srv.SetHealthManager(health)
		testServer, client := startTestServer(t, srv)

		resp, err := client.Get(testServer.URL + "/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), `"overall_status":"unhealthy"`)
	})
}

func TestResponseCarriesRequestID(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.Get(testServer.URL + "/")
	require.NoError(t, err)
	readBody(t, resp)

	requestID := resp.Header.Get("X-Request-ID")
	assert.True(t, strings.HasPrefix(requestID, "req_"), "got %q", requestID)
}

func TestIndexListsSlowQueries(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.Get(testServer.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "q-001")
	assert.Contains(t, body, "q-006")
	// 运行时长和扫描量以可读格式渲染
	assert.Contains(t, body, "3m4s")
	assert.Contains(t, body, "724.0 GB")
}

func TestIndexFilter(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.Get(testServer.URL + "/?min_runtime_ms=60000")
	require.NoError(t, err)

	body := readBody(t, resp)
	assert.Contains(t, body, "q-001")
	assert.NotContains(t, body, "q-006")
}

func TestSessionCookieIssued(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.Get(testServer.URL + "/")
	require.NoError(t, err)
	readBody(t, resp)

	serverURL, err := url.Parse(testServer.URL)
	require.NoError(t, err)

	cookies := client.Jar.Cookies(serverURL)
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestAnalyzeForm(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.PostForm(testServer.URL+"/analyze", url.Values{
		"query": {"SELECT * FROM orders ORDER BY created_at"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "select_star")
	assert.Contains(t, body, "order_by_without_limit")
	assert.Contains(t, body, "rule_based")
}

func TestAnalyzeFormRejectsEmptyQuery(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.PostForm(testServer.URL+"/analyze", url.Values{
		"query": {"   "},
	})
	require.NoError(t, err)

	body := readBody(t, resp)
	assert.Contains(t, body, "Please paste a query")
}

func TestOptimizeForm(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.PostForm(testServer.URL+"/optimize", url.Values{
		"query": {"SELECT id FROM orders ORDER BY created_at"},
	})
	require.NoError(t, err)

	body := readBody(t, resp)
	assert.Contains(t, body, "LIMIT 1000")
}

func TestHistoryAfterAnalyze(t *testing.T) {
	testServer, client := newTestServer(t)

	_, err := client.PostForm(testServer.URL+"/analyze", url.Values{
		"query": {"SELECT * FROM orders"},
	})
	require.NoError(t, err)

	resp, err := client.Get(testServer.URL + "/history")
	require.NoError(t, err)

	body := readBody(t, resp)
	assert.Contains(t, body, "SELECT * FROM orders")
	assert.Contains(t, body, "yes")
}

func TestAPIQueries(t *testing.T) {
	testServer, client := newTestServer(t)

	resp, err := client.Get(testServer.URL + "/api/queries?user=analyst@bq.internal")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Queries []*core.SlowQuery `json:"queries"`
		Count   int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &payload))
	assert.Equal(t, 2, payload.Count)
	for _, query := range payload.Queries {
		assert.Equal(t, "analyst@bq.internal", query.User)
	}
}

func TestAPIQueryByID(t *testing.T) {
	testServer, client := newTestServer(t)

	t.Run("存在的查询", func(t *testing.T) {
		resp, err := client.Get(testServer.URL + "/api/queries/q-002")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var query core.SlowQuery
		require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &query))
		assert.Equal(t, "q-002", query.QueryID)
	})

	t.Run("不存在的查询返回404", func(t *testing.T) {
		resp, err := client.Get(testServer.URL + "/api/queries/q-999")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		readBody(t, resp)
	})
}

func TestAPIAnalyze(t *testing.T) {
	testServer, client := newTestServer(t)

	payload, err := json.Marshal(map[string]string{"query": "SELECT * FROM orders"})
	require.NoError(t, err)

	resp, err := client.Post(testServer.URL+"/api/analyze", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result core.AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &result))
	assert.True(t, result.IssuesFound)
	assert.True(t, result.Analysis[core.PatternSelectStar])
	assert.Len(t, result.Analysis, 6)
	assert.Equal(t, core.SourceRuleBased, result.Source)
}

func TestAPIAnalyzeValidation(t *testing.T) {
	testServer, client := newTestServer(t)

	t.Run("非法JSON", func(t *testing.T) {
		resp, err := client.Post(testServer.URL+"/api/analyze", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		readBody(t, resp)
	})

	t.Run("空查询", func(t *testing.T) {
		resp, err := client.Post(testServer.URL+"/api/analyze", "application/json", strings.NewReader(`{"query": ""}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		readBody(t, resp)
	})
}

func TestAPIOptimize(t *testing.T) {
	testServer, client := newTestServer(t)

	payload, err := json.Marshal(map[string]string{"query": "SELECT id FROM orders ORDER BY id"})
	require.NoError(t, err)

	resp, err := client.Post(testServer.URL+"/api/optimize", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result core.OptimizationResult
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &result))
	assert.Contains(t, result.OptimizedQuery, "LIMIT 1000")
	assert.True(t, result.Analysis[core.PatternOrderByWithoutLimit])
}
