package mcp

import (
	"context"
	"time"

	"github.com/Anniext/bqlens/core"
	"github.com/Anniext/bqlens/security"
)

// 工具方法名
const (
	MethodListTools        = "list_tools"
	MethodGetSlowQueries   = "get_slow_queries"
	MethodGetQueryByID     = "get_query_by_id"
	MethodAnalyzeQuery     = "analyze_query"
	MethodOptimizeQuery    = "optimize_query"
	MethodAnalyzeSlowQuery = "analyze_slow_query"
)

// ToolSet MCP 工具集，将分析能力组装为协议处理器。
// analyzer：分析网关（外部模型 + 规则回退）。
// store：慢查询仓库。
// sessions：会话管理器，可以为 nil。
// guard：查询入口守卫。
// logger：日志记录器。
type ToolSet struct {
	analyzer core.QueryAnalyzer  // 分析网关
	store    core.QueryStore     // 慢查询仓库
	sessions core.SessionManager // 会话管理器
	guard    *security.QueryGuard // 查询守卫
	logger   core.Logger         // 日志记录器
}

// NewToolSet 创建工具集。
func NewToolSet(analyzer core.QueryAnalyzer, store core.QueryStore, sessions core.SessionManager, guard *security.QueryGuard, logger core.Logger) *ToolSet {
	return &ToolSet{
		analyzer: analyzer,
		store:    store,
		sessions: sessions,
		guard:    guard,
		logger:   logger,
	}
}

// RegisterAll 将全部工具注册到注册表。
func (t *ToolSet) RegisterAll(registry *HandlerRegistry) error {
	handlers := map[string]HandlerFunc{
		MethodListTools:        t.handleListTools,
		MethodGetSlowQueries:   t.handleGetSlowQueries,
		MethodGetQueryByID:     t.handleGetQueryByID,
		MethodAnalyzeQuery:     t.handleAnalyzeQuery,
		MethodOptimizeQuery:    t.handleOptimizeQuery,
		MethodAnalyzeSlowQuery: t.handleAnalyzeSlowQuery,
	}

	for method, handler := range handlers {
		if err := registry.Register(method, handler); err != nil {
			return err
		}
	}
	return nil
}

// toolDescriptor 工具描述，list_tools 的返回项。
type toolDescriptor struct {
	Name        string `json:"name"`        // 工具名
	Description string `json:"description"` // 工具用途
}

func (t *ToolSet) handleListTools(ctx context.Context, request *core.MCPRequest) (*core.MCPResponse, error) {
	tools := []toolDescriptor{
		{Name: MethodGetSlowQueries, Description: "List slow queries from the repository, optionally filtered by runtime and user"},
		{Name: MethodGetQueryByID, Description: "Fetch a single slow query by its id"},
		{Name: MethodAnalyzeQuery, Description: "Detect BigQuery anti-patterns in a SQL text"},
		{Name: MethodOptimizeQuery, Description: "Rewrite a SQL text to avoid detected anti-patterns"},
		{Name: MethodAnalyzeSlowQuery, Description: "Analyze a slow query from the repository by its id"},
	}

	return &core.MCPResponse{
		ID:     request.ID,
		Result: map[string]any{"tools": tools},
	}, nil
}

// slowQueriesParams get_slow_queries 的参数。
type slowQueriesParams struct {
	MinRuntimeMS int64  `json:"min_runtime_ms"` // 最小运行时长
	User         string `json:"user"`           // 用户过滤
}

func (t *ToolSet) handleGetSlowQueries(ctx context.Context, request *core.MCPRequest) (*core.MCPResponse, error) {
	var params slowQueriesParams
	if err := decodeParams(request.Params, &params); err != nil {
		return errorResponse(request.ID, ErrCodeInvalidParams, err.Error(), nil), nil
	}

	queries, err := t.store.ListQueries(ctx, &core.QueryFilter{
		MinRuntimeMS: params.MinRuntimeMS,
		User:         params.User,
	})
	if err != nil {
		return bqErrorResponse(request.ID, err), nil
	}

	return &core.MCPResponse{
		ID: request.ID,
		Result: map[string]any{
			"queries": queries,
			"count":   len(queries),
		},
	}, nil
}

// queryByIDParams 按 ID 取查询的参数。
type queryByIDParams struct {
	QueryID string `json:"query_id"` // 查询ID
}

func (t *ToolSet) handleGetQueryByID(ctx context.Context, request *core.MCPRequest) (*core.MCPResponse, error) {
	var params queryByIDParams
	if err := decodeParams(request.Params, &params); err != nil {
		return errorResponse(request.ID, ErrCodeInvalidParams, err.Error(), nil), nil
	}
	if params.QueryID == "" {
		return errorResponse(request.ID, ErrCodeInvalidParams, "query_id 不能为空", nil), nil
	}

	query, err := t.store.GetQuery(ctx, params.QueryID)
	if err != nil {
		return bqErrorResponse(request.ID, err), nil
	}

	return &core.MCPResponse{
		ID:     request.ID,
		Result: query,
	}, nil
}

// analyzeParams 文本分析/优化的参数。
type analyzeParams struct {
	Query     string `json:"query"`      // 查询文本
	SessionID string `json:"session_id"` // 会话ID，可选
}

func (t *ToolSet) handleAnalyzeQuery(ctx context.Context, request *core.MCPRequest) (*core.MCPResponse, error) {
	var params analyzeParams
	if err := decodeParams(request.Params, &params); err != nil {
		return errorResponse(request.ID, ErrCodeInvalidParams, err.Error(), nil), nil
	}
	if err := t.guard.CheckQuery(params.Query); err != nil {
		return bqErrorResponse(request.ID, err), nil
	}

	result := t.analyzer.Analyze(ctx, params.Query)
	t.recordHistory(ctx, params.SessionID, &core.AnalysisRecord{
		QueryText:   params.Query,
		IssuesFound: result.IssuesFound,
		Source:      result.Source,
		Timestamp:   time.Now(),
	})

	return &core.MCPResponse{
		ID:     request.ID,
		Result: result,
	}, nil
}

func (t *ToolSet) handleOptimizeQuery(ctx context.Context, request *core.MCPRequest) (*core.MCPResponse, error) {
	var params analyzeParams
	if err := decodeParams(request.Params, &params); err != nil {
		return errorResponse(request.ID, ErrCodeInvalidParams, err.Error(), nil), nil
	}
	if err := t.guard.CheckQuery(params.Query); err != nil {
		return bqErrorResponse(request.ID, err), nil
	}

	result := t.analyzer.Optimize(ctx, params.Query)
	t.recordHistory(ctx, params.SessionID, &core.AnalysisRecord{
		QueryText:   params.Query,
		IssuesFound: result.Analysis.HasIssues(),
		Source:      result.Source,
		Timestamp:   time.Now(),
	})

	return &core.MCPResponse{
		ID:     request.ID,
		Result: result,
	}, nil
}

// analyzeSlowQueryParams 按 ID 分析慢查询的参数。
type analyzeSlowQueryParams struct {
	QueryID   string `json:"query_id"`   // 查询ID
	SessionID string `json:"session_id"` // 会话ID，可选
}

func (t *ToolSet) handleAnalyzeSlowQuery(ctx context.Context, request *core.MCPRequest) (*core.MCPResponse, error) {
	var params analyzeSlowQueryParams
	if err := decodeParams(request.Params, &params); err != nil {
		return errorResponse(request.ID, ErrCodeInvalidParams, err.Error(), nil), nil
	}
	if params.QueryID == "" {
		return errorResponse(request.ID, ErrCodeInvalidParams, "query_id 不能为空", nil), nil
	}

	query, err := t.store.GetQuery(ctx, params.QueryID)
	if err != nil {
		return bqErrorResponse(request.ID, err), nil
	}
	if err := t.guard.CheckQuery(query.QueryText); err != nil {
		return bqErrorResponse(request.ID, err), nil
	}

	result := t.analyzer.Analyze(ctx, query.QueryText)
	t.recordHistory(ctx, params.SessionID, &core.AnalysisRecord{
		QueryText:   query.QueryText,
		QueryID:     query.QueryID,
		IssuesFound: result.IssuesFound,
		Source:      result.Source,
		Timestamp:   time.Now(),
	})

	return &core.MCPResponse{
		ID: request.ID,
		Result: map[string]any{
			"query":    query,
			"analysis": result,
		},
	}, nil
}

// recordHistory 将分析记录写入会话历史，失败只记日志。
func (t *ToolSet) recordHistory(ctx context.Context, sessionID string, record *core.AnalysisRecord) {
	if t.sessions == nil || sessionID == "" {
		return
	}
	if err := t.sessions.AppendHistory(ctx, sessionID, record); err != nil && t.logger != nil {
		t.logger.Debug("会话历史写入失败", "session_id", sessionID, "error", err.Error())
	}
}
