package core

import (
	"context"
	"time"
)

// QueryAnalyzer 查询分析器接口，分析与优化共用的对外契约。
// 两条实现路径（外部模型、规则回退）返回形状完全一致的结果，
// 调用方通过结果的 Source 字段区分来源，而不是通过错误分支。
type QueryAnalyzer interface {
	Analyze(ctx context.Context, queryText string) *AnalysisResult
	Optimize(ctx context.Context, queryText string) *OptimizationResult
}

// QueryStore 慢查询仓库接口
type QueryStore interface {
	ListQueries(ctx context.Context, filter *QueryFilter) ([]*SlowQuery, error)
	GetQuery(ctx context.Context, queryID string) (*SlowQuery, error)
}

// CacheManager 缓存管理器接口
type CacheManager interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// SessionManager 会话管理器接口
type SessionManager interface {
	CreateSession(ctx context.Context, userID string) (*SessionMemory, error)
	GetSession(ctx context.Context, sessionID string) (*SessionMemory, error)
	AppendHistory(ctx context.Context, sessionID string, record *AnalysisRecord) error
	DeleteSession(ctx context.Context, sessionID string) error
	CleanupExpiredSessions(ctx context.Context) error
}

// MCPServer MCP 协议服务器接口
type MCPServer interface {
	Start(ctx context.Context, addr string) error
	Stop(ctx context.Context) error
	RegisterHandler(method string, handler MCPHandler) error
	BroadcastNotification(notification *MCPNotification) error
}

// MCPHandler MCP 请求处理器接口
type MCPHandler interface {
	Handle(ctx context.Context, request *MCPRequest) (*MCPResponse, error)
}

// Logger 日志记录器接口
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Fatal(msg string, fields ...any)
}

// MetricsCollector 指标收集器接口，用于收集和记录系统运行时的各类指标数据
type MetricsCollector interface {
	// IncrementCounter 增加指定名称和标签的计数器的值（通常用于记录事件发生次数）
	IncrementCounter(name string, labels map[string]string)
	// RecordHistogram 记录指定名称和标签的直方图数据（通常用于记录分布型数据，如响应时间）
	RecordHistogram(name string, value float64, labels map[string]string)
	// SetGauge 设置指定名称和标签的仪表值（通常用于记录当前状态值，如内存使用量）
	SetGauge(name string, value float64, labels map[string]string)
}

// TokenManager 会话令牌管理器接口，HTTP 层用于签发和验证浏览器会话令牌
type TokenManager interface {
	IssueToken(user *UserInfo) (string, error)
	ValidateToken(tokenString string) (*UserInfo, error)
}
