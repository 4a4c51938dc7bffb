package core

import (
	"time"
)

// PatternID 反模式标识符，来源于固定的模式目录（Pattern Catalog）。
// 目录集合在进程生命周期内不变，所有下游映射均以该集合为键空间。
type PatternID string

// 模式目录中的六种反模式标识符常量定义
const (
	PatternSelectStar              PatternID = "select_star"               // SELECT * 未配合 EXCEPT 使用
	PatternMultipleWithClauses     PatternID = "multiple_with_clauses"     // 多个 WITH 绑定且存在重复引用
	PatternSubqueryWithAggregation PatternID = "subquery_with_aggregation" // WHERE 子查询内含聚合函数
	PatternSubqueryWithDistinct    PatternID = "subquery_with_distinct"    // IN 子查询缺少 DISTINCT/GROUP BY
	PatternTooManyJoins            PatternID = "too_many_joins"            // JOIN 数量超过阈值
	PatternOrderByWithoutLimit     PatternID = "order_by_without_limit"    // ORDER BY 后缺少 LIMIT
)

// Findings 检测结果映射，键空间恒等于模式目录的全集。
// 不变量：无论输入为何，映射始终包含全部六个键，值为严格布尔。
type Findings map[PatternID]bool

// HasIssues 判断是否检测到任意反模式
func (f Findings) HasIssues() bool {
	for _, detected := range f {
		if detected {
			return true
		}
	}
	return false
}

// Clone 返回检测结果的副本，避免调用方共享可变状态
func (f Findings) Clone() Findings {
	cloned := make(Findings, len(f))
	for id, detected := range f {
		cloned[id] = detected
	}
	return cloned
}

// TrueCount 返回检测为真的反模式数量
func (f Findings) TrueCount() int {
	count := 0
	for _, detected := range f {
		if detected {
			count++
		}
	}
	return count
}

// ResultSource 结果来源枚举，标识分析/优化结果由哪条路径产生。
// 外部模型结果与规则结果形状一致，调用方通过该字段区分来源而非分支异常。
type ResultSource string

const (
	SourceLLM       ResultSource = "llm"        // 外部大模型路径
	SourceRuleBased ResultSource = "rule_based" // 规则回退路径
)

// AnalysisResult 分析结果结构体，单次请求作用域的不可变值。
// QueryText：原始查询文本。
// Analysis：检测结果映射，覆盖全部模式目录键。
// Explanations：解释集合，仅包含检测为真的键。
// IssuesFound：是否检测到任意反模式。
// Source：结果来源（llm 或 rule_based）。
type AnalysisResult struct {
	QueryText    string               `json:"query_text"`   // 原始查询文本
	Analysis     Findings             `json:"analysis"`     // 检测结果
	Explanations map[PatternID]string `json:"explanations"` // 解释集合
	IssuesFound  bool                 `json:"issues_found"` // 是否发现问题
	Source       ResultSource         `json:"source"`       // 结果来源
}

// OptimizationResult 优化结果结构体，单次请求作用域的不可变值。
// OriginalQuery：原始查询文本。
// OptimizedQuery：改写后的查询文本，附带逐模式注释。
// Analysis：驱动改写的检测结果。
// Source：结果来源（llm 或 rule_based）。
type OptimizationResult struct {
	OriginalQuery  string       `json:"original_query"`  // 原始查询
	OptimizedQuery string       `json:"optimized_query"` // 优化后查询
	Analysis       Findings     `json:"analysis"`        // 检测结果
	Source         ResultSource `json:"source"`          // 结果来源
}

// SlowQuery 慢查询记录结构体，描述查询仓库中的一条慢查询。
// QueryID：查询唯一标识。
// QueryText：查询文本。
// RuntimeMS：运行时长（毫秒）。
// User：提交用户。
// Timestamp：提交时间。
// BytesProcessed：处理字节数。
type SlowQuery struct {
	QueryID        string    `json:"query_id"`        // 查询ID
	QueryText      string    `json:"query_text"`      // 查询文本
	RuntimeMS      int64     `json:"runtime_ms"`      // 运行时长（毫秒）
	User           string    `json:"user"`            // 提交用户
	Timestamp      time.Time `json:"timestamp"`       // 提交时间
	BytesProcessed int64     `json:"bytes_processed"` // 处理字节数
}

// QueryFilter 慢查询过滤条件结构体。
// MinRuntimeMS：最小运行时长（毫秒），0 表示不过滤。
// User：按用户过滤，空串表示不过滤。
type QueryFilter struct {
	MinRuntimeMS int64  `json:"min_runtime_ms"` // 最小运行时长
	User         string `json:"user"`           // 用户过滤
}

// AnalysisRecord 分析历史记录结构体，记录会话中的一次分析。
// QueryText：分析的查询文本。
// QueryID：关联的慢查询 ID（直接文本分析时为空）。
// IssuesFound：是否发现问题。
// Source：结果来源。
// Timestamp：分析时间。
type AnalysisRecord struct {
	QueryText   string       `json:"query_text"`         // 查询文本
	QueryID     string       `json:"query_id,omitempty"` // 慢查询ID
	IssuesFound bool         `json:"issues_found"`       // 是否发现问题
	Source      ResultSource `json:"source"`             // 结果来源
	Timestamp   time.Time    `json:"timestamp"`          // 分析时间
}

// SessionMemory 会话内存结构体，记录用户会话及其分析历史。
// SessionID：会话ID。
// UserID：用户ID。
// History：分析历史。
// CreatedAt：创建时间。
// LastAccessed：最后访问时间。
type SessionMemory struct {
	SessionID    string            `json:"session_id"`    // 会话ID
	UserID       string            `json:"user_id"`       // 用户ID
	History      []*AnalysisRecord `json:"history"`       // 分析历史
	CreatedAt    time.Time         `json:"created_at"`    // 创建时间
	LastAccessed time.Time         `json:"last_accessed"` // 最后访问时间
}

// UserInfo 用户信息结构体，HTTP 会话令牌中携带的用户标识。
// ID：用户ID。
// Username：用户名。
// SessionID：关联的会话ID。
type UserInfo struct {
	ID        string `json:"id"`         // 用户ID
	Username  string `json:"username"`   // 用户名
	SessionID string `json:"session_id"` // 会话ID
}

// MCPMessage MCP消息结构体，表示MCP协议的消息内容。
// Type：消息类型（请求、响应、通知）。
// ID：消息ID。
// Method：方法名。
// Params：参数。
// Result：结果。
// Error：错误信息。
type MCPMessage struct {
	Type   string    `json:"type"`             // 消息类型
	ID     string    `json:"id,omitempty"`     // 消息ID
	Method string    `json:"method,omitempty"` // 方法名
	Params any       `json:"params,omitempty"` // 参数
	Result any       `json:"result,omitempty"` // 结果
	Error  *MCPError `json:"error,omitempty"`  // 错误信息
}

// MCPRequest MCP请求结构体，表示MCP协议的请求消息。
type MCPRequest struct {
	ID     string `json:"id"`     // 请求ID
	Method string `json:"method"` // 方法名
	Params any    `json:"params"` // 参数
}

// MCPResponse MCP响应结构体，表示MCP协议的响应消息。
type MCPResponse struct {
	ID     string    `json:"id"`               // 响应ID
	Result any       `json:"result,omitempty"` // 响应结果
	Error  *MCPError `json:"error,omitempty"`  // 错误信息
}

// MCPNotification MCP通知结构体，表示MCP协议的通知消息。
type MCPNotification struct {
	Method string `json:"method"` // 方法名
	Params any    `json:"params"` // 参数
}

// MCPError MCP错误结构体，描述MCP协议的错误信息。
type MCPError struct {
	Code    int    `json:"code"`           // 错误码
	Message string `json:"message"`        // 错误描述
	Data    any    `json:"data,omitempty"` // 附加数据
}

// Config 系统配置结构体，集中管理各模块配置。
// Server：HTTP 服务器配置。
// MCP：MCP协议配置。
// LLM：大语言模型配置。
// Analyzer：规则引擎配置。
// Store：慢查询仓库配置。
// Cache：缓存配置。
// Log：日志配置。
// Security：安全配置。
type Config struct {
	Server   *ServerConfig   `yaml:"server" mapstructure:"server"`     // 服务器配置
	MCP      *MCPConfig      `yaml:"mcp" mapstructure:"mcp"`           // MCP配置
	LLM      *LLMConfig      `yaml:"llm" mapstructure:"llm"`           // 大语言模型配置
	Analyzer *AnalyzerConfig `yaml:"analyzer" mapstructure:"analyzer"` // 规则引擎配置
	Store    *StoreConfig    `yaml:"store" mapstructure:"store"`       // 慢查询仓库配置
	Cache    *CacheConfig    `yaml:"cache" mapstructure:"cache"`       // 缓存配置
	Log      *LogConfig      `yaml:"log" mapstructure:"log"`           // 日志配置
	Security *SecurityConfig `yaml:"security" mapstructure:"security"` // 安全配置
}

// ServerConfig HTTP 服务器配置结构体。
// Host：主机地址。
// Port：端口号。
// ReadTimeout：读取超时时间。
// WriteTimeout：写入超时时间。
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`                   // 主机地址
	Port         int           `yaml:"port" mapstructure:"port"`                   // 端口号
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`   // 读取超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"` // 写入超时
}

// MCPConfig MCP配置结构体，定义MCP服务参数。
// Host：主机地址。
// Port：端口号。
// Timeout：请求处理超时时间。
// MaxConnections：最大连接数。
type MCPConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                       // 主机地址
	Port           int           `yaml:"port" mapstructure:"port"`                       // 端口号
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`                 // 请求超时
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"` // 最大连接数
}

// LLMConfig 大语言模型配置结构体，描述外部洞察路径的模型参数。
// APIKey 为空时外部路径整体禁用，系统仅走规则路径，这不是错误。
// Provider：模型服务商（openai 兼容或 mock）。
// Model：模型名称，可覆盖默认值。
// APIKey：API 密钥。
// BaseURL：自定义 API 地址。
// Temperature：采样温度。
// MaxTokens：最大生成 Token 数。
// Timeout：单次外部调用的超时边界。
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"`       // 服务商
	Model       string        `yaml:"model" mapstructure:"model"`             // 模型名称
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`         // API 密钥
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`       // 自定义地址
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"` // 采样温度
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`   // 最大Token数
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`         // 调用超时
}

// AnalyzerConfig 规则引擎配置结构体。
// JoinThreshold：too_many_joins 的检测阈值，JOIN 数量严格大于该值时判定为反模式。
// RewriteLimit：order_by_without_limit 改写时追加的 LIMIT 值。
type AnalyzerConfig struct {
	JoinThreshold int `yaml:"join_threshold" mapstructure:"join_threshold"` // JOIN 阈值
	RewriteLimit  int `yaml:"rewrite_limit" mapstructure:"rewrite_limit"`   // 改写 LIMIT 值
}

// StoreConfig 慢查询仓库配置结构体。
// Type：仓库类型（memory 或 mysql）。
// DSN：MySQL 连接字符串，仅 mysql 类型需要。
// Table：慢查询日志表名。
type StoreConfig struct {
	Type  string `yaml:"type" mapstructure:"type"`   // 仓库类型
	DSN   string `yaml:"dsn" mapstructure:"dsn"`     // 连接字符串
	Table string `yaml:"table" mapstructure:"table"` // 日志表名
}

// CacheConfig 缓存配置结构体，定义分析结果缓存参数。
// Type：缓存类型（memory 或 redis）。
// Host：Redis 主机地址。
// Port：Redis 端口号。
// Password：访问密码。
// Database：Redis 数据库编号。
// ResultTTL：分析结果缓存有效期。
// MaxEntries：内存缓存最大条目数。
type CacheConfig struct {
	Type       string        `yaml:"type" mapstructure:"type"`               // 缓存类型
	Host       string        `yaml:"host" mapstructure:"host"`               // 主机
	Port       int           `yaml:"port" mapstructure:"port"`               // 端口
	Password   string        `yaml:"password" mapstructure:"password"`       // 密码
	Database   int           `yaml:"database" mapstructure:"database"`       // 数据库编号
	ResultTTL  time.Duration `yaml:"result_ttl" mapstructure:"result_ttl"`   // 结果缓存有效期
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"` // 最大条目数
}

// LogConfig 日志配置结构体，定义日志级别、格式及输出方式。
// Level：日志级别。
// Format：日志格式。
// Output：输出方式。
// FilePath：日志文件路径。
// MaxSize：单文件最大大小。
// MaxBackups：最大备份数。
// MaxAge：最大保存天数。
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单文件最大大小
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 最大备份数
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 最大保存天数
}

// SecurityConfig 安全配置结构体，定义会话令牌与查询守卫参数。
// JWTSecret：会话令牌签名密钥。
// TokenExpiry：令牌有效期。
// MaxQueryLength：查询文本最大长度，超过时在入口处拒绝。
type SecurityConfig struct {
	JWTSecret      string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`             // 签名密钥
	TokenExpiry    time.Duration `yaml:"token_expiry" mapstructure:"token_expiry"`         // 令牌有效期
	MaxQueryLength int           `yaml:"max_query_length" mapstructure:"max_query_length"` // 查询最大长度
}
