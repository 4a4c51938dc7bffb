package core

import "time"

// 系统常量定义

// 版本信息
const (
	Version     = "1.0.0"
	Description = "BQLens BigQuery SQL Anti-Pattern Analyzer"
)

// 默认服务配置值
const (
	DefaultServerHost     = "0.0.0.0"
	DefaultServerPort     = 8080
	DefaultMCPPort        = 8081
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultRequestTimeout = 60 * time.Second
)

// 规则引擎相关常量
const (
	// DefaultJoinThreshold too_many_joins 的默认阈值，JOIN 数量严格大于该值时判定为反模式
	DefaultJoinThreshold = 3
	// DefaultRewriteLimit order_by_without_limit 改写时追加的默认 LIMIT 值
	DefaultRewriteLimit = 1000
	// DefaultMaxQueryLength 查询文本默认最大长度
	DefaultMaxQueryLength = 100000
)

// LLM 相关常量
const (
	DefaultLLMProvider    = "openai"
	DefaultLLMModel       = "gpt-4"
	DefaultLLMTemperature = 0.0
	DefaultLLMMaxTokens   = 1024
	DefaultLLMTimeout     = 30 * time.Second
)

// 缓存相关常量
const (
	DefaultResultTTL      = 10 * time.Minute
	DefaultMaxCacheEntry  = 1024
	DefaultCacheKeyPrefix = "bqlens:"
	DefaultSessionTTL     = 24 * time.Hour
)

// MCP 协议常量
const (
	MCPVersion               = "1.0"
	DefaultMaxConnections    = 1000
	DefaultMessageTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// 安全相关常量
const (
	DefaultTokenExpiry = 24 * time.Hour
	// RandomSecretBytes jwt_secret 未配置时随机生成密钥的字节数
	RandomSecretBytes = 32
)

// 慢查询仓库常量
const (
	StoreTypeMemory       = "memory"
	StoreTypeMySQL        = "mysql"
	DefaultSlowQueryTable = "slow_query_log"
)

// 生命周期常量
const (
	DefaultStartupTimeout     = 60 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultHealthCheckTimeout = 5 * time.Second
)
