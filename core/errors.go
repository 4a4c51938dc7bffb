package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType 错误类型枚举
// ErrorType 表示错误类型的字符串枚举，用于区分不同的错误来源和类别
type ErrorType string

// 错误类型枚举常量定义
const (
	ErrorTypeValidation ErrorType = "validation" // 校验错误，如参数不合法、查询过长等
	ErrorTypeContract   ErrorType = "contract"   // 编程契约违规，如传入目录之外的模式标识
	ErrorTypeLLM        ErrorType = "llm"        // 大模型（LLM）相关错误，如请求超时、响应无效等
	ErrorTypeMCP        ErrorType = "mcp"        // MCP（消息控制协议）相关错误
	ErrorTypeTimeout    ErrorType = "timeout"    // 超时错误
	ErrorTypeInternal   ErrorType = "internal"   // 内部服务器错误
	ErrorTypeNotFound   ErrorType = "not_found"  // 资源未找到错误
	ErrorTypeStore      ErrorType = "store"      // 慢查询仓库相关错误
	ErrorTypeCache      ErrorType = "cache"      // 缓存相关错误
	ErrorTypeAuth       ErrorType = "auth"       // 认证相关错误，如令牌无效、过期等
)

// BQError 表示 BQLens 系统中的错误结构体，包含错误的详细信息
type BQError struct {
	Type      ErrorType      `json:"type"`                 // 错误类型，用于区分错误来源
	Code      string         `json:"code"`                 // 错误码，唯一标识具体错误
	Message   string         `json:"message"`              // 错误信息，描述错误内容
	Details   map[string]any `json:"details,omitempty"`    // 错误详情，包含额外的上下文信息（可选）
	Cause     error          `json:"-"`                    // 原始错误对象，用于错误链追踪（不序列化）
	Timestamp time.Time      `json:"timestamp"`            // 错误发生时间
	RequestID string         `json:"request_id,omitempty"` // 请求 ID，便于追踪（可选）
}

// Error 实现 error 接口
func (e *BQError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap 支持错误链
func (e *BQError) Unwrap() error {
	return e.Cause
}

// NewBQError 创建新的 BQLens 错误
func NewBQError(errorType ErrorType, code, message string) *BQError {
	return &BQError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// clone 返回错误的浅拷贝。With* 系列方法在拷贝上修改，
// 预定义错误变量可以被并发请求安全地派生。
func (e *BQError) clone() *BQError {
	copied := *e
	return &copied
}

// WithDetails 返回附加了错误详情的副本
func (e *BQError) WithDetails(details map[string]any) *BQError {
	copied := e.clone()
	copied.Details = details
	return copied
}

// WithCause 返回附加了原因错误的副本
func (e *BQError) WithCause(cause error) *BQError {
	copied := e.clone()
	copied.Cause = cause
	return copied
}

// WithRequestID 返回附加了请求ID的副本
func (e *BQError) WithRequestID(requestID string) *BQError {
	copied := e.clone()
	copied.RequestID = requestID
	return copied
}

// 预定义的错误变量
var (
	// 契约错误：规则核心唯一对外暴露的错误面
	ErrUnknownPattern = NewBQError(ErrorTypeContract, "UNKNOWN_PATTERN", "模式标识不在目录中")

	// 验证错误
	ErrQueryTooLong     = NewBQError(ErrorTypeValidation, "QUERY_TOO_LONG", "查询语句过长")
	ErrMissingParameter = NewBQError(ErrorTypeValidation, "MISSING_PARAMETER", "缺少必需参数")
	ErrInvalidParameter = NewBQError(ErrorTypeValidation, "INVALID_PARAMETER", "参数值无效")

	// LLM 错误（网关内部消化，不会冒泡给调用方）
	ErrLLMNotConfigured   = NewBQError(ErrorTypeLLM, "LLM_NOT_CONFIGURED", "外部模型未配置")
	ErrLLMTimeout         = NewBQError(ErrorTypeLLM, "LLM_TIMEOUT", "LLM 请求超时")
	ErrLLMInvalidResponse = NewBQError(ErrorTypeLLM, "LLM_INVALID_RESPONSE", "LLM 响应无效")

	// MCP 错误
	ErrMCPInvalidMessage   = NewBQError(ErrorTypeMCP, "MCP_INVALID_MESSAGE", "MCP 消息格式无效")
	ErrMCPMethodNotFound   = NewBQError(ErrorTypeMCP, "MCP_METHOD_NOT_FOUND", "MCP 方法不存在")
	ErrMCPConnectionClosed = NewBQError(ErrorTypeMCP, "MCP_CONNECTION_CLOSED", "MCP 连接已关闭")

	// 资源错误
	ErrQueryNotFound   = NewBQError(ErrorTypeNotFound, "QUERY_NOT_FOUND", "慢查询记录不存在")
	ErrSessionNotFound = NewBQError(ErrorTypeNotFound, "SESSION_NOT_FOUND", "会话不存在")

	// 缓存错误
	ErrCacheConnection  = NewBQError(ErrorTypeCache, "CACHE_CONNECTION_FAILED", "缓存连接失败")
	ErrCacheKeyNotFound = NewBQError(ErrorTypeCache, "CACHE_KEY_NOT_FOUND", "缓存键不存在")

	// 认证错误
	ErrInvalidToken = NewBQError(ErrorTypeAuth, "INVALID_TOKEN", "令牌无效")
	ErrTokenExpired = NewBQError(ErrorTypeAuth, "TOKEN_EXPIRED", "令牌已过期")

	// 内部错误
	ErrInternalServer     = NewBQError(ErrorTypeInternal, "INTERNAL_SERVER_ERROR", "内部服务器错误")
	ErrConfigurationError = NewBQError(ErrorTypeInternal, "CONFIGURATION_ERROR", "配置错误")
)

// IsBQError 检查是否为 BQLens 错误
func IsBQError(err error) bool {
	var bqErr *BQError
	return errors.As(err, &bqErr)
}

// GetBQError 获取 BQLens 错误
func GetBQError(err error) *BQError {
	var bqErr *BQError
	if errors.As(err, &bqErr) {
		return bqErr
	}
	return nil
}

// WrapError 包装普通错误为 BQLens 错误
func WrapError(err error, errorType ErrorType, code, message string) *BQError {
	return &BQError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
	}
}

// ErrorHandler 错误处理器结构
type ErrorHandler struct {
	logger  Logger
	metrics MetricsCollector
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger Logger, metrics MetricsCollector) *ErrorHandler {
	return &ErrorHandler{
		logger:  logger,
		metrics: metrics,
	}
}

// HandleError 处理错误，统一转换为 MCP 响应
func (h *ErrorHandler) HandleError(err error, requestID string) *MCPResponse {
	var bqErr *BQError
	if !errors.As(err, &bqErr) {
		bqErr = &BQError{
			Type:      ErrorTypeInternal,
			Code:      "INTERNAL_ERROR",
			Message:   "内部服务器错误",
			Cause:     err,
			Timestamp: time.Now(),
			RequestID: requestID,
		}
	}

	// 记录错误日志
	h.logger.Error("BQLens error occurred",
		"type", bqErr.Type,
		"code", bqErr.Code,
		"message", bqErr.Message,
		"request_id", bqErr.RequestID,
		"details", bqErr.Details,
	)

	// 更新错误指标
	if h.metrics != nil {
		h.metrics.IncrementCounter("bqlens_errors_total", map[string]string{
			"type": string(bqErr.Type),
			"code": bqErr.Code,
		})
	}

	// 返回用户友好的错误响应
	return &MCPResponse{
		ID: requestID,
		Error: &MCPError{
			Code:    h.getHTTPStatusCode(bqErr.Type),
			Message: bqErr.Message,
			Data:    bqErr.Details,
		},
	}
}

// getHTTPStatusCode 根据错误类型获取 HTTP 状态码
func (h *ErrorHandler) getHTTPStatusCode(errorType ErrorType) int {
	switch errorType {
	case ErrorTypeValidation, ErrorTypeContract:
		return 400
	case ErrorTypeAuth:
		return 401
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeTimeout:
		return 408
	default:
		return 500
	}
}
