// Package mcp 通过 WebSocket 暴露 MCP 协议的分析工具集。
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Anniext/bqlens/core"
)

// MCP 错误码，对齐 JSON-RPC 的保留区间。
const (
	ErrCodeParse          = -32700 // 消息解析失败
	ErrCodeInvalidRequest = -32600 // 请求格式无效
	ErrCodeMethodNotFound = -32601 // 方法不存在
	ErrCodeInvalidParams  = -32602 // 参数无效
	ErrCodeInternal       = -32603 // 内部错误
)

// HandlerFunc 函数式处理器适配器。
type HandlerFunc func(ctx context.Context, request *core.MCPRequest) (*core.MCPResponse, error)

// Handle 实现 core.MCPHandler 接口
func (f HandlerFunc) Handle(ctx context.Context, request *core.MCPRequest) (*core.MCPResponse, error) {
	return f(ctx, request)
}

// HandlerRegistry 处理器注册表
type HandlerRegistry struct {
	handlers map[string]core.MCPHandler
	mu       sync.RWMutex
	logger   core.Logger
}

// NewHandlerRegistry 创建处理器注册表
func NewHandlerRegistry(logger core.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]core.MCPHandler),
		logger:   logger,
	}
}

// Register 注册处理器，方法名重复时返回错误。
func (r *HandlerRegistry) Register(method string, handler core.MCPHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[method]; exists {
		return fmt.Errorf("方法 %s 的处理器已注册", method)
	}

	r.handlers[method] = handler
	if r.logger != nil {
		r.logger.Info("处理器已注册", "method", method)
	}
	return nil
}

// Get 获取处理器
func (r *HandlerRegistry) Get(method string) (core.MCPHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[method]
	return handler, exists
}

// Methods 返回所有已注册的方法名
func (r *HandlerRegistry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for method := range r.handlers {
		methods = append(methods, method)
	}
	return methods
}

// validateRequest 校验请求的基本形状。
func validateRequest(request *core.MCPRequest) error {
	if request == nil {
		return fmt.Errorf("请求不能为空")
	}
	if request.ID == "" {
		return fmt.Errorf("请求ID不能为空")
	}
	if request.Method == "" {
		return fmt.Errorf("请求方法不能为空")
	}
	if len(request.Method) > 100 {
		return fmt.Errorf("方法名过长: %d 字符", len(request.Method))
	}
	return nil
}

// decodeParams 将请求参数解码到目标结构体。
func decodeParams(params any, target any) error {
	if params == nil {
		return nil
	}

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("参数序列化失败: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("参数解析失败: %w", err)
	}
	return nil
}

// errorResponse 构造错误响应。
func errorResponse(id string, code int, message string, data any) *core.MCPResponse {
	return &core.MCPResponse{
		ID: id,
		Error: &core.MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// bqErrorResponse 将 BQError 映射为 MCP 错误响应。
func bqErrorResponse(id string, err error) *core.MCPResponse {
	if bqErr := core.GetBQError(err); bqErr != nil {
		code := ErrCodeInternal
		switch bqErr.Type {
		case core.ErrorTypeValidation, core.ErrorTypeContract:
			code = ErrCodeInvalidParams
		case core.ErrorTypeNotFound:
			code = ErrCodeInvalidParams
		}
		return errorResponse(id, code, bqErr.Message, map[string]any{
			"code":    bqErr.Code,
			"details": bqErr.Details,
		})
	}
	return errorResponse(id, ErrCodeInternal, err.Error(), nil)
}
