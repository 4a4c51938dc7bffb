package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBQError(t *testing.T) {
	err := NewBQError(ErrorTypeValidation, "TEST_CODE", "测试错误")

	assert.Equal(t, ErrorTypeValidation, err.Type)
	assert.Equal(t, "TEST_CODE", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.False(t, err.Timestamp.IsZero())
	assert.Equal(t, "[validation:TEST_CODE] 测试错误", err.Error())
}

func TestErrorChaining(t *testing.T) {
	cause := errors.New("底层错误")
	err := NewBQError(ErrorTypeStore, "STORE_QUERY_FAILED", "查询失败").WithCause(cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestWithDetails(t *testing.T) {
	err := NewBQError(ErrorTypeContract, "UNKNOWN_PATTERN", "模式标识不在目录中").WithDetails(map[string]any{
		"pattern_id": "made_up",
	})

	assert.Equal(t, "made_up", err.Details["pattern_id"])
}

func TestWithMethodsDoNotMutateReceiver(t *testing.T) {
	derived := ErrQueryNotFound.WithDetails(map[string]any{"query_id": "q-123"})

	assert.NotSame(t, ErrQueryNotFound, derived)
	assert.Nil(t, ErrQueryNotFound.Details, "预定义错误变量不应该被派生修改")
	assert.Equal(t, "q-123", derived.Details["query_id"])
	assert.Equal(t, ErrQueryNotFound.Code, derived.Code)

	cause := errors.New("底层错误")
	chained := ErrLLMTimeout.WithCause(cause).WithRequestID("req-9")
	assert.Nil(t, ErrLLMTimeout.Cause)
	assert.Empty(t, ErrLLMTimeout.RequestID)
	assert.Equal(t, cause, chained.Cause)
	assert.Equal(t, "req-9", chained.RequestID)
}

func TestConcurrentDerivedErrors(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				err := ErrQueryNotFound.WithDetails(map[string]any{"goroutine": n})
				assert.Equal(t, n, err.Details["goroutine"])
			}
		}(i)
	}
	wg.Wait()

	assert.Nil(t, ErrQueryNotFound.Details)
}

func TestWithRequestID(t *testing.T) {
	err := NewBQError(ErrorTypeInternal, "X", "y").WithRequestID("req-123")
	assert.Equal(t, "req-123", err.RequestID)
}

func TestIsBQError(t *testing.T) {
	t.Run("BQError 被识别", func(t *testing.T) {
		assert.True(t, IsBQError(NewBQError(ErrorTypeCache, "C", "m")))
	})

	t.Run("包装后的 BQError 被识别", func(t *testing.T) {
		wrapped := fmt.Errorf("外层: %w", NewBQError(ErrorTypeCache, "C", "m"))
		assert.True(t, IsBQError(wrapped))
	})

	t.Run("普通错误不被识别", func(t *testing.T) {
		assert.False(t, IsBQError(errors.New("普通错误")))
	})
}

func TestGetBQError(t *testing.T) {
	inner := NewBQError(ErrorTypeAuth, "INVALID_TOKEN", "令牌无效")
	wrapped := fmt.Errorf("外层: %w", inner)

	assert.Equal(t, inner, GetBQError(wrapped))
	assert.Nil(t, GetBQError(errors.New("普通错误")))
}

func TestWrapError(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(cause, ErrorTypeCache, "CACHE_CONNECTION_FAILED", "缓存连接失败")

	assert.Equal(t, ErrorTypeCache, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.True(t, errors.Is(err, cause))
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err      *BQError
		wantType ErrorType
		wantCode string
	}{
		{ErrUnknownPattern, ErrorTypeContract, "UNKNOWN_PATTERN"},
		{ErrQueryTooLong, ErrorTypeValidation, "QUERY_TOO_LONG"},
		{ErrLLMTimeout, ErrorTypeLLM, "LLM_TIMEOUT"},
		{ErrLLMInvalidResponse, ErrorTypeLLM, "LLM_INVALID_RESPONSE"},
		{ErrQueryNotFound, ErrorTypeNotFound, "QUERY_NOT_FOUND"},
		{ErrSessionNotFound, ErrorTypeNotFound, "SESSION_NOT_FOUND"},
		{ErrCacheKeyNotFound, ErrorTypeCache, "CACHE_KEY_NOT_FOUND"},
		{ErrInvalidToken, ErrorTypeAuth, "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

type recordingLogger struct {
	messages []string
}

func (l *recordingLogger) Debug(msg string, fields ...any) { l.messages = append(l.messages, msg) }
func (l *recordingLogger) Info(msg string, fields ...any)  { l.messages = append(l.messages, msg) }
func (l *recordingLogger) Warn(msg string, fields ...any)  { l.messages = append(l.messages, msg) }
func (l *recordingLogger) Error(msg string, fields ...any) { l.messages = append(l.messages, msg) }
func (l *recordingLogger) Fatal(msg string, fields ...any) { l.messages = append(l.messages, msg) }

func TestErrorHandler(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger, nil)

	t.Run("BQError 转换为 MCP 响应", func(t *testing.T) {
		response := handler.HandleError(ErrQueryNotFound, "req-1")
		require.NotNil(t, response.Error)
		assert.Equal(t, 404, response.Error.Code)
		assert.Equal(t, "req-1", response.ID)
		assert.NotEmpty(t, logger.messages)
	})

	t.Run("普通错误转换为内部错误", func(t *testing.T) {
		response := handler.HandleError(errors.New("boom"), "req-2")
		require.NotNil(t, response.Error)
		assert.Equal(t, 500, response.Error.Code)
	})

	t.Run("校验错误映射为400", func(t *testing.T) {
		response := handler.HandleError(ErrQueryTooLong, "req-3")
		assert.Equal(t, 400, response.Error.Code)
	})
}
