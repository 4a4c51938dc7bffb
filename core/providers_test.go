package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerProvider(t *testing.T) {
	container := NewContainer()
	require.NoError(t, NewLoggerProvider().Register(container))

	service := container.MustGet(ServiceLogger)
	logger, ok := service.(Logger)
	require.True(t, ok)

	// 基本调用不崩溃
	logger.Info("provider 测试", "key", "value")
	logger.Debug("调试", "n", 1)
}

func TestZapLoggerFieldConversion(t *testing.T) {
	logger := newProviderTestLogger(t)

	// 奇数个字段和非字符串键被跳过，不应该崩溃
	logger.Info("字段转换", "key", "value", "dangling")
	logger.Warn("非字符串键", 42, "value")
}

func newProviderTestLogger(t *testing.T) Logger {
	t.Helper()
	container := NewContainer()
	require.NoError(t, NewLoggerProvider().Register(container))
	return container.MustGet(ServiceLogger).(Logger)
}

func TestErrorHandlerProvider(t *testing.T) {
	container := NewContainer()
	require.NoError(t, NewLoggerProvider().Register(container))
	require.NoError(t, NewErrorHandlerProvider().Register(container))

	service := container.MustGet(ServiceErrorHandler)
	handler, ok := service.(*ErrorHandler)
	require.True(t, ok)

	response := handler.HandleError(ErrQueryTooLong, "req-1")
	assert.NotNil(t, response.Error)
}

func TestConfigProvider(t *testing.T) {
	container := NewContainer()
	require.NoError(t, NewConfigProvider("config/bqlens.yaml").Register(container))

	service := container.MustGet(ServiceConfig)
	placeholder, ok := service.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "config/bqlens.yaml", placeholder["config_path"])
}
