package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anniext/bqlens/core"
)

func fileLogConfig(t *testing.T, level string) *core.LogConfig {
	t.Helper()
	return &core.LogConfig{
		Level:      level,
		Format:     "json",
		Output:     "file",
		FilePath:   filepath.Join(t.TempDir(), "bqlens.log"),
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	}
}

func readLogFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNewLoggerManager(t *testing.T) {
	t.Run("空配置报错", func(t *testing.T) {
		_, err := NewLoggerManager(nil)
		require.Error(t, err)
	})

	t.Run("非法日志级别报错", func(t *testing.T) {
		config := fileLogConfig(t, "verbose")
		_, err := NewLoggerManager(config)
		require.Error(t, err)
	})

	t.Run("文件输出正常创建", func(t *testing.T) {
		config := fileLogConfig(t, "info")
		manager, err := NewLoggerManager(config)
		require.NoError(t, err)
		defer manager.Close()

		manager.GetLogger().Info("启动完成")
		require.NoError(t, manager.Sync())

		assert.Contains(t, readLogFile(t, config.FilePath), "启动完成")
	})
}

func TestLevelFiltering(t *testing.T) {
	config := fileLogConfig(t, "info")
	manager, err := NewLoggerManager(config)
	require.NoError(t, err)
	defer manager.Close()

	logger := manager.GetLogger()
	logger.Debug("调试消息不应该出现")
	logger.Info("信息消息应该出现")
	require.NoError(t, manager.Sync())

	body := readLogFile(t, config.FilePath)
	assert.NotContains(t, body, "调试消息不应该出现")
	assert.Contains(t, body, "信息消息应该出现")
}

func TestNamedLogger(t *testing.T) {
	config := fileLogConfig(t, "info")
	manager, err := NewLoggerManager(config)
	require.NoError(t, err)
	defer manager.Close()

	manager.GetNamedLogger("web").Info("命名记录器")
	require.NoError(t, manager.Sync())

	body := readLogFile(t, config.FilePath)
	assert.Contains(t, body, `"logger":"web"`)
}

func TestCoreLoggerAdapter(t *testing.T) {
	config := fileLogConfig(t, "debug")
	manager, err := NewLoggerManager(config)
	require.NoError(t, err)
	defer manager.Close()

	logger := manager.GetCoreLogger("bqlens")
	logger.Info("键值对转换", "port", 8080, "host", "127.0.0.1")
	// 奇数个参数和非字符串键只丢弃无法配对的部分，不影响其余字段
	logger.Warn("部分非法字段", 42, "ignored", "valid_key", "valid_value", "dangling")
	require.NoError(t, manager.Sync())

	body := readLogFile(t, config.FilePath)
	assert.Contains(t, body, `"port":8080`)
	assert.Contains(t, body, `"host":"127.0.0.1"`)
	assert.Contains(t, body, `"valid_key":"valid_value"`)
	assert.NotContains(t, body, "dangling")
}

func TestUpdateConfig(t *testing.T) {
	config := fileLogConfig(t, "info")
	manager, err := NewLoggerManager(config)
	require.NoError(t, err)
	defer manager.Close()

	manager.GetLogger().Debug("更新前的调试消息")
	require.NoError(t, manager.Sync())
	assert.NotContains(t, readLogFile(t, config.FilePath), "更新前的调试消息")

	t.Run("热更新提升日志级别", func(t *testing.T) {
		updated := fileLogConfig(t, "debug")
		require.NoError(t, manager.UpdateConfig(updated))

		manager.GetLogger().Debug("更新后的调试消息")
		require.NoError(t, manager.Sync())
		assert.Contains(t, readLogFile(t, updated.FilePath), "更新后的调试消息")
	})

	t.Run("非法配置保持旧配置生效", func(t *testing.T) {
		require.Error(t, manager.UpdateConfig(fileLogConfig(t, "verbose")))
		require.Error(t, manager.UpdateConfig(nil))

		manager.GetLogger().Info("旧配置仍然可用")
		require.NoError(t, manager.Sync())
	})
}

func TestLoggerManagerClose(t *testing.T) {
	config := fileLogConfig(t, "info")
	manager, err := NewLoggerManager(config)
	require.NoError(t, err)

	require.NoError(t, manager.Close())
	// 重复关闭是幂等的
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Sync())

	// 关闭后取到的记录器是空操作实现，调用不崩溃
	manager.GetLogger().Info("关闭后的消息")
	manager.GetCoreLogger("bqlens").Info("关闭后的消息")

	require.Error(t, manager.UpdateConfig(fileLogConfig(t, "debug")))
}
