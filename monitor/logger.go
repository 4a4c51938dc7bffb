// 本文件实现了结构化日志记录系统，基于 zap 提供统一的日志管理。
// 主要功能：
// 1. 基于 zap 的高性能结构化日志记录
// 2. 支持控制台和文件输出，文件输出带 lumberjack 轮转归档
// 3. 不同级别的日志过滤与配置热更新
// 4. 与 core.Logger 接口的桥接，供业务组件注入

package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Anniext/bqlens/core"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志记录器接口，定义统一的日志记录方法
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)
	Sync() error
}

// LoggerManager 日志管理器，负责创建和管理日志记录器
type LoggerManager struct {
	config    *core.LogConfig
	zapLogger *zap.Logger
	mutex     sync.RWMutex
	writers   []zapcore.WriteSyncer
	closed    bool
}

// NewLoggerManager 创建日志管理器实例
func NewLoggerManager(config *core.LogConfig) (*LoggerManager, error) {
	if config == nil {
		return nil, fmt.Errorf("日志配置不能为空")
	}

	manager := &LoggerManager{
		config:  config,
		writers: make([]zapcore.WriteSyncer, 0),
	}

	if err := manager.initialize(); err != nil {
		return nil, fmt.Errorf("初始化日志管理器失败: %w", err)
	}

	return manager, nil
}

// initialize 初始化日志系统
func (lm *LoggerManager) initialize() error {
	encoderConfig := lm.createEncoderConfig()

	var encoder zapcore.Encoder
	switch lm.config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "text":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	writeSyncers, err := lm.createWriteSyncers()
	if err != nil {
		return fmt.Errorf("创建写入器失败: %w", err)
	}
	lm.writers = writeSyncers

	level, err := lm.parseLogLevel(lm.config.Level)
	if err != nil {
		return fmt.Errorf("解析日志级别失败: %w", err)
	}

	zapCore := zapcore.NewTee(
		lm.createCores(encoder, writeSyncers, level)...,
	)

	lm.zapLogger = zap.New(zapCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return nil
}

// createEncoderConfig 创建编码器配置
func (lm *LoggerManager) createEncoderConfig() zapcore.EncoderConfig {
	config := zap.NewProductionEncoderConfig()

	config.TimeKey = "timestamp"
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.LevelKey = "level"
	config.EncodeLevel = zapcore.LowercaseLevelEncoder
	config.CallerKey = "caller"
	config.EncodeCaller = zapcore.ShortCallerEncoder
	config.MessageKey = "message"
	config.StacktraceKey = "stacktrace"

	return config
}

// createWriteSyncers 创建写入器
func (lm *LoggerManager) createWriteSyncers() ([]zapcore.WriteSyncer, error) {
	var syncers []zapcore.WriteSyncer

	switch lm.config.Output {
	case "stdout":
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	case "stderr":
		syncers = append(syncers, zapcore.AddSync(os.Stderr))
	case "file":
		fileSyncer, err := lm.createFileSyncer()
		if err != nil {
			return nil, err
		}
		syncers = append(syncers, fileSyncer)
	case "both":
		// 同时输出到控制台和文件
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
		fileSyncer, err := lm.createFileSyncer()
		if err != nil {
			return nil, err
		}
		syncers = append(syncers, fileSyncer)
	default:
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	}

	return syncers, nil
}

// createFileSyncer 创建文件写入器，支持日志轮转
func (lm *LoggerManager) createFileSyncer() (zapcore.WriteSyncer, error) {
	logDir := filepath.Dir(lm.config.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	lumberjackLogger := &lumberjack.Logger{
		Filename:   lm.config.FilePath,
		MaxSize:    lm.config.MaxSize,    // MB
		MaxBackups: lm.config.MaxBackups, // 保留的旧文件数量
		MaxAge:     lm.config.MaxAge,     // 天数
		Compress:   true,                 // 压缩旧文件
		LocalTime:  true,                 // 使用本地时间
	}

	return zapcore.AddSync(lumberjackLogger), nil
}

// createCores 创建日志核心
func (lm *LoggerManager) createCores(encoder zapcore.Encoder, syncers []zapcore.WriteSyncer, level zapcore.Level) []zapcore.Core {
	cores := make([]zapcore.Core, 0, len(syncers))

	for _, syncer := range syncers {
		cores = append(cores, zapcore.NewCore(encoder, syncer, level))
	}

	return cores
}

// parseLogLevel 解析日志级别
func (lm *LoggerManager) parseLogLevel(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("不支持的日志级别: %s", levelStr)
	}
}

// GetLogger 获取日志记录器
func (lm *LoggerManager) GetLogger() Logger {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	if lm.closed {
		// 关闭后返回空操作记录器
		return &noopLogger{}
	}

	return &zapLoggerWrapper{
		logger: lm.zapLogger,
	}
}

// GetNamedLogger 获取命名的日志记录器
func (lm *LoggerManager) GetNamedLogger(name string) Logger {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	if lm.closed {
		return &noopLogger{}
	}

	return &zapLoggerWrapper{
		logger: lm.zapLogger.Named(name),
	}
}

// GetCoreLogger 获取实现 core.Logger 接口的日志记录器，供业务组件注入
func (lm *LoggerManager) GetCoreLogger(name string) core.Logger {
	return &coreLoggerAdapter{inner: lm.GetNamedLogger(name)}
}

// Sync 同步所有日志输出
func (lm *LoggerManager) Sync() error {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	if lm.closed {
		return nil
	}

	return lm.zapLogger.Sync()
}

// Close 关闭日志管理器
func (lm *LoggerManager) Close() error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.closed {
		return nil
	}

	lm.closed = true

	if err := lm.zapLogger.Sync(); err != nil {
		return fmt.Errorf("同步日志失败: %w", err)
	}

	for _, writer := range lm.writers {
		if closer, ok := writer.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				return fmt.Errorf("关闭写入器失败: %w", err)
			}
		}
	}

	return nil
}

// UpdateConfig 更新日志配置（热更新），失败时保持旧配置继续生效
func (lm *LoggerManager) UpdateConfig(config *core.LogConfig) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.closed {
		return fmt.Errorf("日志管理器已关闭")
	}
	if config == nil {
		return fmt.Errorf("日志配置不能为空")
	}

	oldConfig := lm.config
	oldLogger := lm.zapLogger
	oldWriters := lm.writers

	lm.config = config

	if err := lm.initialize(); err != nil {
		// 恢复旧配置
		lm.config = oldConfig
		lm.zapLogger = oldLogger
		lm.writers = oldWriters
		return fmt.Errorf("更新日志配置失败: %w", err)
	}

	if oldLogger != nil {
		oldLogger.Sync()
	}

	for _, writer := range oldWriters {
		if closer, ok := writer.(interface{ Close() error }); ok {
			closer.Close()
		}
	}

	return nil
}

// zapLoggerWrapper zap日志记录器包装器
type zapLoggerWrapper struct {
	logger *zap.Logger
}

func (w *zapLoggerWrapper) Debug(msg string, fields ...zap.Field) {
	w.logger.Debug(msg, fields...)
}

func (w *zapLoggerWrapper) Info(msg string, fields ...zap.Field) {
	w.logger.Info(msg, fields...)
}

func (w *zapLoggerWrapper) Warn(msg string, fields ...zap.Field) {
	w.logger.Warn(msg, fields...)
}

func (w *zapLoggerWrapper) Error(msg string, fields ...zap.Field) {
	w.logger.Error(msg, fields...)
}

func (w *zapLoggerWrapper) Fatal(msg string, fields ...zap.Field) {
	w.logger.Fatal(msg, fields...)
}

func (w *zapLoggerWrapper) Sync() error {
	return w.logger.Sync()
}

// noopLogger 空操作日志记录器，用于关闭状态
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, fields ...zap.Field) {}
func (n *noopLogger) Info(msg string, fields ...zap.Field)  {}
func (n *noopLogger) Warn(msg string, fields ...zap.Field)  {}
func (n *noopLogger) Error(msg string, fields ...zap.Field) {}
func (n *noopLogger) Fatal(msg string, fields ...zap.Field) {}
func (n *noopLogger) Sync() error                           { return nil }

// coreLoggerAdapter 将 monitor.Logger 适配为 core.Logger，
// 把松散的键值对参数转换为 zap 字段
type coreLoggerAdapter struct {
	inner Logger
}

func (a *coreLoggerAdapter) Debug(msg string, fields ...any) {
	a.inner.Debug(msg, toZapFields(fields)...)
}

func (a *coreLoggerAdapter) Info(msg string, fields ...any) {
	a.inner.Info(msg, toZapFields(fields)...)
}

func (a *coreLoggerAdapter) Warn(msg string, fields ...any) {
	a.inner.Warn(msg, toZapFields(fields)...)
}

func (a *coreLoggerAdapter) Error(msg string, fields ...any) {
	a.inner.Error(msg, toZapFields(fields)...)
}

func (a *coreLoggerAdapter) Fatal(msg string, fields ...any) {
	a.inner.Fatal(msg, toZapFields(fields)...)
}

// toZapFields 把 key, value 交替出现的参数列表转换为 zap 字段
func toZapFields(kvs []any) []zap.Field {
	fields := make([]zap.Field, 0, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kvs[i+1]))
	}
	return fields
}
