package core

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigProvider 配置服务提供者
type ConfigProvider struct {
	configPath string
}

// NewConfigProvider 创建配置服务提供者
func NewConfigProvider(configPath string) *ConfigProvider {
	return &ConfigProvider{
		configPath: configPath,
	}
}

// Register 注册配置服务
func (p *ConfigProvider) Register(container *Container) error {
	container.RegisterSingleton(ServiceConfig, func() any {
		// config.Manager 在 main 中构造后覆盖注册，这里仅保留配置路径占位，
		// 避免 core 包反向依赖 config 包造成循环引用
		return map[string]any{
			"config_path": p.configPath,
		}
	})
	return nil
}

// Boot 启动配置服务
func (p *ConfigProvider) Boot(container *Container) error {
	return nil
}

// LoggerProvider 日志服务提供者
type LoggerProvider struct{}

// NewLoggerProvider 创建日志服务提供者
func NewLoggerProvider() *LoggerProvider {
	return &LoggerProvider{}
}

// Register 注册日志服务
func (p *LoggerProvider) Register(container *Container) error {
	container.RegisterSingleton(ServiceLogger, func() any {
		return p.createDefaultLogger()
	})
	return nil
}

// Boot 启动日志服务
func (p *LoggerProvider) Boot(container *Container) error {
	return nil
}

// createDefaultLogger 创建默认日志记录器
func (p *LoggerProvider) createDefaultLogger() Logger {
	// 配置日志输出
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   "logs/bqlens.log",
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	})

	// 配置编码器
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewJSONEncoder(encoderConfig)

	// 创建核心
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, writer, zapcore.InfoLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapcore.InfoLevel),
	)

	// 创建 logger
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &ZapLogger{logger: zapLogger}
}

// ZapLogger Zap 日志记录器实现
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger 基于已有 zap.Logger 创建适配器
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// Debug 记录调试日志
func (l *ZapLogger) Debug(msg string, fields ...any) {
	l.logger.Debug(msg, l.convertFields(fields...)...)
}

// Info 记录信息日志
func (l *ZapLogger) Info(msg string, fields ...any) {
	l.logger.Info(msg, l.convertFields(fields...)...)
}

// Warn 记录警告日志
func (l *ZapLogger) Warn(msg string, fields ...any) {
	l.logger.Warn(msg, l.convertFields(fields...)...)
}

// Error 记录错误日志
func (l *ZapLogger) Error(msg string, fields ...any) {
	l.logger.Error(msg, l.convertFields(fields...)...)
}

// Fatal 记录致命错误日志
func (l *ZapLogger) Fatal(msg string, fields ...any) {
	l.logger.Fatal(msg, l.convertFields(fields...)...)
}

// convertFields 转换字段为 zap.Field
func (l *ZapLogger) convertFields(fields ...any) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)/2)

	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		zapFields = append(zapFields, zap.Any(key, value))
	}

	return zapFields
}

// ErrorHandlerProvider 错误处理器服务提供者
type ErrorHandlerProvider struct{}

// NewErrorHandlerProvider 创建错误处理器服务提供者
func NewErrorHandlerProvider() *ErrorHandlerProvider {
	return &ErrorHandlerProvider{}
}

// Register 注册错误处理器服务
func (p *ErrorHandlerProvider) Register(container *Container) error {
	container.RegisterSingleton(ServiceErrorHandler, func() any {
		logger := container.MustGet(ServiceLogger).(Logger)

		// 指标服务可选
		var metrics MetricsCollector
		if metricsService, err := container.Get(ServiceMetrics); err == nil {
			if m, ok := metricsService.(MetricsCollector); ok {
				metrics = m
			}
		}

		return NewErrorHandler(logger, metrics)
	})
	return nil
}

// Boot 启动错误处理器服务
func (p *ErrorHandlerProvider) Boot(container *Container) error {
	return nil
}

// DefaultServiceProvider 默认服务提供者
type DefaultServiceProvider struct {
	configPath string
}

// NewDefaultServiceProvider 创建默认服务提供者
func NewDefaultServiceProvider(configPath string) *DefaultServiceProvider {
	return &DefaultServiceProvider{
		configPath: configPath,
	}
}

// Register 注册默认服务
func (p *DefaultServiceProvider) Register(container *Container) error {
	providers := []ServiceProvider{
		NewConfigProvider(p.configPath),
		NewLoggerProvider(),
		NewErrorHandlerProvider(),
	}

	for _, provider := range providers {
		if err := provider.Register(container); err != nil {
			return err
		}
	}

	return nil
}

// Boot 启动默认服务
func (p *DefaultServiceProvider) Boot(container *Container) error {
	providers := []ServiceProvider{
		NewConfigProvider(p.configPath),
		NewLoggerProvider(),
		NewErrorHandlerProvider(),
	}

	for _, provider := range providers {
		if err := provider.Boot(container); err != nil {
			return err
		}
	}

	return nil
}
