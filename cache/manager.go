// 本文件实现分析结果缓存管理器。缓存键基于查询文本指纹（空白归一化后的
// SHA-256），同一查询的重复分析直接命中缓存，避免重复跑规则或外部调用。
// 支持内存和 Redis 两种后端，由配置选择。

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Anniext/bqlens/core"
)

// Backend 缓存后端接口，值以序列化字节存取
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Manager 缓存管理器结构体。
// backend：缓存后端（内存或 Redis）。
// ttl：分析结果缓存有效期。
// prefix：键前缀。
// logger：日志记录器。
// metrics：指标收集器，可为空。
type Manager struct {
	backend Backend               // 缓存后端
	ttl     time.Duration         // 结果有效期
	prefix  string                // 键前缀
	logger  core.Logger           // 日志记录器
	metrics core.MetricsCollector // 指标收集器
}

// NewManager 根据配置创建缓存管理器
func NewManager(config *core.CacheConfig, logger core.Logger, metrics core.MetricsCollector) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("缓存配置不能为空")
	}

	var backend Backend
	switch config.Type {
	case "redis":
		redisBackend, err := NewRedisCache(config, logger)
		if err != nil {
			return nil, err
		}
		backend = redisBackend
	case "memory", "":
		backend = NewMemoryCache(config.MaxEntries, logger)
	default:
		return nil, fmt.Errorf("不支持的缓存类型: %s", config.Type)
	}

	ttl := config.ResultTTL
	if ttl <= 0 {
		ttl = core.DefaultResultTTL
	}

	return &Manager{
		backend: backend,
		ttl:     ttl,
		prefix:  core.DefaultCacheKeyPrefix,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// NewManagerWithBackend 使用指定后端创建管理器，供测试注入
func NewManagerWithBackend(backend Backend, ttl time.Duration, logger core.Logger, metrics core.MetricsCollector) *Manager {
	if ttl <= 0 {
		ttl = core.DefaultResultTTL
	}
	return &Manager{
		backend: backend,
		ttl:     ttl,
		prefix:  core.DefaultCacheKeyPrefix,
		logger:  logger,
		metrics: metrics,
	}
}

// analysisKey 分析结果缓存键
func (m *Manager) analysisKey(queryText string) string {
	return m.prefix + "analysis:" + core.QueryFingerprint(queryText)
}

// optimizationKey 优化结果缓存键
func (m *Manager) optimizationKey(queryText string) string {
	return m.prefix + "optimization:" + core.QueryFingerprint(queryText)
}

// GetAnalysis 获取缓存的分析结果，未命中返回 false
func (m *Manager) GetAnalysis(ctx context.Context, queryText string) (*core.AnalysisResult, bool) {
	data, err := m.backend.Get(ctx, m.analysisKey(queryText))
	if err != nil {
		m.recordMetric("cache_miss")
		return nil, false
	}

	var result core.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		if m.logger != nil {
			m.logger.Warn("缓存分析结果反序列化失败", "error", err)
		}
		m.backend.Delete(ctx, m.analysisKey(queryText))
		return nil, false
	}

	m.recordMetric("cache_hit")
	// 命中结果归调用方所有，检测映射以副本交付
	result.Analysis = result.Analysis.Clone()
	return &result, true
}

// SetAnalysis 缓存分析结果
func (m *Manager) SetAnalysis(ctx context.Context, queryText string, result *core.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化分析结果失败: %w", err)
	}
	return m.backend.Set(ctx, m.analysisKey(queryText), data, m.ttl)
}

// GetOptimization 获取缓存的优化结果，未命中返回 false
func (m *Manager) GetOptimization(ctx context.Context, queryText string) (*core.OptimizationResult, bool) {
	data, err := m.backend.Get(ctx, m.optimizationKey(queryText))
	if err != nil {
		m.recordMetric("cache_miss")
		return nil, false
	}

	var result core.OptimizationResult
	if err := json.Unmarshal(data, &result); err != nil {
		if m.logger != nil {
			m.logger.Warn("缓存优化结果反序列化失败", "error", err)
		}
		m.backend.Delete(ctx, m.optimizationKey(queryText))
		return nil, false
	}

	m.recordMetric("cache_hit")
	result.Analysis = result.Analysis.Clone()
	return &result, true
}

// SetOptimization 缓存优化结果
func (m *Manager) SetOptimization(ctx context.Context, queryText string, result *core.OptimizationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化优化结果失败: %w", err)
	}
	return m.backend.Set(ctx, m.optimizationKey(queryText), data, m.ttl)
}

// Get 实现 core.CacheManager，返回原始字节
func (m *Manager) Get(ctx context.Context, key string) (any, error) {
	return m.backend.Get(ctx, m.prefix+key)
}

// Set 实现 core.CacheManager
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("序列化缓存值失败: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	return m.backend.Set(ctx, m.prefix+key, data, ttl)
}

// Delete 实现 core.CacheManager
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.backend.Delete(ctx, m.prefix+key)
}

// Clear 实现 core.CacheManager
func (m *Manager) Clear(ctx context.Context) error {
	return m.backend.Clear(ctx)
}

// Close 关闭缓存后端
func (m *Manager) Close() error {
	return m.backend.Close()
}

// recordMetric 记录缓存操作指标
func (m *Manager) recordMetric(operation string) {
	if m.metrics != nil {
		m.metrics.IncrementCounter("cache_operations_total",
			map[string]string{"operation": operation})
	}
}
