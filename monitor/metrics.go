// 本文件实现了性能监控指标收集系统，用于统计查询分析次数、各反模式命中率、
// 结果来源分布（规则路径与外部洞察路径）、缓存命中率和 LLM 调用情况。
// 主要功能：
// 1. 分析与优化操作的计数和耗时统计
// 2. 按反模式维度的命中计数
// 3. LLM 调用、超时与回退统计
// 4. 缓存命中率统计
// 5. 通用计数器/直方图/仪表接口，实现 core.MetricsCollector

package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/Anniext/bqlens/core"
)

// AnalysisMetrics 分析操作统计快照。
// TotalAnalyses：分析总次数。
// TotalOptimizations：优化总次数。
// QueriesWithIssues：至少命中一个反模式的查询数。
// PatternHits：各反模式命中计数。
// SourceCounts：结果来源计数（rule_based / llm）。
type AnalysisMetrics struct {
	TotalAnalyses      int64                       `json:"total_analyses"`      // 分析总次数
	TotalOptimizations int64                       `json:"total_optimizations"` // 优化总次数
	QueriesWithIssues  int64                       `json:"queries_with_issues"` // 有问题的查询数
	PatternHits        map[core.PatternID]int64    `json:"pattern_hits"`        // 各模式命中数
	SourceCounts       map[core.ResultSource]int64 `json:"source_counts"`       // 来源分布
}

// LLMMetrics 外部洞察路径统计快照。
// Calls：外部调用总次数。
// Failures：失败次数（含超时、格式无效）。
// Timeouts：超时次数。
// Fallbacks：回退到规则路径的次数。
// TotalLatency：累计调用耗时。
type LLMMetrics struct {
	Calls        int64         `json:"calls"`         // 调用总次数
	Failures     int64         `json:"failures"`      // 失败次数
	Timeouts     int64         `json:"timeouts"`      // 超时次数
	Fallbacks    int64         `json:"fallbacks"`     // 回退次数
	TotalLatency time.Duration `json:"total_latency"` // 累计耗时
}

// CacheMetrics 缓存统计快照
type CacheMetrics struct {
	Hits   int64 `json:"hits"`   // 命中次数
	Misses int64 `json:"misses"` // 未命中次数
}

// HitRate 计算缓存命中率
func (m *CacheMetrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// MetricsManager 指标管理器，聚合所有统计并实现 core.MetricsCollector
type MetricsManager struct {
	mu sync.RWMutex

	analysis AnalysisMetrics // 分析统计
	llm      LLMMetrics      // LLM 统计
	cache    CacheMetrics    // 缓存统计

	counters   map[string]int64     // 通用计数器
	gauges     map[string]float64   // 通用仪表
	histograms map[string][]float64 // 通用直方图样本

	startTime time.Time // 启动时间
}

// NewMetricsManager 创建指标管理器
func NewMetricsManager() *MetricsManager {
	return &MetricsManager{
		analysis: AnalysisMetrics{
			PatternHits:  make(map[core.PatternID]int64),
			SourceCounts: make(map[core.ResultSource]int64),
		},
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		startTime:  time.Now(),
	}
}

// RecordAnalysis 记录一次分析操作及其检测结果
func (m *MetricsManager) RecordAnalysis(findings core.Findings, source core.ResultSource, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.analysis.TotalAnalyses++
	m.analysis.SourceCounts[source]++
	if findings.HasIssues() {
		m.analysis.QueriesWithIssues++
	}
	for id, hit := range findings {
		if hit {
			m.analysis.PatternHits[id]++
		}
	}
	m.histograms["analysis_duration_ms"] = append(
		m.histograms["analysis_duration_ms"], float64(duration.Milliseconds()))
}

// RecordOptimization 记录一次优化操作
func (m *MetricsManager) RecordOptimization(source core.ResultSource, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.analysis.TotalOptimizations++
	m.analysis.SourceCounts[source]++
	m.histograms["optimization_duration_ms"] = append(
		m.histograms["optimization_duration_ms"], float64(duration.Milliseconds()))
}

// RecordLLMCall 记录一次外部洞察调用
func (m *MetricsManager) RecordLLMCall(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.llm.Calls++
	m.llm.TotalLatency += duration
	if err != nil {
		m.llm.Failures++
		if bqErr := core.GetBQError(err); bqErr != nil && (bqErr.Type == core.ErrorTypeTimeout || bqErr.Code == "LLM_TIMEOUT") {
			m.llm.Timeouts++
		}
	}
}

// RecordFallback 记录一次整体回退到规则路径
func (m *MetricsManager) RecordFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llm.Fallbacks++
}

// RecordCacheHit 记录缓存命中
func (m *MetricsManager) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Hits++
}

// RecordCacheMiss 记录缓存未命中
func (m *MetricsManager) RecordCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Misses++
}

// IncrementCounter 实现 core.MetricsCollector
func (m *MetricsManager) IncrementCounter(name string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, tags)]++
}

// RecordHistogram 实现 core.MetricsCollector
func (m *MetricsManager) RecordHistogram(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, tags)
	m.histograms[key] = append(m.histograms[key], value)
}

// SetGauge 实现 core.MetricsCollector
func (m *MetricsManager) SetGauge(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, tags)] = value
}

// metricKey 将指标名与标签拼接为稳定键
func metricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += "," + k + "=" + tags[k]
	}
	return key
}

// GetAnalysisMetrics 获取分析统计快照
func (m *MetricsManager) GetAnalysisMetrics() AnalysisMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := AnalysisMetrics{
		TotalAnalyses:      m.analysis.TotalAnalyses,
		TotalOptimizations: m.analysis.TotalOptimizations,
		QueriesWithIssues:  m.analysis.QueriesWithIssues,
		PatternHits:        make(map[core.PatternID]int64, len(m.analysis.PatternHits)),
		SourceCounts:       make(map[core.ResultSource]int64, len(m.analysis.SourceCounts)),
	}
	for id, n := range m.analysis.PatternHits {
		snapshot.PatternHits[id] = n
	}
	for src, n := range m.analysis.SourceCounts {
		snapshot.SourceCounts[src] = n
	}
	return snapshot
}

// GetLLMMetrics 获取 LLM 统计快照
func (m *MetricsManager) GetLLMMetrics() LLMMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.llm
}

// GetCacheMetrics 获取缓存统计快照
func (m *MetricsManager) GetCacheMetrics() CacheMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache
}

// GetCounter 获取通用计数器值
func (m *MetricsManager) GetCounter(name string, tags map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, tags)]
}

// GetGauge 获取通用仪表值
func (m *MetricsManager) GetGauge(name string, tags map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[metricKey(name, tags)]
}

// Uptime 返回运行时长
func (m *MetricsManager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Reset 重置全部指标
func (m *MetricsManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.analysis = AnalysisMetrics{
		PatternHits:  make(map[core.PatternID]int64),
		SourceCounts: make(map[core.ResultSource]int64),
	}
	m.llm = LLMMetrics{}
	m.cache = CacheMetrics{}
	m.counters = make(map[string]int64)
	m.gauges = make(map[string]float64)
	m.histograms = make(map[string][]float64)
	m.startTime = time.Now()
}
