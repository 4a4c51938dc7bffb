// 本文件实现了健康检查系统，聚合各组件的可用性检查结果，
// 供 /health 端点输出整体健康报告。

package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Anniext/bqlens/core"
)

// HealthStatus 健康状态枚举
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc 单个组件的健康检查函数，返回 nil 表示组件健康
type CheckFunc func(ctx context.Context) error

// HealthCheckResult 单个组件的健康检查结果
type HealthCheckResult struct {
	ComponentName string        `json:"component_name"`  // 组件名称
	Status        HealthStatus  `json:"status"`          // 组件状态
	Duration      time.Duration `json:"duration"`        // 检查耗时
	CheckTime     time.Time     `json:"check_time"`      // 检查时间
	Error         string        `json:"error,omitempty"` // 失败原因
}

// HealthReport 整体健康报告
type HealthReport struct {
	OverallStatus HealthStatus                  `json:"overall_status"` // 整体状态
	Components    map[string]*HealthCheckResult `json:"components"`     // 各组件结果
	Version       string                        `json:"version"`        // 服务版本
	Uptime        string                        `json:"uptime"`         // 运行时长
	Timestamp     time.Time                     `json:"timestamp"`      // 报告时间
}

// HealthManager 健康管理器，按注册顺序执行各组件检查并汇总状态。
// 全部通过为 healthy，部分失败为 degraded，全部失败为 unhealthy。
type HealthManager struct {
	checks       map[string]CheckFunc
	names        []string
	uptimeSource func() time.Duration
	checkTimeout time.Duration
	logger       core.Logger
	mutex        sync.RWMutex
}

// NewHealthManager 创建健康管理器
func NewHealthManager(logger core.Logger) *HealthManager {
	return &HealthManager{
		checks:       make(map[string]CheckFunc),
		checkTimeout: core.DefaultHealthCheckTimeout,
		logger:       logger,
	}
}

// RegisterCheck 注册组件检查，名称必须唯一
func (hm *HealthManager) RegisterCheck(name string, check CheckFunc) error {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	if _, exists := hm.checks[name]; exists {
		return fmt.Errorf("健康检查 %s 已注册", name)
	}
	if check == nil {
		return fmt.Errorf("健康检查 %s 的检查函数不能为空", name)
	}

	hm.checks[name] = check
	hm.names = append(hm.names, name)
	sort.Strings(hm.names)
	return nil
}

// SetUptimeSource 设置运行时长来源，通常接生命周期管理器
func (hm *HealthManager) SetUptimeSource(source func() time.Duration) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	hm.uptimeSource = source
}

// CheckHealth 执行全部组件检查并生成健康报告
func (hm *HealthManager) CheckHealth(ctx context.Context) *HealthReport {
	hm.mutex.RLock()
	names := append([]string(nil), hm.names...)
	checks := make(map[string]CheckFunc, len(hm.checks))
	for name, check := range hm.checks {
		checks[name] = check
	}
	uptimeSource := hm.uptimeSource
	timeout := hm.checkTimeout
	hm.mutex.RUnlock()

	report := &HealthReport{
		Components: make(map[string]*HealthCheckResult, len(names)),
		Version:    core.Version,
		Timestamp:  time.Now(),
	}
	if uptimeSource != nil {
		report.Uptime = uptimeSource().Round(time.Second).String()
	}

	healthy := 0
	for _, name := range names {
		result := hm.runCheck(ctx, name, checks[name], timeout)
		report.Components[name] = result
		if result.Status == HealthStatusHealthy {
			healthy++
		}
	}

	switch {
	case len(names) == 0 || healthy == len(names):
		report.OverallStatus = HealthStatusHealthy
	case healthy == 0:
		report.OverallStatus = HealthStatusUnhealthy
	default:
		report.OverallStatus = HealthStatusDegraded
	}

	return report
}

// runCheck 带超时执行单个检查
func (hm *HealthManager) runCheck(ctx context.Context, name string, check CheckFunc, timeout time.Duration) *HealthCheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)

	result := &HealthCheckResult{
		ComponentName: name,
		Status:        HealthStatusHealthy,
		Duration:      time.Since(start),
		CheckTime:     start,
	}
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
		if hm.logger != nil {
			hm.logger.Warn("组件健康检查失败", "component", name, "error", err.Error())
		}
	}

	return result
}
