// 本文件实现了服务生命周期管理，按注册顺序启动组件、按相反顺序停止组件，
// 并提供系统信号等待，保证 MCP 服务器、Web 服务器等对外组件的优雅启停。
package deploy

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Anniext/bqlens/core"
)

// State 服务状态枚举
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Component 可托管的服务组件。Start 返回后组件应已在后台运行，
// Stop 返回后组件应已释放全部资源。
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// funcComponent 用函数对组装组件，避免每个服务都定义包装类型。
type funcComponent struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// NewComponent 创建函数式组件。start 或 stop 为 nil 时对应阶段为空操作。
func NewComponent(name string, start, stop func(ctx context.Context) error) Component {
	return &funcComponent{name: name, start: start, stop: stop}
}

func (c *funcComponent) Name() string { return c.name }

func (c *funcComponent) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c *funcComponent) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	return c.stop(ctx)
}

// Manager 服务生命周期管理器。组件按注册顺序启动，按相反顺序停止。
type Manager struct {
	logger core.Logger

	startupTimeout  time.Duration
	shutdownTimeout time.Duration

	components []Component
	names      map[string]bool
	state      State
	startTime  time.Time
	mutex      sync.RWMutex
}

// NewManager 创建生命周期管理器。超时参数非正时使用默认值。
func NewManager(logger core.Logger, startupTimeout, shutdownTimeout time.Duration) *Manager {
	if startupTimeout <= 0 {
		startupTimeout = core.DefaultStartupTimeout
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = core.DefaultShutdownTimeout
	}

	return &Manager{
		logger:          logger,
		startupTimeout:  startupTimeout,
		shutdownTimeout: shutdownTimeout,
		names:           make(map[string]bool),
		state:           StateStopped,
	}
}

// Register 注册组件。组件名称必须唯一，运行中不允许注册。
func (m *Manager) Register(component Component) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != StateStopped {
		return core.NewBQError(core.ErrorTypeInternal, "LIFECYCLE_RUNNING", "服务运行期间不允许注册组件")
	}

	name := component.Name()
	if m.names[name] {
		return core.NewBQError(core.ErrorTypeInternal, "COMPONENT_DUPLICATE", "组件已注册").
			WithDetails(map[string]any{"component": name})
	}

	m.names[name] = true
	m.components = append(m.components, component)
	return nil
}

// Start 按注册顺序启动全部组件。任一组件启动失败时，
// 已启动的组件会按相反顺序回滚停止。
func (m *Manager) Start(ctx context.Context) error {
	m.mutex.Lock()
	if m.state != StateStopped {
		m.mutex.Unlock()
		return core.NewBQError(core.ErrorTypeInternal, "LIFECYCLE_STATE", "服务已在运行或正在启动")
	}
	m.state = StateStarting
	components := make([]Component, len(m.components))
	copy(components, m.components)
	m.mutex.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, m.startupTimeout)
	defer cancel()

	for i, component := range components {
		begin := time.Now()
		if err := component.Start(startCtx); err != nil {
			m.logInfo("组件启动失败，回滚已启动组件",
				"component", component.Name(), "error", err.Error())
			m.stopComponents(components[:i])
			m.setState(StateStopped)
			return core.WrapError(err, core.ErrorTypeInternal, "COMPONENT_START_FAILED", "启动组件失败").
				WithDetails(map[string]any{"component": component.Name()})
		}

		m.logInfo("组件已启动",
			"component", component.Name(),
			"duration", time.Since(begin).String(),
		)
	}

	m.mutex.Lock()
	m.state = StateRunning
	m.startTime = time.Now()
	m.mutex.Unlock()

	m.logInfo("全部组件已启动", "components", len(components))
	return nil
}

// Stop 按注册的相反顺序停止全部组件。单个组件失败不会中断其余组件的停止，
// 返回最后一个停止错误。对未运行的管理器调用是空操作。
func (m *Manager) Stop(ctx context.Context) error {
	m.mutex.Lock()
	if m.state != StateRunning {
		m.mutex.Unlock()
		return nil
	}
	m.state = StateStopping
	components := make([]Component, len(m.components))
	copy(components, m.components)
	m.mutex.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
	defer cancel()

	err := m.stopComponentsCtx(stopCtx, components)
	m.setState(StateStopped)
	m.logInfo("全部组件已停止")
	return err
}

// stopComponents 用独立的超时上下文反序停止给定组件，用于启动失败回滚。
func (m *Manager) stopComponents(components []Component) {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()
	_ = m.stopComponentsCtx(ctx, components)
}

func (m *Manager) stopComponentsCtx(ctx context.Context, components []Component) error {
	var lastErr error
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		if err := component.Stop(ctx); err != nil {
			m.logInfo("停止组件失败",
				"component", component.Name(), "error", err.Error())
			lastErr = err
			continue
		}
		m.logInfo("组件已停止", "component", component.Name())
	}
	return lastErr
}

// State 返回当前服务状态。
func (m *Manager) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state
}

// Uptime 返回服务运行时长，未运行时为零。
func (m *Manager) Uptime() time.Duration {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.state != StateRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// ComponentNames 返回按启动顺序排列的组件名称。
func (m *Manager) ComponentNames() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.components))
	for _, component := range m.components {
		names = append(names, component.Name())
	}
	return names
}

func (m *Manager) setState(state State) {
	m.mutex.Lock()
	m.state = state
	m.mutex.Unlock()
}

func (m *Manager) logInfo(msg string, fields ...any) {
	if m.logger != nil {
		m.logger.Info(msg, fields...)
	}
}

// WaitForShutdown 阻塞等待 SIGINT/SIGTERM 或上下文取消，返回触发原因。
func WaitForShutdown(ctx context.Context) string {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		return sig.String()
	case <-ctx.Done():
		return "context"
	}
}
