package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Anniext/bqlens/analyzer"
	"github.com/Anniext/bqlens/cache"
	"github.com/Anniext/bqlens/config"
	"github.com/Anniext/bqlens/core"
	"github.com/Anniext/bqlens/deploy"
	"github.com/Anniext/bqlens/insight"
	"github.com/Anniext/bqlens/mcp"
	"github.com/Anniext/bqlens/monitor"
	"github.com/Anniext/bqlens/security"
	"github.com/Anniext/bqlens/server"
	"github.com/Anniext/bqlens/session"
	"github.com/Anniext/bqlens/store"
)

func main() {
	app := core.NewApplication()
	configPath := getConfigPath()

	if err := app.RegisterProvider(core.NewDefaultServiceProvider(configPath)); err != nil {
		log.Fatal("注册默认服务提供者失败:", err)
	}
	if err := app.Boot(); err != nil {
		log.Fatal("启动应用程序失败:", err)
	}

	container := app.GetContainer()

	// 加载配置
	configManager := config.NewManager()
	if err := configManager.Load(configPath); err != nil {
		log.Fatal("加载配置失败:", err)
	}
	cfg := configManager.GetConfig()
	container.Register(core.ServiceConfig, configManager)

	// 日志
	loggerManager, err := monitor.NewLoggerManager(cfg.Log)
	if err != nil {
		log.Fatal("初始化日志失败:", err)
	}
	defer loggerManager.Close()

	logger := loggerManager.GetCoreLogger("bqlens")
	container.Register(core.ServiceLogger, logger)

	logger.Info("BQLens 启动中",
		"version", core.Version,
		"environment", string(configManager.GetEnvironment()),
		"config_path", configPath,
	)

	// 指标
	metrics := monitor.NewMetricsManager()
	container.Register(core.ServiceMetrics, metrics)

	// 组装服务并编排生命周期
	lifecycle, gateway, err := buildServices(cfg, configManager, container, logger, metrics)
	if err != nil {
		logger.Fatal("服务组装失败", "error", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 配置热更新，日志配置变更时重建日志系统
	configManager.RegisterChangeHandler("log", func(event config.ChangeEvent) error {
		newLogConfig, ok := event.NewValue.(*core.LogConfig)
		if !ok {
			return fmt.Errorf("日志配置变更类型不符: %T", event.NewValue)
		}
		return loggerManager.UpdateConfig(newLogConfig)
	})
	if err := configManager.Watch(ctx); err != nil {
		logger.Warn("配置热更新不可用", "error", err.Error())
	}

	if err := lifecycle.Start(ctx); err != nil {
		logger.Error("启动服务失败", "error", err.Error())
		return
	}

	logger.Info("全部服务已启动",
		"mcp_address", configManager.GetMCPAddr(),
		"http_address", configManager.GetServerAddr(),
		"llm_enabled", gateway.LLMEnabled(),
	)

	reason := deploy.WaitForShutdown(ctx)
	logger.Info("BQLens 正在关闭", "reason", reason)

	if err := lifecycle.Stop(context.Background()); err != nil {
		logger.Warn("部分组件未能正常停止", "error", err.Error())
	}
	logger.Info("BQLens 已关闭")
}

// getConfigPath 获取配置文件路径。
// 空串表示让配置管理器按环境在默认搜索路径中查找。
func getConfigPath() string {
	if path := os.Getenv("BQLENS_CONFIG_PATH"); path != "" {
		return path
	}

	defaultPaths := []string{
		"config/bqlens.yaml",
		"./bqlens.yaml",
	}
	for _, path := range defaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// buildServices 按配置组装全部服务，注册到容器并编排进生命周期管理器。
func buildServices(cfg *core.Config, configManager *config.Manager, container *core.Container, logger core.Logger, metrics *monitor.MetricsManager) (*deploy.Manager, *insight.Gateway, error) {
	lifecycle := deploy.NewManager(logger, core.DefaultStartupTimeout, core.DefaultShutdownTimeout)

	// 慢查询仓库
	var queryStore core.QueryStore
	switch cfg.Store.Type {
	case core.StoreTypeMySQL:
		mysqlStore, err := store.NewMySQLStore(cfg.Store.DSN, cfg.Store.Table, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("连接慢查询仓库失败: %w", err)
		}
		queryStore = mysqlStore
	default:
		queryStore = store.NewMemoryStore(logger)
	}
	container.Register(core.ServiceQueryStore, queryStore)

	// 结果缓存
	cacheManager, err := cache.NewManager(cfg.Cache, logger, metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	container.Register(core.ServiceCache, cacheManager)

	// 会话
	sessionManager := session.NewManager(core.DefaultSessionTTL, cacheManager, logger, metrics)
	container.Register(core.ServiceSessionManager, sessionManager)

	// 规则引擎与分析网关
	engine := analyzer.NewEngine(cfg.Analyzer.JoinThreshold, cfg.Analyzer.RewriteLimit, logger)
	container.Register(core.ServiceRuleEngine, engine)

	gateway, err := insight.NewGateway(cfg.LLM, engine, cacheManager, logger, metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化分析网关失败: %w", err)
	}
	container.Register(core.ServiceInsightGateway, gateway)

	// 安全
	tokenManager, err := security.NewTokenManager(cfg.Security, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化令牌管理器失败: %w", err)
	}
	container.Register(core.ServiceTokenManager, tokenManager)

	guard := security.NewQueryGuard(cfg.Security.MaxQueryLength, logger)
	container.Register(core.ServiceQueryGuard, guard)

	// MCP 服务器
	registry := mcp.NewHandlerRegistry(logger)
	toolSet := mcp.NewToolSet(gateway, queryStore, sessionManager, guard, logger)
	if err := toolSet.RegisterAll(registry); err != nil {
		return nil, nil, fmt.Errorf("注册 MCP 工具失败: %w", err)
	}
	mcpServer := mcp.NewServer(cfg.MCP, registry, logger, metrics)
	container.Register(core.ServiceMCPServer, mcpServer)

	// Web 服务器
	httpServer, err := server.NewServer(cfg.Server, gateway, queryStore, sessionManager, tokenManager, guard, logger, metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化 Web 服务器失败: %w", err)
	}
	container.Register(core.ServiceHTTPServer, httpServer)

	// 健康检查，/health 汇总各组件可用性
	health := monitor.NewHealthManager(logger)
	health.SetUptimeSource(lifecycle.Uptime)
	healthChecks := []struct {
		name  string
		check monitor.CheckFunc
	}{
		{"query-store", func(ctx context.Context) error {
			_, err := queryStore.ListQueries(ctx, &core.QueryFilter{})
			return err
		}},
		{"cache", func(ctx context.Context) error {
			return cacheManager.Set(ctx, "health:ping", []byte("ok"), time.Minute)
		}},
		{"mcp-server", func(ctx context.Context) error {
			if !mcpServer.IsRunning() {
				return fmt.Errorf("MCP 服务器未在运行")
			}
			return nil
		}},
	}
	for _, entry := range healthChecks {
		if err := health.RegisterCheck(entry.name, entry.check); err != nil {
			return nil, nil, fmt.Errorf("注册健康检查失败: %w", err)
		}
	}
	httpServer.SetHealthManager(health)

	// 后端资源先启动后停止，对外服务后启动先停止
	components := []deploy.Component{
		deploy.NewComponent("query-store", nil, func(ctx context.Context) error {
			if closer, ok := queryStore.(interface{ Close() error }); ok {
				return closer.Close()
			}
			return nil
		}),
		deploy.NewComponent("cache", nil, func(ctx context.Context) error {
			return cacheManager.Close()
		}),
		deploy.NewComponent("session-manager", nil, func(ctx context.Context) error {
			sessionManager.Stop()
			return nil
		}),
		deploy.NewComponent("mcp-server", func(ctx context.Context) error {
			return mcpServer.Start(ctx, configManager.GetMCPAddr())
		}, mcpServer.Stop),
		deploy.NewComponent("http-server", func(ctx context.Context) error {
			return httpServer.Start(ctx)
		}, httpServer.Stop),
	}
	for _, component := range components {
		if err := lifecycle.Register(component); err != nil {
			return nil, nil, fmt.Errorf("注册生命周期组件失败: %w", err)
		}
	}

	return lifecycle, gateway, nil
}
