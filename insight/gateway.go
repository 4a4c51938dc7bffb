package insight

import (
	"context"
	"time"

	"github.com/Anniext/bqlens/analyzer"
	"github.com/Anniext/bqlens/cache"
	"github.com/Anniext/bqlens/core"
	"github.com/Anniext/bqlens/monitor"
	"github.com/tmc/langchaingo/llms"
)

// Gateway 分析网关，实现 core.QueryAnalyzer 接口。
// 优先走外部模型路径，模型未配置、超时或响应形状非法时
// 整体回退到规则引擎，对调用方永远返回形状一致的结果而不是错误。
// engine：规则引擎，同时承担回退路径。
// llm：外部模型客户端，未配置时为 nil。
// config：LLM 配置。
// cache：结果缓存，可以为 nil。
// logger：日志记录器。
// metrics：指标收集器。
type Gateway struct {
	engine  *analyzer.Engine        // 规则引擎
	llm     llms.Model              // 外部模型客户端
	config  *core.LLMConfig         // LLM 配置
	cache   *cache.Manager          // 结果缓存
	logger  core.Logger             // 日志记录器
	metrics *monitor.MetricsManager // 指标收集器
}

// NewGateway 创建分析网关。
// config 为 nil 或 api_key 为空时外部模型路径关闭，网关退化为纯规则引擎。
func NewGateway(config *core.LLMConfig, engine *analyzer.Engine, cacheManager *cache.Manager, logger core.Logger, metrics *monitor.MetricsManager) (*Gateway, error) {
	if engine == nil {
		return nil, core.NewBQError(core.ErrorTypeValidation, "INVALID_ENGINE", "规则引擎不能为空")
	}

	llm, err := createLLMClient(config)
	if err != nil {
		return nil, core.WrapError(err, core.ErrorTypeLLM, "LLM_CLIENT_FAILED", "LLM 客户端创建失败")
	}

	if llm == nil && logger != nil {
		logger.Info("外部模型未配置，分析网关仅使用规则引擎")
	}

	return &Gateway{
		engine:  engine,
		llm:     llm,
		config:  config,
		cache:   cacheManager,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// newGatewayWithModel 测试注入点。
func newGatewayWithModel(llm llms.Model, config *core.LLMConfig, engine *analyzer.Engine, cacheManager *cache.Manager, logger core.Logger, metrics *monitor.MetricsManager) *Gateway {
	return &Gateway{
		engine:  engine,
		llm:     llm,
		config:  config,
		cache:   cacheManager,
		logger:  logger,
		metrics: metrics,
	}
}

// LLMEnabled 报告外部模型路径是否可用。
func (g *Gateway) LLMEnabled() bool {
	return g.llm != nil
}

// Analyze 分析查询文本，永远返回非空结果。
func (g *Gateway) Analyze(ctx context.Context, queryText string) *core.AnalysisResult {
	if g.cache != nil {
		if cached, ok := g.cache.GetAnalysis(ctx, queryText); ok {
			if g.metrics != nil {
				g.metrics.RecordCacheHit()
			}
			return cached
		}
		if g.metrics != nil {
			g.metrics.RecordCacheMiss()
		}
	}

	start := time.Now()
	result := g.llmAnalyze(ctx, queryText)
	if result == nil {
		if g.llm != nil && g.metrics != nil {
			g.metrics.RecordFallback()
		}
		result = g.engine.Analyze(ctx, queryText)
	}

	if g.metrics != nil {
		g.metrics.RecordAnalysis(result.Analysis, result.Source, time.Since(start))
	}
	if g.cache != nil {
		if err := g.cache.SetAnalysis(ctx, queryText, result); err != nil && g.logger != nil {
			g.logger.Warn("分析结果缓存写入失败", "error", err.Error())
		}
	}

	return result
}

// Optimize 优化查询文本，永远返回非空结果。
func (g *Gateway) Optimize(ctx context.Context, queryText string) *core.OptimizationResult {
	if g.cache != nil {
		if cached, ok := g.cache.GetOptimization(ctx, queryText); ok {
			if g.metrics != nil {
				g.metrics.RecordCacheHit()
			}
			return cached
		}
		if g.metrics != nil {
			g.metrics.RecordCacheMiss()
		}
	}

	start := time.Now()
	result := g.llmOptimize(ctx, queryText)
	if result == nil {
		if g.llm != nil && g.metrics != nil {
			g.metrics.RecordFallback()
		}
		result = g.engine.Optimize(ctx, queryText)
	}

	if g.metrics != nil {
		g.metrics.RecordOptimization(result.Source, time.Since(start))
	}
	if g.cache != nil {
		if err := g.cache.SetOptimization(ctx, queryText, result); err != nil && g.logger != nil {
			g.logger.Warn("优化结果缓存写入失败", "error", err.Error())
		}
	}

	return result
}

// llmAnalyze 走外部模型路径分析一次，任何失败都返回 nil 交由调用方回退。
func (g *Gateway) llmAnalyze(ctx context.Context, queryText string) *core.AnalysisResult {
	if g.llm == nil {
		return nil
	}

	response, err := g.generate(ctx, analysisPrompt(queryText))
	if err != nil {
		g.logLLMFailure("分析", err)
		return nil
	}

	findings, err := parseAnalysisResponse(response)
	if err != nil {
		g.logLLMFailure("分析", err)
		return nil
	}

	return &core.AnalysisResult{
		QueryText:    queryText,
		Analysis:     findings,
		Explanations: analyzer.Explanations(findings),
		IssuesFound:  findings.HasIssues(),
		Source:       core.SourceLLM,
	}
}

// llmOptimize 走外部模型路径优化一次，任何失败都返回 nil 交由调用方回退。
func (g *Gateway) llmOptimize(ctx context.Context, queryText string) *core.OptimizationResult {
	if g.llm == nil {
		return nil
	}

	response, err := g.generate(ctx, optimizationPrompt(queryText))
	if err != nil {
		g.logLLMFailure("优化", err)
		return nil
	}

	optimized, findings, err := parseOptimizationResponse(response)
	if err != nil {
		g.logLLMFailure("优化", err)
		return nil
	}
	if optimized == "" {
		optimized = queryText
	}

	return &core.OptimizationResult{
		OriginalQuery:  queryText,
		OptimizedQuery: optimized,
		Analysis:       findings,
		Source:         core.SourceLLM,
	}
}

// generate 发起一次有超时边界的模型调用。
// 不重试：单次尝试失败即交由规则路径兜底。
func (g *Gateway) generate(ctx context.Context, prompt string) (string, error) {
	timeout := core.DefaultLLMTimeout
	if g.config != nil && g.config.Timeout > 0 {
		timeout = g.config.Timeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type generation struct {
		text string
		err  error
	}
	resultCh := make(chan generation, 1)

	start := time.Now()
	go func() {
		opts := []llms.CallOption{}
		if g.config != nil {
			if g.config.MaxTokens > 0 {
				opts = append(opts, llms.WithMaxTokens(g.config.MaxTokens))
			}
			opts = append(opts, llms.WithTemperature(g.config.Temperature))
		}

		text, err := llms.GenerateFromSinglePrompt(callCtx, g.llm, prompt, opts...)
		resultCh <- generation{text: text, err: err}
	}()

	select {
	case result := <-resultCh:
		if g.metrics != nil {
			g.metrics.RecordLLMCall(time.Since(start), result.err)
		}
		return result.text, result.err

	case <-callCtx.Done():
		err := core.ErrLLMTimeout.WithDetails(map[string]any{
			"timeout": timeout.String(),
		})
		if g.metrics != nil {
			g.metrics.RecordLLMCall(time.Since(start), err)
		}
		return "", err
	}
}

func (g *Gateway) logLLMFailure(operation string, err error) {
	if g.logger != nil {
		g.logger.Warn("外部模型路径失败，回退到规则引擎", "operation", operation, "error", err.Error())
	}
}
