// 本文件实现规则改写器。改写是加性的：只追加注释、替换 SELECT * 或补充
// LIMIT，绝不删减用户查询内容。全部检测均为 false 时恒等返回原文，
// 不加任何注释（恒等律）。改写后的文本对自身模式不再命中（自不动点）。

package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Anniext/bqlens/core"
)

var (
	selectStarRewrite    = regexp.MustCompile(`(?i)\bSELECT\s+\*\s+FROM\b`)
	regexpContainsSimple = regexp.MustCompile(`(?i)REGEXP_CONTAINS\s*\(\s*([A-Za-z_][A-Za-z0-9_.]*)\s*,\s*r?['"]\.\*([A-Za-z0-9_ ]+)\.\*['"]\s*\)`)
)

// Rewrite 根据检测结果产出优化后的查询文本。
// 无命中时返回原文本身；有命中时按目录顺序追加注释并应用模板化改写。
func (e *Engine) Rewrite(queryText string, findings core.Findings) string {
	if !findings.HasIssues() {
		return queryText
	}

	rewritten := queryText
	var notes []string

	if findings[core.PatternSelectStar] {
		rewritten = selectStarRewrite.ReplaceAllString(rewritten, "SELECT * EXCEPT (unused_columns) FROM")
		notes = append(notes, "-- select_star: list the columns you do not need inside EXCEPT (...)")
	}
	if findings[core.PatternMultipleWithClauses] {
		notes = append(notes, "-- multiple_with_clauses: a CTE referenced more than once is re-evaluated; consider materializing it")
	}
	if findings[core.PatternSubqueryWithAggregation] {
		notes = append(notes, "-- subquery_with_aggregation: pre-aggregate in a CTE and reference it from the filter instead of an aggregate subquery")
	}
	if findings[core.PatternSubqueryWithDistinct] {
		notes = append(notes, "-- subquery_with_distinct: deduplicate the inner selection or use EXISTS")
	}
	if findings[core.PatternTooManyJoins] {
		notes = append(notes, fmt.Sprintf(
			"-- too_many_joins: %d joins over threshold %d; consider denormalizing or a materialized view",
			joinCount(queryText), e.joinThreshold))
	}

	// 任一命中时顺带简化纯字面量的 REGEXP_CONTAINS
	if simplified := regexpContainsSimple.ReplaceAllString(rewritten, "$1 LIKE '%$2%'"); simplified != rewritten {
		rewritten = simplified
		notes = append(notes, "-- regexp_contains: replaced literal-only pattern with LIKE")
	}

	if findings[core.PatternOrderByWithoutLimit] {
		rewritten = strings.TrimRight(rewritten, " \t\n;") +
			"\n-- order_by_without_limit: bound the sorted result set\nLIMIT " + strconv.Itoa(e.rewriteLimit)
	}

	if len(notes) == 0 {
		return rewritten
	}
	return strings.Join(notes, "\n") + "\n" + rewritten
}

// Analyze 实现 core.QueryAnalyzer 的规则侧：检测 + 解释
func (e *Engine) Analyze(ctx context.Context, queryText string) *core.AnalysisResult {
	findings := e.Detect(queryText)
	return &core.AnalysisResult{
		QueryText:    queryText,
		Analysis:     findings,
		Explanations: Explanations(findings),
		IssuesFound:  findings.HasIssues(),
		Source:       core.SourceRuleBased,
	}
}

// Optimize 实现 core.QueryAnalyzer 的规则侧：检测 + 改写
func (e *Engine) Optimize(ctx context.Context, queryText string) *core.OptimizationResult {
	findings := e.Detect(queryText)
	optimized := e.Rewrite(queryText, findings)
	if e.logger != nil {
		e.logger.Debug("规则改写完成", "summary", describeFindings(findings))
	}
	return &core.OptimizationResult{
		OriginalQuery:  queryText,
		OptimizedQuery: optimized,
		Analysis:       findings,
		Source:         core.SourceRuleBased,
	}
}
