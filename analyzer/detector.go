// 本文件实现反模式检测引擎。检测完全基于文本启发式（正则 + 括号配对扫描），
// 不做完整 SQL 解析。检测过程永不报错：任何输入（空串、非 SQL、畸形文本）
// 都会产出一份覆盖全部目录模式的布尔结果，且纯函数、确定性可复现。

package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Anniext/bqlens/core"
)

// Engine 规则引擎结构体，持有检测与改写所需的配置。
// joinThreshold：JOIN 数量阈值，超过判定为 too_many_joins。
// rewriteLimit：改写时补充的 LIMIT 行数。
// logger：日志记录器，可为空。
type Engine struct {
	joinThreshold int         // JOIN 阈值
	rewriteLimit  int         // 改写 LIMIT 值
	logger        core.Logger // 日志记录器
}

// NewEngine 创建规则引擎，非法阈值回退到默认值
func NewEngine(joinThreshold, rewriteLimit int, logger core.Logger) *Engine {
	if joinThreshold <= 0 {
		joinThreshold = core.DefaultJoinThreshold
	}
	if rewriteLimit <= 0 {
		rewriteLimit = core.DefaultRewriteLimit
	}
	return &Engine{
		joinThreshold: joinThreshold,
		rewriteLimit:  rewriteLimit,
		logger:        logger,
	}
}

// JoinThreshold 返回当前 JOIN 阈值
func (e *Engine) JoinThreshold() int {
	return e.joinThreshold
}

// RewriteLimit 返回当前改写 LIMIT 值
func (e *Engine) RewriteLimit() int {
	return e.rewriteLimit
}

var (
	selectStarRegex   = regexp.MustCompile(`(?i)\bSELECT\s+\*\s+FROM\b`)
	selectExceptRegex = regexp.MustCompile(`(?i)\bSELECT\s+\*\s+EXCEPT\s*\(`)
	withBindingRegex  = regexp.MustCompile(`(?i)(?:\bWITH\s+|,\s*)([A-Za-z_][A-Za-z0-9_]*)\s+AS\s*\(`)
	joinRegex         = regexp.MustCompile(`(?i)\bJOIN\b`)
	orderByRegex      = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	limitRegex        = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	aggregateRegex    = regexp.MustCompile(`(?i)\b(?:COUNT|SUM|AVG|MIN|MAX)\s*\(`)
	distinctRegex     = regexp.MustCompile(`(?i)\bDISTINCT\b`)
	groupByRegex      = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	whereRegex        = regexp.MustCompile(`(?i)\bWHERE\b`)
	inParenRegex      = regexp.MustCompile(`(?i)\bIN\s*\(`)
	selectPrefixRegex = regexp.MustCompile(`(?i)^\s*SELECT\b`)
)

// Detect 对查询文本执行全量检测。结果覆盖目录中的全部模式，
// 未命中者显式为 false；单条检测之间互不影响，无短路。
// 检测在剥离注释后的文本上执行，注释里的 SQL 关键字不参与判定。
func (e *Engine) Detect(queryText string) core.Findings {
	findings := make(core.Findings, len(catalog))
	for _, def := range catalog {
		findings[def.ID] = false
	}

	text := core.StripSQLComments(queryText)

	findings[core.PatternSelectStar] = detectSelectStar(text)
	findings[core.PatternMultipleWithClauses] = detectMultipleWithClauses(text)
	findings[core.PatternSubqueryWithAggregation] = detectSubqueryWithAggregation(text)
	findings[core.PatternSubqueryWithDistinct] = detectSubqueryWithDistinct(text)
	findings[core.PatternTooManyJoins] = e.detectTooManyJoins(text)
	findings[core.PatternOrderByWithoutLimit] = detectOrderByWithoutLimit(text)

	if e.logger != nil && findings.HasIssues() {
		e.logger.Debug("检测到反模式",
			"true_count", findings.TrueCount(),
			"fingerprint", core.QueryFingerprint(queryText),
		)
	}
	return findings
}

// detectSelectStar 存在 SELECT * FROM 且没有任何 EXCEPT 列裁剪
func detectSelectStar(text string) bool {
	return selectStarRegex.MatchString(text) && !selectExceptRegex.MatchString(text)
}

// detectMultipleWithClauses 至少两个命名 WITH 绑定，且其中某个绑定
// 在定义之外被引用超过一次
func detectMultipleWithClauses(text string) bool {
	names := withBindingNames(text)
	if len(names) < 2 {
		return false
	}
	for _, name := range names {
		refRegex := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
		// 总出现次数扣除定义处自身
		if len(refRegex.FindAllStringIndex(text, -1))-1 >= 2 {
			return true
		}
	}
	return false
}

// withBindingNames 提取全部命名 WITH 绑定名，保持出现顺序并去重
func withBindingNames(text string) []string {
	matches := withBindingRegex.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var names []string
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, m[1])
		}
	}
	return names
}

// detectSubqueryWithAggregation WHERE 之后的括号子查询内出现聚合函数，
// 且该子查询自身没有 DISTINCT / GROUP BY
func detectSubqueryWithAggregation(text string) bool {
	loc := whereRegex.FindStringIndex(text)
	if loc == nil {
		return false
	}
	for _, sub := range extractSubqueries(text, loc[1]) {
		if aggregateRegex.MatchString(sub) &&
			!distinctRegex.MatchString(sub) && !groupByRegex.MatchString(sub) {
			return true
		}
	}
	return false
}

// detectSubqueryWithDistinct WHERE ... IN ( SELECT ... ) 子查询内部
// 缺失 DISTINCT 与 GROUP BY
func detectSubqueryWithDistinct(text string) bool {
	whereLoc := whereRegex.FindStringIndex(text)
	if whereLoc == nil {
		return false
	}
	for _, m := range inParenRegex.FindAllStringIndex(text, -1) {
		if m[0] < whereLoc[1] {
			continue
		}
		open := strings.LastIndexByte(text[m[0]:m[1]], '(') + m[0]
		sub, ok := balancedSpan(text, open)
		if !ok || !selectPrefixRegex.MatchString(sub) {
			continue
		}
		if !distinctRegex.MatchString(sub) && !groupByRegex.MatchString(sub) {
			return true
		}
	}
	return false
}

// detectTooManyJoins JOIN 关键字数量超过阈值
func (e *Engine) detectTooManyJoins(text string) bool {
	return len(joinRegex.FindAllStringIndex(text, -1)) > e.joinThreshold
}

// detectOrderByWithoutLimit 最后一个 ORDER BY 之后没有 LIMIT
func detectOrderByWithoutLimit(text string) bool {
	locs := orderByRegex.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return false
	}
	last := locs[len(locs)-1]
	return !limitRegex.MatchString(text[last[1]:])
}

// extractSubqueries 收集 from 偏移之后所有以 SELECT 开头的括号内文，
// 嵌套子查询各自独立收集；括号不配对时扫描到界即止，不报错
func extractSubqueries(text string, from int) []string {
	var subs []string
	for i := from; i >= 0 && i < len(text); i++ {
		if text[i] != '(' {
			continue
		}
		inner, ok := balancedSpan(text, i)
		if !ok {
			break
		}
		if selectPrefixRegex.MatchString(inner) {
			subs = append(subs, inner)
		}
	}
	return subs
}

// balancedSpan 返回 open 处括号的配对内文（不含括号本身）
func balancedSpan(text string, open int) (string, bool) {
	depth := 0
	for j := open; j < len(text); j++ {
		switch text[j] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return text[open+1 : j], true
			}
		}
	}
	return "", false
}

// joinCount 统计 JOIN 关键字数量，供改写注释使用
func joinCount(text string) int {
	return len(joinRegex.FindAllStringIndex(text, -1))
}

// describeFindings 生成命中摘要，按目录顺序
func describeFindings(findings core.Findings) string {
	var hits []string
	for _, def := range catalog {
		if findings[def.ID] {
			hits = append(hits, string(def.ID))
		}
	}
	if len(hits) == 0 {
		return "no issues"
	}
	return fmt.Sprintf("%d issues: %s", len(hits), strings.Join(hits, ", "))
}
