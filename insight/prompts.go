package insight

import (
	"fmt"
	"strings"

	"github.com/Anniext/bqlens/analyzer"
)

// 提示词模板。面向模型的文本使用英文，JSON 形状与规则引擎的结果完全一致。
const (
	analysisPromptTemplate = `You are a BigQuery SQL reviewer. Inspect the query below for the following anti-patterns:

%s

Respond with ONLY a JSON object mapping every pattern id to a boolean, for example:

%s

Include all six keys exactly once, use only true or false as values, and do not add any other keys or commentary.

Query:
%s`

	optimizationPromptTemplate = `You are a BigQuery SQL reviewer. Inspect the query below for the following anti-patterns and rewrite it to avoid the ones you find:

%s

Respond with ONLY a JSON object of the form:

{"optimized_query": "<rewritten SQL, or the original query if nothing applies>", "analysis": %s}

The "analysis" object must include all six pattern ids exactly once with boolean values. Do not add any other keys or commentary.

Query:
%s`
)

// patternCatalogText 将模式目录渲染为提示词中的条目列表。
func patternCatalogText() string {
	var sb strings.Builder
	for _, def := range analyzer.Catalog() {
		fmt.Fprintf(&sb, "- %s: %s\n", def.ID, def.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// findingsShapeText 返回提示词中的结果形状示例。
func findingsShapeText() string {
	ids := analyzer.PatternIDs()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%q: false", string(id)))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// analysisPrompt 构造分析请求的提示词。
func analysisPrompt(queryText string) string {
	return fmt.Sprintf(analysisPromptTemplate, patternCatalogText(), findingsShapeText(), queryText)
}

// optimizationPrompt 构造优化请求的提示词。
func optimizationPrompt(queryText string) string {
	return fmt.Sprintf(optimizationPromptTemplate, patternCatalogText(), findingsShapeText(), queryText)
}
