// 本文件实现反模式解释器。解释文案是静态只读查找表，不依赖查询内容，
// 同一标识永远返回同一文案；未知标识是调用方的契约违规，返回错误。

package analyzer

import (
	"github.com/Anniext/bqlens/core"
)

// explanations 各模式的用户可读解释，面向 BigQuery 使用者，保持英文输出
var explanations = map[core.PatternID]string{
	core.PatternSelectStar: "SELECT * reads every column in the table, which increases the amount " +
		"of data scanned and therefore the cost of the query. Use SELECT * EXCEPT (...) or list " +
		"only the columns you actually need.",
	core.PatternMultipleWithClauses: "BigQuery does not materialize WITH (CTE) bindings: a binding " +
		"referenced more than once is re-evaluated on every reference. Consolidate repeated " +
		"references or persist the intermediate result in a temporary table.",
	core.PatternSubqueryWithAggregation: "Aggregating inside a WHERE subquery forces the engine to " +
		"compute the aggregate for the filter instead of joining against a pre-aggregated input. " +
		"Move the aggregation into a CTE and JOIN on its result.",
	core.PatternSubqueryWithDistinct: "An IN (...) subquery without DISTINCT or GROUP BY can feed " +
		"duplicate values into the semi-join, making the probe side larger than necessary. " +
		"Deduplicate the inner selection or rewrite the filter with EXISTS.",
	core.PatternTooManyJoins: "A high number of joins in a single query usually signals an " +
		"over-normalized schema. Each join adds a shuffle stage; consider denormalizing the data " +
		"or maintaining a materialized view with nested and repeated fields.",
	core.PatternOrderByWithoutLimit: "ORDER BY without LIMIT sorts the entire result set on a " +
		"single worker. Adding a LIMIT lets BigQuery use a bounded top-N sort and avoids " +
		"resource-exceeded errors on large results.",
}

// Explain 返回指定模式的解释文案。未知标识返回契约违规错误。
func Explain(id core.PatternID) (string, error) {
	text, ok := explanations[id]
	if !ok {
		return "", core.ErrUnknownPattern.WithDetails(map[string]any{"pattern_id": string(id)})
	}
	return text, nil
}

// Explanations 为检测结果中命中的模式生成解释集合。
// 入参结果键都来自目录，因此这里不会触发未知标识错误。
func Explanations(findings core.Findings) map[core.PatternID]string {
	out := make(map[core.PatternID]string)
	for id, hit := range findings {
		if !hit {
			continue
		}
		if text, ok := explanations[id]; ok {
			out[id] = text
		}
	}
	return out
}
