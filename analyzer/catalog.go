// 本文件定义了反模式目录（Pattern Catalog），即规则引擎可识别的全部反模式集合。
// 目录是封闭有序的：顺序即插入顺序，决定所有下游结果的展示/迭代顺序；
// 集合在进程生命周期内只读，启动时初始化，运行期不会从外部输入扩展。

package analyzer

import (
	"github.com/Anniext/bqlens/core"
)

// Definition 反模式定义结构体，目录中的一项。
// ID：模式标识符。
// Name：人类可读名称。
// Description：检测条件描述。
// RewriteHint：改写建议。
type Definition struct {
	ID          core.PatternID `json:"id"`           // 模式标识
	Name        string         `json:"name"`         // 名称
	Description string         `json:"description"`  // 检测描述
	RewriteHint string         `json:"rewrite_hint"` // 改写建议
}

// catalog 反模式目录，顺序固定且可复现
var catalog = []Definition{
	{
		ID:          core.PatternSelectStar,
		Name:        "SELECT * without EXCEPT",
		Description: "query selects all columns without an EXCEPT clause, scanning data it does not need",
		RewriteHint: "replace SELECT * with SELECT * EXCEPT (...) listing the columns you do not need",
	},
	{
		ID:          core.PatternMultipleWithClauses,
		Name:        "Re-evaluated WITH clauses",
		Description: "two or more named WITH bindings exist and at least one is referenced more than once",
		RewriteHint: "consolidate repeated CTE references or materialize the shared binding",
	},
	{
		ID:          core.PatternSubqueryWithAggregation,
		Name:        "Aggregation inside WHERE subquery",
		Description: "a subquery in a filter clause computes an aggregate without DISTINCT or GROUP BY",
		RewriteHint: "pre-aggregate in a CTE and JOIN against it instead of aggregating inside the filter",
	},
	{
		ID:          core.PatternSubqueryWithDistinct,
		Name:        "Unbounded IN subquery",
		Description: "a WHERE ... IN (...) subquery lacks DISTINCT or GROUP BY on the inner selection",
		RewriteHint: "deduplicate the inner selection with DISTINCT/GROUP BY, or use EXISTS",
	},
	{
		ID:          core.PatternTooManyJoins,
		Name:        "Too many joins",
		Description: "the number of JOIN keywords exceeds the configured threshold",
		RewriteHint: "denormalize upstream or build a materialized view for the hot join path",
	},
	{
		ID:          core.PatternOrderByWithoutLimit,
		Name:        "ORDER BY without LIMIT",
		Description: "query sorts its full result set without a subsequent LIMIT clause",
		RewriteHint: "append a LIMIT so the engine can use a bounded top-N sort",
	},
}

// Catalog 返回目录副本，保持插入顺序
func Catalog() []Definition {
	defs := make([]Definition, len(catalog))
	copy(defs, catalog)
	return defs
}

// PatternIDs 按目录顺序返回全部模式标识
func PatternIDs() []core.PatternID {
	ids := make([]core.PatternID, 0, len(catalog))
	for _, def := range catalog {
		ids = append(ids, def.ID)
	}
	return ids
}

// IsKnownPattern 检查标识是否在目录中
func IsKnownPattern(id core.PatternID) bool {
	for _, def := range catalog {
		if def.ID == id {
			return true
		}
	}
	return false
}

// Lookup 按标识查找目录定义
func Lookup(id core.PatternID) (Definition, bool) {
	for _, def := range catalog {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}
