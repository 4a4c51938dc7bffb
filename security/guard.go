package security

import (
	"strings"

	"github.com/Anniext/bqlens/core"
)

// QueryGuard 查询入口守卫，在分析流程之前拒绝不合规的查询文本。
// maxQueryLength：查询文本最大长度。
// logger：日志记录器。
type QueryGuard struct {
	maxQueryLength int         // 查询最大长度
	logger         core.Logger // 日志记录器
}

// NewQueryGuard 创建查询守卫，maxQueryLength 非正时使用默认值。
func NewQueryGuard(maxQueryLength int, logger core.Logger) *QueryGuard {
	if maxQueryLength <= 0 {
		maxQueryLength = core.DefaultMaxQueryLength
	}
	return &QueryGuard{
		maxQueryLength: maxQueryLength,
		logger:         logger,
	}
}

// CheckQuery 校验查询文本。
// 空白文本和超长文本被拒绝，规则引擎本身对任何文本都不报错，
// 长度限制只在入口处生效。
func (g *QueryGuard) CheckQuery(queryText string) error {
	if strings.TrimSpace(queryText) == "" {
		return core.ErrMissingParameter.WithDetails(map[string]any{
			"parameter": "query",
		})
	}

	if len(queryText) > g.maxQueryLength {
		if g.logger != nil {
			g.logger.Warn("查询文本超长被拒绝", "length", len(queryText), "max_length", g.maxQueryLength)
		}
		return core.ErrQueryTooLong.WithDetails(map[string]any{
			"length":     len(queryText),
			"max_length": g.maxQueryLength,
		})
	}

	return nil
}

// MaxQueryLength 返回配置的最大查询长度。
func (g *QueryGuard) MaxQueryLength() int {
	return g.maxQueryLength
}
