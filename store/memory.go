// 本文件实现内存版慢查询仓库，内置一组示例慢查询数据，
// 供开发环境和演示场景在没有 MySQL 的情况下直接使用。

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Anniext/bqlens/core"
)

// MemoryStore 内存慢查询仓库结构体。
// queries：按查询 ID 索引的慢查询集合。
// logger：日志记录器，可为空。
type MemoryStore struct {
	mu      sync.RWMutex
	queries map[string]*core.SlowQuery // 查询集合
	logger  core.Logger                // 日志记录器
}

// NewMemoryStore 创建内存仓库并填充示例数据
func NewMemoryStore(logger core.Logger) *MemoryStore {
	store := &MemoryStore{
		queries: make(map[string]*core.SlowQuery),
		logger:  logger,
	}
	store.seed()
	return store
}

// seed 填充示例慢查询数据
func (s *MemoryStore) seed() {
	base := time.Now().Add(-24 * time.Hour)
	samples := []*core.SlowQuery{
		{
			QueryID:        "q-001",
			QueryText:      "SELECT * FROM analytics.events ORDER BY created_at",
			RuntimeMS:      184000,
			User:           "etl-batch@bq.internal",
			Timestamp:      base,
			BytesProcessed: 724 * 1024 * 1024 * 1024,
		},
		{
			QueryID: "q-002",
			QueryText: "WITH daily AS (SELECT day, cnt FROM analytics.rollup), " +
				"hourly AS (SELECT hour FROM analytics.rollup_h) " +
				"SELECT daily.day FROM daily, hourly WHERE daily.cnt > 100 AND daily.day IS NOT NULL",
			RuntimeMS:      96500,
			User:           "dashboards@bq.internal",
			Timestamp:      base.Add(2 * time.Hour),
			BytesProcessed: 120 * 1024 * 1024 * 1024,
		},
		{
			QueryID:        "q-003",
			QueryText:      "SELECT order_id FROM sales.orders WHERE amount > (SELECT AVG(amount) FROM sales.orders)",
			RuntimeMS:      61200,
			User:           "analyst@bq.internal",
			Timestamp:      base.Add(5 * time.Hour),
			BytesProcessed: 48 * 1024 * 1024 * 1024,
		},
		{
			QueryID:        "q-004",
			QueryText:      "SELECT user_id FROM sales.orders WHERE user_id IN (SELECT user_id FROM analytics.events)",
			RuntimeMS:      45800,
			User:           "analyst@bq.internal",
			Timestamp:      base.Add(8 * time.Hour),
			BytesProcessed: 36 * 1024 * 1024 * 1024,
		},
		{
			QueryID: "q-005",
			QueryText: "SELECT a.id FROM t1 a JOIN t2 b ON a.id = b.id JOIN t3 c ON a.id = c.id " +
				"JOIN t4 d ON a.id = d.id JOIN t5 e ON a.id = e.id LIMIT 100",
			RuntimeMS:      38900,
			User:           "etl-batch@bq.internal",
			Timestamp:      base.Add(11 * time.Hour),
			BytesProcessed: 210 * 1024 * 1024 * 1024,
		},
		{
			QueryID:        "q-006",
			QueryText:      "SELECT order_id, amount FROM sales.orders WHERE region = 'EU' LIMIT 500",
			RuntimeMS:      12400,
			User:           "dashboards@bq.internal",
			Timestamp:      base.Add(14 * time.Hour),
			BytesProcessed: 3 * 1024 * 1024 * 1024,
		},
	}

	for _, q := range samples {
		s.queries[q.QueryID] = q
	}
}

// ListQueries 按过滤条件列出慢查询，按运行时长降序排序
func (s *MemoryStore) ListQueries(ctx context.Context, filter *core.QueryFilter) ([]*core.SlowQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*core.SlowQuery
	for _, q := range s.queries {
		if filter != nil {
			if filter.MinRuntimeMS > 0 && q.RuntimeMS < filter.MinRuntimeMS {
				continue
			}
			if filter.User != "" && q.User != filter.User {
				continue
			}
		}
		clone := *q
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RuntimeMS > result[j].RuntimeMS
	})
	return result, nil
}

// GetQuery 按 ID 获取慢查询，不存在时返回未找到错误
func (s *MemoryStore) GetQuery(ctx context.Context, queryID string) (*core.SlowQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queries[queryID]
	if !ok {
		return nil, core.ErrQueryNotFound.WithDetails(map[string]any{"query_id": queryID})
	}
	clone := *q
	return &clone, nil
}

// AddQuery 添加慢查询记录，主要供测试和采集端使用
func (s *MemoryStore) AddQuery(q *core.SlowQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *q
	s.queries[q.QueryID] = &clone
}

// Close 实现关闭接口，内存仓库无需清理
func (s *MemoryStore) Close() error {
	return nil
}
