// 本文件实现 MySQL 版慢查询仓库，从慢查询日志表读取记录。
// 表结构约定：query_id、query_text、runtime_ms、user、ts、bytes_processed。

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Anniext/bqlens/core"

	_ "github.com/go-sql-driver/mysql" // MySQL 驱动
)

// MySQLStore MySQL 慢查询仓库结构体。
// db：数据库连接池。
// table：慢查询日志表名。
// logger：日志记录器，可为空。
type MySQLStore struct {
	db     *sql.DB     // 连接池
	table  string      // 日志表名
	logger core.Logger // 日志记录器
}

// NewMySQLStore 创建 MySQL 仓库并验证连接
func NewMySQLStore(dsn, table string, logger core.Logger) (*MySQLStore, error) {
	if table == "" {
		table = core.DefaultSlowQueryTable
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, core.WrapError(err, core.ErrorTypeStore, "STORE_OPEN_FAILED", "打开数据库连接失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, core.WrapError(err, core.ErrorTypeStore, "STORE_PING_FAILED", "数据库连接检查失败")
	}

	return NewMySQLStoreWithDB(db, table, logger), nil
}

// NewMySQLStoreWithDB 使用现有连接池创建仓库，供测试注入
func NewMySQLStoreWithDB(db *sql.DB, table string, logger core.Logger) *MySQLStore {
	if table == "" {
		table = core.DefaultSlowQueryTable
	}
	return &MySQLStore{
		db:     db,
		table:  table,
		logger: logger,
	}
}

// ListQueries 按过滤条件查询慢查询日志，按运行时长降序排序
func (s *MySQLStore) ListQueries(ctx context.Context, filter *core.QueryFilter) ([]*core.SlowQuery, error) {
	query := fmt.Sprintf(
		"SELECT query_id, query_text, runtime_ms, user, ts, bytes_processed FROM %s WHERE 1=1", s.table)
	var args []any

	if filter != nil {
		if filter.MinRuntimeMS > 0 {
			query += " AND runtime_ms >= ?"
			args = append(args, filter.MinRuntimeMS)
		}
		if filter.User != "" {
			query += " AND user = ?"
			args = append(args, filter.User)
		}
	}
	query += " ORDER BY runtime_ms DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapError(err, core.ErrorTypeStore, "STORE_QUERY_FAILED", "查询慢查询日志失败")
	}
	defer rows.Close()

	var result []*core.SlowQuery
	for rows.Next() {
		q := &core.SlowQuery{}
		if err := rows.Scan(&q.QueryID, &q.QueryText, &q.RuntimeMS, &q.User, &q.Timestamp, &q.BytesProcessed); err != nil {
			return nil, core.WrapError(err, core.ErrorTypeStore, "STORE_SCAN_FAILED", "解析慢查询记录失败")
		}
		result = append(result, q)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(err, core.ErrorTypeStore, "STORE_ROWS_FAILED", "遍历慢查询记录失败")
	}

	if s.logger != nil {
		s.logger.Debug("慢查询日志查询完成", "count", len(result))
	}
	return result, nil
}

// GetQuery 按 ID 获取慢查询记录
func (s *MySQLStore) GetQuery(ctx context.Context, queryID string) (*core.SlowQuery, error) {
	query := fmt.Sprintf(
		"SELECT query_id, query_text, runtime_ms, user, ts, bytes_processed FROM %s WHERE query_id = ?", s.table)

	q := &core.SlowQuery{}
	err := s.db.QueryRowContext(ctx, query, queryID).
		Scan(&q.QueryID, &q.QueryText, &q.RuntimeMS, &q.User, &q.Timestamp, &q.BytesProcessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrQueryNotFound.WithDetails(map[string]any{"query_id": queryID})
	}
	if err != nil {
		return nil, core.WrapError(err, core.ErrorTypeStore, "STORE_QUERY_FAILED", "查询慢查询记录失败")
	}
	return q, nil
}

// Close 关闭数据库连接池
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
