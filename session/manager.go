// Package session 管理用户会话及其查询分析历史。
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Anniext/bqlens/core"
	"github.com/google/uuid"
)

// maxSessionHistory 单个会话保留的分析记录上限，超过后丢弃最早的记录。
const maxSessionHistory = 100

// Manager 会话管理器，实现 core.SessionManager 接口。
// sessions：内存中的会话表。
// mutex：读写锁。
// ttl：会话生存时间。
// cache：可选的缓存后端，用于跨实例恢复会话。
// logger：日志记录器。
// metrics：指标收集器。
type Manager struct {
	sessions      map[string]*core.SessionMemory // 会话表
	mutex         sync.RWMutex                   // 读写锁
	ttl           time.Duration                  // 会话生存时间
	cache         core.CacheManager              // 缓存后端
	logger        core.Logger                    // 日志记录器
	metrics       core.MetricsCollector          // 指标收集器
	cleanupTicker *time.Ticker                   // 清理定时器
	stopCleanup   chan struct{}                  // 停止信号
	stopOnce      sync.Once                      // 停止保护
}

// NewManager 创建会话管理器并启动后台清理协程。
// cache 和 metrics 可以为 nil，此时会话只保存在内存中。
func NewManager(ttl time.Duration, cache core.CacheManager, logger core.Logger, metrics core.MetricsCollector) *Manager {
	if ttl <= 0 {
		ttl = core.DefaultSessionTTL
	}

	m := &Manager{
		sessions:    make(map[string]*core.SessionMemory),
		ttl:         ttl,
		cache:       cache,
		logger:      logger,
		metrics:     metrics,
		stopCleanup: make(chan struct{}),
	}

	m.cleanupTicker = time.NewTicker(ttl / 4)
	go m.cleanupLoop()

	return m
}

// CreateSession 为指定用户创建新会话。
func (m *Manager) CreateSession(ctx context.Context, userID string) (*core.SessionMemory, error) {
	if userID == "" {
		return nil, core.NewBQError(core.ErrorTypeValidation, "INVALID_USER_ID", "用户ID不能为空")
	}

	now := time.Now()
	session := &core.SessionMemory{
		SessionID:    uuid.New().String(),
		UserID:       userID,
		History:      make([]*core.AnalysisRecord, 0),
		CreatedAt:    now,
		LastAccessed: now,
	}

	m.mutex.Lock()
	m.sessions[session.SessionID] = session
	m.mutex.Unlock()

	m.persistSession(ctx, session)

	if m.logger != nil {
		m.logger.Info("会话已创建", "session_id", session.SessionID, "user_id", userID)
	}
	if m.metrics != nil {
		m.metrics.IncrementCounter("session_created", map[string]string{})
		m.metrics.SetGauge("active_sessions", float64(m.GetSessionCount()), nil)
	}

	return session, nil
}

// GetSession 获取会话并刷新最后访问时间。
// 内存中不存在时尝试从缓存恢复；已过期的会话视为不存在。
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*core.SessionMemory, error) {
	m.mutex.RLock()
	session, exists := m.sessions[sessionID]
	m.mutex.RUnlock()

	if !exists {
		restored, err := m.restoreSession(ctx, sessionID)
		if err != nil {
			return nil, core.ErrSessionNotFound.WithDetails(map[string]any{
				"session_id": sessionID,
			})
		}
		session = restored
	}

	if time.Since(session.LastAccessed) > m.ttl {
		m.mutex.Lock()
		delete(m.sessions, sessionID)
		m.mutex.Unlock()
		m.dropCached(ctx, sessionID)

		return nil, core.ErrSessionNotFound.WithDetails(map[string]any{
			"session_id": sessionID,
			"reason":     "expired",
		})
	}

	m.mutex.Lock()
	session.LastAccessed = time.Now()
	m.mutex.Unlock()

	return session, nil
}

// AppendHistory 向会话追加一条分析记录。
// 历史超过上限时丢弃最早的记录。
func (m *Manager) AppendHistory(ctx context.Context, sessionID string, record *core.AnalysisRecord) error {
	if record == nil {
		return core.NewBQError(core.ErrorTypeValidation, "INVALID_RECORD", "分析记录不能为空")
	}

	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	m.mutex.Lock()
	session.History = append(session.History, record)
	if len(session.History) > maxSessionHistory {
		session.History = session.History[len(session.History)-maxSessionHistory:]
	}
	session.LastAccessed = time.Now()
	m.mutex.Unlock()

	m.persistSession(ctx, session)

	if m.metrics != nil {
		m.metrics.IncrementCounter("session_history_appended", map[string]string{})
	}

	return nil
}

// DeleteSession 删除会话。
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mutex.Lock()
	_, exists := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mutex.Unlock()

	m.dropCached(ctx, sessionID)

	if !exists {
		return core.ErrSessionNotFound.WithDetails(map[string]any{
			"session_id": sessionID,
		})
	}

	if m.logger != nil {
		m.logger.Info("会话已删除", "session_id", sessionID)
	}
	if m.metrics != nil {
		m.metrics.SetGauge("active_sessions", float64(m.GetSessionCount()), nil)
	}

	return nil
}

// CleanupExpiredSessions 清理所有过期会话。
func (m *Manager) CleanupExpiredSessions(ctx context.Context) error {
	now := time.Now()
	expired := make([]string, 0)

	m.mutex.Lock()
	for id, session := range m.sessions {
		if now.Sub(session.LastAccessed) > m.ttl {
			delete(m.sessions, id)
			expired = append(expired, id)
		}
	}
	remaining := len(m.sessions)
	m.mutex.Unlock()

	for _, id := range expired {
		m.dropCached(ctx, id)
	}

	if len(expired) > 0 && m.logger != nil {
		m.logger.Info("过期会话已清理", "expired_count", len(expired), "remaining", remaining)
	}
	if m.metrics != nil {
		m.metrics.SetGauge("active_sessions", float64(remaining), nil)
	}

	return nil
}

// ListUserSessions 列出指定用户的全部活跃会话。
func (m *Manager) ListUserSessions(userID string) []*core.SessionMemory {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	sessions := make([]*core.SessionMemory, 0)
	for _, session := range m.sessions {
		if session.UserID == userID && time.Since(session.LastAccessed) <= m.ttl {
			sessions = append(sessions, session)
		}
	}

	return sessions
}

// GetSessionCount 返回当前内存中的会话数量。
func (m *Manager) GetSessionCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Stop 停止后台清理协程。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cleanupTicker.Stop()
		close(m.stopCleanup)
	})
}

func (m *Manager) cleanupLoop() {
	for {
		select {
		case <-m.cleanupTicker.C:
			if err := m.CleanupExpiredSessions(context.Background()); err != nil && m.logger != nil {
				m.logger.Warn("会话清理失败", "error", err.Error())
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// persistSession 将会话写入缓存，缓存不可用时只记录日志。
func (m *Manager) persistSession(ctx context.Context, session *core.SessionMemory) {
	if m.cache == nil {
		return
	}

	m.mutex.RLock()
	data, err := json.Marshal(session)
	m.mutex.RUnlock()
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("会话序列化失败", "session_id", session.SessionID, "error", err.Error())
		}
		return
	}

	if err := m.cache.Set(ctx, sessionCacheKey(session.SessionID), data, m.ttl); err != nil && m.logger != nil {
		m.logger.Warn("会话持久化失败", "session_id", session.SessionID, "error", err.Error())
	}
}

// restoreSession 从缓存恢复会话并放回内存。
func (m *Manager) restoreSession(ctx context.Context, sessionID string) (*core.SessionMemory, error) {
	if m.cache == nil {
		return nil, core.ErrSessionNotFound
	}

	value, err := m.cache.Get(ctx, sessionCacheKey(sessionID))
	if err != nil {
		return nil, err
	}

	data, ok := value.([]byte)
	if !ok {
		return nil, core.NewBQError(core.ErrorTypeCache, "INVALID_SESSION_DATA", "缓存中的会话数据类型无效")
	}

	var session core.SessionMemory
	if err := json.Unmarshal(data, &session); err != nil {
		m.dropCached(ctx, sessionID)
		return nil, core.WrapError(err, core.ErrorTypeCache, "SESSION_DECODE_FAILED", "会话数据解析失败")
	}

	m.mutex.Lock()
	m.sessions[sessionID] = &session
	m.mutex.Unlock()

	if m.logger != nil {
		m.logger.Debug("会话已从缓存恢复", "session_id", sessionID)
	}

	return &session, nil
}

func (m *Manager) dropCached(ctx context.Context, sessionID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, sessionCacheKey(sessionID)); err != nil && m.logger != nil {
		m.logger.Debug("会话缓存删除失败", "session_id", sessionID, "error", err.Error())
	}
}

func sessionCacheKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
