package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Anniext/bqlens/core"
)

// memoryEntry 内存缓存条目
type memoryEntry struct {
	data       []byte    // 序列化后的值
	expiresAt  time.Time // 过期时间
	lastAccess time.Time // 最近访问时间，用于淘汰
}

// MemoryCache 内存缓存实现，带 TTL 过期和条目数上限淘汰
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	maxEntries int           // 条目数上限，0 表示不限制
	logger     core.Logger   // 日志记录器
	stopCh     chan struct{} // 清理协程停止信号
	stopOnce   sync.Once
}

// NewMemoryCache 创建内存缓存并启动过期清理协程
func NewMemoryCache(maxEntries int, logger core.Logger) *MemoryCache {
	cache := &MemoryCache{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
	go cache.cleanupLoop()
	return cache
}

// Get 获取缓存值，过期或缺失返回未找到错误
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, core.ErrCacheKeyNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, core.ErrCacheKeyNotFound
	}

	entry.lastAccess = time.Now()
	return entry.data, nil
}

// Set 设置缓存值，超出条目上限时淘汰最久未访问的条目
func (m *MemoryCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		if _, exists := m.entries[key]; !exists {
			m.evictOldest()
		}
	}

	now := time.Now()
	m.entries[key] = &memoryEntry{
		data:       data,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
	return nil
}

// Delete 删除缓存键
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		return core.ErrCacheKeyNotFound
	}
	delete(m.entries, key)
	return nil
}

// Clear 清空全部缓存
func (m *MemoryCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	return nil
}

// Size 返回当前条目数
func (m *MemoryCache) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close 停止清理协程
func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	return nil
}

// evictOldest 淘汰最久未访问的条目，调用方需持有写锁
func (m *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range m.entries {
		if oldestKey == "" || entry.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccess
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

// cleanupLoop 定期移除过期条目
func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.removeExpired()
		}
	}
}

// removeExpired 移除所有过期条目
func (m *MemoryCache) removeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}
