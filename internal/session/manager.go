// manager.go — 会话注册表 + TTL 回收循环。
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
	"github.com/mathchat/go-chat-v2/pkg/logger"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

// Manager 会话注册表。
type Manager struct {
	ttl        time.Duration
	gcInterval time.Duration
	queueSize  int

	mu       sync.RWMutex
	sessions map[string]*Session

	removeHook func(id string)
}

// SetRemoveHook 注册会话移除回调 (显式 Remove 与 TTL 回收都会触发)。
// 必须在 StartGC 之前调用。
func (m *Manager) SetRemoveHook(fn func(id string)) { m.removeHook = fn }

// NewManager 创建会话注册表。
func NewManager(ttl, gcInterval time.Duration, queueSize int) *Manager {
	return &Manager{
		ttl:        ttl,
		gcInterval: gcInterval,
		queueSize:  queueSize,
		sessions:   make(map[string]*Session),
	}
}

// Create 新建会话。
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.queueSize)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	logger.Info("session: created", logger.FieldSession, s.ID)
	return s
}

// Get 按 ID 查找会话, 未知 ID 返回 ErrNotFound。
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "session.Get", "session %s", id)
	}
	return s, nil
}

// Remove 删除会话。幂等, 删除不存在的 ID 是 no-op。
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		if m.removeHook != nil {
			m.removeHook(id)
		}
		logger.Info("session: removed", logger.FieldSession, id)
	}
}

// Count 当前会话数。
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartGC 启动 TTL 回收循环, ctx 取消时退出。
func (m *Manager) StartGC(ctx context.Context) {
	util.SafeGo(func() {
		ticker := time.NewTicker(m.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	})
}

// sweep 回收超过 TTL 未活跃的会话。有活跃订阅者的会话视为在用。
func (m *Manager) sweep() {
	cutoff := time.Now().UTC().Add(-m.ttl)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.SubscriberCount() == 0 && s.LastActive().Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if m.removeHook != nil {
			m.removeHook(id)
		}
		logger.Info("session: expired", logger.FieldSession, id)
	}
}
