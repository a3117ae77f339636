package session

import (
	"sync"

	"github.com/google/uuid"

	"netbridge/internal/handler"
	"netbridge/internal/logger"
	"netbridge/pkg/domain"
)

// Session 附加到一个目标的协议会话
type Session struct {
	ID      domain.SessionID
	Target  domain.TargetID
	Network *handler.Handler
}

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[domain.SessionID]*Session),
		log:      l,
	}
}

// NewID 生成会话ID
func NewID() domain.SessionID {
	return domain.SessionID(uuid.NewString())
}

// Add 注册会话
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.log.Info("创建协议会话", "sessionID", string(s.ID), "target", string(s.Target))
}

// Get 获取会话
func (m *Manager) Get(id domain.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove 注销会话并释放网络处理器，返回被移除的会话
func (m *Manager) Remove(id domain.SessionID) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	if s.Network != nil {
		s.Network.Dispose()
	}
	m.log.Info("销毁协议会话", "sessionID", string(id), "target", string(s.Target))
	return s, true
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

// Len 活动会话数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
