package speech

import (
	"errors"
	"strings"
	"sync"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

// SessionManager 跟踪仍在进行中的会话，服务关闭时统一释放
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionManager 创建会话管理器
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add 登记会话，同 ID 的旧会话会被关闭
func (m *SessionManager) Add(session *Session) {
	m.mu.Lock()
	old, exists := m.sessions[session.ID()]
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	if exists && old != session {
		old.Close()
	}
}

// Get 查找会话
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	return session, ok
}

// Remove 移除会话（不关闭）
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len 活动会话数量
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll 关闭全部会话
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, session := range m.sessions {
		sessions = append(sessions, session)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}

const opConnect = "connect"

// IsRetryableError 判断错误是否值得由调用方重试：仅限握手阶段未收到 HTTP 响应的连接失败。
// 连接建立后的中断不重试，此时音频可能已发送，重放会重复计费
func IsRetryableError(err error) bool {
	var e *evaluation.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == evaluation.KindConnect && e.Code == 0 && strings.HasPrefix(e.Op, opConnect)
}
