package session

import (
	"fmt"
	"sync"

	"github.com/hebbarp/ahoy/pkg/model"
)

// Manager is the node's username-to-session table. It is the router's local
// delivery target; entries exist exactly from Open to Close.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Open creates, registers, and tracks a session for a user. At most one
// session per username may exist on a node.
func (m *Manager) Open(username string, sink Sink, dir Directory, router Messenger) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[username]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, username)
	}
	s, err := New(username, sink, dir, router)
	if err != nil {
		return nil, err
	}
	m.sessions[username] = s
	return s, nil
}

// Close terminates and forgets a user's session. Unknown users are a no-op.
func (m *Manager) Close(username string) {
	m.mu.Lock()
	s, ok := m.sessions[username]
	delete(m.sessions, username)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll terminates every session, replicating each departure.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Get returns a user's session, or nil.
func (m *Manager) Get(username string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[username]
}

// Deliver hands a message to a user's session. Reports false when the user
// has no session on this node.
func (m *Manager) Deliver(username string, msg model.Message) bool {
	s := m.Get(username)
	if s == nil {
		return false
	}
	s.Deliver(msg)
	return true
}

// NotifyAll delivers a message to every local session, used for node-wide
// system notices.
func (m *Manager) NotifyAll(msg model.Message) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Deliver(msg)
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
