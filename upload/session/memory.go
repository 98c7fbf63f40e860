package session

import (
	"context"
	"sync"

	"github.com/sensorsync/go-collector-sync/upload"
)

// Memory is a SessionRegistry that forgets its sessions on restart.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]upload.Session
}

var _ upload.SessionRegistry = (*Memory)(nil)

// NewMemory ...
func NewMemory() *Memory {
	return &Memory{sessions: map[string]upload.Session{}}
}

// Get ...
func (m *Memory) Get(ctx context.Context, id upload.Identifier) (*upload.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id.String()]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Register ...
func (m *Memory) Register(ctx context.Context, s upload.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID.String()]; ok {
		return upload.ErrDuplicateSession
	}
	m.sessions[s.ID.String()] = s
	return nil
}

// Update ...
func (m *Memory) Update(ctx context.Context, s upload.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID.String()] = s
	return nil
}

// Remove ...
func (m *Memory) Remove(ctx context.Context, id upload.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id.String())
	return nil
}

// Len returns the number of open sessions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
