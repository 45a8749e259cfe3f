package session

import (
	"sync"
	"time"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/background"
)

// SessionCreatedCallback is called when a new editor is opened.
type SessionCreatedCallback func(session *Session) error

// SessionDestroyedCallback is called after an editor is closed.
type SessionDestroyedCallback func(session *Session)

// Manager manages all open editors. An artifact has at most one editor.
type Manager struct {
	sessions           map[string]*Session
	byArtifact         map[string]string // artifact ID -> session ID
	sessionTimeout     time.Duration
	historyLimit       int
	layer              *background.Layer
	onSessionCreated   SessionCreatedCallback
	onSessionDestroyed SessionDestroyedCallback
	mu                 sync.RWMutex
}

// NewManager creates a new session manager.
func NewManager(sessionTimeout time.Duration, historyLimit int, layer *background.Layer) *Manager {
	return &Manager{
		sessions:       make(map[string]*Session),
		byArtifact:     make(map[string]string),
		sessionTimeout: sessionTimeout,
		historyLimit:   historyLimit,
		layer:          layer,
	}
}

// SetOnSessionCreated sets a callback called when a session is created.
func (m *Manager) SetOnSessionCreated(callback SessionCreatedCallback) {
	m.onSessionCreated = callback
}

// SetOnSessionDestroyed sets a callback called when a session is destroyed.
func (m *Manager) SetOnSessionDestroyed(callback SessionDestroyedCallback) {
	m.onSessionDestroyed = callback
}

// Open returns the editor for a, creating it if needed. created reports
// whether a new editor was opened.
func (m *Manager) Open(a *artifact.Artifact) (session *Session, created bool, err error) {
	m.mu.Lock()
	if id, ok := m.byArtifact[a.ID]; ok {
		s := m.sessions[id]
		m.mu.Unlock()
		s.Touch()
		return s, false, nil
	}
	session = NewSession(GenerateSessionID(), a, m.historyLimit, m.layer)
	m.sessions[session.ID] = session
	m.byArtifact[a.ID] = session.ID
	m.mu.Unlock()

	if m.onSessionCreated != nil {
		if err := m.onSessionCreated(session); err != nil {
			m.mu.Lock()
			delete(m.sessions, session.ID)
			delete(m.byArtifact, a.ID)
			m.mu.Unlock()
			session.Close()
			return nil, false, err
		}
	}
	return session, true, nil
}

// GetSession retrieves a session by ID.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Get retrieves a session by ID. Returns nil if not found.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// ForArtifact returns the open editor on an artifact, or nil.
func (m *Manager) ForArtifact(artifactID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.byArtifact[artifactID]; ok {
		return m.sessions[id]
	}
	return nil
}

// DestroySession closes a session and forgets it.
func (m *Manager) DestroySession(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, id)
	if m.byArtifact[session.ArtifactID()] == id {
		delete(m.byArtifact, session.ArtifactID())
	}
	m.mu.Unlock()

	session.Close()
	if m.onSessionDestroyed != nil {
		m.onSessionDestroyed(session)
	}
	return nil
}

// CloseArtifact closes the editor on an artifact, if any.
func (m *Manager) CloseArtifact(artifactID string) {
	if s := m.ForArtifact(artifactID); s != nil {
		m.DestroySession(s.ID)
	}
}

// SessionExists checks if a session ID is valid.
func (m *Manager) SessionExists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// GetAllSessions returns all sessions.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CleanupInactiveSessions removes idle sessions with no connection past the timeout.
func (m *Manager) CleanupInactiveSessions() int {
	if m.sessionTimeout == 0 {
		return 0 // Never cleanup
	}

	m.mu.RLock()
	cutoff := time.Now().Add(-m.sessionTimeout)
	var toRemove []string

	for id, session := range m.sessions {
		if session.GetConnectionCount() == 0 && session.GetLastActivity().Before(cutoff) {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range toRemove {
		m.DestroySession(id)
	}

	return len(toRemove)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	for _, s := range m.GetAllSessions() {
		m.DestroySession(s.ID)
	}
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
