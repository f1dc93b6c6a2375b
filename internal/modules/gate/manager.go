package gate

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Manager owns at most one session per principal.
type Manager struct {
	deps Deps
	cfg  Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("gate")
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Ensure returns the principal's session, starting one if needed.
func (m *Manager) Ensure(ctx context.Context, principal string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[principal]; ok {
		return s, nil
	}
	s := newSession(principal, m.deps, m.cfg)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	m.sessions[principal] = s
	return s, nil
}

// Get returns the principal's session if one is running.
func (m *Manager) Get(principal string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[principal]
	return s, ok
}

// Teardown stops and forgets the principal's session. A second call for the
// same principal is a no-op.
func (m *Manager) Teardown(principal string) {
	m.mu.Lock()
	s, ok := m.sessions[principal]
	if ok {
		delete(m.sessions, principal)
	}
	m.mu.Unlock()
	if ok {
		s.Teardown()
	}
}

// TeardownAll stops every session, used on shutdown.
func (m *Manager) TeardownAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for p, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, p)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Teardown()
	}
}
