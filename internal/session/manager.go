package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

// Manager holds the authenticated session. It is created once per process and
// passed explicitly to whatever needs the token or the current user.
type Manager struct {
	store ports.Storage
	now   func() time.Time

	mu      sync.RWMutex
	current domain.Session
}

func NewManager(store ports.Storage) *Manager {
	return &Manager{store: store, now: time.Now}
}

var _ ports.TokenSource = (*Manager)(nil)

// Restore loads a persisted session. An expired or empty one counts as absent.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	s, err := m.store.LoadSession(ctx)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if !s.Valid(m.now()) {
		if s.Token != "" {
			slog.Info("⚠️ Saved session expired", "user", s.User.Email)
			_ = m.store.ClearSession(ctx)
		}
		return false, nil
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return true, nil
}

// Begin installs a fresh session after login and persists it.
func (m *Manager) Begin(ctx context.Context, s domain.Session) error {
	if s.Token == "" {
		return domain.ErrNotAuthenticated
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return nil
}

// End forgets the session in memory and in storage.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	m.current = domain.Session{}
	m.mu.Unlock()
	return m.store.ClearSession(ctx)
}

func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.current.Valid(m.now()) {
		return ""
	}
	return m.current.Token
}

func (m *Manager) CurrentUser() (domain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.current.Valid(m.now()) {
		return domain.User{}, false
	}
	return m.current.User, true
}

func (m *Manager) Authenticated() bool {
	return m.Token() != ""
}
