package oauth2

import (
	"context"
	"fmt"
	"sync"
)

// Manager holds the configured providers by name.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewManager() *Manager {
	return &Manager{providers: make(map[string]Provider)}
}

func (m *Manager) AddProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
}

func (m *Manager) GetProvider(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// AuthCodeURL returns the provider's consent URL carrying state.
func (m *Manager) AuthCodeURL(name, state string) (string, error) {
	p, err := m.GetProvider(name)
	if err != nil {
		return "", err
	}
	return p.Config().AuthCodeURL(state), nil
}

// Authenticate exchanges code and fetches the user's profile. Every failure
// wraps ErrExchangeFailed.
func (m *Manager) Authenticate(ctx context.Context, name, code string) (*UserInfo, error) {
	p, err := m.GetProvider(name)
	if err != nil {
		return nil, err
	}

	tok, err := p.Config().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %v", ErrExchangeFailed, err)
	}
	info, err := p.GetUserInfo(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	return info, nil
}
