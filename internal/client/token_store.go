package client

import "sync"

// TokenStore persists the current access token and refresh token.
// Different implementations can store tokens in memory, files, sessions, databases, etc.
// An empty string means the token is absent. Implementations must be safe for
// concurrent use and must not validate or interpret the tokens.
type TokenStore interface {
	// GetToken returns the current access token
	GetToken() string

	// SetToken replaces the access token
	SetToken(token string)

	// GetRefreshToken returns the current refresh token
	GetRefreshToken() string

	// SetRefreshToken replaces the refresh token
	SetRefreshToken(token string)

	// ClearTokens removes both tokens in one step
	ClearTokens()
}

// MemoryTokenStore keeps tokens for the lifetime of the process.
type MemoryTokenStore struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// NewMemoryTokenStore creates an empty in-memory store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) GetToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

func (m *MemoryTokenStore) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = token
}

func (m *MemoryTokenStore) GetRefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken
}

func (m *MemoryTokenStore) SetRefreshToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = token
}

func (m *MemoryTokenStore) ClearTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = ""
	m.refreshToken = ""
}
