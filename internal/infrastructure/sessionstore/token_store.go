package sessionstore

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

const backendName = "cookie"

// TokenStore adapts one request/response exchange to client.TokenStore.
// It must be created per request, and every write must happen before the
// handler writes its response status.
type TokenStore struct {
	manager *Manager
	request *http.Request
	writer  http.ResponseWriter
	log     *slog.Logger
}

// NewTokenStore creates a token store bound to r and w
func NewTokenStore(manager *Manager, r *http.Request, w http.ResponseWriter, log *slog.Logger) *TokenStore {
	return &TokenStore{
		manager: manager,
		request: r,
		writer:  w,
		log:     logger.Component(log, "cookie_token_store"),
	}
}

// GetToken returns the access token from the session
func (s *TokenStore) GetToken() string {
	return s.manager.Get(s.request, AccessTokenKey)
}

// GetRefreshToken returns the refresh token from the session
func (s *TokenStore) GetRefreshToken() string {
	return s.manager.Get(s.request, RefreshTokenKey)
}

// SetToken saves the access token to the session
func (s *TokenStore) SetToken(token string) {
	s.set(AccessTokenKey, token)
}

// SetRefreshToken saves the refresh token to the session
func (s *TokenStore) SetRefreshToken(token string) {
	s.set(RefreshTokenKey, token)
}

// ClearTokens expires the session cookie
func (s *TokenStore) ClearTokens() {
	start := time.Now()
	err := s.manager.Clear(s.request, s.writer)
	metrics.RecordStoreOperation(backendName, "clear", time.Since(start), err)
	if err != nil {
		s.log.Error("failed to clear session", slog.String("error", err.Error()))
	}
}

func (s *TokenStore) set(key, value string) {
	start := time.Now()
	err := s.manager.Set(s.request, s.writer, key, value)
	metrics.RecordStoreOperation(backendName, "set", time.Since(start), err)
	if err != nil {
		s.log.Error("failed to save session", slog.String("key", key), slog.String("error", err.Error()))
	}
}
