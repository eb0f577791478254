// Package redisstore keeps session tokens in Redis so that several client
// processes can share one session and see each other's refreshes.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

const (
	backendName = "redis"

	// DefaultPrefix namespaces token keys
	DefaultPrefix = "apiclient"

	// DefaultOpTimeout bounds each Redis command issued through the TokenStore interface
	DefaultOpTimeout = 2 * time.Second
)

// Options tunes a TokenStore
type Options struct {
	// Prefix namespaces keys; defaults to DefaultPrefix
	Prefix string
	// TTL expires both keys after inactivity; zero keeps them forever
	TTL    time.Duration
	Logger *slog.Logger
}

// TokenStore keeps one session's tokens under "<prefix>:<session>:access" and
// "<prefix>:<session>:refresh".
type TokenStore struct {
	rdb       redis.UniversalClient
	sessionID string
	prefix    string
	ttl       time.Duration
	timeout   time.Duration
	log       *slog.Logger
}

// NewTokenStore creates a store for sessionID on rdb
func NewTokenStore(rdb redis.UniversalClient, sessionID string, opts Options) *TokenStore {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &TokenStore{
		rdb:       rdb,
		sessionID: sessionID,
		prefix:    opts.Prefix,
		ttl:       opts.TTL,
		timeout:   DefaultOpTimeout,
		log:       logger.Component(opts.Logger, "redis_token_store").With(slog.String("session_id", sessionID)),
	}
}

func (s *TokenStore) accessKey() string {
	return s.prefix + ":" + s.sessionID + ":access"
}

func (s *TokenStore) refreshKey() string {
	return s.prefix + ":" + s.sessionID + ":refresh"
}

// Get reads one key, treating a missing key as empty
func (s *TokenStore) Get(ctx context.Context, key string) (value string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendName, "get", time.Since(start), err)
	}()

	value, err = s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		err = nil
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Set writes one key with the configured TTL
func (s *TokenStore) Set(ctx context.Context, key, value string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendName, "set", time.Since(start), err)
	}()

	if err = s.rdb.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Clear deletes both keys in one command
func (s *TokenStore) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendName, "clear", time.Since(start), err)
	}()

	if err = s.rdb.Del(ctx, s.accessKey(), s.refreshKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// GetToken returns the stored access token, or "" if none or on error
func (s *TokenStore) GetToken() string {
	return s.get(s.accessKey())
}

// GetRefreshToken returns the stored refresh token, or "" if none or on error
func (s *TokenStore) GetRefreshToken() string {
	return s.get(s.refreshKey())
}

// SetToken stores the access token
func (s *TokenStore) SetToken(token string) {
	s.set(s.accessKey(), token)
}

// SetRefreshToken stores the refresh token
func (s *TokenStore) SetRefreshToken(token string) {
	s.set(s.refreshKey(), token)
}

// ClearTokens removes both tokens
func (s *TokenStore) ClearTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.Clear(ctx); err != nil {
		s.log.Error("failed to clear tokens", slog.String("error", err.Error()))
	}
}

func (s *TokenStore) get(key string) string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	value, err := s.Get(ctx, key)
	if err != nil {
		s.log.Error("failed to read token", slog.String("error", err.Error()))
		return ""
	}
	return value
}

func (s *TokenStore) set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.Set(ctx, key, value); err != nil {
		s.log.Error("failed to store token", slog.String("error", err.Error()))
	}
}
