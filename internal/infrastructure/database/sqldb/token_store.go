package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

const backendName = "sql"

// DefaultOpTimeout bounds each statement issued through the TokenStore interface
const DefaultOpTimeout = 5 * time.Second

// TokenStore keeps one session's tokens in the session_tokens table.
// Several processes sharing a session id share its tokens.
type TokenStore struct {
	db        *sqlx.DB
	sessionID string
	timeout   time.Duration
	log       *slog.Logger
}

// NewTokenStore creates a store for sessionID. The schema must already be migrated.
func NewTokenStore(db *sqlx.DB, sessionID string, log *slog.Logger) *TokenStore {
	return &TokenStore{
		db:        db,
		sessionID: sessionID,
		timeout:   DefaultOpTimeout,
		log:       logger.Component(log, "sql_token_store").With(slog.String("session_id", sessionID)),
	}
}

// sessionRow represents a session as stored in the database
type sessionRow struct {
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
}

// Load reads both tokens. A missing row yields empty tokens.
func (s *TokenStore) Load(ctx context.Context) (accessToken, refreshToken string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendName, "load", time.Since(start), err)
	}()

	var row sessionRow
	query := s.db.Rebind(`SELECT access_token, refresh_token FROM session_tokens WHERE session_id = ?`)
	err = s.db.GetContext(ctx, &row, query, s.sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load session tokens: %w", err)
	}
	return row.AccessToken, row.RefreshToken, nil
}

// Save upserts one token column, leaving the other untouched
func (s *TokenStore) Save(ctx context.Context, column, value string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendName, "save_"+column, time.Since(start), err)
	}()

	if column != "access_token" && column != "refresh_token" {
		return fmt.Errorf("unknown token column %q", column)
	}

	query := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO session_tokens (session_id, %[1]s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`, column))

	if _, err = s.db.ExecContext(ctx, query, s.sessionID, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save %s: %w", column, err)
	}
	return nil
}

// Clear deletes the session row
func (s *TokenStore) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendName, "clear", time.Since(start), err)
	}()

	query := s.db.Rebind(`DELETE FROM session_tokens WHERE session_id = ?`)
	if _, err = s.db.ExecContext(ctx, query, s.sessionID); err != nil {
		return fmt.Errorf("failed to clear session tokens: %w", err)
	}
	return nil
}

// GetToken returns the stored access token, or "" if none or on error
func (s *TokenStore) GetToken() string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	access, _, err := s.Load(ctx)
	if err != nil {
		s.log.Error("failed to read access token", slog.String("error", err.Error()))
		return ""
	}
	return access
}

// GetRefreshToken returns the stored refresh token, or "" if none or on error
func (s *TokenStore) GetRefreshToken() string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, refresh, err := s.Load(ctx)
	if err != nil {
		s.log.Error("failed to read refresh token", slog.String("error", err.Error()))
		return ""
	}
	return refresh
}

// SetToken stores the access token
func (s *TokenStore) SetToken(token string) {
	s.set("access_token", token)
}

// SetRefreshToken stores the refresh token
func (s *TokenStore) SetRefreshToken(token string) {
	s.set("refresh_token", token)
}

// ClearTokens removes both tokens
func (s *TokenStore) ClearTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.Clear(ctx); err != nil {
		s.log.Error("failed to clear tokens", slog.String("error", err.Error()))
	}
}

func (s *TokenStore) set(column, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.Save(ctx, column, value); err != nil {
		s.log.Error("failed to store token", slog.String("column", column), slog.String("error", err.Error()))
	}
}
