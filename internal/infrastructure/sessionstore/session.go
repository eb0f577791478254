// Package sessionstore keeps tokens in an encrypted browser cookie, for
// backend-for-frontend servers that call an API on behalf of a browser user.
package sessionstore

import (
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	// SessionName is the name of the session cookie
	SessionName = "apiclient_session"

	// AccessTokenKey is the session key for the access token
	AccessTokenKey = "access_token"

	// RefreshTokenKey is the session key for the refresh token
	RefreshTokenKey = "refresh_token"

	defaultMaxAge = 30 * 24 * 60 * 60
)

// Options configures the session cookie
type Options struct {
	// MaxAge in seconds; defaults to 30 days
	MaxAge int
	// Secure restricts the cookie to HTTPS
	Secure bool
}

// Manager wraps gorilla/sessions for token storage
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a new session manager.
// hashKey authenticates the cookie; blockKey (16, 24 or 32 bytes) encrypts it.
func NewManager(hashKey, blockKey []byte, opts Options) *Manager {
	store := sessions.NewCookieStore(hashKey, blockKey)

	if opts.MaxAge == 0 {
		opts.MaxAge = defaultMaxAge
	}
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   opts.MaxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{store: store}
}

// session returns the request's session. A cookie that cannot be decoded
// yields an empty new session, which the registry then reuses for the request.
func (m *Manager) session(r *http.Request) *sessions.Session {
	session, _ := m.store.Get(r, SessionName)
	if session == nil {
		session = sessions.NewSession(m.store, SessionName)
		opts := *m.store.Options
		session.Options = &opts
		session.IsNew = true
	}
	return session
}

// Get returns one value from the session, or "" if absent
func (m *Manager) Get(r *http.Request, key string) string {
	value, _ := m.session(r).Values[key].(string)
	return value
}

// Set stores one value and writes the updated cookie
func (m *Manager) Set(r *http.Request, w http.ResponseWriter, key, value string) error {
	session := m.session(r)
	session.Values[key] = value
	// Undo an earlier Clear in the same request.
	session.Options.MaxAge = m.store.Options.MaxAge
	return session.Save(r, w)
}

// Clear expires the session cookie (logout)
func (m *Manager) Clear(r *http.Request, w http.ResponseWriter) error {
	session := m.session(r)
	delete(session.Values, AccessTokenKey)
	delete(session.Values, RefreshTokenKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
