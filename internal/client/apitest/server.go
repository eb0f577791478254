// Package apitest provides a scriptable fake backend for exercising the API
// client: protected routes, a refresh endpoint with call counting, and a
// record of every request the client made.
package apitest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// RefreshPath is where the fake serves token refreshes
const RefreshPath = "/auth/refresh"

// SigningKey signs tokens minted by IssueJWT
var SigningKey = []byte("apitest-signing-key")

// RecordedRequest is a request as the server saw it
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
	ContentType   string
	Body          []byte
}

// RefreshFunc decides the refresh endpoint's answer for a presented refresh token
type RefreshFunc func(refreshToken string) (status int, body any)

// Server is an httptest server routed by gorilla/mux
type Server struct {
	*httptest.Server
	Router *mux.Router

	mu           sync.Mutex
	requests     []RecordedRequest
	refreshCalls int
	refresh      RefreshFunc
	refreshDelay time.Duration
}

// NewServer starts a fake backend that is closed when the test ends.
// Until configured, the refresh endpoint answers 401.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{Router: mux.NewRouter()}
	s.refresh = func(string) (int, any) {
		return http.StatusUnauthorized, map[string]string{"detail": "refresh token invalid"}
	}
	s.Router.Use(s.record)
	s.Router.HandleFunc(RefreshPath, s.handleRefresh).Methods(http.MethodPost)

	s.Server = httptest.NewServer(s.Router)
	t.Cleanup(s.Close)
	return s
}

// Handle registers h for method and path (mux path templates allowed)
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	s.Router.HandleFunc(path, h).Methods(method)
}

// OnRefresh replaces the refresh endpoint's behavior
func (s *Server) OnRefresh(fn RefreshFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = fn
}

// RefreshReturns makes every refresh succeed with the given tokens.
// An empty refreshToken omits the field from the response.
func (s *Server) RefreshReturns(accessToken, refreshToken string) {
	s.OnRefresh(func(string) (int, any) {
		body := map[string]string{"access_token": accessToken}
		if refreshToken != "" {
			body["refresh_token"] = refreshToken
		}
		return http.StatusOK, body
	})
}

// RefreshFails makes every refresh answer with status and a detail message
func (s *Server) RefreshFails(status int) {
	s.OnRefresh(func(string) (int, any) {
		return status, map[string]string{"detail": "refresh token revoked"}
	})
}

// SetRefreshDelay holds each refresh response for d, or until the client gives up
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// RefreshCalls returns how many refresh requests reached the server
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// Requests returns the recorded requests for path, or all of them when path is empty
func (s *Server) Requests(path string) []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RecordedRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if path == "" || r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
			ContentType:   r.Header.Get("Content-Type"),
			Body:          body,
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.refreshCalls++
	fn := s.refresh
	delay := s.refreshDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed refresh request"})
		return
	}

	status, body := fn(req.RefreshToken)
	WriteJSON(w, status, body)
}

// WriteJSON writes v as a JSON response
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// RequireBearer serves next only for "Bearer <valid>"; anything else gets a 401.
// A nil next answers accepted requests with an empty 204.
func RequireBearer(valid string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+valid {
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
			return
		}
		if next == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// IssueJWT mints an HS256 access token for subject that expires after ttl
func IssueJWT(subject string, ttl time.Duration) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString(SigningKey)
	if err != nil {
		panic(err)
	}
	return signed
}
