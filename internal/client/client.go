package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/devilmonastery/apiclient/internal/pkg/idgen"
	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

const (
	// DefaultRotationHeader carries a freshly issued access token on any response
	DefaultRotationHeader = "X-New-Access-Token"

	// DefaultRefreshPath is the refresh endpoint, relative to the base URL
	DefaultRefreshPath = "/auth/refresh"

	// RequestIDHeader correlates a request and its retry
	RequestIDHeader = "X-Request-ID"
)

// Client is the authenticated API client. It attaches the bearer token to
// every request, applies server-side token rotation, and recovers from a 401
// with one coordinated refresh and one retry.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenStore
	events         *EventBus
	refresher      *RefreshCoordinator
	rotationHeader string
	refreshPath    string
	refreshTimeout time.Duration
	log            *slog.Logger
}

// ClientOption represents a functional option for configuring the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client, used for API calls and refreshes.
// The default client uses http.DefaultTransport; wrap it with
// metrics.NewTransport to record per-call metrics.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenStore sets where tokens are persisted. Defaults to memory.
func WithTokenStore(tokens TokenStore) ClientOption {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithEventBus shares a logout bus between clients
func WithEventBus(events *EventBus) ClientOption {
	return func(c *Client) {
		c.events = events
	}
}

// WithRotationHeader changes the response header that carries rotated access tokens
func WithRotationHeader(header string) ClientOption {
	return func(c *Client) {
		c.rotationHeader = header
	}
}

// WithRefreshPath changes the refresh endpoint path
func WithRefreshPath(path string) ClientOption {
	return func(c *Client) {
		c.refreshPath = path
	}
}

// WithRefreshTimeout bounds each refresh call; negative disables the bound
func WithRefreshTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.refreshTimeout = timeout
	}
}

// WithLogger sets the logger used by the client and its collaborators
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new API client with the given base URL and options
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rotationHeader: DefaultRotationHeader,
		refreshPath:    DefaultRefreshPath,
	}

	for _, option := range options {
		option(c)
	}

	parent := c.log
	c.log = logger.Component(parent, "api_client")
	if c.tokens == nil {
		c.tokens = NewMemoryTokenStore()
	}
	if c.events == nil {
		c.events = NewEventBus(parent)
	}
	c.refresher = NewRefreshCoordinator(c.baseURL+c.refreshPath, c.tokens, c.events, RefreshOptions{
		HTTPClient: c.httpClient,
		Timeout:    c.refreshTimeout,
		Logger:     parent,
	})

	return c
}

// BaseURL returns the client's base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the token store
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

// Events returns the logout event bus
func (c *Client) Events() *EventBus {
	return c.events
}

// Refresher returns the refresh coordinator
func (c *Client) Refresher() *RefreshCoordinator {
	return c.refresher
}

// SetTokens stores credentials obtained by a login flow
func (c *Client) SetTokens(accessToken, refreshToken string) {
	c.refresher.startSession(accessToken, refreshToken)
}

// IsAuthenticated reports whether an access token is stored
func (c *Client) IsAuthenticated() bool {
	return c.tokens.GetToken() != ""
}

// Subscribe registers a logout observer; see EventBus.Subscribe
func (c *Client) Subscribe(fn func(LogoutEvent)) (unsubscribe func()) {
	return c.events.Subscribe(fn)
}

// Logout clears the stored credentials and notifies logout observers
// Refreshes and rotations still in flight are not written back afterwards.
func (c *Client) Logout() {
	c.refresher.endSession(LogoutExplicit)
}

// Get performs a GET request and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST request with an optional JSON body
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Put performs a PUT request with an optional JSON body
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Patch performs a PATCH request with an optional JSON body
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends one logical request. A nil body sends no body; a nil out discards
// the response. Empty 2xx bodies (204) leave out untouched.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}

	requestID := idgen.RequestID()
	log := logger.WithRequest(c.log, requestID, method, path)

	epoch := c.refresher.sessionEpoch()
	token := c.tokens.GetToken()
	resp, err := c.send(ctx, method, path, payload, token, requestID, epoch)
	if err != nil {
		log.Warn("request failed", slog.String("error", err.Error()))
		return err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return decodeResponse(resp, out)
	}

	authErr := NormalizeResponse(resp)
	if token == "" {
		log.Debug("unauthenticated request rejected")
		return authErr
	}

	log.Info("token expired, attempting refresh")
	newToken, err := c.refresher.refreshAfter(ctx, token)
	if err != nil {
		log.Warn("refresh did not recover request", slog.String("error", err.Error()))
		authErr.Cause = err
		return authErr
	}

	log.Debug("retrying request with refreshed token",
		slog.String("token_prefix", logger.TokenPreview(newToken)))
	resp, err = c.send(ctx, method, path, payload, newToken, requestID, c.refresher.sessionEpoch())
	if err != nil {
		return err
	}
	// The retry is final: a second 401 is returned as-is, never refreshed again.
	return decodeResponse(resp, out)
}

// send issues one HTTP exchange and applies any rotated access token, as long
// as the session that sent the request is still current.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token, requestID string, epoch uint64) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewNetworkError("request failed", err)
	}

	if rotated := resp.Header.Get(c.rotationHeader); rotated != "" {
		if c.refresher.writeIfCurrent(epoch, func() { c.tokens.SetToken(rotated) }) {
			metrics.SilentRotations.Inc()
			c.log.Debug("access token rotated by server",
				slog.String("request_id", requestID),
				slog.Int("status", resp.StatusCode))
		} else {
			c.log.Debug("ignoring rotated token from an ended session",
				slog.String("request_id", requestID))
		}
	}

	return resp, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return payload, nil
}

// decodeResponse closes resp.Body. Non-2xx responses become a normalized *Error.
func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NormalizeResponse(resp)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewNetworkError("failed to read response", err)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &Error{
			Type:       ErrorTypeDecode,
			Message:    "failed to decode response",
			StatusCode: resp.StatusCode,
			Cause:      err,
		}
	}
	return nil
}
