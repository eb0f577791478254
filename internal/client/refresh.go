package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

// RefreshState is the coordinator's observable state
type RefreshState int32

const (
	StateIdle RefreshState = iota
	StateRefreshing
)

func (s RefreshState) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// DefaultRefreshTimeout bounds a refresh network call when no timeout is configured.
const DefaultRefreshTimeout = 30 * time.Second

const refreshFlightKey = "refresh"

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshOptions tunes a RefreshCoordinator
type RefreshOptions struct {
	// HTTPClient performs the refresh call. Defaults to a 30s-timeout client.
	HTTPClient *http.Client
	// Timeout bounds each refresh call. Zero means DefaultRefreshTimeout,
	// negative disables the bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// RefreshCoordinator makes sure at most one refresh call is in flight. Every
// caller that arrives while a refresh is running waits for that same call and
// observes the same outcome.
type RefreshCoordinator struct {
	endpoint   string
	tokens     TokenStore
	events     *EventBus
	httpClient *http.Client
	timeout    time.Duration
	group      singleflight.Group
	state      atomic.Int32
	log        *slog.Logger

	// mu serializes token writes against session changes. epoch advances on
	// every login and logout; a write tagged with an older epoch is dropped.
	mu    sync.Mutex
	epoch uint64
}

// NewRefreshCoordinator creates a coordinator that exchanges the stored refresh
// token at endpoint (a full URL) and reports terminal failures on events.
func NewRefreshCoordinator(endpoint string, tokens TokenStore, events *EventBus, opts RefreshOptions) *RefreshCoordinator {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	switch {
	case opts.Timeout == 0:
		opts.Timeout = DefaultRefreshTimeout
	case opts.Timeout < 0:
		opts.Timeout = 0
	}

	return &RefreshCoordinator{
		endpoint:   endpoint,
		tokens:     tokens,
		events:     events,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		log:        logger.Component(opts.Logger, "refresh_coordinator"),
	}
}

// State reports whether a refresh is currently in flight
func (r *RefreshCoordinator) State() RefreshState {
	return RefreshState(r.state.Load())
}

// Refresh exchanges the stored refresh token for a new access token, joining
// the in-flight refresh if there is one.
func (r *RefreshCoordinator) Refresh(ctx context.Context) (string, error) {
	return r.refreshAfter(ctx, "")
}

// refreshAfter is Refresh for a caller whose request was rejected while
// carrying failedToken. If the store already holds a different access token,
// someone else refreshed or rotated meanwhile and no network call is made.
func (r *RefreshCoordinator) refreshAfter(ctx context.Context, failedToken string) (string, error) {
	metrics.RefreshWaiters.Inc()
	defer metrics.RefreshWaiters.Dec()

	// The flight outlives any single waiter; it is bounded by r.timeout instead.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(refreshFlightKey, func() (interface{}, error) {
		r.state.Store(int32(StateRefreshing))
		defer r.state.Store(int32(StateIdle))
		return r.run(flightCtx, failedToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *RefreshCoordinator) run(ctx context.Context, failedToken string) (string, error) {
	epoch := r.sessionEpoch()
	if failedToken != "" {
		if current := r.tokens.GetToken(); current != failedToken {
			if current == "" {
				metrics.RecordTokenRefresh("skipped", 0)
				return "", ErrSessionEnded
			}
			r.log.Debug("access token already replaced, skipping refresh",
				slog.String("token_prefix", logger.TokenPreview(current)))
			metrics.RecordTokenRefresh("skipped", 0)
			return current, nil
		}
	}

	refreshToken := r.tokens.GetRefreshToken()
	if refreshToken == "" {
		r.log.Warn("no refresh token available, ending session")
		metrics.RecordTokenRefresh("no_refresh_token", 0)
		r.terminate(epoch, LogoutNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.exchange(ctx, refreshToken)
	duration := time.Since(start)
	if err != nil {
		r.log.Error("token refresh failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", duration))
		metrics.RecordTokenRefresh("failure", duration)
		r.terminate(epoch, LogoutRefreshFailed)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	stored := r.writeIfCurrent(epoch, func() {
		r.tokens.SetToken(resp.AccessToken)
		// A response without a refresh token keeps the stored one.
		if resp.RefreshToken != "" {
			r.tokens.SetRefreshToken(resp.RefreshToken)
		}
	})
	if !stored {
		r.log.Info("session changed during refresh, discarding refreshed tokens")
		metrics.RecordTokenRefresh("discarded", duration)
		if current := r.tokens.GetToken(); current != "" {
			return current, nil
		}
		return "", ErrSessionEnded
	}

	metrics.RecordTokenRefresh("success", duration)
	r.log.Info("successfully refreshed token",
		slog.Bool("refresh_token_rotated", resp.RefreshToken != ""),
		slog.Duration("duration", duration))
	return resp.AccessToken, nil
}

// exchange performs the refresh network call
func (r *RefreshCoordinator) exchange(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, NewNetworkError("refresh request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NormalizeResponse(resp)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewNetworkError("failed to read refresh response", err)
	}

	var tokenResp refreshResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("refresh response has no access_token")
	}

	return &tokenResp, nil
}

// sessionEpoch identifies the current session
func (r *RefreshCoordinator) sessionEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// writeIfCurrent runs write only while epoch is still the current session
func (r *RefreshCoordinator) writeIfCurrent(epoch uint64, write func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return false
	}
	write()
	return true
}

// startSession stores a freshly issued token pair. Writes still pending from
// the previous session are dropped.
func (r *RefreshCoordinator) startSession(accessToken, refreshToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.tokens.SetToken(accessToken)
	r.tokens.SetRefreshToken(refreshToken)
}

// endSession clears both tokens, then tells observers once
func (r *RefreshCoordinator) endSession(reason LogoutReason) {
	r.mu.Lock()
	r.epoch++
	r.tokens.ClearTokens()
	r.mu.Unlock()

	if r.events != nil {
		r.events.NotifyLogout(reason)
	}
}

// terminate ends the session identified by epoch. A session that was already
// replaced or ended is left alone and nobody is notified again.
func (r *RefreshCoordinator) terminate(epoch uint64, reason LogoutReason) {
	r.mu.Lock()
	if epoch != r.epoch {
		r.mu.Unlock()
		r.log.Debug("session already changed, not ending it again", slog.String("reason", string(reason)))
		return
	}
	r.epoch++
	r.tokens.ClearTokens()
	r.mu.Unlock()

	if r.events != nil {
		r.events.NotifyLogout(reason)
	}
}
