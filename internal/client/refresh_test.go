package client

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/apiclient/internal/client/apitest"
)

type refreshFixture struct {
	srv    *apitest.Server
	tokens *MemoryTokenStore
	events *EventBus
	coord  *RefreshCoordinator

	mu      sync.Mutex
	reasons []LogoutReason
}

func newRefreshFixture(t *testing.T, timeout time.Duration) *refreshFixture {
	t.Helper()
	f := &refreshFixture{
		srv:    apitest.NewServer(t),
		tokens: NewMemoryTokenStore(),
		events: NewEventBus(quietLogger()),
	}
	f.coord = NewRefreshCoordinator(f.srv.URL+apitest.RefreshPath, f.tokens, f.events, RefreshOptions{
		HTTPClient: f.srv.Client(),
		Timeout:    timeout,
		Logger:     quietLogger(),
	})
	t.Cleanup(f.events.Subscribe(func(e LogoutEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.reasons = append(f.reasons, e.Reason)
	}))
	return f
}

func (f *refreshFixture) logouts() []LogoutReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LogoutReason(nil), f.reasons...)
}

func TestRefreshCoordinator_Success(t *testing.T) {
	f := newRefreshFixture(t, 0)
	f.srv.OnRefresh(func(refreshToken string) (int, any) {
		if refreshToken != "r1" {
			return http.StatusUnauthorized, map[string]string{"detail": "unknown refresh token"}
		}
		return http.StatusOK, map[string]string{"access_token": "new", "refresh_token": "r2"}
	})
	f.tokens.SetToken("old")
	f.tokens.SetRefreshToken("r1")

	token, err := f.coord.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Equal(t, "new", f.tokens.GetToken())
	assert.Equal(t, "r2", f.tokens.GetRefreshToken())
	assert.Equal(t, StateIdle, f.coord.State())
	assert.Empty(t, f.logouts())
}

func TestRefreshCoordinator_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	f := newRefreshFixture(t, 0)
	f.srv.RefreshReturns("new", "")
	f.tokens.SetRefreshToken("r1")

	_, err := f.coord.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", f.tokens.GetRefreshToken())
}

func TestRefreshCoordinator_StateDuringFlight(t *testing.T) {
	f := newRefreshFixture(t, 0)
	f.srv.RefreshReturns("new", "")
	f.srv.SetRefreshDelay(200 * time.Millisecond)
	f.tokens.SetRefreshToken("r1")

	assert.Equal(t, StateIdle, f.coord.State())

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Refresh(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.coord.State() == StateRefreshing
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "refreshing", f.coord.State().String())

	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, f.coord.State())
}

func TestRefreshCoordinator_JoinersShareOutcome(t *testing.T) {
	f := newRefreshFixture(t, 0)
	f.srv.RefreshReturns("new", "")
	f.srv.SetRefreshDelay(100 * time.Millisecond)
	f.tokens.SetToken("old")
	f.tokens.SetRefreshToken("r1")

	const n = 5
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := f.coord.refreshAfter(context.Background(), "old")
			assert.NoError(t, err)
			results[i] = token
		}(i)
	}
	wg.Wait()

	for _, token := range results {
		assert.Equal(t, "new", token)
	}
	assert.Equal(t, 1, f.srv.RefreshCalls())
}

func TestRefreshCoordinator_StaleTokenSkipsNetwork(t *testing.T) {
	f := newRefreshFixture(t, 0)
	f.srv.RefreshReturns("newer", "")
	f.tokens.SetToken("new")
	f.tokens.SetRefreshToken("r1")

	token, err := f.coord.refreshAfter(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Zero(t, f.srv.RefreshCalls())
}

func TestRefreshCoordinator_SessionAlreadyEnded(t *testing.T) {
	f := newRefreshFixture(t, 0)

	_, err := f.coord.refreshAfter(context.Background(), "old")
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.Zero(t, f.srv.RefreshCalls())
	assert.Empty(t, f.logouts(), "the session that ended already notified")
}

func TestRefreshCoordinator_NoRefreshToken(t *testing.T) {
	f := newRefreshFixture(t, 0)
	f.tokens.SetToken("old")

	_, err := f.coord.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, f.srv.RefreshCalls())
	assert.Empty(t, f.tokens.GetToken())
	assert.Equal(t, []LogoutReason{LogoutNoRefreshToken}, f.logouts())
}

func TestRefreshCoordinator_Failures(t *testing.T) {
	tests := []struct {
		name    string
		respond apitest.RefreshFunc
		wantMsg string
	}{
		{
			name: "rejected",
			respond: func(string) (int, any) {
				return http.StatusUnauthorized, map[string]string{"detail": "refresh token revoked"}
			},
			wantMsg: "refresh token revoked",
		},
		{
			name: "server error",
			respond: func(string) (int, any) {
				return http.StatusInternalServerError, nil
			},
			wantMsg: "500 Internal Server Error",
		},
		{
			name: "missing access token",
			respond: func(string) (int, any) {
				return http.StatusOK, map[string]string{"refresh_token": "r2"}
			},
			wantMsg: "no access_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRefreshFixture(t, 0)
			f.srv.OnRefresh(tt.respond)
			f.tokens.SetToken("old")
			f.tokens.SetRefreshToken("r1")

			_, err := f.coord.Refresh(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRefreshFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)

			assert.Empty(t, f.tokens.GetToken())
			assert.Empty(t, f.tokens.GetRefreshToken())
			assert.Equal(t, []LogoutReason{LogoutRefreshFailed}, f.logouts())
		})
	}
}

func TestRefreshCoordinator_TimeoutEndsSession(t *testing.T) {
	f := newRefreshFixture(t, 50*time.Millisecond)
	f.srv.RefreshReturns("new", "")
	f.srv.SetRefreshDelay(5 * time.Second)
	f.tokens.SetToken("old")
	f.tokens.SetRefreshToken("r1")

	start := time.Now()
	_, err := f.coord.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.True(t, IsNetworkError(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Empty(t, f.tokens.GetToken())
	assert.Equal(t, []LogoutReason{LogoutRefreshFailed}, f.logouts())
}

func TestRefreshCoordinator_TimeoutOptions(t *testing.T) {
	tokens := NewMemoryTokenStore()

	c := NewRefreshCoordinator("http://api.invalid/auth/refresh", tokens, nil, RefreshOptions{})
	assert.Equal(t, DefaultRefreshTimeout, c.timeout)

	c = NewRefreshCoordinator("http://api.invalid/auth/refresh", tokens, nil, RefreshOptions{Timeout: -1})
	assert.Zero(t, c.timeout)

	c = NewRefreshCoordinator("http://api.invalid/auth/refresh", tokens, nil, RefreshOptions{Timeout: time.Second})
	assert.Equal(t, time.Second, c.timeout)
}

func TestRefreshCoordinator_FailureAfterLogoutNotifiesOnce(t *testing.T) {
	f := newRefreshFixture(t, 0)
	f.srv.RefreshFails(http.StatusUnauthorized)
	f.srv.SetRefreshDelay(200 * time.Millisecond)
	f.tokens.SetToken("old")
	f.tokens.SetRefreshToken("r1")

	errc := make(chan error, 1)
	go func() {
		_, err := f.coord.Refresh(context.Background())
		errc <- err
	}()

	require.Eventually(t, func() bool {
		return f.srv.RefreshCalls() == 1
	}, 2*time.Second, 5*time.Millisecond)
	f.coord.endSession(LogoutExplicit)

	assert.ErrorIs(t, <-errc, ErrRefreshFailed)
	assert.Equal(t, []LogoutReason{LogoutExplicit}, f.logouts())
	assert.Empty(t, f.tokens.GetToken())
}

func TestRefreshCoordinator_StartSessionDropsPendingWrite(t *testing.T) {
	f := newRefreshFixture(t, 0)
	f.srv.RefreshReturns("new", "new-r")
	f.srv.SetRefreshDelay(200 * time.Millisecond)
	f.tokens.SetToken("old")
	f.tokens.SetRefreshToken("r1")

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		token, err := f.coord.Refresh(context.Background())
		done <- result{token, err}
	}()

	require.Eventually(t, func() bool {
		return f.srv.RefreshCalls() == 1
	}, 2*time.Second, 5*time.Millisecond)
	f.coord.startSession("fresh", "r9")

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "fresh", res.token)
	assert.Equal(t, "fresh", f.tokens.GetToken())
	assert.Equal(t, "r9", f.tokens.GetRefreshToken())
	assert.Empty(t, f.logouts())
}
