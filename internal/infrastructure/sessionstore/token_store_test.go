package sessionstore

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/apiclient/internal/client"
	"github.com/devilmonastery/apiclient/internal/client/apitest"
)

var _ client.TokenStore = (*TokenStore)(nil)

var (
	testHashKey  = []byte("0123456789abcdef0123456789abcdef")
	testBlockKey = []byte("fedcba9876543210fedcba9876543210")
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFrontend serves a browser-facing app that calls api on the user's behalf
func newFrontend(t *testing.T, api *apitest.Server) (*httptest.Server, *http.Client) {
	t.Helper()
	manager := NewManager(testHashKey, testBlockKey, Options{})

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		store := NewTokenStore(manager, r, w, quiet())
		store.SetToken(r.URL.Query().Get("access"))
		store.SetRefreshToken(r.URL.Query().Get("refresh"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		store := NewTokenStore(manager, r, w, quiet())
		c := client.NewClient(api.URL,
			client.WithHTTPClient(api.Client()),
			client.WithTokenStore(store),
			client.WithLogger(quiet()))

		var profile map[string]string
		if err := c.Get(r.Context(), "/me", &profile); err != nil {
			http.Error(w, err.Error(), client.StatusCode(err))
			return
		}
		_, _ = io.WriteString(w, profile["name"])
	})
	mux.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		store := NewTokenStore(manager, r, w, quiet())
		_, _ = io.WriteString(w, store.GetToken()+"|"+store.GetRefreshToken())
	})

	frontend := httptest.NewServer(mux)
	t.Cleanup(frontend.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return frontend, &http.Client{Jar: jar}
}

func fetch(t *testing.T, browser *http.Client, url string) (int, string) {
	t.Helper()
	resp, err := browser.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTokenStore_CookieRoundTrip(t *testing.T) {
	api := apitest.NewServer(t)
	frontend, browser := newFrontend(t, api)

	status, _ := fetch(t, browser, frontend.URL+"/login?access=a1&refresh=r1")
	require.Equal(t, http.StatusNoContent, status)

	_, body := fetch(t, browser, frontend.URL+"/whoami")
	assert.Equal(t, "a1|r1", body)
}

func TestTokenStore_RefreshPersistsToCookie(t *testing.T) {
	api := apitest.NewServer(t)
	api.RefreshReturns("new", "r2")
	api.Handle(http.MethodGet, "/me", apitest.RequireBearer("new", func(w http.ResponseWriter, r *http.Request) {
		apitest.WriteJSON(w, http.StatusOK, map[string]string{"name": "Ada"})
	}))
	frontend, browser := newFrontend(t, api)

	fetch(t, browser, frontend.URL+"/login?access=old&refresh=r1")

	status, body := fetch(t, browser, frontend.URL+"/profile")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ada", body)

	_, body = fetch(t, browser, frontend.URL+"/whoami")
	assert.Equal(t, "new|r2", body)
	assert.Equal(t, 1, api.RefreshCalls())
}

func TestTokenStore_FailedRefreshExpiresCookie(t *testing.T) {
	api := apitest.NewServer(t)
	api.RefreshFails(http.StatusUnauthorized)
	api.Handle(http.MethodGet, "/me", apitest.RequireBearer("new", nil))
	frontend, browser := newFrontend(t, api)

	fetch(t, browser, frontend.URL+"/login?access=old&refresh=r1")

	status, _ := fetch(t, browser, frontend.URL+"/profile")
	assert.Equal(t, http.StatusUnauthorized, status)

	_, body := fetch(t, browser, frontend.URL+"/whoami")
	assert.Equal(t, "|", body)
}

func TestManager_TamperedCookieStartsFresh(t *testing.T) {
	manager := NewManager(testHashKey, testBlockKey, Options{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionName, Value: "not-a-valid-session"})

	assert.Empty(t, manager.Get(r, AccessTokenKey))

	w := httptest.NewRecorder()
	require.NoError(t, manager.Set(r, w, AccessTokenKey, "a1"))
	assert.NotEmpty(t, w.Result().Cookies())
}

func TestManager_SetAfterClearKeepsCookie(t *testing.T) {
	manager := NewManager(testHashKey, testBlockKey, Options{MaxAge: 3600})
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	cleared := httptest.NewRecorder()
	require.NoError(t, manager.Clear(r, cleared))
	require.NotEmpty(t, cleared.Result().Cookies())
	assert.Negative(t, cleared.Result().Cookies()[0].MaxAge)

	w := httptest.NewRecorder()
	require.NoError(t, manager.Set(r, w, AccessTokenKey, "a2"))
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, SessionName, cookies[0].Name)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.Equal(t, "a2", manager.Get(r, AccessTokenKey))
}
