package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/apiclient/internal/client"
	"github.com/devilmonastery/apiclient/internal/config"
)

var _ client.TokenStore = (*FileTokenStore)(nil)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileTokenStore(t *testing.T) {
	home := isolate(t)

	store, err := NewFileTokenStore("prod", quiet())
	require.NoError(t, err)
	assert.Empty(t, store.GetToken())

	store.SetToken("access")
	store.SetRefreshToken("refresh")
	store.SetToken("access-2")
	assert.Equal(t, "access-2", store.GetToken())
	assert.Equal(t, "refresh", store.GetRefreshToken())

	path := filepath.Join(home, ".config", "apiclient", "credentials-prod.json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	other, err := NewFileTokenStore("dev", quiet())
	require.NoError(t, err)
	assert.Empty(t, other.GetToken(), "contexts do not share credentials")

	store.ClearTokens()
	assert.Empty(t, store.GetToken())
	assert.NoFileExists(t, path)
	assert.NotPanics(t, store.ClearTokens)
}

func TestFileTokenStore_CorruptFileReadsEmpty(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "apiclient")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials-x.json"), []byte("{"), 0o600))

	store, err := NewFileTokenStore("x", quiet())
	require.NoError(t, err)
	assert.Empty(t, store.GetToken())

	store.SetToken("recovered")
	assert.Equal(t, "recovered", store.GetToken())
}

func TestOpenTokenStore(t *testing.T) {
	isolate(t)
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  config.TokenStoreConfig
	}{
		{"memory", config.TokenStoreConfig{Backend: config.BackendMemory}},
		{"file", config.TokenStoreConfig{Backend: config.BackendFile}},
		{"sql", config.TokenStoreConfig{
			Backend: config.BackendSQL,
			SQL:     config.SQLConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "tokens.db")},
		}},
		{"redis", config.TokenStoreConfig{
			Backend: config.BackendRedis,
			Redis:   config.RedisConfig{Addr: mr.Addr(), Prefix: "test"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closeStore, err := openTokenStore(tt.cfg, "ctx", quiet())
			require.NoError(t, err)
			defer func() { assert.NoError(t, closeStore()) }()

			store.SetToken("a")
			store.SetRefreshToken("r")
			assert.Equal(t, "a", store.GetToken())
			assert.Equal(t, "r", store.GetRefreshToken())
			store.ClearTokens()
			assert.Empty(t, store.GetToken())
		})
	}

	assert.False(t, mr.Exists("test:ctx:access"))

	_, _, err := openTokenStore(config.TokenStoreConfig{Backend: "etcd"}, "ctx", quiet())
	assert.Error(t, err)
}
