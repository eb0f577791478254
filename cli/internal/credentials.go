package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

// errNotLoggedIn is returned when no credentials file exists
var errNotLoggedIn = errors.New("not logged in")

// Credentials stores the authentication credentials
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FileTokenStore implements client.TokenStore on a per-context credentials file
type FileTokenStore struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
}

// NewFileTokenStore creates a token store for the named CLI context
func NewFileTokenStore(contextName string, log *slog.Logger) (*FileTokenStore, error) {
	path, err := credentialsPath(contextName)
	if err != nil {
		return nil, err
	}
	return &FileTokenStore{
		path: path,
		log:  logger.Component(log, "cli_token_store").With(slog.String("path", path)),
	}, nil
}

// GetToken returns the current access token from file
func (f *FileTokenStore) GetToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load().AccessToken
}

// GetRefreshToken returns the current refresh token from file
func (f *FileTokenStore) GetRefreshToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load().RefreshToken
}

// SetToken saves the access token, keeping the stored refresh token
func (f *FileTokenStore) SetToken(token string) {
	f.update(func(c *Credentials) { c.AccessToken = token })
}

// SetRefreshToken saves the refresh token, keeping the stored access token
func (f *FileTokenStore) SetRefreshToken(token string) {
	f.update(func(c *Credentials) { c.RefreshToken = token })
}

// ClearTokens removes the credentials file
func (f *FileTokenStore) ClearTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	err := removeCredentials(f.path)
	metrics.RecordStoreOperation("file", "clear", time.Since(start), err)
	if err != nil {
		f.log.Error("failed to remove credentials", slog.String("error", err.Error()))
	}
}

// load reads the file; a missing or unreadable file reads as empty. Callers hold f.mu.
func (f *FileTokenStore) load() *Credentials {
	start := time.Now()
	creds, err := loadCredentials(f.path)
	if errors.Is(err, errNotLoggedIn) {
		metrics.RecordStoreOperation("file", "load", time.Since(start), nil)
		return &Credentials{}
	}
	metrics.RecordStoreOperation("file", "load", time.Since(start), err)
	if err != nil {
		f.log.Warn("failed to load credentials", slog.String("error", err.Error()))
		return &Credentials{}
	}
	return creds
}

func (f *FileTokenStore) update(mutate func(*Credentials)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	creds := f.load()
	mutate(creds)
	creds.UpdatedAt = time.Now().UTC()

	start := time.Now()
	err := saveCredentials(f.path, creds)
	metrics.RecordStoreOperation("file", "save", time.Since(start), err)
	if err != nil {
		f.log.Error("failed to save credentials", slog.String("error", err.Error()))
		return
	}
	f.log.Debug("credentials saved", slog.String("token_prefix", logger.TokenPreview(creds.AccessToken)))
}

// credentialsPath returns the path to the credentials file for a context
func credentialsPath(contextName string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "apiclient")
	filename := fmt.Sprintf("credentials-%s.json", contextName)
	return filepath.Join(configDir, filename), nil
}

// saveCredentials saves credentials to disk
func saveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves half a file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	return nil
}

// loadCredentials loads credentials from disk
func loadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotLoggedIn
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return &creds, nil
}

// removeCredentials removes the credentials file
func removeCredentials(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}
