package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// CredentialStorage keeps one JSON cookie file per account: <dir>/<account>.json.
// The file holds the plain cookie list so it can be exchanged with browser tooling.
type CredentialStorage struct {
	dir    string
	mu     sync.Mutex
	logger arbor.ILogger
}

// NewCredentialStorage creates a file store rooted at dir
func NewCredentialStorage(dir string, logger arbor.ILogger) (*CredentialStorage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cookies directory: %w", err)
	}
	return &CredentialStorage{dir: dir, logger: logger}, nil
}

var _ interfaces.CredentialStorage = (*CredentialStorage)(nil)

func (s *CredentialStorage) path(accountID string) string {
	return filepath.Join(s.dir, unsafeChars.ReplaceAllString(accountID, "_")+".json")
}

func (s *CredentialStorage) Load(ctx context.Context, accountID string) (*models.CredentialBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(accountID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrCredentialsNotFound, accountID)
		}
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var cookies []models.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("cookie file %s is not a cookie list: %w", path, err)
	}

	bundle := &models.CredentialBundle{AccountID: accountID, Cookies: cookies}
	if info, err := os.Stat(path); err == nil {
		bundle.SavedAt = info.ModTime()
	}
	return bundle, nil
}

// Save replaces the account's cookie file atomically
func (s *CredentialStorage) Save(ctx context.Context, bundle *models.CredentialBundle) error {
	if bundle.AccountID == "" {
		return fmt.Errorf("credentials account id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(bundle.Cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	path := s.path(bundle.AccountID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace cookie file: %w", err)
	}

	if bundle.SavedAt.IsZero() {
		bundle.SavedAt = time.Now()
	}
	s.logger.Debug().
		Str("account", bundle.AccountID).
		Int("cookies", len(bundle.Cookies)).
		Str("path", path).
		Msg("Cookies saved")
	return nil
}

func (s *CredentialStorage) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(accountID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete cookie file: %w", err)
	}
	return nil
}
