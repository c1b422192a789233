package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// CredentialStorage implements the CredentialStorage interface for Badger
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) *CredentialStorage {
	return &CredentialStorage{
		db:     db,
		logger: logger,
	}
}

var _ interfaces.CredentialStorage = (*CredentialStorage)(nil)

func (s *CredentialStorage) Load(ctx context.Context, accountID string) (*models.CredentialBundle, error) {
	var bundle models.CredentialBundle
	if err := s.db.Store().Get(accountID, &bundle); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrCredentialsNotFound, accountID)
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &bundle, nil
}

// Save replaces the stored bundle of the account wholesale
func (s *CredentialStorage) Save(ctx context.Context, bundle *models.CredentialBundle) error {
	if bundle.AccountID == "" {
		return fmt.Errorf("credentials account id is required")
	}
	if bundle.SavedAt.IsZero() {
		bundle.SavedAt = time.Now()
	}

	if err := s.db.Store().Upsert(bundle.AccountID, bundle); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	s.logger.Debug().
		Str("account", bundle.AccountID).
		Int("cookies", len(bundle.Cookies)).
		Msg("Credential bundle stored")
	return nil
}

func (s *CredentialStorage) Delete(ctx context.Context, accountID string) error {
	if err := s.db.Store().Delete(accountID, &models.CredentialBundle{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
