package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/storage/badger"
	"github.com/ternarybob/outreach/internal/storage/file"
)

// NewStorageManager opens the Badger storage manager
func NewStorageManager(logger arbor.ILogger, config *common.Config) (*badger.Manager, error) {
	return badger.NewManager(logger, &config.Storage.Badger)
}

// NewCredentialStorage selects the cookie store configured in auth.store
func NewCredentialStorage(logger arbor.ILogger, config *common.Config, manager *badger.Manager) (interfaces.CredentialStorage, error) {
	switch config.Auth.Store {
	case "", "file":
		return file.NewCredentialStorage(config.Auth.CookiesDir, logger)
	case "badger":
		return manager.CredentialStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported auth store: %s (use 'file' or 'badger')", config.Auth.Store)
	}
}
