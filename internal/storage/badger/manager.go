package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
)

// Manager owns the Badger connection and the storages built on it
type Manager struct {
	db          *BadgerDB
	documents   *DocumentStore
	credentials *CredentialStorage
	logger      arbor.ILogger
}

// NewManager opens the database and creates the storages
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		documents:   NewDocumentStore(db, logger),
		credentials: NewCredentialStorage(db, logger),
		logger:      logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// DB returns the shared connection, used by the job queues
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// DocumentStore returns the document store
func (m *Manager) DocumentStore() interfaces.DocumentStore {
	return m.documents
}

// CredentialStorage returns the Badger-backed credential store
func (m *Manager) CredentialStorage() interfaces.CredentialStorage {
	return m.credentials
}

// Close closes the database connection
func (m *Manager) Close() error {
	m.logger.Info().Msg("Closing Badger storage")
	return m.db.Close()
}
