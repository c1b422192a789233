package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/outreach/internal/models"
)

// ErrDocumentNotFound is returned when a document does not exist
var ErrDocumentNotFound = errors.New("document not found")

// ErrCredentialsNotFound is returned when an account has no stored credential bundle
var ErrCredentialsNotFound = errors.New("credentials not found")

type serverTimestamp struct{}

// ServerTimestamp is a field value replaced with the store's clock at write time
var ServerTimestamp = serverTimestamp{}

// Document is one stored record
type Document struct {
	Collection string
	ID         string
	Fields     map[string]interface{}
}

// WriteOpType selects how a batched write applies its fields
type WriteOpType string

const (
	WriteSet    WriteOpType = "set"    // Replace the document
	WriteUpdate WriteOpType = "update" // Merge top-level fields into an existing document
)

// WriteOp is one write of a batch
type WriteOp struct {
	Type       WriteOpType
	Collection string
	ID         string
	Fields     map[string]interface{}
}

// DocumentStore is a generic document database with single-document atomic writes
// and multi-document batches. There is no atomicity across batches.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (map[string]interface{}, error)
	Set(ctx context.Context, collection, id string, fields map[string]interface{}) error
	Update(ctx context.Context, collection, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, collection, id string) error
	QueryPrefix(ctx context.Context, collection, prefix string) ([]Document, error)
	Batch(ctx context.Context, ops []WriteOp) error
}

// CredentialStorage persists one credential bundle per account
type CredentialStorage interface {
	Load(ctx context.Context, accountID string) (*models.CredentialBundle, error)
	Save(ctx context.Context, bundle *models.CredentialBundle) error
	Delete(ctx context.Context, accountID string) error
}

// ProfileRepository reads and reconciles the profiles owned by one account, whatever
// the record layout.
type ProfileRepository interface {
	Layout() models.ProfileLayout
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	// Reconcile merges the owned fields of each update into the stored profiles and
	// writes once. It returns the number of profiles that changed.
	Reconcile(ctx context.Context, batch models.ProfileBatch) (int, error)
}

// ThreadRepository stores the conversations discovered for one bot
type ThreadRepository interface {
	ListThreads(ctx context.Context, botID string) ([]models.Thread, error)
	GetThread(ctx context.Context, botID, threadID string) (*models.Thread, error)
	CreateThreads(ctx context.Context, botID string, threads []models.Thread) error
	RecordMessages(ctx context.Context, botID string, updates []models.ThreadUpdate) (int, error)
	MarkReplied(ctx context.Context, botID, threadID, jobID string) (bool, error)
}
