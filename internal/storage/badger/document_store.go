package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/outreach/internal/interfaces"
)

// documentRecord is the badgerhold representation of one document
type documentRecord struct {
	Key        string `badgerhold:"key"`
	Collection string `badgerhold:"index"`
	DocID      string
	Data       []byte
	UpdatedAt  time.Time
}

// DocumentStore implements interfaces.DocumentStore on badgerhold
type DocumentStore struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewDocumentStore creates a document store on db
func NewDocumentStore(db *BadgerDB, logger arbor.ILogger) *DocumentStore {
	return &DocumentStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

var _ interfaces.DocumentStore = (*DocumentStore)(nil)

func documentKey(collection, id string) string {
	return collection + "\x00" + id
}

// Get returns the fields of a document
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	var rec documentRecord
	if err := s.db.Store().Get(documentKey(collection, id), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrDocumentNotFound, collection, id)
		}
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}
	return decodeFields(rec.Data)
}

// Set creates or replaces a document
func (s *DocumentStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return s.Batch(ctx, []interfaces.WriteOp{{Type: interfaces.WriteSet, Collection: collection, ID: id, Fields: fields}})
}

// Update merges top-level fields into an existing document
func (s *DocumentStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return s.Batch(ctx, []interfaces.WriteOp{{Type: interfaces.WriteUpdate, Collection: collection, ID: id, Fields: fields}})
}

// Delete removes a document; deleting a missing document is not an error
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.db.Store().Delete(documentKey(collection, id), &documentRecord{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// QueryPrefix returns the documents of collection whose id starts with prefix, ordered by id
func (s *DocumentStore) QueryPrefix(ctx context.Context, collection, prefix string) ([]interfaces.Document, error) {
	var records []documentRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("Collection").Eq(collection)); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	docs := make([]interfaces.Document, 0, len(records))
	for _, rec := range records {
		if !strings.HasPrefix(rec.DocID, prefix) {
			continue
		}
		fields, err := decodeFields(rec.Data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, interfaces.Document{Collection: collection, ID: rec.DocID, Fields: fields})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Batch applies every write in one badger transaction
func (s *DocumentStore) Batch(ctx context.Context, ops []interfaces.WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	now := s.now().UTC()
	store := s.db.Store()

	err := store.Badger().Update(func(tx *badger.Txn) error {
		for _, op := range ops {
			key := documentKey(op.Collection, op.ID)
			fields := resolveTimestamps(op.Fields, now).(map[string]interface{})

			switch op.Type {
			case interfaces.WriteSet:
			case interfaces.WriteUpdate:
				var existing documentRecord
				if err := store.TxGet(tx, key, &existing); err != nil {
					if errors.Is(err, badgerhold.ErrNotFound) {
						return fmt.Errorf("%w: %s/%s", interfaces.ErrDocumentNotFound, op.Collection, op.ID)
					}
					return err
				}
				current, err := decodeFields(existing.Data)
				if err != nil {
					return err
				}
				for k, v := range fields {
					current[k] = v
				}
				fields = current
			default:
				return fmt.Errorf("unknown write type %q", op.Type)
			}

			data, err := json.Marshal(fields)
			if err != nil {
				return fmt.Errorf("failed to encode document %s/%s: %w", op.Collection, op.ID, err)
			}
			rec := &documentRecord{
				Key:        key,
				Collection: op.Collection,
				DocID:      op.ID,
				Data:       data,
				UpdatedAt:  now,
			}
			if err := store.TxUpsert(tx, key, rec); err != nil {
				return fmt.Errorf("failed to write document %s/%s: %w", op.Collection, op.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Trace().Int("writes", len(ops)).Msg("Document batch committed")
	return nil
}

func decodeFields(data []byte) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return fields, nil
}

// resolveTimestamps replaces every ServerTimestamp sentinel with now
func resolveTimestamps(v interface{}, now time.Time) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = resolveTimestamps(item, now)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveTimestamps(item, now)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveTimestamps(item, now)
		}
		return out
	default:
		if v == interfaces.ServerTimestamp {
			return now
		}
		return v
	}
}
