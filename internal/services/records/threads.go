package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// ThreadStore keeps MessageThreads/{botId}_{threadId} documents
type ThreadStore struct {
	store  interfaces.DocumentStore
	logger arbor.ILogger
	mu     sync.Mutex
}

var _ interfaces.ThreadRepository = (*ThreadStore)(nil)

func NewThreadStore(store interfaces.DocumentStore, logger arbor.ILogger) *ThreadStore {
	return &ThreadStore{store: store, logger: logger}
}

func (s *ThreadStore) ListThreads(ctx context.Context, botID string) ([]models.Thread, error) {
	docs, err := s.store.QueryPrefix(ctx, MessageThreadsCollection, botID+"_")
	if err != nil {
		return nil, fmt.Errorf("failed to list threads for %s: %w", botID, err)
	}

	threads := make([]models.Thread, 0, len(docs))
	for _, doc := range docs {
		var t models.Thread
		if err := decodeInto(doc.Fields, &t); err != nil {
			s.logger.Warn().Err(err).Str("doc", doc.ID).Msg("Skipping malformed thread record")
			continue
		}
		if t.ID == "" {
			t.ID = strings.TrimPrefix(doc.ID, botID+"_")
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// GetThread returns nil, nil when the thread is not stored
func (s *ThreadStore) GetThread(ctx context.Context, botID, threadID string) (*models.Thread, error) {
	fields, err := s.store.Get(ctx, MessageThreadsCollection, models.ThreadDocID(botID, threadID))
	if errors.Is(err, interfaces.ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t models.Thread
	if err := decodeInto(fields, &t); err != nil {
		return nil, fmt.Errorf("failed to decode thread %s: %w", threadID, err)
	}
	if t.ID == "" {
		t.ID = threadID
	}
	return &t, nil
}

// CreateThreads stores newly discovered threads. Threads already stored are left untouched.
func (s *ThreadStore) CreateThreads(ctx context.Context, botID string, threads []models.Thread) error {
	if len(threads) == 0 {
		return nil
	}
	existing, err := s.existingIDs(ctx, botID)
	if err != nil {
		return err
	}

	ops := make([]interfaces.WriteOp, 0, len(threads))
	for _, t := range threads {
		docID := models.ThreadDocID(botID, t.ID)
		if existing[docID] {
			continue
		}
		existing[docID] = true
		ops = append(ops, interfaces.WriteOp{
			Type:       interfaces.WriteSet,
			Collection: MessageThreadsCollection,
			ID:         docID,
			Fields: map[string]interface{}{
				"Id":               t.ID,
				"name":             t.Name,
				"matchedProfileId": t.MatchedProfileID,
				"createdAt":        interfaces.ServerTimestamp,
			},
		})
	}
	if len(ops) == 0 {
		return nil
	}
	if err := s.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("failed to create threads for %s: %w", botID, err)
	}
	s.logger.Debug().Str("bot", botID).Int("created", len(ops)).Msg("Threads created")
	return nil
}

func (s *ThreadStore) existingIDs(ctx context.Context, botID string) (map[string]bool, error) {
	docs, err := s.store.QueryPrefix(ctx, MessageThreadsCollection, botID+"_")
	if err != nil {
		return nil, fmt.Errorf("failed to list threads for %s: %w", botID, err)
	}
	ids := make(map[string]bool, len(docs))
	for _, d := range docs {
		ids[d.ID] = true
	}
	return ids, nil
}

// RecordMessages stores newly observed messages and flags the threads for processing.
// Updates without messages are skipped and lastChecked never moves backwards.
func (s *ThreadStore) RecordMessages(ctx context.Context, botID string, updates []models.ThreadUpdate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ops []interfaces.WriteOp
	for _, u := range updates {
		if len(u.Messages) == 0 {
			continue
		}
		docID := models.ThreadDocID(botID, u.ThreadID)
		current, err := s.store.Get(ctx, MessageThreadsCollection, docID)
		if errors.Is(err, interfaces.ErrDocumentNotFound) {
			s.logger.Debug().Str("thread", u.ThreadID).Msg("Thread not stored, skipping messages")
			continue
		}
		if err != nil {
			return 0, err
		}

		checked := u.CheckedAt.UTC()
		if prev := parseTime(current["lastChecked"]); prev.After(checked) {
			checked = prev
		}
		ops = append(ops, interfaces.WriteOp{
			Type:       interfaces.WriteUpdate,
			Collection: MessageThreadsCollection,
			ID:         docID,
			Fields: map[string]interface{}{
				"lastMessages": u.Messages,
				"lastChecked":  checked,
				"process":      true,
			},
		})
	}
	if len(ops) == 0 {
		return 0, nil
	}
	if err := s.store.Batch(ctx, ops); err != nil {
		return 0, fmt.Errorf("failed to record messages for %s: %w", botID, err)
	}
	return len(ops), nil
}

// MarkReplied records that jobID replied to the thread. It returns false when the
// thread is unknown or the same job already replied.
func (s *ThreadStore) MarkReplied(ctx context.Context, botID, threadID, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID := models.ThreadDocID(botID, threadID)
	current, err := s.store.Get(ctx, MessageThreadsCollection, docID)
	if errors.Is(err, interfaces.ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if last, _ := current["lastReplyJobId"].(string); last == jobID {
		return false, nil
	}

	err = s.store.Update(ctx, MessageThreadsCollection, docID, map[string]interface{}{
		"lastReplyJobId": jobID,
		"lastRepliedAt":  interfaces.ServerTimestamp,
		"process":        false,
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark thread %s replied: %w", threadID, err)
	}
	return true, nil
}
