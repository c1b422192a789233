package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// Service implements EventService with a pub/sub pattern
type Service struct {
	subscribers map[string]interfaces.JobEventHandler
	mu          sync.RWMutex
	closed      bool
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[string]interfaces.JobEventHandler),
		logger:      logger,
	}
}

var _ interfaces.EventService = (*Service)(nil)

// Subscribe registers a handler for every job event
func (s *Service) Subscribe(handler interfaces.JobEventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.subscribers[id] = handler

	s.logger.Debug().
		Str("subscriber_id", id).
		Int("subscriber_count", len(s.subscribers)).
		Msg("Event handler subscribed")

	return id, nil
}

// Unsubscribe removes a handler
func (s *Service) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[id]; !ok {
		return fmt.Errorf("subscriber not found: %s", id)
	}
	delete(s.subscribers, id)
	return nil
}

// Publish sends an event to all subscribers asynchronously
func (s *Service) Publish(ctx context.Context, event models.JobEvent) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	handlers := make([]interfaces.JobEventHandler, 0, len(s.subscribers))
	for _, h := range s.subscribers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, handler := range handlers {
		h := handler
		common.SafeGo(s.logger, "publishJobEvent", func() {
			if err := h(ctx, event); err != nil {
				s.logger.Warn().
					Err(err).
					Str("event_type", string(event.Type)).
					Str("job_id", event.JobID).
					Msg("Event handler failed")
			}
		})
	}

	return nil
}

// Close drops every subscriber and ignores later publishes
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.subscribers = make(map[string]interfaces.JobEventHandler)
	s.logger.Info().Msg("Event service closed")
	return nil
}
