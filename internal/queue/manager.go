package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
)

// Manager owns one queue and worker pool per job kind
type Manager struct {
	db     *badger.DB
	config Config
	events interfaces.EventService
	logger arbor.ILogger

	mu     sync.RWMutex
	queues map[string]*BadgerQueue
	pools  map[string]*WorkerPool
}

// NewManager creates a queue manager on db
func NewManager(db *badger.DB, config Config, events interfaces.EventService, logger arbor.ILogger) *Manager {
	return &Manager{
		db:     db,
		config: config,
		events: events,
		logger: logger,
		queues: make(map[string]*BadgerQueue),
		pools:  make(map[string]*WorkerPool),
	}
}

// Register creates the queue for kind and registers handler for job name
func (m *Manager) Register(kind, jobName string, handler JobHandler) (*BadgerQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[kind]
	if !ok {
		var err error
		q, err = NewBadgerQueue(m.db, kind, m.config, m.events, m.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s queue: %w", kind, err)
		}
		m.queues[kind] = q
		m.pools[kind] = NewWorkerPool(q, m.logger)
	}
	m.pools[kind].RegisterHandler(jobName, handler)
	return q, nil
}

// Queue returns the queue for kind
func (m *Manager) Queue(kind string) (*BadgerQueue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[kind]
	return q, ok
}

// Kinds returns the registered kinds in name order
func (m *Manager) Kinds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := make([]string, 0, len(m.queues))
	for k := range m.queues {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Start starts every worker pool
func (m *Manager) Start() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for kind, pool := range m.pools {
		if err := pool.Start(); err != nil {
			return fmt.Errorf("failed to start %s workers: %w", kind, err)
		}
	}
	m.logger.Info().Int("queues", len(m.pools)).Msg("Queue workers started")
	return nil
}

// Close stops admissions on every queue
func (m *Manager) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.queues {
		q.Close()
	}
}

// Stop closes admissions, then waits for in-flight jobs until ctx expires
func (m *Manager) Stop(ctx context.Context) error {
	m.Close()

	m.mu.RLock()
	pools := make([]*WorkerPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	var errs []error
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range pools {
		wg.Add(1)
		go func(p *WorkerPool) {
			defer wg.Done()
			if err := p.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}
