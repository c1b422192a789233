package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/services/pacing"
)

// Handler runs one trigger
type Handler func(ctx context.Context) error

// JobStatus describes a registered trigger
type JobStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	IsRunning   bool       `json:"isRunning"`
	LastError   string     `json:"lastError,omitempty"`
	Skipped     int        `json:"skipped"`
}

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     Handler
	cronID      cron.EntryID
	running     atomic.Bool // Non-reentrancy guard; a trigger that finds it set is skipped
	lastRun     *time.Time
	lastError   string
	skipped     int
}

// Service fires registered handlers on cron schedules, never running one handler twice at once
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jitter  time.Duration
	sleeper pacing.Sleeper

	rngMu sync.Mutex
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobMu   sync.Mutex // Protects jobs map and entry bookkeeping
	jobs    map[string]*jobEntry
	running bool
	stopped bool // set once by Stop; later triggers are dropped
}

// Option configures the scheduler
type Option func(*Service)

// WithJitter delays every trigger by a random duration up to d
func WithJitter(d time.Duration) Option {
	return func(s *Service) { s.jitter = d }
}

// WithSleeper replaces the sleeper used for jitter
func WithSleeper(sleeper pacing.Sleeper) Option {
	return func(s *Service) { s.sleeper = sleeper }
}

// WithRand seeds the jitter
func WithRand(rng *rand.Rand) Option {
	return func(s *Service) { s.rng = rng }
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cron:    cron.New(),
		logger:  logger,
		sleeper: pacing.RealSleeper{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*jobEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterJob adds a handler fired on schedule
func (s *Service) RegisterJob(name, schedule, description string, handler Handler) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
	}
	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}
	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")
	return nil
}

// Start begins firing triggers
func (s *Service) Start() error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop stops firing triggers and waits for running handlers until ctx expires.
// Handlers still in their jitter wait are abandoned; handlers already dispatching finish.
func (s *Service) Stop(ctx context.Context) error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.stopped = true
	s.jobMu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Scheduler stop timed out with handlers running")
		return ctx.Err()
	}
}

// TriggerJob fires name now, outside its schedule
func (s *Service) TriggerJob(name string) error {
	s.jobMu.Lock()
	_, exists := s.jobs[name]
	stopped := s.stopped
	s.jobMu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if stopped {
		return fmt.Errorf("scheduler stopped, job %s not triggered", name)
	}

	common.SafeGo(s.logger, "scheduler-"+name, func() {
		s.executeJob(name)
	})
	return nil
}

// GetJobStatus returns the status of one job
func (s *Service) GetJobStatus(name string) (*JobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}

	var nextRun *time.Time
	if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
		nextRun = &next
	}

	return &JobStatus{
		Name:        entry.name,
		Schedule:    entry.schedule,
		Description: entry.description,
		LastRun:     entry.lastRun,
		NextRun:     nextRun,
		IsRunning:   entry.running.Load(),
		LastError:   entry.lastError,
		Skipped:     entry.skipped,
	}, nil
}

// GetAllJobStatuses returns every job status ordered by name
func (s *Service) GetAllJobStatuses() []*JobStatus {
	s.jobMu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.jobMu.Unlock()
	sort.Strings(names)

	statuses := make([]*JobStatus, 0, len(names))
	for _, name := range names {
		if status, err := s.GetJobStatus(name); err == nil {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// executeJob runs the handler of name unless a previous run is still in progress.
// It reports whether the handler ran.
func (s *Service) executeJob(name string) bool {
	// Admission and wg.Add share jobMu with Stop, so Stop never waits on a
	// group that can still grow
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return false
	}
	if s.stopped {
		s.jobMu.Unlock()
		s.logger.Debug().Str("job_name", name).Msg("Scheduler stopped, trigger dropped")
		return false
	}
	if !entry.running.CompareAndSwap(false, true) {
		entry.skipped++
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Previous run still in progress, trigger skipped")
		return false
	}
	s.wg.Add(1)
	s.jobMu.Unlock()

	defer s.wg.Done()
	defer entry.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.StackTrace()).
				Msg("PANIC RECOVERED in job execution")
			s.jobMu.Lock()
			entry.lastError = fmt.Sprintf("panic: %v", r)
			s.jobMu.Unlock()
		}
	}()

	if delay := s.pickJitter(); delay > 0 {
		s.logger.Debug().Str("job_name", name).Dur("jitter", delay).Msg("Delaying trigger")
		if err := s.sleeper.Sleep(s.ctx, delay); err != nil {
			s.logger.Debug().Str("job_name", name).Msg("Trigger abandoned during jitter")
			return false
		}
	}

	s.logger.Info().Str("job_name", name).Msg("Job execution started")
	start := time.Now()

	// Stop does not cancel a running handler
	err := entry.handler(context.WithoutCancel(s.ctx))

	finished := time.Now()
	s.jobMu.Lock()
	entry.lastRun = &finished
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", finished.Sub(start)).
			Msg("Job execution failed")
	} else {
		s.logger.Info().
			Str("job_name", name).
			Dur("duration", finished.Sub(start)).
			Msg("Job execution completed")
	}
	return true
}

func (s *Service) pickJitter() time.Duration {
	if s.jitter <= 0 {
		return 0
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return time.Duration(s.rng.Int63n(int64(s.jitter)))
}
