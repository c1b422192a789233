package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

var (
	// ErrNoJob is returned by Claim when nothing is ready
	ErrNoJob = errors.New("no job ready")
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned by Add after Close
	ErrQueueClosed = errors.New("queue is closed")
)

const (
	maxPriority    = 1_000_000_000
	conflictRetry  = 5
	defaultWaitFor = 500 * time.Millisecond
)

// AddOptions control a single admission
type AddOptions struct {
	ID       string // Explicit id makes the admission idempotent
	Priority int    // Higher is served first
	Delay    time.Duration
	Attempts int
	Backoff  models.Backoff
}

// BulkEntry is one item of a bulk admission. Index is the position in the
// caller's request and drives the stagger.
type BulkEntry struct {
	Index    int
	ID       string
	Name     string
	Data     interface{}
	Attempts int
}

// BulkResult reports the admission of one bulk entry
type BulkResult struct {
	Index   int
	Job     *models.Job
	Created bool
	Err     error
}

// StaggeredOptions spreads bulk items: item i waits i*stagger and ranks below item i-1
func StaggeredOptions(index int, stagger time.Duration) AddOptions {
	return AddOptions{
		Priority: -index,
		Delay:    time.Duration(index) * stagger,
	}
}

// BadgerQueue is a durable priority job queue stored in Badger.
//
// Key layout (all under "queue:{name}:"):
//
//	job:{id}                                  job record (JSON)
//	waiting:{invPriority}:{readyAt}:{id}      ready to claim, priority first then FIFO
//	delayed:{readyAt}:{id}                    not ready until readyAt
//	active:{lockedUntil}:{id}                 claimed, reclaimed when the lock expires
//	completed:{finishedAt}:{id}               retained history
//	failed:{finishedAt}:{id}                  retained history
//
// The index key of a job is derived from its state, so every transition
// deletes the old index entry and writes the new one in one transaction.
type BadgerQueue struct {
	db     *badger.DB
	name   string
	config Config
	events interfaces.EventService
	logger arbor.ILogger
	closed atomic.Bool
	now    func() time.Time
}

// NewBadgerQueue creates a queue named name on db. events may be nil.
func NewBadgerQueue(db *badger.DB, name string, config Config, events interfaces.EventService, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db is required")
	}
	if strings.TrimSpace(name) == "" || strings.Contains(name, ":") {
		return nil, fmt.Errorf("invalid queue name %q", name)
	}

	return &BadgerQueue{
		db:     db,
		name:   name,
		config: config,
		events: events,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Name returns the queue name
func (q *BadgerQueue) Name() string {
	return q.name
}

// Add admits a job. When opts.ID names an existing job, that job is returned
// with created=false and nothing is written.
func (q *BadgerQueue) Add(ctx context.Context, name string, data interface{}, opts AddOptions) (*models.Job, bool, error) {
	if q.closed.Load() {
		return nil, false, ErrQueueClosed
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode job data: %w", err)
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	if strings.Contains(id, ":") {
		return nil, false, fmt.Errorf("invalid job id %q", id)
	}

	backoff := opts.Backoff
	if backoff.Delay <= 0 {
		backoff = q.config.Backoff
	}

	now := q.now()
	job := &models.Job{
		ID:    id,
		Queue: q.name,
		Name:  name,
		Data:  payload,
		Options: models.JobOptions{
			Priority: clampPriority(opts.Priority),
			Delay:    opts.Delay,
			Attempts: opts.Attempts,
			Backoff:  backoff,
		},
		State:     models.JobWaiting,
		CreatedAt: now,
		ReadyAt:   now,
	}
	if opts.Delay > 0 {
		job.State = models.JobDelayed
		job.ReadyAt = now.Add(opts.Delay)
	}

	created := true
	err = q.update(func(txn *badger.Txn) error {
		existing, err := q.getJob(txn, id)
		if err == nil {
			job = existing
			created = false
			return nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return err
		}
		if err := q.putJob(txn, job); err != nil {
			return err
		}
		return txn.Set(q.indexKey(job), []byte(job.ID))
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to add job: %w", err)
	}

	if created {
		q.logger.Debug().
			Str("queue", q.name).
			Str("job_id", job.ID).
			Str("job_name", name).
			Int("priority", job.Options.Priority).
			Dur("delay", opts.Delay).
			Msg("Job added")
		q.publish(ctx, models.JobEvent{Type: models.JobEventAdded, JobID: job.ID, State: job.State})
	} else {
		q.logger.Debug().
			Str("queue", q.name).
			Str("job_id", job.ID).
			Str("state", string(job.State)).
			Msg("Job already admitted")
	}

	return job, created, nil
}

// AddBulk admits entries in order with a per-index stagger. Each entry
// succeeds or fails independently.
func (q *BadgerQueue) AddBulk(ctx context.Context, entries []BulkEntry, stagger time.Duration) []BulkResult {
	results := make([]BulkResult, 0, len(entries))
	for _, e := range entries {
		opts := StaggeredOptions(e.Index, stagger)
		opts.ID = e.ID
		opts.Attempts = e.Attempts
		job, created, err := q.Add(ctx, e.Name, e.Data, opts)
		results = append(results, BulkResult{Index: e.Index, Job: job, Created: created, Err: err})
	}
	return results
}

// Claim promotes due delayed jobs, reclaims expired locks and takes the best
// waiting job. It returns ErrNoJob when nothing is ready.
func (q *BadgerQueue) Claim(ctx context.Context) (*models.Job, error) {
	var (
		claimed *models.Job
		stalled []string
	)
	now := q.now()

	err := q.update(func(txn *badger.Txn) error {
		claimed = nil
		var err error
		if stalled, err = q.promote(txn, now); err != nil {
			return err
		}

		prefix := q.statePrefix(models.JobWaiting)
		for {
			key, ok := firstKey(txn, prefix)
			if !ok {
				// Promotions still commit
				return nil
			}
			job, err := q.getJob(txn, idFromKey(key))
			if errors.Is(err, ErrJobNotFound) {
				// Dangling index entry
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			if err := q.transition(txn, job, func() {
				processed := now
				lock := now.Add(q.config.LockDuration)
				job.State = models.JobActive
				job.ProcessedAt = &processed
				job.LockedUntil = &lock
			}); err != nil {
				return err
			}
			claimed = job
			return nil
		}
	})

	for _, id := range stalled {
		q.logger.Warn().Str("queue", q.name).Str("job_id", id).Msg("Job lock expired, returned to waiting")
		q.publish(ctx, models.JobEvent{Type: models.JobEventStalled, JobID: id, State: models.JobWaiting})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if claimed == nil {
		return nil, ErrNoJob
	}

	q.publish(ctx, models.JobEvent{Type: models.JobEventActive, JobID: claimed.ID, State: models.JobActive})
	return claimed, nil
}

// promote moves due delayed jobs and expired active jobs to waiting.
// Returns the ids of reclaimed active jobs.
func (q *BadgerQueue) promote(txn *badger.Txn, now time.Time) ([]string, error) {
	due := keysBefore(txn, q.statePrefix(models.JobDelayed), now)
	for _, key := range due {
		if err := q.requeue(txn, key, now); err != nil {
			return nil, err
		}
	}

	expired := keysBefore(txn, q.statePrefix(models.JobActive), now)
	stalled := make([]string, 0, len(expired))
	for _, key := range expired {
		if err := q.requeue(txn, key, now); err != nil {
			return nil, err
		}
		stalled = append(stalled, idFromKey(key))
	}
	return stalled, nil
}

func (q *BadgerQueue) requeue(txn *badger.Txn, key []byte, now time.Time) error {
	job, err := q.getJob(txn, idFromKey(key))
	if errors.Is(err, ErrJobNotFound) {
		return txn.Delete(key)
	}
	if err != nil {
		return err
	}
	return q.transition(txn, job, func() {
		job.State = models.JobWaiting
		job.LockedUntil = nil
		if job.ReadyAt.After(now) {
			job.ReadyAt = now
		}
	})
}

// Complete marks an active job completed and trims completed history
func (q *BadgerQueue) Complete(ctx context.Context, id string, result interface{}) error {
	var value json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode job result: %w", err)
		}
		value = b
	}

	var cleaned int
	err := q.update(func(txn *badger.Txn) error {
		job, err := q.getJob(txn, id)
		if err != nil {
			return err
		}
		if job.State != models.JobActive {
			return fmt.Errorf("job %s is %s, not active", id, job.State)
		}
		now := q.now()
		if err := q.transition(txn, job, func() {
			job.State = models.JobCompleted
			job.FinishedAt = &now
			job.LockedUntil = nil
			job.Progress = 100
			job.ReturnValue = value
		}); err != nil {
			return err
		}
		cleaned, err = q.trim(txn, models.JobCompleted, q.config.KeepCompleted)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	q.publish(ctx, models.JobEvent{Type: models.JobEventCompleted, JobID: id, State: models.JobCompleted, Progress: 100})
	if cleaned > 0 {
		q.publish(ctx, models.JobEvent{Type: models.JobEventCleaned, State: models.JobCompleted, Count: cleaned})
	}
	return nil
}

// Fail records a failed attempt. The job is re-delayed with backoff while it
// has attempts left and the error is retryable, otherwise it moves to failed.
func (q *BadgerQueue) Fail(ctx context.Context, id string, cause error) (bool, error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}

	var (
		retrying bool
		cleaned  int
		readyAt  time.Time
	)
	err := q.update(func(txn *badger.Txn) error {
		retrying = false
		job, err := q.getJob(txn, id)
		if err != nil {
			return err
		}
		if job.State != models.JobActive {
			return fmt.Errorf("job %s is %s, not active", id, job.State)
		}

		now := q.now()
		attempts := job.AttemptsMade + 1
		retryable := models.IsRetryable(cause)
		retrying = retryable && attempts < job.Options.MaxAttempts()

		if err := q.transition(txn, job, func() {
			job.AttemptsMade = attempts
			job.FailedReason = cause.Error()
			job.FailureKind = models.KindOf(cause)
			job.Retryable = retryable
			job.LockedUntil = nil
			if retrying {
				job.State = models.JobDelayed
				job.ReadyAt = now.Add(job.Options.BackoffFor(attempts))
				readyAt = job.ReadyAt
			} else {
				job.State = models.JobFailed
				job.FinishedAt = &now
			}
		}); err != nil {
			return err
		}

		if !retrying {
			cleaned, err = q.trim(txn, models.JobFailed, q.config.KeepFailed)
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to record job failure: %w", err)
	}

	if retrying {
		q.logger.Debug().Str("queue", q.name).Str("job_id", id).Str("ready_at", readyAt.Format(time.RFC3339)).Msg("Job scheduled for retry")
		q.publish(ctx, models.JobEvent{Type: models.JobEventRetrying, JobID: id, State: models.JobDelayed, Reason: cause.Error()})
	} else {
		q.publish(ctx, models.JobEvent{Type: models.JobEventFailed, JobID: id, State: models.JobFailed, Reason: cause.Error()})
	}
	if cleaned > 0 {
		q.publish(ctx, models.JobEvent{Type: models.JobEventCleaned, State: models.JobFailed, Count: cleaned})
	}
	return retrying, nil
}

// Extend renews the lock of an active job
func (q *BadgerQueue) Extend(ctx context.Context, id string, d time.Duration) error {
	return q.update(func(txn *badger.Txn) error {
		job, err := q.getJob(txn, id)
		if err != nil {
			return err
		}
		if job.State != models.JobActive {
			return fmt.Errorf("job %s is %s, not active", id, job.State)
		}
		lock := q.now().Add(d)
		return q.transition(txn, job, func() {
			job.LockedUntil = &lock
		})
	})
}

// UpdateProgress stores the progress (0-100) of a job
func (q *BadgerQueue) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	err := q.update(func(txn *badger.Txn) error {
		job, err := q.getJob(txn, id)
		if err != nil {
			return err
		}
		job.Progress = progress
		return q.putJob(txn, job)
	})
	if err != nil {
		return err
	}

	q.publish(ctx, models.JobEvent{Type: models.JobEventProgress, JobID: id, State: models.JobActive, Progress: progress})
	return nil
}

// GetJob returns a job by id
func (q *BadgerQueue) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := q.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = q.getJob(txn, id)
		return err
	})
	return job, err
}

// GetJobs lists jobs in state, in index order
func (q *BadgerQueue) GetJobs(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	jobs := make([]*models.Job, 0)
	err := q.db.View(func(txn *badger.Txn) error {
		for _, key := range prefixKeys(txn, q.statePrefix(state)) {
			job, err := q.getJob(txn, idFromKey(key))
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", state, err)
	}
	return jobs, nil
}

// Counts returns the number of jobs per state
func (q *BadgerQueue) Counts(ctx context.Context) (models.JobCounts, error) {
	var counts models.JobCounts
	err := q.db.View(func(txn *badger.Txn) error {
		for _, state := range models.JobStates {
			counts.Add(state, countPrefix(txn, q.statePrefix(state)))
		}
		return nil
	})
	return counts, err
}

// Clean removes every job in the given states and returns how many were removed
func (q *BadgerQueue) Clean(ctx context.Context, states ...models.JobState) (int, error) {
	removed := 0
	for _, state := range states {
		n, err := q.cleanState(state)
		if err != nil {
			return removed, fmt.Errorf("failed to clean %s jobs: %w", state, err)
		}
		removed += n
		if n > 0 {
			q.logger.Info().Str("queue", q.name).Str("state", string(state)).Int("count", n).Msg("Jobs cleaned")
			q.publish(ctx, models.JobEvent{Type: models.JobEventCleaned, State: state, Count: n})
		}
	}
	return removed, nil
}

func (q *BadgerQueue) cleanState(state models.JobState) (int, error) {
	removed := 0
	err := q.update(func(txn *badger.Txn) error {
		removed = 0
		for _, key := range prefixKeys(txn, q.statePrefix(state)) {
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete(q.jobKey(idFromKey(key))); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Remove deletes a job regardless of state
func (q *BadgerQueue) Remove(ctx context.Context, id string) error {
	return q.update(func(txn *badger.Txn) error {
		job, err := q.getJob(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(q.indexKey(job)); err != nil {
			return err
		}
		return txn.Delete(q.jobKey(id))
	})
}

// WaitForJob polls until the job completes or fails
func (q *BadgerQueue) WaitForJob(ctx context.Context, id string, poll time.Duration) (*models.Job, error) {
	if poll <= 0 {
		poll = defaultWaitFor
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.State == models.JobCompleted || job.State == models.JobFailed {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsReady reports whether the queue accepts and serves jobs
func (q *BadgerQueue) IsReady() error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if q.db.IsClosed() {
		return fmt.Errorf("queue %s: database is closed", q.name)
	}
	return nil
}

// Close stops admissions. Claims and completions keep working so in-flight
// jobs can finish.
func (q *BadgerQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		q.logger.Debug().Str("queue", q.name).Msg("Queue closed for admission")
	}
}

// transition rewrites the index entry around a state change
func (q *BadgerQueue) transition(txn *badger.Txn, job *models.Job, mutate func()) error {
	if err := txn.Delete(q.indexKey(job)); err != nil {
		return err
	}
	mutate()
	if err := q.putJob(txn, job); err != nil {
		return err
	}
	return txn.Set(q.indexKey(job), []byte(job.ID))
}

// trim deletes the oldest jobs in state beyond keep
func (q *BadgerQueue) trim(txn *badger.Txn, state models.JobState, keep int) (int, error) {
	if keep < 0 {
		return 0, nil
	}
	keys := prefixKeys(txn, q.statePrefix(state))
	excess := len(keys) - keep
	for i := 0; i < excess; i++ {
		if err := txn.Delete(keys[i]); err != nil {
			return i, err
		}
		if err := txn.Delete(q.jobKey(idFromKey(keys[i]))); err != nil {
			return i, err
		}
	}
	if excess < 0 {
		return 0, nil
	}
	return excess, nil
}

func (q *BadgerQueue) getJob(txn *badger.Txn, id string) (*models.Job, error) {
	item, err := txn.Get(q.jobKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *BadgerQueue) putJob(txn *badger.Txn, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	return txn.Set(q.jobKey(job.ID), data)
}

// update runs fn in a read-write transaction, retrying on write conflicts
func (q *BadgerQueue) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < conflictRetry; i++ {
		err = q.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (q *BadgerQueue) publish(ctx context.Context, event models.JobEvent) {
	if q.events == nil {
		return
	}
	event.Queue = q.name
	event.Timestamp = q.now()
	if err := q.events.Publish(ctx, event); err != nil {
		q.logger.Warn().Err(err).Str("queue", q.name).Str("event_type", string(event.Type)).Msg("Failed to publish job event")
	}
}

func (q *BadgerQueue) jobKey(id string) []byte {
	return []byte("queue:" + q.name + ":job:" + id)
}

func (q *BadgerQueue) statePrefix(state models.JobState) []byte {
	return []byte("queue:" + q.name + ":" + string(state) + ":")
}

func (q *BadgerQueue) indexKey(job *models.Job) []byte {
	prefix := string(q.statePrefix(job.State))
	switch job.State {
	case models.JobWaiting:
		inv := int64(math.MaxInt32) - int64(job.Options.Priority)
		return []byte(fmt.Sprintf("%s%020d:%020d:%s", prefix, inv, job.ReadyAt.UnixNano(), job.ID))
	case models.JobDelayed:
		return []byte(fmt.Sprintf("%s%020d:%s", prefix, job.ReadyAt.UnixNano(), job.ID))
	case models.JobActive:
		return []byte(fmt.Sprintf("%s%020d:%s", prefix, stamp(job.LockedUntil), job.ID))
	default:
		return []byte(fmt.Sprintf("%s%020d:%s", prefix, stamp(job.FinishedAt), job.ID))
	}
}

func stamp(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

func clampPriority(p int) int {
	if p > maxPriority {
		return maxPriority
	}
	if p < -maxPriority {
		return -maxPriority
	}
	return p
}

// idFromKey returns the trailing id segment of an index key. Job ids never contain ':'.
func idFromKey(key []byte) string {
	s := string(key)
	return s[strings.LastIndex(s, ":")+1:]
}

// timeFromKey returns the first timestamp segment after prefix
func timeFromKey(key, prefix []byte) int64 {
	rest := string(key[len(prefix):])
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	n, _ := strconv.ParseInt(rest, 10, 64)
	return n
}

func keyIterator(txn *badger.Txn, prefix []byte) *badger.Iterator {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	return txn.NewIterator(opts)
}

func firstKey(txn *badger.Txn, prefix []byte) ([]byte, bool) {
	it := keyIterator(txn, prefix)
	defer it.Close()
	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return nil, false
	}
	return it.Item().KeyCopy(nil), true
}

func prefixKeys(txn *badger.Txn, prefix []byte) [][]byte {
	it := keyIterator(txn, prefix)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	it := keyIterator(txn, prefix)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

// keysBefore collects keys in a timestamp-ordered prefix whose stamp is <= now
func keysBefore(txn *badger.Txn, prefix []byte, now time.Time) [][]byte {
	it := keyIterator(txn, prefix)
	defer it.Close()

	limit := now.UnixNano()
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		if timeFromKey(key, prefix) > limit {
			break
		}
		keys = append(keys, key)
	}
	return keys
}
