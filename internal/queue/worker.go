package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
)

// JobHandler processes one job and returns its result
type JobHandler func(ctx context.Context, job *models.Job) (interface{}, error)

// WorkerPool runs the workers of one queue
type WorkerPool struct {
	queue    *BadgerQueue
	handlers map[string]JobHandler
	mu       sync.RWMutex
	logger   arbor.ILogger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// NewWorkerPool creates a worker pool for queue
func NewWorkerPool(queue *BadgerQueue, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:    queue,
		handlers: make(map[string]JobHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers the handler for a job name
func (wp *WorkerPool) RegisterHandler(jobName string, handler JobHandler) {
	wp.mu.Lock()
	wp.handlers[jobName] = handler
	wp.mu.Unlock()

	wp.logger.Debug().
		Str("queue", wp.queue.Name()).
		Str("job_name", jobName).
		Msg("Job handler registered")
}

// Start starts the workers
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool for %s already started", wp.queue.Name())
	}
	wp.started = true

	concurrency := wp.queue.config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	wp.logger.Info().
		Str("queue", wp.queue.Name()).
		Int("concurrency", concurrency).
		Msg("Starting worker pool")

	for i := 0; i < concurrency; i++ {
		wp.wg.Add(1)
		workerID := i
		go wp.worker(workerID)
	}

	return nil
}

// Stop stops claiming new jobs and waits for in-flight jobs until ctx expires
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.logger.Info().Str("queue", wp.queue.Name()).Msg("Stopping worker pool")
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Debug().Str("queue", wp.queue.Name()).Msg("Worker pool stopped")
		return nil
	case <-ctx.Done():
		wp.logger.Warn().Str("queue", wp.queue.Name()).Msg("Worker pool stop timed out with jobs in flight")
		return ctx.Err()
	}
}

// worker is the main worker loop. Each tick drains every ready job.
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()
	defer common.RecoverGoroutine(wp.logger, "queue-worker-"+wp.queue.Name())

	wp.logger.Debug().
		Str("queue", wp.queue.Name()).
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(wp.queue.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Str("queue", wp.queue.Name()).
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			for wp.ctx.Err() == nil {
				err := wp.processJob(workerID)
				if errors.Is(err, ErrNoJob) {
					break
				}
				if err != nil {
					wp.logger.Warn().
						Err(err).
						Str("queue", wp.queue.Name()).
						Int("worker_id", workerID).
						Msg("Error processing job")
					break
				}
			}
		}
	}
}

// processJob claims and runs a single job
func (wp *WorkerPool) processJob(workerID int) error {
	job, err := wp.queue.Claim(wp.ctx)
	if err != nil {
		return err
	}

	wp.logger.Debug().
		Str("queue", wp.queue.Name()).
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Int("attempt", job.AttemptsMade+1).
		Int("worker_id", workerID).
		Msg("Processing job")

	wp.mu.RLock()
	handler, exists := wp.handlers[job.Name]
	wp.mu.RUnlock()

	if !exists {
		wp.logger.Error().
			Str("queue", wp.queue.Name()).
			Str("job_id", job.ID).
			Str("job_name", job.Name).
			Msg("No handler registered for job name")
		cause := &models.TaskError{Message: "no handler registered for job " + job.Name}
		if _, ferr := wp.queue.Fail(wp.ctx, job.ID, cause); ferr != nil {
			return ferr
		}
		return nil
	}

	// In-flight jobs are never cancelled by Stop; they run to completion
	jobCtx := context.WithoutCancel(wp.ctx)
	jobCtx = WithJob(jobCtx, job)
	jobCtx = WithProgress(jobCtx, func(progress int) {
		if err := wp.queue.UpdateProgress(jobCtx, job.ID, progress); err != nil {
			wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to update job progress")
		}
	})

	stopRenew := wp.renewLock(jobCtx, job.ID)
	startTime := time.Now()
	result, handlerErr := wp.runHandler(jobCtx, handler, job)
	duration := time.Since(startTime)
	stopRenew()

	if handlerErr != nil {
		retrying, err := wp.queue.Fail(jobCtx, job.ID, handlerErr)
		if err != nil {
			return err
		}

		wp.logger.Error().
			Err(handlerErr).
			Str("queue", wp.queue.Name()).
			Str("job_id", job.ID).
			Str("job_name", job.Name).
			Str("error_kind", string(models.KindOf(handlerErr))).
			Bool("retrying", retrying).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")
		return nil
	}

	if err := wp.queue.Complete(jobCtx, job.ID, result); err != nil {
		return err
	}

	wp.logger.Info().
		Str("queue", wp.queue.Name()).
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed successfully")

	return nil
}

// runHandler converts a handler panic into a job failure
func (wp *WorkerPool) runHandler(ctx context.Context, handler JobHandler, job *models.Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Str("job_id", job.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.StackTrace()).
				Msg("Job handler panicked")
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// renewLock extends the job lock at half its duration until the returned func is called
func (wp *WorkerPool) renewLock(ctx context.Context, jobID string) func() {
	lock := wp.queue.config.LockDuration
	if lock <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(lock / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := wp.queue.Extend(ctx, jobID, lock); err != nil {
					wp.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to renew job lock")
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
