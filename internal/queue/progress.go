package queue

import (
	"context"

	"github.com/ternarybob/outreach/internal/models"
)

type progressKey struct{}
type jobKey struct{}

// ProgressFunc receives progress updates (0-100) from a running job
type ProgressFunc func(progress int)

// WithProgress attaches a progress reporter to ctx
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress forwards progress to the reporter in ctx, if any.
// Executors call it without knowing whether they run under a queue.
func ReportProgress(ctx context.Context, progress int) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		fn(progress)
	}
}

// WithJob attaches the running job to ctx
func WithJob(ctx context.Context, job *models.Job) context.Context {
	return context.WithValue(ctx, jobKey{}, job)
}

// JobFromContext returns the running job, if any
func JobFromContext(ctx context.Context) (*models.Job, bool) {
	job, ok := ctx.Value(jobKey{}).(*models.Job)
	return job, ok && job != nil
}
