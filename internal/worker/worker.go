// Package worker implements the crawl job execution loop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/themewatch/themewatch/internal/crawl"
	"github.com/themewatch/themewatch/internal/metrics"
	"github.com/themewatch/themewatch/internal/themes"
)

// Worker consumes crawl jobs and drives the walker one page at a time.
// When a step continues a run, the follow-up page goes back on the queue,
// so any worker in the pool can pick it up.
type Worker struct {
	queue  themes.Queue
	walker *crawl.Walker
	policy crawl.RetryPolicy
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue themes.Queue, walker *crawl.Walker, policy crawl.RetryPolicy, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = crawl.NewExponentialRetryPolicy(0)
	}
	return &Worker{
		queue:  queue,
		walker: walker,
		policy: policy,
		logger: logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job themes.CrawlJob) {
	metrics.WorkerActive(1)
	defer metrics.WorkerActive(-1)

	w.logger.Debug("processing crawl job",
		zap.String("kind", string(job.Kind)),
		zap.Int("page", job.Page),
		zap.Int("attempt", job.Attempt),
	)

	res, err := w.walker.Step(ctx, job.Kind, job.Page)
	if err != nil {
		w.handleFailure(ctx, job, err)
		return
	}
	if !res.Continues {
		return
	}
	next := themes.CrawlJob{Kind: job.Kind, Page: res.NextPage}
	if err := w.queue.Enqueue(ctx, next); err != nil {
		// The run stays marked running; the scheduler's stale-run
		// recovery will restart it.
		w.logger.Error("enqueue next page failed",
			zap.String("kind", string(job.Kind)),
			zap.Int("page", res.NextPage),
			zap.Error(err),
		)
	}
}

func (w *Worker) handleFailure(ctx context.Context, job themes.CrawlJob, stepErr error) {
	if !w.policy.ShouldRetry(stepErr, job.Attempt) {
		w.logger.Error("crawl job abandoned",
			zap.String("kind", string(job.Kind)),
			zap.Int("page", job.Page),
			zap.Int("attempt", job.Attempt),
			zap.Error(stepErr),
		)
		return
	}

	backoff := w.policy.Backoff(job.Attempt)
	w.logger.Warn("crawl job failed, requeueing",
		zap.String("kind", string(job.Kind)),
		zap.Int("page", job.Page),
		zap.Int("attempt", job.Attempt),
		zap.Duration("backoff", backoff),
		zap.Error(stepErr),
	)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	retry := themes.CrawlJob{Kind: job.Kind, Page: job.Page, Attempt: job.Attempt + 1}
	if err := w.queue.Enqueue(ctx, retry); err != nil {
		w.logger.Error("requeue failed",
			zap.String("kind", string(job.Kind)),
			zap.Int("page", job.Page),
			zap.Error(err),
		)
	}
}
