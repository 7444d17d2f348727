// Package crawl implements the crawl orchestration and ingestion pipeline:
// scheduling decisions, page continuation and reconciliation of raw API
// records against the store.
package crawl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/themewatch/themewatch/internal/metrics"
	"github.com/themewatch/themewatch/internal/themes"
)

// bootstrapBackdate is how far in the past a never-persisted crawl state
// is dated, so the first scheduling check always starts a run.
const bootstrapBackdate = 10 * 365 * 24 * time.Hour

// SchedulerConfig carries per-kind cooldowns and the stale-run threshold.
type SchedulerConfig struct {
	Cooldowns map[themes.CrawlKind]time.Duration

	// StaleAfter is the age past which a run still marked running is
	// considered abandoned (crashed worker, lost message) and may be
	// restarted. Zero disables the recovery.
	StaleAfter time.Duration
}

// Scheduler decides, per crawl kind, whether a new run should start, and
// enqueues the first unit of work when it does.
type Scheduler struct {
	store  themes.Store
	queue  themes.Queue
	clock  themes.Clock
	cfg    SchedulerConfig
	logger *zap.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(
	store themes.Store,
	queue themes.Queue,
	clock themes.Clock,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:  store,
		queue:  queue,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// MaybeStart starts a new run of the given kind when the previous run is
// finished and its cooldown has elapsed. The first check after a fresh
// deployment always starts a run. Returns whether a run was started.
func (s *Scheduler) MaybeStart(ctx context.Context, kind themes.CrawlKind) (bool, error) {
	state, found, err := s.store.CrawlState(ctx, kind)
	if err != nil {
		return false, fmt.Errorf("load crawl state %s: %w", kind, err)
	}
	now := s.clock.Now()
	if !found {
		state = themes.CrawlState{
			Kind:      kind,
			Status:    themes.CrawlFinished,
			StartedAt: now.Add(-bootstrapBackdate),
		}
	}

	elapsed := now.Sub(state.StartedAt)
	switch state.Status {
	case themes.CrawlFinished:
		if cooldown := s.cfg.Cooldowns[kind]; elapsed < cooldown {
			s.logger.Debug("cooldown not elapsed",
				zap.String("kind", string(kind)),
				zap.Duration("elapsed", elapsed),
				zap.Duration("cooldown", cooldown),
			)
			return false, nil
		}
	case themes.CrawlRunning:
		if s.cfg.StaleAfter <= 0 || elapsed < s.cfg.StaleAfter {
			s.logger.Info("crawl already running", zap.String("kind", string(kind)))
			return false, nil
		}
		s.logger.Warn("restarting abandoned crawl",
			zap.String("kind", string(kind)),
			zap.Duration("age", elapsed),
		)
	}

	state.Kind = kind
	state.Status = themes.CrawlRunning
	state.StartedAt = now
	state.CurrentPage = 1
	if err := s.store.SaveCrawlState(ctx, state); err != nil {
		return false, fmt.Errorf("save crawl state %s: %w", kind, err)
	}

	if err := s.queue.Enqueue(ctx, themes.CrawlJob{Kind: kind, Page: 1}); err != nil {
		return false, fmt.Errorf("enqueue first page %s: %w", kind, err)
	}

	metrics.ObserveRunStarted(string(kind))
	s.logger.Info("started crawl run", zap.String("kind", string(kind)))
	return true, nil
}

// RunPeriodic checks all crawl kinds on a fixed interval until the
// context finishes. Scheduling errors are logged, never fatal.
func (s *Scheduler) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, kind := range themes.Kinds {
				if _, err := s.MaybeStart(ctx, kind); err != nil {
					s.logger.Error("scheduling check failed",
						zap.String("kind", string(kind)),
						zap.Error(err),
					)
				}
			}
		}
	}
}
