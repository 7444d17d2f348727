package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/themewatch/themewatch/internal/metrics"
	"github.com/themewatch/themewatch/internal/themes"
	"github.com/themewatch/themewatch/internal/wpapi"
)

// Fetcher is the slice of the upstream client the walker needs.
type Fetcher interface {
	FetchInfoPage(ctx context.Context, page int) (*wpapi.ThemesPage, error)
	FetchStatsPage(ctx context.Context, page int) (*wpapi.ThemesPage, error)
	FetchTags(ctx context.Context) (*wpapi.TagList, error)
}

// StepResult reports whether a crawl run continues past the processed
// page, and with which page when it does.
type StepResult struct {
	Continues bool
	NextPage  int
}

// Walker processes one page of a crawl run at a time: fetch, archive the
// raw body, ingest, then either advance the run or finish it. A Step is
// idempotent, so redelivered jobs are safe to replay.
type Walker struct {
	fetcher  Fetcher
	ingestor *Ingestor
	store    themes.Store
	archiver themes.Archiver
	clock    themes.Clock
	logger   *zap.Logger
}

// NewWalker constructs a Walker.
func NewWalker(
	fetcher Fetcher,
	ingestor *Ingestor,
	store themes.Store,
	archiver themes.Archiver,
	clock themes.Clock,
	logger *zap.Logger,
) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		fetcher:  fetcher,
		ingestor: ingestor,
		store:    store,
		archiver: archiver,
		clock:    clock,
		logger:   logger,
	}
}

// Step processes page n of a run of the given kind. Fetch or ingest
// failures leave the run state untouched so the job can be redelivered.
// The tags kind has no pagination and always finishes in one step.
func (w *Walker) Step(ctx context.Context, kind themes.CrawlKind, page int) (StepResult, error) {
	var res StepResult
	var err error
	switch kind {
	case themes.CrawlTags:
		res, err = w.stepTags(ctx)
	case themes.CrawlInfo, themes.CrawlStats:
		res, err = w.stepThemes(ctx, kind, page)
	default:
		return StepResult{}, fmt.Errorf("unknown crawl kind %q", kind)
	}
	if err != nil {
		metrics.ObservePage(string(kind), "error")
		return StepResult{}, err
	}
	metrics.ObservePage(string(kind), "ok")
	return res, nil
}

func (w *Walker) stepThemes(ctx context.Context, kind themes.CrawlKind, page int) (StepResult, error) {
	var (
		resp *wpapi.ThemesPage
		err  error
	)
	if kind == themes.CrawlStats {
		resp, err = w.fetcher.FetchStatsPage(ctx, page)
	} else {
		resp, err = w.fetcher.FetchInfoPage(ctx, page)
	}
	if err != nil {
		return StepResult{}, fmt.Errorf("fetch %s page %d: %w", kind, page, err)
	}

	w.archive(ctx, kind, page, resp.Raw)

	if kind == themes.CrawlStats {
		err = w.ingestor.IngestStatsPage(ctx, resp.Themes)
	} else {
		err = w.ingestor.IngestInfoPage(ctx, resp.Themes)
	}
	if err != nil {
		return StepResult{}, fmt.Errorf("ingest %s page %d: %w", kind, page, err)
	}

	if page >= resp.Info.Pages {
		if err := w.finishRun(ctx, kind, page); err != nil {
			return StepResult{}, err
		}
		w.logger.Info("crawl run finished",
			zap.String("kind", string(kind)),
			zap.Int("pages", page),
		)
		return StepResult{Continues: false}, nil
	}

	next := page + 1
	if err := w.advanceRun(ctx, kind, next); err != nil {
		return StepResult{}, err
	}
	w.logger.Debug("crawl page done",
		zap.String("kind", string(kind)),
		zap.Int("page", page),
		zap.Int("pages", resp.Info.Pages),
	)
	return StepResult{Continues: true, NextPage: next}, nil
}

func (w *Walker) stepTags(ctx context.Context) (StepResult, error) {
	resp, err := w.fetcher.FetchTags(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("fetch tags: %w", err)
	}

	w.archive(ctx, themes.CrawlTags, 1, resp.Raw)

	if err := w.ingestor.IngestTags(ctx, resp.Tags); err != nil {
		return StepResult{}, fmt.Errorf("ingest tags: %w", err)
	}
	if err := w.finishRun(ctx, themes.CrawlTags, 1); err != nil {
		return StepResult{}, err
	}
	w.logger.Info("crawl run finished", zap.String("kind", string(themes.CrawlTags)))
	return StepResult{Continues: false}, nil
}

// archive stores the raw response body. Failures are logged and ignored:
// the archive is a byproduct, never a reason to fail a page.
func (w *Walker) archive(ctx context.Context, kind themes.CrawlKind, page int, raw []byte) {
	if w.archiver == nil || len(raw) == 0 {
		return
	}
	path := fmt.Sprintf("%s/%s/page-%04d.json",
		kind, w.clock.Now().UTC().Format("2006-01-02"), page)
	uri, err := w.archiver.Archive(ctx, path, raw)
	if err != nil {
		w.logger.Warn("archiving raw response failed",
			zap.String("kind", string(kind)),
			zap.Int("page", page),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("archived raw response", zap.String("uri", uri))
}

func (w *Walker) advanceRun(ctx context.Context, kind themes.CrawlKind, nextPage int) error {
	state, found, err := w.store.CrawlState(ctx, kind)
	if err != nil {
		return fmt.Errorf("load crawl state %s: %w", kind, err)
	}
	if !found {
		state = themes.CrawlState{Kind: kind, StartedAt: w.clock.Now()}
	}
	state.Status = themes.CrawlRunning
	state.CurrentPage = nextPage
	if err := w.store.SaveCrawlState(ctx, state); err != nil {
		return fmt.Errorf("save crawl state %s: %w", kind, err)
	}
	return nil
}

func (w *Walker) finishRun(ctx context.Context, kind themes.CrawlKind, lastPage int) error {
	state, found, err := w.store.CrawlState(ctx, kind)
	if err != nil {
		return fmt.Errorf("load crawl state %s: %w", kind, err)
	}
	if !found {
		state = themes.CrawlState{Kind: kind, StartedAt: w.clock.Now()}
	}
	state.Status = themes.CrawlFinished
	state.CurrentPage = lastPage
	if err := w.store.SaveCrawlState(ctx, state); err != nil {
		return fmt.Errorf("save crawl state %s: %w", kind, err)
	}
	return nil
}

// Run walks an entire run of the given kind in-process, page by page,
// without going back through the queue. Used when pagination_mode is
// "loop". Resumes from the persisted current page of a running state.
func (w *Walker) Run(ctx context.Context, kind themes.CrawlKind) error {
	page := 1
	if state, found, err := w.store.CrawlState(ctx, kind); err != nil {
		return fmt.Errorf("load crawl state %s: %w", kind, err)
	} else if found && state.Status == themes.CrawlRunning && state.CurrentPage > 0 {
		page = state.CurrentPage
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := w.Step(ctx, kind, page)
		if err != nil {
			return err
		}
		if !res.Continues {
			return nil
		}
		page = res.NextPage
	}
}
